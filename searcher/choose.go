package searcher

import (
	"math"

	"github.com/rs/zerolog/log"
)

// Choose picks the final move from node (the root when nil) using the
// configured policy.
func (e *Evaluator) Choose(node *Node) *Child {
	switch e.conf.Choose {
	case ChooseTopVisits:
		return e.chooseTopVisits(node)
	case ChooseTemperature:
		return e.chooseTemperature(node)
	default:
		log.Warn().Msgf("unsupported choose policy %d - falling back to top visits", e.conf.Choose)
		return e.chooseTopVisits(node)
	}
}

// chooseTopVisits returns the most traversed child, with two overrides:
// a proven win is always taken, and a close runner-up with the better
// score wins the "best guess" comparison when the search has not cleanly
// converged.
func (e *Evaluator) chooseTopVisits(node *Node) *Child {
	if node == nil {
		node = e.root
	}

	if node == nil {
		return nil
	}

	roleIndex := node.leadScoreRole()

	children := SortedChildrenTraversals(node, false)

	// look for finalised first
	if node.IsFinalised && node.CurrentScore(roleIndex) > 1.0 {
		for _, c := range children {
			if c.ToNode != nil && c.ToNode.IsFinalised &&
				c.ToNode.CurrentScore(roleIndex) > 0.99 {
				return c
			}
		}
	}

	if e.conf.TopVisitsBestGuessConvergeRatio > 0 && len(children) >= 2 {
		n0 := children[0].ToNode
		n1 := children[1].ToNode

		if n0 != nil && n1 != nil {
			ratio := float64(e.conf.TopVisitsBestGuessConvergeRatio)
			if float64(children[1].Traversals) > float64(children[0].Traversals)*ratio &&
				n1.CurrentScore(roleIndex) > n0.CurrentScore(roleIndex) {
				return children[1]
			}
			return children[0]
		}
	}

	if len(children) == 0 {
		panic("chooseTopVisits on a node with no children")
	}

	return children[0]
}

// temperature returns the sampling temperature for the current game
// depth, or a negative value once the depth schedule has stopped.
func (e *Evaluator) temperature() float32 {
	if e.gameDepth >= e.conf.DepthTemperatureStop {
		return -1
	}

	if e.conf.Temperature <= 0 {
		panic("temperature sampling configured with a non-positive temperature")
	}

	multiplier := 1.0 + float32(e.gameDepth-e.conf.DepthTemperatureStart)*
		e.conf.DepthTemperatureIncrement

	if multiplier < 1.0 {
		multiplier = 1.0
	}

	t := e.conf.Temperature * multiplier
	if t > e.conf.DepthTemperatureMax {
		t = e.conf.DepthTemperatureMax
	}

	return t
}

// chooseTemperature samples a child from the visit distribution raised
// to the temperature. With few visits the distribution lingers on the
// policy priors, so sampling stays sensible right after expansion.
func (e *Evaluator) chooseTemperature(node *Node) *Child {
	if node == nil {
		node = e.root
	}

	temperature := e.temperature()
	if temperature < 0 {
		return e.chooseTopVisits(node)
	}

	useLinger := node.Visits < uint32(node.NumChildren())
	dist := e.Probabilities(node, temperature, useLinger)

	expectedProbability := e.rng.Float32() * e.conf.RandomScale

	if e.conf.Verbose {
		log.Debug().Msgf("temperature %.2f, expected_probability %.2f",
			temperature, expectedProbability)
	}

	seenProbability := float32(0)
	for _, c := range dist {
		seenProbability += c.NextProb
		if seenProbability > expectedProbability {
			return c
		}
	}

	return dist[len(dist)-1]
}

// Probabilities fills each child's NextProb with a smoothed, optionally
// linger-mixed visit share raised to temperature, normalised to sum to
// one, and returns the children sorted by visits, ties broken by NextProb.
func (e *Evaluator) Probabilities(node *Node, temperature float32, useLinger bool) []*Child {
	if node.NumChildren() == 0 {
		panic("probabilities on a node with no children")
	}

	// 0.1 per child keeps rarely visited moves from vanishing entirely.
	nodeVisits := float64(node.Visits) + 0.1*float64(node.NumChildren())

	const lingerPct = 0.1

	totalProbability := float64(0)
	for i := range node.Children {
		child := node.Child(i)

		childVisits := 0.1
		if child.ToNode != nil {
			childVisits = float64(child.Traversals) + 0.1
		}

		var p float64
		if useLinger {
			p = lingerPct*float64(child.PolicyProb) +
				(1-lingerPct)*(childVisits/nodeVisits)
		} else {
			p = childVisits / nodeVisits
		}

		p = math.Pow(p, float64(temperature))
		child.NextProb = float32(p)
		totalProbability += p
	}

	for i := range node.Children {
		child := node.Child(i)
		child.NextProb = float32(float64(child.NextProb) / totalProbability)
	}

	return SortedChildren(node, true)
}
