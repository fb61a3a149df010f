package searcher

import (
	"math"
)

// pathElement records one step of a descent so back-propagation can walk
// it leaf to root. best is the child whose node held the best actual
// score at selection time; numChildrenExpanded is the expansion count at
// that moment, consulted by the minimax decay.
type pathElement struct {
	node                *Node
	choice              *Child
	best                *Child
	numChildrenExpanded int
}

const cpuctBaseID = 19652.0

// setPuctConstant caches the exploration constant on the node and
// returns the best known child score, used to throttle end-game
// expansions.
func (e *Evaluator) setPuctConstant(node *Node, depth int) float32 {
	conf := e.conf

	base := conf.PuctConstant
	if depth == 0 {
		base = conf.PuctConstantRoot
	}

	if conf.PuctBeforeExpansions > 0 {
		required := conf.PuctBeforeExpansions
		if depth == 0 {
			required = conf.PuctBeforeRootExpansions
		}
		expanded := int(node.NumChildrenExpanded)
		if node.NumChildren() < expanded {
			expanded = node.NumChildren()
		}
		if expanded < required {
			base = conf.PuctConstantBefore
		} else {
			base = conf.PuctConstantAfter
		}
	}

	if conf.batched() {
		node.PuctConstant = base +
			float32(math.Log((1.0+float64(node.Visits)+cpuctBaseID)/cpuctBaseID))
	} else {
		node.PuctConstant = base
	}

	if node.Visits < uint32(conf.BatchSize) {
		return node.CurrentScore(node.leadScoreRole())
	}

	nodeBestScore := float32(-1)
	for i := range node.Children {
		c := node.Child(i)
		if c.ToNode != nil {
			if s := c.ToNode.CurrentScore(node.leadScoreRole()); s > nodeBestScore {
				nodeBestScore = s
			}
		}
	}

	return nodeBestScore
}

// selectChild picks the next child to descend using the PUCT score:
// value + c * prior * sqrt(parent visits + 1) / (traversals + 1 + inflight).
// Returns nil only
// when every child is unselectable; the caller then yields and retries.
func (e *Evaluator) selectChild(node *Node, path *[]pathElement) *Child {
	if node.IsTerminal() {
		panic("selectChild called on a terminal node")
	}

	depth := len(*path)
	conf := e.conf
	leadRole := node.leadScoreRole()

	nodeBestScore := e.setPuctConstant(node, depth)

	// Nothing to select.
	if node.NumChildren() == 1 {
		child := node.Child(0)
		*path = append(*path, pathElement{node, child, child, int(node.NumChildrenExpanded)})
		return child
	}

	noise := e.dirichletNoise(node, depth)
	doNoise := noise != nil

	squash := depth == 0 && e.policySquashActive()

	// First-play urgency: the value assumed for unvisited children starts
	// from the network's own estimate and shrinks as more of the policy
	// mass has been visited.
	priorScore := float64(node.FinalScore(leadRole))

	fpuDiscount := conf.FpuPriorDiscount
	if depth == 0 && conf.FpuPriorDiscountRoot >= 0 {
		fpuDiscount = conf.FpuPriorDiscountRoot
	}

	if !doNoise && fpuDiscount > 0 {
		totalPolicyVisited := float64(0)
		for i := range node.Children {
			c := node.Child(i)
			if c.ToNode != nil && c.Traversals > 0 {
				totalPolicyVisited += float64(c.PolicyProb)
			}
		}

		priorScore -= float64(fpuDiscount) * math.Sqrt(totalPolicyVisited)
	}

	sqrtNodeVisits := math.Sqrt(float64(node.Visits) + 1)

	allowExpansions := true
	if conf.batched() && depth > 0 {
		if node.Visits < uint32(conf.ExpandThresholdVisits) || nodeBestScore > 0.98 {
			nonFinalExpansions := 0
			for i := range node.Children {
				c := node.Child(i)
				if c.ToNode != nil && !c.ToNode.IsFinalised {
					s := c.ToNode.CurrentScore(leadRole)
					if s > 0.98 || s < 0.02 {
						nonFinalExpansions++
					}
				}
			}

			if nonFinalExpansions >= conf.NumberOfExpansionsEndGame {
				allowExpansions = false
			}
		}
	}

	bestScore := float64(-1)
	var bestChild *Child

	bestChildActualScore := float64(-1)
	var bestChildScore *Child

	var badFallback *Child

	unselectables := 0
	for i := range node.Children {
		c := node.Child(i)

		if c.Unselectable {
			unselectables++
			continue

		} else if c.ToNode != nil && c.ToNode.NumChildren() > 0 &&
			int(c.ToNode.UnselectableCount) == c.ToNode.NumChildren() {
			unselectables++
			continue
		}

		if c.ToNode == nil && !allowExpansions {
			continue
		}

		childScore := priorScore
		traversals := float64(c.Traversals + 1)

		inflight := float64(0)
		if c.ToNode != nil {
			inflight = float64(c.ToNode.InflightVisits)
		}

		childPct := float64(c.PolicyProb)
		if squash && childPct > float64(conf.NoisePolicySquashPct) {
			childPct = float64(conf.NoisePolicySquashPct)
		}

		if doNoise {
			noisePct := float64(conf.DirichletNoisePct)
			childPct = (1.0-noisePct)*childPct + noisePct*float64(noise[i])
		}

		explorationScore := childPct * sqrtNodeVisits / (traversals + inflight)
		explorationScore *= float64(node.PuctConstant)

		if c.ToNode != nil {
			cn := c.ToNode
			childScore = float64(cn.CurrentScore(leadRole))

			// Finalised results are enforced harder than network scores;
			// the network can claim 1.0 for dumb moves when it thinks it
			// wins regardless.
			if cn.IsFinalised {
				if childScore > 0.99 {
					if depth > 0 {
						*path = append(*path, pathElement{node, c, c, int(node.NumChildrenExpanded)})
						return c
					}

					childScore *= 1.0 + float64(node.PuctConstant)

				} else if childScore < 0.01 {
					// A proven loss: ignore unless there is no other option.
					badFallback = c
					continue

				} else {
					explorationScore = 0
				}
			}

			if childScore > bestChildActualScore {
				bestChildActualScore = childScore
				bestChildScore = c
			}
		}

		// Discount the score under heavy inflight traffic so parallel
		// descents diverge.
		if conf.batched() && inflight > 0 && c.Traversals > 16 {
			discountedVisits := inflight * (e.rng.Float64() + 0.25)
			if discountedVisits > 0.1 {
				childScore = (childScore * float64(c.Traversals)) /
					(float64(c.Traversals) + discountedVisits)
			}
		}

		c.DebugNodeScore = float32(childScore)
		c.DebugPuctScore = float32(explorationScore)

		score := childScore + explorationScore

		if score > bestScore {
			bestChild = c
			bestScore = score
		}
	}

	// Fallback order: best known child, then a proven loss, then nothing
	// (the caller yields).
	if bestChild == nil {
		if bestChildScore != nil {
			bestChild = bestChildScore

		} else if badFallback != nil {
			if unselectables > 0 {
				e.scheduler.Yield()
			}

			bestChild = badFallback

		} else {
			e.stats.NumBlocked++
		}
	}

	if bestChildScore == nil {
		bestChildScore = bestChild
	}

	if bestChild != nil {
		*path = append(*path, pathElement{node, bestChild, bestChildScore, int(node.NumChildrenExpanded)})
	}

	return bestChild
}
