package searcher

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// treePlayout runs one descend / expand / back-propagate cycle from the
// session root and returns the path length.
func (e *Evaluator) treePlayout() int {
	current := e.root
	if current == nil || current.IsTerminal() {
		panic("treePlayout requires a non-terminal root")
	}

	var path []pathElement

	for {
		if current == nil {
			panic("descended into a nil node")
		}

		// End of the road.
		if current.IsFinalised {
			path = append(path, pathElement{current, nil, nil, int(current.NumChildrenExpanded)})
			break
		}

		var child *Child
		for {
			child = e.selectChild(current, &path)
			if child != nil {
				break
			}

			e.scheduler.Yield()
		}

		if child.ToNode == nil {
			current = e.expandChild(current, child)

			// A single-child node is passed straight through; there is
			// nothing to select there.
			if current.IsFinalised || current.NumChildren() > 1 {
				path = append(path, pathElement{current, nil, nil, int(current.NumChildrenExpanded)})
				break
			}
		}

		current.InflightVisits++
		current = child.ToNode
	}

	leaf := path[len(path)-1].node
	if leaf.IsFinalised {
		e.stats.PlayoutsFinals++
	}

	scores := make([]float32, e.sm.RoleCount())
	for ri := range scores {
		scores[ri] = leaf.CurrentScore(ri)
	}

	e.backPropagate(scores, path)

	e.stats.NumTreePlayouts++
	return len(path)
}

// converged holds when the top child leads the second by more than count
// visits and also carries the better score.
func (e *Evaluator) converged(count int) bool {
	children := SortedChildren(e.root, false)

	if len(children) < 2 {
		return true
	}

	n0 := children[0].ToNode
	n1 := children[1].ToNode

	if n0 != nil && n1 != nil {
		roleIndex := e.root.leadScoreRole()

		if n0.CurrentScore(roleIndex) > n1.CurrentScore(roleIndex) &&
			n0.Visits > n1.Visits+uint32(count) {
			return true
		}
	}

	return false
}

func (e *Evaluator) recordPlayoutDepth(depth int) {
	if depth > e.stats.PlayoutsMaxDepth {
		e.stats.PlayoutsMaxDepth = depth
	}
	e.stats.PlayoutsTotalDepth += depth
}

// playoutWorker is the loop each cooperative worker task runs.
func (e *Evaluator) playoutWorker() {
	for e.doPlayouts {
		if e.root.IsFinalised {
			break
		}

		e.recordPlayoutDepth(e.treePlayout())
	}
}

func (e *Evaluator) reportProgress() {
	best := e.chooseTopVisits(e.root)
	if best == nil || best.ToNode == nil {
		return
	}

	ourRoleIndex := e.root.leadScoreRole()
	choice := best.Move.Get(ourRoleIndex)
	log.Info().Msgf("Evals %d/%d/%d, depth %.2f/%d, n/t: %d/%d, best: %.4f, move: %s",
		e.stats.NumEvaluations, e.stats.NumTreePlayouts, e.stats.PlayoutsFinals,
		e.stats.averageDepth(), e.stats.PlayoutsMaxDepth,
		e.numberOfNodes, e.stats.NumTranspositionsAttached,
		best.ToNode.CurrentScore(ourRoleIndex),
		e.sm.MoveString(ourRoleIndex, choice))
}

// playoutLoop is the synchronous single-worker driver. It runs until the
// evaluation budget plus convergence allows a stop, the convergence
// multiplier is exhausted, or the deadline passes.
func (e *Evaluator) playoutLoop(maxEvaluations int, deadline time.Time) {
	maxIterations := math.MaxInt
	if maxEvaluations >= 0 {
		maxIterations = maxEvaluations * 2
	}

	startTime := time.Now()

	var nextReportTime time.Time
	if e.conf.MatchMode || e.conf.Verbose {
		nextReportTime = startTime.Add(reportInterval)
	}

	iterations := 0
	for iterations < maxIterations {
		if maxEvaluations > 0 && e.stats.NumEvaluations > maxEvaluations {
			if e.converged(8) {
				break
			}

			maxConvergenceEvaluations := int(float64(maxEvaluations) *
				float64(e.conf.EvaluationMultiplierToConvergence))
			if e.stats.NumEvaluations > maxConvergenceEvaluations {
				break
			}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		e.recordPlayoutDepth(e.treePlayout())
		iterations++

		if !nextReportTime.IsZero() && time.Now().After(nextReportTime) {
			nextReportTime = time.Now().Add(reportInterval)
			e.reportProgress()
		}
	}

	if e.conf.Verbose {
		if iterations > 0 {
			log.Info().Msgf("Time taken for %d/%d evaluations/iterations in %.3f seconds",
				e.stats.NumEvaluations, iterations, time.Since(startTime).Seconds())

			log.Debug().Msgf("The average depth explored: %.2f, max depth: %d",
				e.stats.averageDepth(), e.stats.PlayoutsMaxDepth)
		} else {
			log.Debug().Msg("Did no iterations.")
		}
	}
}

const reportInterval = 2500 * time.Millisecond

// playoutMain is the cooperative driver task: it playouts alongside the
// workers, enforcing the deadline and the think-time stopping ladder
// (converge relaxed at 1.0x, non-relaxed at 1.33x, hard stop at 1.75x).
func (e *Evaluator) playoutMain(deadline time.Time) {
	startTime := time.Now()
	if e.conf.Verbose {
		log.Debug().Msgf("enter playoutMain() with think time %s", e.conf.ThinkTime)
	}

	useThinkTime := e.conf.ThinkTime > 0

	elapsed := func(multiplier float64) bool {
		cutoff := time.Duration(float64(e.conf.ThinkTime) * multiplier)
		return time.Since(startTime) > cutoff
	}

	nextReportTime := startTime.Add(reportInterval)
	doReport := func() bool {
		if !e.conf.Verbose {
			return false
		}

		if time.Now().After(nextReportTime) {
			nextReportTime = time.Now().Add(reportInterval)
			return true
		}

		return false
	}

	report := func(msg string) {
		if doReport() {
			log.Warn().Msg(msg)
		}
	}

	iterations := 0
	for {
		if e.root.IsFinalised && iterations > 1000 {
			report("Breaking early as finalised")
			break
		}

		if e.playoutBudget > 0 && e.stats.NumEvaluations > e.playoutBudget {
			if e.converged(8) {
				report("Breaking on evaluation budget (converged)")
				break
			}

			maxConvergenceEvaluations := int(float64(e.playoutBudget) *
				float64(e.conf.EvaluationMultiplierToConvergence))
			if e.stats.NumEvaluations > maxConvergenceEvaluations {
				report("Breaking on evaluation budget")
				break
			}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			report("Hit hard time limit")
			break
		}

		if useThinkTime && iterations%20 == 0 && time.Since(startTime) > 250*time.Millisecond {
			if elapsed(1.0) && e.converged(e.conf.ConvergeRelaxed) {
				report("Breaking since converged (relaxed)")
				break
			}

			if elapsed(1.33) && e.converged(e.conf.ConvergeNonRelaxed) {
				report("Breaking since converged (non-relaxed)")
				break
			}

			if elapsed(1.75) {
				report("Breaking - but never converged :(")
				break
			}
		}

		e.recordPlayoutDepth(e.treePlayout())
		iterations++

		if doReport() {
			e.reportProgress()
		}
	}

	if e.conf.Verbose {
		if e.stats.NumTreePlayouts > 0 {
			log.Info().Msgf("Time taken for %d evaluations in %.3f seconds",
				e.stats.NumEvaluations, time.Since(startTime).Seconds())

			log.Debug().Msgf("The average depth explored: %.2f, max depth: %d",
				e.stats.averageDepth(), e.stats.PlayoutsMaxDepth)
		} else {
			log.Debug().Msg("Did no tree playouts.")
		}

		if e.stats.NumBlocked > 0 {
			log.Warn().Msgf("Number of blockages %d", e.stats.NumBlocked)
		}
	}
}
