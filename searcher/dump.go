package searcher

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

func scoreString(node *Node, roleCount int, final bool) string {
	parts := make([]string, roleCount)
	for ri := 0; ri < roleCount; ri++ {
		if final {
			parts[ri] = fmt.Sprintf("%.2f", node.FinalScore(ri))
		} else {
			parts[ri] = fmt.Sprintf("%.2f", node.CurrentScore(ri))
		}
	}

	return "(" + strings.Join(parts, " ") + ")"
}

func finalisedString(child *Child) string {
	switch {
	case child.ToNode == nil:
		return "?"
	case child.ToNode.ForceTerminal:
		return "Z"
	case child.ToNode.IsTerminal():
		return "T"
	case child.ToNode.IsFinalised:
		return "F"
	default:
		return "*"
	}
}

// DumpNode logs one node and its children, one line per child, with the
// highlighted child at info level.
func (e *Evaluator) DumpNode(node *Node, highlight *Child, indent string, sortByNextProbability bool) {
	roleCount := e.sm.RoleCount()

	finalisedTop := "."
	if node.IsTerminal() {
		finalisedTop = "[Terminal]"
	} else if node.IsFinalised {
		finalisedTop = "[Final]"
	}

	log.Debug().Msgf("%s(%d) :: %s / #childs %d / %s / Depth: %d, Lead : %d / PUCT %.2f",
		indent, node.Visits, scoreString(node, roleCount, true),
		node.NumChildren(), finalisedTop, node.GameDepth,
		node.LeadRoleIndex, node.PuctConstant)

	var children []*Child
	if sortByNextProbability {
		children = SortedChildren(node, true)
	} else {
		children = SortedChildren(node, false)
	}

	for _, child := range children {
		score := "(----, ----)"
		visits := uint32(0)
		if child.ToNode != nil {
			score = scoreString(child.ToNode, roleCount, false)
			visits = child.ToNode.Visits
		}

		msg := fmt.Sprintf("%s %s %d(%d):%s %.2f/%.2f/%.2f   %s   %.3f/%.3f/%.3f",
			indent, MoveString(child.Move, e.sm),
			child.Traversals, int64(visits)-int64(child.Traversals),
			finalisedString(child),
			child.PolicyProbOrig*100, child.PolicyProb*100, child.NextProb*100,
			score,
			child.DebugNodeScore, child.DebugPuctScore,
			child.DebugNodeScore+child.DebugPuctScore)

		if child == highlight {
			log.Info().Msg(msg)
		} else {
			log.Debug().Msg(msg)
		}
	}
}

// logDebug dumps the tree along the top-visits line, down to the
// configured dump depth.
func (e *Evaluator) logDebug(choiceRoot *Child) {
	cur := e.root
	for ii := 0; ii < e.conf.MaxDumpDepth; ii++ {
		var indent strings.Builder
		for jj := ii - 1; jj >= 0; jj-- {
			if jj > 0 {
				indent.WriteString("    ")
			} else {
				indent.WriteString(".   ")
			}
		}

		var nextChoice *Child
		if cur.NumChildren() > 0 {
			if cur == e.root {
				nextChoice = choiceRoot
			} else {
				nextChoice = e.chooseTopVisits(cur)
			}
		}

		sortByNextProbability := cur == e.root && e.conf.Choose == ChooseTemperature

		// recompute next_prob for display
		if cur.NumChildren() > 0 && cur.Visits > 0 {
			e.Probabilities(cur, 1.2, cur.Visits < uint32(cur.NumChildren()))
		}

		e.DumpNode(cur, nextChoice, indent.String(), sortByNextProbability)

		if nextChoice == nil || nextChoice.ToNode == nil {
			break
		}

		cur = nextChoice.ToNode
	}
}
