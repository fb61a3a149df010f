package searcher

import (
	"puct/game"
	"puct/nn"
)

// nodeRequest bundles one non-finalised node into an evaluation request.
type nodeRequest struct {
	node *Node
}

// ToChannels collects up to NumPrevStates ancestor states and writes the
// network input for this node's position.
func (r *nodeRequest) ToChannels(t nn.Transformer, out []float32) {
	var prev []game.BaseState
	cur := r.node.Parent
	for i := 0; i < t.NumPrevStates() && cur != nil; i++ {
		prev = append(prev, cur.BaseState)
		cur = cur.Parent
	}

	t.ToChannels(r.node.BaseState, prev, out)
}

// Reply maps the network output onto the node: child priors floored at
// 0.001 and normalised, and per-role scores clamped to [0, 1]. With three
// reward heads the shared draw head contributes half to each role.
func (r *nodeRequest) Reply(result nn.ModelResult, t nn.Transformer) {
	node := r.node

	totalPrediction := float32(0)
	rawPolicy := result.Policy(node.leadScoreRole())
	for i := range node.Children {
		c := node.Child(i)

		p := rawPolicy[c.Move.Get(node.leadScoreRole())]
		if p < 0.001 {
			p = 0.001
		}
		c.PolicyProbOrig = p
		totalPrediction += p
	}

	// Cannot be zero given the per-child floor.
	if totalPrediction <= 0 {
		panic("zero total policy prediction")
	}

	for i := range node.Children {
		c := node.Child(i)
		c.PolicyProbOrig /= totalPrediction
		c.PolicyProb = c.PolicyProbOrig
	}

	for ri := 0; ri < t.NumPolicies(); ri++ {
		s := result.Reward(ri)
		if t.NumRewards() == 3 {
			s += result.Reward(2) / 2.0
		}

		if s > 1.0 {
			s = 1.0
		} else if s < 0.0 {
			s = 0.0
		}

		node.SetFinalScore(ri, s)
		node.SetCurrentScore(ri, s)
	}
}
