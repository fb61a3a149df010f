package searcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectNodes(node *Node, out *[]*Node) {
	*out = append(*out, node)
	for i := range node.Children {
		if c := node.Child(i); c.ToNode != nil {
			collectNodes(c.ToNode, out)
		}
	}
}

func totalVisits(root *Node) uint64 {
	var nodes []*Node
	collectNodes(root, &nodes)

	total := uint64(0)
	for _, n := range nodes {
		total += uint64(n.Visits)
	}
	return total
}

func TestBackPropagateVisits(t *testing.T) {
	e, _ := newTestEvaluator(branchGame(), DefaultConfig(), 1)
	e.EstablishRoot(nil)

	// Every back-propagation increments exactly path-length visits.
	for i := 0; i < 10; i++ {
		before := totalVisits(e.Root())
		depth := e.treePlayout()
		require.Equal(t, before+uint64(depth), totalVisits(e.Root()),
			"visits incremented must equal the path length")
	}
}

func TestForcedFinalisation(t *testing.T) {
	t.Run("a winning finalised child proves the parent", func(t *testing.T) {
		e, _ := newTestEvaluator(winLossGame(), DefaultConfig(), 1)
		e.EstablishRoot(nil)

		e.treePlayout()

		root := e.Root()
		require.True(t, root.IsFinalised,
			"the winning terminal child short-circuits forced finalisation")
		require.InDelta(t, 1.05, root.CurrentScore(0), 1e-5,
			"the child's sharpened score is copied up")
		require.InDelta(t, -0.05, root.CurrentScore(1), 1e-5)
	})

	t.Run("all children finalised takes the lead role's best", func(t *testing.T) {
		e, _ := newTestEvaluator(triGame(), DefaultConfig(), 1)
		e.EstablishRoot(nil)

		// One playout per child; the third back-propagation sees every
		// child finalised and finalises the root. The fourth playout only
		// revisits the finalised root.
		for i := 0; i < 4; i++ {
			e.treePlayout()
		}

		root := e.Root()
		require.True(t, root.IsFinalised)
		require.InDelta(t, 0.5, root.CurrentScore(0), 1e-5)
		require.InDelta(t, 0.5, root.CurrentScore(1), 1e-5)
	})
}

func TestFinalisedScoresPropagateUnchanged(t *testing.T) {
	e, _ := newTestEvaluator(chainGame(), DefaultConfig(), 1)
	e.EstablishRoot(nil)

	e.OnNextMove(10, time.Time{})

	// The terminal win flows up the single-legal chain untouched.
	node := e.Root()
	for node != nil {
		if node.IsFinalised {
			require.InDelta(t, 1.05, node.CurrentScore(0), 1e-5)
			require.InDelta(t, -0.05, node.CurrentScore(1), 1e-5)
		}
		if node.NumChildren() == 0 {
			break
		}
		node = node.Child(0).ToNode
	}
}

func TestBackUpMiniMax(t *testing.T) {
	conf := DefaultConfig()
	conf.BatchSize = 2
	conf.MinimaxBackupRatio = 0.5
	conf.MinimaxThresholdVisits = 100
	e, _ := newTestEvaluator(branchGame(), conf, 1)

	bestNode := &Node{currentScores: []float32{1.0, 0.0}}
	node := &Node{
		Visits:        10,
		LeadRoleIndex: 0,
		currentScores: []float32{0.5, 0.5},
		Children:      make([]Child, 2),
	}
	node.Children[0].ToNode = bestNode
	best := node.Child(0)
	choice := node.Child(1)

	t.Run("mixes at the configured ratio while children remain", func(t *testing.T) {
		scores := []float32{0.2, 0.8}
		e.backUpMiniMax(scores, &pathElement{node, choice, best, 1})

		require.InDelta(t, 0.6, scores[0], 1e-5, "0.5*1.0 + 0.5*0.2")
		require.InDelta(t, 0.4, scores[1], 1e-5, "0.5*0.0 + 0.5*0.8")
	})

	t.Run("decays once every child is expanded", func(t *testing.T) {
		scores := []float32{0.2, 0.8}
		e.backUpMiniMax(scores, &pathElement{node, choice, best, 2})

		// ratio 0.5 decayed by visits/threshold = 10/100
		require.InDelta(t, 0.45*1.0+0.55*0.2, scores[0], 1e-5)
		require.InDelta(t, 0.45*0.0+0.55*0.8, scores[1], 1e-5)
	})

	t.Run("no mix when the choice was already the best", func(t *testing.T) {
		scores := []float32{0.2, 0.8}
		e.backUpMiniMax(scores, &pathElement{node, best, best, 1})

		require.Equal(t, float32(0.2), scores[0])
		require.Equal(t, float32(0.8), scores[1])
	})
}
