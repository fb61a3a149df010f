package searcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"puct/game"
)

func TestNewNode(t *testing.T) {
	t.Run("non-terminal node carries the legal cross product", func(t *testing.T) {
		g := winLossGame()

		node := NewNode(g.InitialState(), g)

		require.False(t, node.IsFinalised, "a non-terminal node should not be finalised")
		require.Equal(t, 2, node.NumChildren(), "role 0 has two legals, role 1 one")
		require.Equal(t, 0, node.LeadRoleIndex, "role 0 has the most legal moves")
		require.Equal(t, game.JointMove{0, 0}, node.Child(0).Move)
		require.Equal(t, game.JointMove{1, 0}, node.Child(1).Move)
	})

	t.Run("simultaneous moves have no lead role", func(t *testing.T) {
		g := &tableGame{
			roles:   2,
			initial: 0,
			states: map[byte]*tableState{
				0: noopState([][]int{{0, 1}, {0, 1}}, nil),
			},
		}

		node := NewNode(g.InitialState(), g)

		require.Equal(t, LeadRoleIndexSimultaneous, node.LeadRoleIndex,
			"both roles have a real choice")
		require.Equal(t, 4, node.NumChildren(), "cross product of 2x2 legals")
		require.Equal(t, game.JointMove{0, 0}, node.Child(0).Move)
		require.Equal(t, game.JointMove{0, 1}, node.Child(1).Move)
		require.Equal(t, game.JointMove{1, 0}, node.Child(2).Move)
		require.Equal(t, game.JointMove{1, 1}, node.Child(3).Move)
	})

	t.Run("terminal node takes goal values over 100", func(t *testing.T) {
		g := winLossGame()

		node := NewNode(game.BaseState{1}, g)

		require.True(t, node.IsFinalised)
		require.True(t, node.IsTerminal())
		require.Equal(t, 0, node.NumChildren())
		require.InDelta(t, 1.0, node.CurrentScore(0), 1e-6)
		require.InDelta(t, 0.0, node.CurrentScore(1), 1e-6)
		require.InDelta(t, 1.0, node.FinalScore(0), 1e-6)
	})

	t.Run("children are born with unit priors and no destination", func(t *testing.T) {
		g := winLossGame()

		node := NewNode(g.InitialState(), g)

		for i := 0; i < node.NumChildren(); i++ {
			c := node.Child(i)
			require.Nil(t, c.ToNode)
			require.False(t, c.Unselectable)
			require.Equal(t, float32(1.0), c.PolicyProbOrig)
			require.Equal(t, float32(1.0), c.PolicyProb)
		}
	})
}

func TestSortedChildren(t *testing.T) {
	node := &Node{Children: make([]Child, 3)}
	node.Children[0].PolicyProb = 0.2
	node.Children[1].PolicyProb = 0.5
	node.Children[2].PolicyProb = 0.3
	node.Children[2].ToNode = &Node{Visits: 7}

	children := SortedChildren(node, false)

	require.Equal(t, node.Child(2), children[0], "most visited child sorts first")
	require.Equal(t, node.Child(1), children[1], "ties break on policy probability")
	require.Equal(t, node.Child(0), children[2])
}

func TestSortedChildrenTraversals(t *testing.T) {
	node := &Node{Children: make([]Child, 3)}
	node.Children[0].Traversals = 2
	node.Children[1].Traversals = 9
	node.Children[2].Traversals = 2
	node.Children[2].PolicyProb = 0.9

	children := SortedChildrenTraversals(node, false)

	require.Equal(t, node.Child(1), children[0])
	require.Equal(t, node.Child(2), children[1], "ties break on policy probability")
	require.Equal(t, node.Child(0), children[2])
}
