// Package searcher implements a network-guided PUCT search over a
// game.StateMachine: a tree of evaluated positions, a selection policy
// with Dirichlet root noise and first-play urgency, back-propagation with
// forced finalisation, and root move-choice policies.
package searcher

import (
	"fmt"

	"golang.org/x/exp/slices"

	"puct/game"
)

// LeadRoleIndexSimultaneous marks nodes where more than one role has a
// real choice, so no single role owns the child edges.
const LeadRoleIndexSimultaneous = -1

// Child is one edge out of a Node. Children are stored inline in the
// parent so a selection sweep touches one contiguous block.
type Child struct {
	Move   game.JointMove
	ToNode *Node

	// Unselectable is set while the child's node is being created; other
	// descents skip it until the evaluation reply lands.
	Unselectable bool

	// Traversals counts descents through this edge. It differs from
	// ToNode.Visits when transpositions share the node.
	Traversals uint32

	// PolicyProbOrig is the normalised network prior; PolicyProb may
	// additionally carry noise mixing. They are equal at birth.
	PolicyProbOrig float32
	PolicyProb     float32

	DirichletNoise float32

	// NextProb is scratch space for temperature sampling and dumps.
	NextProb float32

	DebugNodeScore float32
	DebugPuctScore float32
}

// Node is one reached game state. Scores are per role: CurrentScore is
// the running visit-weighted estimate, FinalScore the value as reported
// by the network (or the terminal goal / 100).
type Node struct {
	BaseState game.BaseState
	Parent    *Node

	Visits uint32

	// InflightVisits counts descents through this node that have not yet
	// been backed up. Only the cooperative batched search uses it.
	InflightVisits uint16

	// RefCount is the number of child slots referencing this node; the
	// transposition variant frees a node when it reaches zero.
	RefCount uint16

	UnselectableCount   uint16
	NumChildrenExpanded uint16

	// IsFinalised means the scores are known with certainty: terminal,
	// proven by forced finalisation, or set by the repeat-state rule.
	// ForceTerminal marks the repeat-state case specifically.
	IsFinalised   bool
	ForceTerminal bool

	LeadRoleIndex int
	GameDepth     int

	PuctConstant float32

	currentScores []float32
	finalScores   []float32

	Children []Child

	allocatedSize int
}

func (n *Node) IsTerminal() bool {
	return len(n.Children) == 0
}

func (n *Node) NumChildren() int {
	return len(n.Children)
}

func (n *Node) Child(i int) *Child {
	return &n.Children[i]
}

func (n *Node) CurrentScore(role int) float32 {
	return n.currentScores[role]
}

func (n *Node) SetCurrentScore(role int, score float32) {
	n.currentScores[role] = score
}

func (n *Node) FinalScore(role int) float32 {
	return n.finalScores[role]
}

func (n *Node) SetFinalScore(role int, score float32) {
	n.finalScores[role] = score
}

// leadScoreRole is the role whose score drives selection at this node.
// Simultaneous nodes fall back to role 0.
func (n *Node) leadScoreRole() int {
	if n.LeadRoleIndex < 0 {
		return 0
	}
	return n.LeadRoleIndex
}

// Nominal per-record sizes used for memory accounting. The exact Go heap
// layout varies; these track the same quantities the create/remove
// bookkeeping checks against.
const (
	nodeOverheadBytes  = 96
	childOverheadBytes = 64
)

func nodeSize(roleCount, stateBytes, numChildren int) int {
	return nodeOverheadBytes + 2*4*roleCount + stateBytes +
		numChildren*(childOverheadBytes+2*roleCount)
}

// NewNode queries the state machine at bs and builds a node with one
// child per element of the cross product of the per-role legal moves.
// The caller must not assume the machine's position afterwards.
func NewNode(bs game.BaseState, sm game.StateMachine) *Node {
	roleCount := sm.RoleCount()
	sm.UpdateBases(bs)

	leadRoleIndex := 0
	isFinalised := true
	totalChildren := 0

	var legals [][]int
	if !sm.IsTerminal() {
		isFinalised = false
		totalChildren = 1

		legals = make([][]int, roleCount)
		maxMovesForARole := 1
		for ri := 0; ri < roleCount; ri++ {
			legals[ri] = sm.LegalMoves(ri)
			if len(legals[ri]) == 0 {
				panic(fmt.Sprintf("role %d has no legal moves in a non-terminal state", ri))
			}
			totalChildren *= len(legals[ri])
			if len(legals[ri]) > maxMovesForARole {
				maxMovesForARole = len(legals[ri])
				leadRoleIndex = ri
			}
		}

		if maxMovesForARole > 1 {
			restOne := true
			for ri := 0; ri < roleCount; ri++ {
				if ri != leadRoleIndex && len(legals[ri]) > 1 {
					restOne = false
				}
			}

			if !restOne {
				leadRoleIndex = LeadRoleIndexSimultaneous
			}
		}
	}

	node := &Node{
		BaseState:     bs.Clone(),
		RefCount:      1,
		IsFinalised:   isFinalised,
		LeadRoleIndex: leadRoleIndex,
		PuctConstant:  1.44,
		currentScores: make([]float32, roleCount),
		finalScores:   make([]float32, roleCount),
		Children:      make([]Child, totalChildren),
		allocatedSize: nodeSize(roleCount, len(bs), totalChildren),
	}

	if !node.IsFinalised {
		move := game.NewJointMove(roleCount)
		count := initialiseChildren(node, legals, 0, 0, move)
		if count != totalChildren {
			panic("child initialisation did not cover the legal cross product")
		}

	} else {
		for ri := 0; ri < roleCount; ri++ {
			score := float32(sm.GoalValue(ri)) / 100.0
			node.SetFinalScore(ri, score)
			node.SetCurrentScore(ri, score)
		}
	}

	return node
}

func initialiseChildren(node *Node, legals [][]int, roleIndex, childIndex int, move game.JointMove) int {
	finalRole := roleIndex == len(legals)-1

	for _, choice := range legals[roleIndex] {
		move.Set(roleIndex, choice)

		if finalRole {
			child := node.Child(childIndex)
			childIndex++

			child.Move = move.Clone()
			child.PolicyProbOrig = 1.0
			child.PolicyProb = 1.0

		} else {
			childIndex = initialiseChildren(node, legals, roleIndex+1, childIndex, move)
		}
	}

	return childIndex
}

func childVisits(c *Child) uint32 {
	if c.ToNode == nil {
		return 0
	}
	return c.ToNode.Visits
}

// SortedChildren orders children by destination visits, breaking ties by
// policy probability (or next probability when byNextProb is set).
func SortedChildren(node *Node, byNextProb bool) []*Child {
	children := make([]*Child, node.NumChildren())
	for i := range node.Children {
		children[i] = node.Child(i)
	}

	slices.SortStableFunc(children, func(a, b *Child) int {
		va, vb := childVisits(a), childVisits(b)
		if va != vb {
			if va > vb {
				return -1
			}
			return 1
		}
		pa, pb := a.PolicyProb, b.PolicyProb
		if byNextProb {
			pa, pb = a.NextProb, b.NextProb
		}
		if pa > pb {
			return -1
		}
		if pa < pb {
			return 1
		}
		return 0
	})

	return children
}

// SortedChildrenTraversals orders by edge traversals instead of
// destination visits; under transpositions the two differ.
func SortedChildrenTraversals(node *Node, byNextProb bool) []*Child {
	children := make([]*Child, node.NumChildren())
	for i := range node.Children {
		children[i] = node.Child(i)
	}

	slices.SortStableFunc(children, func(a, b *Child) int {
		if a.Traversals != b.Traversals {
			if a.Traversals > b.Traversals {
				return -1
			}
			return 1
		}
		pa, pb := a.PolicyProb, b.PolicyProb
		if byNextProb {
			pa, pb = a.NextProb, b.NextProb
		}
		if pa > pb {
			return -1
		}
		if pa < pb {
			return 1
		}
		return 0
	})

	return children
}

// MoveString renders a joint move using the state machine's per-role
// display strings.
func MoveString(move game.JointMove, sm game.StateMachine) string {
	res := "("
	for ri := 0; ri < sm.RoleCount(); ri++ {
		if ri > 0 {
			res += " "
		}
		res += sm.MoveString(ri, move.Get(ri))
	}
	return res + ")"
}
