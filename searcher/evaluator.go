package searcher

import (
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"puct/game"
	"puct/nn"
)

// Evaluator is one search session: it owns the tree rooted at root,
// drives playouts through the scheduler, and applies committed moves.
type Evaluator struct {
	conf        *Config
	sm          game.StateMachine
	scheduler   *nn.Scheduler
	transformer nn.Transformer

	// scratch state reused by expansion
	basestateExpandNode game.BaseState

	hashMask game.BaseState
	lookup   *game.MaskedMap[*Node]
	garbage  []*Node

	root        *Node
	initialRoot *Node
	gameDepth   int

	numberOfNodes       int
	nodeAllocatedMemory int64

	doPlayouts    bool
	playoutBudget int

	repeatStatesDraw  int
	repeatStatesScore float32

	stats SearchStats

	rngSource rand.Source
	rng       *rand.Rand
}

type Option func(*Evaluator)

func WithConfig(conf *Config) Option {
	return func(e *Evaluator) {
		if conf != nil {
			e.conf = conf
		}
	}
}

// WithSeed makes every random draw in the session reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Evaluator) {
		e.rngSource = rand.NewSource(seed)
		e.rng = rand.New(e.rngSource)
	}
}

func NewEvaluator(sm game.StateMachine, scheduler *nn.Scheduler,
	transformer nn.Transformer, options ...Option) *Evaluator {

	e := &Evaluator{
		conf:                DefaultConfig(),
		sm:                  sm,
		scheduler:           scheduler,
		transformer:         transformer,
		basestateExpandNode: sm.NewBaseState(),
	}

	e.hashMask = transformer.HashMask(sm.NewBaseState())
	e.lookup = game.NewMaskedMap[*Node](e.hashMask)

	e.rngSource = rand.NewSource(uint64(time.Now().UnixNano()))
	e.rng = rand.New(e.rngSource)

	for _, option := range options {
		option(e)
	}

	return e
}

func (e *Evaluator) Root() *Node {
	return e.root
}

func (e *Evaluator) GameDepth() int {
	return e.gameDepth
}

func (e *Evaluator) Stats() SearchStats {
	return e.stats
}

func (e *Evaluator) NumberOfNodes() int {
	return e.numberOfNodes
}

func (e *Evaluator) NodeAllocatedMemory() int64 {
	return e.nodeAllocatedMemory
}

// SetRepeatStateDraw enables the repeat-state rule: a freshly expanded
// node matching one of its n nearest ancestors under the hash mask is
// finalised with score for every role.
func (e *Evaluator) SetRepeatStateDraw(n int, score float32) {
	e.repeatStatesDraw = n
	e.repeatStatesScore = score
}

///////////////////////////////////////////////////////////////////////////
// node lifecycle

func (e *Evaluator) removeNode(node *Node) {
	e.lookup.Erase(node.BaseState)
	e.nodeAllocatedMemory -= int64(node.allocatedSize)
	e.numberOfNodes--
}

// removeNodeRecursive frees a whole subtree along owning child pointers,
// clearing each to_node before release. Non-transposition variant only.
func (e *Evaluator) removeNodeRecursive(node *Node) {
	for i := range node.Children {
		child := node.Child(i)
		if child.ToNode != nil {
			e.removeNodeRecursive(child.ToNode)
		}

		child.ToNode = nil
	}

	e.removeNode(node)
}

// releaseNodes walks the subtree decrementing ref counts; nodes reaching
// zero are queued on the garbage list for the commit-time sweep.
// Transposition variant only.
func (e *Evaluator) releaseNodes(current *Node) {
	for i := range current.Children {
		child := current.Child(i)

		if child.ToNode != nil {
			nextNode := child.ToNode

			// wah a cycle...
			if nextNode.RefCount == 0 {
				log.Warn().Msg("A cycle was found in releaseNodes() skipping")
				continue
			}

			child.ToNode = nil

			nextNode.RefCount--
			if nextNode.RefCount == 0 {
				e.releaseNodes(nextNode)
				e.garbage = append(e.garbage, nextNode)
			}
		}
	}
}

func (e *Evaluator) sweepGarbage() {
	if len(e.garbage) > 0 && e.conf.Verbose {
		log.Debug().Msgf("Garbage collected... %d, please wait", len(e.garbage))
	}

	for _, n := range e.garbage {
		e.removeNode(n)
	}

	e.garbage = e.garbage[:0]
}

// lookupNode finds an existing node for bs at the given depth. A depth
// mismatch is rejected since attaching it could form a cycle.
func (e *Evaluator) lookupNode(bs game.BaseState, depth int) *Node {
	if result, ok := e.lookup.Lookup(bs); ok {
		if result.GameDepth != depth {
			return nil
		}

		result.RefCount++
		return result
	}

	return nil
}

func (e *Evaluator) createNode(parent *Node, state game.BaseState) *Node {
	newNode := NewNode(state, e.sm)

	e.lookup.Insert(newNode.BaseState, newNode)

	e.numberOfNodes++
	e.nodeAllocatedMemory += int64(newNode.allocatedSize)

	newNode.Parent = parent
	if parent != nil {
		newNode.GameDepth = parent.GameDepth + 1
		parent.NumChildrenExpanded++
	}

	if newNode.IsFinalised {
		// Sharpen proven results so they stay above network-predicted
		// wins (and below predicted losses).
		for ri := 0; ri < e.sm.RoleCount(); ri++ {
			s := newNode.CurrentScore(ri)
			if s > 0.99 {
				newNode.SetCurrentScore(ri, s*1.05)
			} else if s < 0.01 {
				newNode.SetCurrentScore(ri, -0.05)
			}
		}

		return newNode
	}

	// Skip evaluation on nodes with only one child; there is no choice
	// for the policy to guide.
	if newNode.NumChildren() == 1 {
		return newNode
	}

	req := &nodeRequest{node: newNode}
	e.scheduler.Evaluate(req)
	e.stats.NumEvaluations++

	return newNode
}

// checkRepeatStates applies the repeat-state rule to a freshly created
// node: compare against the nearest ancestors under the hash mask and
// finalise as a draw on a match.
func (e *Evaluator) checkRepeatStates(node *Node) {
	count := e.repeatStatesDraw
	score := e.repeatStatesScore
	if count <= 0 && e.conf.UseLegalsCountDraw > 0 {
		count = e.conf.UseLegalsCountDraw
		score = 0.5
	}

	if count <= 0 || node.IsFinalised {
		return
	}

	cur := node.Parent
	for i := 0; i < count && cur != nil; i++ {
		if game.MaskedEqual(cur.BaseState, node.BaseState, e.hashMask) {
			for ri := 0; ri < e.sm.RoleCount(); ri++ {
				node.SetCurrentScore(ri, score)
			}

			node.IsFinalised = true
			node.ForceTerminal = true
			return
		}

		cur = cur.Parent
	}
}

// expandChild materialises the node behind a child edge: transposition
// lookup first (batched variant), otherwise a create plus network
// evaluation with the child masked unselectable while it waits.
func (e *Evaluator) expandChild(parent *Node, child *Child) *Node {
	e.sm.UpdateBases(parent.BaseState)
	e.sm.NextState(child.Move, e.basestateExpandNode)

	nextDepth := parent.GameDepth + 1

	if e.conf.batched() {
		if found := e.lookupNode(e.basestateExpandNode, nextDepth); found != nil {
			child.ToNode = found
			parent.NumChildrenExpanded++
			e.stats.NumTranspositionsAttached++
			return found
		}
	}

	child.Unselectable = true
	parent.UnselectableCount++
	child.ToNode = e.createNode(parent, e.basestateExpandNode)
	parent.UnselectableCount--
	child.Unselectable = false

	e.checkRepeatStates(child.ToNode)

	return child.ToNode
}

///////////////////////////////////////////////////////////////////////////
// root control

// EstablishRoot creates the session root for state (the machine's
// initial state when nil). The root must not already exist and must not
// be terminal.
func (e *Evaluator) EstablishRoot(state game.BaseState) *Node {
	if e.root != nil {
		panic("establishRoot with an existing root")
	}

	if state == nil {
		state = e.sm.InitialState()
	}

	e.root = e.createNode(nil, state)
	e.root.GameDepth = e.gameDepth
	e.initialRoot = e.root

	if e.root.IsTerminal() {
		panic("cannot establish root on a terminal state")
	}

	return e.root
}

// FastApplyMove commits one root child: its node becomes the new root
// and every sibling subtree is released.
func (e *Evaluator) FastApplyMove(next *Child) *Node {
	if e.root == nil {
		panic("fastApplyMove with no root")
	}

	numberOfNodesBefore := e.numberOfNodes

	var newRoot *Node
	for i := range e.root.Children {
		c := e.root.Child(i)

		if c == next {
			if newRoot != nil {
				panic("duplicate child in fastApplyMove")
			}

			if c.ToNode == nil {
				e.expandChild(e.root, c)
			}

			newRoot = c.ToNode

		} else if c.ToNode != nil {
			if e.conf.batched() {
				nextNode := c.ToNode
				c.ToNode = nil

				if nextNode.RefCount == 0 {
					panic("releasing a node with zero ref count")
				}

				nextNode.RefCount--
				if nextNode.RefCount == 0 {
					e.releaseNodes(nextNode)
					e.garbage = append(e.garbage, nextNode)
				}

			} else {
				node := c.ToNode
				c.ToNode = nil
				e.removeNodeRecursive(node)
			}
		}
	}

	if newRoot == nil {
		panic("fastApplyMove child is not a child of root")
	}

	if e.conf.batched() {
		e.sweepGarbage()

		e.root.RefCount--
		if e.root.RefCount == 0 {
			e.removeNode(e.root)
		} else {
			log.Debug().Msgf("What is root ref_count? %d", e.root.RefCount)
		}

		newRoot.Parent = nil
	}

	e.root = newRoot
	e.gameDepth++

	if deleted := numberOfNodesBefore - e.numberOfNodes; deleted > 0 && e.conf.Verbose {
		log.Info().Msgf("deleted %d nodes", deleted)
	}

	return e.root
}

// ApplyMove commits the root child matching move. Applying a move that
// is not a legal child is a programming error.
func (e *Evaluator) ApplyMove(move game.JointMove) {
	if e.root == nil {
		panic("applyMove with no root")
	}

	for i := range e.root.Children {
		c := e.root.Child(i)
		if c.Move.Equal(move) {
			if e.conf.Verbose {
				log.Info().Msgf("applyMove: %s", MoveString(move, e.sm))
			}

			e.FastApplyMove(c)
			return
		}
	}

	log.Warn().Msgf("applyMove: did not find move %s", MoveString(move, e.sm))
	panic("applyMove: move is not a legal child of root")
}

// JumpRoot replays history: it moves the root back to the node at the
// given game depth along the played spine. Only the non-transposition
// variant preserves the spine.
func (e *Evaluator) JumpRoot(depth int) *Node {
	if e.conf.batched() {
		panic("jumpRoot is unavailable with transpositions enabled")
	}

	if e.initialRoot == nil {
		panic("jumpRoot with no tree")
	}

	if depth < e.initialRoot.GameDepth || depth > e.gameDepth {
		panic("jumpRoot depth outside the played line")
	}

	cur := e.initialRoot
	for cur.GameDepth < depth {
		var next *Node
		for i := range cur.Children {
			if c := cur.Child(i); c.ToNode != nil {
				if next != nil {
					panic("jumpRoot: ambiguous spine")
				}
				next = c.ToNode
			}
		}

		if next == nil {
			panic("jumpRoot: played line is shorter than requested depth")
		}

		cur = next
	}

	e.root = cur
	e.gameDepth = depth
	return e.root
}

// Reset releases the whole tree and zeroes the session. Leaked nodes are
// reported, not fatal.
func (e *Evaluator) Reset(gameDepth int) {
	if e.conf.batched() {
		if e.root != nil {
			e.releaseNodes(e.root)
			e.garbage = append(e.garbage, e.root)
			e.sweepGarbage()
		}

	} else if e.initialRoot != nil {
		e.removeNodeRecursive(e.initialRoot)
	}

	e.root = nil
	e.initialRoot = nil

	e.stats.reset()

	if e.numberOfNodes != 0 {
		log.Warn().Msgf("Number of nodes not zero %d", e.numberOfNodes)
	}

	if e.nodeAllocatedMemory != 0 {
		log.Warn().Msgf("Leaked memory %d", e.nodeAllocatedMemory)
	}

	// Reset and JumpRoot are the only places that set game_depth directly
	e.gameDepth = gameDepth
}

// OnNextMove searches and returns the chosen root child. A negative
// maxEvaluations means unbounded; zero returns immediately after any
// preset root expansion. A zero deadline means no wall-clock limit.
func (e *Evaluator) OnNextMove(maxEvaluations int, deadline time.Time) *Child {
	if e.root == nil {
		panic("onNextMove with no root")
	}

	e.stats.reset()
	e.doPlayouts = true

	// Warm-up hack: force-expand every root child and pretend it was
	// visited, so the first playouts spread across the root.
	if e.conf.RootExpansionsPresetVisits > 0 {
		for i := range e.root.Children {
			c := e.root.Child(i)

			if c.ToNode == nil {
				e.expandChild(e.root, c)

				if c.ToNode.Visits < uint32(e.conf.RootExpansionsPresetVisits) {
					c.ToNode.Visits = uint32(e.conf.RootExpansionsPresetVisits)
				}
			}
		}
	}

	if e.conf.batched() {
		workerCount := 0

		e.scheduler.Run(func() {
			if !e.root.IsFinalised && (maxEvaluations < 0 || maxEvaluations > 1000) {
				for i := 0; i < e.conf.BatchSize-1; i++ {
					workerCount++
					e.scheduler.AddRunnable(func() {
						e.playoutWorker()
						workerCount--
					})
				}
			}

			if maxEvaluations != 0 {
				e.playoutBudget = maxEvaluations
				e.playoutMain(deadline)
			}

			if e.conf.Verbose {
				log.Debug().Msg("Starting collect.")
			}

			e.doPlayouts = false
			for workerCount > 0 {
				e.scheduler.FlushPending()
				e.scheduler.Yield()
			}

			if e.conf.Verbose {
				log.Debug().Msg("All workers collected.")
			}
		})

	} else if maxEvaluations != 0 {
		e.playoutLoop(maxEvaluations, deadline)
	}

	e.doPlayouts = false

	choice := e.Choose(e.root)

	if maxEvaluations != 0 && e.conf.Verbose {
		e.logDebug(choice)
	}

	return choice
}
