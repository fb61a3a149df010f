package searcher

import (
	"fmt"

	"puct/game"
	"puct/nn"
)

// tableGame is a StateMachine over an explicit transition table. States
// are single bytes; the table lists per-role legals, goals and the
// successor for every joint move.
type tableState struct {
	terminal bool
	goals    []int
	legals   [][]int
	next     map[string]byte
}

type tableGame struct {
	roles   int
	initial byte
	states  map[byte]*tableState
	current byte
}

func moveKey(move game.JointMove) string {
	key := ""
	for ri := 0; ri < len(move); ri++ {
		key += fmt.Sprintf("%d,", move.Get(ri))
	}
	return key
}

func jm(legals ...int) game.JointMove {
	move := game.NewJointMove(len(legals))
	for ri, legal := range legals {
		move.Set(ri, legal)
	}
	return move
}

func (g *tableGame) RoleCount() int {
	return g.roles
}

func (g *tableGame) InitialState() game.BaseState {
	return game.BaseState{g.initial}
}

func (g *tableGame) NewBaseState() game.BaseState {
	return game.BaseState{0}
}

func (g *tableGame) UpdateBases(bs game.BaseState) {
	if _, ok := g.states[bs[0]]; !ok {
		panic(fmt.Sprintf("unknown state %d", bs[0]))
	}
	g.current = bs[0]
}

func (g *tableGame) NextState(move game.JointMove, out game.BaseState) {
	st := g.states[g.current]
	next, ok := st.next[moveKey(move)]
	if !ok {
		panic(fmt.Sprintf("no transition from state %d for move %v", g.current, move))
	}
	out[0] = next
}

func (g *tableGame) IsTerminal() bool {
	return g.states[g.current].terminal
}

func (g *tableGame) GoalValue(role int) int {
	return g.states[g.current].goals[role]
}

func (g *tableGame) LegalMoves(role int) []int {
	return g.states[g.current].legals[role]
}

func (g *tableGame) MoveString(role int, legal int) string {
	return fmt.Sprintf("r%d-m%d", role, legal)
}

// trans builds a transition map from (joint move, successor) pairs.
func trans(pairs ...any) map[string]byte {
	out := map[string]byte{}
	for i := 0; i < len(pairs); i += 2 {
		out[moveKey(pairs[i].(game.JointMove))] = pairs[i+1].(byte)
	}
	return out
}

func noopState(legals [][]int, next map[string]byte) *tableState {
	return &tableState{legals: legals, next: next}
}

func terminalState(goals ...int) *tableState {
	return &tableState{terminal: true, goals: goals}
}

func singleLegals(roles int) [][]int {
	legals := make([][]int, roles)
	for ri := range legals {
		legals[ri] = []int{0}
	}
	return legals
}

// chainGame: 0 -> 1 -> 2 -> 3 with a single legal joint move at every
// step, ending in a win for role 0.
func chainGame() *tableGame {
	return &tableGame{
		roles:   2,
		initial: 0,
		states: map[byte]*tableState{
			0: noopState(singleLegals(2), trans(jm(0, 0), byte(1))),
			1: noopState(singleLegals(2), trans(jm(0, 0), byte(2))),
			2: noopState(singleLegals(2), trans(jm(0, 0), byte(3))),
			3: terminalState(100, 0),
		},
	}
}

// winLossGame: the root offers role 0 a choice between an immediate win
// and an immediate loss.
func winLossGame() *tableGame {
	return &tableGame{
		roles:   2,
		initial: 0,
		states: map[byte]*tableState{
			0: noopState([][]int{{0, 1}, {0}},
				trans(jm(0, 0), byte(1), jm(1, 0), byte(2))),
			1: terminalState(100, 0),
			2: terminalState(0, 100),
		},
	}
}

// triGame: three draws hanging off the root.
func triGame() *tableGame {
	return &tableGame{
		roles:   2,
		initial: 0,
		states: map[byte]*tableState{
			0: noopState([][]int{{0, 1, 2}, {0}},
				trans(jm(0, 0), byte(1), jm(1, 0), byte(2), jm(2, 0), byte(3))),
			1: terminalState(50, 50),
			2: terminalState(50, 50),
			3: terminalState(50, 50),
		},
	}
}

// cycleGame: 0 -> 1 -> 0, never terminal on its own.
func cycleGame() *tableGame {
	return &tableGame{
		roles:   2,
		initial: 0,
		states: map[byte]*tableState{
			0: noopState(singleLegals(2), trans(jm(0, 0), byte(1))),
			1: noopState(singleLegals(2), trans(jm(0, 0), byte(0))),
		},
	}
}

// branchGame: a two-ply game with real choices at both plies, no
// immediate proofs, used where the search should stay busy.
func branchGame() *tableGame {
	return &tableGame{
		roles:   2,
		initial: 0,
		states: map[byte]*tableState{
			0: noopState([][]int{{0, 1}, {0}},
				trans(jm(0, 0), byte(1), jm(1, 0), byte(2))),
			1: noopState([][]int{{0}, {0, 1}},
				trans(jm(0, 0), byte(3), jm(0, 1), byte(4))),
			2: noopState([][]int{{0}, {0, 1}},
				trans(jm(0, 0), byte(4), jm(0, 1), byte(5))),
			3: terminalState(70, 30),
			4: terminalState(50, 50),
			5: terminalState(30, 70),
		},
	}
}

// diamondGame: two root moves funnel through single-legal states into
// the same position, so the batched variant can attach a transposition.
func diamondGame() *tableGame {
	return &tableGame{
		roles:   2,
		initial: 0,
		states: map[byte]*tableState{
			0: noopState([][]int{{0, 1}, {0}},
				trans(jm(0, 0), byte(1), jm(1, 0), byte(2))),
			1: noopState(singleLegals(2), trans(jm(0, 0), byte(3))),
			2: noopState(singleLegals(2), trans(jm(0, 0), byte(3))),
			3: terminalState(50, 50),
		},
	}
}

// testTransformer maps the one-byte states straight into a single
// channel and masks every bit as significant.
type testTransformer struct {
	roles   int
	rewards int
}

func (t *testTransformer) NumPrevStates() int { return 1 }
func (t *testTransformer) NumPolicies() int   { return t.roles }
func (t *testTransformer) NumRewards() int    { return t.rewards }
func (t *testTransformer) ChannelSize() int   { return 1 }

func (t *testTransformer) HashMask(tmp game.BaseState) game.BaseState {
	mask := make(game.BaseState, len(tmp))
	for i := range mask {
		mask[i] = 0xff
	}
	return mask
}

func (t *testTransformer) ToChannels(state game.BaseState, prev []game.BaseState, out []float32) {
	out[0] = float32(state[0])
}

// fixedResult is a canned network reply.
type fixedResult struct {
	policies [][]float32
	rewards  []float32
}

func (r *fixedResult) Policy(role int) []float32 { return r.policies[role] }
func (r *fixedResult) Reward(index int) float32  { return r.rewards[index] }

// uniformModel replies with flat policies and a fixed value for every
// role, and counts what it was asked.
type uniformModel struct {
	roles      int
	policySize int
	value      float32

	calls   int
	samples int
}

func (m *uniformModel) Predict(input []float32, count int) ([]nn.ModelResult, error) {
	m.calls++
	m.samples += count

	results := make([]nn.ModelResult, count)
	for i := range results {
		policies := make([][]float32, m.roles)
		rewards := make([]float32, m.roles)
		for ri := 0; ri < m.roles; ri++ {
			policy := make([]float32, m.policySize)
			for pi := range policy {
				policy[pi] = 1.0 / float32(m.policySize)
			}
			policies[ri] = policy
			rewards[ri] = m.value
		}
		results[i] = &fixedResult{policies: policies, rewards: rewards}
	}

	return results, nil
}

func newTestEvaluator(g *tableGame, conf *Config, seed uint64) (*Evaluator, *uniformModel) {
	model := &uniformModel{roles: g.roles, policySize: 4, value: 0.5}
	transformer := &testTransformer{roles: g.roles, rewards: g.roles}
	scheduler := nn.NewScheduler(model, transformer, conf.BatchSize)

	e := NewEvaluator(g, scheduler, transformer,
		WithConfig(conf), WithSeed(seed))
	return e, model
}
