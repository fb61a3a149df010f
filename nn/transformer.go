package nn

import "puct/game"

// Transformer converts base states into network input channels and
// describes the network's head layout.
type Transformer interface {
	// NumPrevStates is how many previous positions the network wants
	// alongside the current one.
	NumPrevStates() int

	// NumPolicies is the number of policy heads (one per role).
	NumPolicies() int

	// NumRewards is the number of reward heads. Three heads means
	// win/loss plus a shared draw head folded in by the reply handler.
	NumRewards() int

	// ChannelSize is the number of floats one sample occupies.
	ChannelSize() int

	// HashMask returns the bit mask under which states are considered
	// equivalent for transposition and repeat-state purposes. tmp is a
	// scratch state the implementation may use.
	HashMask(tmp game.BaseState) game.BaseState

	ToChannels(state game.BaseState, prev []game.BaseState, out []float32)
}
