package hope

import "github.com/unixpickle/num-analysis/linalg"

// A MemoryState holds the five memory banks, each a packed
// [batch, seq, hidden] activation array.
type MemoryState struct {
	UltraShort linalg.Vector
	Short      linalg.Vector
	Mid        linalg.Vector
	Long       linalg.Vector
	Episodic   linalg.Vector
}

// Banks returns the banks ordered from fastest to slowest.
func (m *MemoryState) Banks() []linalg.Vector {
	return []linalg.Vector{m.UltraShort, m.Short, m.Mid, m.Long, m.Episodic}
}

// A SelfModState holds the evolving meta-state and the number
// of update-rule evaluations performed so far.
type SelfModState struct {
	// MetaState is packed [batch, metaDim].
	MetaState   linalg.Vector
	UpdateCount int
}

// A Carry is the recurrent state threaded between successive
// Forward calls.
//
// The caller owns the Carry exclusively: it is created by
// Model.InitialCarry, mutated in place by each Forward call,
// and must never be shared between concurrent sequences.
// Activations stored here re-enter the next call as constants;
// gradients never flow across call boundaries.
type Carry struct {
	// LevelStates has one packed [batch, seq, hidden] array
	// per hierarchy level.
	LevelStates []linalg.Vector

	// Memory is nil iff the memory module is disabled.
	Memory *MemoryState

	// SelfMod is nil iff self-modification is disabled.
	SelfMod *SelfModState

	// StepCount is incremented once per Forward call.
	StepCount int

	// Batch is the batch size this carry was created for.
	Batch int
}
