// Package hope implements HOPE, a hierarchical sequence model
// built from nested multi-timescale encoders, a multi-span
// exponential memory with attention-based retrieval, a
// meta-learned self-modification unit, and a dual-rate shadow
// parameter store.
//
// All recurrent state lives in a Carry which the caller threads
// explicitly through successive Forward calls; the model itself
// holds only parameters.
package hope

import "github.com/unixpickle/autofunc"

// A Memory maintains a set of exponentially-decaying summaries
// of hidden state and merges them into queries via attention.
//
// A disabled Memory has a nil state, ignores updates, and
// returns queries unchanged.
type Memory interface {
	// InitState returns the zeroed bank state, or nil if the
	// memory is disabled.
	InitState(batch int) *MemoryState

	// Update folds new hidden activity into the banks.
	Update(state *MemoryState, hidden *SeqBatch)

	// Retrieve attends over the banks with the given query and
	// adds the result to the query as a residual.
	Retrieve(state *MemoryState, query *SeqBatch) *SeqBatch

	Parameters() []*autofunc.Variable
}

// A SelfModifier derives an evolving meta-state vector from
// hidden activity and uses it to perturb hidden representations.
//
// A disabled SelfModifier has a nil state, produces zero
// meta-states, and leaves hidden representations unchanged.
type SelfModifier interface {
	// InitState returns the zeroed meta-state, or nil if
	// self-modification is disabled.
	InitState(batch int) *SelfModState

	// ComputeUpdateRule produces the next meta-state from the
	// hidden activity and the previous meta-state.
	ComputeUpdateRule(hidden *SeqBatch, prevMeta autofunc.Result) autofunc.Result

	// ApplyWeightMod perturbs hidden using the meta-state.
	ApplyWeightMod(hidden *SeqBatch, meta autofunc.Result) *SeqBatch

	Parameters() []*autofunc.Variable
}
