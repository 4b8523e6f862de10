package hope

import (
	"math"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/weakai/neuralnet"
)

const memoryBankCount = 5

// NewMemory creates the multi-span memory for a model, or an
// inert implementation if the config disables it.
func NewMemory(c *Config) Memory {
	if !c.Memory.Enabled {
		return inertMemory{}
	}
	return &continuumMemory{
		Config: c.Memory,
		Seq:    c.SeqLen,
		Hidden: c.HiddenSize,

		QueryProj: denseLayer(c.HiddenSize, c.HiddenSize),
		KeyProj:   denseLayer(c.HiddenSize, c.HiddenSize),
		ValueProj: denseLayer(c.HiddenSize, c.HiddenSize),
		Norm:      NewLayerNorm(c.HiddenSize),
	}
}

// continuumMemory keeps five banks decaying at spans from
// ultra-short to episodic and retrieves across all of them
// with one attention pass.
type continuumMemory struct {
	Config MemoryConfig
	Seq    int
	Hidden int

	QueryProj *neuralnet.DenseLayer
	KeyProj   *neuralnet.DenseLayer
	ValueProj *neuralnet.DenseLayer
	Norm      *LayerNorm
}

func (c *continuumMemory) InitState(batch int) *MemoryState {
	size := batch * c.Seq * c.Hidden
	return &MemoryState{
		UltraShort: make(linalg.Vector, size),
		Short:      make(linalg.Vector, size),
		Mid:        make(linalg.Vector, size),
		Long:       make(linalg.Vector, size),
		Episodic:   make(linalg.Vector, size),
	}
}

func (c *continuumMemory) Update(state *MemoryState, hidden *SeqBatch) {
	if state == nil {
		return
	}
	latest := hidden.Data()

	// The ultra-short bank tracks the newest activity exactly.
	state.UltraShort = latest

	emaInto(state.Short, latest, spanAlpha(c.Config.ShortSpan))
	emaInto(state.Mid, latest, spanAlpha(c.Config.MidSpan))
	emaInto(state.Long, latest, spanAlpha(c.Config.LongSpan))
	emaInto(state.Episodic, latest, spanAlpha(c.Config.EpisodicSpan))
}

func (c *continuumMemory) Retrieve(state *MemoryState, query *SeqBatch) *SeqBatch {
	if state == nil {
		return query
	}
	rows := query.Rows()
	projected := applyRows(c.QueryProj, query.Res, rows, c.Hidden)
	normed := c.Norm.Apply(projected, rows)

	memRows := memoryBankCount * c.Seq
	scale := 1 / math.Sqrt(float64(c.Hidden))
	var softmax autofunc.Softmax

	laneStride := c.Seq * c.Hidden
	lanes := make([]autofunc.Result, query.Batch)
	for b := 0; b < query.Batch; b++ {
		joined := make(linalg.Vector, 0, memoryBankCount*laneStride)
		for _, bank := range state.Banks() {
			joined = append(joined, bank[b*laneStride:(b+1)*laneStride]...)
		}
		memIn := &autofunc.Variable{Vector: joined}
		keys := applyRows(c.KeyProj, memIn, memRows, c.Hidden)
		values := applyRows(c.ValueProj, memIn, memRows, c.Hidden)

		positions := make([]autofunc.Result, query.Seq)
		for t := 0; t < query.Seq; t++ {
			row := (b*query.Seq + t) * c.Hidden
			q := autofunc.Slice(normed, row, row+c.Hidden)
			scores := autofunc.Scale(matVec(keys, memRows, c.Hidden, q), scale)
			weights := softmax.Apply(scores)
			positions[t] = vecMat(weights, values, memRows, c.Hidden)
		}
		lanes[b] = autofunc.Concat(positions...)
	}
	attended := newSeqBatch(query.Batch, query.Seq, query.Size,
		autofunc.Concat(lanes...))
	return query.add(attended)
}

func (c *continuumMemory) Parameters() []*autofunc.Variable {
	var res []*autofunc.Variable
	res = append(res, c.QueryProj.Parameters()...)
	res = append(res, c.KeyProj.Parameters()...)
	res = append(res, c.ValueProj.Parameters()...)
	res = append(res, c.Norm.Parameters()...)
	return res
}

// spanAlpha converts an EMA span into a blend coefficient,
// clamped to [0, 1].
func spanAlpha(span int) float64 {
	if span <= 0 {
		return 1
	}
	alpha := 1 / float64(span)
	if alpha > 1 {
		return 1
	}
	return alpha
}

// emaInto blends value into bank in place.
func emaInto(bank, value linalg.Vector, alpha float64) {
	bank.Scale(1 - alpha).Add(value.Copy().Scale(alpha))
}

// inertMemory is the disabled implementation: no state, no
// updates, and retrieval is the identity.
type inertMemory struct{}

func (inertMemory) InitState(batch int) *MemoryState            { return nil }
func (inertMemory) Update(state *MemoryState, hidden *SeqBatch) {}
func (inertMemory) Parameters() []*autofunc.Variable            { return nil }

func (inertMemory) Retrieve(state *MemoryState, query *SeqBatch) *SeqBatch {
	return query
}
