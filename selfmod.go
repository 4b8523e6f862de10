package hope

import (
	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/weakai/neuralnet"
)

// The meta-state blend and modulation scale are fixed rather
// than configurable; SelfModifyConfig.MetaLR and
// UpdateFrequency do not feed into them.
const (
	metaKeep       = 0.9
	metaBlend      = 0.1
	weightModScale = 0.1
)

// NewSelfModifier creates the self-modification unit for a
// model, or an inert implementation if the config disables it.
func NewSelfModifier(c *Config) SelfModifier {
	if !c.SelfModify.Enabled {
		return inertSelfModifier{}
	}
	metaDim := c.SelfModify.WeightModDim
	return &selfModify{
		Config: c.SelfModify,
		Hidden: c.HiddenSize,

		MetaNet: neuralnet.Network{
			denseLayer(c.HiddenSize, metaDim),
			&neuralnet.ReLU{},
			denseLayer(metaDim, metaDim),
			&neuralnet.ReLU{},
			denseLayer(metaDim, metaDim),
			&neuralnet.HyperbolicTangent{},
		},
		InProj: neuralnet.Network{
			denseLayer(c.HiddenSize, metaDim),
			&neuralnet.ReLU{},
		},
		ModNet: neuralnet.Network{
			denseLayer(metaDim, metaDim),
			&neuralnet.ReLU{},
		},
		OutProj: denseLayer(metaDim, c.HiddenSize),
		Norm:    NewLayerNorm(c.HiddenSize),
	}
}

// selfModify derives a per-lane meta-state from the first
// sequence position and uses it to modulate every position.
type selfModify struct {
	Config SelfModifyConfig
	Hidden int

	MetaNet neuralnet.Network
	InProj  neuralnet.Network
	ModNet  neuralnet.Network
	OutProj *neuralnet.DenseLayer
	Norm    *LayerNorm
}

func (s *selfModify) InitState(batch int) *SelfModState {
	return &SelfModState{
		MetaState: make(linalg.Vector, batch*s.Config.WeightModDim),
	}
}

func (s *selfModify) ComputeUpdateRule(hidden *SeqBatch, prevMeta autofunc.Result) autofunc.Result {
	laneStride := hidden.Seq * hidden.Size
	rules := make([]autofunc.Result, hidden.Batch)
	for b := 0; b < hidden.Batch; b++ {
		first := autofunc.Slice(hidden.Res, b*laneStride, b*laneStride+hidden.Size)
		rules[b] = s.MetaNet.Apply(first)
	}
	rule := autofunc.Concat(rules...)
	return autofunc.Add(autofunc.Scale(prevMeta, metaKeep),
		autofunc.Scale(rule, metaBlend))
}

func (s *selfModify) ApplyWeightMod(hidden *SeqBatch, meta autofunc.Result) *SeqBatch {
	rows := hidden.Rows()
	metaDim := s.Config.WeightModDim

	x := applyRows(s.InProj, hidden.Res, rows, s.Hidden)

	// Broadcast each lane's meta-state across its sequence.
	repeated := make([]autofunc.Result, 0, rows)
	for b := 0; b < hidden.Batch; b++ {
		laneMeta := autofunc.Slice(meta, b*metaDim, (b+1)*metaDim)
		for t := 0; t < hidden.Seq; t++ {
			repeated = append(repeated, laneMeta)
		}
	}
	x = autofunc.Add(x, autofunc.Concat(repeated...))

	x = applyRows(s.ModNet, x, rows, metaDim)
	mod := applyRows(s.OutProj, x, rows, metaDim)

	modified := autofunc.Add(hidden.Res, autofunc.Scale(mod, weightModScale))
	normed := s.Norm.Apply(modified, rows)
	return newSeqBatch(hidden.Batch, hidden.Seq, hidden.Size, normed)
}

func (s *selfModify) Parameters() []*autofunc.Variable {
	var res []*autofunc.Variable
	res = append(res, s.MetaNet.Parameters()...)
	res = append(res, s.InProj.Parameters()...)
	res = append(res, s.ModNet.Parameters()...)
	res = append(res, s.OutProj.Parameters()...)
	res = append(res, s.Norm.Parameters()...)
	return res
}

// inertSelfModifier is the disabled implementation: zero
// update rules and identity weight modification.
type inertSelfModifier struct{}

func (inertSelfModifier) InitState(batch int) *SelfModState { return nil }

func (inertSelfModifier) ComputeUpdateRule(hidden *SeqBatch, prevMeta autofunc.Result) autofunc.Result {
	return &autofunc.Variable{
		Vector: make(linalg.Vector, len(prevMeta.Output())),
	}
}

func (inertSelfModifier) ApplyWeightMod(hidden *SeqBatch, meta autofunc.Result) *SeqBatch {
	return hidden
}

func (inertSelfModifier) Parameters() []*autofunc.Variable { return nil }
