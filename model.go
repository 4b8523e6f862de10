package hope

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/weakai/neuralnet"
)

func init() {
	var m Model
	var p paramDump
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
	serializer.RegisterTypedDeserializer(p.SerializerType(), deserializeParamDump)
}

// An Output is the result of one Forward call.
type Output struct {
	// Logits is packed [batch, seq, vocab].
	Logits *SeqBatch

	// Hidden is the final packed [batch, seq, hidden] state,
	// the same activity the logits were projected from.
	Hidden *SeqBatch
}

// A Model is the top-level hierarchical sequence model.
//
// The model owns only parameters; all recurrent state lives in
// the Carry the caller threads through Forward.
type Model struct {
	Config *Config

	TokenEmbed    *Embedding
	PosEmbed      *Embedding
	LevelEncoders []*DeepEncoder
	Memory        Memory
	SelfMod       SelfModifier
	Head          *neuralnet.DenseLayer

	embedScale float64
}

// New creates a randomized model, validating the config before
// any allocation.
func New(c *Config) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		Config:     c,
		TokenEmbed: NewEmbedding(c.VocabSize, c.HiddenSize),
		PosEmbed:   NewEmbedding(c.SeqLen, c.HiddenSize),
		Memory:     NewMemory(c),
		SelfMod:    NewSelfModifier(c),
		Head:       denseLayer(c.HiddenSize, c.VocabSize),
		embedScale: 1 / math.Sqrt(float64(c.HiddenSize)),
	}
	for i := 0; i < c.NumLevels; i++ {
		m.LevelEncoders = append(m.LevelEncoders, NewDeepEncoder(c))
	}
	return m, nil
}

// DeserializeModel deserializes a Model.
func DeserializeModel(d []byte) (*Model, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, err
	}
	if len(slice) != 2 {
		return nil, errors.New("invalid Model slice")
	}
	config, ok1 := slice[0].(*Config)
	params, ok2 := slice[1].(*paramDump)
	if !ok1 || !ok2 {
		return nil, errors.New("invalid Model slice")
	}
	model, err := New(config)
	if err != nil {
		return nil, err
	}
	vars := model.Parameters()
	if len(params.Vectors) != len(vars) {
		return nil, fmt.Errorf("expected %d parameter vectors but got %d",
			len(vars), len(params.Vectors))
	}
	for i, v := range vars {
		if len(params.Vectors[i]) != len(v.Vector) {
			return nil, fmt.Errorf("parameter %d has length %d, expected %d",
				i, len(params.Vectors[i]), len(v.Vector))
		}
		copy(v.Vector, params.Vectors[i])
	}
	return model, nil
}

// InitialCarry returns the zeroed recurrent state for a new
// sequence with the given batch size.
func (m *Model) InitialCarry(batch int) *Carry {
	c := m.Config
	carry := &Carry{Batch: batch}
	for i := 0; i < c.NumLevels; i++ {
		carry.LevelStates = append(carry.LevelStates,
			make(linalg.Vector, batch*c.SeqLen*c.HiddenSize))
	}
	carry.Memory = m.Memory.InitState(batch)
	carry.SelfMod = m.SelfMod.InitState(batch)
	return carry
}

// Forward runs one full pass: embedding, memory retrieval, the
// nested level loop, memory update, and the output head. The
// carry is mutated in place and returned.
//
// Information flows strictly upward within a call: each level
// fully consumes the fixed output of the level beneath it, and
// higher-level activity only reaches lower levels through the
// carry on a later call. A shape mismatch between tokens and
// carry is a programming error and panics.
func (m *Model) Forward(tokens [][]int, carry *Carry) (*Carry, *Output) {
	c := m.Config
	if len(tokens) != carry.Batch {
		panic(fmt.Sprintf("carry batch size %d does not match %d input rows",
			carry.Batch, len(tokens)))
	}
	if len(carry.LevelStates) != c.NumLevels {
		panic("carry level count does not match model")
	}
	for _, row := range tokens {
		if len(row) != c.SeqLen {
			panic(fmt.Sprintf("input row length %d does not match sequence length %d",
				len(row), c.SeqLen))
		}
	}
	batch := len(tokens)
	rows := batch * c.SeqLen

	positions := make([]int, c.SeqLen)
	for i := range positions {
		positions[i] = i
	}
	lanes := make([]autofunc.Result, batch)
	for b := range tokens {
		embedded := autofunc.Scale(m.TokenEmbed.Lookup(tokens[b]), m.embedScale)
		lanes[b] = autofunc.Add(embedded, m.PosEmbed.Lookup(positions))
	}
	hidden := newSeqBatch(batch, c.SeqLen, c.HiddenSize, autofunc.Concat(lanes...))

	if carry.Memory != nil {
		hidden = m.Memory.Retrieve(carry.Memory, hidden)
	}

	var meta autofunc.Result
	if carry.SelfMod != nil {
		meta = &autofunc.Variable{Vector: carry.SelfMod.MetaState}
	}

	prev := hidden
	for level, encoder := range m.LevelEncoders {
		state := constSeqBatch(batch, c.SeqLen, c.HiddenSize, carry.LevelStates[level])
		for i := 0; i < c.LevelTimescales[level]; i++ {
			encoded := encoder.Apply(state.add(prev))
			if carry.SelfMod != nil {
				meta = m.SelfMod.ComputeUpdateRule(encoded, meta)
				carry.SelfMod.UpdateCount++
				state = m.SelfMod.ApplyWeightMod(encoded, meta)
			} else {
				state = encoded
			}
		}
		carry.LevelStates[level] = state.Data()
		prev = state
	}

	m.Memory.Update(carry.Memory, prev)

	logits := newSeqBatch(batch, c.SeqLen, c.VocabSize,
		applyRows(m.Head, prev.Res, rows, c.HiddenSize))

	if carry.SelfMod != nil {
		carry.SelfMod.MetaState = meta.Output().Copy()
	}
	carry.StepCount++

	return carry, &Output{Logits: logits, Hidden: prev}
}

// Parameters returns every learned variable, in a fixed order.
func (m *Model) Parameters() []*autofunc.Variable {
	var res []*autofunc.Variable
	res = append(res, m.TokenEmbed.Parameters()...)
	res = append(res, m.PosEmbed.Parameters()...)
	for _, enc := range m.LevelEncoders {
		res = append(res, enc.Parameters()...)
	}
	res = append(res, m.Memory.Parameters()...)
	res = append(res, m.SelfMod.Parameters()...)
	res = append(res, m.Head.Parameters()...)
	return res
}

// SetTraining toggles dropout throughout the model.
func (m *Model) SetTraining(training bool) {
	for _, enc := range m.LevelEncoders {
		enc.SetTraining(training)
	}
}

// SerializerType returns the unique ID used to serialize
// Models with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/logos-42/HOPE.Model"
}

// Serialize encodes the config and a dump of every parameter
// vector.
func (m *Model) Serialize() ([]byte, error) {
	dump := &paramDump{}
	for _, v := range m.Parameters() {
		dump.Vectors = append(dump.Vectors, v.Vector)
	}
	return serializer.SerializeSlice([]serializer.Serializer{m.Config, dump})
}

// paramDump is the serialized form of a model's parameter
// vectors, in Parameters() order.
type paramDump struct {
	Vectors []linalg.Vector
}

func deserializeParamDump(d []byte) (*paramDump, error) {
	var p paramDump
	if err := json.Unmarshal(d, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *paramDump) SerializerType() string {
	return "github.com/logos-42/HOPE.paramDump"
}

func (p *paramDump) Serialize() ([]byte, error) {
	return json.Marshal(p)
}
