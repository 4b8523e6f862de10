package hope

import (
	"math"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/weakai/neuralnet"
)

// A DeepEncoder is a pre-normalization stack of multi-head
// self-attention and feed-forward blocks, one stack per
// hierarchy level.
type DeepEncoder struct {
	Hidden int
	Heads  int

	Blocks []*encoderBlock

	dropouts []*neuralnet.DropoutLayer
}

type encoderBlock struct {
	AttnNorm *LayerNorm
	Query    *neuralnet.DenseLayer
	Key      *neuralnet.DenseLayer
	Value    *neuralnet.DenseLayer
	OutProj  *neuralnet.DenseLayer

	FFNorm *LayerNorm
	FF     neuralnet.Network
}

// NewDeepEncoder creates a randomized encoder stack for the
// given architecture.
func NewDeepEncoder(c *Config) *DeepEncoder {
	enc := &DeepEncoder{Hidden: c.HiddenSize, Heads: c.NumHeads}
	for i := 0; i < c.NumLayers; i++ {
		block := &encoderBlock{
			AttnNorm: NewLayerNorm(c.HiddenSize),
			Query:    denseLayer(c.HiddenSize, c.HiddenSize),
			Key:      denseLayer(c.HiddenSize, c.HiddenSize),
			Value:    denseLayer(c.HiddenSize, c.HiddenSize),
			OutProj:  denseLayer(c.HiddenSize, c.HiddenSize),
			FFNorm:   NewLayerNorm(c.HiddenSize),
		}
		block.FF = neuralnet.Network{
			denseLayer(c.HiddenSize, c.FeedforwardDim()),
			&neuralnet.ReLU{},
			denseLayer(c.FeedforwardDim(), c.HiddenSize),
		}
		if c.Dropout > 0 {
			dropout := &neuralnet.DropoutLayer{
				KeepProbability: 1 - c.Dropout,
			}
			block.FF = append(block.FF, dropout)
			enc.dropouts = append(enc.dropouts, dropout)
		}
		enc.Blocks = append(enc.Blocks, block)
	}
	return enc
}

func denseLayer(in, out int) *neuralnet.DenseLayer {
	layer := &neuralnet.DenseLayer{
		InputCount:  in,
		OutputCount: out,
	}
	layer.Randomize()
	return layer
}

// Apply runs the encoder stack over a packed batch.
func (d *DeepEncoder) Apply(in *SeqBatch) *SeqBatch {
	x := in
	rows := in.Rows()
	for _, block := range d.Blocks {
		normed := block.AttnNorm.Apply(x.Res, rows)
		attended := d.selfAttention(block, newSeqBatch(x.Batch, x.Seq, x.Size, normed))
		x = x.add(attended)

		normed = block.FFNorm.Apply(x.Res, rows)
		ff := applyRows(block.FF, normed, rows, d.Hidden)
		x = x.add(newSeqBatch(x.Batch, x.Seq, x.Size, ff))
	}
	return x
}

// selfAttention computes multi-head scaled dot-product
// attention independently per lane, with no causal mask.
func (d *DeepEncoder) selfAttention(block *encoderBlock, in *SeqBatch) *SeqBatch {
	headSize := d.Hidden / d.Heads
	scale := 1 / math.Sqrt(float64(headSize))
	var softmax autofunc.Softmax

	lanes := make([]autofunc.Result, in.Batch)
	for b := 0; b < in.Batch; b++ {
		lane := in.Lane(b)
		queries := applyRows(block.Query, lane, in.Seq, d.Hidden)
		keys := applyRows(block.Key, lane, in.Seq, d.Hidden)
		values := applyRows(block.Value, lane, in.Seq, d.Hidden)

		headCtx := make([][]autofunc.Result, d.Heads)
		for h := 0; h < d.Heads; h++ {
			q := sliceCols(queries, in.Seq, d.Hidden, h*headSize, (h+1)*headSize)
			k := sliceCols(keys, in.Seq, d.Hidden, h*headSize, (h+1)*headSize)
			v := sliceCols(values, in.Seq, d.Hidden, h*headSize, (h+1)*headSize)
			headCtx[h] = make([]autofunc.Result, in.Seq)
			for t := 0; t < in.Seq; t++ {
				query := autofunc.Slice(q, t*headSize, (t+1)*headSize)
				scores := autofunc.Scale(matVec(k, in.Seq, headSize, query), scale)
				weights := softmax.Apply(scores)
				headCtx[h][t] = vecMat(weights, v, in.Seq, headSize)
			}
		}

		positions := make([]autofunc.Result, in.Seq)
		for t := 0; t < in.Seq; t++ {
			parts := make([]autofunc.Result, d.Heads)
			for h := 0; h < d.Heads; h++ {
				parts[h] = headCtx[h][t]
			}
			positions[t] = autofunc.Concat(parts...)
		}
		joined := autofunc.Concat(positions...)
		lanes[b] = applyRows(block.OutProj, joined, in.Seq, d.Hidden)
	}
	return newSeqBatch(in.Batch, in.Seq, in.Size, autofunc.Concat(lanes...))
}

// Parameters returns every learned variable in the stack.
func (d *DeepEncoder) Parameters() []*autofunc.Variable {
	var res []*autofunc.Variable
	for _, block := range d.Blocks {
		res = append(res, block.AttnNorm.Parameters()...)
		res = append(res, block.Query.Parameters()...)
		res = append(res, block.Key.Parameters()...)
		res = append(res, block.Value.Parameters()...)
		res = append(res, block.OutProj.Parameters()...)
		res = append(res, block.FF.Parameters()...)
		res = append(res, block.FFNorm.Parameters()...)
	}
	return res
}

// SetTraining toggles dropout for the stack.
func (d *DeepEncoder) SetTraining(training bool) {
	for _, layer := range d.dropouts {
		layer.Training = training
	}
}
