package hope

import (
	"encoding/json"
	"math"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/serializer"
)

const layerNormEpsilon = 1e-5

func init() {
	var l LayerNorm
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLayerNorm)
}

// A LayerNorm normalizes each row of a packed matrix to zero
// mean and unit variance, then applies a learned gain and bias.
type LayerNorm struct {
	Size int

	Gain *autofunc.Variable
	Bias *autofunc.Variable
}

// NewLayerNorm creates a LayerNorm with unit gain and zero
// bias.
func NewLayerNorm(size int) *LayerNorm {
	gain := make(linalg.Vector, size)
	for i := range gain {
		gain[i] = 1
	}
	return &LayerNorm{
		Size: size,
		Gain: &autofunc.Variable{Vector: gain},
		Bias: &autofunc.Variable{Vector: make(linalg.Vector, size)},
	}
}

// DeserializeLayerNorm deserializes a LayerNorm.
func DeserializeLayerNorm(d []byte) (*LayerNorm, error) {
	var l LayerNorm
	if err := json.Unmarshal(d, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Apply normalizes every row of a packed rows-by-Size matrix.
func (l *LayerNorm) Apply(in autofunc.Result, rows int) autofunc.Result {
	if len(in.Output()) != rows*l.Size {
		panic("LayerNorm dimension mismatch")
	}
	n := l.Size
	data := in.Output()
	out := make(linalg.Vector, len(data))
	normalized := make(linalg.Vector, len(data))
	invStds := make(linalg.Vector, rows)
	for r := 0; r < rows; r++ {
		row := data[r*n : (r+1)*n]
		var mean float64
		for _, x := range row {
			mean += x
		}
		mean /= float64(n)
		var variance float64
		for _, x := range row {
			d := x - mean
			variance += d * d
		}
		variance /= float64(n)
		invStd := 1 / math.Sqrt(variance+layerNormEpsilon)
		invStds[r] = invStd
		for i, x := range row {
			norm := (x - mean) * invStd
			normalized[r*n+i] = norm
			out[r*n+i] = norm*l.Gain.Vector[i] + l.Bias.Vector[i]
		}
	}
	return &layerNormResult{
		OutVec:     out,
		Normalized: normalized,
		InvStds:    invStds,
		In:         in,
		Layer:      l,
		Rows:       rows,
	}
}

// Parameters returns the gain and bias variables.
func (l *LayerNorm) Parameters() []*autofunc.Variable {
	return []*autofunc.Variable{l.Gain, l.Bias}
}

// SerializerType returns the unique ID used to serialize
// LayerNorms with the serializer package.
func (l *LayerNorm) SerializerType() string {
	return "github.com/logos-42/HOPE.LayerNorm"
}

// Serialize encodes the layer as JSON.
func (l *LayerNorm) Serialize() ([]byte, error) {
	return json.Marshal(l)
}

type layerNormResult struct {
	OutVec     linalg.Vector
	Normalized linalg.Vector
	InvStds    linalg.Vector
	In         autofunc.Result
	Layer      *LayerNorm
	Rows       int
}

func (l *layerNormResult) Output() linalg.Vector {
	return l.OutVec
}

func (l *layerNormResult) Constant(g autofunc.Gradient) bool {
	return l.In.Constant(g) && l.Layer.Gain.Constant(g) &&
		l.Layer.Bias.Constant(g)
}

func (l *layerNormResult) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	n := l.Layer.Size
	gainGrad := g[l.Layer.Gain]
	biasGrad := g[l.Layer.Bias]
	if gainGrad != nil || biasGrad != nil {
		for r := 0; r < l.Rows; r++ {
			for i := 0; i < n; i++ {
				u := upstream[r*n+i]
				if gainGrad != nil {
					gainGrad[i] += u * l.Normalized[r*n+i]
				}
				if biasGrad != nil {
					biasGrad[i] += u
				}
			}
		}
	}
	if l.In.Constant(g) {
		return
	}
	downstream := make(linalg.Vector, len(upstream))
	gain := l.Layer.Gain.Vector
	for r := 0; r < l.Rows; r++ {
		var meanW, meanWN float64
		for i := 0; i < n; i++ {
			w := upstream[r*n+i] * gain[i]
			meanW += w
			meanWN += w * l.Normalized[r*n+i]
		}
		meanW /= float64(n)
		meanWN /= float64(n)
		invStd := l.InvStds[r]
		for i := 0; i < n; i++ {
			w := upstream[r*n+i] * gain[i]
			downstream[r*n+i] = invStd *
				(w - meanW - l.Normalized[r*n+i]*meanWN)
		}
	}
	l.In.PropagateGradient(downstream, g)
}
