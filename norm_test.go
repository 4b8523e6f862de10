package hope

import (
	"math"
	"testing"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/autofunc/functest"
)

type layerNormFunc struct {
	Layer *LayerNorm
	Rows  int
}

func (l *layerNormFunc) Apply(in autofunc.Result) autofunc.Result {
	return l.Layer.Apply(in, l.Rows)
}

func TestLayerNormOutput(t *testing.T) {
	norm := NewLayerNorm(4)
	in := &autofunc.Variable{Vector: []float64{1, 2, 3, 4}}
	out := norm.Apply(in, 1).Output()

	var mean, variance float64
	for _, x := range out {
		mean += x
	}
	mean /= 4
	for _, x := range out {
		variance += (x - mean) * (x - mean)
	}
	variance /= 4
	if math.Abs(mean) > 1e-4 {
		t.Errorf("expected zero mean but got %f", mean)
	}
	if math.Abs(variance-1) > 1e-3 {
		t.Errorf("expected unit variance but got %f", variance)
	}
	if out[0] >= out[1] || out[1] >= out[2] || out[2] >= out[3] {
		t.Error("normalization should preserve ordering")
	}
}

func TestLayerNormAffine(t *testing.T) {
	norm := NewLayerNorm(3)
	for i := range norm.Gain.Vector {
		norm.Gain.Vector[i] = 2
		norm.Bias.Vector[i] = 1
	}
	plain := NewLayerNorm(3)

	in := &autofunc.Variable{Vector: []float64{-1, 0, 5}}
	scaled := norm.Apply(in, 1).Output()
	base := plain.Apply(in, 1).Output()
	for i, x := range base {
		if math.Abs(scaled[i]-(2*x+1)) > 1e-5 {
			t.Errorf("component %d: expected %f but got %f", i, 2*x+1, scaled[i])
		}
	}
}

func TestLayerNormGradient(t *testing.T) {
	norm := NewLayerNorm(5)
	for i := range norm.Gain.Vector {
		norm.Gain.Vector[i] = 1 + 0.1*float64(i)
		norm.Bias.Vector[i] = 0.2 * float64(i)
	}
	inVar := &autofunc.Variable{Vector: randomTestVec(10)}
	f := &layerNormFunc{Layer: norm, Rows: 2}
	test := functest.FuncChecker{
		F:     f,
		Vars:  []*autofunc.Variable{inVar, norm.Gain, norm.Bias},
		Input: inVar,
	}
	test.FullCheck(t)
}
