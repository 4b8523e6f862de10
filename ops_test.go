package hope

import (
	"math/rand"
	"testing"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/autofunc/functest"
	"github.com/unixpickle/num-analysis/linalg"
)

type matVecFunc struct {
	Rows int
	Cols int
}

func (m *matVecFunc) Apply(in autofunc.Result) autofunc.Result {
	split := m.Rows * m.Cols
	mat := autofunc.Slice(in, 0, split)
	vec := autofunc.Slice(in, split, split+m.Cols)
	return matVec(mat, m.Rows, m.Cols, vec)
}

type vecMatFunc struct {
	Rows int
	Cols int
}

func (v *vecMatFunc) Apply(in autofunc.Result) autofunc.Result {
	vec := autofunc.Slice(in, 0, v.Rows)
	mat := autofunc.Slice(in, v.Rows, v.Rows+v.Rows*v.Cols)
	return vecMat(vec, mat, v.Rows, v.Cols)
}

type sliceColsFunc struct {
	Rows, Cols, Start, End int
}

func (s *sliceColsFunc) Apply(in autofunc.Result) autofunc.Result {
	return sliceCols(in, s.Rows, s.Cols, s.Start, s.End)
}

type pickRowsFunc struct {
	Rows, Cols int
	Indices    []int
}

func (p *pickRowsFunc) Apply(in autofunc.Result) autofunc.Result {
	return pickRows(in, p.Rows, p.Cols, p.Indices)
}

func randomTestVec(size int) linalg.Vector {
	vec := make(linalg.Vector, size)
	for i := range vec {
		vec[i] = rand.NormFloat64()
	}
	return vec
}

func TestMatVecOutput(t *testing.T) {
	mat := &autofunc.Variable{Vector: []float64{1, 2, 3, 4, 5, 6}}
	vec := &autofunc.Variable{Vector: []float64{1, -1, 2}}
	out := matVec(mat, 2, 3, vec).Output()
	expected := linalg.Vector{5, 11}
	if !vecsClose(out, expected) {
		t.Errorf("expected %v but got %v", expected, out)
	}
}

func TestMatVecGradient(t *testing.T) {
	f := &matVecFunc{Rows: 3, Cols: 4}
	inVar := &autofunc.Variable{Vector: randomTestVec(3*4 + 4)}
	test := functest.FuncChecker{
		F:     f,
		Vars:  []*autofunc.Variable{inVar},
		Input: inVar,
	}
	test.FullCheck(t)
}

func TestVecMatOutput(t *testing.T) {
	vec := &autofunc.Variable{Vector: []float64{2, -1}}
	mat := &autofunc.Variable{Vector: []float64{1, 2, 3, 4, 5, 6}}
	out := vecMat(vec, mat, 2, 3).Output()
	expected := linalg.Vector{-2, -1, 0}
	if !vecsClose(out, expected) {
		t.Errorf("expected %v but got %v", expected, out)
	}
}

func TestVecMatGradient(t *testing.T) {
	f := &vecMatFunc{Rows: 4, Cols: 3}
	inVar := &autofunc.Variable{Vector: randomTestVec(4 + 4*3)}
	test := functest.FuncChecker{
		F:     f,
		Vars:  []*autofunc.Variable{inVar},
		Input: inVar,
	}
	test.FullCheck(t)
}

func TestSliceCols(t *testing.T) {
	in := &autofunc.Variable{Vector: []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}}
	out := sliceCols(in, 2, 4, 1, 3).Output()
	expected := linalg.Vector{2, 3, 6, 7}
	if !vecsClose(out, expected) {
		t.Errorf("expected %v but got %v", expected, out)
	}

	f := &sliceColsFunc{Rows: 3, Cols: 5, Start: 1, End: 4}
	inVar := &autofunc.Variable{Vector: randomTestVec(15)}
	test := functest.FuncChecker{
		F:     f,
		Vars:  []*autofunc.Variable{inVar},
		Input: inVar,
	}
	test.FullCheck(t)
}

func TestPickRows(t *testing.T) {
	in := &autofunc.Variable{Vector: []float64{
		1, 2, 3,
		4, 5, 6,
	}}
	out := pickRows(in, 2, 3, []int{2, 0}).Output()
	expected := linalg.Vector{3, 4}
	if !vecsClose(out, expected) {
		t.Errorf("expected %v but got %v", expected, out)
	}

	f := &pickRowsFunc{Rows: 3, Cols: 4, Indices: []int{1, 3, 0}}
	inVar := &autofunc.Variable{Vector: randomTestVec(12)}
	test := functest.FuncChecker{
		F:     f,
		Vars:  []*autofunc.Variable{inVar},
		Input: inVar,
	}
	test.FullCheck(t)
}

func TestEmbeddingLookup(t *testing.T) {
	e := NewEmbedding(4, 3)
	out := e.Lookup([]int{2, 0, 2}).Output()
	if len(out) != 9 {
		t.Fatalf("expected 9 outputs but got %d", len(out))
	}
	for i := 0; i < 3; i++ {
		if out[i] != e.Weights.Vector[6+i] {
			t.Error("row 0 should be embedding row 2")
		}
		if out[i] != out[6+i] {
			t.Error("rows 0 and 2 should agree")
		}
	}
}

func TestEmbeddingGradient(t *testing.T) {
	e := NewEmbedding(4, 2)
	res := e.Lookup([]int{1, 1, 3})
	grad := autofunc.NewGradient(e.Parameters())
	res.PropagateGradient(linalg.Vector{1, 2, 3, 4, 5, 6}, grad)

	expected := linalg.Vector{0, 0, 4, 6, 0, 0, 5, 6}
	if !vecsClose(grad[e.Weights], expected) {
		t.Errorf("expected %v but got %v", expected, grad[e.Weights])
	}
}

func vecsClose(d1, d2 linalg.Vector) bool {
	if len(d1) != len(d2) {
		return false
	}
	for i, x := range d1 {
		if diff := x - d2[i]; diff > 1e-5 || diff < -1e-5 {
			return false
		}
	}
	return true
}
