package hope

import (
	"encoding/json"
	"math"
	"math/rand"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/serializer"
)

func init() {
	var e Embedding
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEmbedding)
}

// An Embedding is a learned table of vectors indexed by id.
type Embedding struct {
	Count int
	Size  int

	Weights *autofunc.Variable
}

// NewEmbedding creates a randomized embedding table.
func NewEmbedding(count, size int) *Embedding {
	vec := make(linalg.Vector, count*size)
	stddev := 1 / math.Sqrt(float64(size))
	for i := range vec {
		vec[i] = rand.NormFloat64() * stddev
	}
	return &Embedding{
		Count:   count,
		Size:    size,
		Weights: &autofunc.Variable{Vector: vec},
	}
}

// DeserializeEmbedding deserializes an Embedding.
func DeserializeEmbedding(d []byte) (*Embedding, error) {
	var e Embedding
	if err := json.Unmarshal(d, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Lookup returns the concatenated rows for the given ids.
func (e *Embedding) Lookup(ids []int) autofunc.Result {
	for _, id := range ids {
		if id < 0 || id >= e.Count {
			panic("embedding id out of range")
		}
	}
	out := make(linalg.Vector, len(ids)*e.Size)
	for i, id := range ids {
		copy(out[i*e.Size:], e.Weights.Vector[id*e.Size:(id+1)*e.Size])
	}
	return &embedResult{
		OutVec:  out,
		IDs:     ids,
		Weights: e.Weights,
		Size:    e.Size,
	}
}

// Parameters returns the embedding table variable.
func (e *Embedding) Parameters() []*autofunc.Variable {
	return []*autofunc.Variable{e.Weights}
}

// SerializerType returns the unique ID used to serialize
// Embeddings with the serializer package.
func (e *Embedding) SerializerType() string {
	return "github.com/logos-42/HOPE.Embedding"
}

// Serialize encodes the embedding as JSON.
func (e *Embedding) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

type embedResult struct {
	OutVec  linalg.Vector
	IDs     []int
	Weights *autofunc.Variable
	Size    int
}

func (e *embedResult) Output() linalg.Vector {
	return e.OutVec
}

func (e *embedResult) Constant(g autofunc.Gradient) bool {
	return e.Weights.Constant(g)
}

func (e *embedResult) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	grad, ok := g[e.Weights]
	if !ok {
		return
	}
	for i, id := range e.IDs {
		row := grad[id*e.Size : (id+1)*e.Size]
		row.Add(upstream[i*e.Size : (i+1)*e.Size])
	}
}

// matVec multiplies a row-major rows-by-cols matrix by a
// column vector, both gradient-carrying.
func matVec(mat autofunc.Result, rows, cols int, vec autofunc.Result) autofunc.Result {
	if len(mat.Output()) != rows*cols || len(vec.Output()) != cols {
		panic("matVec dimension mismatch")
	}
	out := make(linalg.Vector, rows)
	m := mat.Output()
	v := vec.Output()
	for r := 0; r < rows; r++ {
		row := m[r*cols : (r+1)*cols]
		out[r] = row.Dot(v)
	}
	return &matVecResult{
		OutVec: out,
		Mat:    mat,
		Vec:    vec,
		Rows:   rows,
		Cols:   cols,
	}
}

type matVecResult struct {
	OutVec linalg.Vector
	Mat    autofunc.Result
	Vec    autofunc.Result
	Rows   int
	Cols   int
}

func (m *matVecResult) Output() linalg.Vector {
	return m.OutVec
}

func (m *matVecResult) Constant(g autofunc.Gradient) bool {
	return m.Mat.Constant(g) && m.Vec.Constant(g)
}

func (m *matVecResult) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	matOut := m.Mat.Output()
	vecOut := m.Vec.Output()
	if !m.Mat.Constant(g) {
		matGrad := make(linalg.Vector, len(matOut))
		for r := 0; r < m.Rows; r++ {
			u := upstream[r]
			row := matGrad[r*m.Cols : (r+1)*m.Cols]
			row.Add(vecOut.Copy().Scale(u))
		}
		m.Mat.PropagateGradient(matGrad, g)
	}
	if !m.Vec.Constant(g) {
		vecGrad := make(linalg.Vector, len(vecOut))
		for r := 0; r < m.Rows; r++ {
			row := matOut[r*m.Cols : (r+1)*m.Cols]
			vecGrad.Add(row.Copy().Scale(upstream[r]))
		}
		m.Vec.PropagateGradient(vecGrad, g)
	}
}

// vecMat left-multiplies a row vector by a row-major
// rows-by-cols matrix, producing a cols-length vector.
func vecMat(vec autofunc.Result, mat autofunc.Result, rows, cols int) autofunc.Result {
	if len(mat.Output()) != rows*cols || len(vec.Output()) != rows {
		panic("vecMat dimension mismatch")
	}
	out := make(linalg.Vector, cols)
	m := mat.Output()
	v := vec.Output()
	for r := 0; r < rows; r++ {
		row := m[r*cols : (r+1)*cols]
		out.Add(row.Copy().Scale(v[r]))
	}
	return &vecMatResult{
		OutVec: out,
		Mat:    mat,
		Vec:    vec,
		Rows:   rows,
		Cols:   cols,
	}
}

type vecMatResult struct {
	OutVec linalg.Vector
	Mat    autofunc.Result
	Vec    autofunc.Result
	Rows   int
	Cols   int
}

func (v *vecMatResult) Output() linalg.Vector {
	return v.OutVec
}

func (v *vecMatResult) Constant(g autofunc.Gradient) bool {
	return v.Mat.Constant(g) && v.Vec.Constant(g)
}

func (v *vecMatResult) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	matOut := v.Mat.Output()
	vecOut := v.Vec.Output()
	if !v.Vec.Constant(g) {
		vecGrad := make(linalg.Vector, v.Rows)
		for r := 0; r < v.Rows; r++ {
			row := matOut[r*v.Cols : (r+1)*v.Cols]
			vecGrad[r] = row.Dot(upstream)
		}
		v.Vec.PropagateGradient(vecGrad, g)
	}
	if !v.Mat.Constant(g) {
		matGrad := make(linalg.Vector, len(matOut))
		for r := 0; r < v.Rows; r++ {
			row := matGrad[r*v.Cols : (r+1)*v.Cols]
			row.Add(upstream.Copy().Scale(vecOut[r]))
		}
		v.Mat.PropagateGradient(matGrad, g)
	}
}

// sliceCols extracts the column range [start, end) from every
// row of a packed rows-by-cols matrix.
func sliceCols(in autofunc.Result, rows, cols, start, end int) autofunc.Result {
	if start < 0 || end > cols || start >= end {
		panic("sliceCols range out of bounds")
	}
	if len(in.Output()) != rows*cols {
		panic("sliceCols dimension mismatch")
	}
	width := end - start
	out := make(linalg.Vector, rows*width)
	data := in.Output()
	for r := 0; r < rows; r++ {
		copy(out[r*width:], data[r*cols+start:r*cols+end])
	}
	return &sliceColsResult{
		OutVec: out,
		In:     in,
		Rows:   rows,
		Cols:   cols,
		Start:  start,
		End:    end,
	}
}

type sliceColsResult struct {
	OutVec linalg.Vector
	In     autofunc.Result
	Rows   int
	Cols   int
	Start  int
	End    int
}

func (s *sliceColsResult) Output() linalg.Vector {
	return s.OutVec
}

func (s *sliceColsResult) Constant(g autofunc.Gradient) bool {
	return s.In.Constant(g)
}

func (s *sliceColsResult) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	if s.In.Constant(g) {
		return
	}
	width := s.End - s.Start
	downstream := make(linalg.Vector, s.Rows*s.Cols)
	for r := 0; r < s.Rows; r++ {
		copy(downstream[r*s.Cols+s.Start:r*s.Cols+s.End],
			upstream[r*width:(r+1)*width])
	}
	s.In.PropagateGradient(downstream, g)
}

// pickRows selects component indices[r] from row r of a packed
// rows-by-cols matrix.
func pickRows(in autofunc.Result, rows, cols int, indices []int) autofunc.Result {
	if len(indices) != rows || len(in.Output()) != rows*cols {
		panic("pickRows dimension mismatch")
	}
	out := make(linalg.Vector, rows)
	data := in.Output()
	for r, idx := range indices {
		if idx < 0 || idx >= cols {
			panic("pickRows index out of range")
		}
		out[r] = data[r*cols+idx]
	}
	return &pickRowsResult{
		OutVec:  out,
		In:      in,
		Rows:    rows,
		Cols:    cols,
		Indices: indices,
	}
}

type pickRowsResult struct {
	OutVec  linalg.Vector
	In      autofunc.Result
	Rows    int
	Cols    int
	Indices []int
}

func (p *pickRowsResult) Output() linalg.Vector {
	return p.OutVec
}

func (p *pickRowsResult) Constant(g autofunc.Gradient) bool {
	return p.In.Constant(g)
}

func (p *pickRowsResult) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	if p.In.Constant(g) {
		return
	}
	downstream := make(linalg.Vector, p.Rows*p.Cols)
	for r, idx := range p.Indices {
		downstream[r*p.Cols+idx] = upstream[r]
	}
	p.In.PropagateGradient(downstream, g)
}

// applyRows applies f independently to every row of a packed
// rows-by-cols matrix and concatenates the outputs.
func applyRows(f autofunc.Func, in autofunc.Result, rows, cols int) autofunc.Result {
	if len(in.Output()) != rows*cols {
		panic("applyRows dimension mismatch")
	}
	outs := make([]autofunc.Result, rows)
	for r := 0; r < rows; r++ {
		outs[r] = f.Apply(autofunc.Slice(in, r*cols, (r+1)*cols))
	}
	return autofunc.Concat(outs...)
}
