package hope

import (
	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
)

// A SeqBatch is a batch of equal-length sequences of vectors,
// packed row-major into a single autofunc.Result: lane b,
// position t, component i lives at (b*Seq+t)*Size + i.
type SeqBatch struct {
	Batch int
	Seq   int
	Size  int

	Res autofunc.Result
}

func newSeqBatch(batch, seq, size int, res autofunc.Result) *SeqBatch {
	if len(res.Output()) != batch*seq*size {
		panic("SeqBatch dimensions do not match result size")
	}
	return &SeqBatch{Batch: batch, Seq: seq, Size: size, Res: res}
}

// constSeqBatch wraps raw data (e.g. carried state) as a
// constant graph input.
func constSeqBatch(batch, seq, size int, data linalg.Vector) *SeqBatch {
	return newSeqBatch(batch, seq, size, &autofunc.Variable{Vector: data})
}

// zeroSeqBatch returns an all-zero constant batch.
func zeroSeqBatch(batch, seq, size int) *SeqBatch {
	return constSeqBatch(batch, seq, size, make(linalg.Vector, batch*seq*size))
}

// Rows is the number of packed rows (Batch*Seq).
func (s *SeqBatch) Rows() int {
	return s.Batch * s.Seq
}

// Lane returns lane b as a [Seq x Size] sub-result.
func (s *SeqBatch) Lane(b int) autofunc.Result {
	stride := s.Seq * s.Size
	return autofunc.Slice(s.Res, b*stride, (b+1)*stride)
}

// Data copies the current numeric contents out of the graph.
func (s *SeqBatch) Data() linalg.Vector {
	return s.Res.Output().Copy()
}

// add returns the elementwise sum of two equally-shaped batches.
func (s *SeqBatch) add(other *SeqBatch) *SeqBatch {
	return newSeqBatch(s.Batch, s.Seq, s.Size, autofunc.Add(s.Res, other.Res))
}
