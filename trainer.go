package hope

import (
	"math/rand"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/sgd"
	"github.com/unixpickle/weakai/neuralnet"
)

// A Sequence is one training sample: a token window and its
// next-token targets.
type Sequence struct {
	Tokens  []int
	Targets []int
}

// A Trainer computes cross-entropy gradients for next-token
// prediction over batches of Sequence samples.
//
// Trainer implements sgd.Gradienter: wrap it in an sgd.Adam
// and drive it with sgd.SGD. Each gradient computation uses a
// fresh carry; callers that thread state across windows should
// call Model.Forward themselves.
type Trainer struct {
	Model *Model

	// LossHook, if non-nil, receives the mean loss of each
	// gradient computation.
	LossHook func(loss float64)
}

// Gradient computes the parameter gradient of the mean
// cross-entropy over the flattened [batch*seq, vocab] logits.
func (t *Trainer) Gradient(s sgd.SampleSet) autofunc.Gradient {
	c := t.Model.Config
	n := s.Len()
	tokens := make([][]int, n)
	targets := make([]int, 0, n*c.SeqLen)
	for i := 0; i < n; i++ {
		seq := s.GetSample(i).(Sequence)
		tokens[i] = seq.Tokens
		targets = append(targets, seq.Targets...)
	}

	carry := t.Model.InitialCarry(n)
	_, out := t.Model.Forward(tokens, carry)

	rows := n * c.SeqLen
	logProbs := applyRows(&neuralnet.LogSoftmaxLayer{}, out.Logits.Res,
		rows, c.VocabSize)
	picked := pickRows(logProbs, rows, c.VocabSize, targets)
	loss := autofunc.Scale(autofunc.SumAll(picked), -1/float64(rows))

	grad := autofunc.NewGradient(t.Model.Parameters())
	loss.PropagateGradient(linalg.Vector{1}, grad)

	if t.LossHook != nil {
		t.LossHook(loss.Output()[0])
	}
	return grad
}

// Train runs Adam-adjusted SGD over the samples.
func (t *Trainer) Train(samples sgd.SampleSet, stepSize float64, epochs, batchSize int) {
	adam := &sgd.Adam{Gradienter: t}
	sgd.SGD(adam, samples, stepSize, epochs, batchSize)
}

// RandomSamples generates synthetic next-token samples for
// smoke-testing a configuration.
func RandomSamples(count, seqLen, vocabSize int) sgd.SampleSet {
	var res sgd.SliceSampleSet
	for i := 0; i < count; i++ {
		tokens := make([]int, seqLen)
		for j := range tokens {
			tokens[j] = rand.Intn(vocabSize)
		}
		targets := make([]int, seqLen)
		copy(targets, tokens[1:])
		res = append(res, Sequence{Tokens: tokens, Targets: targets})
	}
	return res
}
