package hope

import (
	"math"
	"math/rand"

	"github.com/unixpickle/num-analysis/linalg"
)

// A Runner evaluates a model over a stream of fixed-length
// chunks, carrying recurrent state between chunks.
//
// A Runner serves exactly one logical sequence; concurrent use
// is not supported.
type Runner struct {
	Model *Model

	carry *Carry
}

// Reset discards the current state, starting a new sequence.
func (r *Runner) Reset() {
	r.carry = nil
}

// StepChunk feeds one sequence-length chunk of token ids and
// returns the logits at the final position. The next StepChunk
// works off the state this one produced.
func (r *Runner) StepChunk(tokens []int) linalg.Vector {
	if r.carry == nil {
		r.carry = r.Model.InitialCarry(1)
	}
	_, out := r.Model.Forward([][]int{tokens}, r.carry)
	logits := out.Logits.Data()
	vocab := r.Model.Config.VocabSize
	last := (r.Model.Config.SeqLen - 1) * vocab
	return logits[last : last+vocab]
}

// StepCount returns the number of chunks fed since the last
// Reset.
func (r *Runner) StepCount() int {
	if r.carry == nil {
		return 0
	}
	return r.carry.StepCount
}

// Sample draws a token id from unnormalized logits at the
// given temperature. A temperature of zero or less picks the
// argmax.
func Sample(logits linalg.Vector, temperature float64) int {
	if temperature <= 0 {
		best := 0
		for i, x := range logits {
			if x > logits[best] {
				best = i
			}
		}
		return best
	}

	max := math.Inf(-1)
	for _, x := range logits {
		if x > max {
			max = x
		}
	}
	probs := make([]float64, len(logits))
	var total float64
	for i, x := range logits {
		probs[i] = math.Exp((x - max) / temperature)
		total += probs[i]
	}
	draw := rand.Float64() * total
	for i, p := range probs {
		draw -= p
		if draw < 0 {
			return i
		}
	}
	return len(logits) - 1
}
