package hope

import "github.com/unixpickle/num-analysis/linalg"

// A DualRateOptimizer maintains fast- and slow-moving shadow
// copies of per-level activity, independent of the primary
// gradient optimizer. It consumes externally supplied
// gradient-like arrays and periodically snaps the slow copies
// to the fast EMA.
//
// Every method is a no-op when the config disables the
// optimizer.
type DualRateOptimizer struct {
	Config DualRateConfig
}

// A DualRateState holds the per-level shadow parameters and
// their EMAs, each packed [batch, seq, hidden].
type DualRateState struct {
	FastParams []linalg.Vector
	SlowParams []linalg.Vector
	FastEMA    []linalg.Vector
	SlowEMA    []linalg.Vector

	// StepCount increments once per UpdateFastParams call.
	StepCount int
}

// InitState returns a zeroed state for the given geometry.
func (d *DualRateOptimizer) InitState(numLevels, batch, seq, hidden int) *DualRateState {
	zeros := func() []linalg.Vector {
		res := make([]linalg.Vector, numLevels)
		for i := range res {
			res[i] = make(linalg.Vector, batch*seq*hidden)
		}
		return res
	}
	return &DualRateState{
		FastParams: zeros(),
		SlowParams: zeros(),
		FastEMA:    zeros(),
		SlowEMA:    zeros(),
	}
}

// UpdateFastParams applies one gradient-descent step to each
// level's fast parameters and folds the result into the fast
// EMA. The step counter increments once per call, not per
// level.
func (d *DualRateOptimizer) UpdateFastParams(state *DualRateState, gradients []linalg.Vector, lr float64) {
	if !d.Config.Enabled {
		return
	}
	fastLR := lr * d.Config.FastLRScale
	for level, grad := range gradients {
		if level >= len(state.FastParams) {
			continue
		}
		state.FastParams[level].Add(grad.Copy().Scale(-fastLR))
		emaInto(state.FastEMA[level], state.FastParams[level], d.Config.FastEMA)
	}
	state.StepCount++
}

// UpdateSlowParams pulls each level's slow parameters toward
// the fast EMA and folds the result into the slow EMA.
func (d *DualRateOptimizer) UpdateSlowParams(state *DualRateState, lr float64) {
	if !d.Config.Enabled {
		return
	}
	slowLR := lr * d.Config.SlowLRScale
	for level := range state.SlowParams {
		diff := state.FastEMA[level].Copy().Add(state.SlowParams[level].Copy().Scale(-1))
		state.SlowParams[level].Add(diff.Scale(slowLR))
		emaInto(state.SlowEMA[level], state.SlowParams[level], d.Config.SlowEMA)
	}
}

// ShouldSync reports whether the step counter has reached a
// sync boundary.
func (d *DualRateOptimizer) ShouldSync(state *DualRateState) bool {
	return d.Config.Enabled && state.StepCount%d.Config.SyncInterval == 0
}

// Sync hard-overwrites the slow parameters with the fast EMA.
// Calling it again with no intervening fast update is a no-op.
func (d *DualRateOptimizer) Sync(state *DualRateState) {
	if !d.Config.Enabled {
		return
	}
	for level := range state.SlowParams {
		state.SlowParams[level] = state.FastEMA[level].Copy()
	}
}

// CompressGradient averages a packed [batch, seq, hidden]
// gradient over the sequence axis, then truncates each row to
// its first min(compressionDim, hidden) columns. This is a
// deliberate truncation, not a projection: downstream
// consumers rely on which columns survive.
func (d *DualRateOptimizer) CompressGradient(gradient linalg.Vector, batch, seq, hidden int) linalg.Vector {
	if !d.Config.Enabled {
		return make(linalg.Vector, batch*d.Config.GradientCompressionDim)
	}
	if len(gradient) != batch*seq*hidden {
		panic("CompressGradient dimension mismatch")
	}
	width := d.Config.GradientCompressionDim
	if width > hidden {
		width = hidden
	}
	out := make(linalg.Vector, batch*width)
	for b := 0; b < batch; b++ {
		mean := make(linalg.Vector, hidden)
		for t := 0; t < seq; t++ {
			mean.Add(gradient[(b*seq+t)*hidden : (b*seq+t+1)*hidden])
		}
		mean.Scale(1 / float64(seq))
		copy(out[b*width:(b+1)*width], mean[:width])
	}
	return out
}
