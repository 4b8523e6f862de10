package hope

import (
	"testing"

	"github.com/unixpickle/num-analysis/linalg"
)

func dualRateTestOptimizer() *DualRateOptimizer {
	return &DualRateOptimizer{
		Config: DualRateConfig{
			Enabled:                true,
			FastLRScale:            1,
			SlowLRScale:            0.1,
			FastEMA:                0.5,
			SlowEMA:                0.5,
			SyncInterval:           2,
			GradientCompressionDim: 2,
		},
	}
}

func TestDualRateDisabled(t *testing.T) {
	d := &DualRateOptimizer{
		Config: DualRateConfig{GradientCompressionDim: 2},
	}
	state := d.InitState(1, 1, 2, 3)

	d.UpdateFastParams(state, []linalg.Vector{{1, 2, 3, 4, 5, 6}}, 0.1)
	d.UpdateSlowParams(state, 0.1)
	d.Sync(state)
	if state.StepCount != 0 {
		t.Error("disabled optimizer should not count steps")
	}
	for _, v := range state.FastParams[0] {
		if v != 0 {
			t.Error("disabled optimizer should not touch parameters")
		}
	}
	if d.ShouldSync(state) {
		t.Error("disabled optimizer should never request a sync")
	}

	compressed := d.CompressGradient(linalg.Vector{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	if len(compressed) != 2 {
		t.Fatalf("expected length 2 but got %d", len(compressed))
	}
	for _, v := range compressed {
		if v != 0 {
			t.Error("disabled compression should produce zeros")
		}
	}
}

func TestDualRateFastUpdate(t *testing.T) {
	d := dualRateTestOptimizer()
	state := d.InitState(1, 1, 1, 3)

	grad := linalg.Vector{1, 2, 3}
	d.UpdateFastParams(state, []linalg.Vector{grad}, 0.1)
	if state.StepCount != 1 {
		t.Errorf("expected step count 1 but got %d", state.StepCount)
	}
	if !vecsClose(state.FastParams[0], linalg.Vector{-0.1, -0.2, -0.3}) {
		t.Errorf("unexpected fast params %v", state.FastParams[0])
	}
	if !vecsClose(state.FastEMA[0], linalg.Vector{-0.05, -0.1, -0.15}) {
		t.Errorf("unexpected fast EMA %v", state.FastEMA[0])
	}

	d.UpdateFastParams(state, []linalg.Vector{grad}, 0.1)
	if !vecsClose(state.FastParams[0], linalg.Vector{-0.2, -0.4, -0.6}) {
		t.Errorf("unexpected fast params %v", state.FastParams[0])
	}
	if !vecsClose(state.FastEMA[0], linalg.Vector{-0.125, -0.25, -0.375}) {
		t.Errorf("unexpected fast EMA %v", state.FastEMA[0])
	}

	// Extra gradient arrays past the level count are ignored.
	d.UpdateFastParams(state, []linalg.Vector{grad, {9, 9, 9}}, 0.1)
	if state.StepCount != 3 {
		t.Errorf("expected step count 3 but got %d", state.StepCount)
	}
}

func TestDualRateSlowUpdate(t *testing.T) {
	d := dualRateTestOptimizer()
	state := d.InitState(1, 1, 1, 2)
	state.FastEMA[0] = linalg.Vector{1, -2}

	d.UpdateSlowParams(state, 0.1)
	if !vecsClose(state.SlowParams[0], linalg.Vector{0.01, -0.02}) {
		t.Errorf("unexpected slow params %v", state.SlowParams[0])
	}
	if !vecsClose(state.SlowEMA[0], linalg.Vector{0.005, -0.01}) {
		t.Errorf("unexpected slow EMA %v", state.SlowEMA[0])
	}
}

func TestDualRateSync(t *testing.T) {
	d := dualRateTestOptimizer()
	state := d.InitState(2, 1, 1, 2)

	// A fresh state is on a sync boundary.
	if !d.ShouldSync(state) {
		t.Error("expected sync at step 0")
	}
	state.StepCount = 1
	if d.ShouldSync(state) {
		t.Error("did not expect sync at step 1")
	}
	state.StepCount = 2
	if !d.ShouldSync(state) {
		t.Error("expected sync at step 2")
	}

	state.FastEMA[0] = linalg.Vector{3, 4}
	state.FastEMA[1] = linalg.Vector{-1, 0}
	d.Sync(state)
	d.Sync(state)
	if !vecsClose(state.SlowParams[0], linalg.Vector{3, 4}) ||
		!vecsClose(state.SlowParams[1], linalg.Vector{-1, 0}) {
		t.Error("sync should overwrite slow params with the fast EMA")
	}

	// The sync copies: mutating the EMA afterwards must not
	// leak into the slow params.
	state.FastEMA[0][0] = 100
	if state.SlowParams[0][0] != 3 {
		t.Error("sync should not alias the fast EMA")
	}
}

func TestDualRateCompressGradient(t *testing.T) {
	d := dualRateTestOptimizer()

	grad := linalg.Vector{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}
	out := d.CompressGradient(grad, 1, 2, 4)
	if !vecsClose(out, linalg.Vector{3, 4}) {
		t.Errorf("expected [3 4] but got %v", out)
	}

	// A compression dim beyond the hidden size keeps every
	// column of the sequence mean.
	d.Config.GradientCompressionDim = 10
	out = d.CompressGradient(grad, 1, 2, 4)
	if !vecsClose(out, linalg.Vector{3, 4, 5, 6}) {
		t.Errorf("expected [3 4 5 6] but got %v", out)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on dimension mismatch")
		}
	}()
	d.CompressGradient(grad, 1, 3, 4)
}
