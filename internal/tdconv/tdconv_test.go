package tdconv

import "testing"

func TestConvolverIdentityTap(t *testing.T) {
	t.Parallel()

	var c Convolver

	ir := []float32{1, 0, 0, 0}
	c.Configure(ir, 0, 1.0)

	in := []float32{1, 2, 3, 4}
	out := make([]float32, len(in))

	c.Run(out, in, len(in))

	for i, v := range in {
		if out[i] != v {
			t.Fatalf("identity tap: out[%d]=%v, want %v", i, out[i], v)
		}
	}
}

func TestConvolverUnconfiguredIsNoOp(t *testing.T) {
	t.Parallel()

	var c Convolver
	if c.Enabled() {
		t.Fatal("zero-value Convolver should not be enabled")
	}

	in := []float32{1, 1, 1}
	out := make([]float32, 3)
	c.Run(out, in, 3)

	for _, v := range out {
		if v != 0 {
			t.Fatalf("unconfigured convolver should not write output, got %v", out)
		}
	}
}

func TestConfigureReadsFullWindowForSmallDelay(t *testing.T) {
	t.Parallel()

	ir := make([]float32, 100)
	for i := range ir {
		ir[i] = float32(i)
	}

	var c Convolver

	c.Configure(ir, 1, 1.0)

	if c.nTaps != MaxTaps {
		t.Fatalf("expected full %d-tap window for small delay, got %d", MaxTaps, c.nTaps)
	}

	if c.taps[0] != ir[1] {
		t.Fatalf("expected tap window to start at delay offset, got %v want %v", c.taps[0], ir[1])
	}
}

func TestConfigureTruncatesNearIREnd(t *testing.T) {
	t.Parallel()

	ir := make([]float32, 40)

	var c Convolver

	c.Configure(ir, 30, 1.0)
	if c.nTaps != 10 {
		t.Fatalf("expected 10 remaining taps, got %d", c.nTaps)
	}
}

func TestDelayLineDelaysByLength(t *testing.T) {
	t.Parallel()

	d := NewDelayLine(4)

	in := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	out := make([]float32, len(in))

	d.Run(out, in, len(in))

	want := []float32{0, 0, 0, 0, 1, 2, 3, 4}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d]=%v want %v", i, out[i], want[i])
		}
	}
}
