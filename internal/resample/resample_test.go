package resample

import (
	"testing"

	"pw-convoverb/internal/readable"
)

func TestAdapterSameRateIsNearIdentityLength(t *testing.T) {
	t.Parallel()

	m := readable.NewMem()
	w := readable.NewChanWrap(m, 0)

	a := NewAdapter(w, 0, 48000)

	if got, want := a.Length(), 15; got != want {
		t.Fatalf("Length() = %d, want %d", got, want)
	}
}

func TestAdapterUpsampleLengthensStream(t *testing.T) {
	t.Parallel()

	m := readable.NewMem()
	w := readable.NewChanWrap(m, 0)

	// Treat the mem source as if it were natively at 24kHz and resample to 48kHz.
	src := &fixedRateWrap{Readable: w, rate: 24000}
	a := NewAdapter(src, 0, 48000)

	if a.Length() <= w.Length() {
		t.Fatalf("upsampled length %d should exceed source length %d", a.Length(), w.Length())
	}
}

func TestAdapterSequentialReadsTrackPosition(t *testing.T) {
	t.Parallel()

	m := readable.NewMem()
	w := readable.NewChanWrap(m, 0)
	a := NewAdapter(w, 0, w.SampleRate())

	dst := make([]float32, 4)

	n1, err := a.Read(dst, 0, 4, 0)
	if err != nil {
		t.Fatal(err)
	}

	n2, err := a.Read(dst, n1, 4, 0)
	if err != nil {
		t.Fatal(err)
	}

	if n2 == 0 {
		t.Fatal("expected continued read to produce samples")
	}
}

type fixedRateWrap struct {
	readable.Readable
	rate float64
}

func (f *fixedRateWrap) SampleRate() float64 { return f.rate }
