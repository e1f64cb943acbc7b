// Package resample implements a Resampler adapter: it wraps a
// single-channel readable.Readable at its native rate and presents it as a
// Readable at a target rate.
//
// The sinc kernel is pkg/resampler's windowed-sinc implementation (see
// DESIGN.md for why it was kept over a streaming libsamplerate-style
// binding). This package owns the adapter contract around that kernel:
// tracking fractional drift across calls and resetting cleanly on a
// non-contiguous read.
package resample

import (
	"math"

	"pw-convoverb/internal/readable"
	"pw-convoverb/pkg/resampler"
)

// Adapter presents src's single channel at dstRate.
type Adapter struct {
	src     readable.Readable
	channel int
	dstRate float64
	ratio   float64

	kernel *resampler.Resampler

	initialized    bool
	sourcePosition float64
	fractPosition  float64
	nextOutPos     int
}

// NewAdapter wraps channel ch of src, presenting it at dstRate. If src's
// native rate already equals dstRate, the adapter still applies (as an
// identity pass-through through the kernel), so callers do not need to
// special-case same-rate IRs.
func NewAdapter(src readable.Readable, ch int, dstRate float64) *Adapter {
	srcRate := src.SampleRate()
	if srcRate <= 0 {
		srcRate = dstRate
	}

	ratio := 1.0
	if srcRate > 0 {
		ratio = dstRate / srcRate
	}

	return &Adapter{
		src:     src,
		channel: ch,
		dstRate: dstRate,
		ratio:   ratio,
		kernel:  resampler.New(),
	}
}

// Read implements readable.Readable.
func (a *Adapter) Read(dst []float32, start, cnt, _ int) (int, error) {
	if cnt <= 0 {
		return 0, nil
	}

	if !a.initialized || start != a.nextOutPos {
		a.sourcePosition = float64(start) / a.ratio
		a.fractPosition = 0
		a.initialized = true
	}

	srcCnt := float64(cnt) / a.ratio

	scnt := math.Ceil(srcCnt - a.fractPosition)
	if scnt < 1 {
		scnt = 1
	}

	a.fractPosition += scnt - srcCnt

	srcStart := int(math.Floor(a.sourcePosition))

	srcLen := int(scnt) + 1 // one guard frame so the kernel has interpolation context

	remaining := a.src.Length() - srcStart
	if remaining <= 0 {
		return 0, nil
	}

	if srcLen > remaining {
		srcLen = remaining
	}

	buf := make([]float32, srcLen)

	got, err := a.src.Read(buf, srcStart, srcLen, a.channel)
	if err != nil {
		return 0, err
	}

	buf = buf[:got]

	resampled, err := a.kernel.Resample(buf, a.src.SampleRate(), a.dstRate)
	if err != nil {
		return 0, err
	}

	n := len(resampled)
	if n > cnt {
		n = cnt
	}

	copy(dst[:n], resampled[:n])

	consumed := got
	if consumed > int(scnt) {
		consumed = int(scnt) // the guard frame is context only, not consumed
	}

	a.sourcePosition += float64(consumed)
	a.nextOutPos = start + n

	if n < cnt && got > 0 && srcStart+got < a.src.Length() {
		more, err := a.Read(dst[n:cnt], start+n, cnt-n, 0)
		if err != nil {
			return n, err
		}

		n += more
		a.nextOutPos = start + n
	}

	return n, nil
}

// Length implements readable.Readable: ceil(src_len * ratio), minus one to
// stay a safe upper bound against rounding at the boundary.
func (a *Adapter) Length() int {
	n := int(math.Ceil(float64(a.src.Length()) * a.ratio))
	if n == 0 {
		return 0
	}

	return n - 1
}

// Channels implements readable.Readable, always 1 (an Adapter wraps one
// channel of its source, matching ChanWrap's contract).
func (a *Adapter) Channels() int { return 1 }

// SampleRate implements readable.Readable.
func (a *Adapter) SampleRate() float64 { return a.dstRate }
