// Package readable implements a uniform PCM source abstraction: a
// single-channel-at-a-time, random-access read interface over whatever
// concretely backs an impulse response (a sound file, a memory-mapped MP3 —
// unavailable in this build, see mp3.go — or the built-in test signal), plus
// the ChanWrap adapter that narrows any multi-channel Readable down to one
// channel.
//
// Sources are a closed set of concrete types behind one interface rather
// than a deep inheritance hierarchy: Readable itself is the tagged-variant
// dispatch point, and adapters (ChanWrap, and internal/resample.Adapter)
// hold a boxed Readable by composition.
package readable

// Readable is a read-only, single- or multi-channel PCM stream. Implementations
// must be safe for concurrent Read calls with disjoint arguments, and repeated
// reads with identical arguments must return identical data — sources are
// logically immutable for the engine's lifetime even when backed by mutable
// decoder state.
type Readable interface {
	// Read copies up to cnt frames of channel ch starting at frame start into
	// dst (which must have length >= cnt) and returns the number of frames
	// actually written. A short read signals end of stream.
	Read(dst []float32, start, cnt, channel int) (int, error)

	// Length returns the total number of frames in the stream.
	Length() int

	// Channels returns the native channel count.
	Channels() int

	// SampleRate returns the native sample rate in Hz.
	SampleRate() float64
}

// ChanWrap narrows a multi-channel Readable to a single fixed channel,
// presenting Channels() == 1.
type ChanWrap struct {
	src Readable
	ch  int
}

// NewChanWrap binds src's channel ch as a single-channel Readable.
func NewChanWrap(src Readable, ch int) *ChanWrap {
	return &ChanWrap{src: src, ch: ch}
}

// Read implements Readable; the channel argument is ignored (always 0 or the
// bound channel — both resolve to the same underlying column).
func (c *ChanWrap) Read(dst []float32, start, cnt, _ int) (int, error) {
	return c.src.Read(dst, start, cnt, c.ch)
}

// Length implements Readable.
func (c *ChanWrap) Length() int { return c.src.Length() }

// Channels implements Readable, always reporting 1.
func (c *ChanWrap) Channels() int { return 1 }

// SampleRate implements Readable.
func (c *ChanWrap) SampleRate() float64 { return c.src.SampleRate() }
