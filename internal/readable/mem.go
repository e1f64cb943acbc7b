package readable

// Mem is the built-in 4-channel, 16-frame test impulse selected by the
// "mem:" path prefix. Its values are taken verbatim from the reference
// implementation: channel 0 (L->L and the mono-to-mono/mono case) is a unit
// impulse, channel 1 (L->R / M->R) is -20dB, channel 2 (R->L) is -6dB, and
// channel 3 (R->R) is -10.5dB — a fixed, deterministic 4-channel routing
// matrix useful for exercising Stereo routing without a real IR file.
type Mem struct {
	data [4][16]float32
}

// NewMem constructs the built-in test impulse.
func NewMem() *Mem {
	m := &Mem{}
	m.data[0][0] = 1.0
	m.data[1][0] = 0.1
	m.data[2][0] = 0.5
	m.data[3][0] = 0.3

	return m
}

// Read implements Readable.
func (m *Mem) Read(dst []float32, start, cnt, channel int) (int, error) {
	if channel < 0 || channel > 3 {
		return 0, nil
	}

	n := 0

	for i := 0; i < cnt; i++ {
		frame := start + i
		if frame < 0 || frame >= len(m.data[channel]) {
			break
		}

		dst[i] = m.data[channel][frame]
		n++
	}

	return n, nil
}

// Length implements Readable.
func (m *Mem) Length() int { return 16 }

// Channels implements Readable.
func (m *Mem) Channels() int { return 4 }

// SampleRate implements Readable. The test impulse has no intrinsic rate, so
// Mem reports 0 to mean "rate-agnostic"; the IR loader does not resample
// sources that report a rate of 0 or less.
func (m *Mem) SampleRate() float64 { return 0 }
