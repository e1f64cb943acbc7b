// Package dsp is the host-facing façade over the convolution core: it turns
// a loaded impulse response (from a sound file, an IR library entry, or the
// built-in test signal) into a single shared internal/convproc.Engine sized
// to the façade's input/output routing shape, plus one internal/tdconv.Convolver
// per routed impulse for the leading-edge time-domain head, and handles
// dry/wet mixing and smoothing around them.
package dsp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"pw-convoverb/internal/config"
	"pw-convoverb/internal/convproc"
	"pw-convoverb/internal/pstate"
	"pw-convoverb/internal/readable"
	"pw-convoverb/internal/resample"
	"pw-convoverb/internal/tdconv"
	"pw-convoverb/pkg/irformat"
)

// readSeeker is the subset of io.ReadSeeker pkg/irformat.NewReader needs;
// named locally so call sites read as IR-library-specific.
type readSeeker = io.ReadSeeker

func newByteReadSeeker(data []byte) readSeeker { return bytes.NewReader(data) }

// multiChannelSlice adapts an already-decoded [channel][sample]float32
// buffer (pkg/irformat's ImpulseResponse.Audio.Data shape) to Readable.
type multiChannelSlice struct {
	data [][]float32
	rate float64
}

func newMultiChannelSlice(data [][]float32, rate float64) *multiChannelSlice {
	return &multiChannelSlice{data: data, rate: rate}
}

func (m *multiChannelSlice) Read(dst []float32, start, cnt, channel int) (int, error) {
	if channel < 0 || channel >= len(m.data) {
		return 0, nil
	}

	src := m.data[channel]
	if start >= len(src) {
		return 0, nil
	}

	end := start + cnt
	if end > len(src) {
		end = len(src)
	}

	return copy(dst, src[start:end]), nil
}

func (m *multiChannelSlice) Length() int {
	if len(m.data) == 0 {
		return 0
	}

	return len(m.data[0])
}

func (m *multiChannelSlice) Channels() int       { return len(m.data) }
func (m *multiChannelSlice) SampleRate() float64 { return m.rate }

// ErrNoImpulseResponse is returned by operations that require a loaded IR
// (ProcessBlock degrades to dry passthrough instead, but explicit callers
// like SwitchIR surface this).
var ErrNoImpulseResponse = errors.New("dsp: no impulse response loaded")

// smoothingRate is the one-pole dry/wet gain smoothing time constant divisor;
// a = smoothingRate/sampleRate per control-rate update, chosen to reach a
// target gain change in a few milliseconds without zippering.
const smoothingRate = 2950.0

// snapEpsilon is how close a smoothed gain must get to its target before it
// snaps exactly to it, avoiding an infinite asymptotic tail.
const snapEpsilon = 1e-5

// StateListener is notified of control-surface changes so a UI (TUI, web)
// can stay in sync without polling.
type StateListener interface {
	OnWetLevelChange(level float64)
	OnDryLevelChange(level float64)
	OnIRChange(index int, name string)
}

// IRIndexEntry is a library IR's metadata, independent of pkg/irformat's
// on-disk IndexEntry so the dsp façade doesn't leak the file format's types
// into host/UI code.
type IRIndexEntry struct {
	Name       string
	Category   string
	SampleRate float64
	Channels   int
	Length     int
}

// Duration returns the impulse response's length in seconds.
func (e IRIndexEntry) Duration() float64 {
	if e.SampleRate <= 0 {
		return 0
	}

	return float64(e.Length) / e.SampleRate
}

// GetName, GetCategory, GetSampleRate, GetChannels and GetSamples satisfy
// web.IRIndexEntryAdapter for callers that convert through that interface
// rather than importing dsp directly.
func (e IRIndexEntry) GetName() string        { return e.Name }
func (e IRIndexEntry) GetCategory() string    { return e.Category }
func (e IRIndexEntry) GetSampleRate() float64 { return e.SampleRate }
func (e IRIndexEntry) GetChannels() int       { return e.Channels }
func (e IRIndexEntry) GetSamples() int        { return e.Length }

// maxImpulses bounds the routing matrix: four cross-coupled impulses covers
// the richest mode (Stereo, 4-channel IR); channel_gain/channel_delay are
// indexed the same way.
const maxImpulses = 4

// ConvolutionReverb is the top-level convolution reverb processor: load an
// impulse response, set wet/dry levels, and push audio through ProcessBlock
// or ProcessSample.
type ConvolutionReverb struct {
	mu sync.RWMutex

	sampleRate float64
	channels   int // symmetric host port count; the default routing derivation

	nInWant, nOutWant int // explicit routing override (0 => derive from channels)

	quantum, minPart, maxPart int
	buffered                  bool // false: run_* (unbuffered); true: run_buffered_* (+minPart latency)

	nIn, nOut int // the engine's actual routing shape, set by the last reconfigure

	engine *convproc.Engine    // nil until an IR is loaded
	heads  []*tdconv.Convolver // len nIn*nOut, indexed io_i*nOut+io_o; time-domain head for tail fills

	blockIn      [][]float32         // len nIn, cap quantum: the in-flight, not-yet-fully-arrived block
	blockFill    int                 // samples of blockIn filled so far, 0..quantum-1
	headScratch  [][]float32         // len nOut, cap quantum: scratch accumulator for head convolver output
	bufferedTail []*tdconv.DelayLine // len nOut, one quantum-length delay per output, buffered mode only

	pendingSource readable.Readable // the source reconfigureLocked (re)builds engines from
	irMeta        IRIndexEntry
	irLoaded      bool

	wetTarget, dryTarget float64
	wetX, dryX           float64

	meterIn, meterOut, meterWet []float32 // dB, one slot per output channel

	// Persisted-state-backed controls (internal/pstate).
	irPath            string
	gain              float64
	predelaySamples   int32
	artificialLatency int32
	sumInputs         bool
	channelGain       [maxImpulses]float64
	channelPredelay   [maxImpulses]int32
	dirty             bool

	listeners []StateListener
}

// NewConvolutionReverb constructs a reverb processor for the given sample
// rate and symmetric channel count (channels input ports, channels output
// ports). No impulse response is loaded yet — ProcessBlock/ProcessSample
// pass audio through dry until one is.
func NewConvolutionReverb(sampleRate float64, channels int) *ConvolutionReverb {
	if channels < 1 {
		channels = 1
	}

	return &ConvolutionReverb{
		sampleRate:  sampleRate,
		channels:    channels,
		quantum:     64,
		minPart:     64,
		maxPart:     config.MaxPart,
		wetTarget:   0.3,
		dryTarget:   0.7,
		wetX:        0.3,
		dryX:        0.7,
		meterIn:     make([]float32, channels),
		meterOut:    make([]float32, channels),
		meterWet:    make([]float32, channels),
		gain:        1,
		channelGain: [maxImpulses]float64{1, 1, 1, 1},
	}
}

// NewConvolutionReverbRouting constructs a reverb processor with an explicit
// engine routing shape (nIn input ports, nOut output ports) instead of the
// symmetric derivation NewConvolutionReverb uses — the MonoToStereo (1→2)
// routing mode is only reachable this way, since it has no symmetric host
// port count.
func NewConvolutionReverbRouting(sampleRate float64, nIn, nOut int) *ConvolutionReverb {
	channels := nOut
	if nIn > channels {
		channels = nIn
	}

	r := NewConvolutionReverb(sampleRate, channels)
	r.nInWant, r.nOutWant = nIn, nOut

	return r
}

// routingShape derives the (nIn, nOut) engine shape from channels when no
// explicit override was requested: one port each way for a mono host,
// otherwise one port per host channel each way.
func routingShape(channels int) (nIn, nOut int) {
	if channels <= 1 {
		return 1, 1
	}

	return channels, channels
}

// AddStateListener registers l to be notified of wet/dry/IR changes.
func (r *ConvolutionReverb) AddStateListener(l StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, l)
}

// SetLatency sets the engine's minimum partition size to 1<<blockOrder,
// reconfiguring the currently loaded impulse response (if any) against the
// new latency budget.
func (r *ConvolutionReverb) SetLatency(blockOrder int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := 1 << uint(blockOrder)
	r.quantum = size
	r.minPart = size

	if r.irLoaded {
		return r.reconfigureLocked()
	}

	return nil
}

// SetBuffered switches between the unbuffered run path (tail-only plus
// time-domain head fill on a partial block, no extra reported latency) and
// the buffered run path (always wait for a full quantum, adding minPart of
// reported latency).
func (r *ConvolutionReverb) SetBuffered(buffered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffered = buffered
	r.dirty = true
}

// Latency reports the total latency, in samples, the host should compensate
// for: the persisted artificial latency, plus minPart when buffered mode is
// active.
func (r *ConvolutionReverb) Latency() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lat := int(r.artificialLatency)
	if r.buffered {
		lat += r.minPart
	}

	return lat
}

// SetSampleRate updates the processing rate, resampling the currently loaded
// impulse response (if any) to match.
func (r *ConvolutionReverb) SetSampleRate(sampleRate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sampleRate == r.sampleRate {
		return
	}

	r.sampleRate = sampleRate

	if r.irLoaded {
		_ = r.reconfigureLocked()
	}
}

// SetWetLevel sets the target wet (reverb) mix level; the audible gain
// slews toward it rather than jumping.
func (r *ConvolutionReverb) SetWetLevel(level float64) {
	r.mu.Lock()
	r.wetTarget = clamp01(level)
	r.dirty = true
	listeners := append([]StateListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l.OnWetLevelChange(level)
	}
}

// SetDryLevel sets the target dry (direct) mix level.
func (r *ConvolutionReverb) SetDryLevel(level float64) {
	r.mu.Lock()
	r.dryTarget = clamp01(level)
	r.dirty = true
	listeners := append([]StateListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l.OnDryLevelChange(level)
	}
}

// GetWetLevel returns the current wet level target.
func (r *ConvolutionReverb) GetWetLevel() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.wetTarget
}

// GetDryLevel returns the current dry level target.
func (r *ConvolutionReverb) GetDryLevel() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.dryTarget
}

// SetGain sets the overall output gain multiplier, baked into every routed
// impulse's scale factor at the next reconfigure (reconfiguring immediately
// if an impulse response is already loaded).
func (r *ConvolutionReverb) SetGain(gain float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gain = gain
	r.dirty = true

	if r.irLoaded {
		_ = r.reconfigureLocked()
	}
}

// SetPredelay sets the global pre-delay, in samples, added to every routed
// impulse's channel pre-delay before it is seeded.
func (r *ConvolutionReverb) SetPredelay(samples int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.predelaySamples = samples
	r.dirty = true

	if r.irLoaded {
		_ = r.reconfigureLocked()
	}
}

// SetChannelGain sets channel_gain[c] for routed impulse c (0-3), multiplied
// against the global gain when that impulse is seeded.
func (r *ConvolutionReverb) SetChannelGain(channel int, gain float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channel < 0 || channel >= len(r.channelGain) {
		return
	}

	r.channelGain[channel] = gain
	r.dirty = true

	if r.irLoaded {
		_ = r.reconfigureLocked()
	}
}

// SetChannelPredelay sets channel_delay[c] for routed impulse c (0-3), added
// to the global pre-delay before that impulse is seeded.
func (r *ConvolutionReverb) SetChannelPredelay(channel int, samples int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channel < 0 || channel >= len(r.channelPredelay) {
		return
	}

	r.channelPredelay[channel] = samples
	r.dirty = true

	if r.irLoaded {
		_ = r.reconfigureLocked()
	}
}

// SetArtificialLatency sets the self-declared additional latency reported by
// Latency, on top of whatever buffered mode itself adds.
func (r *ConvolutionReverb) SetArtificialLatency(samples int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.artificialLatency = samples
	r.dirty = true
}

// SetSumInputs enables or disables pre-summing the two physical inputs to
// mono before the routing matrix runs, under Stereo (2-in) routing.
func (r *ConvolutionReverb) SetSumInputs(sum bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sumInputs = sum
	r.dirty = true
}

// SaveState snapshots the persisted parameter table for this reverb,
// suitable for handing to a host's state-save callback.
func (r *ConvolutionReverb) SaveState() pstate.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return pstate.State{
		IR:                r.irPath,
		Gain:              r.gain,
		Predelay:          r.predelaySamples,
		ArtificialLatency: r.artificialLatency,
		SumInputs:         r.sumInputs,
		ChannelGain:       r.channelGain,
		ChannelPredelay:   r.channelPredelay,
	}
}

// RestoreState applies a previously saved parameter table, reloading the
// referenced impulse response if s.IR names a file path. It lowers the
// dirty flag (raised again by any subsequent setter).
func (r *ConvolutionReverb) RestoreState(s pstate.State) error {
	r.mu.Lock()
	r.irPath = s.IR
	r.gain = s.Gain
	r.predelaySamples = s.Predelay
	r.artificialLatency = s.ArtificialLatency
	r.sumInputs = s.SumInputs
	r.channelGain = s.ChannelGain
	r.channelPredelay = s.ChannelPredelay
	r.mu.Unlock()

	if s.IR != "" {
		if err := r.LoadImpulseResponse(s.IR); err != nil {
			return fmt.Errorf("dsp: restore state: %w", err)
		}
	}

	r.mu.Lock()
	r.dirty = false
	r.mu.Unlock()

	return nil
}

// Dirty reports whether any setter has run since the last RestoreState (or
// since construction).
func (r *ConvolutionReverb) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.dirty
}

// GetMetrics returns the input, output and wet-path peak levels in dB for
// channel, last updated by the most recent ProcessBlock call.
func (r *ConvolutionReverb) GetMetrics(channel int) (inputLevel, outputLevel, reverbLevel float32) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if channel < 0 || channel >= len(r.meterIn) {
		return minMeterDB, minMeterDB, minMeterDB
	}

	return r.meterIn[channel], r.meterOut[channel], r.meterWet[channel]
}

// minMeterDB is the meter floor reported for silence (avoids -Inf from log10(0)).
const minMeterDB = -96.0

func peakAbs(data []float32) float32 {
	var peak float32

	for _, v := range data {
		if v < 0 {
			v = -v
		}

		if v > peak {
			peak = v
		}
	}

	return peak
}

func peakToDB(peak float32) float32 {
	if peak <= 0 {
		return minMeterDB
	}

	db := 20 * log10Approx(peak)
	if db < minMeterDB {
		return minMeterDB
	}

	return db
}

// LoadImpulseResponse loads an impulse response from path. An empty path
// (or the "mem:" prefix) routes to the built-in fixed test signal, so there
// is always a loadable IR even with no file on disk.
func (r *ConvolutionReverb) LoadImpulseResponse(path string) error {
	if path == "" || (len(path) >= 4 && path[:4] == "mem:") {
		return r.loadFromReadable(readable.NewMem(), IRIndexEntry{Name: "built-in test signal", Channels: 4, Length: 16, SampleRate: 0})
	}

	sf, err := readable.OpenSoundFilePath(path)
	if err != nil {
		return fmt.Errorf("dsp: load impulse response %q: %w", path, err)
	}

	meta := IRIndexEntry{
		Name:       path,
		SampleRate: sf.SampleRate(),
		Channels:   sf.Channels(),
		Length:     sf.Length(),
	}

	if err := r.loadFromReadable(sf, meta); err != nil {
		return err
	}

	r.mu.Lock()
	r.irPath = path
	r.mu.Unlock()

	return nil
}

// LoadImpulseResponseFromLibrary opens the .irlib file at path and loads the
// entry matching name (if non-empty) or index.
func (r *ConvolutionReverb) LoadImpulseResponseFromLibrary(path, name string, index int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dsp: open IR library %q: %w", path, err)
	}
	defer f.Close()

	return r.loadFromLibraryReader(f, name, index)
}

// LoadImpulseResponseFromBytes loads the entry matching name (if non-empty)
// or index from an already in-memory .irlib image, e.g. an embedded asset.
func (r *ConvolutionReverb) LoadImpulseResponseFromBytes(data []byte, name string, index int) error {
	return r.loadFromLibraryReader(newByteReadSeeker(data), name, index)
}

// SwitchIR loads the entry at irIndex from an in-memory library image and
// returns its name, for callers (the TUI, the web UI) that browse by index.
func (r *ConvolutionReverb) SwitchIR(data []byte, irIndex int) (string, error) {
	if err := r.loadFromLibraryReader(newByteReadSeeker(data), "", irIndex); err != nil {
		return "", err
	}

	r.mu.Lock()
	name := r.irMeta.Name
	idx := irIndex
	r.dirty = true
	listeners := append([]StateListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l.OnIRChange(idx, name)
	}

	return name, nil
}

func (r *ConvolutionReverb) loadFromLibraryReader(rs readSeeker, name string, index int) error {
	reader, err := irformat.NewReader(rs)
	if err != nil {
		return fmt.Errorf("dsp: parse IR library: %w", err)
	}

	var ir *irformat.ImpulseResponse

	if name != "" {
		ir, err = reader.LoadIRByName(name)
	} else {
		ir, err = reader.LoadIR(index)
	}

	if err != nil {
		return fmt.Errorf("dsp: load IR (name=%q index=%d): %w", name, index, err)
	}

	meta := IRIndexEntry{
		Name:       ir.Metadata.Name,
		Category:   ir.Metadata.Category,
		SampleRate: ir.Metadata.SampleRate,
		Channels:   ir.Metadata.Channels,
		Length:     ir.Metadata.Length,
	}

	src := newMultiChannelSlice(ir.Audio.Data, ir.Metadata.SampleRate)

	return r.loadFromReadable(src, meta)
}

// ListLibraryIRs opens the .irlib file at path and lists its entries without
// decoding audio data.
func ListLibraryIRs(path string) ([]IRIndexEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dsp: open IR library %q: %w", path, err)
	}
	defer f.Close()

	return ListLibraryIRsFromReader(f)
}

// ListLibraryIRsFromReader lists the IR entries in an already-open .irlib
// stream (e.g. an embedded asset).
func ListLibraryIRsFromReader(rs readSeeker) ([]IRIndexEntry, error) {
	reader, err := irformat.NewReader(rs)
	if err != nil {
		return nil, fmt.Errorf("dsp: parse IR library: %w", err)
	}

	entries := reader.ListIRs()
	out := make([]IRIndexEntry, len(entries))

	for i, e := range entries {
		out[i] = IRIndexEntry{
			Name:       e.Name,
			Category:   e.Category,
			SampleRate: e.SampleRate,
			Channels:   e.Channels,
			Length:     e.Length,
		}
	}

	return out, nil
}

// loadFromReadable records src as the pending IR source and reconfigures the
// routing matrix and engine from it.
func (r *ConvolutionReverb) loadFromReadable(src readable.Readable, meta IRIndexEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pendingSource = src
	r.irMeta = meta

	return r.reconfigureLocked()
}

// reconfigureLocked rebuilds the routing matrix, the shared engine and the
// per-impulse time-domain heads from r.pendingSource, following the three
// IRChannelConfig routing modes (Mono, MonoToStereo, Stereo) and their
// impulse-seeding formula: for impulse c, ir_c = c mod n_chn selects which
// decoded IR channel feeds it, io_o = c mod n_out and io_i select the engine
// output/input it is routed to, and channel_gain[c]==0 skips it entirely.
func (r *ConvolutionReverb) reconfigureLocked() error {
	src := r.pendingSource
	if src == nil {
		return ErrNoImpulseResponse
	}

	nativeChannels := src.Channels()
	if nativeChannels < 1 {
		nativeChannels = 1
	}

	nIn, nOut := r.nInWant, r.nOutWant
	if nIn == 0 || nOut == 0 {
		nIn, nOut = routingShape(r.channels)
	}

	nChn, nImp := routingCounts(nIn, nOut, nativeChannels)

	decoded := make([][]float32, nChn)
	maxLen := 1

	for ch := 0; ch < nChn; ch++ {
		data, err := r.resampleChannel(src, ch)
		if err != nil {
			return err
		}

		decoded[ch] = data
		if len(data) > maxLen {
			maxLen = len(data)
		}
	}

	cfg, err := config.New(r.quantum, r.minPart, r.maxPart, maxLen, nIn, nOut, 1.0)
	if err != nil {
		return err
	}

	engine, err := convproc.New(cfg, convproc.StopOnLate)
	if err != nil {
		return err
	}

	heads := make([]*tdconv.Convolver, nIn*nOut)
	for i := range heads {
		heads[i] = &tdconv.Convolver{}
	}

	stereoNoCross := nImp == 2 && nIn == 2 && nOut == 2

	for c := 0; c < nImp; c++ {
		irC := c % nChn
		ioO := c % nOut

		ioI := (c / nOut) % nIn
		if stereoNoCross {
			ioI = c % nIn
		}

		gain := r.gain * r.channelGain[c%len(r.channelGain)]
		if gain == 0 {
			continue
		}

		delay := int(r.predelaySamples) + int(r.channelPredelay[c%len(r.channelPredelay)])
		if delay < 0 {
			delay = 0
		}

		data := decoded[irC]
		if len(data) == 0 {
			continue
		}

		scaled := make([]float32, len(data))
		g := float32(gain)

		for i, v := range data {
			scaled[i] = v * g
		}

		if err := engine.ImpdataCreate(ioI, ioO, scaled, delay, delay+len(scaled)); err != nil {
			return fmt.Errorf("dsp: seed impulse %d (in=%d out=%d): %w", c, ioI, ioO, err)
		}

		heads[ioI*nOut+ioO] = buildHead(scaled, delay)
	}

	if err := engine.StartProcess(); err != nil {
		return err
	}

	blockIn := make([][]float32, nIn)
	for i := range blockIn {
		blockIn[i] = make([]float32, r.quantum)
	}

	headScratch := make([][]float32, nOut)
	for o := range headScratch {
		headScratch[o] = make([]float32, r.quantum)
	}

	bufferedTail := make([]*tdconv.DelayLine, nOut)
	for o := range bufferedTail {
		bufferedTail[o] = tdconv.NewDelayLine(nextPow2(r.minPart))
	}

	r.engine = engine
	r.heads = heads
	r.nIn, r.nOut = nIn, nOut
	r.blockIn = blockIn
	r.blockFill = 0
	r.headScratch = headScratch
	r.bufferedTail = bufferedTail

	if nOut > len(r.meterIn) {
		r.meterIn = make([]float32, nOut)
		r.meterOut = make([]float32, nOut)
		r.meterWet = make([]float32, nOut)
	}

	r.irLoaded = true

	return nil
}

// routingCounts resolves the IR-file-channel-count special cases of the
// Stereo routing mode (discard a 3rd channel; fall back to straight,
// non-cross-coupled routing for a 1- or 2-channel IR) and returns (n_chn,
// n_imp) for the given engine shape.
func routingCounts(nIn, nOut, nativeChannels int) (nChn, nImp int) {
	switch {
	case nIn == 1 && nOut == 1: // Mono
		return nativeChannels, 1
	case nIn == 1 && nOut == 2: // MonoToStereo
		return nativeChannels, 2
	case nIn == 2 && nOut == 2: // Stereo
		switch {
		case nativeChannels == 3:
			return 2, 2
		case nativeChannels <= 2:
			return nativeChannels, 2
		default:
			return nativeChannels, 4
		}
	default: // generalized N-in/N-out fallback: straight diagonal routing
		return nativeChannels, nIn
	}
}

// buildHead returns a time-domain head convolver approximating the leading
// tdconv.MaxTaps samples of an already-delay-scaled impulse, silent for the
// first delay samples. A convolver left disabled (delay beyond the head's
// reach, or no data) contributes nothing, which is correct: the true
// response in that window really is silence.
func buildHead(scaled []float32, delay int) *tdconv.Convolver {
	conv := &tdconv.Convolver{}

	if delay >= tdconv.MaxTaps || len(scaled) == 0 {
		return conv
	}

	padLen := delay + tdconv.MaxTaps
	if padLen > delay+len(scaled) {
		padLen = delay + len(scaled)
	}

	padded := make([]float32, padLen)
	copy(padded[delay:], scaled)
	conv.Configure(padded, 0, 1.0)

	return conv
}

// nextPow2 returns the smallest power of two >= n (at least 1).
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}

func (r *ConvolutionReverb) resampleChannel(src readable.Readable, ch int) ([]float32, error) {
	wrap := readable.NewChanWrap(src, ch)

	if src.SampleRate() <= 0 || src.SampleRate() == r.sampleRate {
		buf := make([]float32, wrap.Length())

		n, err := wrap.Read(buf, 0, len(buf), 0)
		if err != nil {
			return nil, fmt.Errorf("dsp: read impulse response channel %d: %w", ch, err)
		}

		return clampLen(buf[:n]), nil
	}

	adapter := resample.NewAdapter(wrap, 0, r.sampleRate)

	buf := make([]float32, adapter.Length())

	n, err := adapter.Read(buf, 0, len(buf), 0)
	if err != nil {
		return nil, fmt.Errorf("dsp: resample impulse response channel %d: %w", ch, err)
	}

	return clampLen(buf[:n]), nil
}

func clampLen(data []float32) []float32 {
	if len(data) > config.MaxIRLen {
		return data[:config.MaxIRLen]
	}

	return data
}

// ProcessSample processes a single sample. Full wet convolution only happens
// at block granularity (ProcessBlock); a lone sample is passed through dry,
// for callers that still need a sample-at-a-time path.
func (r *ConvolutionReverb) ProcessSample(input float32, channel int) float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if channel < 0 || channel >= r.channels {
		return input
	}

	r.stepSmoothingLocked()

	return input * float32(r.dryX)
}

// ProcessBlock runs every input channel's audio jointly through the routing
// matrix and mixes the result with the dry signal into the matching output
// channel. len(inputs) and len(outputs) must equal the engine's current
// nIn/nOut (the shapes reconfigureLocked last built); ProcessBlock degrades
// to dry passthrough if no IR is loaded or the channel counts don't match,
// copying each input to its same-indexed output.
func (r *ConvolutionReverb) ProcessBlock(inputs, outputs [][]float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	if len(inputs) > 0 {
		n = len(inputs[0])
	}

	for _, in := range inputs {
		if len(in) != n {
			panic("dsp: all input channels must have the same length")
		}
	}

	for _, out := range outputs {
		if len(out) != n {
			panic("dsp: all output channels must have the same length as the inputs")
		}
	}

	if !r.irLoaded || len(inputs) != r.nIn || len(outputs) != r.nOut {
		for i, out := range outputs {
			if i < len(inputs) {
				copy(out, inputs[i])
			} else {
				for j := range out {
					out[j] = 0
				}
			}

			if i >= len(r.meterOut) {
				continue
			}

			r.meterOut[i] = peakToDB(peakAbs(out))
			r.meterWet[i] = minMeterDB

			if i < len(inputs) {
				r.meterIn[i] = peakToDB(peakAbs(inputs[i]))
			}
		}

		return
	}

	wet := r.processWetLocked(inputs)

	for i := 0; i < n; i++ {
		r.stepSmoothingLocked()

		wetX, dryX := float32(r.wetX), float32(r.dryX)

		for o := range outputs {
			var d float32
			if o < len(inputs) {
				d = inputs[o][i]
			}

			outputs[o][i] = d*dryX + wet[o][i]*wetX
		}
	}

	for o := range outputs {
		if o >= len(r.meterOut) {
			continue
		}

		r.meterOut[o] = peakToDB(peakAbs(outputs[o]))
		r.meterWet[o] = peakToDB(peakAbs(wet[o]))

		if o < len(inputs) {
			r.meterIn[o] = peakToDB(peakAbs(inputs[o]))
		}
	}
}

// processWetLocked runs the shared engine and the per-impulse time-domain
// heads over inputs (len == r.nIn) and returns the routed wet signal (len ==
// r.nOut), each sample slice the same length as inputs[0]. Called with r.mu
// already held.
func (r *ConvolutionReverb) processWetLocked(inputs [][]float32) [][]float32 {
	n := 0
	if len(inputs) > 0 {
		n = len(inputs[0])
	}

	wet := make([][]float32, r.nOut)
	for o := range wet {
		wet[o] = make([]float32, n)
	}

	if r.engine == nil {
		return wet
	}

	effIn := inputs

	if r.sumInputs && r.nIn == 2 && len(inputs) == 2 {
		mono := make([]float32, n)
		for i := 0; i < n; i++ {
			mono[i] = 0.5 * (inputs[0][i] + inputs[1][i])
		}

		effIn = [][]float32{mono, mono}
	}

	full := make([][]float32, r.nOut)
	for o := range full {
		full[o] = make([]float32, r.quantum)
	}

	off := 0
	for off < n {
		room := r.quantum - r.blockFill
		chunk := room
		if n-off < chunk {
			chunk = n - off
		}

		for ch := 0; ch < r.nIn && ch < len(effIn); ch++ {
			copy(r.blockIn[ch][r.blockFill:r.blockFill+chunk], effIn[ch][off:off+chunk])
		}

		if r.blockFill == 0 && chunk == r.quantum {
			// This chunk completes an entire quantum on its own: run the
			// engine directly and use its freshly computed window.
			if err := r.engine.Process(r.blockIn, full); err != nil {
				slog.Warn("convolution engine self-stopped on sustained lateness", "error", err)
			}

			for o := range wet {
				copy(wet[o][off:off+chunk], full[o][:chunk])
			}

			r.runHeadsLocked(effIn, off, chunk, nil)
			r.blockFill = 0
		} else {
			r.engine.TailOnly(full, r.blockFill+chunk)

			for o := range wet {
				copy(wet[o][off:off+chunk], full[o][r.blockFill:r.blockFill+chunk])
			}

			r.runHeadsLocked(effIn, off, chunk, wet)

			r.blockFill += chunk
			if r.blockFill == r.quantum {
				if err := r.engine.Process(r.blockIn, full); err != nil {
					slog.Warn("convolution engine self-stopped on sustained lateness", "error", err)
				}

				r.blockFill = 0
			}
		}

		off += chunk
	}

	if r.buffered {
		for o := range wet {
			delayed := make([]float32, len(wet[o]))
			r.bufferedTail[o].Run(delayed, wet[o], len(wet[o]))
			wet[o] = delayed
		}
	}

	return wet
}

// runHeadsLocked advances every head convolver's history over
// effIn[*][off:off+chunk] (keeping it in sync regardless of whether the
// result is used) and, if sink is non-nil, accumulates the result into
// sink[*][off:off+chunk] — the contribution only a partial (tail-only)
// block needs, since a full block's engine.Process output already reflects
// it.
func (r *ConvolutionReverb) runHeadsLocked(effIn [][]float32, off, chunk int, sink [][]float32) {
	for o := range r.headScratch {
		for i := 0; i < chunk; i++ {
			r.headScratch[o][i] = 0
		}
	}

	for i := 0; i < r.nIn; i++ {
		if i >= len(effIn) {
			continue
		}

		for o := 0; o < r.nOut; o++ {
			h := r.heads[i*r.nOut+o]
			if h == nil || !h.Enabled() {
				continue
			}

			h.Run(r.headScratch[o][:chunk], effIn[i][off:off+chunk], chunk)
		}
	}

	if sink == nil {
		return
	}

	for o := range sink {
		for i := 0; i < chunk; i++ {
			sink[o][off+i] += r.headScratch[o][i]
		}
	}
}

func (r *ConvolutionReverb) stepSmoothingLocked() {
	a := smoothingRate / r.sampleRate

	r.wetX += a*(r.wetTarget-r.wetX) + 1e-10
	if math.Abs(r.wetX-r.wetTarget) < snapEpsilon {
		r.wetX = r.wetTarget
	}

	r.dryX += a*(r.dryTarget-r.dryX) + 1e-10
	if math.Abs(r.dryX-r.dryTarget) < snapEpsilon {
		r.dryX = r.dryTarget
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
