package dsp

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"pw-convoverb/internal/pstate"
)

// Host owns the online/offline ConvolutionReverb slot pair that realizes a
// hot-swappable impulse response load: the realtime audio path always reads
// whichever instance is online, while a new impulse response is decoded and
// reconfigured into a fresh offline instance on a background goroutine (the
// worker thread analogue), only becoming online once it is fully built. A
// load request that arrives while one is already building is queued in a
// single slot rather than run concurrently — the newest request wins, the
// one it replaces is simply dropped.
type Host struct {
	mu sync.Mutex

	online  *ConvolutionReverb
	offline *ConvolutionReverb // non-nil only while a background build is in flight

	queued *loadRequest // at most one pending request, replaced by the newest

	// psetDirty tracks whether the online instance differs from the last
	// persisted/restored state at the Host level — distinct from
	// ConvolutionReverb.Dirty, which tracks the façade's own setters. It is
	// lowered immediately before a state-restore load and raised by any
	// user-initiated load or parameter change routed through the Host.
	psetDirty bool

	listeners []StateListener

	sampleRate float64
	channels   int
	nInWant    int
	nOutWant   int
}

// loadRequest names one pending impulse response load.
type loadRequest struct {
	path    string
	library []byte
	name    string
	index   int
	fromLib bool
}

// NewHost constructs a Host with a single, unloaded online instance. sampleRate
// and channels seed that instance the same way NewConvolutionReverb does.
func NewHost(sampleRate float64, channels int) *Host {
	return &Host{
		online:     NewConvolutionReverb(sampleRate, channels),
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// NewHostRouting constructs a Host whose instances use an explicit engine
// routing shape (see NewConvolutionReverbRouting).
func NewHostRouting(sampleRate float64, nIn, nOut int) *Host {
	channels := nOut
	if nIn > channels {
		channels = nIn
	}

	return &Host{
		online:     NewConvolutionReverbRouting(sampleRate, nIn, nOut),
		sampleRate: sampleRate,
		channels:   channels,
		nInWant:    nIn,
		nOutWant:   nOut,
	}
}

// Online returns the currently active ConvolutionReverb instance. The
// pointer is stable for the duration of the caller's use only if the caller
// itself serializes against concurrent swaps; ProcessBlock/ProcessSample
// below do this correctly for the realtime path.
func (h *Host) Online() *ConvolutionReverb {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.online
}

// ProcessBlock runs the currently online instance's ProcessBlock. The
// online pointer is snapshotted under the Host lock and then released
// before processing, so a concurrent LoadIR/swap is never blocked behind
// (nor itself blocks) realtime audio processing; the swap simply takes
// effect on the next call.
func (h *Host) ProcessBlock(inputs, outputs [][]float32) {
	h.mu.Lock()
	r := h.online
	h.mu.Unlock()

	r.ProcessBlock(inputs, outputs)
}

// ProcessSample runs the currently online instance's ProcessSample.
func (h *Host) ProcessSample(input float32, channel int) float32 {
	h.mu.Lock()
	r := h.online
	h.mu.Unlock()

	return r.ProcessSample(input, channel)
}

// newOfflineInstance constructs an unloaded instance matching the Host's
// configured routing shape, mirroring h.online's current sample rate.
func (h *Host) newOfflineInstance() *ConvolutionReverb {
	if h.nInWant != 0 && h.nOutWant != 0 {
		return NewConvolutionReverbRouting(h.sampleRate, h.nInWant, h.nOutWant)
	}

	return NewConvolutionReverb(h.sampleRate, h.channels)
}

// copyControlsLocked transfers the online instance's dry/wet gains and
// persisted-state parameters onto a freshly built offline instance, so a
// hot-swapped IR keeps whatever mix/gain/predelay settings the user already
// dialed in rather than resetting to defaults.
func (h *Host) copyControlsLocked(dst *ConvolutionReverb) {
	src := h.online

	dst.SetWetLevel(src.GetWetLevel())
	dst.SetDryLevel(src.GetDryLevel())

	state := src.SaveState()
	state.IR = "" // the caller is already loading a specific IR; don't re-trigger a load

	dst.mu.Lock()
	dst.gain = state.Gain
	dst.predelaySamples = state.Predelay
	dst.artificialLatency = state.ArtificialLatency
	dst.sumInputs = state.SumInputs
	dst.channelGain = state.ChannelGain
	dst.channelPredelay = state.ChannelPredelay
	dst.buffered = src.buffered
	dst.mu.Unlock()
}

// LoadIR requests an impulse response load from a file path. If a build is
// already in flight, the request replaces whatever was queued (CMD_FREE's
// queue-pop picks up only the newest) and returns immediately; otherwise it
// starts a new background build now. userInitiated controls whether the
// pset_dirty flag is raised (a user-driven load) or left alone (a
// state-restore load, which lowers it instead before loading).
func (h *Host) LoadIR(path string, userInitiated bool) {
	h.submit(loadRequest{path: path}, userInitiated)
}

// LoadIRFromLibrary requests a load of a named or indexed entry from an
// already-open IR library image.
func (h *Host) LoadIRFromLibrary(library []byte, name string, index int, userInitiated bool) {
	h.submit(loadRequest{library: library, name: name, index: index, fromLib: true}, userInitiated)
}

func (h *Host) submit(req loadRequest, userInitiated bool) {
	h.mu.Lock()

	if userInitiated {
		h.psetDirty = true
	} else {
		h.psetDirty = false
	}

	if h.offline != nil {
		h.queued = &req
		h.mu.Unlock()

		return
	}

	h.startBuildLocked(req)
	h.mu.Unlock()
}

// LoadIRSync loads a file-path impulse response synchronously (on the
// calling goroutine), for startup paths that want the error before
// proceeding rather than discovering a failed load later through logs.
func (h *Host) LoadIRSync(path string) error {
	_, err := h.swapSync(loadRequest{path: path})
	return err
}

// LoadIRFromLibrarySync loads a named or indexed library entry
// synchronously, for the same startup reason as LoadIRSync.
func (h *Host) LoadIRFromLibrarySync(library []byte, name string, index int) error {
	_, err := h.swapSync(loadRequest{library: library, name: name, index: index, fromLib: true})
	return err
}

// LoadIRFromLibraryPathSync opens the .irlib file at path and loads the
// named or indexed entry synchronously.
func (h *Host) LoadIRFromLibraryPathSync(path, name string, index int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dsp: open IR library %q: %w", path, err)
	}

	return h.LoadIRFromLibrarySync(data, name, index)
}

// startBuildLocked allocates the offline slot and runs the build on a
// background goroutine, the worker-thread analogue; the realtime path is
// never blocked by a build in progress. Called with h.mu held.
func (h *Host) startBuildLocked(req loadRequest) {
	offline := h.newOfflineInstance()
	h.offline = offline

	go h.build(offline, req)
}

// build runs req against offline off the realtime path and, on success,
// hands the result to respond for the online/offline swap. A failed build
// is logged and discarded: the previously online instance keeps running,
// matching the reference behavior of a rejected load leaving playback
// undisturbed.
func (h *Host) build(offline *ConvolutionReverb, req loadRequest) {
	var err error

	switch {
	case req.fromLib:
		err = offline.LoadImpulseResponseFromBytes(req.library, req.name, req.index)
	default:
		err = offline.LoadImpulseResponse(req.path)
	}

	if err != nil {
		slog.Error("host: impulse response build failed, keeping current online instance", "error", err)
		h.respond(offline, false)

		return
	}

	h.respond(offline, true)
}

// respond is the work_response handler: it swaps offline in for online
// (only on a successful build), schedules disposal of the previous online
// instance (CMD_FREE's delete_previous step, here just dropping the Go
// reference), and pops the next queued request (if any) under the same
// lock a concurrently arriving request would take.
func (h *Host) respond(offline *ConvolutionReverb, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.offline != offline {
		// A newer build already replaced this one before it finished;
		// this response is stale and must not touch h.online.
		return
	}

	if ok {
		h.copyControlsLocked(offline)

		previous := h.online
		h.online = offline

		for _, l := range h.listeners {
			offline.AddStateListener(l)
		}

		_ = previous // CMD_FREE: nothing to release explicitly in Go; GC reclaims it
	}

	h.offline = nil

	if h.queued != nil {
		next := *h.queued
		h.queued = nil
		h.startBuildLocked(next)
	}
}

// AddStateListener registers l on the current online instance and on every
// future online instance a swap installs, so a listener survives hot-swaps
// without re-registering.
func (h *Host) AddStateListener(l StateListener) {
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	online := h.online
	h.mu.Unlock()

	online.AddStateListener(l)
}

// PsetDirty reports whether the online instance has diverged from the last
// persisted/restored state, at Host granularity (RestoreState lowers this,
// any user-initiated LoadIR/LoadIRFromLibrary call raises it).
func (h *Host) PsetDirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.psetDirty
}

// RestoreState lowers pset_dirty and loads the persisted state's IR (if
// any) synchronously through the online/offline build-and-swap path, so a
// state restore while audio is running does not glitch the currently
// playing instance until the replacement is ready.
func (h *Host) RestoreState(s pstate.State) error {
	h.mu.Lock()
	h.psetDirty = false
	h.mu.Unlock()

	if s.IR == "" {
		return h.Online().RestoreState(s)
	}

	if _, err := h.swapSync(loadRequest{path: s.IR}); err != nil {
		return fmt.Errorf("dsp: host restore state: %w", err)
	}

	s.IR = ""

	return h.Online().RestoreState(s)
}

// GetWetLevel, GetDryLevel, SetWetLevel, SetDryLevel and GetMetrics
// delegate to the online instance, letting *Host satisfy the same small
// controller surface main.go's web and TUI front ends already depend on
// (web.ReverbController; tui.go's equivalent concrete usage).

func (h *Host) GetWetLevel() float64 { return h.Online().GetWetLevel() }
func (h *Host) GetDryLevel() float64 { return h.Online().GetDryLevel() }

func (h *Host) SetWetLevel(level float64) { h.Online().SetWetLevel(level) }
func (h *Host) SetDryLevel(level float64) { h.Online().SetDryLevel(level) }

// SwitchIR hot-swaps to the IR at irIndex in the given library image,
// through the same online/offline build-and-swap path LoadIR uses rather
// than mutating the online instance in place. The new instance is built on
// the calling goroutine and swapped online before SwitchIR returns, so
// callers (the TUI, the web UI) can report the new name synchronously. If a
// background build from an earlier LoadIR call is already in flight, this
// request replaces whatever was queued and SwitchIR returns an error at once
// without building anything itself.
func (h *Host) SwitchIR(data []byte, irIndex int) (string, error) {
	h.mu.Lock()
	h.psetDirty = true
	h.mu.Unlock()

	return h.swapSync(loadRequest{library: data, index: irIndex, fromLib: true})
}

// swapSync runs req's build on the calling goroutine (rather than
// dispatching it to the background worker LoadIR uses) and swaps it in via
// the same respond path, for callers that need the result synchronously.
// If a background build is already in flight, it is left to finish
// normally; req is queued behind it and swapSync returns an error at once.
func (h *Host) swapSync(req loadRequest) (string, error) {
	h.mu.Lock()
	if h.offline != nil {
		h.queued = &req
		h.mu.Unlock()

		return "", fmt.Errorf("dsp: switch impulse response: a build was already in flight; queued instead")
	}

	offline := h.newOfflineInstance()
	h.offline = offline
	h.mu.Unlock()

	var err error
	if req.fromLib {
		err = offline.LoadImpulseResponseFromBytes(req.library, req.name, req.index)
	} else {
		err = offline.LoadImpulseResponse(req.path)
	}

	h.respond(offline, err == nil)

	if err != nil {
		return "", fmt.Errorf("dsp: switch impulse response: %w", err)
	}

	return offline.irMeta.Name, nil
}

// GetMetrics delegates to the online instance.
func (h *Host) GetMetrics(channel int) (inputLevel, outputLevel, reverbLevel float32) {
	return h.Online().GetMetrics(channel)
}

// SetLatency, SetSampleRate and SetGain delegate to the online instance and
// also update the Host's own remembered sample rate, so a subsequently
// built offline instance (the next hot-swap) starts from the same rate
// rather than the one passed to NewHost.
func (h *Host) SetLatency(blockOrder int) error {
	return h.Online().SetLatency(blockOrder)
}

func (h *Host) SetSampleRate(sampleRate float64) {
	h.mu.Lock()
	h.sampleRate = sampleRate
	online := h.online
	h.mu.Unlock()

	online.SetSampleRate(sampleRate)
}

func (h *Host) SetGain(gain float64) { h.Online().SetGain(gain) }

// Latency reports the online instance's reported latency in samples.
func (h *Host) Latency() int { return h.Online().Latency() }
