// Package convlevel implements one partition size of the non-uniform
// partitioned convolution engine: the FFT history ring for each input, the
// IR spectrum ring for each active (input, output) pair, and the
// triple-buffered overlap-add output accumulator per output.
//
// Levels whose partition size is larger than the engine quantum run their
// FFT/CMAC/IFFT tick on a dedicated goroutine, handshaking with the caller
// (the realtime "audio thread", in Go just whichever goroutine drives
// internal/convproc) through counting-semaphore-style channels. The inline
// level (when min_part==quantum) runs its tick synchronously on the
// caller's goroutine instead of spawning one.
package convlevel

import (
	"fmt"
	"log/slog"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"

	"pw-convoverb/internal/rtsched"
)

// plannerMu serializes FFT plan construction/destruction across concurrently
// configuring levels, a Go-native stand-in for a process-global FFTW
// planner lock. algo-fft keeps no process-wide plan cache to release, so
// there is no corresponding teardown call to gate — its only job is to keep
// Configure calls from racing each other.
var plannerMu sync.Mutex

// pairKey identifies one (input, output) routing pair's IR spectrum ring.
type pairKey struct{ in, out int }

// workerState is the lifecycle of a level's dedicated goroutine.
type workerState int

const (
	workerIdle workerState = iota
	workerRunning
	workerTerm
)

// Level owns one partition size's frequency-domain convolution.
type Level struct {
	size  int // P_k
	count int // N_k
	nIn   int
	nOut  int

	fftSize int // 2*size
	specLen int // size+1

	plan *algofft.PlanRealT[float32, complex64]

	ffta  [][][]complex64 // [input][ring index] -> spectrum of length specLen
	ptind int

	history [][]float32 // [input] accumulator for the current partial block
	histLen int

	fftbMu sync.RWMutex
	fftb   map[pairKey][][]complex64 // [j] -> spectrum, count entries

	outBuf      [][3][]float32 // [output][bufIdx], each length size
	opind       int
	readCursor  int
	tmpFreq     []complex64
	tmpTime     []float32
	padded      []float32

	priority int
	inline   bool
	offset   int // offs_k: absolute IR-sample offset where this level's coverage begins

	trig         chan struct{}
	done         chan struct{}
	pendingBlock [][]float32
	waitMu       sync.Mutex
	wait         int
	state        workerState
}

// New constructs a level for partition size `size`, holding `count`
// partitions, serving nIn inputs and nOut outputs, scheduled at priority
// (more negative runs at lower OS priority) and covering IR samples starting
// at absolute offset `offset`. inline levels run their tick on the caller's
// goroutine; non-inline levels get a dedicated worker goroutine started by
// Start.
func New(size, count, nIn, nOut, priority int, inline bool, offset int) (*Level, error) {
	fftSize := size * 2
	specLen := size + 1

	plannerMu.Lock()
	plan, err := algofft.NewPlanReal32(fftSize)
	plannerMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("convlevel: fft plan for size %d: %w", fftSize, err)
	}

	lv := &Level{
		size:     size,
		count:    count,
		nIn:      nIn,
		nOut:     nOut,
		fftSize:  fftSize,
		specLen:  specLen,
		plan:     plan,
		ptind:    count - 1,
		fftb:     make(map[pairKey][][]complex64),
		priority: priority,
		inline:   inline,
		offset:   offset,
		tmpFreq:  make([]complex64, specLen),
		tmpTime:  make([]float32, fftSize),
		padded:   make([]float32, fftSize),
	}

	lv.ffta = make([][][]complex64, nIn)
	lv.history = make([][]float32, nIn)

	for i := range lv.ffta {
		lv.ffta[i] = make([][]complex64, count)
		for j := range lv.ffta[i] {
			lv.ffta[i][j] = make([]complex64, specLen)
		}

		lv.history[i] = make([]float32, size)
	}

	lv.outBuf = make([][3][]float32, nOut)

	for o := range lv.outBuf {
		for b := range lv.outBuf[o] {
			lv.outBuf[o][b] = make([]float32, size)
		}
	}

	return lv, nil
}

// Size returns P_k.
func (lv *Level) Size() int { return lv.size }

// Inline reports whether this level runs on the caller's goroutine.
func (lv *Level) Inline() bool { return lv.inline }

// Offset returns offs_k, the absolute IR-sample offset where this level's
// partition coverage begins.
func (lv *Level) Offset() int { return lv.offset }

// Coverage returns the absolute IR-sample range [start, end) this level
// covers.
func (lv *Level) Coverage() (start, end int) {
	return lv.offset, lv.offset + lv.size*lv.count
}

// Start launches the dedicated worker goroutine for a non-inline level. It
// is a no-op for inline levels.
func (lv *Level) Start() {
	if lv.inline {
		return
	}

	lv.trig = make(chan struct{}, 1)
	lv.done = make(chan struct{}, 1)
	lv.state = workerRunning

	go lv.workerLoop()
}

// Stop signals the worker to exit and blocks until it does. A no-op for
// inline levels.
func (lv *Level) Stop() {
	if lv.inline || lv.trig == nil {
		return
	}

	lv.waitMu.Lock()
	lv.state = workerTerm
	lv.waitMu.Unlock()

	lv.trig <- struct{}{}
}

func (lv *Level) workerLoop() {
	release := rtsched.Priority(lv.priority)
	defer release()

	for range lv.trig {
		lv.waitMu.Lock()
		term := lv.state == workerTerm
		block := lv.pendingBlock
		lv.waitMu.Unlock()

		if term {
			return
		}

		lv.computeTick(block)

		lv.waitMu.Lock()
		lv.wait--
		lv.waitMu.Unlock()

		lv.done <- struct{}{}
	}
}

// ImpdataCreate seeds this level's IR spectrum ring for the (inp,out) pair
// with the overlapping portion of data[i0:i1) — data is the IR slice already
// scaled/positioned by the caller; i0/i1 are absolute IR-sample offsets.
// Partitions this level does not cover are left untouched. Accumulation
// (rather than overwrite) lets a long IR be seeded in chunks.
func (lv *Level) ImpdataCreate(inp, out int, data []float32, i0, i1 int) error {
	lv.fftbMu.Lock()
	defer lv.fftbMu.Unlock()

	key := pairKey{inp, out}

	ring, ok := lv.fftb[key]
	if !ok {
		ring = make([][]complex64, lv.count)
		for j := range ring {
			ring[j] = make([]complex64, lv.specLen)
		}

		lv.fftb[key] = ring
	}

	for pos := i0; pos < i1; {
		j := pos / lv.size
		if j >= lv.count {
			break
		}

		blockStart := j * lv.size
		blockEnd := blockStart + lv.size
		segEnd := i1
		if segEnd > blockEnd {
			segEnd = blockEnd
		}

		for i := range lv.padded {
			lv.padded[i] = 0
		}

		writeOffset := pos - blockStart
		n := segEnd - pos
		copy(lv.padded[writeOffset:writeOffset+n], data[pos-i0:pos-i0+n])

		fresh := make([]complex64, lv.specLen)
		if err := lv.plan.Forward(fresh, lv.padded); err != nil {
			return fmt.Errorf("convlevel: impdata_create forward fft: %w", err)
		}

		for k := range fresh {
			ring[j][k] += fresh[k]
		}

		pos = segEnd
	}

	return nil
}

// Reset clears this level's running convolution state — input history,
// spectrum ring, and output accumulator — without touching the seeded IR
// spectra (fftb). It must only be called while no worker tick is in flight.
func (lv *Level) Reset() {
	lv.ptind = lv.count - 1
	lv.histLen = 0
	lv.readCursor = 0
	lv.opind = 0

	for i := range lv.history {
		for j := range lv.history[i] {
			lv.history[i][j] = 0
		}
	}

	for i := range lv.ffta {
		for j := range lv.ffta[i] {
			for k := range lv.ffta[i][j] {
				lv.ffta[i][j][k] = 0
			}
		}
	}

	for o := range lv.outBuf {
		for b := range lv.outBuf[o] {
			for i := range lv.outBuf[o][b] {
				lv.outBuf[o][b][i] = 0
			}
		}
	}

	lv.waitMu.Lock()
	lv.wait = 0
	lv.waitMu.Unlock()
}

// ImpdataClear zeroes the IR spectrum ring for (inp,out) without freeing it.
func (lv *Level) ImpdataClear(inp, out int) {
	lv.fftbMu.Lock()
	defer lv.fftbMu.Unlock()

	ring, ok := lv.fftb[pairKey{inp, out}]
	if !ok {
		return
	}

	for _, spec := range ring {
		for k := range spec {
			spec[k] = 0
		}
	}
}

// Tick advances this level by n (<= Size()) newly arrived input samples per
// input channel, adds n samples of already-computed output into outputs
// (one slice per output, each with room for at least n samples starting at
// the caller's offset), and — when the accumulated block reaches Size() —
// triggers this level's FFT/CMAC/IFFT/overlap-add work (inline or via its
// worker) and rotates the output ring. It reports whether the level was
// found late (its previous tick's worker had not finished).
func (lv *Level) Tick(inputs [][]float32, outStart int, n int, outputs [][]float32) bool {
	for o := range outputs {
		buf := lv.outBuf[o][lv.opind][lv.readCursor : lv.readCursor+n]
		dst := outputs[o][outStart : outStart+n]

		for i, v := range buf {
			dst[i] += v
		}
	}

	lv.readCursor += n

	for i := range inputs {
		copy(lv.history[i][lv.histLen:lv.histLen+n], inputs[i][:n])
	}

	lv.histLen += n

	if lv.histLen < lv.size {
		return false
	}

	late := lv.drainPrevious()

	block := lv.history
	lv.history = make([][]float32, lv.nIn)

	for i := range lv.history {
		lv.history[i] = make([]float32, lv.size)
	}

	lv.histLen = 0
	lv.readCursor = 0
	lv.opind = (lv.opind + 1) % 3

	if lv.inline {
		lv.computeTick(block)
		return late
	}

	lv.waitMu.Lock()
	lv.pendingBlock = block
	lv.wait++
	lv.waitMu.Unlock()

	lv.trig <- struct{}{}

	return late
}

// drainPrevious blocks (briefly — it should already be posted) until the
// prior tick's worker has finished, and reports whether more than one tick
// was outstanding, i.e. the worker overran.
func (lv *Level) drainPrevious() bool {
	if lv.inline || lv.done == nil {
		return false
	}

	lv.waitMu.Lock()
	outstanding := lv.wait
	lv.waitMu.Unlock()

	if outstanding == 0 {
		return false
	}

	<-lv.done

	return outstanding > 1
}

// ReadTail peeks up to n samples past the current read cursor from the
// active output buffer without consuming them or triggering the worker —
// the hot path for unbuffered partial-block output.
func (lv *Level) ReadTail(out int, n int) []float32 {
	end := lv.readCursor + n
	if end > lv.size {
		end = lv.size
	}

	if end <= lv.readCursor {
		return nil
	}

	return lv.outBuf[out][lv.opind][lv.readCursor:end]
}

func (lv *Level) computeTick(block [][]float32) {
	lv.ptind = (lv.ptind + 1) % lv.count

	for inp := range block {
		for i := 0; i < lv.size; i++ {
			lv.padded[i] = 0
		}

		copy(lv.padded[lv.size:], block[inp])

		if err := lv.plan.Forward(lv.ffta[inp][lv.ptind], lv.padded); err != nil {
			slog.Error("convlevel: forward fft failed", "size", lv.size, "input", inp, "error", err)
			return
		}
	}

	lv.fftbMu.RLock()
	defer lv.fftbMu.RUnlock()

	for key, ring := range lv.fftb {
		for k := range lv.tmpFreq {
			lv.tmpFreq[k] = 0
		}

		for j := 0; j < lv.count; j++ {
			histIdx := ((lv.ptind-j)%lv.count + lv.count) % lv.count
			spec := lv.ffta[key.in][histIdx]
			irspec := ring[j]

			for k := range lv.tmpFreq {
				lv.tmpFreq[k] += spec[k] * irspec[k]
			}
		}

		if err := lv.plan.Inverse(lv.tmpTime, lv.tmpFreq); err != nil {
			slog.Error("convlevel: inverse fft failed", "size", lv.size, "output", key.out, "error", err)
			continue
		}

		addBuf := lv.outBuf[key.out][(lv.opind+1)%3]
		overwriteBuf := lv.outBuf[key.out][(lv.opind+2)%3]

		for i := 0; i < lv.size; i++ {
			addBuf[i] += lv.tmpTime[i]
		}

		copy(overwriteBuf, lv.tmpTime[lv.size:lv.fftSize])
	}
}
