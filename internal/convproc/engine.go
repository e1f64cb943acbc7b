// Package convproc drives a set of internal/convlevel levels as a single
// multi-input, multi-output convolution engine: it owns the partition plan,
// the per-(input,output) impulse response data, and the state machine that
// gates which operations are legal when.
package convproc

import (
	"errors"
	"fmt"

	"pw-convoverb/internal/config"
	"pw-convoverb/internal/convlevel"
	"pw-convoverb/internal/planner"
)

// State is one of the engine's lifecycle states.
type State int

const (
	// StateIdle is the state before Configure (or after Cleanup): no levels
	// exist and no operation but Configure is legal.
	StateIdle State = iota
	// StateStop is the state in which impulse response data may be
	// seeded or cleared. Configure leaves the engine here.
	StateStop
	// StateProc is the running state: Process is legal, impdata edits are not.
	StateProc
	// StateWait is entered on StopProcess while any level's worker still has
	// a tick in flight; the engine drains to StateStop once every level is
	// quiescent.
	StateWait
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStop:
		return "stop"
	case StateProc:
		return "proc"
	case StateWait:
		return "wait"
	default:
		return "unknown"
	}
}

// ErrBadState is returned when an operation is attempted in a state that
// does not permit it.
var ErrBadState = errors.New("convproc: operation not valid in current state")

// StateError names the offending operation and the state it was attempted in.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("convproc: %s not valid in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrBadState }

// LateOption controls behavior when a level's worker cannot keep up.
type LateOption int

const (
	// StopOnLate is the default: five consecutive late ticks on any level
	// stop the engine, an FL_LATE-triggered self-stop.
	StopOnLate LateOption = iota
	// ContinueOnLate keeps the engine running through lateness, dropping the
	// usual latency guarantee in exchange for availability. This is the Go
	// analogue of the OPT_LATE_CONTIN engine option.
	ContinueOnLate
)

const maxConsecutiveLate = 5

// Engine is the frequency-domain convolution engine for one fixed
// (nIn, nOut) routing shape.
type Engine struct {
	cfg  config.Config
	plan planner.Plan

	levels []*convlevel.Level
	state  State

	lateOpt    LateOption
	lateStreak int
}

// New builds the partition plan for cfg and constructs (but does not start
// processing on) every level it calls for. The engine starts in StateStop,
// ready for ImpdataCreate/ImpdataClear calls, matching the reference
// implementation's configure() leaving the engine stopped rather than idle.
func New(cfg config.Config, lateOpt LateOption) (*Engine, error) {
	plan, err := planner.Build(planner.Params{
		Quantum:  cfg.Quantum,
		MinPart:  cfg.MinPart,
		MaxPart:  cfg.MaxPart,
		MaxIRLen: cfg.MaxIRLen,
		NIn:      cfg.NIn,
		NOut:     cfg.NOut,
		Density:  cfg.Density,
	})
	if err != nil {
		return nil, fmt.Errorf("convproc: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		plan:    plan,
		lateOpt: lateOpt,
		state:   StateStop,
	}

	for _, lvl := range plan.Levels {
		inline := lvl.Size == cfg.Quantum

		lv, err := convlevel.New(lvl.Size, lvl.Count, cfg.NIn, cfg.NOut, lvl.Priority, inline, lvl.Offset)
		if err != nil {
			return nil, fmt.Errorf("convproc: level size %d: %w", lvl.Size, err)
		}

		lv.Start()

		e.levels = append(e.levels, lv)
	}

	return e, nil
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// Plan exposes the computed partition plan, primarily for diagnostics.
func (e *Engine) Plan() planner.Plan { return e.plan }

// ImpdataCreate seeds the impulse response for (inp,out) with data[i0:i1)
// (absolute IR-sample offsets), fanning the write out to every level whose
// coverage range intersects it. Legal only in StateStop.
func (e *Engine) ImpdataCreate(inp, out int, data []float32, i0, i1 int) error {
	if e.state != StateStop {
		return &StateError{Op: "impdata_create", State: e.state}
	}

	if inp < 0 || inp >= e.cfg.NIn || out < 0 || out >= e.cfg.NOut {
		return fmt.Errorf("%w: input/output index out of range", config.ErrBadParam)
	}

	for _, lv := range e.levels {
		covStart, covEnd := lv.Coverage()

		start := max(i0, covStart)
		end := min(i1, covEnd)

		if start >= end {
			continue
		}

		local0 := start - covStart
		local1 := end - covStart

		if err := lv.ImpdataCreate(inp, out, data[start-i0:end-i0], local0, local1); err != nil {
			return err
		}
	}

	return nil
}

// ImpdataClear zeroes the impulse response for (inp,out) across every level.
// Legal in StateStop or StateIdle — clearing is permitted at and above the
// stopped state.
func (e *Engine) ImpdataClear(inp, out int) error {
	if e.state != StateStop && e.state != StateIdle {
		return &StateError{Op: "impdata_clear", State: e.state}
	}

	for _, lv := range e.levels {
		lv.ImpdataClear(inp, out)
	}

	return nil
}

// StartProcess transitions StateStop -> StateProc. Process becomes legal.
func (e *Engine) StartProcess() error {
	if e.state != StateStop {
		return &StateError{Op: "start_process", State: e.state}
	}

	e.lateStreak = 0
	e.state = StateProc

	return nil
}

// StopProcess transitions StateProc -> StateWait -> StateStop. Each level's
// worker handshake already blocks the next Process call until its prior tick
// completes (internal/convlevel's drainPrevious), so by the time Process is
// no longer being called there is nothing left in flight to wait for; WAIT
// is reported but collapses to STOP synchronously.
func (e *Engine) StopProcess() error {
	if e.state != StateProc {
		return &StateError{Op: "stop_process", State: e.state}
	}

	e.state = StateWait
	e.state = StateStop

	return nil
}

// Reset clears every level's running convolution state (input history,
// spectrum ring, output accumulator) without discarding seeded impulse
// response data. Legal only in StateStop.
func (e *Engine) Reset() error {
	if e.state != StateStop {
		return &StateError{Op: "reset", State: e.state}
	}

	for _, lv := range e.levels {
		lv.Reset()
	}

	e.lateStreak = 0

	return nil
}

// Cleanup transitions StateStop -> StateIdle, stopping every level's worker
// goroutine. The engine is unusable after Cleanup except via a fresh New.
func (e *Engine) Cleanup() error {
	if e.state != StateStop {
		return &StateError{Op: "cleanup", State: e.state}
	}

	for _, lv := range e.levels {
		lv.Stop()
	}

	e.state = StateIdle

	return nil
}

// Quantum returns the engine's fixed processing block size.
func (e *Engine) Quantum() int { return e.cfg.Quantum }

// ErrLate is returned by Process when the engine self-stops after
// maxConsecutiveLate consecutive late ticks on some level (StopOnLate only).
var ErrLate = errors.New("convproc: engine self-stopped after sustained worker lateness")

// Process convolves one quantum of input against every seeded (inp,out)
// pair and accumulates the result into out. Both in and out must have
// exactly cfg.NIn / cfg.NOut rows of at least cfg.Quantum samples each.
// Legal only in StateProc.
func (e *Engine) Process(in [][]float32, out [][]float32) error {
	if e.state != StateProc {
		return &StateError{Op: "process", State: e.state}
	}

	if len(in) != e.cfg.NIn || len(out) != e.cfg.NOut {
		return fmt.Errorf("%w: process channel count mismatch", config.ErrBadParam)
	}

	for o := range out {
		for i := range out[o][:e.cfg.Quantum] {
			out[o][i] = 0
		}
	}

	anyLate := false

	for _, lv := range e.levels {
		late := lv.Tick(in, 0, e.cfg.Quantum, out)
		if late {
			anyLate = true
		}
	}

	if anyLate {
		e.lateStreak++
	} else {
		e.lateStreak = 0
	}

	if e.lateStreak >= maxConsecutiveLate && e.lateOpt == StopOnLate {
		e.state = StateStop
		return ErrLate
	}

	return nil
}

// TailOnly copies up to n already-computed samples per output, without
// consuming input or advancing any level's read cursor — the peek path for
// emitting a partial block.
func (e *Engine) TailOnly(out [][]float32, n int) {
	for o := range out {
		for i := range out[o][:n] {
			out[o][i] = 0
		}
	}

	for _, lv := range e.levels {
		for o := range out {
			tail := lv.ReadTail(o, n)
			for i, v := range tail {
				out[o][i] += v
			}
		}
	}
}
