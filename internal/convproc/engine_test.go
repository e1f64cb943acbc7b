package convproc

import (
	"errors"
	"testing"

	"pw-convoverb/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg, err := config.New(64, 64, 8192, 4096, 1, 1, 1.0)
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}

	return cfg
}

func TestNewStartsInStopState(t *testing.T) {
	t.Parallel()

	e, err := New(testConfig(t), StopOnLate)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if e.State() != StateStop {
		t.Fatalf("State() = %v, want %v", e.State(), StateStop)
	}

	if len(e.Plan().Levels) == 0 {
		t.Fatal("expected at least one planned level")
	}
}

func TestImpdataCreateRejectedOutsideStop(t *testing.T) {
	t.Parallel()

	e, err := New(testConfig(t), StopOnLate)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.StartProcess(); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	ir := make([]float32, 4096)

	err = e.ImpdataCreate(0, 0, ir, 0, len(ir))

	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected *StateError, got %v", err)
	}

	if !errors.Is(err, ErrBadState) {
		t.Fatal("expected errors.Is(err, ErrBadState) to hold")
	}
}

func TestProcessRejectedOutsideProc(t *testing.T) {
	t.Parallel()

	e, err := New(testConfig(t), StopOnLate)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := [][]float32{make([]float32, 64)}
	out := [][]float32{make([]float32, 64)}

	if err := e.Process(in, out); !errors.Is(err, ErrBadState) {
		t.Fatalf("Process in StateStop: got %v, want ErrBadState", err)
	}
}

func TestFullLifecycleRunsWithoutError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	e, err := New(cfg, StopOnLate)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ir := make([]float32, cfg.MaxIRLen)
	ir[0] = 1.0

	if err := e.ImpdataCreate(0, 0, ir, 0, len(ir)); err != nil {
		t.Fatalf("ImpdataCreate: %v", err)
	}

	if err := e.StartProcess(); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	in := [][]float32{make([]float32, cfg.Quantum)}
	in[0][0] = 1

	out := [][]float32{make([]float32, cfg.Quantum)}

	for i := 0; i < 20; i++ {
		if err := e.Process(in, out); err != nil {
			t.Fatalf("Process tick %d: %v", i, err)
		}

		for j := range in[0] {
			in[0][j] = 0
		}
	}

	if err := e.StopProcess(); err != nil {
		t.Fatalf("StopProcess: %v", err)
	}

	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if err := e.ImpdataClear(0, 0); err != nil {
		t.Fatalf("ImpdataClear: %v", err)
	}

	if err := e.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if e.State() != StateIdle {
		t.Fatalf("State() after Cleanup = %v, want %v", e.State(), StateIdle)
	}
}

func TestMultiChannelFanInFanOutSumsCrossCoupledPaths(t *testing.T) {
	t.Parallel()

	cfg, err := config.New(64, 64, 8192, 4096, 2, 2, 1.0)
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}

	e, err := New(cfg, StopOnLate)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Identity on (0,0) and (1,1), cross-talk on (0,1): out1 also hears in0.
	ir := make([]float32, cfg.MaxIRLen)
	ir[0] = 1.0

	for _, pair := range [][2]int{{0, 0}, {1, 1}, {0, 1}} {
		if err := e.ImpdataCreate(pair[0], pair[1], ir, 0, len(ir)); err != nil {
			t.Fatalf("ImpdataCreate(%d,%d): %v", pair[0], pair[1], err)
		}
	}

	if err := e.StartProcess(); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	in := [][]float32{make([]float32, cfg.Quantum), make([]float32, cfg.Quantum)}
	in[0][0] = 1
	out := [][]float32{make([]float32, cfg.Quantum), make([]float32, cfg.Quantum)}

	if err := e.Process(in, out); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if out[0][0] == 0 {
		t.Fatal("expected out[0][0] to carry the identity path from in0")
	}

	if out[1][0] == 0 {
		t.Fatal("expected out[1][0] to carry the cross-coupled path from in0")
	}
}

func TestTailOnlyDoesNotRequireProcState(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	e, err := New(cfg, StopOnLate)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := [][]float32{make([]float32, cfg.Quantum)}

	e.TailOnly(out, cfg.Quantum/2)
}
