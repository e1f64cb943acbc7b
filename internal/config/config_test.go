package config

import (
	"errors"
	"flag"
	"testing"
)

func TestNewValid(t *testing.T) {
	t.Parallel()

	cfg, err := New(64, 64, 65536, 1<<20, 1, 2, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Quantum != 64 || cfg.NOut != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                                    string
		quantum, minPart, maxPart, maxIRLen     int
		nIn, nOut                               int
		density                                 float64
	}{
		{"quantum not pow2", 63, 64, 65536, 1 << 20, 1, 1, 1},
		{"minPart below floor", 64, 8, 65536, 1 << 20, 1, 1, 1},
		{"maxPart below minPart", 64, 1024, 512, 1 << 20, 1, 1, 1},
		{"irlen too big", 64, 64, 65536, 1 << 25, 1, 1, 1},
		{"nIn out of range", 64, 64, 65536, 1 << 20, 0, 1, 1},
		{"density out of range", 64, 64, 65536, 1 << 20, 1, 1, 1.5},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tc.quantum, tc.minPart, tc.maxPart, tc.maxIRLen, tc.nIn, tc.nOut, tc.density)
			if !errors.Is(err, ErrBadParam) {
				t.Fatalf("expected ErrBadParam, got %v", err)
			}
		})
	}
}

func validDefaults() Config {
	return Config{
		Quantum:  64,
		MinPart:  64,
		MaxPart:  65536,
		MaxIRLen: 1 << 20,
		NIn:      1,
		NOut:     1,
		Density:  1.0,
	}
}

func TestFromFlagsUsesDefaultsWhenNoFlagsRegistered(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := FromFlags(fs, validDefaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg != validDefaults() {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, validDefaults())
	}
}

func TestFromFlagsOverridesFromRegisteredFlags(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	density := fs.Float64("density", 1.0, "")
	if err := fs.Parse([]string{"-density", "0.25"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := FromFlags(fs, validDefaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Density != 0.25 {
		t.Fatalf("Density = %v, want 0.25 (flag value %v)", cfg.Density, *density)
	}
}

func TestFromFlagsPropagatesBadParam(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Float64("density", 2.0, "")
	if err := fs.Parse([]string{"-density", "2.0"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err := FromFlags(fs, validDefaults())
	if !errors.Is(err, ErrBadParam) {
		t.Fatalf("expected ErrBadParam, got %v", err)
	}
}
