// Package config validates the engine configuration bounds before they reach
// the convolution core, so a bad CLI flag or a bad persisted-state value fails
// with a typed error instead of corrupting a running engine.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
)

// Configuration bounds, matching the external interface contract.
const (
	MinQuantum = 16
	MaxQuantum = 8192
	MinPart    = 16
	MaxDivis   = 64
	MaxPart    = 1 << 20
	MaxIRLen   = 1 << 24
	MaxInputs  = 8
	MaxOutputs = 8
)

// ErrBadParam is returned when a configuration value falls outside its bound.
// Callers can wrap it with errors.Is to detect a rejected configuration
// without string-matching the message.
var ErrBadParam = errors.New("config: bad parameter")

// Config is a validated, immutable snapshot of the engine's structural
// parameters. Construct with New; there is no exported zero-value use.
type Config struct {
	Quantum  int
	MinPart  int
	MaxPart  int
	MaxIRLen int
	NIn      int
	NOut     int
	Density  float64
}

// New validates and returns a Config, or ErrBadParam describing the first
// violated bound.
func New(quantum, minPart, maxPart, maxIRLen, nIn, nOut int, density float64) (Config, error) {
	switch {
	case quantum < MinQuantum || quantum > MaxQuantum || !isPow2(quantum):
		return Config{}, fmt.Errorf("%w: quantum %d must be a power of two in [%d,%d]", ErrBadParam, quantum, MinQuantum, MaxQuantum)
	case minPart < MinPart || minPart > MaxDivis*quantum || !isPow2(minPart):
		return Config{}, fmt.Errorf("%w: min_part %d must be a power of two in [%d,%d]", ErrBadParam, minPart, MinPart, MaxDivis*quantum)
	case maxPart > MaxPart || maxPart < minPart || !isPow2(maxPart):
		return Config{}, fmt.Errorf("%w: max_part %d must be a power of two >= min_part and <= %d", ErrBadParam, maxPart, MaxPart)
	case maxIRLen <= 0 || maxIRLen > MaxIRLen:
		return Config{}, fmt.Errorf("%w: max_ir_len %d must be in (0,%d]", ErrBadParam, maxIRLen, MaxIRLen)
	case nIn < 1 || nIn > MaxInputs:
		return Config{}, fmt.Errorf("%w: n_in %d must be in [1,%d]", ErrBadParam, nIn, MaxInputs)
	case nOut < 1 || nOut > MaxOutputs:
		return Config{}, fmt.Errorf("%w: n_out %d must be in [1,%d]", ErrBadParam, nOut, MaxOutputs)
	case density <= 0 || density > 1:
		return Config{}, fmt.Errorf("%w: density %v must be in (0,1]", ErrBadParam, density)
	}

	return Config{
		Quantum:  quantum,
		MinPart:  minPart,
		MaxPart:  maxPart,
		MaxIRLen: maxIRLen,
		NIn:      nIn,
		NOut:     nOut,
		Density:  density,
	}, nil
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FromFlags builds a Config from an already-parsed flag.FlagSet, falling
// back to the given defaults for any flag the set doesn't define. This lets
// a CLI register only the structural flags it cares about (main.go, for
// instance, registers only -density and derives the quantum from -latency)
// while still going through
// the same bounds check as any other Config.
func FromFlags(fs *flag.FlagSet, defaults Config) (Config, error) {
	quantum := lookupInt(fs, "quantum", defaults.Quantum)
	minPart := lookupInt(fs, "min-part", defaults.MinPart)
	maxPart := lookupInt(fs, "max-part", defaults.MaxPart)
	maxIRLen := lookupInt(fs, "max-ir-len", defaults.MaxIRLen)
	nIn := lookupInt(fs, "n-in", defaults.NIn)
	nOut := lookupInt(fs, "n-out", defaults.NOut)
	density := lookupFloat(fs, "density", defaults.Density)

	return New(quantum, minPart, maxPart, maxIRLen, nIn, nOut, density)
}

func lookupInt(fs *flag.FlagSet, name string, fallback int) int {
	f := fs.Lookup(name)
	if f == nil {
		return fallback
	}
	v, err := strconv.Atoi(f.Value.String())
	if err != nil {
		return fallback
	}
	return v
}

func lookupFloat(fs *flag.FlagSet, name string, fallback float64) float64 {
	f := fs.Lookup(name)
	if f == nil {
		return fallback
	}
	v, err := strconv.ParseFloat(f.Value.String(), 64)
	if err != nil {
		return fallback
	}
	return v
}
