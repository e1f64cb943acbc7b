// Package pstate models the host's persisted key/value property table as a
// plain Go struct that round-trips through a map[string]string, the
// host-neutral stand-in for a plugin state dictionary or LV2 atom object.
package pstate

import (
	"fmt"
	"strconv"
	"strings"
)

// Key names recognized by the persisted-state table.
const (
	KeyIR                = "ir"
	KeyGain              = "gain"
	KeyPredelay          = "predelay"
	KeyArtificialLatency = "artificial_latency"
	KeySumInputs         = "sum_inputs"
	KeyChannelGain       = "channel_gain"
	KeyChannelPredelay   = "channel_predelay"
)

// State is the set of persisted parameters for one Convolver instance.
// Missing keys take the defaults documented on each field.
type State struct {
	IR                string     // default: ""
	Gain              float64    // default: 1
	Predelay          int32      // default: 0
	ArtificialLatency int32      // default: 0
	SumInputs         bool       // default: false
	ChannelGain       [4]float64 // default: 1,1,1,1
	ChannelPredelay   [4]int32   // default: 0,0,0,0
}

// Default returns a State with every key at its documented default.
func Default() State {
	return State{
		Gain:        1,
		ChannelGain: [4]float64{1, 1, 1, 1},
	}
}

// MarshalKV encodes the state into the host's flat key/value representation.
func (s State) MarshalKV() map[string]string {
	kv := map[string]string{
		KeyIR:                s.IR,
		KeyGain:              strconv.FormatFloat(s.Gain, 'g', -1, 64),
		KeyPredelay:          strconv.Itoa(int(s.Predelay)),
		KeyArtificialLatency: strconv.Itoa(int(s.ArtificialLatency)),
		KeySumInputs:         strconv.FormatBool(s.SumInputs),
		KeyChannelGain:       formatVec4(s.ChannelGain[:]),
		KeyChannelPredelay:   formatVec4Int(s.ChannelPredelay[:]),
	}

	return kv
}

// UnmarshalKV applies recognized keys from kv onto a Default state, leaving
// absent keys at their default, and returns that new State.
func UnmarshalKV(kv map[string]string) (State, error) {
	s := Default()

	if v, ok := kv[KeyIR]; ok {
		s.IR = v
	}

	if v, ok := kv[KeyGain]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return State{}, fmt.Errorf("pstate: bad %s: %w", KeyGain, err)
		}

		s.Gain = f
	}

	if v, ok := kv[KeyPredelay]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return State{}, fmt.Errorf("pstate: bad %s: %w", KeyPredelay, err)
		}

		s.Predelay = int32(n)
	}

	if v, ok := kv[KeyArtificialLatency]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return State{}, fmt.Errorf("pstate: bad %s: %w", KeyArtificialLatency, err)
		}

		s.ArtificialLatency = int32(n)
	}

	if v, ok := kv[KeySumInputs]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return State{}, fmt.Errorf("pstate: bad %s: %w", KeySumInputs, err)
		}

		s.SumInputs = b
	}

	if v, ok := kv[KeyChannelGain]; ok {
		vec, err := parseVec4(v)
		if err != nil {
			return State{}, fmt.Errorf("pstate: bad %s: %w", KeyChannelGain, err)
		}

		s.ChannelGain = vec
	}

	if v, ok := kv[KeyChannelPredelay]; ok {
		vec, err := parseVec4Int(v)
		if err != nil {
			return State{}, fmt.Errorf("pstate: bad %s: %w", KeyChannelPredelay, err)
		}

		s.ChannelPredelay = vec
	}

	return s, nil
}

func formatVec4(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}

	return strings.Join(parts, ",")
}

func formatVec4Int(v []int32) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(int(n))
	}

	return strings.Join(parts, ",")
}

func parseVec4(s string) ([4]float64, error) {
	var out [4]float64

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}

	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, err
		}

		out[i] = f
	}

	return out, nil
}

func parseVec4Int(s string) ([4]int32, error) {
	var out [4]int32

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}

	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out, err
		}

		out[i] = int32(n)
	}

	return out, nil
}
