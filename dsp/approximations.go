package dsp

import "math"

// log10Approx is a fast approximation of log10(x) for audio applications.
func log10Approx(x float32) float32 {
	// For now, use standard library
	// TODO: Implement fast approximation if needed for performance
	return float32(math.Log10(float64(x)))
}
