// Package planner decides the non-uniform partition plan for the convolution
// engine: the sequence of power-of-two partition sizes and counts that cover
// a given impulse-response length at bounded per-block cost.
//
// The algorithm follows zita-convolver's Convproc::configure: a simple
// per-sample cost model (FFT cost vs. complex multiply-accumulate cost)
// decides how aggressively partition sizes double, and a running cost
// comparison decides when to cap the partition count at a level in favor of
// promoting the remaining IR tail to the next, cheaper-per-sample size.
package planner

import "fmt"

// Level describes one partition size in a plan.
type Level struct {
	Size     int // P_k: partition size in samples, power of two
	Count    int // N_k: number of partitions of this size
	Offset   int // offs_k: starting IR sample offset covered by this level
	Priority int // prio_k: scheduling priority offset, non-increasing with k
}

// Plan is an ordered, non-decreasing-size sequence of levels covering at
// least MaxIRLen samples of impulse response.
type Plan struct {
	Levels []Level
	Step   int // 1 (fine doubling) or 2 (coarse, factor-of-4 promotion)
}

// Params bundles planner inputs. All size-like fields must be powers of two;
// callers should validate with internal/config.New before calling Build.
type Params struct {
	Quantum  int
	MinPart  int
	MaxPart  int
	MaxIRLen int
	NIn      int
	NOut     int
	Density  float64
}

// Build computes the partition plan for p. It never returns an empty plan
// for MaxIRLen > 0.
func Build(p Params) (Plan, error) {
	if p.MaxIRLen <= 0 {
		return Plan{}, fmt.Errorf("planner: max_ir_len must be positive, got %d", p.MaxIRLen)
	}

	cfft := 5.0 * float64(p.NIn+p.NOut)
	cmac := 1.0 * float64(p.NIn) * float64(p.NOut) * p.Density

	step := 2
	if cfft < 4*cmac {
		step = 1
	}

	nmin := 2
	if step == 2 {
		nmin = 6
	}

	if p.MinPart == p.Quantum {
		nmin++
	}

	prio := 0

	for size := p.Quantum; size < p.MinPart; size <<= 1 {
		prio--
	}

	var levels []Level

	size := p.MinPart
	s := 1

	for offs := 0; offs < p.MaxIRLen; {
		remaining := p.MaxIRLen - offs
		npar := ceilDiv(remaining, size)

		if npar > nmin {
			d := npar - nmin - ceilDiv(npar-nmin, 1<<uint(s))
			if float64(d) > 0 && cfft < float64(d)*cmac {
				npar = nmin
			}
		}

		levels = append(levels, Level{Size: size, Count: npar, Offset: offs, Priority: prio})

		offs += size * npar

		if offs >= p.MaxIRLen {
			break
		}

		s = step
		prio -= s

		nextSize := size << uint(s)
		if nextSize > p.MaxPart {
			nextSize = p.MaxPart
		}

		if nextSize <= size {
			// Already saturated at MaxPart: keep covering the remainder at
			// the current size rather than looping forever.
			s = 0
		} else {
			size = nextSize
		}
	}

	return Plan{Levels: levels, Step: step}, nil
}

// TotalCovered returns Σ P_k·N_k, the total impulse-response length this
// plan's levels cover. Callers checking a plan against a maximum IR length
// should compare this against it.
func (p Plan) TotalCovered() int {
	total := 0
	for _, lvl := range p.Levels {
		total += lvl.Size * lvl.Count
	}

	return total
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}

	return (a + b - 1) / b
}
