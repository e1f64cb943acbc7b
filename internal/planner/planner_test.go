package planner

import "testing"

func TestBuildCoversIRLength(t *testing.T) {
	t.Parallel()

	cases := []Params{
		{Quantum: 64, MinPart: 64, MaxPart: 65536, MaxIRLen: 1_048_576, NIn: 1, NOut: 1, Density: 1},
		{Quantum: 64, MinPart: 128, MaxPart: 8192, MaxIRLen: 44100, NIn: 2, NOut: 2, Density: 1},
		{Quantum: 256, MinPart: 256, MaxPart: 256, MaxIRLen: 10000, NIn: 1, NOut: 2, Density: 0.5},
	}

	for _, p := range cases {
		plan, err := Build(p)
		if err != nil {
			t.Fatalf("Build(%+v): %v", p, err)
		}

		if got := plan.TotalCovered(); got < p.MaxIRLen {
			t.Fatalf("Build(%+v): covered %d < max_ir_len %d", p, got, p.MaxIRLen)
		}

		for i := 1; i < len(plan.Levels); i++ {
			if plan.Levels[i].Size < plan.Levels[i-1].Size {
				t.Fatalf("Build(%+v): level sizes not non-decreasing: %+v", p, plan.Levels)
			}

			if plan.Levels[i].Priority > plan.Levels[i-1].Priority {
				t.Fatalf("Build(%+v): priority should not increase with level: %+v", p, plan.Levels)
			}
		}

		if plan.Levels[0].Size != p.MinPart {
			t.Fatalf("Build(%+v): first level size %d != min_part %d", p, plan.Levels[0].Size, p.MinPart)
		}
	}
}

func TestBuildInlineFirstLevelWhenMinPartEqualsQuantum(t *testing.T) {
	t.Parallel()

	plan, err := Build(Params{Quantum: 64, MinPart: 64, MaxPart: 8192, MaxIRLen: 4096, NIn: 1, NOut: 1, Density: 1})
	if err != nil {
		t.Fatal(err)
	}

	if plan.Levels[0].Priority != 0 {
		t.Fatalf("expected first level priority 0 when min_part==quantum, got %d", plan.Levels[0].Priority)
	}
}

func TestBuildRejectsZeroIRLen(t *testing.T) {
	t.Parallel()

	if _, err := Build(Params{Quantum: 64, MinPart: 64, MaxPart: 8192, MaxIRLen: 0, NIn: 1, NOut: 1, Density: 1}); err == nil {
		t.Fatal("expected error for zero max_ir_len")
	}
}
