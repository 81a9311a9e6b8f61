package smfenc

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSwingTickLawProperty validates the pairwise tick deltas for
// arbitrary ticksPerStep and swing ratios: odd steps land
// round(2T*ratio) after their pair start, and consecutive deltas always
// sum back to a full pair of 2T ticks.
func TestSwingTickLawProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("odd-even deltas obey the swing formula", prop.ForAll(
		func(ticksPerStep, stepCount int, ratio float64) bool {
			swung := roundSwing(ticksPerStep, ratio)
			for i := 1; i <= stepCount; i++ {
				delta := StepTick(i, ticksPerStep, true, ratio) - StepTick(i-1, ticksPerStep, true, ratio)
				if i%2 == 1 {
					if delta != swung {
						return false
					}
				} else if delta != 2*ticksPerStep-swung {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 480),
		gen.IntRange(1, 64),
		gen.Float64Range(0.5, 0.99),
	))

	properties.Property("swing disabled yields a uniform grid", prop.ForAll(
		func(ticksPerStep, stepCount int) bool {
			for i := 1; i <= stepCount; i++ {
				delta := StepTick(i, ticksPerStep, false, 0) - StepTick(i-1, ticksPerStep, false, 0)
				if delta != ticksPerStep {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 480),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}
