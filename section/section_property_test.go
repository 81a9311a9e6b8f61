package section

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/iltempo/infinitejazz/config"
	"github.com/iltempo/infinitejazz/tracker"
)

// TestMonotonicSectionsProperty validates that sectionStartTimes[k+1] >
// sectionStartTimes[k] whenever both are defined, across arbitrary
// sequences of step reports (including bursty/out-of-window ones that
// force a forward shift).
func TestMonotonicSectionsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("section start times are strictly increasing", prop.ForAll(
		func(wraps int, nowJitter []float64) bool {
			c := New(config.Instruments, 8, 120, 480, 120, true, 0.67)
			c.SetStart(0, 0.0)

			now := 0.0
			for w := 0; w <= wraps; w++ {
				for step := 0; step < 8; step++ {
					if len(nowJitter) > 0 {
						now += nowJitter[(w*8+step)%len(nowJitter)]
					}
					for _, inst := range config.Instruments {
						c.Incorporate(inst, step, tracker.Rest(), now)
					}
				}
			}

			var prev float64
			havePrev := false
			for k := 0; k <= wraps; k++ {
				t, ok := c.SectionStart(k)
				if !ok {
					continue
				}
				if havePrev && t <= prev {
					return false
				}
				prev = t
				havePrev = true
			}
			return true
		},
		gen.IntRange(0, 5),
		gen.SliceOfN(10, gen.Float64Range(0, 0.05)),
	))

	properties.TestingRun(t)
}
