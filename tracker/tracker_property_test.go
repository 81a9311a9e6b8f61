package tracker

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestStepCapProperty validates that the parser never emits more than
// totalSteps events per (instrument, section), for arbitrary line counts
// and an arbitrary totalSteps bound.
func TestStepCapProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("parser never emits more than totalSteps events", prop.ForAll(
		func(totalSteps, lineCount int) bool {
			p := NewParser(totalSteps)
			var b []byte
			b = append(b, "BASS\n"...)
			for i := 0; i < lineCount; i++ {
				b = append(b, fmt.Sprintf("%d C2:80\n", i+1)...)
			}
			events := p.AppendChunk(string(b))
			events = append(events, p.Finalize()...)
			return len(events) <= totalSteps
		},
		gen.IntRange(1, 64),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}

// TestTaggedVariantExclusivityProperty validates that every emitted
// TrackerStep has exactly one of {notes non-empty, isRest, isTie}.
func TestTaggedVariantExclusivityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	bodies := gen.OneConstOf(".", "", "^", "C2:80", "C2:80,E2:60,G2:70", "D#3:60", "Bb2:90.")

	properties.Property("emitted steps are exactly one of notes/rest/tie", prop.ForAll(
		func(body string) bool {
			step, err := parseNoteEntry(body)
			if err != nil {
				return true // malformed inputs never reach emission
			}
			count := 0
			if len(step.Notes) > 0 {
				count++
			}
			if step.IsRest {
				count++
			}
			if step.IsTie {
				count++
			}
			return count == 1
		},
		bodies,
	))

	properties.TestingRun(t)
}
