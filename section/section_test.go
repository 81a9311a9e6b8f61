package section

import (
	"testing"

	"github.com/iltempo/infinitejazz/config"
	"github.com/iltempo/infinitejazz/tracker"
)

func newTestCoordinator() *Coordinator {
	c := New(config.Instruments, 32, 120, 480, 120, true, 0.67)
	c.SetStart(0, 10.0)
	return c
}

func joinAll(t *testing.T, c *Coordinator, stepIndex int, now float64) CombinedStep {
	t.Helper()
	var last CombinedStep
	var ok bool
	for _, inst := range config.Instruments {
		last, ok = c.Incorporate(inst, stepIndex, tracker.Notes(tracker.NoteEvent{Pitch: 60, Velocity: 80}), now)
	}
	if !ok {
		t.Fatalf("step %d did not join after all instruments reported", stepIndex)
	}
	return last
}

func TestJoinRequiresAllFourInstruments(t *testing.T) {
	c := newTestCoordinator()
	_, ok := c.Incorporate(config.Bass, 0, tracker.Rest(), 0)
	if ok {
		t.Fatalf("joined after only one instrument reported")
	}
	_, ok = c.Incorporate(config.Drums, 0, tracker.Rest(), 0)
	if ok {
		t.Fatalf("joined after only two instruments reported")
	}
	_, ok = c.Incorporate(config.Piano, 0, tracker.Rest(), 0)
	if ok {
		t.Fatalf("joined after only three instruments reported")
	}
	_, ok = c.Incorporate(config.Sax, 0, tracker.Rest(), 0)
	if !ok {
		t.Fatalf("did not join once all four instruments reported")
	}
}

func TestSectionWraparound(t *testing.T) {
	c := newTestCoordinator()

	// BASS goes 0..31 then wraps back to step 0; stepIndex dropping below
	// lastStepIndex signals a new section for BASS only.
	for i := 0; i < 32; i++ {
		c.Incorporate(config.Bass, i, tracker.Rest(), 0)
	}
	if got := c.sectionIndex[config.Bass]; got != 0 {
		t.Fatalf("sectionIndex[BASS] = %d before wrap, want 0", got)
	}
	c.Incorporate(config.Bass, 0, tracker.Rest(), 0)
	if got := c.sectionIndex[config.Bass]; got != 1 {
		t.Fatalf("sectionIndex[BASS] = %d after wrap, want 1", got)
	}
}

func TestNoStepScheduledBeforePriorStepOfSameInstrument(t *testing.T) {
	c := newTestCoordinator()
	lastTime := -1.0
	for i := 0; i < 8; i++ {
		joined := joinAll(t, c, i, 0)
		if joined.Time < lastTime {
			t.Fatalf("step %d scheduled at %v, before prior step at %v", i, joined.Time, lastTime)
		}
		lastTime = joined.Time
	}
}

func TestTieAtFreshSectionStepZeroTreatedAsRest(t *testing.T) {
	c := newTestCoordinator()
	for i := 0; i < 4; i++ {
		joinAll(t, c, i, 0)
	}
	// Wrap BASS into a new section with a tie at step 0.
	joined := CombinedStep{}
	var ok bool
	joined, ok = c.Incorporate(config.Bass, 0, tracker.Tie(), 0)
	_ = joined
	_ = ok
	step := c.buffer[stepKey{section: 1, index: 0}][config.Bass]
	if !step.IsRest {
		t.Errorf("tie at fresh section step 0 = %+v, want rest", step)
	}
}
