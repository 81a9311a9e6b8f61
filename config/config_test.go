package config

import "testing"

func TestNewDefaults(t *testing.T) {
	c, clamped, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if clamped {
		t.Fatalf("New() unexpectedly clamped default swing ratio")
	}
	if c.StepsPerBar != 16 {
		t.Errorf("StepsPerBar = %d, want 16", c.StepsPerBar)
	}
	if c.TotalSteps != 64 {
		t.Errorf("TotalSteps = %d, want 64", c.TotalSteps)
	}
	if c.TicksPerStep != 120 {
		t.Errorf("TicksPerStep = %d, want 120", c.TicksPerStep)
	}
	if c.Channels[Drums] != 9 {
		t.Errorf("Channels[DRUMS] = %d, want 9", c.Channels[Drums])
	}
}

func TestNewClampsSwingRatio(t *testing.T) {
	c, clamped, err := New(WithSwing(true, 1.5))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !clamped {
		t.Errorf("expected clamp flag for out-of-range swing ratio")
	}
	if c.SwingRatio != 1 {
		t.Errorf("SwingRatio = %v, want 1", c.SwingRatio)
	}

	c, clamped, err = New(WithSwing(true, -0.2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !clamped {
		t.Errorf("expected clamp flag for negative swing ratio")
	}
	if c.SwingRatio != 0 {
		t.Errorf("SwingRatio = %v, want 0", c.SwingRatio)
	}
}

func TestNewRejectsInvalidTempo(t *testing.T) {
	if _, _, err := New(WithTempo(0)); err == nil {
		t.Errorf("expected error for zero tempo")
	}
}

func TestMicrosecondsPerQuarter(t *testing.T) {
	c, _, err := New(WithTempo(120))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := c.MicrosecondsPerQuarter(); got != 500000 {
		t.Errorf("MicrosecondsPerQuarter() = %d, want 500000", got)
	}
}

func TestDeriveStepsRecomputesTicksPerStep(t *testing.T) {
	c, _, err := New(WithTempo(100))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.TicksPerBeat = 480
	c.deriveSteps()
	if c.TicksPerStep != 120 {
		t.Errorf("TicksPerStep = %d, want 120", c.TicksPerStep)
	}
}
