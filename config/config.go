// Package config holds the immutable runtime parameters for a generation
// session: tempo, swing, bars-per-generation, channel and GM program maps.
package config

import "fmt"

// Instrument names recognised by the tracker format. DRUMS is always
// pinned to MIDI channel 9.
const (
	Bass  = "BASS"
	Drums = "DRUMS"
	Piano = "PIANO"
	Sax   = "SAX"
)

// Instruments lists the four recognised instrument names in tracker order.
var Instruments = []string{Bass, Drums, Piano, Sax}

// TimeSignature is a simple numerator/denominator pair.
type TimeSignature struct {
	Num int
	Den int
}

// Config is an immutable record of the parameters for one generation
// session. A new Config is created, never mutated, when the user changes
// a field: callers replace their held reference.
type Config struct {
	Tempo             int // BPM, positive
	SwingEnabled      bool
	SwingRatio        float64 // clamped to [0, 1]; musically meaningful range is [0.5, 1)
	TicksPerBeat      int     // positive, default 480
	BarsPerGeneration int     // positive
	TimeSignature     TimeSignature
	Channels          map[string]int // instrument -> MIDI channel 0-15, DRUMS pinned to 9
	GMPrograms        map[string]int // melodic instrument -> GM program 0-127
	GMDrums           map[string]int // symbolic drum name -> GM drum note

	StepsPerBar  int
	TotalSteps   int
	TicksPerStep int
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithTempo overrides the default tempo (BPM).
func WithTempo(bpm int) Option {
	return func(c *Config) { c.Tempo = bpm }
}

// WithSwing overrides swing enablement and ratio.
func WithSwing(enabled bool, ratio float64) Option {
	return func(c *Config) {
		c.SwingEnabled = enabled
		c.SwingRatio = ratio
	}
}

// WithBarsPerGeneration overrides the number of bars per LLM generation.
func WithBarsPerGeneration(bars int) Option {
	return func(c *Config) { c.BarsPerGeneration = bars }
}

// WithTimeSignature overrides the time signature.
func WithTimeSignature(num, den int) Option {
	return func(c *Config) { c.TimeSignature = TimeSignature{Num: num, Den: den} }
}

// New builds a Config with sane jazz-quartet defaults, applies opts, clamps
// swing ratio into [0, 1] (warning text is the caller's responsibility -
// New returns the clamped value and whether a clamp occurred), and derives
// stepsPerBar/totalSteps/ticksPerStep.
func New(opts ...Option) (*Config, bool, error) {
	c := &Config{
		Tempo:             120,
		SwingEnabled:      true,
		SwingRatio:        0.67,
		TicksPerBeat:      480,
		BarsPerGeneration: 4,
		TimeSignature:     TimeSignature{Num: 4, Den: 4},
		Channels: map[string]int{
			Bass: 0, Drums: 9, Piano: 1, Sax: 2,
		},
		GMPrograms: map[string]int{
			Bass: 33, // Electric Bass (finger)
			Piano: 0, // Acoustic Grand Piano
			Sax:   65, // Alto Sax
		},
		GMDrums: map[string]int{
			"KICK": 36, "SNARE": 38, "CHH": 42, "OHH": 46, "RIDE": 51, "CRASH": 49,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	clamped := false
	if c.SwingRatio < 0 {
		c.SwingRatio = 0
		clamped = true
	} else if c.SwingRatio > 1 {
		c.SwingRatio = 1
		clamped = true
	}

	c.Channels[Drums] = 9

	if err := c.validate(); err != nil {
		return nil, false, err
	}

	c.deriveSteps()
	return c, clamped, nil
}

func (c *Config) validate() error {
	if c.Tempo <= 0 {
		return fmt.Errorf("config: tempo must be positive, got %d", c.Tempo)
	}
	if c.TicksPerBeat <= 0 {
		return fmt.Errorf("config: ticksPerBeat must be positive, got %d", c.TicksPerBeat)
	}
	if c.BarsPerGeneration <= 0 {
		return fmt.Errorf("config: barsPerGeneration must be positive, got %d", c.BarsPerGeneration)
	}
	if c.TimeSignature.Num <= 0 || c.TimeSignature.Den <= 0 {
		return fmt.Errorf("config: invalid time signature %d/%d", c.TimeSignature.Num, c.TimeSignature.Den)
	}
	for inst, ch := range c.Channels {
		if ch < 0 || ch > 15 {
			return fmt.Errorf("config: channel for %s out of range 0-15: %d", inst, ch)
		}
	}
	if c.Channels[Drums] != 9 {
		return fmt.Errorf("config: DRUMS channel must be pinned to 9")
	}
	return nil
}

func (c *Config) deriveSteps() {
	c.StepsPerBar = c.TimeSignature.Num * 4
	c.TotalSteps = c.StepsPerBar * c.BarsPerGeneration
	c.TicksPerStep = c.TicksPerBeat / 4
}

// MicrosecondsPerQuarter returns the SMF tempo-meta value for this config's
// tempo: round(60_000_000 / tempo).
func (c *Config) MicrosecondsPerQuarter() int {
	return (60_000_000 + c.Tempo/2) / c.Tempo
}

// IsDrums reports whether inst is the drums instrument.
func IsDrums(inst string) bool {
	return inst == Drums
}

// IsValidInstrument reports whether name is one of the four recognised
// instrument names.
func IsValidInstrument(name string) bool {
	switch name {
	case Bass, Drums, Piano, Sax:
		return true
	default:
		return false
	}
}
