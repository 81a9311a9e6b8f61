// Package section tracks per-instrument section boundaries in the tracker
// stream, assigns monotonic section start times, and shifts future
// sections forward when one would otherwise arrive past its window. It
// also holds the per-(section, stepIndex) join buffer that synchronises
// the four independent instrument streams before dispatch.
package section

import (
	"github.com/iltempo/infinitejazz/smfenc"
	"github.com/iltempo/infinitejazz/tracker"
)

// Lookahead is the minimum interval, in seconds, by which a fresh section's
// start time must lead the current audio-clock reading.
const Lookahead = 2.0

// CombinedStep is a fully joined (section, stepIndex) cell once every
// instrument has reported it.
type CombinedStep struct {
	Section   int
	StepIndex int
	Steps     map[string]tracker.TrackerStep // instrument -> step
	Time      float64                        // target audio-clock time
}

type stepKey struct {
	section int
	index   int
}

// Coordinator implements §4.5 of the design: per-instrument lastStepIndex/
// sectionIndex tracking, a shared sectionStartTimes map, and a join buffer.
//
// A tie ("^") at stepIndex 0 of a freshly wrapped section is treated as a
// rest: the coordinator never carries a voice across a section boundary,
// matching the choice recorded in DESIGN.md for this project's open
// question.
type Coordinator struct {
	cfg *coordinatorConfig

	lastStepIndex map[string]int
	sectionIndex  map[string]int

	sectionStartTimes map[int]float64
	maxSectionStart   float64

	buffer map[stepKey]map[string]tracker.TrackerStep

	ticksPerStep   int
	swingEnabled   bool
	swingRatio     float64
	totalSteps     int
	secondsPerTick float64
}

type coordinatorConfig struct {
	instruments []string
}

// New returns a Coordinator for the given instruments, computing per-step
// offsets from ticksPerBeat/tempo/totalSteps the same way the SMF encoder
// does, scaled to seconds via the tempo.
func New(instruments []string, totalSteps, ticksPerStep, ticksPerBeat, tempo int, swingEnabled bool, swingRatio float64) *Coordinator {
	secondsPerTick := 60.0 / (float64(tempo) * float64(ticksPerBeat))
	return &Coordinator{
		cfg:               &coordinatorConfig{instruments: instruments},
		lastStepIndex:     initIndex(instruments, -1),
		sectionIndex:      initIndex(instruments, 0),
		sectionStartTimes: make(map[int]float64),
		buffer:            make(map[stepKey]map[string]tracker.TrackerStep),
		ticksPerStep:      ticksPerStep,
		swingEnabled:      swingEnabled,
		swingRatio:        swingRatio,
		totalSteps:        totalSteps,
		secondsPerTick:    secondsPerTick,
	}
}

func initIndex(instruments []string, v int) map[string]int {
	m := make(map[string]int, len(instruments))
	for _, inst := range instruments {
		m[inst] = v
	}
	return m
}

// SetStart pins section 0's start time, called by the playback backend's
// prepare() once it has computed a buffered startTime.
func (c *Coordinator) SetStart(section int, t float64) {
	c.sectionStartTimes[section] = t
	if t > c.maxSectionStart {
		c.maxSectionStart = t
	}
}

// SectionDuration reports the wall-clock duration of one full section,
// given the current tick layout.
func (c *Coordinator) SectionDuration() float64 {
	tailTick := smfenc.StepTick(c.totalSteps, c.ticksPerStep, c.swingEnabled, c.swingRatio)
	return float64(tailTick) * c.secondsPerTick
}

// stepOffset computes the in-section time offset of stepIndex using the
// same swing formula as the SMF encoder, scaled from ticks to seconds.
func (c *Coordinator) stepOffset(stepIndex int) float64 {
	tick := smfenc.StepTick(stepIndex, c.ticksPerStep, c.swingEnabled, c.swingRatio)
	return float64(tick) * c.secondsPerTick
}

// StepDuration reports the wall-clock gap between stepIndex and the step
// that follows it, wrapping to the section's tail tick for the final step.
func (c *Coordinator) StepDuration(stepIndex int) float64 {
	return c.stepOffset(stepIndex+1) - c.stepOffset(stepIndex)
}

// Incorporate reports a single instrument's step and returns the
// CombinedStep once every instrument has reported the same
// (section, stepIndex); ok is false until the join completes.
func (c *Coordinator) Incorporate(instrument string, stepIndex int, step tracker.TrackerStep, now float64) (CombinedStep, bool) {
	last := c.lastStepIndex[instrument]
	if last >= 0 && stepIndex < last {
		c.sectionIndex[instrument]++
	}
	c.lastStepIndex[instrument] = stepIndex

	section := c.sectionIndex[instrument]
	if stepIndex == 0 && step.IsTie {
		step = tracker.Rest()
	}

	if _, ok := c.sectionStartTimes[section]; !ok {
		prevStart, havePrev := c.sectionStartTimes[section-1]
		candidate := now + Lookahead
		if havePrev {
			withDuration := prevStart + c.SectionDuration()
			if withDuration > candidate {
				candidate = withDuration
			}
		}
		c.SetStart(section, candidate)
	}

	target := c.sectionStartTimes[section] + c.stepOffset(stepIndex)
	if target < now+Lookahead {
		deficit := (now + Lookahead) - target
		c.shiftSectionsFrom(section, deficit)
		target += deficit
	}

	key := stepKey{section: section, index: stepIndex}
	bucket := c.buffer[key]
	if bucket == nil {
		bucket = make(map[string]tracker.TrackerStep, len(c.cfg.instruments))
		c.buffer[key] = bucket
	}
	bucket[instrument] = step

	if len(bucket) < len(c.cfg.instruments) {
		return CombinedStep{}, false
	}

	delete(c.buffer, key)
	return CombinedStep{Section: section, StepIndex: stepIndex, Steps: bucket, Time: target}, true
}

// shiftSectionsFrom shifts section's start time and every later section's
// start time forward by deficit, preserving monotonic ordering.
func (c *Coordinator) shiftSectionsFrom(section int, deficit float64) {
	for idx, start := range c.sectionStartTimes {
		if idx >= section {
			c.sectionStartTimes[idx] = start + deficit
			if c.sectionStartTimes[idx] > c.maxSectionStart {
				c.maxSectionStart = c.sectionStartTimes[idx]
			}
		}
	}
}

// MaxSectionStart reports the furthest known section start time, for lead
// reporting.
func (c *Coordinator) MaxSectionStart() float64 {
	return c.maxSectionStart
}

// SectionStart reports the start time of a section, if known.
func (c *Coordinator) SectionStart(section int) (float64, bool) {
	t, ok := c.sectionStartTimes[section]
	return t, ok
}
