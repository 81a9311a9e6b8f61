// Package playback is the playback backend: it consumes joined tracker
// steps, allocates per-instrument voices, computes event times via the
// section coordinator, and issues note-on/note-off through the scheduler
// to either a soundfont synthesiser or an external MIDI output.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iltempo/infinitejazz/config"
	"github.com/iltempo/infinitejazz/midiout"
	"github.com/iltempo/infinitejazz/scheduler"
	"github.com/iltempo/infinitejazz/section"
	"github.com/iltempo/infinitejazz/synth"
	"github.com/iltempo/infinitejazz/tracker"
)

// ErrPlaybackUnavailable is returned by Prepare when neither sink could be
// initialised; the session cannot start.
var ErrPlaybackUnavailable = errors.New("playback: no backend available")

// InitialLookahead is the interval by which the external MIDI sink
// schedules its very first section ahead of the audio clock.
const InitialLookahead = 200 * time.Millisecond

// DrumNoteOffDelay is the unconditional duration after a drum note-on at
// which its note-off fires.
const DrumNoteOffDelay = 120 * time.Millisecond

// MinStepDuration is the floor applied to the difference between
// consecutive step starts.
const MinStepDuration = 50 * time.Millisecond

// sink is the capability set both backends expose.
type sink interface {
	name() string
	ready() bool
	noteOn(channel, pitch, velocity int)
	noteOff(channel, pitch int)
	programChange(channel, program int)
	allSoundsOff(channel int)
	allNotesOff(channel int)
	close() error
}

type voice struct {
	pitch     int
	endTime   float64
	offHandle scheduler.Handle
}

// Engine is the playback backend. It owns exactly one active sink at a
// time; Prepare fully stops the other before switching. The mutex
// covers the voice sets and coordinator, which are touched both by the
// generation loop's enqueue path and by scheduler timer callbacks.
type Engine struct {
	mu    sync.Mutex
	cfg   *config.Config
	clock scheduler.Clock
	sched *scheduler.Scheduler
	coord *section.Coordinator

	active   sink
	degraded bool

	voices map[string][]*voice // instrument -> active voice set

	sectionDuration float64
	startTime       float64

	// OnStatus receives non-error status lines, e.g. fallback notices.
	OnStatus func(msg string)
}

// New returns an Engine driven by clock (seconds since an arbitrary
// epoch, monotonic for the life of the process).
func New(clock scheduler.Clock) *Engine {
	return &Engine{
		clock:  clock,
		sched:  scheduler.New(clock),
		voices: make(map[string][]*voice, len(config.Instruments)),
	}
}

// WallClock returns a Clock backed by time.Now(), relative to an
// arbitrary fixed epoch captured at call time.
func WallClock() scheduler.Clock {
	start := time.Now()
	return func() float64 { return time.Since(start).Seconds() }
}

// soundfontSink adapts *synth.Synth to the sink interface.
type soundfontSink struct{ s *synth.Synth }

func (s soundfontSink) name() string               { return "soundfont" }
func (s soundfontSink) ready() bool                { return s.s.Ready() }
func (s soundfontSink) noteOn(ch, p, v int)        { s.s.NoteOn(ch, p, v) }
func (s soundfontSink) noteOff(ch, p int)          { s.s.NoteOff(ch, p) }
func (s soundfontSink) programChange(ch, prog int) { s.s.ProgramChange(ch, prog) }
func (s soundfontSink) allSoundsOff(ch int)        { s.s.AllNotesOff(ch) }
func (s soundfontSink) allNotesOff(ch int)         { s.s.AllNotesOff(ch) }
func (s soundfontSink) close() error               { return s.s.Close() }

// midiSink adapts *midiout.Output to the sink interface.
type midiSink struct{ o *midiout.Output }

func (m midiSink) name() string { return "midi" }
func (m midiSink) ready() bool  { return m.o != nil }
func (m midiSink) noteOn(ch, p, v int) {
	_ = m.o.NoteOn(uint8(ch), uint8(p), uint8(v))
}
func (m midiSink) noteOff(ch, p int) {
	_ = m.o.NoteOff(uint8(ch), uint8(p))
}
func (m midiSink) programChange(ch, prog int) {
	_ = m.o.ProgramChange(uint8(ch), uint8(prog))
}
func (m midiSink) allSoundsOff(ch int) { _ = m.o.AllSoundsOff(uint8(ch)) }
func (m midiSink) allNotesOff(ch int)  { _ = m.o.AllNotesOff(uint8(ch)) }
func (m midiSink) close() error        { return m.o.Close() }

// Prepare stops any current playback, resets voice sets, recomputes
// sectionDuration, chooses a buffered startTime, applies program changes,
// and pins section 0's start time. preferred is "soundfont" or "midi";
// soundFontPath is only used when the soundfont sink is attempted.
func (e *Engine) Prepare(cfg *config.Config, preferred, soundFontPath string, midiPortIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopAllLocked()
	if e.active != nil {
		_ = e.active.close()
		e.active = nil
	}
	e.cfg = cfg
	e.voices = make(map[string][]*voice, len(config.Instruments))

	e.coord = section.New(config.Instruments, cfg.TotalSteps, cfg.TicksPerStep, cfg.TicksPerBeat, cfg.Tempo, cfg.SwingEnabled, cfg.SwingRatio)
	e.sectionDuration = e.coord.SectionDuration()

	order := []string{preferred}
	if preferred == "soundfont" {
		order = append(order, "midi")
	} else {
		order = append(order, "soundfont")
	}

	var chosen sink
	var firstErr error
	for i, name := range order {
		s, err := e.openSink(name, soundFontPath, midiPortIndex)
		if err != nil || !s.ready() {
			if err == nil {
				err = fmt.Errorf("playback: %s sink not ready", name)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		chosen = s
		e.degraded = i > 0
		break
	}

	if chosen == nil {
		return fmt.Errorf("%w: %v", ErrPlaybackUnavailable, firstErr)
	}
	if e.degraded && e.OnStatus != nil {
		e.OnStatus(fmt.Sprintf("preferred sink %q unavailable, using %q", order[0], chosen.name()))
	}
	e.active = chosen

	bufferLead := InitialLookahead
	if chosen.name() == "soundfont" {
		bufferLead = time.Duration(4 * e.sectionDuration * float64(time.Second))
	}
	e.startTime = e.clock() + bufferLead.Seconds() + section.Lookahead

	for _, inst := range config.Instruments {
		if config.IsDrums(inst) {
			continue
		}
		e.active.programChange(cfg.Channels[inst], cfg.GMPrograms[inst])
	}

	e.coord.SetStart(0, e.startTime)
	return nil
}

func (e *Engine) openSink(name, soundFontPath string, midiPortIndex int) (sink, error) {
	switch name {
	case "soundfont":
		s, err := synth.New(soundFontPath)
		if err != nil {
			return nil, err
		}
		return soundfontSink{s: s}, nil
	case "midi":
		o, err := midiout.Open(midiPortIndex)
		if err != nil {
			return nil, err
		}
		return midiSink{o: o}, nil
	default:
		return nil, fmt.Errorf("playback: unknown backend %q", name)
	}
}

// EnqueueStep feeds a single instrument's step into the section
// coordinator; once all four instruments have reported the same
// (section, stepIndex), the combined step is dispatched to the scheduler.
func (e *Engine) EnqueueStep(instrument string, stepIndex int, step tracker.TrackerStep) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.coord == nil {
		return
	}
	combined, ok := e.coord.Incorporate(instrument, stepIndex, step, e.clock())
	if !ok {
		return
	}
	e.dispatch(combined)
}

func (e *Engine) dispatch(combined section.CombinedStep) {
	nextTime := combined.Time + e.stepDurationAt(combined.StepIndex)
	for _, inst := range config.Instruments {
		step, ok := combined.Steps[inst]
		if !ok {
			continue
		}
		ch := e.cfg.Channels[inst]
		if config.IsDrums(inst) {
			e.dispatchDrumStep(ch, step, combined.Time)
			continue
		}
		e.dispatchMelodicStep(inst, ch, step, combined.Time, nextTime)
	}
}

// stepDurationAt is the difference between consecutive step starts,
// floored to MinStepDuration.
func (e *Engine) stepDurationAt(stepIndex int) float64 {
	d := e.coord.StepDuration(stepIndex)
	if d < MinStepDuration.Seconds() {
		return MinStepDuration.Seconds()
	}
	return d
}

func (e *Engine) dispatchMelodicStep(inst string, channel int, step tracker.TrackerStep, start, end float64) {
	switch {
	case step.IsTie:
		for _, v := range e.voices[inst] {
			e.sched.Cancel(v.offHandle)
			v.endTime = end
			v.offHandle = e.sched.Schedule(end, scheduler.PriorityNaturalEnd, e.noteOffCallback(inst, channel, v.pitch, v))
		}
	case step.IsRest:
		e.releaseVoices(inst, channel, start)
	default:
		e.releaseVoices(inst, channel, start)
		for _, n := range step.Notes {
			pitch := n.Pitch
			velocity := n.Velocity
			v := &voice{pitch: pitch, endTime: end}
			e.sched.Schedule(start, scheduler.PriorityDefault, e.noteOnCallback(channel, pitch, velocity))
			v.offHandle = e.sched.Schedule(end, scheduler.PriorityNaturalEnd, e.noteOffCallback(inst, channel, pitch, v))
			e.voices[inst] = append(e.voices[inst], v)
		}
	}
}

func (e *Engine) noteOnCallback(channel, pitch, velocity int) scheduler.Callback {
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.active == nil {
			return
		}
		e.active.noteOn(channel, pitch, velocity)
	}
}

// fireNoteOff is the shared body for release and drum note-off
// callbacks that do not own a voice entry.
func (e *Engine) fireNoteOff(channel, pitch int) scheduler.Callback {
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.active == nil {
			return
		}
		e.active.noteOff(channel, pitch)
	}
}

func (e *Engine) noteOffCallback(inst string, channel, pitch int, v *voice) scheduler.Callback {
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.active == nil {
			return
		}
		e.active.noteOff(channel, pitch)
		e.removeVoice(inst, v)
	}
}

// releaseVoices cancels each active voice's scheduled note-off and fires
// an immediate one at start, using PriorityRelease so a release at the
// same instant as a new attack fires first.
func (e *Engine) releaseVoices(inst string, channel int, start float64) {
	for _, v := range e.voices[inst] {
		e.sched.Cancel(v.offHandle)
		e.sched.Schedule(start, scheduler.PriorityRelease, e.fireNoteOff(channel, v.pitch))
	}
	e.voices[inst] = nil
}

func (e *Engine) removeVoice(inst string, target *voice) {
	voices := e.voices[inst]
	for i, v := range voices {
		if v == target {
			e.voices[inst] = append(voices[:i], voices[i+1:]...)
			return
		}
	}
}

// dispatchDrumStep schedules a one-shot note-on/note-off pair per noted
// pitch; ties and rests emit nothing.
func (e *Engine) dispatchDrumStep(channel int, step tracker.TrackerStep, start float64) {
	if step.IsTie || step.IsRest {
		return
	}
	for _, n := range step.Notes {
		e.sched.Schedule(start, scheduler.PriorityDefault, e.noteOnCallback(channel, n.Pitch, n.Velocity))
		e.sched.Schedule(start+DrumNoteOffDelay.Seconds(), scheduler.PriorityNaturalEnd, e.fireNoteOff(channel, n.Pitch))
	}
}

// StopAll cancels every scheduler entry and issues all-sounds-off /
// all-notes-off on each configured channel. Idempotent.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopAllLocked()
}

func (e *Engine) stopAllLocked() {
	e.sched.Clear()
	e.voices = make(map[string][]*voice, len(config.Instruments))
	if e.active == nil || e.cfg == nil {
		return
	}
	for _, ch := range e.cfg.Channels {
		e.active.allSoundsOff(ch)
		e.active.allNotesOff(ch)
	}
}

// Shutdown calls StopAll, then disconnects the synthesiser or closes the
// MIDI handle.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopAllLocked()
	if e.active == nil {
		return nil
	}
	err := e.active.close()
	e.active = nil
	return err
}

// LeadSeconds reports how far ahead of the audio clock playback is
// currently scheduled, for status reporting.
func (e *Engine) LeadSeconds() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.coord == nil {
		return 0
	}
	return e.coord.MaxSectionStart() - e.clock()
}

// SectionDuration reports the current section's wall-clock duration.
func (e *Engine) SectionDuration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sectionDuration
}
