// Package smfenc serialises a fully parsed tracker into a type-1 Standard
// MIDI File with bit-exact swing-aware tick placement.
package smfenc

import (
	"io"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/iltempo/infinitejazz/config"
	"github.com/iltempo/infinitejazz/tracker"
)

// StepTick computes the absolute tick of step i within a section of
// ticksPerStep T, applying the swing formula to odd steps:
//   - pair index p = floor(i/2); pair start = p * 2T
//   - even i: tick = pair start
//   - odd i, swing enabled: tick = pairStart + round(2T * swingRatio)
//   - odd i, swing disabled: tick = pairStart + T
//
// i = totalSteps is accepted as the tail boundary used for closing
// note-offs, and follows the same even/odd rule.
func StepTick(i, ticksPerStep int, swingEnabled bool, swingRatio float64) int {
	t := ticksPerStep
	p := i / 2
	pairStart := p * 2 * t
	if i%2 == 0 {
		return pairStart
	}
	if swingEnabled {
		return pairStart + roundSwing(t, swingRatio)
	}
	return pairStart + t
}

// roundSwing computes round(2T * swingRatio) in float64 arithmetic, rounding
// halves up (for the non-negative ratios config allows, this is
// round-half-away-from-zero).
func roundSwing(ticksPerStep int, swingRatio float64) int {
	twoT := float64(2 * ticksPerStep)
	return int(twoT*swingRatio + 0.5)
}

// Encode writes a type-1 SMF for the given tracks to w: a tempo track
// followed by one track per instrument, in config.Instruments order among
// the tracks present. Division is cfg.TicksPerBeat; tempo track carries a
// single microseconds-per-quarter meta event.
func Encode(w io.Writer, cfg *config.Config, tracks []tracker.ParsedTrack) error {
	sm := smf.NewSMF1()
	sm.TimeFormat = smf.MetricTicks(cfg.TicksPerBeat)

	var tempoTrack smf.Track
	tempoTrack.Add(0, smf.MetaTempo(float64(cfg.Tempo)))
	tempoTrack.Close(0)
	if err := sm.Add(tempoTrack); err != nil {
		return err
	}

	byInstrument := make(map[string]tracker.ParsedTrack, len(tracks))
	for _, tr := range tracks {
		byInstrument[tr.Instrument] = tr
	}

	for _, inst := range config.Instruments {
		tr, ok := byInstrument[inst]
		if !ok {
			continue
		}
		trk, err := encodeInstrumentTrack(cfg, tr)
		if err != nil {
			return err
		}
		if err := sm.Add(trk); err != nil {
			return err
		}
	}

	_, err := sm.WriteTo(w)
	return err
}

type timedMsg struct {
	tick int
	msg  smf.Message
}

func encodeInstrumentTrack(cfg *config.Config, tr tracker.ParsedTrack) (smf.Track, error) {
	var track smf.Track
	track.Add(0, smf.MetaTrackSequenceName(tr.Instrument))

	ch := uint8(cfg.Channels[tr.Instrument])
	isDrums := config.IsDrums(tr.Instrument)

	if !isDrums {
		program := uint8(cfg.GMPrograms[tr.Instrument])
		track.Add(0, midi.ProgramChange(ch, program))
	}

	var events []timedMsg
	activeNotes := make(map[int]bool)

	totalSteps := cfg.TotalSteps
	for i, step := range tr.Steps {
		if i >= totalSteps {
			break
		}
		tick := StepTick(i, cfg.TicksPerStep, cfg.SwingEnabled, cfg.SwingRatio)

		if isDrums {
			events = append(events, drumEvents(ch, tick, cfg.TicksPerStep, step)...)
			continue
		}

		switch {
		case step.IsTie:
			// extend held notes: no note-off/note-on emitted.
		case step.IsRest:
			events = append(events, noteOffsFor(ch, tick, activeNotes)...)
		default:
			events = append(events, noteOffsFor(ch, tick, activeNotes)...)
			for _, n := range step.Notes {
				vel := clampNoteOnVelocity(n.Velocity)
				events = append(events, timedMsg{tick: tick, msg: smf.Message(midi.NoteOn(ch, uint8(n.Pitch), uint8(vel)))})
				activeNotes[n.Pitch] = true
			}
		}
	}

	if !isDrums {
		tailTick := StepTick(totalSteps, cfg.TicksPerStep, cfg.SwingEnabled, cfg.SwingRatio)
		events = append(events, noteOffsFor(ch, tailTick, activeNotes)...)
	}

	addEventsInOrder(&track, events)
	return track, nil
}

// noteOffsFor emits a note-off for every active note, in ascending pitch
// order for determinism, and clears the active set.
func noteOffsFor(ch uint8, tick int, active map[int]bool) []timedMsg {
	if len(active) == 0 {
		return nil
	}
	pitches := sortedKeys(active)
	events := make([]timedMsg, 0, len(pitches))
	for _, p := range pitches {
		events = append(events, timedMsg{tick: tick, msg: smf.Message(midi.NoteOff(ch, uint8(p)))})
		delete(active, p)
	}
	return events
}

// drumEvents emits one note-on/note-off pair per noted pitch for a drum
// step: a one-shot at tick and tick+max(12, T/2). Ties and rests emit
// nothing.
func drumEvents(ch uint8, tick, ticksPerStep int, step tracker.TrackerStep) []timedMsg {
	if step.IsTie || step.IsRest || len(step.Notes) == 0 {
		return nil
	}
	offDelay := ticksPerStep / 2
	if offDelay < 12 {
		offDelay = 12
	}
	events := make([]timedMsg, 0, len(step.Notes)*2)
	for _, n := range step.Notes {
		vel := clampNoteOnVelocity(n.Velocity)
		events = append(events, timedMsg{tick: tick, msg: smf.Message(midi.NoteOn(ch, uint8(n.Pitch), uint8(vel)))})
		events = append(events, timedMsg{tick: tick + offDelay, msg: smf.Message(midi.NoteOff(ch, uint8(n.Pitch)))})
	}
	return events
}

// clampNoteOnVelocity clamps velocity into [1, 127]: never zero, to
// preserve MIDI note-on trigger semantics.
func clampNoteOnVelocity(v int) int {
	if v < 1 {
		return 1
	}
	if v > 127 {
		return 127
	}
	return v
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// addEventsInOrder sorts events by tick (stable, preserving the
// note-offs-before-note-ons-at-the-same-tick order already established by
// construction) and adds them to track with correctly accumulated delta
// times, closing the track afterward.
func addEventsInOrder(track *smf.Track, events []timedMsg) {
	stableSortByTick(events)

	var lastTick int
	for _, ev := range events {
		delta := ev.tick - lastTick
		if delta < 0 {
			delta = 0
		}
		track.Add(uint32(delta), ev.msg)
		lastTick = ev.tick
	}
	track.Close(0)
}

// stableSortByTick is an insertion sort: the event counts here are small
// (at most a few thousand per instrument) and stability is required to
// keep the already-established note-off-before-note-on ordering at equal
// ticks.
func stableSortByTick(events []timedMsg) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j-1].tick > events[j].tick; j-- {
			events[j-1], events[j] = events[j], events[j-1]
		}
	}
}
