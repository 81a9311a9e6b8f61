// Package synth is the soundfont sink: a software synthesiser driven
// note-by-note from the scheduler's callbacks, rendered to a live audio
// output stream.
package synth

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

// SampleRate is the audio sample rate used for synthesis and playback.
const SampleRate = 44100

const (
	channelCount = 2
	bitDepth     = 2 // 16-bit
)

// Synth owns a soundfont, a synthesiser instance, and the oto player that
// continuously pulls rendered audio from it. Unlike a file-sequencer-driven
// player, it is driven note-by-note via NoteOn/NoteOff, matching how the
// playback backend issues individual scheduler callbacks.
type Synth struct {
	mu        sync.Mutex
	soundFont *meltysynth.SoundFont
	engine    *meltysynth.Synthesizer
	otoCtx    *oto.Context
	player    *oto.Player
	ready     bool
}

// New loads soundFontPath and starts a continuous audio stream. It returns
// ready=false (not an error) if oto's context cannot be created, so the
// playback backend can fall back to the external MIDI sink.
func New(soundFontPath string) (*Synth, error) {
	data, err := os.ReadFile(soundFontPath)
	if err != nil {
		return nil, fmt.Errorf("synth: read soundfont: %w", err)
	}

	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("synth: parse soundfont: %w", err)
	}

	settings := meltysynth.NewSynthesizerSettings(SampleRate)
	engine, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("synth: create synthesizer: %w", err)
	}

	s := &Synth{soundFont: sf, engine: engine}

	otoCtx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return s, nil // ready stays false; caller falls back
	}
	<-readyChan
	s.otoCtx = otoCtx
	s.player = otoCtx.NewPlayer(&synthReader{s: s})
	s.player.Play()
	s.ready = true
	return s, nil
}

// Ready reports whether the audio output stream started successfully.
func (s *Synth) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// NoteOn triggers a note on channel.
func (s *Synth) NoteOn(channel, key, velocity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.NoteOn(int32(channel), int32(key), int32(velocity))
}

// NoteOff releases a note on channel.
func (s *Synth) NoteOff(channel, key int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.NoteOff(int32(channel), int32(key))
}

// AllNotesOff releases every sounding note on channel immediately.
func (s *Synth) AllNotesOff(channel int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.NoteOffAll(int32(channel), true)
}

// ProgramChange selects a GM program on channel.
func (s *Synth) ProgramChange(channel, program int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.ProcessMidiMessage(int32(channel), 0xC0, int32(program), 0)
}

// Close tears down the audio stream: it marks the synth not ready and
// pauses the oto player so it stops pulling rendered audio.
func (s *Synth) Close() error {
	s.mu.Lock()
	s.ready = false
	player := s.player
	s.player = nil
	s.mu.Unlock()
	// Paused outside s.mu: the player's reader locks s.mu while rendering.
	if player != nil {
		player.Pause()
	}
	return nil
}

// synthReader renders the synthesiser's output to interleaved int16 stereo
// for oto, the same float32-render-then-convert shape used by file-backed
// meltysynth sequencers, but pulling from a live note-on/note-off engine
// instead of a pre-built MIDI sequence.
type synthReader struct {
	s *Synth
}

func (r *synthReader) Read(buf []byte) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	samples := len(buf) / (channelCount * bitDepth)
	if samples == 0 {
		return 0, nil
	}

	left := make([]float32, samples)
	right := make([]float32, samples)
	r.s.engine.Render(left, right)

	for i := 0; i < samples; i++ {
		l := int16(clamp(left[i]) * 32767)
		rr := int16(clamp(right[i]) * 32767)
		idx := i * channelCount * bitDepth
		buf[idx] = byte(l)
		buf[idx+1] = byte(l >> 8)
		buf[idx+2] = byte(rr)
		buf[idx+3] = byte(rr >> 8)
	}
	return len(buf), nil
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
