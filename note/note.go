// Package note converts between tracker note names and MIDI note numbers,
// clamps velocities, and derives frequencies.
package note

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidNote is the sentinel wrapped by every parse failure in this
// package, so callers can test with errors.Is.
var ErrInvalidNote = fmt.Errorf("note: invalid note")

var letterOffsets = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

// normalizeAccidentals folds the Unicode accidental glyphs ♯ (sharp), ♭
// (flat) and ♮ (natural) to their ASCII equivalents before parsing. NFKD
// decomposition is applied first so any precomposed or compatibility forms
// collapse to the same code points prior to the literal substitution.
func normalizeAccidentals(name string) string {
	d := norm.NFKD.String(name)
	d = strings.ReplaceAll(d, "♯", "#") // ♯
	d = strings.ReplaceAll(d, "♭", "b") // ♭
	d = strings.ReplaceAll(d, "♮", "")  // ♮: natural, no offset
	return d
}

// ToMidi parses a note name of the shape [A-G][#|b]?-?\d+ and returns its
// MIDI note number. Cb is treated as the note one semitone below C (i.e.
// the B of the octave below); B# is treated as the note one semitone above
// B (the C of the octave above): both fall out of the plain offset
// arithmetic below without special-casing, since (n+1)*12-1 and n*12+11
// are the same number. It fails with ErrInvalidNote when the shape is
// unparseable, the letter/accidental pair is unknown, or the resulting
// MIDI number falls outside [0, 127].
func ToMidi(name string) (int, error) {
	raw := name
	name = normalizeAccidentals(strings.TrimSpace(name))
	if name == "" {
		return 0, fmt.Errorf("%w: %q: empty", ErrInvalidNote, raw)
	}

	letter := name[0]
	offset, ok := letterOffsets[toUpperASCII(letter)]
	if !ok {
		return 0, fmt.Errorf("%w: %q: unknown letter %q", ErrInvalidNote, raw, string(letter))
	}

	rest := name[1:]
	switch {
	case strings.HasPrefix(rest, "#"):
		offset++
		rest = rest[1:]
	case strings.HasPrefix(rest, "b"):
		offset--
		rest = rest[1:]
	}

	if rest == "" {
		return 0, fmt.Errorf("%w: %q: missing octave", ErrInvalidNote, raw)
	}

	octave, err := parseSignedInt(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: bad octave %q", ErrInvalidNote, raw, rest)
	}

	midi := (octave+1)*12 + offset
	if midi < 0 || midi > 127 {
		return 0, fmt.Errorf("%w: %q: midi number %d out of range", ErrInvalidNote, raw, midi)
	}
	return midi, nil
}

func toUpperASCII(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

func parseSignedInt(s string) (int, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("no digits")
	}
	n := 0
	for i := 0; i < len(s); i++ {
		d := s[i]
		if d < '0' || d > '9' {
			return 0, fmt.Errorf("non-digit %q", string(d))
		}
		n = n*10 + int(d-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

var noteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Name renders a MIDI note number as a canonical name, e.g. 60 -> "C4".
func Name(midi int) string {
	octave := midi/12 - 1
	return fmt.Sprintf("%s%d", noteNames[((midi%12)+12)%12], octave)
}

// ClampVelocity clamps v into [lo, hi].
func ClampVelocity(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MidiToFrequency derives the frequency in Hz of a MIDI note number using
// equal temperament tuned to A4 = 440 Hz.
func MidiToFrequency(midi int) float64 {
	return 440.0 * math.Pow(2, (float64(midi)-69.0)/12.0)
}
