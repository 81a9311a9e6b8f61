// Package contextbuf maintains a rolling window of recent tracker output
// per instrument, used to prime the next LLM call.
package contextbuf

import (
	"fmt"
	"strings"

	"github.com/iltempo/infinitejazz/config"
)

// DefaultWindow is the default number of lines retained per instrument.
const DefaultWindow = 32

// Buffer holds, per instrument, an ordered ring of the last N tracker
// lines and whether it has ever overflowed N (trimmed).
type Buffer struct {
	window int
	lines  map[string][]string
	trim   map[string]bool
}

// New returns a Buffer retaining up to window lines per instrument.
func New(window int) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{
		window: window,
		lines:  make(map[string][]string, len(config.Instruments)),
		trim:   make(map[string]bool, len(config.Instruments)),
	}
}

// Incorporate partitions trackerText into per-instrument sections by
// header lines, strips line numbers, and appends each line to the
// corresponding ring, marking it trimmed if the append overflowed.
func (b *Buffer) Incorporate(trackerText string) {
	var current string
	for _, raw := range strings.Split(trackerText, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if config.IsValidInstrument(line) {
			current = line
			continue
		}
		if current == "" {
			continue
		}
		b.append(current, stripLineNumber(line))
	}
}

func (b *Buffer) append(instrument, line string) {
	b.lines[instrument] = append(b.lines[instrument], line)
	if len(b.lines[instrument]) > b.window {
		b.lines[instrument] = b.lines[instrument][len(b.lines[instrument])-b.window:]
		b.trim[instrument] = true
	}
}

func stripLineNumber(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 {
		return line
	}
	rest := strings.TrimPrefix(line[i:], ".")
	return strings.TrimSpace(rest)
}

// BuildPromptChunk emits, per instrument that has history, a block of the
// form "<INST> (recent):\n[...]<line1>\n<line2>\n…" where "[...]" is
// present iff that instrument's buffer has ever overflowed the window.
func (b *Buffer) BuildPromptChunk() string {
	var sb strings.Builder
	for _, inst := range config.Instruments {
		lines := b.lines[inst]
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s (recent):\n", inst)
		if b.trim[inst] {
			sb.WriteString("[...]")
		}
		for _, line := range lines {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Reset clears all history.
func (b *Buffer) Reset() {
	b.lines = make(map[string][]string, len(config.Instruments))
	b.trim = make(map[string]bool, len(config.Instruments))
}
