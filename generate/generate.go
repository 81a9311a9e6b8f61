// Package generate runs the continuous generation loop: it builds a
// prompt from the rolling context window, opens a streaming chat
// completion, feeds the tracker parser as tokens arrive, and hands each
// parsed step to the playback backend while the LLM is still producing.
package generate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iltempo/infinitejazz/config"
	"github.com/iltempo/infinitejazz/contextbuf"
	"github.com/iltempo/infinitejazz/llm"
	"github.com/iltempo/infinitejazz/tracker"
)

// DefaultPromptTemplate instructs the model to continue the quartet in
// tracker notation. %d is the step count per instrument section.
const DefaultPromptTemplate = `You are a jazz quartet improvising together in real time. Continue the performance.

Output exactly four sections in this order, each a header line followed by %d numbered step lines:

BASS
DRUMS
PIANO
SAX

Each step line is "<n> <entry>" where <entry> is one of:
- NOTE:VELOCITY (e.g. C2:80), comma-separated for chords
- . for a rest
- ^ to hold the previous note(s)

Note names use letters A-G with optional # or b and an octave number.
Velocities range 1-127. Keep the four instruments listening to each
other: walk the bass, comp sparsely on piano, keep time on drums, let
the sax phrase across the grid. Output only tracker notation, no prose.`

// Playback is the capability the loop needs from the playback backend.
type Playback interface {
	EnqueueStep(instrument string, stepIndex int, step tracker.TrackerStep)
}

// Result is the terminal outcome of a loop run. A user abort is a
// sentinel, not an error.
type Result struct {
	Aborted bool
}

// Loop orchestrates repeated LLM calls, threading the context window
// forward between generations. Run drives everything; SetDirection and
// the text accessors are safe to call from another goroutine while Run
// is active.
type Loop struct {
	client   llm.Client
	playback Playback
	cfg      *config.Config
	buf      *contextbuf.Buffer
	parser   *tracker.Parser

	// PromptTemplate overrides DefaultPromptTemplate when non-empty. A
	// %d verb, if present, receives the per-instrument step count.
	PromptTemplate string

	// OnStatus receives one message per completed generation.
	OnStatus func(msg string)

	mu         sync.Mutex
	direction  string
	text       strings.Builder
	lastTracks []tracker.ParsedTrack
}

// New returns a Loop wired to the given client, playback backend, and
// context buffer.
func New(client llm.Client, playback Playback, cfg *config.Config, buf *contextbuf.Buffer) *Loop {
	return &Loop{
		client:   client,
		playback: playback,
		cfg:      cfg,
		buf:      buf,
		parser:   tracker.NewParser(cfg.TotalSteps),
	}
}

// SetDirection replaces the user "direction" text threaded into every
// subsequent prompt.
func (l *Loop) SetDirection(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.direction = text
}

// Direction returns the current direction text.
func (l *Loop) Direction() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.direction
}

// TrackerText returns all tracker text accumulated across completed
// generations, in the on-disk archive format.
func (l *Loop) TrackerText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text.String()
}

// Tracks returns the parsed tracks of the current generation if any
// steps have arrived, otherwise those of the last completed generation.
func (l *Loop) Tracks() []tracker.ParsedTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tracks := l.parser.Tracks(); len(tracks) > 0 {
		return tracks
	}
	return l.lastTracks
}

// Run generates sections until ctx is cancelled or the transport fails.
// Cancellation yields Result{Aborted: true} and abandons any partial
// parser state; a transport failure is returned as the error.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	for generation := 0; ; generation++ {
		if ctx.Err() != nil {
			return Result{Aborted: true}, nil
		}

		res, err := l.streamOne(ctx)
		if err != nil {
			return Result{}, err
		}
		if res.Aborted || ctx.Err() != nil {
			return Result{Aborted: true}, nil
		}

		l.mu.Lock()
		tail := l.parser.Finalize()
		l.mu.Unlock()
		for _, ev := range tail {
			l.playback.EnqueueStep(ev.Instrument, ev.StepIndex, ev.Step)
		}
		l.finishSection(generation)
	}
}

// streamOne runs a single generation: one goroutine streams deltas from
// the transport into a channel, the other drains that channel into the
// parser and playback backend. Playback is only ever driven from the
// draining goroutine; parser access is guarded by l.mu so the text and
// track accessors stay usable mid-generation.
func (l *Loop) streamOne(ctx context.Context) (llm.Result, error) {
	messages := l.buildMessages()
	chunks := make(chan string, 64)

	var res llm.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		r, err := l.client.StreamCompletion(gctx, messages, func(content string) {
			select {
			case chunks <- content:
			case <-gctx.Done():
			}
		})
		res = r
		return err
	})
	g.Go(func() error {
		for chunk := range chunks {
			l.mu.Lock()
			events := l.parser.AppendChunk(chunk)
			l.mu.Unlock()
			for _, ev := range events {
				l.playback.EnqueueStep(ev.Instrument, ev.StepIndex, ev.Step)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return llm.Result{}, err
	}
	return res, nil
}

// finishSection folds the completed generation's text into the archive
// accumulator and the context window, then resets the parser for the
// next generation.
func (l *Loop) finishSection(generation int) {
	l.mu.Lock()
	text := l.parser.Text()
	tracks := l.parser.Tracks()
	l.text.WriteString(text)
	if len(tracks) > 0 {
		l.lastTracks = tracks
	}
	l.parser.Reset()
	l.mu.Unlock()

	l.buf.Incorporate(text)

	if l.OnStatus != nil {
		l.OnStatus(fmt.Sprintf("generation %d complete (%d instruments)", generation+1, len(tracks)))
	}
}

func (l *Loop) buildMessages() []llm.Message {
	template := l.PromptTemplate
	if template == "" {
		template = DefaultPromptTemplate
	}

	var b strings.Builder
	if strings.Contains(template, "%d") {
		fmt.Fprintf(&b, template, l.cfg.TotalSteps)
	} else {
		b.WriteString(template)
	}

	if chunk := l.buf.BuildPromptChunk(); chunk != "" {
		b.WriteString("\n\nRecent performance for continuity:\n\n")
		b.WriteString(chunk)
	}
	if dir := l.Direction(); dir != "" {
		b.WriteString("\n\nDirection from the bandleader: ")
		b.WriteString(dir)
	}

	return []llm.Message{{Role: "user", Content: b.String()}}
}
