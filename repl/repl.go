// Package repl is the line-oriented control surface for a session: it
// parses verb/value commands, owns the running generation loop, and
// reports status. It follows the same ProcessCommand/ReadLoop shape as a
// classic sequencer REPL.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"

	"github.com/iltempo/infinitejazz/archive"
	"github.com/iltempo/infinitejazz/config"
	"github.com/iltempo/infinitejazz/contextbuf"
	"github.com/iltempo/infinitejazz/generate"
	"github.com/iltempo/infinitejazz/llm"
	"github.com/iltempo/infinitejazz/playback"
	"github.com/iltempo/infinitejazz/smfenc"
)

var (
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

// Handler processes user commands and owns the session state: the
// playback engine, the persisted settings bag, and the generation loop
// when one is running.
type Handler struct {
	engine *playback.Engine

	// SoundFontPath and MIDIPort select the sinks Prepare will try.
	SoundFontPath string
	MIDIPort      int

	out io.Writer

	mu         sync.Mutex
	settings   archive.Settings
	cfg        *config.Config
	loop       *generate.Loop
	cancel     context.CancelFunc
	done       chan struct{}
	running    bool
	loadedText string
}

// New creates a command handler around an engine and the loaded session
// settings.
func New(engine *playback.Engine, settings archive.Settings, out io.Writer) *Handler {
	if out == nil {
		out = os.Stdout
	}
	h := &Handler{engine: engine, settings: settings, out: out}
	engine.OnStatus = func(msg string) {
		fmt.Fprintln(out, statusStyle.Render(msg))
	}
	return h
}

// Settings returns a copy of the current settings bag.
func (h *Handler) Settings() archive.Settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

func (h *Handler) printf(format string, args ...any) {
	fmt.Fprintf(h.out, format+"\n", args...)
}

// ProcessCommand parses and executes a single command string.
func (h *Handler) ProcessCommand(cmdLine string) error {
	cmdLine = strings.TrimSpace(cmdLine)
	if cmdLine == "" {
		return h.handleStatus(nil)
	}

	parts := strings.Fields(cmdLine)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "start":
		return h.handleStart()
	case "stop":
		return h.handleStop()
	case "tempo":
		return h.handleTempo(parts)
	case "bars":
		return h.handleBars(parts)
	case "swing":
		return h.handleSwing(parts)
	case "swing-ratio":
		return h.handleSwingRatio(parts)
	case "base-url":
		return h.handleSet(parts, "base-url", func(s *archive.Settings, v string) { s.BaseURL = v })
	case "model":
		return h.handleSet(parts, "model", func(s *archive.Settings, v string) { s.Model = v })
	case "key":
		return h.handleSet(parts, "key", func(s *archive.Settings, v string) { s.APIKey = v })
	case "backend":
		return h.handleBackend(parts)
	case "transport":
		return h.handleTransport(parts)
	case "direction":
		return h.handleDirection(parts)
	case "save":
		return h.handleSave(parts)
	case "load":
		return h.handleLoad(parts)
	case "list":
		return h.handleList(parts)
	case "delete":
		return h.handleDelete(parts)
	case "export-smf":
		return h.handleExportSMF(parts)
	case "status":
		return h.handleStatus(parts)
	case "help":
		return h.handleHelp()
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

func (h *Handler) buildConfig() (*config.Config, error) {
	cfg, clamped, err := config.New(
		config.WithTempo(h.settings.Tempo),
		config.WithBarsPerGeneration(h.settings.Bars),
		config.WithSwing(h.settings.SwingEnabled, h.settings.SwingRatio),
	)
	if err != nil {
		return nil, err
	}
	if clamped {
		h.printf("%s", errStyle.Render(fmt.Sprintf("swing ratio clamped to %.2f (musically meaningful range is 0.5-0.99)", cfg.SwingRatio)))
	} else if cfg.SwingEnabled && cfg.SwingRatio < 0.5 {
		h.printf("%s", errStyle.Render(fmt.Sprintf("swing ratio %.2f is below 0.5 and will sound rushed", cfg.SwingRatio)))
	}
	return cfg, nil
}

func (h *Handler) newClient() (llm.Client, error) {
	switch h.settings.Transport {
	case "anthropic":
		if h.settings.APIKey != "" {
			return llm.NewAnthropic(h.settings.APIKey, h.settings.Model)
		}
		return llm.NewAnthropicFromEnv(h.settings.Model)
	case "", "sse":
		if h.settings.BaseURL == "" {
			return nil, fmt.Errorf("no base URL set (use 'base-url <url>' or 'transport anthropic')")
		}
		return llm.NewSSE(h.settings.BaseURL, h.settings.Model, h.settings.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want sse or anthropic)", h.settings.Transport)
	}
}

func (h *Handler) handleStart() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return fmt.Errorf("already running (use 'stop' first)")
	}

	cfg, err := h.buildConfig()
	if err != nil {
		return err
	}

	client, err := h.newClient()
	if err != nil {
		return err
	}

	if err := h.engine.Prepare(cfg, h.settings.Backend, h.SoundFontPath, h.MIDIPort); err != nil {
		return err
	}

	buf := contextbuf.New(contextbuf.DefaultWindow)
	if h.loadedText != "" {
		buf.Incorporate(h.loadedText)
		h.loadedText = ""
	}

	loop := generate.New(client, h.engine, cfg, buf)
	loop.PromptTemplate = h.settings.Prompt
	loop.SetDirection(h.settings.Direction)
	loop.OnStatus = func(msg string) {
		fmt.Fprintln(h.out, statusStyle.Render(msg))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cfg = cfg
	h.loop = loop
	h.cancel = cancel
	h.done = done
	h.running = true

	go func() {
		defer close(done)
		res, err := loop.Run(ctx)
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		switch {
		case err != nil:
			// Scheduled events keep draining; only the generation stops.
			fmt.Fprintln(h.out, errStyle.Render(fmt.Sprintf("generation stopped: %v", err)))
		case res.Aborted:
			fmt.Fprintln(h.out, statusStyle.Render("generation aborted"))
		}
	}()

	h.printf("Started: %d BPM, %d bars/generation, swing %v (%.2f), backend %s",
		cfg.Tempo, cfg.BarsPerGeneration, cfg.SwingEnabled, cfg.SwingRatio, h.settings.Backend)
	return nil
}

func (h *Handler) handleStop() error {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	wasRunning := h.running
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	h.engine.StopAll()
	if wasRunning {
		h.printf("Stopped")
	} else {
		h.printf("Not running")
	}
	return nil
}

func (h *Handler) handleTempo(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: tempo <bpm> (e.g., 'tempo 140')")
	}
	bpm, err := strconv.Atoi(parts[1])
	if err != nil || bpm <= 0 {
		return fmt.Errorf("invalid BPM: %s", parts[1])
	}
	h.mu.Lock()
	h.settings.Tempo = bpm
	running := h.running
	h.mu.Unlock()
	h.printf("Set tempo to %d BPM%s", bpm, nextStartNote(running))
	return nil
}

func (h *Handler) handleBars(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: bars <n> (e.g., 'bars 4')")
	}
	bars, err := strconv.Atoi(parts[1])
	if err != nil || bars <= 0 {
		return fmt.Errorf("invalid bar count: %s", parts[1])
	}
	h.mu.Lock()
	h.settings.Bars = bars
	running := h.running
	h.mu.Unlock()
	h.printf("Set bars per generation to %d%s", bars, nextStartNote(running))
	return nil
}

func (h *Handler) handleSwing(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: swing on|off")
	}
	var enabled bool
	switch strings.ToLower(parts[1]) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("usage: swing on|off")
	}
	h.mu.Lock()
	h.settings.SwingEnabled = enabled
	running := h.running
	h.mu.Unlock()
	h.printf("Swing %s%s", parts[1], nextStartNote(running))
	return nil
}

func (h *Handler) handleSwingRatio(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: swing-ratio <0.5-0.99>")
	}
	ratio, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return fmt.Errorf("invalid swing ratio: %s", parts[1])
	}
	h.mu.Lock()
	h.settings.SwingRatio = ratio
	running := h.running
	h.mu.Unlock()
	h.printf("Set swing ratio to %.2f%s", ratio, nextStartNote(running))
	return nil
}

func (h *Handler) handleSet(parts []string, name string, set func(*archive.Settings, string)) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: %s <value>", name)
	}
	value := strings.Join(parts[1:], " ")
	h.mu.Lock()
	set(&h.settings, value)
	h.mu.Unlock()
	if name == "key" {
		h.printf("Set %s", name)
	} else {
		h.printf("Set %s to %s", name, value)
	}
	return nil
}

func (h *Handler) handleBackend(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: backend soundfont|midi")
	}
	backend := strings.ToLower(parts[1])
	if backend != "soundfont" && backend != "midi" {
		return fmt.Errorf("unknown backend %q (want soundfont or midi)", parts[1])
	}
	h.mu.Lock()
	h.settings.Backend = backend
	running := h.running
	h.mu.Unlock()
	h.printf("Set backend to %s%s", backend, nextStartNote(running))
	return nil
}

func (h *Handler) handleTransport(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: transport sse|anthropic")
	}
	transport := strings.ToLower(parts[1])
	if transport != "sse" && transport != "anthropic" {
		return fmt.Errorf("unknown transport %q (want sse or anthropic)", parts[1])
	}
	h.mu.Lock()
	h.settings.Transport = transport
	running := h.running
	h.mu.Unlock()
	h.printf("Set transport to %s%s", transport, nextStartNote(running))
	return nil
}

// handleDirection updates the direction text; unlike the other knobs it
// reaches the running loop immediately, threading into the next prompt.
func (h *Handler) handleDirection(parts []string) error {
	text := strings.Join(parts[1:], " ")
	h.mu.Lock()
	h.settings.Direction = text
	loop := h.loop
	h.mu.Unlock()
	if loop != nil {
		loop.SetDirection(text)
	}
	if text == "" {
		h.printf("Cleared direction")
	} else {
		h.printf("Direction: %s", text)
	}
	return nil
}

func (h *Handler) handleSave(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: save <name>")
	}
	name := strings.Join(parts[1:], " ")

	h.mu.Lock()
	loop := h.loop
	cfg := h.cfg
	h.mu.Unlock()
	if loop == nil || cfg == nil {
		return fmt.Errorf("nothing to save yet (use 'start' first)")
	}
	text := loop.TrackerText()
	if text == "" {
		return fmt.Errorf("no completed generation to save yet")
	}

	if err := archive.Save(name, cfg, text); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	h.printf("Saved '%s'", name)
	return nil
}

func (h *Handler) handleLoad(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: load <name>")
	}
	name := strings.Join(parts[1:], " ")

	entry, err := archive.Load(name)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.loadedText = entry.Text
	h.settings.Tempo = entry.Config.Tempo
	h.settings.Bars = entry.Config.BarsPerGeneration
	h.settings.SwingEnabled = entry.Config.SwingEnabled
	h.settings.SwingRatio = entry.Config.SwingRatio
	h.mu.Unlock()
	h.printf("Loaded '%s' (%d BPM, %d bars); its tail primes the next start", name, entry.Config.Tempo, entry.Config.BarsPerGeneration)
	return nil
}

func (h *Handler) handleList(parts []string) error {
	if len(parts) != 1 {
		return fmt.Errorf("usage: list")
	}
	names, err := archive.List()
	if err != nil {
		return fmt.Errorf("failed to list archive: %w", err)
	}
	if len(names) == 0 {
		h.printf("No saved generations found")
		return nil
	}
	h.printf("Saved generations (%d):", len(names))
	for _, name := range names {
		h.printf("  - %s", name)
	}
	return nil
}

func (h *Handler) handleDelete(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: delete <name>")
	}
	name := strings.Join(parts[1:], " ")
	if err := archive.Delete(name); err != nil {
		return err
	}
	h.printf("Deleted '%s'", name)
	return nil
}

func (h *Handler) handleExportSMF(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: export-smf <path>")
	}
	path := parts[1]

	h.mu.Lock()
	loop := h.loop
	cfg := h.cfg
	h.mu.Unlock()
	if loop == nil || cfg == nil {
		return fmt.Errorf("nothing to export yet (use 'start' first)")
	}
	tracks := loop.Tracks()
	if len(tracks) == 0 {
		return fmt.Errorf("no parsed steps to export yet")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := smfenc.Encode(f, cfg, tracks); err != nil {
		return fmt.Errorf("failed to encode SMF: %w", err)
	}
	h.printf("Exported %d tracks to %s", len(tracks), path)
	return nil
}

func (h *Handler) handleStatus(parts []string) error {
	if parts != nil && len(parts) != 1 {
		return fmt.Errorf("usage: status")
	}
	h.mu.Lock()
	s := h.settings
	running := h.running
	h.mu.Unlock()

	state := "stopped"
	if running {
		state = "playing"
	}
	h.printf("%s %s", labelStyle.Render("State:"), state)
	h.printf("%s %d BPM, %d bars/generation, swing %v (%.2f)",
		labelStyle.Render("Groove:"), s.Tempo, s.Bars, s.SwingEnabled, s.SwingRatio)
	h.printf("%s backend=%s transport=%s model=%s", labelStyle.Render("Output:"), s.Backend, s.Transport, s.Model)
	if s.BaseURL != "" {
		h.printf("%s %s", labelStyle.Render("Endpoint:"), s.BaseURL)
	}
	if running {
		h.printf("%s %.1fs scheduled ahead, section duration %.1fs",
			labelStyle.Render("Lead:"), h.engine.LeadSeconds(), h.engine.SectionDuration())
	}
	return nil
}

func (h *Handler) handleHelp() error {
	h.printf(`Available commands:
  start                    Begin continuous generation and playback
  stop                     Abort generation and silence all channels
  tempo <bpm>              Change tempo (takes effect on next start)
  bars <n>                 Bars per generation (next start)
  swing on|off             Toggle swing (next start)
  swing-ratio <r>          Swing ratio, 0.5-0.99 (next start)
  base-url <url>           OpenAI-compatible endpoint base URL
  model <name>             Model name
  key <apiKey>             API key
  backend soundfont|midi   Preferred playback sink (next start)
  transport sse|anthropic  LLM wire transport (next start)
  direction <text>         Steer the band (reaches the next prompt)
  save <name>              Archive the tracker text generated so far
  load <name>              Load an archive; primes the next start
  list                     List archived generations
  delete <name>            Delete an archived generation
  export-smf <path>        Write the latest section as a MIDI file
  status                   Show session state
  help                     Show this help message
  quit                     Exit`)
	return nil
}

func nextStartNote(running bool) string {
	if running {
		return " (takes effect on next start)"
	}
	return ""
}

// ReadLoop reads commands from input until "quit" or EOF, the batch-mode
// entry point for piped input and script files.
func (h *Handler) ReadLoop(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if isQuit(line) {
			return nil
		}
		fmt.Fprintln(h.out, ">", line)
		if err := h.ProcessCommand(line); err != nil {
			fmt.Fprintln(h.out, errStyle.Render(fmt.Sprintf("Error: %v", err)))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return nil
}

// Interactive runs a readline-driven prompt until "quit", Ctrl-D, or
// Ctrl-C on an empty line; Ctrl-C with text typed discards that line.
func (h *Handler) Interactive() error {
	rl, err := readline.New("jazz> ")
	if err != nil {
		return fmt.Errorf("error creating readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if strings.TrimSpace(line) == "" {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading input: %w", err)
		}
		if isQuit(line) {
			return nil
		}
		if procErr := h.ProcessCommand(line); procErr != nil {
			fmt.Fprintln(h.out, errStyle.Render(fmt.Sprintf("Error: %v", procErr)))
		}
	}
}

func isQuit(line string) bool {
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "quit", "exit":
		return true
	}
	return false
}

// Close stops any running loop and shuts the engine down.
func (h *Handler) Close() error {
	_ = h.handleStop()
	return h.engine.Shutdown()
}
