// Command infinitejazz streams a continuously improvised jazz quartet:
// an LLM writes tracker notation, the runtime parses it as it arrives
// and schedules it onto a soundfont synthesiser or an external MIDI
// output in real time.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/iltempo/infinitejazz/archive"
	"github.com/iltempo/infinitejazz/midiout"
	"github.com/iltempo/infinitejazz/playback"
	"github.com/iltempo/infinitejazz/repl"
)

var (
	flagBaseURL    string
	flagModel      string
	flagAPIKey     string
	flagTempo      int
	flagBars       int
	flagSwing      string
	flagSwingRatio float64
	flagBackend    string
	flagTransport  string
	flagDirection  string
	flagPrompt     string
	flagSoundFont  string
	flagMIDIPort   int
	flagScript     string
	flagAutostart  bool
)

var rootCmd = &cobra.Command{
	Use:   "infinitejazz",
	Short: "An endlessly improvising LLM-driven jazz quartet",
	Long: `infinitejazz drives a chat-completion endpoint to improvise a
four-instrument jazz quartet in tracker notation, parsing the token
stream as it arrives and scheduling playback in real time.

Sessions are controlled from a line-oriented prompt: 'start' begins
continuous generation, 'direction' steers the band, 'export-smf' writes
what you heard as a MIDI file. Settings persist across sessions in
~/.infinitejazz/settings.json.`,
	RunE:          runSession,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagBaseURL, "base-url", "", "OpenAI-compatible endpoint base URL")
	f.StringVar(&flagModel, "model", "", "model name")
	f.StringVar(&flagAPIKey, "api-key", "", "API key (Bearer token)")
	f.IntVar(&flagTempo, "tempo", 0, "tempo in BPM")
	f.IntVar(&flagBars, "bars", 0, "bars per generation")
	f.StringVar(&flagSwing, "swing", "", "swing on|off")
	f.Float64Var(&flagSwingRatio, "swing-ratio", 0, "swing ratio, 0.5-0.99")
	f.StringVar(&flagBackend, "backend", "", "preferred playback sink: soundfont|midi")
	f.StringVar(&flagTransport, "transport", "", "LLM transport: sse|anthropic")
	f.StringVar(&flagDirection, "direction", "", "initial direction text for the band")
	f.StringVar(&flagPrompt, "prompt", "", "override the prompt template")
	f.StringVar(&flagSoundFont, "soundfont", "", "path to a .sf2 soundfont for the soundfont sink")
	f.IntVar(&flagMIDIPort, "midi-port", 0, "MIDI output port index for the midi sink")
	f.StringVar(&flagScript, "script", "", "execute commands from file before reading input")
	f.BoolVar(&flagAutostart, "start", false, "start generating immediately")
}

// isTerminal returns true if stdin is a terminal (TTY).
func isTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// mergeSettings overlays any explicitly set flags on the persisted bag.
func mergeSettings(cmd *cobra.Command, s archive.Settings) archive.Settings {
	set := cmd.Flags().Changed
	if set("base-url") {
		s.BaseURL = flagBaseURL
	}
	if set("model") {
		s.Model = flagModel
	}
	if set("api-key") {
		s.APIKey = flagAPIKey
	}
	if set("tempo") {
		s.Tempo = flagTempo
	}
	if set("bars") {
		s.Bars = flagBars
	}
	if set("swing") {
		s.SwingEnabled = flagSwing == "on"
	}
	if set("swing-ratio") {
		s.SwingRatio = flagSwingRatio
	}
	if set("backend") {
		s.Backend = flagBackend
	}
	if set("transport") {
		s.Transport = flagTransport
	}
	if set("direction") {
		s.Direction = flagDirection
	}
	if set("prompt") {
		s.Prompt = flagPrompt
	}
	return s
}

func runSession(cmd *cobra.Command, args []string) error {
	settings, err := archive.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	settings = mergeSettings(cmd, settings)

	engine := playback.New(playback.WallClock())
	handler := repl.New(engine, settings, os.Stdout)
	handler.SoundFontPath = flagSoundFont
	handler.MIDIPort = flagMIDIPort

	cleanup := func() {
		if err := handler.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down: %v\n", err)
		}
		if err := archive.SaveSettings(handler.Settings()); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cleanup()
		os.Exit(0)
	}()

	if flagAutostart {
		if err := handler.ProcessCommand("start"); err != nil {
			cleanup()
			return err
		}
	}

	if flagScript != "" {
		f, err := os.Open(flagScript)
		if err != nil {
			cleanup()
			return fmt.Errorf("error opening script file: %w", err)
		}
		scriptErr := handler.ReadLoop(f)
		f.Close()
		if scriptErr != nil {
			cleanup()
			return scriptErr
		}
	}

	if isTerminal() {
		fmt.Println("Type 'start' to begin, 'help' for commands, 'quit' to exit.")
		err = handler.Interactive()
	} else {
		err = handler.ReadLoop(os.Stdin)
	}

	cleanup()
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available MIDI output ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := midiout.ListPorts()
		if err != nil {
			return fmt.Errorf("error listing MIDI ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Println("No MIDI output ports found")
			return nil
		}
		fmt.Println("Available MIDI ports:")
		for i, port := range ports {
			fmt.Printf("  %d: %s\n", i, port)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
