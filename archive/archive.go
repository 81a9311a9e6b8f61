// Package archive persists finished tracker-text generations and the
// session settings bag to disk as JSON.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iltempo/infinitejazz/config"
)

// Dir is the directory archived generations are written to, relative to
// the working directory.
var Dir = "archive"

// Entry wraps one archived generation: the raw tracker text plus the
// config snapshot it was generated under.
type Entry struct {
	Name      string        `json:"name"`
	CreatedAt string        `json:"created_at"`
	Config    config.Config `json:"config"`
	Text      string        `json:"text"`
}

// Save writes the tracker text under name, truncating each instrument
// block to cfg.TotalSteps step lines first.
func Save(name string, cfg *config.Config, text string) error {
	if err := os.MkdirAll(Dir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	entry := Entry{
		Name:      name,
		CreatedAt: time.Now().Format(time.RFC3339),
		Config:    *cfg,
		Text:      Truncate(text, cfg.TotalSteps),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive entry: %w", err)
	}

	path := filepath.Join(Dir, sanitizeFilename(name)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	return nil
}

// Load reads an archived generation by name.
func Load(name string) (*Entry, error) {
	path := filepath.Join(Dir, sanitizeFilename(name)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive '%s' not found", name)
		}
		return nil, fmt.Errorf("failed to read archive file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse archive file: %w", err)
	}
	return &entry, nil
}

// List returns the names of all archived generations.
func List() ([]string, error) {
	if _, err := os.Stat(Dir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return names, nil
}

// Delete removes an archived generation by name.
func Delete(name string) error {
	path := filepath.Join(Dir, sanitizeFilename(name)+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archive '%s' not found", name)
		}
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}

// Truncate caps each instrument block of tracker text at totalSteps step
// lines, preserving headers, comments, and blank lines. Step counting
// resets at every header, so multi-generation text is capped per block.
func Truncate(text string, totalSteps int) string {
	var b strings.Builder
	var count int
	var inBlock bool
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			b.WriteString(raw)
			b.WriteByte('\n')
			continue
		case config.IsValidInstrument(line):
			inBlock = true
			count = 0
		case inBlock:
			if count >= totalSteps {
				continue
			}
			count++
		}
		b.WriteString(raw)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// sanitizeFilename removes potentially problematic characters from
// filenames.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			sb.WriteRune(r)
		}
	}
	result := sb.String()
	if result == "" {
		return "unnamed"
	}
	return result
}
