// Package textsink writes the human-readable run output: one line per
// discovered site in link mode, or a delimited text block per site in
// content mode. The file is opened for appending so successive runs
// accumulate.
package textsink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/FranksOps/scout/internal/storage"
)

var _ storage.Sink = (*Sink)(nil)

// Mode selects the output record shape.
type Mode string

const (
	ModeContent Mode = "content"
	ModeLinks   Mode = "links"
)

// ParseMode maps a config value to a Mode. Empty selects content mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeContent:
		return ModeContent, nil
	case ModeLinks, "link":
		return ModeLinks, nil
	default:
		return "", fmt.Errorf("textsink: unknown mode %q", s)
	}
}

// Separator closes every content-mode block.
var Separator = strings.Repeat("=", 80)

// Sink appends records to a text file.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	mode Mode
}

// Open opens path in append mode, creating it if needed.
func Open(path string, mode Mode) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("textsink: open %s: %w", path, err)
	}
	return &Sink{f: f, w: bufio.NewWriter(f), mode: mode}, nil
}

// Mode returns the sink's output shape.
func (s *Sink) Mode() Mode { return s.mode }

// Save writes rec in the sink's mode. In content mode a record with empty
// text is not written. Each record is flushed before Save returns.
func (s *Sink) Save(_ context.Context, rec *storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeLinks:
		fmt.Fprintf(s.w, "%s\n", rec.URL)
	default:
		if rec.Text == "" {
			return nil
		}
		fmt.Fprintf(s.w, "--- URL: %s\n%s\n\n%s\n\n", rec.URL, rec.Text, Separator)
	}

	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("textsink: write %s: %w", rec.URL, err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("textsink: flush: %w", err)
	}
	return s.f.Close()
}
