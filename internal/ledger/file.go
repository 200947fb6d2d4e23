package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

var _ Ledger = (*File)(nil)

// File is a newline-delimited ledger file.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
	set  *Set
}

// OpenFile loads path (a missing file is an empty ledger) and opens it for
// appending. Failing to open for append is returned as an error; callers
// treat it as fatal.
func OpenFile(path string) (*File, error) {
	set := NewSet()
	if err := load(path, set); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s for append: %w", path, err)
	}

	return &File{path: path, f: f, set: set}, nil
}

func load(path string, set *Set) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			set.Add(line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ledger: read %s: %w", path, err)
	}
	return nil
}

// Contains reports whether domain was processed by an earlier run or by this
// one.
func (l *File) Contains(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set.Has(domain)
}

// Append writes domain as one line. Domains already present are skipped.
func (l *File) Append(ctx context.Context, domain string) error {
	if err := Validate(domain); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.set.Has(domain) {
		return nil
	}
	if _, err := l.f.WriteString(domain + "\n"); err != nil {
		return fmt.Errorf("ledger: append to %s: %w", l.path, err)
	}
	l.set.Add(domain)
	return nil
}

// Len returns the number of known domains.
func (l *File) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set.Len()
}

// Close closes the underlying file.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
