// Package ledger records which root domains earlier runs already processed.
//
// A ledger is a set with append-only persistence: it is read completely when
// opened, consulted with Contains, and grows by one Append per processed
// domain so an interrupted run leaves a valid prefix behind.
package ledger

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidEntry is returned when an entry cannot be stored as one line.
var ErrInvalidEntry = errors.New("ledger: invalid entry")

// Ledger is the seen-domain set.
type Ledger interface {
	Contains(domain string) bool
	Append(ctx context.Context, domain string) error
	Len() int
	Close() error
}

// Set is the in-memory membership set every backend loads into.
type Set struct {
	m map[string]struct{}
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{m: make(map[string]struct{})}
}

// Add inserts d and reports whether it was new.
func (s *Set) Add(d string) bool {
	if _, ok := s.m[d]; ok {
		return false
	}
	s.m[d] = struct{}{}
	return true
}

// Has reports membership. Comparison is byte-exact.
func (s *Set) Has(d string) bool {
	_, ok := s.m[d]
	return ok
}

// Len returns the number of entries.
func (s *Set) Len() int { return len(s.m) }

// Validate rejects entries that would corrupt a line-oriented file.
func Validate(domain string) error {
	if domain == "" || strings.ContainsAny(domain, "\r\n") {
		return ErrInvalidEntry
	}
	return nil
}

// NewTargets returns found minus the ledger, in found order, truncated to
// limit. limit <= 0 means no truncation.
func NewTargets(found []string, l Ledger, limit int) []string {
	out := make([]string, 0, len(found))
	for _, d := range found {
		if l.Contains(d) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
