// Package storage defines where processed targets end up: a Sink receives
// each processed target in order, a Backend additionally answers queries.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedStore is returned for a store DSN no backend recognises.
var ErrUnsupportedStore = errors.New("storage: unsupported store")

// Record is the outcome of processing one newly discovered target.
type Record struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	URL          string        `json:"url"`
	StatusCode   int           `json:"status_code"`
	ContentType  string        `json:"content_type,omitempty"`
	Text         string        `json:"text,omitempty"`
	Bytes        int           `json:"bytes"`
	Duration     time.Duration `json:"duration"`
	DetectedBot  bool          `json:"detected_bot"`
	DetectionSrc string        `json:"detection_src,omitempty"` // e.g. "Cloudflare", "Google"
	CreatedAt    time.Time     `json:"created_at"`
	Error        string        `json:"error,omitempty"` // non-empty if no usable response

	// Header and Body are kept in memory for analysis and never persisted.
	Header map[string][]string `json:"-"`
	Body   []byte              `json:"-"`
}

// Filter narrows a Query.
type Filter struct {
	URL         string
	RunID       string
	DetectedBot *bool
	Since       *time.Time
	Limit       int
	Offset      int
}

// Sink accepts records in processing order.
type Sink interface {
	Save(ctx context.Context, rec *Record) error
	Close() error
}

// Backend is a Sink that can also be queried, newest first.
type Backend interface {
	Sink
	Query(ctx context.Context, filter Filter) ([]*Record, error)
}

// Match reports whether rec passes f's predicates. Limit and Offset are
// applied separately by Window.
func (f Filter) Match(rec *Record) bool {
	if f.URL != "" && rec.URL != f.URL {
		return false
	}
	if f.RunID != "" && rec.RunID != f.RunID {
		return false
	}
	if f.DetectedBot != nil && rec.DetectedBot != *f.DetectedBot {
		return false
	}
	if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Window applies Offset then Limit to recs, which must already be ordered.
func (f Filter) Window(recs []*Record) []*Record {
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return []*Record{}
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}
