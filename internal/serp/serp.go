// Package serp talks to search engines: the paid Custom Search JSON API,
// a credential failover chain around it, and a scraping fallback over
// Google's public results page.
package serp

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// MaxPageSize is the most results the provider returns per request.
const MaxPageSize = 10

// ErrChallenged is returned when a scraped results page is a bot challenge.
var ErrChallenged = errors.New("serp: search challenged")

// Credential is one search-API account.
type Credential struct {
	Key string `yaml:"key" mapstructure:"key"`
	CX  string `yaml:"cx" mapstructure:"cx"`
}

// String masks the key so credentials can be logged.
func (c Credential) String() string {
	key := "****"
	if len(c.Key) > 8 {
		key = c.Key[:4] + "****"
	}
	return fmt.Sprintf("%s/%s", key, c.CX)
}

// Outcome classifies one provider page request.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeEmpty
	OutcomeQuotaOrAuth
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeEmpty:
		return "empty"
	case OutcomeQuotaOrAuth:
		return "quota_or_auth"
	case OutcomeTransient:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Failed reports whether o should trigger a credential failover.
func (o Outcome) Failed() bool {
	return o == OutcomeQuotaOrAuth || o == OutcomeTransient
}

// PageRequest asks for Num results of Query starting at the 1-based Start.
type PageRequest struct {
	Query      string
	Credential Credential
	Start      int
	Num        int
}

// PageResult is the tagged outcome of a page request. Links are raw.
type PageResult struct {
	Links   []string
	Outcome Outcome
	Status  int
	Err     error
}

// Provider fetches one page of results with exactly one network attempt.
type Provider interface {
	Page(ctx context.Context, req PageRequest) PageResult
}

// Searcher produces a lazy stream of result URLs for query, at most
// maxResults long. An error ends the stream.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) iter.Seq2[string, error]
}
