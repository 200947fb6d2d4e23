package serp

import (
	"context"
	"log/slog"
	"time"

	"github.com/FranksOps/scout/internal/metrics"
	"github.com/FranksOps/scout/pkg/ratelimit"
)

// DefaultFailoverBackoff is the pause before retrying with the next
// credential.
const DefaultFailoverBackoff = time.Second

// State is the position of a Chain within one query.
type State int

const (
	UsingPrimary State = iota
	UsingSecondary
	Exhausted
)

func (s State) String() string {
	switch s {
	case UsingPrimary:
		return "using_primary"
	case UsingSecondary:
		return "using_secondary"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Chain walks an ordered credential list for one query at a time. A failed
// page on the primary moves to the next credential once and retries the
// same page; a further failure exhausts the chain until Reset.
type Chain struct {
	creds     []Credential
	idx       int
	state     State
	backoff   time.Duration
	sleeper   ratelimit.Sleeper
	logger    *slog.Logger
	failovers int
}

// NewChain returns a chain positioned on creds[0].
func NewChain(creds []Credential, backoff time.Duration, sleeper ratelimit.Sleeper, logger *slog.Logger) *Chain {
	if sleeper == nil {
		sleeper = ratelimit.Pause
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{
		creds:   creds,
		backoff: backoff,
		sleeper: sleeper,
		logger:  logger,
	}
	c.Reset()
	return c
}

// Reset returns to the primary credential for a new query.
func (c *Chain) Reset() {
	c.idx = 0
	c.state = UsingPrimary
	if len(c.creds) == 0 {
		c.state = Exhausted
	}
}

func (c *Chain) State() State { return c.state }

// Failovers counts transitions to a secondary credential since creation.
func (c *Chain) Failovers() int { return c.failovers }

// Active returns the credential the next page will use.
func (c *Chain) Active() (Credential, bool) {
	if c.state == Exhausted {
		return Credential{}, false
	}
	return c.creds[c.idx], true
}

// Page requests one page through p. Once the chain is exhausted it makes no
// call and reports OutcomeEmpty; the last failure is kept in Err.
func (c *Chain) Page(ctx context.Context, p Provider, query string, start, num int) PageResult {
	if c.state == Exhausted {
		return PageResult{Outcome: OutcomeEmpty}
	}

	req := PageRequest{Query: query, Credential: c.creds[c.idx], Start: start, Num: num}
	res := p.Page(ctx, req)
	if !res.Outcome.Failed() {
		return res
	}
	c.logger.Warn("provider page failed",
		"query", query, "credential", req.Credential.String(), "start", start,
		"outcome", res.Outcome.String(), "err", res.Err)

	if c.state == UsingPrimary && c.idx+1 < len(c.creds) {
		c.idx++
		c.state = UsingSecondary
		c.failovers++
		metrics.FailoversTotal.Inc()
		c.logger.Info("failing over to secondary credential", "query", query, "credential", c.creds[c.idx].String())

		if err := c.sleeper.Sleep(ctx, c.backoff); err != nil {
			c.state = Exhausted
			return PageResult{Outcome: OutcomeEmpty, Err: err}
		}

		req.Credential = c.creds[c.idx]
		res = p.Page(ctx, req)
		if !res.Outcome.Failed() {
			return res
		}
		c.logger.Warn("provider page failed",
			"query", query, "credential", req.Credential.String(), "start", start,
			"outcome", res.Outcome.String(), "err", res.Err)
	}

	c.state = Exhausted
	c.logger.Warn("credentials exhausted for query", "query", query)
	return PageResult{Outcome: OutcomeEmpty, Status: res.Status, Err: res.Err}
}
