// Package discovery turns search queries into a deduplicated list of root
// site URLs. Queries go to a paid provider through a credential failover
// chain; a query the provider answers with nothing falls back to a scraping
// searcher. All calls are serial and paced by a fixed delay.
package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/FranksOps/scout/internal/dork"
	"github.com/FranksOps/scout/internal/metrics"
	"github.com/FranksOps/scout/internal/serp"
	"github.com/FranksOps/scout/pkg/ratelimit"
)

// DefaultPerQueryLimit applies when Options.PerQueryLimit is not positive.
const DefaultPerQueryLimit = 10

// Options configures an Engine.
type Options struct {
	// Generator expands a suffix into queries; nil uses dork.Generate.
	Generator   func(suffix string) []dork.Query
	Provider    serp.Provider
	Credentials []serp.Credential
	// Fallback is consulted only for queries the provider found nothing
	// for. Nil disables it.
	Fallback serp.Searcher

	// TotalLimit caps the found set; zero or less means unlimited.
	TotalLimit      int
	PerQueryLimit   int
	Delay           time.Duration
	FailoverBackoff time.Duration
	Sleeper         ratelimit.Sleeper
	Logger          *slog.Logger
}

// Stats summarises one Discover call.
type Stats struct {
	Queries          int  `json:"queries"`
	ProviderPages    int  `json:"provider_pages"`
	ProviderLinks    int  `json:"provider_links"`
	Failovers        int  `json:"failovers"`
	ExhaustedChains  int  `json:"exhausted_chains"`
	FallbackSearches int  `json:"fallback_searches"`
	FallbackLinks    int  `json:"fallback_links"`
	FallbackErrors   int  `json:"fallback_errors"`
	LimitReached     bool `json:"limit_reached"`
}

// Result is the ordered found set plus counters.
type Result struct {
	Found []string
	Stats Stats
}

// Engine runs discovery. It is not safe for concurrent use.
type Engine struct {
	opts  Options
	chain *serp.Chain
	log   *slog.Logger
}

func New(opts Options) *Engine {
	if opts.Generator == nil {
		opts.Generator = dork.Generate
	}
	if opts.PerQueryLimit <= 0 {
		opts.PerQueryLimit = DefaultPerQueryLimit
	}
	if opts.Sleeper == nil {
		opts.Sleeper = ratelimit.Pause
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		opts:  opts,
		chain: serp.NewChain(opts.Credentials, opts.FailoverBackoff, opts.Sleeper, opts.Logger),
		log:   opts.Logger,
	}
}

// run holds the state of one Discover call.
type run struct {
	*Engine
	found *FoundSet
	stats Stats
}

// Discover runs every query for suffix. The only error returned is the
// context's, alongside whatever was found before it ended.
func (e *Engine) Discover(ctx context.Context, suffix string) (Result, error) {
	r := &run{Engine: e, found: NewFoundSet()}
	before := e.chain.Failovers()
	err := r.all(ctx, suffix)

	r.stats.Failovers = e.chain.Failovers() - before
	found := r.found.List()
	if limit := e.opts.TotalLimit; limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	e.log.Info("discovery finished", "found", len(found), "queries", r.stats.Queries,
		"fallback_searches", r.stats.FallbackSearches, "limit_reached", r.stats.LimitReached)
	return Result{Found: found, Stats: r.stats}, err
}

func (r *run) all(ctx context.Context, suffix string) error {
	queries := r.opts.Generator(suffix)
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.stats.Queries++
		r.log.Info("searching", "query", string(q))

		providerFound, err := r.provider(ctx, string(q))
		if err != nil || r.full() {
			return err
		}

		if providerFound == 0 && r.opts.Fallback != nil {
			if err := r.fallback(ctx, string(q)); err != nil || r.full() {
				return err
			}
		}

		if i < len(queries)-1 {
			if err := r.opts.Sleeper.Sleep(ctx, r.opts.Delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// provider pages the provider for q and returns how many links it handed
// back across all pages.
func (r *run) provider(ctx context.Context, q string) (int, error) {
	if r.opts.Provider == nil {
		return 0, nil
	}

	r.chain.Reset()
	harvested := 0
	start := 1

	for harvested < r.opts.PerQueryLimit {
		num := min(serp.MaxPageSize, r.opts.PerQueryLimit-harvested)
		res := r.chain.Page(ctx, r.opts.Provider, q, start, num)
		if err := ctx.Err(); err != nil {
			return harvested, err
		}
		if res.Outcome != serp.OutcomeOK || len(res.Links) == 0 {
			r.log.Debug("provider paging stopped", "query", q, "start", start, "outcome", res.Outcome.String(), "err", res.Err)
			break
		}

		r.stats.ProviderPages++
		r.stats.ProviderLinks += len(res.Links)
		harvested += len(res.Links)
		if r.merge(res.Links, "provider") {
			break
		}

		start += len(res.Links)
		if harvested >= r.opts.PerQueryLimit {
			break
		}
		if err := r.opts.Sleeper.Sleep(ctx, r.opts.Delay); err != nil {
			return harvested, err
		}
	}

	if r.chain.State() == serp.Exhausted {
		r.stats.ExhaustedChains++
	}
	return harvested, nil
}

// fallback consumes at most PerQueryLimit links from the fallback stream.
// A stream error ends the query quietly.
func (r *run) fallback(ctx context.Context, q string) error {
	r.stats.FallbackSearches++
	metrics.FallbackSearchesTotal.Inc()
	r.log.Info("provider found nothing, using fallback", "query", q)

	consumed := 0
	for link, err := range r.opts.Fallback.Search(ctx, q, r.opts.PerQueryLimit) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.stats.FallbackErrors++
			r.log.Warn("fallback search failed", "query", q, "err", err)
			break
		}

		consumed++
		r.stats.FallbackLinks++
		if r.merge([]string{link}, "fallback") || consumed >= r.opts.PerQueryLimit {
			break
		}
		if err := r.opts.Sleeper.Sleep(ctx, r.opts.Delay); err != nil {
			return err
		}
	}
	return nil
}

// merge adds the root URLs of links and reports whether the total limit
// has been reached.
func (r *run) merge(links []string, source string) bool {
	for _, l := range links {
		root, ok := serp.RootURL(l)
		if !ok {
			continue
		}
		if r.found.Add(root) {
			metrics.DomainsFoundTotal.WithLabelValues(source).Inc()
		}
		if r.full() {
			return true
		}
	}
	return false
}

func (r *run) full() bool {
	if r.opts.TotalLimit > 0 && r.found.Len() >= r.opts.TotalLimit {
		r.stats.LimitReached = true
		return true
	}
	return false
}
