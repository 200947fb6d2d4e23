package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// Robots caches robots.txt per origin and answers whether a path may be
// fetched. Unreachable or unparsable robots files allow everything.
type Robots struct {
	fetcher *Fetcher
	agent   string
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobots returns a checker that matches groups against agent.
func NewRobots(fetcher *Fetcher, agent string, logger *slog.Logger) *Robots {
	if logger == nil {
		logger = slog.Default()
	}
	if agent == "" {
		agent = "scout"
	}
	return &Robots{
		fetcher: fetcher,
		agent:   agent,
		logger:  logger,
		cache:   make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether targetURL may be fetched.
func (r *Robots) Allowed(ctx context.Context, targetURL string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("scraper: robots: %w", err)
	}

	origin := u.Scheme + "://" + u.Host
	data, err := r.load(ctx, origin)
	if err != nil {
		r.logger.Debug("robots.txt unavailable, allowing", "origin", origin, "err", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.FindGroup(r.agent).Test(path), nil
}

func (r *Robots) load(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if data, ok := r.cache[origin]; ok {
		return data, nil
	}

	rec, err := r.fetcher.Fetch(ctx, origin+"/robots.txt")
	if err != nil {
		return nil, err
	}
	if rec.Error != "" {
		r.cache[origin] = nil
		return nil, fmt.Errorf("fetch: %s", rec.Error)
	}
	if rec.StatusCode >= 400 {
		r.cache[origin] = nil
		return nil, nil
	}

	data, err := robotstxt.FromBytes(rec.Body)
	if err != nil {
		r.cache[origin] = nil
		return nil, fmt.Errorf("parse: %w", err)
	}
	r.cache[origin] = data
	return data, nil
}
