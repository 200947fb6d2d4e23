// Package proxy keeps a rotating set of outbound proxies with simple health
// tracking. A pool holding a single entry behaves as a fixed proxy.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when marking a proxy the pool does not hold.
var ErrNotFound = errors.New("proxy: not found in pool")

// Proxy is one endpoint and its health counters.
type Proxy struct {
	URL           *url.URL
	Failures      int
	Successes     int
	LastUsed      time.Time
	Disabled      bool
	DisabledUntil time.Time
}

// Config defines settings for the Pool.
type Config struct {
	// MaxFailures before a proxy is disabled temporarily.
	MaxFailures int
	// Cooldown is how long a disabled proxy sits out.
	Cooldown time.Duration
}

// Pool hands out proxies round-robin, skipping ones that are cooling down.
type Pool struct {
	mu          sync.Mutex
	proxies     []*Proxy
	next        int
	maxFailures int
	cooldown    time.Duration
}

// NewPool creates an empty pool. Zero config values get defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// LoadFile reads proxies from a file, one URI per line. Blank lines and
// lines starting with '#' are skipped.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: open %s: %w", path, err)
	}
	defer f.Close()

	var raws []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxy: read %s: %w", path, err)
	}

	return p.Add(raws...)
}

// Add parses raw proxy URIs and appends them. A missing scheme defaults to
// http. Only http, https and socks5 are accepted.
func (p *Pool) Add(raws ...string) error {
	parsed := make([]*Proxy, 0, len(raws))
	for _, raw := range raws {
		u, err := Parse(raw)
		if err != nil {
			return err
		}
		parsed = append(parsed, &Proxy{URL: u})
	}

	p.mu.Lock()
	p.proxies = append(p.proxies, parsed...)
	p.mu.Unlock()
	return nil
}

// Parse validates a single proxy URI.
func Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("proxy: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy: missing host in %q", raw)
	}
	return u, nil
}

// Len reports how many proxies the pool holds, healthy or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Next returns the next healthy proxy, or nil when the pool is empty or
// every proxy is cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.proxies)
	if n == 0 {
		return nil
	}

	now := time.Now()
	for i := 0; i < n; i++ {
		prx := p.proxies[p.next]
		p.next = (p.next + 1) % n

		if prx.Disabled && now.After(prx.DisabledUntil) {
			prx.Disabled = false
			prx.Failures = 0
		}
		if !prx.Disabled {
			prx.LastUsed = now
			return prx.URL
		}
	}
	return nil
}

// MarkSuccess records a successful request through proxyURL.
func (p *Pool) MarkSuccess(proxyURL *url.URL) error {
	if proxyURL == nil {
		return errors.New("proxy: url cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prx := p.find(proxyURL)
	if prx == nil {
		return ErrNotFound
	}
	prx.Successes++
	if prx.Failures > 0 {
		prx.Failures--
	}
	return nil
}

// MarkFailure records a failed request through proxyURL and disables the
// proxy for the cooldown once it reaches MaxFailures.
func (p *Pool) MarkFailure(proxyURL *url.URL) error {
	if proxyURL == nil {
		return errors.New("proxy: url cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prx := p.find(proxyURL)
	if prx == nil {
		return ErrNotFound
	}
	prx.Failures++
	if prx.Failures >= p.maxFailures {
		prx.Disabled = true
		prx.DisabledUntil = time.Now().Add(p.cooldown)
	}
	return nil
}

// find must be called with the lock held.
func (p *Pool) find(u *url.URL) *Proxy {
	target := u.String()
	for _, prx := range p.proxies {
		if prx.URL.String() == target {
			return prx
		}
	}
	return nil
}
