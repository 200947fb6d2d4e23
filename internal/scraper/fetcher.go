// Package scraper performs the outbound page requests of a run: fetching
// discovered sites, extracting their visible text, and honouring robots.txt
// when asked to.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/scout/internal/bypass"
	"github.com/FranksOps/scout/internal/fingerprint"
	"github.com/FranksOps/scout/internal/metrics"
	"github.com/FranksOps/scout/internal/storage"
	"github.com/FranksOps/scout/pkg/httpclient"
	"github.com/FranksOps/scout/pkg/proxy"
	"github.com/FranksOps/scout/pkg/ratelimit"
	"github.com/FranksOps/scout/pkg/useragent"
	"github.com/google/uuid"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

const (
	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes = 10 << 20
	DefaultMaxRedirects = 10
)

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout time.Duration
	// MaxRedirects of zero follows up to DefaultMaxRedirects; negative
	// returns the first response.
	MaxRedirects       int
	UseCookieJar       bool
	ProxyPool          *proxy.Pool
	UAPool             *useragent.Pool
	Fingerprint        fingerprint.Profile
	InsecureSkipVerify bool
	Limiter            *ratelimit.Limiter
	// Detectors classify challenge pages; nil uses bypass.DefaultDetectors.
	Detectors    []bypass.Detector
	MaxBodyBytes int64
	// RunID is stamped on every record.
	RunID string
}

// Fetcher performs single GET requests with UA rotation, proxy rotation and
// a fingerprinted TLS transport.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher builds a Fetcher. The client and its cookie jar live as long as
// the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = httpclient.DefaultTimeout
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// The transport is shared, so the proxy for a request travels in its
	// context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// Fetch GETs targetURL. Failures are reported on the record's Error field;
// the returned error is non-nil only when ctx ends first.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*storage.Record, error) {
	start := time.Now()
	rec := &storage.Record{
		ID:        uuid.NewString(),
		RunID:     f.config.RunID,
		URL:       targetURL,
		CreatedAt: start.UTC(),
	}

	if err := f.config.Limiter.Wait(ctx); err != nil {
		rec.Error = fmt.Sprintf("rate limiter: %v", err)
		return rec, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		rec.Error = fmt.Sprintf("build request: %v", err)
		return rec, nil
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		if activeProxy = f.config.ProxyPool.Next(); activeProxy != nil {
			req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
		}
	}

	req.Header.Set("User-Agent", f.config.UAPool.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
		rec.Error = fmt.Sprintf("request failed: %v", err)
		rec.Duration = time.Since(start)
		return rec, ctx.Err()
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		rec.Error = fmt.Sprintf("read body: %v", err)
	}

	rec.StatusCode = resp.StatusCode
	rec.ContentType = resp.Header.Get("Content-Type")
	rec.Header = resp.Header
	rec.Body = body
	rec.Bytes = len(body)
	rec.Duration = time.Since(start)

	bypass.Analyze(rec, f.config.Detectors)

	return rec, nil
}
