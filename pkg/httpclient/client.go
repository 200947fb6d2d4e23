package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DefaultTimeout bounds every request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout time.Duration
	// MaxRedirects caps redirect hops. Negative disables following redirects.
	MaxRedirects int
	UseCookieJar bool
	// Proxy routes every request through a fixed proxy. Ignored when
	// Transport is set; the caller owns proxying in that case.
	Proxy *url.URL
	// Transport overrides the default transport, e.g. for uTLS fingerprinting.
	Transport http.RoundTripper
}

// Client wraps http.Client with a mandatory per-call context and a bounded
// timeout, so no call made through it can block indefinitely.
type Client struct {
	*http.Client
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &http.Client{Timeout: cfg.Timeout}

	maxRedirects := cfg.MaxRedirects
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if maxRedirects < 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > maxRedirects {
			return fmt.Errorf("httpclient: stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
		}
		c.Jar = jar
	}

	switch {
	case cfg.Transport != nil:
		c.Transport = cfg.Transport
	case cfg.Proxy != nil:
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = http.ProxyURL(cfg.Proxy)
		c.Transport = tr
	}

	return &Client{Client: c}, nil
}

// Do executes req under ctx. The context controls cancellation independently
// of the client-wide timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("httpclient: context cannot be nil")
	}

	resp, err := c.Client.Do(req.Clone(ctx))
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}
	return resp, nil
}
