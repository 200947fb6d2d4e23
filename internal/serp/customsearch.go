package serp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/scout/internal/metrics"
	"github.com/FranksOps/scout/pkg/httpclient"
	"github.com/FranksOps/scout/pkg/ratelimit"
)

const (
	// DefaultEndpoint is the Google Custom Search JSON API.
	DefaultEndpoint = "https://www.googleapis.com/customsearch/v1"
	// DefaultProviderTimeout bounds one page request.
	DefaultProviderTimeout = 15 * time.Second

	maxResponseBytes = 4 << 20
)

// CustomSearchConfig configures the API client.
type CustomSearchConfig struct {
	Endpoint  string
	Timeout   time.Duration
	Proxy     *url.URL
	UserAgent string
	// RPS caps requests per second; zero disables the limiter.
	RPS       float64
	Transport http.RoundTripper
}

// CustomSearch is a Provider backed by the Custom Search JSON API.
type CustomSearch struct {
	endpoint string
	ua       string
	client   *httpclient.Client
	limiter  *ratelimit.Limiter
}

var _ Provider = (*CustomSearch)(nil)

type apiResponse struct {
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewCustomSearch builds the client.
func NewCustomSearch(cfg CustomSearchConfig) (*CustomSearch, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderTimeout
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("serp: endpoint: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:   cfg.Timeout,
		Proxy:     cfg.Proxy,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("serp: client: %w", err)
	}

	return &CustomSearch{
		endpoint: cfg.Endpoint,
		ua:       cfg.UserAgent,
		client:   client,
		limiter:  ratelimit.NewLimiter(cfg.RPS, 0),
	}, nil
}

// Close releases the rate limiter.
func (c *CustomSearch) Close() {
	c.limiter.Stop()
}

// Page performs one API request.
func (c *CustomSearch) Page(ctx context.Context, req PageRequest) PageResult {
	res := c.page(ctx, req)
	metrics.ProviderPagesTotal.WithLabelValues(res.Outcome.String()).Inc()
	return res
}

func (c *CustomSearch) page(ctx context.Context, req PageRequest) PageResult {
	num := min(max(req.Num, 1), MaxPageSize)
	start := max(req.Start, 1)

	if err := c.limiter.Wait(ctx); err != nil {
		return PageResult{Outcome: OutcomeTransient, Err: err}
	}

	q := url.Values{}
	q.Set("key", req.Credential.Key)
	q.Set("cx", req.Credential.CX)
	q.Set("q", req.Query)
	q.Set("start", strconv.Itoa(start))
	q.Set("num", strconv.Itoa(num))

	u := c.endpoint
	if strings.Contains(u, "?") {
		u += "&" + q.Encode()
	} else {
		u += "?" + q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return PageResult{Outcome: OutcomeTransient, Err: fmt.Errorf("serp: build request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.ua != "" {
		httpReq.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.client.Do(ctx, httpReq)
	if err != nil {
		return PageResult{Outcome: OutcomeTransient, Err: fmt.Errorf("serp: request: %w", redact(err))}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return PageResult{Outcome: OutcomeTransient, Status: resp.StatusCode, Err: fmt.Errorf("serp: read body: %w", err)}
	}

	return classify(resp.StatusCode, body)
}

func classify(status int, body []byte) PageResult {
	var ar apiResponse
	decodeErr := json.Unmarshal(body, &ar)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return PageResult{Outcome: OutcomeQuotaOrAuth, Status: status, Err: apiError(status, &ar)}
	}

	if ar.Error != nil && quotaOrAuth(ar.Error.Message, ar.Error.Status) {
		return PageResult{Outcome: OutcomeQuotaOrAuth, Status: status, Err: apiError(status, &ar)}
	}

	if status < 200 || status > 299 {
		return PageResult{Outcome: OutcomeTransient, Status: status, Err: apiError(status, &ar)}
	}
	if decodeErr != nil {
		return PageResult{Outcome: OutcomeTransient, Status: status, Err: fmt.Errorf("serp: decode: %w", decodeErr)}
	}
	if ar.Error != nil {
		return PageResult{Outcome: OutcomeTransient, Status: status, Err: apiError(status, &ar)}
	}

	links := make([]string, 0, len(ar.Items))
	for _, it := range ar.Items {
		if it.Link != "" {
			links = append(links, it.Link)
		}
	}
	if len(links) == 0 {
		return PageResult{Outcome: OutcomeEmpty, Status: status}
	}
	return PageResult{Links: links, Outcome: OutcomeOK, Status: status}
}

func quotaOrAuth(message, status string) bool {
	switch status {
	case "RESOURCE_EXHAUSTED", "PERMISSION_DENIED", "UNAUTHENTICATED":
		return true
	}
	m := strings.ToLower(message)
	for _, s := range []string{"quota", "api key", "limit", "billing"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

func apiError(status int, ar *apiResponse) error {
	if ar.Error != nil && ar.Error.Message != "" {
		return fmt.Errorf("serp: custom search: status %d: %s", status, ar.Error.Message)
	}
	return fmt.Errorf("serp: custom search: status %d", status)
}

// redact strips the query string from url errors so API keys stay out of
// logs.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
		}
	}
	return err
}
