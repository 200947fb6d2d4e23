//go:build integration

package test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/scout/internal/bypass"
	"github.com/FranksOps/scout/internal/discovery"
	"github.com/FranksOps/scout/internal/fingerprint"
	"github.com/FranksOps/scout/internal/ledger"
	"github.com/FranksOps/scout/internal/pipeline"
	"github.com/FranksOps/scout/internal/scraper"
	"github.com/FranksOps/scout/internal/serp"
	"github.com/FranksOps/scout/internal/storage"
	"github.com/FranksOps/scout/internal/storage/textsink"
	"github.com/FranksOps/scout/pkg/proxy"
	"github.com/FranksOps/scout/pkg/useragent"
)

// mockBackend is an in-memory storage.Backend for verifying results
type mockBackend struct {
	mu      sync.Mutex
	results []*storage.Record
}

func (m *mockBackend) Save(ctx context.Context, rec *storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, rec)
	return nil
}
func (m *mockBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results, nil
}
func (m *mockBackend) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func htmlServer(t *testing.T, status int, header map[string]string, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIntegration_DiscoverAndExtract(t *testing.T) {
	// 1. Sites the search engines will point at
	siteA := htmlServer(t, http.StatusOK, nil,
		`<html><head><title>A</title><style>p{}</style></head><body><h1>Welcome to site A</h1><script>var x;</script><p>Just another WordPress site</p></body></html>`)
	siteB := htmlServer(t, http.StatusForbidden, map[string]string{"Server": "cloudflare"},
		`<html><body>cf-browser-verification</body></html>`)
	siteC := htmlServer(t, http.StatusOK, nil, `<html><body><script>only()</script></body></html>`)

	// 2. Custom Search API answers only the first dork
	var apiCalls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		if !strings.HasPrefix(q.Get("q"), "inurl:wp-content") || q.Get("start") != "1" {
			fmt.Fprint(w, `{"searchInformation":{"totalResults":"0"}}`)
			return
		}
		fmt.Fprintf(w, `{"items":[{"link":"%s/2024/01/hello-world/"},{"link":"%s/wp-login.php"},{"link":"%s/"}]}`,
			siteA.URL, siteB.URL, siteA.URL)
	}))
	defer api.Close()

	// 3. Results page for the fallback
	var fallbackCalls atomic.Int32
	google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
			<a href="/url?q=%s/about/&sa=U">C</a>
			<a href="https://www.google.com/preferences">prefs</a>
		</body></html>`, siteC.URL)
	}))
	defer google.Close()

	// 4. Wire the run
	logger := quietLogger()
	provider, err := serp.NewCustomSearch(serp.CustomSearchConfig{Endpoint: api.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	defer provider.Close()

	searchFetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      5 * time.Second,
		Fingerprint:  fingerprint.ProfileGo,
		UseCookieJar: true,
		Detectors:    bypass.SearchDetectors(),
	})
	if err != nil {
		t.Fatalf("search fetcher: %v", err)
	}
	siteFetcher, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("site fetcher: %v", err)
	}

	dir := t.TempDir()
	outPath := filepath.Join(dir, "sites.txt")
	ledgerPath := filepath.Join(dir, "seen.txt")

	run := func() pipeline.Summary {
		t.Helper()
		sink, err := textsink.Open(outPath, textsink.ModeContent)
		if err != nil {
			t.Fatalf("open sink: %v", err)
		}
		defer sink.Close()
		seen, err := ledger.OpenFile(ledgerPath)
		if err != nil {
			t.Fatalf("open ledger: %v", err)
		}
		defer seen.Close()

		p := &pipeline.Pipeline{
			Discoverer: discovery.New(discovery.Options{
				Provider:    provider,
				Credentials: []serp.Credential{{Key: "AIzaINTEGRATION", CX: "cx"}},
				Fallback:    serp.NewGoogleScrape(searchFetcher, google.URL, logger),
				TotalLimit:  30,
				Logger:      logger,
			}),
			Extractor: scraper.NewExtractor(siteFetcher, nil, logger),
			Ledger:    seen,
			Output:    sink,
			Store:     &mockBackend{},
			Mode:      textsink.ModeContent,
			Limit:     30,
			Logger:    logger,
		}
		sum, err := p.Run(context.Background(), "or.id")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return sum
	}

	sum := run()

	// 5. Verify
	if sum.Found != 3 || sum.New != 3 {
		t.Fatalf("expected 3 found and new, got %+v", sum)
	}
	wantOrder := []string{siteA.URL, siteB.URL, siteC.URL}
	for i, w := range wantOrder {
		if sum.Targets[i] != w {
			t.Errorf("target %d = %s, want %s", i, sum.Targets[i], w)
		}
	}
	if sum.Written != 1 || sum.Empty != 2 || sum.Blocked != 1 {
		t.Errorf("unexpected counts %+v", sum)
	}
	if sum.Discovery.FallbackSearches != 4 {
		t.Errorf("expected fallback for the 4 dorks the API missed, got %d", sum.Discovery.FallbackSearches)
	}
	if apiCalls.Load() == 0 || fallbackCalls.Load() == 0 {
		t.Errorf("api calls %d, fallback calls %d", apiCalls.Load(), fallbackCalls.Load())
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	wantOut := fmt.Sprintf("--- URL: %s\nWelcome to site A\nJust another WordPress site\n\n%s\n\n", siteA.URL, textsink.Separator)
	if string(out) != wantOut {
		t.Errorf("output = %q\nwant   %q", out, wantOut)
	}

	seen, err := os.ReadFile(ledgerPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if want := strings.Join(wantOrder, "\n") + "\n"; string(seen) != want {
		t.Errorf("ledger = %q, want %q", seen, want)
	}

	// 6. A second run finds the same sites and does nothing
	again := run()
	if again.Found != 3 || again.New != 0 || again.Written != 0 {
		t.Errorf("second run should add nothing, got %+v", again)
	}
	if out2, _ := os.ReadFile(outPath); string(out2) != string(out) {
		t.Errorf("second run changed the output file")
	}
}

func TestIntegration_FallbackChallenged(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"Quota exceeded for quota metric 'Queries'","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer api.Close()

	google := htmlServer(t, http.StatusTooManyRequests, nil,
		`<html><body>Our systems have detected unusual traffic from your computer network.</body></html>`)

	provider, err := serp.NewCustomSearch(serp.CustomSearchConfig{Endpoint: api.URL})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	defer provider.Close()
	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{Fingerprint: fingerprint.ProfileGo, Detectors: bypass.SearchDetectors()})
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}

	engine := discovery.New(discovery.Options{
		Provider:    provider,
		Credentials: []serp.Credential{{Key: "AIzaPRIMARY01", CX: "a"}, {Key: "AIzaSECONDARY", CX: "b"}},
		Fallback:    serp.NewGoogleScrape(fetcher, google.URL, quietLogger()),
		Logger:      quietLogger(),
	})

	res, err := engine.Discover(context.Background(), "or.id")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(res.Found) != 0 {
		t.Errorf("expected nothing found, got %v", res.Found)
	}
	if res.Stats.Failovers != 5 || res.Stats.ExhaustedChains != 5 {
		t.Errorf("expected one failover and exhaustion per query, got %+v", res.Stats)
	}
	if res.Stats.FallbackErrors != 5 {
		t.Errorf("expected every fallback to be challenged, got %+v", res.Stats)
	}
}

func TestIntegration_ProxyRotation(t *testing.T) {
	var proxyHits int32
	// Proxy answers for any upstream so the target never has to exist
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&proxyHits, 1)
		w.Header().Set("X-Proxied", "true")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "<html><body>proxied content</body></html>")
	}))
	defer proxySrv.Close()

	pPool := proxy.NewPool(proxy.Config{})
	if err := pPool.Add(proxySrv.URL); err != nil {
		t.Fatalf("add proxy: %v", err)
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		ProxyPool:   pPool,
		UAPool:      useragent.NewPool([]string{"IntegrationTest-UA"}),
	})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}

	extractor := scraper.NewExtractor(fetcher, nil, quietLogger())
	rec, err := extractor.Record(context.Background(), "http://example.com")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if atomic.LoadInt32(&proxyHits) == 0 {
		t.Errorf("expected proxy server to be hit, got 0")
	}
	if rec.StatusCode != http.StatusOK || rec.Text != "proxied content" {
		t.Errorf("unexpected record: status %d text %q err %s", rec.StatusCode, rec.Text, rec.Error)
	}
	if got := http.Header(rec.Header).Get("X-Proxied"); got != "true" {
		t.Errorf("expected X-Proxied header from proxy server")
	}
}
