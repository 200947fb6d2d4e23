package serp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/FranksOps/scout/internal/storage"
)

// pagedFetcher serves canned result pages keyed by the start parameter.
type pagedFetcher struct {
	pages    map[string]string
	status   int
	requests []string
}

func (f *pagedFetcher) Fetch(_ context.Context, target string) (*storage.Record, error) {
	f.requests = append(f.requests, target)
	u, _ := url.Parse(target)
	status := f.status
	if status == 0 {
		status = 200
	}
	return &storage.Record{URL: target, StatusCode: status, Body: []byte(f.pages[u.Query().Get("start")])}, nil
}

func resultsPage(links ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><a href="/search?q=next">Next</a><a href="https://accounts.google.com/signin">Sign in</a>`)
	for _, l := range links {
		fmt.Fprintf(&b, `<div class="g"><a href="/url?q=%s&amp;sa=U">r</a></div>`, url.QueryEscape(l))
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func collect(t *testing.T, g *GoogleScrape, query string, max int) ([]string, error) {
	t.Helper()
	var out []string
	for link, err := range g.Search(context.Background(), query, max) {
		if err != nil {
			return out, err
		}
		out = append(out, link)
	}
	return out, nil
}

func TestParseResults(t *testing.T) {
	body := []byte(`<html><body>
<a href="/url?q=https://one.example.test/page&sa=U&ved=x">one</a>
<a href="/url?q=https://one.example.test/page&sa=U">dup</a>
<a href="https://two.example.test/">two</a>
<a href="https://www.google.com/preferences">prefs</a>
<a href="https://webcache.googleusercontent.com/search?q=cache">cache</a>
<a href="/search?q=more">more</a>
<a href="mailto:x@example.test">mail</a>
</body></html>`)

	got, err := ParseResults(body)
	if err != nil {
		t.Fatalf("ParseResults: %v", err)
	}
	want := []string{"https://one.example.test/page", "https://two.example.test/"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGoogleScrape_Paging(t *testing.T) {
	f := &pagedFetcher{pages: map[string]string{
		"0": resultsPage("https://a.test/1", "https://b.test/2"),
		"2": resultsPage("https://c.test/3"),
	}}
	g := NewGoogleScrape(f, "https://search.example.test/", nil)

	got, err := collect(t, g, `"Powered by WordPress" site:example.test`, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 links, got %v", got)
	}
	if len(f.requests) != 3 {
		t.Errorf("expected 3 page requests (last one empty), got %d", len(f.requests))
	}
	if !strings.HasPrefix(f.requests[0], "https://search.example.test/search?") {
		t.Errorf("unexpected request URL %s", f.requests[0])
	}
}

func TestGoogleScrape_LazyAndCapped(t *testing.T) {
	f := &pagedFetcher{pages: map[string]string{
		"0": resultsPage("https://a.test", "https://b.test", "https://c.test"),
		"3": resultsPage("https://d.test"),
	}}
	g := NewGoogleScrape(f, "", nil)

	got, _ := collect(t, g, "q", 2)
	if len(got) != 2 {
		t.Fatalf("expected cap of 2, got %v", got)
	}
	if len(f.requests) != 1 {
		t.Errorf("expected one page fetched, got %d", len(f.requests))
	}

	// Stopping the range early must not fetch further pages.
	f.requests = nil
	for range g.Search(context.Background(), "q", 100) {
		break
	}
	if len(f.requests) != 1 {
		t.Errorf("expected one page fetched after early break, got %d", len(f.requests))
	}

	f.requests = nil
	if got, _ := collect(t, g, "q", 0); len(got) != 0 || len(f.requests) != 0 {
		t.Errorf("zero cap must not fetch")
	}
}

func TestGoogleScrape_Challenge(t *testing.T) {
	f := &pagedFetcher{pages: map[string]string{
		"0": `<html><body>Our systems have detected unusual traffic from your computer network.</body></html>`,
	}}
	_, err := collect(t, NewGoogleScrape(f, "", nil), "q", 10)
	if !errors.Is(err, ErrChallenged) {
		t.Errorf("expected ErrChallenged, got %v", err)
	}

	f = &pagedFetcher{status: 429}
	if _, err := collect(t, NewGoogleScrape(f, "", nil), "q", 10); !errors.Is(err, ErrChallenged) {
		t.Errorf("expected ErrChallenged for 429, got %v", err)
	}
}

func TestGoogleScrape_FetchError(t *testing.T) {
	f := &pagedFetcher{status: 500}
	got, err := collect(t, NewGoogleScrape(f, "", nil), "q", 10)
	if err == nil || len(got) != 0 {
		t.Errorf("expected error and no links, got %v %v", got, err)
	}
}
