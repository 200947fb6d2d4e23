package serp

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/FranksOps/scout/internal/bypass"
	"github.com/FranksOps/scout/internal/storage"
	"github.com/PuerkitoBio/goquery"
)

// DefaultFallbackHost is where GoogleScrape sends queries.
const DefaultFallbackHost = "https://www.google.com"

// PageFetcher performs one GET. *scraper.Fetcher satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, targetURL string) (*storage.Record, error)
}

// GoogleScrape is a Searcher that reads Google's public results page one
// page at a time, only as the consumer pulls.
type GoogleScrape struct {
	fetcher PageFetcher
	host    string
	lang    string
	logger  *slog.Logger
}

var _ Searcher = (*GoogleScrape)(nil)

// NewGoogleScrape returns a fallback searcher. An empty host uses
// DefaultFallbackHost.
func NewGoogleScrape(fetcher PageFetcher, host string, logger *slog.Logger) *GoogleScrape {
	if host == "" {
		host = DefaultFallbackHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleScrape{
		fetcher: fetcher,
		host:    strings.TrimRight(host, "/"),
		lang:    "en",
		logger:  logger,
	}
}

// Search streams result links for query. The stream ends after maxResults
// links, when a page adds nothing new, or with an error on the first failed
// or challenged page.
func (g *GoogleScrape) Search(ctx context.Context, query string, maxResults int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if maxResults <= 0 {
			return
		}

		seen := make(map[string]struct{})
		emitted := 0
		start := 0

		for {
			links, err := g.page(ctx, query, start)
			if err != nil {
				yield("", err)
				return
			}

			fresh := 0
			for _, l := range links {
				if _, ok := seen[l]; ok {
					continue
				}
				seen[l] = struct{}{}
				fresh++

				if !yield(l, nil) {
					return
				}
				emitted++
				if emitted >= maxResults {
					return
				}
			}
			if fresh == 0 {
				return
			}
			start += len(links)
		}
	}
}

func (g *GoogleScrape) page(ctx context.Context, query string, start int) ([]string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("num", strconv.Itoa(MaxPageSize+2))
	q.Set("hl", g.lang)
	q.Set("start", strconv.Itoa(start))
	target := g.host + "/search?" + q.Encode()

	rec, err := g.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if rec.Error != "" {
		return nil, fmt.Errorf("serp: google: %s", rec.Error)
	}
	if bypass.Analyze(rec, bypass.SearchDetectors()) {
		return nil, fmt.Errorf("%w by %s", ErrChallenged, rec.DetectionSrc)
	}
	if rec.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serp: google: status %d", rec.StatusCode)
	}

	links, err := ParseResults(rec.Body)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("fallback page parsed", "query", query, "start", start, "links", len(links))
	return links, nil
}

// ParseResults extracts outbound result links from a Google results page,
// unwrapping /url?q= redirects and skipping Google's own hosts.
func ParseResults(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("serp: parse results: %w", err)
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := resultLink(href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

func resultLink(href string) (string, bool) {
	if strings.HasPrefix(href, "/url?") {
		u, err := url.Parse(href)
		if err != nil {
			return "", false
		}
		target := u.Query().Get("q")
		if target == "" {
			target = u.Query().Get("url")
		}
		href = target
	}

	u, err := url.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	if isGoogleHost(u.Hostname()) {
		return "", false
	}
	return href, true
}

func isGoogleHost(host string) bool {
	host = strings.ToLower(host)
	for _, s := range []string{"google.", "googleusercontent.com", "gstatic.com", "googleapis.com", "youtube.com"} {
		if strings.Contains(host, s) {
			return true
		}
	}
	return false
}
