package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FranksOps/scout/internal/storage"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Extractor fetches a site's landing page and reduces it to visible text.
type Extractor struct {
	fetcher *Fetcher
	robots  *Robots
	logger  *slog.Logger
}

// NewExtractor wraps fetcher. robots may be nil to skip robots.txt checks.
func NewExtractor(fetcher *Fetcher, robots *Robots, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{fetcher: fetcher, robots: robots, logger: logger}
}

// Extract returns the text of targetURL's body, or "" if the page could not
// be fetched, returned a non-2xx status, or has no body.
func (e *Extractor) Extract(ctx context.Context, targetURL string) string {
	rec, _ := e.Record(ctx, targetURL)
	return rec.Text
}

// Record fetches targetURL and returns the full outcome with Text filled in
// on success. The error is non-nil only when ctx ends.
func (e *Extractor) Record(ctx context.Context, targetURL string) (*storage.Record, error) {
	if e.robots != nil {
		ok, err := e.robots.Allowed(ctx, targetURL)
		if err == nil && !ok {
			e.logger.Info("skipping, disallowed by robots.txt", "url", targetURL)
			return &storage.Record{URL: targetURL, Error: "disallowed by robots.txt"}, nil
		}
	}

	rec, err := e.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		return rec, err
	}
	if rec.Error != "" {
		e.logger.Warn("fetch failed", "url", targetURL, "err", rec.Error)
		return rec, nil
	}
	if rec.StatusCode < 200 || rec.StatusCode > 299 {
		rec.Error = fmt.Sprintf("unexpected status %d", rec.StatusCode)
		e.logger.Warn("fetch failed", "url", targetURL, "status", rec.StatusCode, "detection_src", rec.DetectionSrc)
		return rec, nil
	}

	text, err := ExtractText(rec.Body, rec.ContentType)
	if err != nil {
		rec.Error = err.Error()
		e.logger.Warn("extract failed", "url", targetURL, "err", err)
		return rec, nil
	}
	rec.Text = text
	return rec, nil
}

// ExtractText decodes body using contentType's charset (or the document's
// meta tags), drops script, style and noscript elements, and joins the
// trimmed text nodes under <body> with newlines. A declared non-HTML
// content type has no body and yields "".
func ExtractText(body []byte, contentType string) (string, error) {
	if !isHTML(contentType) {
		return "", nil
	}

	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", fmt.Errorf("scraper: decode: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("scraper: parse: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	// The HTML5 parser always synthesizes <body>.
	bodySel := doc.Find("body").First()

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				lines = append(lines, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(bodySel.Get(0))

	return strings.Join(lines, "\n"), nil
}

// isHTML reports whether contentType names an HTML document. A missing
// header is treated as HTML.
func isHTML(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "", "text/html", "application/xhtml+xml":
		return true
	}
	return false
}
