// Package bypass recognises bot-protection challenge pages so a blocked
// fetch is not mistaken for real content.
package bypass

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/FranksOps/scout/internal/storage"
)

// Detector reports whether rec is a challenge or block page and, if so, who
// served it.
type Detector func(rec *storage.Record) (detected bool, source string)

// rule matches a vendor's block page: a status the vendor uses, then any
// header or body marker.
type rule struct {
	source   string
	statuses []int
	server   string   // substring of the lower-cased Server header
	headers  []string // presence of any of these headers
	markers  [][]byte // body substrings
}

var (
	cloudflare = rule{
		source:   "Cloudflare",
		statuses: []int{http.StatusForbidden, http.StatusServiceUnavailable},
		server:   "cloudflare",
		markers: [][]byte{
			[]byte("cf-browser-verification"),
			[]byte("cloudflare-nginx"),
			[]byte("cf-turnstile"),
			[]byte("Attention Required! | Cloudflare"),
		},
	}
	akamai = rule{
		source:   "Akamai",
		statuses: []int{http.StatusForbidden},
		server:   "akamai",
	}
	dataDome = rule{
		source:   "DataDome",
		statuses: []int{http.StatusForbidden},
		server:   "datadome",
		headers:  []string{"X-DataDome", "X-DataDome-Response"},
		markers:  [][]byte{[]byte("geo.captcha-delivery.com"), []byte("datadome")},
	}
	perimeterX = rule{
		source:   "PerimeterX",
		statuses: []int{http.StatusForbidden},
		headers:  []string{"X-Px-Captcha"},
		markers: [][]byte{
			[]byte("client.perimeterx.net"),
			[]byte("px-captcha"),
			[]byte("_pxBlock"),
		},
	}
)

// DefaultDetectors returns the CDN and bot-manager detectors applied to
// every fetched site.
func DefaultDetectors() []Detector {
	return []Detector{
		cloudflare.detect,
		detectAkamai,
		dataDome.detect,
		perimeterX.detect,
	}
}

// SearchDetectors returns the detectors for scraped search result pages:
// Google's own interstitial first, then the defaults.
func SearchDetectors() []Detector {
	return append([]Detector{detectGoogle}, DefaultDetectors()...)
}

// Analyze runs rec through detectors, recording the first hit on rec.
func Analyze(rec *storage.Record, detectors []Detector) bool {
	if rec == nil {
		return false
	}
	for _, d := range detectors {
		if detected, source := d(rec); detected {
			rec.DetectedBot = true
			rec.DetectionSrc = source
			return true
		}
	}
	rec.DetectedBot = false
	rec.DetectionSrc = ""
	return false
}

func (r rule) detect(rec *storage.Record) (bool, string) {
	if !statusIn(rec.StatusCode, r.statuses) {
		return false, ""
	}
	if r.server != "" && strings.Contains(strings.ToLower(header(rec.Header, "Server")), r.server) {
		return true, r.source
	}
	for _, h := range r.headers {
		if header(rec.Header, h) != "" {
			return true, r.source
		}
	}
	for _, m := range r.markers {
		if bytes.Contains(rec.Body, m) {
			return true, r.source
		}
	}
	return false, ""
}

// detectAkamai needs both halves of the generic "Reference #" page.
func detectAkamai(rec *storage.Record) (bool, string) {
	if ok, src := akamai.detect(rec); ok {
		return ok, src
	}
	if rec.StatusCode == http.StatusForbidden &&
		bytes.Contains(rec.Body, []byte("Reference #")) &&
		bytes.Contains(rec.Body, []byte("Access Denied")) {
		return true, akamai.source
	}
	return false, ""
}

var googleMarkers = [][]byte{
	[]byte("Our systems have detected unusual traffic"),
	[]byte("detected unusual traffic from your computer network"),
	[]byte("g-recaptcha"),
	[]byte("/sorry/index"),
}

// detectGoogle matches the google.com/sorry interstitial and rate-limit
// responses served to automated search traffic.
func detectGoogle(rec *storage.Record) (bool, string) {
	if rec.StatusCode == http.StatusTooManyRequests {
		return true, "Google"
	}
	if strings.Contains(rec.URL, "/sorry/") {
		return true, "Google"
	}
	for _, m := range googleMarkers {
		if bytes.Contains(rec.Body, m) {
			return true, "Google"
		}
	}
	return false, ""
}

func statusIn(code int, codes []int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func header(h map[string][]string, key string) string {
	if vals, ok := h[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	for k, vals := range h {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}
