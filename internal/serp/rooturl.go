package serp

import "strings"

// RootURL returns the leading scheme://host part of link, matching
// https?://[^/]+ at the start. No case, port or trailing-slash
// normalization is applied.
func RootURL(link string) (string, bool) {
	var rest string
	switch {
	case strings.HasPrefix(link, "https://"):
		rest = link[len("https://"):]
	case strings.HasPrefix(link, "http://"):
		rest = link[len("http://"):]
	default:
		return "", false
	}

	host := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host = rest[:i]
	}
	if host == "" {
		return "", false
	}
	return link[:len(link)-len(rest)+len(host)], true
}
