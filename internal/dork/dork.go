// Package dork builds the search queries that surface sites running a given
// CMS inside a domain suffix.
package dork

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	ErrEmptySuffix    = errors.New("dork: empty domain suffix")
	ErrUnknownProfile = errors.New("dork: unknown cms profile")
)

// Query is one search-engine query string.
type Query string

// Profile is a named set of query templates. Each template contains the
// placeholder {suffix}.
type Profile struct {
	Name      string
	Templates []string
}

var WordPress = Profile{
	Name: "wordpress",
	Templates: []string{
		`inurl:wp-content site:{suffix}`,
		`inurl:"/wp-content/themes/" site:{suffix}`,
		`inurl:readme.html site:{suffix}`,
		`"Powered by WordPress" site:{suffix}`,
		`intitle:"Just another WordPress site" site:{suffix}`,
	},
}

var Joomla = Profile{
	Name: "joomla",
	Templates: []string{
		`inurl:"/components/com_content/" site:{suffix}`,
		`inurl:"/media/jui/" site:{suffix}`,
		`inurl:administrator/index.php site:{suffix}`,
		`"Powered by Joomla" site:{suffix}`,
	},
}

var Drupal = Profile{
	Name: "drupal",
	Templates: []string{
		`inurl:"/sites/default/files/" site:{suffix}`,
		`inurl:CHANGELOG.txt intext:Drupal site:{suffix}`,
		`"Powered by Drupal" site:{suffix}`,
	},
}

var profiles = map[string]Profile{
	WordPress.Name: WordPress,
	Joomla.Name:    Joomla,
	Drupal.Name:    Drupal,
}

// Generate returns the profile's queries for suffix, in template order.
func (p Profile) Generate(suffix string) []Query {
	out := make([]Query, 0, len(p.Templates))
	for _, t := range p.Templates {
		out = append(out, Query(strings.ReplaceAll(t, "{suffix}", suffix)))
	}
	return out
}

// Generate returns the WordPress queries for suffix.
func Generate(suffix string) []Query {
	return WordPress.Generate(suffix)
}

// Lookup returns the profile registered under name (case-insensitive). An
// empty name selects WordPress.
func Lookup(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return WordPress, nil
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownProfile, name, strings.Join(Profiles(), ", "))
	}
	return p, nil
}

// Profiles lists the registered profile names, sorted.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// NormalizeSuffix strips whitespace, a URL scheme, a "site:" prefix, any
// path, and surrounding dots. Case is preserved.
func NormalizeSuffix(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "site:")
	for _, scheme := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, scheme)
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, ". ")
	if s == "" {
		return "", ErrEmptySuffix
	}
	return s, nil
}

// PublicSuffix reports the public suffix of s and whether it is an ICANN
// managed one. A private or unknown suffix usually means a typo.
func PublicSuffix(s string) (string, bool) {
	return publicsuffix.PublicSuffix(strings.ToLower(s))
}
