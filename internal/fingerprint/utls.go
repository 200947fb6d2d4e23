// Package fingerprint builds HTTP transports whose TLS ClientHello mimics a
// real browser. Search engines and CDN front-ends fingerprint the handshake,
// so scraped requests should not look like Go's crypto/tls.
package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names a TLS fingerprint.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // plain crypto/tls
	ProfileRandom  Profile = "random" // a browser preset drawn per connection
)

// randomPool holds the presets ProfileRandom draws from. uTLS's own
// randomized hellos can offer curves some servers refuse outright.
var randomPool = []utls.ClientHelloID{
	utls.HelloChrome_Auto,
	utls.HelloFirefox_Auto,
	utls.HelloIOS_Auto,
}

// ParseProfile maps a case-insensitive name to a Profile. Empty means chrome.
func ParseProfile(name string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(name)))
	if p == "" {
		return ProfileChrome, nil
	}
	if _, err := helloID(p); err != nil && p != ProfileGo {
		return "", err
	}
	return p, nil
}

// Options tune the transport.
type Options struct {
	// Proxy selects the proxy per request; nil means direct.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate verification. Many small sites
	// run expired or self-signed certificates.
	InsecureSkipVerify bool
}

// Transport returns a RoundTripper for p. ProfileGo yields a plain cloned
// http.Transport; every other profile performs the handshake with uTLS.
func Transport(p Profile, opts Options) (http.RoundTripper, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = opts.Proxy

	if p == ProfileGo {
		if opts.InsecureSkipVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
		}
		return tr, nil
	}

	if _, err := helloID(p); err != nil {
		return nil, err
	}

	dial := tr.DialContext
	tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		id, _ := helloID(p)
		uConn := utls.UClient(conn, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // operator opt-in
		}, id)
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("fingerprint: utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}

	return tr, nil
}

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return randomPool[rand.IntN(len(randomPool))], nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("fingerprint: unknown profile %q", p)
	}
}
