package frontier

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Normalize canonicalizes a raw URL and derives its dedup identity.
// It lowercases the scheme and host, removes default ports and the
// fragment, trims a trailing slash on a bare path, and sorts query
// parameters so that "?b=2&a=1" and "?a=1&b=2" collide. The returned key
// is a SHA-256 hex digest of the canonical string; domain is the
// canonical host. Only absolute http/https URLs are accepted.
func Normalize(rawURL string) (key string, domain string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	switch u.Scheme {
	case "http", "https":
	case "":
		return "", "", fmt.Errorf("%w: missing scheme in %q", ErrInvalidURL, rawURL)
	default:
		return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}

	// Remove default ports
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	// Remove fragment
	u.Fragment = ""

	// A bare "/" path is the same resource as no path.
	if u.Path == "/" {
		u.Path = ""
	}

	// Sort query parameters
	q := u.Query()
	u.RawQuery = q.Encode()

	canonical := u.String()
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), u.Hostname(), nil
}
