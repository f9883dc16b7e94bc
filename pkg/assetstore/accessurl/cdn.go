package accessurl

import (
	"fmt"
	"net/url"
	"strings"
)

// CDNRewriter rewrites backend retrieval URLs onto a CDN edge host,
// preserving path and query (including any presign signature parameters,
// which CDNs configured as pull-through proxies forward to origin).
type CDNRewriter struct {
	baseURL *url.URL
}

// NewCDNRewriter creates a rewriter for the given CDN base URL,
// e.g. "https://cdn.example.com".
func NewCDNRewriter(baseURL string) (*CDNRewriter, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse cdn base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("cdn base url must be absolute: %s", baseURL)
	}
	return &CDNRewriter{baseURL: u}, nil
}

// Rewrite replaces the scheme and host of rawURL with the CDN base.
// Relative URLs (local routed endpoints) are prefixed with the base.
func (r *CDNRewriter) Rewrite(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = r.baseURL.Scheme
	u.Host = r.baseURL.Host
	if r.baseURL.Path != "" {
		u.Path = strings.TrimSuffix(r.baseURL.Path, "/") + u.Path
	}
	return u.String(), nil
}
