// Package uri builds absolute production links from canonical object paths.
package uri

import (
	"fmt"
	"net/url"
	"strings"
)

// Builder joins canonical paths onto the configured production base URL.
type Builder struct {
	base *url.URL
}

// NewBuilder parses baseURL. Only http and https bases are accepted.
func NewBuilder(baseURL string) (*Builder, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base URL is empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return &Builder{base: u}, nil
}

// ProductionURI returns the absolute URL for path. Paths that are already
// absolute URLs are returned unchanged.
func (b *Builder) ProductionURI(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return b.base.String() + path
}
