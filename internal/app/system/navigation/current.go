// Package navigation reconstructs the URLs a visitor's browser sees, which
// can differ from the request the hub receives behind a proxy.
package navigation

import (
	"net/http"
	"net/url"
	"strings"
)

// Origin returns scheme://host for the request. A configured publicOrigin
// wins; otherwise X-Forwarded-Proto and X-Forwarded-Host are honoured.
func Origin(r *http.Request, publicOrigin string) string {
	if publicOrigin != "" {
		return strings.TrimRight(publicOrigin, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := firstValue(r.Header.Get("X-Forwarded-Proto")); p != "" {
		scheme = strings.ToLower(p)
	}
	host := r.Host
	if h := firstValue(r.Header.Get("X-Forwarded-Host")); h != "" {
		host = h
	}
	return scheme + "://" + host
}

// CurrentURL returns the absolute URL of the page being served.
func CurrentURL(r *http.Request, publicOrigin string) *url.URL {
	u, err := url.Parse(Origin(r, publicOrigin))
	if err != nil {
		u = &url.URL{Scheme: "http", Host: r.Host}
	}
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	return u
}

func firstValue(h string) string {
	first, _, _ := strings.Cut(h, ",")
	return strings.TrimSpace(first)
}
