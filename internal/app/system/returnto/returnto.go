// Package returnto turns an untrusted returnTo value into a safe navigation
// target and classifies logout intent.
//
// Every function here is pure: the same Policy and input always produce the
// same Target. Untrusted or unparsable input is never an error; it is
// silently replaced by the policy's fallback URL.
package returnto

import (
	"net/url"
	"strings"
)

// Param is the query parameter that carries the return target.
const Param = "returnTo"

// LogoutParam is the query parameter that signals logout intent.
const LogoutParam = "logout"

// maxNestedDepth bounds how many nested returnTo values Normalize unwraps.
const maxNestedDepth = 4

// authFragmentMarkers identify a fragment left behind by a previous hand-off.
var authFragmentMarkers = []string{
	"access_token=",
	"refresh_token=",
	"token_type=",
	"expires_in=",
}

// rawLogoutMarkers are matched against the raw (possibly still encoded)
// returnTo string, lower-cased.
var rawLogoutMarkers = []string{
	"logout=1",
	"logout%3d1",
	"logout%253d1",
}

// DefaultTruthy are the values accepted as "on" for boolean query flags.
var DefaultTruthy = []string{"1", "true", "yes"}

// Policy holds the deployment-specific allow-list settings.
type Policy struct {
	// RootDomain is the trusted registrable domain (e.g. "flowodonto.com.br").
	// The domain itself and every subdomain are trusted.
	RootDomain string

	// Fallback is used whenever the input is missing or untrusted.
	// It must itself be an absolute URL inside RootDomain.
	Fallback string

	// Truthy lists accepted values for boolean flags. Empty means DefaultTruthy.
	Truthy []string

	// LogoutPath is the reserved logout path (default "/logout").
	LogoutPath string
}

// Target is a validated absolute URL inside the trusted domain.
type Target struct {
	u *url.URL
}

// String returns the canonical string form of the target.
func (t Target) String() string {
	if t.u == nil {
		return ""
	}
	return t.u.String()
}

// URL returns a copy of the underlying URL.
func (t Target) URL() *url.URL {
	if t.u == nil {
		return &url.URL{}
	}
	c := *t.u
	return &c
}

// Host returns the lower-cased hostname of the target.
func (t Target) Host() string {
	if t.u == nil {
		return ""
	}
	return strings.ToLower(t.u.Hostname())
}

// Query returns the parsed query of the target.
func (t Target) Query() url.Values {
	if t.u == nil {
		return url.Values{}
	}
	return t.u.Query()
}

// Equal reports whether two targets have the same canonical form.
func (t Target) Equal(o Target) bool {
	return t.String() == o.String()
}

// Trusted reports whether host is the root domain or one of its subdomains.
func (p Policy) Trusted(host string) bool {
	root := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(p.RootDomain)), ".")
	if root == "" {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == root || strings.HasSuffix(host, "."+root)
}

// FallbackTarget returns the configured fallback as a Target.
func (p Policy) FallbackTarget() Target {
	u, err := url.Parse(p.Fallback)
	if err != nil {
		return Target{u: &url.URL{Scheme: "https", Host: p.RootDomain, Path: "/"}}
	}
	return Target{u: u}
}

// Validate parses raw as an absolute http(s) URL inside the trusted domain.
// Anything else yields the fallback. A residual auth fragment is removed.
// Validate is idempotent: Validate(Validate(x).String()) equals Validate(x).
func (p Policy) Validate(raw string) Target {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return p.FallbackTarget()
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return p.FallbackTarget()
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return p.FallbackTarget()
	}

	if !p.Trusted(u.Hostname()) {
		return p.FallbackTarget()
	}

	u.User = nil
	return Target{u: stripAuthFragment(u)}
}

// Normalize validates raw and, when the result itself carries a returnTo
// parameter, unwraps it and validates the inner value instead. The innermost
// value wins; self-referential input stops the unwrapping.
func (p Policy) Normalize(raw string) Target {
	t := p.Validate(raw)
	seen := map[string]bool{t.String(): true}

	for i := 0; i < maxNestedDepth; i++ {
		inner := nestedValue(t)
		if inner == "" {
			break
		}
		next := p.Validate(inner)
		if seen[next.String()] {
			break
		}
		seen[next.String()] = true
		t = next
	}
	return t
}

// nestedValue extracts the returnTo value carried by t, decoding once more
// when it still looks percent-encoded. Decode failures keep the raw value.
func nestedValue(t Target) string {
	v := strings.TrimSpace(t.Query().Get(Param))
	if v == "" {
		return ""
	}
	if !strings.Contains(v, "://") && strings.Contains(v, "%") {
		if dec, err := url.QueryUnescape(v); err == nil {
			v = dec
		}
	}
	return v
}

// IsTruthy reports whether v is one of the policy's truthy values,
// compared case-insensitively.
func (p Policy) IsTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return false
	}
	truthy := p.Truthy
	if len(truthy) == 0 {
		truthy = DefaultTruthy
	}
	for _, t := range truthy {
		if v == strings.ToLower(strings.TrimSpace(t)) {
			return true
		}
	}
	return false
}

func (p Policy) logoutPath() string {
	if p.LogoutPath == "" {
		return "/logout"
	}
	return p.LogoutPath
}

// DetectLogout reports logout intent from any of: a truthy logout query
// flag, the reserved logout path, a truthy logout flag inside the validated
// (outer or innermost) returnTo target, or a raw logout marker in the
// returnTo string. The raw check runs even when raw does not parse.
func (p Policy) DetectLogout(path string, query url.Values, rawReturnTo string) bool {
	if p.IsTruthy(query.Get(LogoutParam)) {
		return true
	}
	if CleanPath(path) == p.logoutPath() {
		return true
	}
	if rawReturnTo == "" {
		return false
	}

	lower := strings.ToLower(rawReturnTo)
	for _, m := range rawLogoutMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}

	for _, t := range []Target{p.Validate(rawReturnTo), p.Normalize(rawReturnTo)} {
		if p.IsTruthy(t.Query().Get(LogoutParam)) {
			return true
		}
	}
	return false
}

// HasAuthFragment reports whether u carries a hand-off fragment.
func HasAuthFragment(u *url.URL) bool {
	if u == nil {
		return false
	}
	frag := strings.ToLower(u.EscapedFragment())
	if frag == "" {
		return false
	}
	for _, m := range authFragmentMarkers {
		if strings.Contains(frag, m) {
			return true
		}
	}
	return false
}

func stripAuthFragment(u *url.URL) *url.URL {
	c := *u
	if HasAuthFragment(&c) {
		c.Fragment = ""
		c.RawFragment = ""
	}
	return &c
}

// StripAuthFragment removes the fragment only when it looks like a hand-off
// fragment. Any other fragment is preserved.
func StripAuthFragment(t Target) Target {
	if t.u == nil {
		return t
	}
	return Target{u: stripAuthFragment(t.u)}
}

// StripFragment removes the fragment unconditionally.
func StripFragment(t Target) Target {
	if t.u == nil {
		return t
	}
	c := *t.u
	c.Fragment = ""
	c.RawFragment = ""
	return Target{u: &c}
}

// StripLogout removes the logout query parameter so the destination does
// not bounce back into another logout.
func StripLogout(t Target) Target {
	if t.u == nil {
		return t
	}
	c := *t.u
	q := c.Query()
	if _, ok := q[LogoutParam]; !ok {
		return t
	}
	q.Del(LogoutParam)
	c.RawQuery = q.Encode()
	return Target{u: &c}
}

// IsSamePage reports whether t has the same origin and path as current.
// A hand-off to the page itself would loop.
func IsSamePage(t Target, current *url.URL) bool {
	if t.u == nil || current == nil {
		return false
	}
	return Origin(t.u) == Origin(current) && CleanPath(t.u.Path) == CleanPath(current.Path)
}

// Origin returns scheme://host[:port] as browsers compare it: lower-cased,
// without a trailing dot on the host and without the scheme's default port.
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	switch port := u.Port(); {
	case port == "":
	case scheme == "https" && port == "443":
	case scheme == "http" && port == "80":
	default:
		host += ":" + port
	}
	return scheme + "://" + host
}

// CleanPath returns p with an empty path mapped to "/" and any trailing
// slash removed.
func CleanPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	return "/" + strings.Trim(p, "/")
}

// CallbackURL builds the URL the identity backend sends the browser back to
// after provider-side authentication: origin + "/?returnTo=" + target.
func CallbackURL(origin string, t Target) string {
	return strings.TrimRight(origin, "/") + "/?" + Param + "=" + url.QueryEscape(StripAuthFragment(t).String())
}

// Label formats the target for display as host + path + query.
func Label(t Target) string {
	if t.u == nil {
		return ""
	}
	path := t.u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if t.u.RawQuery != "" {
		path += "?" + t.u.RawQuery
	}
	return t.u.Hostname() + path
}
