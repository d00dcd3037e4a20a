// Package handoff transports an authenticated session to a return target
// in the URL fragment, at most once per page.
package handoff

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
)

// Latch is a single-use switch. The zero value is ready to use.
type Latch struct {
	tripped atomic.Bool
}

// Trip flips the latch and reports whether this call was the one that
// flipped it.
func (l *Latch) Trip() bool {
	return l.tripped.CompareAndSwap(false, true)
}

// Tripped reports whether the latch has been flipped.
func (l *Latch) Tripped() bool {
	return l.tripped.Load()
}

// Navigator performs a history-replacing navigation.
type Navigator interface {
	Replace(url string)
}

// Recorder is a Navigator that remembers the first destination so the
// HTTP layer can answer with a redirect.
type Recorder struct {
	mu       sync.Mutex
	location string
	set      bool
	count    int
}

func (r *Recorder) Replace(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	if !r.set {
		r.location = url
		r.set = true
	}
}

// Location returns the first recorded destination.
func (r *Recorder) Location() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location, r.set
}

// Count returns how many navigations were requested.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Result is the outcome of a hand-off attempt.
type Result int

const (
	// Skipped: no session, or this page already navigated.
	Skipped Result = iota
	// Loop: the target is the current page; nothing was done.
	Loop
	// Navigated: the session was sent to the target.
	Navigated
)

func (r Result) String() string {
	switch r {
	case Loop:
		return "loop"
	case Navigated:
		return "navigated"
	}
	return "skipped"
}

// Transport owns the page's latch. Every navigation the page makes, hand-off
// or not, goes through it.
type Transport struct {
	Latch *Latch
	Nav   Navigator
}

// New returns a Transport with a fresh latch.
func New(nav Navigator) *Transport {
	return &Transport{Latch: &Latch{}, Nav: nav}
}

// HandOff sends s to target. The latch is tripped before navigating so a
// concurrent caller can never navigate a second time.
func (t *Transport) HandOff(s *identity.Session, target returnto.Target, current *url.URL) Result {
	if !s.Valid() || t.Latch.Tripped() {
		return Skipped
	}
	if returnto.IsSamePage(target, current) {
		return Loop
	}
	if !t.Latch.Trip() {
		return Skipped
	}
	t.Nav.Replace(Destination(s, target))
	return Navigated
}

// Navigate replaces the page with dest unless the page already navigated.
func (t *Transport) Navigate(dest string) bool {
	if !t.Latch.Trip() {
		return false
	}
	t.Nav.Replace(dest)
	return true
}

// Done reports whether the page has navigated.
func (t *Transport) Done() bool {
	return t.Latch.Tripped()
}

// Destination is the fragment-stripped target with the session fragment
// appended.
func Destination(s *identity.Session, target returnto.Target) string {
	return returnto.StripFragment(target).String() + "#" + Fragment(s)
}

// Fragment encodes s as
// access_token=..&refresh_token=..&token_type=bearer&expires_in=..
// with each value query-escaped. The token type is always bearer.
func Fragment(s *identity.Session) string {
	d := s.WithDefaults()
	var b strings.Builder
	b.WriteString("access_token=")
	b.WriteString(escape(d.AccessToken))
	b.WriteString("&refresh_token=")
	b.WriteString(escape(d.RefreshToken))
	b.WriteString("&token_type=")
	b.WriteString(identity.DefaultTokenType)
	b.WriteString("&expires_in=")
	b.WriteString(escape(strconv.Itoa(d.ExpiresIn)))
	return b.String()
}

// escape percent-encodes everything but ALPHA / DIGIT / "-_.~" and writes
// spaces as %20. Unlike encodeURIComponent it also escapes !'()*; any
// URI decoder reads both forms the same.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
