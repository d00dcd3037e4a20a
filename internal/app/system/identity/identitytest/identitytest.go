// Package identitytest provides in-memory doubles for the identity package.
package identitytest

import (
	"context"
	"net/url"
	"sort"
	"sync"

	"github.com/dalemusser/authhub/internal/app/system/identity"
)

/*──── Storage ────*/

type entry struct {
	value      string
	persistent bool
}

// Storage is an in-memory identity.Storage that also supports Clear.
type Storage struct {
	mu      sync.Mutex
	m       map[string]entry
	flushed bool
	Cleared int
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{m: make(map[string]entry)}
}

func (s *Storage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	return e.value, ok
}

func (s *Storage) Set(key, value string, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{value: value, persistent: persistent}
	return nil
}

func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// Flush marks the storage as written out, like a response that has started.
func (s *Storage) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
}

// Flushed reports whether Flush was called.
func (s *Storage) Flushed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushed
}

// Clear removes every key.
func (s *Storage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]entry)
	s.Cleared++
	return nil
}

// Persistent reports whether key was stored as persistent.
func (s *Storage) Persistent(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key].persistent
}

// Keys returns the stored keys, sorted.
func (s *Storage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

/*──── Backend ────*/

// Backend is a scriptable identity.Backend. Set the exported fields before
// use; calls are recorded by name.
type Backend struct {
	mu sync.Mutex

	// Session is returned by GetSession. Block, when non-nil, delays
	// GetSession until it is closed or the context ends.
	Session    *identity.Session
	SessionErr error
	Block      chan struct{}

	User    *identity.User
	UserErr error

	SignInSession *identity.Session
	SignInErr     error

	OAuthURL string
	OAuthErr error

	SignUpSession *identity.Session
	SignUpUser    *identity.User
	SignUpErr     error

	// SignOutErr is returned per scope.
	SignOutErr map[identity.Scope]error

	ResetErr  error
	UpdateErr error

	ExchangeEvent   identity.Event
	ExchangeSession *identity.Session
	ExchangeErr     error

	// Recorded arguments.
	LastEmail      string
	LastPassword   string
	LastSignUp     identity.SignUpOptions
	LastProvider   string
	LastOAuth      identity.OAuthOptions
	LastRedirectTo string
	LastUpdate     identity.UserAttributes
	SignOutScopes  []identity.Scope

	calls map[string]int
	bus   *identity.Bus
}

var _ identity.Backend = (*Backend)(nil)

// New returns a Backend with nobody signed in.
func New() *Backend {
	return &Backend{calls: make(map[string]int), bus: identity.NewBus(nil)}
}

func (b *Backend) record(name string) {
	b.mu.Lock()
	b.calls[name]++
	b.mu.Unlock()
}

// Calls returns how often the named method ran.
func (b *Backend) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

// Emit delivers an auth event to every subscriber.
func (b *Backend) Emit(ev identity.Event, s *identity.Session) {
	b.bus.Emit(ev, s)
}

// Listeners returns the number of active subscriptions.
func (b *Backend) Listeners() int {
	return b.bus.Len()
}

func (b *Backend) GetSession(ctx context.Context) (*identity.Session, error) {
	b.record("GetSession")
	b.mu.Lock()
	block := b.Block
	b.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Session, b.SessionErr
}

func (b *Backend) GetUser(_ context.Context, accessToken string) (*identity.User, error) {
	b.record("GetUser")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.UserErr != nil {
		return nil, b.UserErr
	}
	if b.User != nil {
		return b.User, nil
	}
	return &identity.User{ID: "user-1", Email: "user@example.com"}, nil
}

func (b *Backend) SignInWithPassword(_ context.Context, email, password string) (*identity.Session, error) {
	b.record("SignInWithPassword")
	b.mu.Lock()
	b.LastEmail, b.LastPassword = email, password
	s, err := b.SignInSession, b.SignInErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.Session = s
	b.mu.Unlock()
	b.bus.Emit(identity.EventSignedIn, s)
	return s, nil
}

func (b *Backend) SignInWithOAuth(_ context.Context, provider string, opts identity.OAuthOptions) (string, error) {
	b.record("SignInWithOAuth")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LastProvider, b.LastOAuth = provider, opts
	if b.OAuthErr != nil {
		return "", b.OAuthErr
	}
	if b.OAuthURL != "" {
		return b.OAuthURL, nil
	}
	return "https://id.example.com/authorize?provider=" + url.QueryEscape(provider) +
		"&redirect_to=" + url.QueryEscape(opts.RedirectTo), nil
}

func (b *Backend) SignUp(_ context.Context, email, password string, opts identity.SignUpOptions) (*identity.Session, *identity.User, error) {
	b.record("SignUp")
	b.mu.Lock()
	b.LastEmail, b.LastPassword, b.LastSignUp = email, password, opts
	s, u, err := b.SignUpSession, b.SignUpUser, b.SignUpErr
	b.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		u = &identity.User{ID: "new-user", Email: email}
	}
	if s != nil {
		b.bus.Emit(identity.EventSignedIn, s)
	}
	return s, u, nil
}

func (b *Backend) SignOut(_ context.Context, scope identity.Scope) error {
	b.record("SignOut")
	b.mu.Lock()
	b.SignOutScopes = append(b.SignOutScopes, scope)
	err := b.SignOutErr[scope]
	if err == nil {
		b.Session = nil
	}
	b.mu.Unlock()
	if err == nil {
		b.bus.Emit(identity.EventSignedOut, nil)
	}
	return err
}

func (b *Backend) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	b.record("ResetPasswordForEmail")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LastEmail, b.LastRedirectTo = email, redirectTo
	return b.ResetErr
}

func (b *Backend) UpdateUser(_ context.Context, attrs identity.UserAttributes) (*identity.User, error) {
	b.record("UpdateUser")
	b.mu.Lock()
	b.LastUpdate = attrs
	err, s := b.UpdateErr, b.Session
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, identity.ErrNoSession
	}
	b.bus.Emit(identity.EventUserUpdated, s)
	return &identity.User{ID: "user-1"}, nil
}

func (b *Backend) ExchangeFromURL(_ context.Context, query url.Values) (identity.Event, *identity.Session, error) {
	b.record("ExchangeFromURL")
	b.mu.Lock()
	ev, s, err := b.ExchangeEvent, b.ExchangeSession, b.ExchangeErr
	b.mu.Unlock()
	if err != nil {
		return "", nil, err
	}
	if ev == "" {
		ev = identity.EventSignedIn
	}
	if s != nil {
		b.mu.Lock()
		b.Session = s
		b.mu.Unlock()
		b.bus.Emit(ev, s)
	}
	return ev, s, nil
}

func (b *Backend) OnAuthStateChange(l identity.Listener) func() {
	b.record("OnAuthStateChange")
	unsub := b.bus.Subscribe(l)
	b.mu.Lock()
	s := b.Session
	b.mu.Unlock()
	l(identity.EventInitialSession, s)
	return unsub
}

// NewSession returns a session with the given tokens and defaults.
func NewSession(access, refresh string) *identity.Session {
	return &identity.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    identity.DefaultTokenType,
		ExpiresIn:    identity.DefaultExpiresIn,
	}
}

// Factory hands the same Backend to every request and remembers the
// storage each request was bound to.
type Factory struct {
	B *Backend

	mu     sync.Mutex
	stores []identity.Storage
}

// NewFactory returns a Factory around a fresh Backend.
func NewFactory() *Factory {
	return &Factory{B: New()}
}

func (f *Factory) ForRequest(store identity.Storage) identity.Backend {
	f.mu.Lock()
	f.stores = append(f.stores, store)
	f.mu.Unlock()
	return f.B
}

// Stores returns the storage passed to each ForRequest call.
func (f *Factory) Stores() []identity.Storage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]identity.Storage(nil), f.stores...)
}
