// Package identity is the hub's view of the hosted identity backend.
//
// The hub never validates credentials or signs tokens itself. Everything
// it needs from the backend is expressed by the Backend interface, and one
// adapter per backend API generation implements it (see Factory).
package identity

import (
	"context"
	"net/url"
	"time"

)

// Default values applied to sessions that omit optional fields.
const (
	DefaultTokenType = "bearer"
	DefaultExpiresIn = 3600
)

// User is the subset of the backend user record the hub cares about.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is an authenticated session issued by the backend.
// Hub logic never mutates a Session; WithDefaults returns a copy.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Valid reports whether s carries an access token.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != ""
}

// WithDefaults returns a copy of s with token type and lifetime defaulted.
func (s Session) WithDefaults() Session {
	if s.TokenType == "" {
		s.TokenType = DefaultTokenType
	}
	if s.ExpiresIn <= 0 {
		s.ExpiresIn = DefaultExpiresIn
	}
	return s
}

// Expired reports whether the session's absolute expiry has passed,
// with a small margin so a token is not handed off seconds before it dies.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == 0 {
		return false
	}
	return now.Add(10 * time.Second).Unix() >= s.ExpiresAt
}

// Event is an auth state change notification.
type Event string

const (
	EventInitialSession   Event = "INITIAL_SESSION"
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventTokenRefreshed   Event = "TOKEN_REFRESHED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
	EventUserUpdated      Event = "USER_UPDATED"
)

// Listener receives auth state changes. session is nil for SIGNED_OUT and
// for INITIAL_SESSION when nobody is signed in.
type Listener func(event Event, session *Session)

// Scope selects which sessions a sign-out revokes.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeLocal  Scope = "local"
)

// OAuthOptions configures a third-party sign-in.
type OAuthOptions struct {
	RedirectTo  string
	QueryParams map[string]string
}

// SignUpOptions configures account creation.
type SignUpOptions struct {
	Metadata        map[string]any
	EmailRedirectTo string
}

// UserAttributes are the fields UpdateUser may change.
type UserAttributes struct {
	Password string
}

// Backend is everything the hub asks of the identity backend. One Backend
// is bound to one request's client-held storage.
type Backend interface {
	// GetSession returns the stored session, refreshing it when expired.
	// A nil session with a nil error means nobody is signed in.
	GetSession(ctx context.Context) (*Session, error)

	// GetUser validates accessToken server-side.
	GetUser(ctx context.Context, accessToken string) (*User, error)

	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignInWithOAuth returns the provider authorization URL to send the
	// browser to.
	SignInWithOAuth(ctx context.Context, provider string, opts OAuthOptions) (string, error)

	// SignUp creates an account. The session is nil when the backend
	// requires email confirmation first.
	SignUp(ctx context.Context, email, password string, opts SignUpOptions) (*Session, *User, error)

	SignOut(ctx context.Context, scope Scope) error

	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error

	UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error)

	// ExchangeFromURL completes a redirect back from the backend (OAuth
	// code, email confirmation or recovery link) and reports the event it
	// produced.
	ExchangeFromURL(ctx context.Context, query url.Values) (Event, *Session, error)

	// OnAuthStateChange registers l and immediately delivers
	// INITIAL_SESSION to it. The returned func unsubscribes.
	OnAuthStateChange(l Listener) (unsubscribe func())
}

// Storage is client-held key/value storage. persistent=false values last
// only for the browser session.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string, persistent bool) error
	Delete(key string) error
}

// FlushedStorage is Storage that stops accepting writes once the response
// has started. *authstore.RequestStore implements it.
type FlushedStorage interface {
	Storage
	Flushed() bool
}

// URLHasExchange reports whether query carries something ExchangeFromURL
// can complete.
func URLHasExchange(query url.Values) bool {
	return query.Get("code") != "" || query.Get("token_hash") != ""
}

// Provider is a third-party sign-in option offered on the login page.
type Provider struct {
	Name  string
	Label string
	// Params are extra authorization query parameters.
	Params map[string]string
}

// Providers lists the enabled OAuth providers in display order.
var Providers = []Provider{
	{Name: "google", Label: "Google", Params: map[string]string{"prompt": "select_account"}},
	{Name: "facebook", Label: "Facebook"},
	{Name: "apple", Label: "Apple"},
}

// LookupProvider returns the enabled provider called name.
func LookupProvider(name string) (Provider, bool) {
	for _, p := range Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}
