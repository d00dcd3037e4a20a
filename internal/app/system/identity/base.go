package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Storage keys. The cookie layer adds its own prefix.
const (
	SessionStorageKey  = "auth-token"
	VerifierStorageKey = "auth-token-code-verifier"
)

// recoveryMarker tags a stored PKCE verifier that belongs to a password
// recovery request.
const recoveryMarker = "/" + string(EventPasswordRecovery)

// base holds the behavior both API generations share: stored sessions,
// password sign-in, sign-up, recovery email and the event bus.
type base struct {
	c     *client
	store Storage
	bus   *Bus
	log   *zap.Logger
	now   func() time.Time
}

func newBase(c *client, store Storage, log *zap.Logger) *base {
	if log == nil {
		log = zap.NewNop()
	}
	return &base{c: c, store: store, bus: NewBus(log), log: log, now: time.Now}
}

/*──── stored session ────*/

func (b *base) loadSession() *Session {
	raw, ok := b.store.Get(SessionStorageKey)
	if !ok || raw == "" {
		return nil
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || !s.Valid() {
		b.log.Debug("discarding unreadable stored session", zap.Error(err))
		b.removeSession()
		return nil
	}
	return &s
}

func (b *base) saveSession(s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return b.store.Set(SessionStorageKey, string(data), true)
}

// sealed reports whether storage can no longer persist writes.
func (b *base) sealed() bool {
	fs, ok := b.store.(FlushedStorage)
	return ok && fs.Flushed()
}

func (b *base) removeSession() {
	if err := b.store.Delete(SessionStorageKey); err != nil {
		b.log.Warn("failed to remove stored session", zap.Error(err))
	}
}

// adopt stamps an absolute expiry on a freshly issued session and stores it.
func (b *base) adopt(s *Session) (*Session, error) {
	if !s.Valid() {
		return nil, &Error{Status: http.StatusBadGateway, Code: "no_session", Message: "backend returned no session"}
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = b.now().Unix() + int64(s.ExpiresIn)
	}
	if err := b.saveSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

/*──── shared operations ────*/

func (b *base) GetSession(ctx context.Context) (*Session, error) {
	var out *Session
	err := safeCall(b.log, "get_session", func() error {
		s := b.loadSession()
		if s == nil {
			return nil
		}
		if !s.Expired(b.now()) {
			out = s
			return nil
		}
		if s.RefreshToken == "" {
			b.removeSession()
			return nil
		}
		// A rotated refresh token that cannot be stored would strand the
		// browser with a consumed one.
		if b.sealed() {
			b.log.Debug("skipping session refresh; storage already flushed")
			return nil
		}

		var fresh Session
		err := b.c.call(ctx, "refresh", http.MethodPost, "token",
			url.Values{"grant_type": {"refresh_token"}}, "",
			map[string]string{"refresh_token": s.RefreshToken}, &fresh)
		if err != nil {
			if isClientError(err) {
				b.removeSession()
				return nil
			}
			return err
		}
		ns, err := b.adopt(&fresh)
		if err != nil {
			return err
		}
		out = ns
		b.bus.Emit(EventTokenRefreshed, ns)
		return nil
	})
	return out, err
}

func (b *base) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var out *Session
	err := safeCall(b.log, "sign_in_password", func() error {
		var s Session
		err := b.c.call(ctx, "sign_in_password", http.MethodPost, "token",
			url.Values{"grant_type": {"password"}}, "",
			map[string]string{"email": email, "password": password}, &s)
		if err != nil {
			return err
		}
		ns, err := b.adopt(&s)
		if err != nil {
			return err
		}
		out = ns
		b.bus.Emit(EventSignedIn, ns)
		return nil
	})
	return out, err
}

// signUpResponse is a session when the account is auto-confirmed and a
// bare user otherwise.
type signUpResponse struct {
	Session
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (b *base) signUp(ctx context.Context, email, password string, opts SignUpOptions, extra map[string]any) (*Session, *User, error) {
	var (
		sess *Session
		user *User
	)
	err := safeCall(b.log, "sign_up", func() error {
		body := map[string]any{"email": email, "password": password}
		if len(opts.Metadata) > 0 {
			body["data"] = opts.Metadata
		}
		for k, v := range extra {
			body[k] = v
		}
		var q url.Values
		if opts.EmailRedirectTo != "" {
			q = url.Values{"redirect_to": {opts.EmailRedirectTo}}
		}

		var resp signUpResponse
		if err := b.c.call(ctx, "sign_up", http.MethodPost, "signup", q, "", body, &resp); err != nil {
			return err
		}
		if resp.AccessToken != "" {
			s := resp.Session
			ns, err := b.adopt(&s)
			if err != nil {
				return err
			}
			sess, user = ns, ns.User
			b.bus.Emit(EventSignedIn, ns)
			return nil
		}
		user = &User{ID: resp.ID, Email: resp.Email}
		return nil
	})
	return sess, user, err
}

func (b *base) resetPassword(ctx context.Context, email, redirectTo string, extra map[string]any) error {
	return safeCall(b.log, "recover", func() error {
		body := map[string]any{"email": email}
		for k, v := range extra {
			body[k] = v
		}
		var q url.Values
		if redirectTo != "" {
			q = url.Values{"redirect_to": {redirectTo}}
		}
		return b.c.call(ctx, "recover", http.MethodPost, "recover", q, "", body, nil)
	})
}

func (b *base) UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error) {
	s, err := b.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}

	var out *User
	err = safeCall(b.log, "update_user", func() error {
		var u User
		body := map[string]string{}
		if attrs.Password != "" {
			body["password"] = attrs.Password
		}
		if err := b.c.call(ctx, "update_user", http.MethodPut, "user", nil, s.AccessToken, body, &u); err != nil {
			return err
		}
		out = &u
		b.bus.Emit(EventUserUpdated, s)
		return nil
	})
	return out, err
}

// verifyTokenHash completes an email link carrying token_hash.
func (b *base) verifyTokenHash(ctx context.Context, tokenHash, typ string) (Event, *Session, error) {
	if typ == "" {
		typ = "email"
	}
	var s Session
	err := b.c.call(ctx, "verify", http.MethodPost, "verify", nil, "",
		map[string]string{"type": typ, "token_hash": tokenHash}, &s)
	if err != nil {
		return "", nil, err
	}
	ns, err := b.adopt(&s)
	if err != nil {
		return "", nil, err
	}
	ev := EventSignedIn
	if typ == "recovery" {
		ev = EventPasswordRecovery
	}
	b.bus.Emit(ev, ns)
	return ev, ns, nil
}

// signOutLocal forgets the stored session and notifies listeners.
func (b *base) signOutLocal() {
	b.removeSession()
	if err := b.store.Delete(VerifierStorageKey); err != nil {
		b.log.Debug("failed to remove stored verifier", zap.Error(err))
	}
	b.bus.Emit(EventSignedOut, nil)
}

func (b *base) OnAuthStateChange(l Listener) func() {
	unsub := b.bus.Subscribe(l)
	b.bus.deliver(l, EventInitialSession, b.loadSession())
	return unsub
}

// urlError turns an error reported in a redirect query into an Error.
func urlError(query url.Values) error {
	code := query.Get("error")
	desc := query.Get("error_description")
	if code == "" && desc == "" {
		return nil
	}
	if desc == "" {
		desc = code
	}
	return &Error{Status: http.StatusBadRequest, Code: code, Message: desc}
}

// isClientError reports a 4xx rejection.
func isClientError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status >= 400 && e.Status < 500
}
