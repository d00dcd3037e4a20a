package identity

import (
	"context"
	"net/url"
)

// legacyBackend targets backend releases before v2. They have no
// server-side user check, no scoped sign-out and no PKCE, so those
// capabilities report ErrUnsupported and callers take their fallbacks.
type legacyBackend struct {
	*base
}

var _ Backend = (*legacyBackend)(nil)

func (b *legacyBackend) GetUser(context.Context, string) (*User, error) {
	return nil, ErrUnsupported
}

func (b *legacyBackend) SignInWithOAuth(context.Context, string, OAuthOptions) (string, error) {
	return "", ErrUnsupported
}

func (b *legacyBackend) SignUp(ctx context.Context, email, password string, opts SignUpOptions) (*Session, *User, error) {
	return b.signUp(ctx, email, password, opts, nil)
}

func (b *legacyBackend) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return b.resetPassword(ctx, email, redirectTo, nil)
}

// SignOut only forgets the local session.
func (b *legacyBackend) SignOut(_ context.Context, scope Scope) error {
	if scope == ScopeGlobal || scope == "" {
		return ErrUnsupported
	}
	return safeCall(b.log, "sign_out", func() error {
		b.signOutLocal()
		return nil
	})
}

func (b *legacyBackend) ExchangeFromURL(ctx context.Context, query url.Values) (Event, *Session, error) {
	var (
		ev   Event
		sess *Session
	)
	err := safeCall(b.log, "exchange", func() error {
		if err := urlError(query); err != nil {
			return err
		}
		if query.Get("code") != "" {
			return ErrUnsupported
		}
		if th := query.Get("token_hash"); th != "" {
			var err error
			ev, sess, err = b.verifyTokenHash(ctx, th, query.Get("type"))
			return err
		}
		return nil
	})
	return ev, sess, err
}
