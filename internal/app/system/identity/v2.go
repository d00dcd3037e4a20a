package identity

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// v2Backend targets current backend releases: server-side user checks,
// scoped sign-out and PKCE for OAuth and email links.
type v2Backend struct {
	*base
}

var _ Backend = (*v2Backend)(nil)

func (b *v2Backend) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var out *User
	err := safeCall(b.log, "get_user", func() error {
		if accessToken == "" {
			return ErrNoSession
		}
		var u User
		if err := b.c.call(ctx, "get_user", http.MethodGet, "user", nil, accessToken, nil, &u); err != nil {
			return err
		}
		out = &u
		return nil
	})
	return out, err
}

// pkce creates and stores a fresh verifier and returns its challenge
// parameters. tag marks what the verifier is for.
func (b *v2Backend) pkce(tag string) (map[string]any, error) {
	verifier := oauth2.GenerateVerifier()
	if err := b.store.Set(VerifierStorageKey, verifier+tag, false); err != nil {
		return nil, err
	}
	return map[string]any{
		"code_challenge":        oauth2.S256ChallengeFromVerifier(verifier),
		"code_challenge_method": "s256",
	}, nil
}

func (b *v2Backend) SignInWithOAuth(ctx context.Context, provider string, opts OAuthOptions) (string, error) {
	var out string
	err := safeCall(b.log, "sign_in_oauth", func() error {
		params, err := b.pkce("")
		if err != nil {
			return err
		}
		q := url.Values{"provider": {provider}}
		if opts.RedirectTo != "" {
			q.Set("redirect_to", opts.RedirectTo)
		}
		for k, v := range params {
			q.Set(k, v.(string))
		}
		for k, v := range opts.QueryParams {
			q.Set(k, v)
		}
		out = b.c.endpoint("authorize", q)
		return nil
	})
	return out, err
}

func (b *v2Backend) SignUp(ctx context.Context, email, password string, opts SignUpOptions) (*Session, *User, error) {
	params, err := b.pkce("")
	if err != nil {
		return nil, nil, err
	}
	return b.signUp(ctx, email, password, opts, params)
}

func (b *v2Backend) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	params, err := b.pkce(recoveryMarker)
	if err != nil {
		return err
	}
	return b.resetPassword(ctx, email, redirectTo, params)
}

// SignOut revokes the session server-side. Local state is cleared even
// when the server call fails; a rejected token means it is already gone.
func (b *v2Backend) SignOut(ctx context.Context, scope Scope) error {
	return safeCall(b.log, "sign_out", func() error {
		if scope == "" {
			scope = ScopeGlobal
		}
		s := b.loadSession()
		var err error
		if s.Valid() {
			err = b.c.call(ctx, "sign_out", http.MethodPost, "logout",
				url.Values{"scope": {string(scope)}}, s.AccessToken, nil, nil)
			if IsRejected(err) {
				err = nil
			}
		}
		b.signOutLocal()
		return err
	})
}

func (b *v2Backend) ExchangeFromURL(ctx context.Context, query url.Values) (Event, *Session, error) {
	var (
		ev   Event
		sess *Session
	)
	err := safeCall(b.log, "exchange", func() error {
		if err := urlError(query); err != nil {
			return err
		}
		var err error
		switch {
		case query.Get("code") != "":
			ev, sess, err = b.exchangeCode(ctx, query.Get("code"))
		case query.Get("token_hash") != "":
			ev, sess, err = b.verifyTokenHash(ctx, query.Get("token_hash"), query.Get("type"))
		}
		return err
	})
	return ev, sess, err
}

func (b *v2Backend) exchangeCode(ctx context.Context, code string) (Event, *Session, error) {
	stored, ok := b.store.Get(VerifierStorageKey)
	if !ok || stored == "" {
		return "", nil, &Error{Status: http.StatusBadRequest, Code: "missing_verifier", Message: "Link inválido ou expirado. Solicite um novo."}
	}
	verifier, recovery := strings.CutSuffix(stored, recoveryMarker)

	var s Session
	err := b.c.call(ctx, "exchange_code", http.MethodPost, "token",
		url.Values{"grant_type": {"pkce"}}, "",
		map[string]string{"auth_code": code, "code_verifier": verifier}, &s)
	_ = b.store.Delete(VerifierStorageKey)
	if err != nil {
		return "", nil, err
	}
	ns, err := b.adopt(&s)
	if err != nil {
		return "", nil, err
	}
	ev := EventSignedIn
	if recovery {
		ev = EventPasswordRecovery
	}
	b.bus.Emit(ev, ns)
	return ev, ns, nil
}
