package identity_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/identity/identitytest"
	"go.uber.org/zap"
)

// fakeBackend is a minimal stand-in for the identity REST API.
type fakeBackend struct {
	mu       sync.Mutex
	version  string
	requests []*recorded
	handlers map[string]http.HandlerFunc
}

type recorded struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   map[string]any
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{version: "v2.151.0", handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) on(method, path string, h http.HandlerFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[method+" "+path] = h
}

func (fb *fakeBackend) last() *recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.requests) == 0 {
		return nil
	}
	return fb.requests[len(fb.requests)-1]
}

func (fb *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	rec := &recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone()}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	fb.mu.Lock()
	fb.requests = append(fb.requests, rec)
	h := fb.handlers[r.Method+" "+r.URL.Path]
	version := fb.version
	fb.mu.Unlock()

	if h != nil {
		h(w, r)
		return
	}
	if r.URL.Path == "/auth/v1/health" {
		writeJSON(w, http.StatusOK, map[string]string{"version": version, "name": "GoTrue"})
		return
	}
	http.NotFound(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tokenResponse(access, refresh string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    3600,
		"user":          map[string]any{"id": "u-1", "email": "ana@example.com"},
	}
}

func newFactory(t *testing.T, srv *httptest.Server, v identity.Version) *identity.Factory {
	t.Helper()
	f, err := identity.NewFactory(identity.Config{
		URL:        srv.URL,
		AnonKey:    "anon-key",
		Version:    v,
		HTTPClient: srv.Client(),
		Log:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return f
}

type eventLog struct {
	mu     sync.Mutex
	events []identity.Event
}

func (l *eventLog) listen(ev identity.Event, _ *identity.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) has(ev identity.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == ev {
			return true
		}
	}
	return false
}

func storeSession(t *testing.T, st *identitytest.Storage, s identity.Session) {
	t.Helper()
	b, _ := json.Marshal(s)
	_ = st.Set(identity.SessionStorageKey, string(b), true)
}

func TestNewFactory_InvalidURL(t *testing.T) {
	if _, err := identity.NewFactory(identity.Config{URL: "not a url"}); err == nil {
		t.Fatal("expected error for relative backend URL")
	}
}

func TestProbe_SelectsAdapter(t *testing.T) {
	tests := []struct {
		reported string
		want     identity.Version
	}{
		{"v2.151.0", identity.VersionV2},
		{"v1.0.2", identity.VersionLegacy},
		{"unknown", identity.VersionV2},
	}
	for _, tt := range tests {
		fb, srv := newFakeBackend(t)
		fb.version = tt.reported
		f := newFactory(t, srv, identity.VersionAuto)
		if got := f.Probe(context.Background()); got != tt.want {
			t.Errorf("Probe with %q = %q, want %q", tt.reported, got, tt.want)
		}
		if f.Version() != tt.want {
			t.Errorf("Version() = %q after probe", f.Version())
		}
	}
}

func TestProbe_UnreachableAssumesV2(t *testing.T) {
	_, srv := newFakeBackend(t)
	f := newFactory(t, srv, identity.VersionAuto)
	srv.Close()
	if got := f.Probe(context.Background()); got != identity.VersionV2 {
		t.Errorf("Probe on unreachable backend = %q, want v2", got)
	}
}

func TestProbe_ConfiguredVersionWins(t *testing.T) {
	fb, srv := newFakeBackend(t)
	f := newFactory(t, srv, identity.VersionLegacy)
	if got := f.Probe(context.Background()); got != identity.VersionLegacy {
		t.Errorf("Probe = %q, want legacy", got)
	}
	if fb.last() != nil {
		t.Error("configured version should skip the health probe")
	}
}

func TestParseVersion(t *testing.T) {
	if identity.ParseVersion(" V2 ") != identity.VersionV2 {
		t.Error("V2 not parsed")
	}
	if identity.ParseVersion("legacy") != identity.VersionLegacy {
		t.Error("legacy not parsed")
	}
	if identity.ParseVersion("whatever") != identity.VersionAuto {
		t.Error("unknown should be auto")
	}
}

func TestSignInWithPassword_StoresSessionAndEmits(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenResponse("acc-1", "ref-1"))
	})
	f := newFactory(t, srv, identity.VersionV2)
	st := identitytest.NewStorage()
	be := f.ForRequest(st)

	var events eventLog
	unsub := be.OnAuthStateChange(events.listen)
	defer unsub()

	s, err := be.SignInWithPassword(context.Background(), "ana@example.com", "segredo1")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if s.AccessToken != "acc-1" || s.RefreshToken != "ref-1" {
		t.Errorf("unexpected session %+v", s)
	}
	if s.ExpiresAt == 0 {
		t.Error("ExpiresAt not stamped")
	}

	req := fb.last()
	if req.Query.Get("grant_type") != "password" {
		t.Errorf("grant_type = %q", req.Query.Get("grant_type"))
	}
	if req.Header.Get("apikey") != "anon-key" {
		t.Errorf("apikey header = %q", req.Header.Get("apikey"))
	}
	if req.Body["email"] != "ana@example.com" {
		t.Errorf("email body = %v", req.Body["email"])
	}
	if !st.Persistent(identity.SessionStorageKey) {
		t.Error("session should be stored persistently")
	}
	if !events.has(identity.EventInitialSession) || !events.has(identity.EventSignedIn) {
		t.Errorf("events = %v", events.events)
	}
}

func TestSignInWithPassword_BackendErrorShapes(t *testing.T) {
	bodies := []map[string]any{
		{"error": "invalid_grant", "error_description": "Invalid login credentials"},
		{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"},
	}
	for _, body := range bodies {
		fb, srv := newFakeBackend(t)
		fb.on(http.MethodPost, "/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, body)
		})
		be := newFactory(t, srv, identity.VersionV2).ForRequest(identitytest.NewStorage())

		_, err := be.SignInWithPassword(context.Background(), "a@b.c", "x")
		var ie *identity.Error
		if !errors.As(err, &ie) {
			t.Fatalf("expected *identity.Error, got %v", err)
		}
		if ie.Status != http.StatusBadRequest || ie.Message != "Invalid login credentials" {
			t.Errorf("decoded %+v", ie)
		}
		if identity.IsRejected(err) {
			t.Error("400 should not count as a token rejection")
		}
	}
}

func TestGetSession_Empty(t *testing.T) {
	_, srv := newFakeBackend(t)
	be := newFactory(t, srv, identity.VersionV2).ForRequest(identitytest.NewStorage())
	s, err := be.GetSession(context.Background())
	if err != nil || s != nil {
		t.Fatalf("GetSession = %v, %v; want nil, nil", s, err)
	}
}

func TestGetSession_ReturnsStoredSession(t *testing.T) {
	fb, srv := newFakeBackend(t)
	st := identitytest.NewStorage()
	storeSession(t, st, identity.Session{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	s, err := be.GetSession(context.Background())
	if err != nil || s == nil || s.AccessToken != "acc" {
		t.Fatalf("GetSession = %+v, %v", s, err)
	}
	if fb.last() != nil {
		t.Error("unexpired session should not hit the backend")
	}
}

func TestGetSession_RefreshesExpired(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenResponse("acc-2", "ref-2"))
	})
	st := identitytest.NewStorage()
	storeSession(t, st, identity.Session{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresAt: time.Now().Add(-time.Minute).Unix()})
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	var events eventLog
	defer be.OnAuthStateChange(events.listen)()

	s, err := be.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s == nil || s.AccessToken != "acc-2" {
		t.Fatalf("expected refreshed session, got %+v", s)
	}
	req := fb.last()
	if req.Query.Get("grant_type") != "refresh_token" || req.Body["refresh_token"] != "ref-1" {
		t.Errorf("unexpected refresh request %+v", req)
	}
	if !events.has(identity.EventTokenRefreshed) {
		t.Error("TOKEN_REFRESHED not emitted")
	}
}

func TestGetSession_NoRefreshAfterFlush(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenResponse("acc-2", "ref-2"))
	})
	st := identitytest.NewStorage()
	storeSession(t, st, identity.Session{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresAt: time.Now().Add(-time.Minute).Unix()})
	st.Flush()
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	s, err := be.GetSession(context.Background())
	if err != nil || s != nil {
		t.Fatalf("GetSession = %+v, %v; want nil, nil", s, err)
	}
	if fb.last() != nil {
		t.Error("refresh token spent after storage was flushed")
	}
	if _, ok := st.Get(identity.SessionStorageKey); !ok {
		t.Error("stored session dropped")
	}
}

func TestGetSession_RejectedRefreshForgetsSession(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid Refresh Token"})
	})
	st := identitytest.NewStorage()
	storeSession(t, st, identity.Session{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresAt: 1})
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	s, err := be.GetSession(context.Background())
	if err != nil || s != nil {
		t.Fatalf("GetSession = %v, %v; want nil, nil", s, err)
	}
	if _, ok := st.Get(identity.SessionStorageKey); ok {
		t.Error("rejected session still stored")
	}
}

func TestGetSession_TransientRefreshErrorSurfaces(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"msg": "down"})
	})
	st := identitytest.NewStorage()
	storeSession(t, st, identity.Session{AccessToken: "acc-1", RefreshToken: "ref-1", ExpiresAt: 1})
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	if _, err := be.GetSession(context.Background()); err == nil {
		t.Fatal("expected transient error")
	}
	if _, ok := st.Get(identity.SessionStorageKey); !ok {
		t.Error("transient failure should keep the stored session")
	}
}

func TestGetUser_SendsBearer(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodGet, "/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "u-9", "email": "x@y.z"})
	})
	be := newFactory(t, srv, identity.VersionV2).ForRequest(identitytest.NewStorage())

	u, err := be.GetUser(context.Background(), "tok-123")
	if err != nil || u.ID != "u-9" {
		t.Fatalf("GetUser = %+v, %v", u, err)
	}

	_, err = be.GetUser(context.Background(), "bad")
	if !identity.IsRejected(err) {
		t.Errorf("expected rejection, got %v", err)
	}
}

func TestSignOut_GlobalClearsLocalEvenOnFailure(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": "boom"})
	})
	st := identitytest.NewStorage()
	storeSession(t, st, identity.Session{AccessToken: "acc", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	var events eventLog
	defer be.OnAuthStateChange(events.listen)()

	err := be.SignOut(context.Background(), identity.ScopeGlobal)
	if err == nil {
		t.Error("expected server error to be returned")
	}
	if fb.last().Query.Get("scope") != "global" {
		t.Errorf("scope = %q", fb.last().Query.Get("scope"))
	}
	if _, ok := st.Get(identity.SessionStorageKey); ok {
		t.Error("session should be removed locally")
	}
	if !events.has(identity.EventSignedOut) {
		t.Error("SIGNED_OUT not emitted")
	}
}

func TestSignOut_RejectedTokenIsNotAnError(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "expired"})
	})
	st := identitytest.NewStorage()
	storeSession(t, st, identity.Session{AccessToken: "acc"})
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	if err := be.SignOut(context.Background(), identity.ScopeGlobal); err != nil {
		t.Errorf("SignOut = %v, want nil", err)
	}
}

func TestLegacy_UnsupportedCapabilities(t *testing.T) {
	_, srv := newFakeBackend(t)
	st := identitytest.NewStorage()
	storeSession(t, st, identity.Session{AccessToken: "acc"})
	be := newFactory(t, srv, identity.VersionLegacy).ForRequest(st)
	ctx := context.Background()

	if _, err := be.GetUser(ctx, "acc"); !errors.Is(err, identity.ErrUnsupported) {
		t.Errorf("GetUser = %v", err)
	}
	if _, err := be.SignInWithOAuth(ctx, "google", identity.OAuthOptions{}); !errors.Is(err, identity.ErrUnsupported) {
		t.Errorf("SignInWithOAuth = %v", err)
	}
	if err := be.SignOut(ctx, identity.ScopeGlobal); !errors.Is(err, identity.ErrUnsupported) {
		t.Errorf("global SignOut = %v", err)
	}
	if _, ok := st.Get(identity.SessionStorageKey); !ok {
		t.Error("unsupported sign-out must not touch storage")
	}
	if err := be.SignOut(ctx, identity.ScopeLocal); err != nil {
		t.Errorf("local SignOut = %v", err)
	}
	if _, ok := st.Get(identity.SessionStorageKey); ok {
		t.Error("local sign-out should remove the session")
	}
	if _, _, err := be.ExchangeFromURL(ctx, url.Values{"code": {"abc"}}); !errors.Is(err, identity.ErrUnsupported) {
		t.Errorf("code exchange = %v", err)
	}
}

func TestSignInWithOAuth_BuildsPKCEAuthorizeURL(t *testing.T) {
	_, srv := newFakeBackend(t)
	st := identitytest.NewStorage()
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	raw, err := be.SignInWithOAuth(context.Background(), "google", identity.OAuthOptions{
		RedirectTo:  "https://auth.flowodonto.com.br/?returnTo=x",
		QueryParams: map[string]string{"prompt": "select_account"},
	})
	if err != nil {
		t.Fatalf("SignInWithOAuth: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if u.Path != "/auth/v1/authorize" {
		t.Errorf("path = %q", u.Path)
	}
	if q.Get("provider") != "google" || q.Get("prompt") != "select_account" {
		t.Errorf("query = %v", q)
	}
	if q.Get("redirect_to") != "https://auth.flowodonto.com.br/?returnTo=x" {
		t.Errorf("redirect_to = %q", q.Get("redirect_to"))
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "s256" {
		t.Errorf("missing PKCE params: %v", q)
	}
	if _, ok := st.Get(identity.VerifierStorageKey); !ok {
		t.Error("verifier not stored")
	}
	if st.Persistent(identity.VerifierStorageKey) {
		t.Error("verifier should be session-scoped")
	}
}

func TestExchangeFromURL_Code(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenResponse("acc-x", "ref-x"))
	})
	st := identitytest.NewStorage()
	_ = st.Set(identity.VerifierStorageKey, "verifier-abc", false)
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	ev, s, err := be.ExchangeFromURL(context.Background(), url.Values{"code": {"c0de"}})
	if err != nil {
		t.Fatalf("ExchangeFromURL: %v", err)
	}
	if ev != identity.EventSignedIn || s.AccessToken != "acc-x" {
		t.Errorf("got %q %+v", ev, s)
	}
	req := fb.last()
	if req.Query.Get("grant_type") != "pkce" || req.Body["auth_code"] != "c0de" || req.Body["code_verifier"] != "verifier-abc" {
		t.Errorf("unexpected exchange request %+v", req)
	}
	if _, ok := st.Get(identity.VerifierStorageKey); ok {
		t.Error("verifier should be consumed")
	}
}

func TestExchangeFromURL_RecoveryCode(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenResponse("acc-r", "ref-r"))
	})
	fb.on(http.MethodPost, "/auth/v1/recover", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	st := identitytest.NewStorage()
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)
	ctx := context.Background()

	if err := be.ResetPasswordForEmail(ctx, "ana@example.com", "https://auth.flowodonto.com.br/nova-senha"); err != nil {
		t.Fatalf("ResetPasswordForEmail: %v", err)
	}
	rec := fb.last()
	if rec.Query.Get("redirect_to") != "https://auth.flowodonto.com.br/nova-senha" || rec.Body["code_challenge"] == nil {
		t.Errorf("unexpected recover request %+v", rec)
	}

	var events eventLog
	defer be.OnAuthStateChange(events.listen)()

	ev, _, err := be.ExchangeFromURL(ctx, url.Values{"code": {"r3c"}})
	if err != nil {
		t.Fatalf("ExchangeFromURL: %v", err)
	}
	if ev != identity.EventPasswordRecovery || !events.has(identity.EventPasswordRecovery) {
		t.Errorf("event = %q", ev)
	}
	if v, _ := fb.last().Body["code_verifier"].(string); strings.Contains(v, "/") {
		t.Errorf("recovery marker leaked into verifier: %q", v)
	}
}

func TestExchangeFromURL_MissingVerifier(t *testing.T) {
	_, srv := newFakeBackend(t)
	be := newFactory(t, srv, identity.VersionV2).ForRequest(identitytest.NewStorage())
	if _, _, err := be.ExchangeFromURL(context.Background(), url.Values{"code": {"c"}}); err == nil {
		t.Fatal("expected error without a stored verifier")
	}
}

func TestExchangeFromURL_TokenHashRecovery(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/verify", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenResponse("acc-v", "ref-v"))
	})
	be := newFactory(t, srv, identity.VersionLegacy).ForRequest(identitytest.NewStorage())

	ev, s, err := be.ExchangeFromURL(context.Background(), url.Values{"token_hash": {"h"}, "type": {"recovery"}})
	if err != nil {
		t.Fatalf("ExchangeFromURL: %v", err)
	}
	if ev != identity.EventPasswordRecovery || s.AccessToken != "acc-v" {
		t.Errorf("got %q %+v", ev, s)
	}
	if fb.last().Body["token_hash"] != "h" || fb.last().Body["type"] != "recovery" {
		t.Errorf("verify body = %v", fb.last().Body)
	}
}

func TestExchangeFromURL_ErrorInQuery(t *testing.T) {
	_, srv := newFakeBackend(t)
	be := newFactory(t, srv, identity.VersionV2).ForRequest(identitytest.NewStorage())
	_, _, err := be.ExchangeFromURL(context.Background(), url.Values{
		"error":             {"access_denied"},
		"error_description": {"Email link is invalid or has expired"},
	})
	if err == nil || err.Error() != "Email link is invalid or has expired" {
		t.Fatalf("err = %v", err)
	}
}

func TestSignUp_WithoutSession(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "new-1", "email": "ana@example.com"})
	})
	st := identitytest.NewStorage()
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	s, u, err := be.SignUp(context.Background(), "ana@example.com", "segredo1", identity.SignUpOptions{
		Metadata:        map[string]any{"full_name": "Ana Souza"},
		EmailRedirectTo: "https://auth.flowodonto.com.br/?returnTo=y",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if s != nil {
		t.Errorf("expected no session, got %+v", s)
	}
	if u == nil || u.ID != "new-1" {
		t.Errorf("user = %+v", u)
	}
	req := fb.last()
	if req.Query.Get("redirect_to") != "https://auth.flowodonto.com.br/?returnTo=y" {
		t.Errorf("redirect_to = %q", req.Query.Get("redirect_to"))
	}
	data, _ := req.Body["data"].(map[string]any)
	if data["full_name"] != "Ana Souza" {
		t.Errorf("metadata = %v", req.Body["data"])
	}
	if _, ok := st.Get(identity.SessionStorageKey); ok {
		t.Error("no session should be stored")
	}
}

func TestSignUp_WithSession(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPost, "/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenResponse("acc-s", "ref-s"))
	})
	st := identitytest.NewStorage()
	be := newFactory(t, srv, identity.VersionLegacy).ForRequest(st)

	s, u, err := be.SignUp(context.Background(), "ana@example.com", "segredo1", identity.SignUpOptions{})
	if err != nil || s == nil || s.AccessToken != "acc-s" {
		t.Fatalf("SignUp = %+v, %v", s, err)
	}
	if u == nil || u.ID != "u-1" {
		t.Errorf("user = %+v", u)
	}
	if fb.last().Body["code_challenge"] != nil {
		t.Error("legacy sign-up should not send PKCE params")
	}
}

func TestUpdateUser(t *testing.T) {
	fb, srv := newFakeBackend(t)
	fb.on(http.MethodPut, "/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "u-1"})
	})
	st := identitytest.NewStorage()
	be := newFactory(t, srv, identity.VersionV2).ForRequest(st)

	if _, err := be.UpdateUser(context.Background(), identity.UserAttributes{Password: "novasenha"}); !errors.Is(err, identity.ErrNoSession) {
		t.Errorf("without session: %v", err)
	}

	storeSession(t, st, identity.Session{AccessToken: "acc", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	if _, err := be.UpdateUser(context.Background(), identity.UserAttributes{Password: "novasenha"}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	req := fb.last()
	if req.Header.Get("Authorization") != "Bearer acc" || req.Body["password"] != "novasenha" {
		t.Errorf("unexpected update request %+v", req)
	}
}

type panicStorage struct{}

func (panicStorage) Get(string) (string, bool)      { panic("storage exploded") }
func (panicStorage) Set(string, string, bool) error { panic("storage exploded") }
func (panicStorage) Delete(string) error            { panic("storage exploded") }

func TestPanicsBecomeErrors(t *testing.T) {
	_, srv := newFakeBackend(t)
	be := newFactory(t, srv, identity.VersionV2).ForRequest(panicStorage{})
	if _, err := be.GetSession(context.Background()); err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestPing(t *testing.T) {
	_, srv := newFakeBackend(t)
	f := newFactory(t, srv, identity.VersionV2)
	if err := f.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSessionDefaults(t *testing.T) {
	s := identity.Session{AccessToken: "a"}.WithDefaults()
	if s.TokenType != "bearer" || s.ExpiresIn != 3600 {
		t.Errorf("defaults = %+v", s)
	}
	var nilSession *identity.Session
	if nilSession.Valid() {
		t.Error("nil session should be invalid")
	}
	if !(&identity.Session{ExpiresAt: 1}).Expired(time.Now()) {
		t.Error("expected expired")
	}
}

func TestLookupProvider(t *testing.T) {
	p, ok := identity.LookupProvider("google")
	if !ok || p.Params["prompt"] != "select_account" {
		t.Errorf("google = %+v, %v", p, ok)
	}
	if _, ok := identity.LookupProvider("github"); ok {
		t.Error("github should not be enabled")
	}
}
