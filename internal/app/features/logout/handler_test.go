package logout_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dalemusser/authhub/internal/app/features/logout"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/identity/identitytest"
	"github.com/dalemusser/authhub/internal/testutil"
	"go.uber.org/zap"
)

func TestServeLogout_RedirectsToCleanTarget(t *testing.T) {
	deps, f := testutil.NewHubDeps(t)
	f.B.Session = identitytest.NewSession("tok", "ref")
	h := logout.NewHandler(deps, zap.NewNop())

	target := "https://app.flowodonto.com.br/inicio?logout=true#access_token=old"
	req := httptest.NewRequest(http.MethodGet, "/logout?returnTo="+url.QueryEscape(target), nil)
	req.AddCookie(&http.Cookie{Name: "sb-auth-token", Value: "x"})
	rec := httptest.NewRecorder()

	h.ServeLogout(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if got := rec.Header().Get("Location"); got != "https://app.flowodonto.com.br/inicio" {
		t.Errorf("Location = %q", got)
	}
	if got := f.B.SignOutScopes; len(got) != 1 || got[0] != identity.ScopeGlobal {
		t.Errorf("sign-out scopes = %v", got)
	}

	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sb-auth-token" {
			found = true
			if c.MaxAge >= 0 {
				t.Errorf("cookie MaxAge = %d, want < 0", c.MaxAge)
			}
		}
	}
	if !found {
		t.Error("expected auth cookie to be expired")
	}
}

func TestServeLogout_NoTargetUsesFallback(t *testing.T) {
	deps, _ := testutil.NewHubDeps(t)
	h := logout.NewHandler(deps, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeLogout(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))

	if got := rec.Header().Get("Location"); got != testutil.FallbackURL {
		t.Errorf("Location = %q, want %q", got, testutil.FallbackURL)
	}
}

func TestServeLogout_GlobalUnsupportedFallsBackToLocal(t *testing.T) {
	deps, f := testutil.NewHubDeps(t)
	f.B.SignOutErr = map[identity.Scope]error{identity.ScopeGlobal: identity.ErrUnsupported}
	h := logout.NewHandler(deps, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeLogout(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))

	if got := f.B.SignOutScopes; len(got) != 2 || got[1] != identity.ScopeLocal {
		t.Errorf("sign-out scopes = %v", got)
	}
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestServeLogout_SignOutFailureStillRedirects(t *testing.T) {
	deps, f := testutil.NewHubDeps(t)
	f.B.SignOutErr = map[identity.Scope]error{identity.ScopeGlobal: errors.New("network down")}
	h := logout.NewHandler(deps, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeLogout(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
}
