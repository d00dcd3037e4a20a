package boot_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/authhub/internal/app/system/boot"
	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/handoff"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/identity/identitytest"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
)

var policy = returnto.Policy{RootDomain: "flowodonto.com.br", Fallback: "https://flowodonto.com.br/"}

type fixture struct {
	be  *identitytest.Backend
	st  *identitytest.Storage
	rec *handoff.Recorder
	obs *observer
	pg  *boot.Page
}

type observer struct {
	mu       sync.Mutex
	probes   []boot.ProbeOutcome
	handoffs []handoff.Result
	logouts  int
}

func (o *observer) Probed(out boot.ProbeOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probes = append(o.probes, out)
}

func (o *observer) HandedOff(r handoff.Result, _ *identity.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handoffs = append(o.handoffs, r)
}

func (o *observer) LoggedOut() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logouts++
}

func newFixture(t *testing.T, mode flow.Mode, rawTarget, currentURL string) *fixture {
	t.Helper()
	cur, err := url.Parse(currentURL)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		be:  identitytest.New(),
		st:  identitytest.NewStorage(),
		rec: &handoff.Recorder{},
		obs: &observer{},
	}
	f.pg = boot.New(boot.Config{
		Mode:         mode,
		Target:       policy.Normalize(rawTarget),
		Current:      cur,
		Backend:      f.be,
		Transport:    handoff.New(f.rec),
		Storage:      f.st,
		ProbeTimeout: 200 * time.Millisecond,
		Observer:     f.obs,
	})
	t.Cleanup(f.pg.Close)
	return f
}

const (
	hubRoot   = "https://auth.flowodonto.com.br/"
	dashboard = "https://app.flowodonto.com.br/dashboard"
)

func TestInitialState(t *testing.T) {
	if s := newFixture(t, flow.Login, dashboard, hubRoot).pg.State(); s != boot.Booting {
		t.Errorf("login initial state = %v", s)
	}
	if s := newFixture(t, flow.Logout, dashboard, hubRoot).pg.State(); s != boot.Redirecting {
		t.Errorf("logout initial state = %v", s)
	}
}

func TestRun_NoSessionIsReady(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	if got := f.pg.Run(context.Background()); got != boot.Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if f.rec.Count() != 0 {
		t.Error("navigated without a session")
	}
	if len(f.obs.probes) != 1 || f.obs.probes[0] != boot.ProbeNone {
		t.Errorf("probes = %v", f.obs.probes)
	}
}

func TestRun_ValidSessionHandsOff(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	f.be.Session = identitytest.NewSession("acc", "ref")

	if got := f.pg.Run(context.Background()); got != boot.Redirecting {
		t.Fatalf("state = %v, want redirecting", got)
	}
	loc, _ := f.rec.Location()
	want := dashboard + "#access_token=acc&refresh_token=ref&token_type=bearer&expires_in=3600"
	if loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
	if f.be.Calls("GetUser") != 1 {
		t.Error("session should be re-validated before hand-off")
	}
}

func TestRun_AntiLoopSettlesReady(t *testing.T) {
	f := newFixture(t, flow.Login, "https://auth.flowodonto.com.br/", "https://auth.flowodonto.com.br/?returnTo=x")
	f.be.Session = identitytest.NewSession("acc", "ref")

	if got := f.pg.Run(context.Background()); got != boot.Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if f.rec.Count() != 0 {
		t.Error("hand-off to the current page must not navigate")
	}
	if len(f.obs.handoffs) != 1 || f.obs.handoffs[0] != handoff.Loop {
		t.Errorf("handoffs = %v", f.obs.handoffs)
	}
}

func TestRun_UnsupportedValidationDoesNotRedirect(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	f.be.Session = identitytest.NewSession("acc", "ref")
	f.be.UserErr = identity.ErrUnsupported

	if got := f.pg.Run(context.Background()); got != boot.Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if f.rec.Count() != 0 {
		t.Error("must not redirect when validation is unsupported")
	}
	if f.be.Calls("SignOut") != 0 {
		t.Error("unsupported validation must not sign out")
	}
}

func TestRun_RejectedSessionSignsOutLocally(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	f.be.Session = identitytest.NewSession("acc", "ref")
	f.be.UserErr = &identity.Error{Status: 401, Message: "invalid JWT"}
	_ = f.st.Set("auth-token", "x", true)

	if got := f.pg.Run(context.Background()); got != boot.Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if len(f.be.SignOutScopes) != 1 || f.be.SignOutScopes[0] != identity.ScopeLocal {
		t.Errorf("sign-out scopes = %v", f.be.SignOutScopes)
	}
	if f.st.Cleared != 1 || len(f.st.Keys()) != 0 {
		t.Error("storage should be cleared")
	}
	if f.rec.Count() != 0 {
		t.Error("must not hand off a rejected session")
	}
}

func TestRun_TransientValidationErrorKeepsSession(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	f.be.Session = identitytest.NewSession("acc", "ref")
	f.be.UserErr = errors.New("connection reset")

	if got := f.pg.Run(context.Background()); got != boot.Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if f.be.Calls("SignOut") != 0 || f.st.Cleared != 0 {
		t.Error("transient failure should not sign out")
	}
}

func TestRun_ProbeErrorIsNoSession(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	f.be.SessionErr = errors.New("backend down")

	if got := f.pg.Run(context.Background()); got != boot.Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if f.obs.probes[0] != boot.ProbeError {
		t.Errorf("probe outcome = %v", f.obs.probes[0])
	}
}

func TestRun_ProbeTimeoutRendersForm(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	f.be.Session = identitytest.NewSession("acc", "ref")
	f.be.Block = make(chan struct{})
	defer close(f.be.Block)

	start := time.Now()
	if got := f.pg.Run(context.Background()); got != boot.Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("probe did not honor its timeout")
	}
	if f.obs.probes[0] != boot.ProbeTimeout {
		t.Errorf("probe outcome = %v", f.obs.probes[0])
	}
	if f.rec.Count() != 0 {
		t.Error("timed-out probe must not hand off")
	}
}

func TestRun_SetNewPasswordNeverRedirects(t *testing.T) {
	f := newFixture(t, flow.SetNewPassword, dashboard, "https://auth.flowodonto.com.br/nova-senha")
	f.be.Session = identitytest.NewSession("recovery", "ref")

	if got := f.pg.Run(context.Background()); got != boot.Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if f.be.Calls("GetUser") != 0 {
		t.Error("set-new-password should skip validation")
	}

	f.be.Emit(identity.EventSignedIn, identitytest.NewSession("new", "ref"))
	f.be.Emit(identity.EventTokenRefreshed, identitytest.NewSession("new2", "ref"))
	f.be.Emit(identity.EventPasswordRecovery, identitytest.NewSession("new3", "ref"))
	if f.rec.Count() != 0 {
		t.Errorf("navigations = %d, want 0", f.rec.Count())
	}
	if f.pg.Deliver(identitytest.NewSession("x", "y")) != handoff.Skipped {
		t.Error("Deliver on set-new-password should skip")
	}
}

func TestAtMostOnce_ProbeAndEvent(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	s := identitytest.NewSession("acc", "ref")
	f.be.Session = s
	f.be.Block = make(chan struct{})
	ctx := context.Background()

	f.pg.Attach(ctx)

	done := make(chan boot.State, 1)
	go func() { done <- f.pg.Run(ctx) }()

	// The notification wins the race; the probe resolves afterwards with
	// the same valid session.
	f.be.Emit(identity.EventSignedIn, s)
	close(f.be.Block)

	if got := <-done; got != boot.Redirecting {
		t.Fatalf("state = %v, want redirecting", got)
	}
	f.be.Emit(identity.EventSignedIn, s)
	if n := f.rec.Count(); n != 1 {
		t.Fatalf("navigations = %d, want exactly 1", n)
	}
}

func TestPasswordRecoveryEventNavigatesToNewPassword(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	ctx := context.Background()
	if got := f.pg.Run(ctx); got != boot.Ready {
		t.Fatalf("state = %v", got)
	}

	f.be.Emit(identity.EventPasswordRecovery, identitytest.NewSession("rec", "ref"))

	loc, ok := f.rec.Location()
	if !ok {
		t.Fatal("no navigation")
	}
	u, _ := url.Parse(loc)
	if u.Path != "/nova-senha" {
		t.Errorf("path = %q, want /nova-senha", u.Path)
	}
	if u.Query().Get("returnTo") != dashboard {
		t.Errorf("returnTo = %q", u.Query().Get("returnTo"))
	}
	if f.pg.State() != boot.Redirecting {
		t.Errorf("state = %v", f.pg.State())
	}
}

func TestSignedInEventLaterHandsOff(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	ctx := context.Background()
	f.pg.Run(ctx)

	f.be.Emit(identity.EventSignedIn, identitytest.NewSession("late", "ref"))
	if f.rec.Count() != 1 || f.pg.State() != boot.Redirecting {
		t.Fatalf("navigations = %d state = %v", f.rec.Count(), f.pg.State())
	}
}

func TestCloseStopsCallbacks(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	f.pg.Run(context.Background())
	f.pg.Close()

	if f.be.Listeners() != 0 {
		t.Errorf("listeners after Close = %d", f.be.Listeners())
	}
	f.be.Emit(identity.EventSignedIn, identitytest.NewSession("late", "ref"))
	if f.rec.Count() != 0 {
		t.Error("closed page navigated")
	}
	if f.pg.Deliver(identitytest.NewSession("x", "y")) != handoff.Skipped {
		t.Error("closed page accepted a delivery")
	}
}

func TestAttachIsIdempotent(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	ctx := context.Background()
	f.pg.Attach(ctx)
	f.pg.Attach(ctx)
	f.pg.Run(ctx)
	if n := f.be.Calls("OnAuthStateChange"); n != 1 {
		t.Errorf("subscriptions = %d, want 1", n)
	}
}

func TestDeliverHandsOffWithoutValidation(t *testing.T) {
	f := newFixture(t, flow.Login, dashboard, hubRoot)
	f.be.UserErr = identity.ErrUnsupported

	if got := f.pg.Deliver(identitytest.NewSession("fresh", "ref")); got != handoff.Navigated {
		t.Fatalf("Deliver = %v", got)
	}
	if f.be.Calls("GetUser") != 0 {
		t.Error("Deliver should not re-validate")
	}
}

func TestLogout_GlobalThenNavigate(t *testing.T) {
	f := newFixture(t, flow.Logout, "https://app.flowodonto.com.br/home?logout=1#access_token=old", "https://auth.flowodonto.com.br/logout")
	_ = f.st.Set("auth-token", "x", true)

	if got := f.pg.Run(context.Background()); got != boot.Redirecting {
		t.Fatalf("state = %v", got)
	}
	if len(f.be.SignOutScopes) != 1 || f.be.SignOutScopes[0] != identity.ScopeGlobal {
		t.Errorf("scopes = %v", f.be.SignOutScopes)
	}
	if f.st.Cleared != 1 {
		t.Error("storage not cleared")
	}
	loc, _ := f.rec.Location()
	if loc != "https://app.flowodonto.com.br/home" {
		t.Errorf("Location = %q", loc)
	}
	if f.obs.logouts != 1 {
		t.Errorf("logouts = %d", f.obs.logouts)
	}
	if f.be.Calls("GetSession") != 0 {
		t.Error("logout must not probe for a session")
	}
}

func TestLogout_FallsBackToLocal(t *testing.T) {
	f := newFixture(t, flow.Logout, dashboard, "https://auth.flowodonto.com.br/logout")
	f.be.SignOutErr = map[identity.Scope]error{identity.ScopeGlobal: identity.ErrUnsupported}

	f.pg.Run(context.Background())
	if len(f.be.SignOutScopes) != 2 || f.be.SignOutScopes[1] != identity.ScopeLocal {
		t.Errorf("scopes = %v", f.be.SignOutScopes)
	}
	if f.rec.Count() != 1 {
		t.Error("logout must still navigate")
	}
}

func TestLogout_UntrustedTargetUsesFallback(t *testing.T) {
	f := newFixture(t, flow.Logout, "https://evil.example.com/", "https://auth.flowodonto.com.br/logout")
	f.pg.Run(context.Background())
	loc, _ := f.rec.Location()
	if loc != "https://flowodonto.com.br/" {
		t.Errorf("Location = %q", loc)
	}
}
