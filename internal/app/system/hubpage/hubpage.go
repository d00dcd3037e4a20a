// Package hubpage binds one HTTP request to the hub's page model: the
// resolved flow mode and return target, client-held storage, the
// per-request identity backend and the boot state machine.
package hubpage

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/dalemusser/authhub/internal/app/system/auditlog"
	"github.com/dalemusser/authhub/internal/app/system/authstore"
	"github.com/dalemusser/authhub/internal/app/system/boot"
	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/handoff"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/metrics"
	"github.com/dalemusser/authhub/internal/app/system/navigation"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BackendFactory hands out identity backends bound to request storage.
// *identity.Factory implements it.
type BackendFactory interface {
	ForRequest(store identity.Storage) identity.Backend
}

// Deps are the shared dependencies every hub page needs.
type Deps struct {
	Policy       returnto.Policy
	Identity     BackendFactory
	Store        *authstore.Store
	PublicOrigin string
	ProbeTimeout time.Duration
	Audit        *auditlog.Logger
	Metrics      *metrics.Recorder
	Log          *zap.Logger
}

// Page is one request's view of the hub.
type Page struct {
	ID      string
	Mode    flow.Mode
	Target  returnto.Target
	Current *url.URL
	Origin  string

	Backend   identity.Backend
	Storage   *authstore.RequestStore
	Nav       *handoff.Recorder
	Transport *handoff.Transport
	Boot      *boot.Page
	Log       *zap.Logger

	deps *Deps
	w    http.ResponseWriter
	r    *http.Request
}

// Open resolves the page for r. Call Finish before writing the response.
func (d *Deps) Open(w http.ResponseWriter, r *http.Request) *Page {
	logger := d.Log
	if logger == nil {
		logger = zap.NewNop()
	}
	q := r.URL.Query()
	mode := flow.Resolve(r.URL.Path, q, d.Policy)
	target := d.Policy.Normalize(q.Get(returnto.Param))
	id := uuid.NewString()

	p := &Page{
		ID:      id,
		Mode:    mode,
		Target:  target,
		Current: navigation.CurrentURL(r, d.PublicOrigin),
		Origin:  navigation.Origin(r, d.PublicOrigin),
		Storage: d.Store.ForRequest(w, r),
		Nav:     &handoff.Recorder{},
		Log: logger.With(
			zap.String("page_id", id),
			zap.String("mode", mode.String()),
			zap.String("target_host", target.Host()),
		),
		deps: d,
		w:    w,
		r:    r,
	}
	p.Backend = d.Identity.ForRequest(p.Storage)
	p.Transport = handoff.New(p.Nav)
	p.Boot = boot.New(boot.Config{
		Mode:         mode,
		Target:       target,
		Current:      p.Current,
		Backend:      p.Backend,
		Transport:    p.Transport,
		Storage:      p.Storage,
		ProbeTimeout: d.ProbeTimeout,
		Log:          p.Log,
		Observer:     observer{p: p},
	})
	return p
}

// RateLimited records a throttled form submission on the hub page r
// targeted.
func (d *Deps) RateLimited(r *http.Request) {
	q := r.URL.Query()
	mode := flow.Resolve(r.URL.Path, q, d.Policy)
	d.Metrics.Submitted(mode.String(), metrics.ResultLimited)
	d.Audit.RateLimited(context.WithoutCancel(r.Context()), r, auditlog.Page{
		Mode:       mode.String(),
		TargetHost: d.Policy.Normalize(q.Get(returnto.Param)).Host(),
	})
}

// Run executes the boot sequence.
func (p *Page) Run(ctx context.Context) boot.State { return p.Boot.Run(ctx) }

// Attach subscribes to auth events without probing.
func (p *Page) Attach(ctx context.Context) { p.Boot.Attach(ctx) }

// Deliver hands off a freshly issued session.
func (p *Page) Deliver(s *identity.Session) handoff.Result { return p.Boot.Deliver(s) }

// State returns the boot state.
func (p *Page) State() boot.State { return p.Boot.State() }

// Navigated reports whether the page has requested a navigation.
func (p *Page) Navigated() bool { return p.Transport.Done() }

// Finish closes the page and writes pending cookies. If the page navigated
// it answers with a 303 to the recorded destination and returns true; the
// caller must not write anything else.
func (p *Page) Finish() bool {
	p.Boot.Close()
	p.Storage.Flush()
	loc, ok := p.Nav.Location()
	if !ok {
		return false
	}
	http.Redirect(p.w, p.r, loc, http.StatusSeeOther)
	return true
}

// Exchange completes an OAuth, confirmation or recovery return carried in
// the request query and reports the message to show if it failed. Attach
// first so the resulting auth event reaches the page.
func (p *Page) Exchange(ctx context.Context) string {
	q := p.r.URL.Query()
	if !identity.URLHasExchange(q) && q.Get("error") == "" && q.Get("error_description") == "" {
		return ""
	}
	ev, s, err := p.Backend.ExchangeFromURL(ctx, q)
	if err != nil {
		p.Log.Warn("auth return could not be completed", zap.Error(err))
		p.deps.Audit.ExchangeFailed(ctx, p.r, p.AuditPage(), err.Error())
		return flow.BackendMessage(err)
	}
	if s.Valid() {
		p.deps.Audit.CodeExchanged(ctx, p.r, p.AuditPage(), ev, s)
	}
	return ""
}

// Link returns a hub link for mode that keeps the return target.
func (p *Page) Link(m flow.Mode) string { return flow.LinkTo(m, p.Target) }

// CallbackURL is where the identity backend returns the browser after
// provider or email-link authentication.
func (p *Page) CallbackURL() string { return returnto.CallbackURL(p.Origin, p.Target) }

// Audit returns the audit logger, which may be nil.
func (p *Page) Audit() *auditlog.Logger { return p.deps.Audit }

// Metrics returns the metrics recorder, which may be nil.
func (p *Page) Metrics() *metrics.Recorder { return p.deps.Metrics }

// AuditPage describes the page for audit events.
func (p *Page) AuditPage() auditlog.Page {
	return auditlog.Page{ID: p.ID, Mode: p.Mode.String(), TargetHost: p.Target.Host()}
}


// observer forwards boot milestones to metrics and the audit log.
type observer struct{ p *Page }

func (o observer) Probed(outcome boot.ProbeOutcome) {
	o.p.deps.Metrics.Probed(outcome)
}

func (o observer) HandedOff(result handoff.Result, s *identity.Session) {
	o.p.deps.Metrics.HandedOff(result, s)
	o.p.deps.Audit.HandOff(context.WithoutCancel(o.p.r.Context()), o.p.r, o.p.AuditPage(), s, result == handoff.Loop)
}

func (o observer) LoggedOut() {
	o.p.deps.Metrics.LoggedOut()
	o.p.deps.Audit.Logout(context.WithoutCancel(o.p.r.Context()), o.p.r, o.p.AuditPage())
}
