// Package boot runs the hub page's start-up sequence: logout handling, the
// bounded session probe, server-side re-validation and the auth event
// subscription that may hand the session off later in the request.
package boot

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/handoff"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
	"go.uber.org/zap"
)

// DefaultProbeTimeout bounds the initial session lookup.
const DefaultProbeTimeout = 4 * time.Second

// State is the page's lifecycle state.
type State int

const (
	Booting State = iota
	Redirecting
	Ready
)

func (s State) String() string {
	switch s {
	case Redirecting:
		return "redirecting"
	case Ready:
		return "ready"
	}
	return "booting"
}

// ProbeOutcome classifies the initial session lookup.
type ProbeOutcome string

const (
	ProbeSession ProbeOutcome = "session"
	ProbeNone    ProbeOutcome = "none"
	ProbeTimeout ProbeOutcome = "timeout"
	ProbeError   ProbeOutcome = "error"
)

// Clearer removes every piece of client-held auth storage.
type Clearer interface {
	Clear() error
}

// Observer is told about boot milestones. Implementations must be safe for
// concurrent use.
type Observer interface {
	Probed(outcome ProbeOutcome)
	HandedOff(result handoff.Result, s *identity.Session)
	LoggedOut()
}

type nopObserver struct{}

func (nopObserver) Probed(ProbeOutcome)                        {}
func (nopObserver) HandedOff(handoff.Result, *identity.Session) {}
func (nopObserver) LoggedOut()                                  {}

// Config wires a Page.
type Config struct {
	Mode         flow.Mode
	Target       returnto.Target
	Current      *url.URL
	Backend      identity.Backend
	Transport    *handoff.Transport
	Storage      Clearer
	ProbeTimeout time.Duration
	Log          *zap.Logger
	Observer     Observer
}

// Page is one request's boot state machine.
type Page struct {
	cfg Config

	mu          sync.Mutex
	state       State
	ctx         context.Context
	subscribed  bool
	unmounted   bool
	unsubscribe func()
}

// New returns a page in its initial state: Redirecting for logout,
// Booting otherwise.
func New(cfg Config) *Page {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	st := Booting
	if cfg.Mode == flow.Logout {
		st = Redirecting
	}
	return &Page{cfg: cfg, state: st}
}

// State returns the current state.
func (p *Page) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Page) isUnmounted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unmounted
}

// settle moves to s. Redirecting is terminal and an unmounted page no
// longer changes.
func (p *Page) settle(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unmounted || p.state == Redirecting {
		return
	}
	p.state = s
}

// Run executes the boot sequence and returns the resulting state.
func (p *Page) Run(ctx context.Context) State {
	if p.cfg.Mode == flow.Logout {
		p.logout(ctx)
		return p.State()
	}

	p.Attach(ctx)
	if p.cfg.Transport.Done() {
		return p.State()
	}

	s, outcome := p.probe(ctx)
	p.cfg.Observer.Probed(outcome)
	if p.isUnmounted() {
		return p.State()
	}

	switch {
	case s == nil:
		p.settle(Ready)
	case p.cfg.Mode == flow.SetNewPassword:
		// The recovery link's transitional session stays put so the
		// new-password form can render.
		p.settle(Ready)
	default:
		p.validateAndHandOff(ctx, s)
	}
	return p.State()
}

// Attach subscribes the page to auth events without probing. Calling it
// more than once has no further effect.
func (p *Page) Attach(ctx context.Context) {
	p.mu.Lock()
	if p.subscribed || p.unmounted {
		p.mu.Unlock()
		return
	}
	p.subscribed = true
	p.ctx = ctx
	p.mu.Unlock()

	unsub := p.cfg.Backend.OnAuthStateChange(p.onEvent)

	p.mu.Lock()
	if p.unmounted {
		p.mu.Unlock()
		unsub()
		return
	}
	p.unsubscribe = unsub
	p.mu.Unlock()
}

// Deliver hands off a session the backend has just issued. It is not
// re-validated. The set-new-password page never hands off.
func (p *Page) Deliver(s *identity.Session) handoff.Result {
	if p.isUnmounted() || p.cfg.Mode == flow.SetNewPassword {
		return handoff.Skipped
	}
	return p.handOff(s)
}

// Close unsubscribes from auth events and freezes the page state.
func (p *Page) Close() {
	p.mu.Lock()
	p.unmounted = true
	unsub := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

/*──── steps ────*/

func (p *Page) logout(ctx context.Context) {
	log := p.cfg.Log
	err := p.cfg.Backend.SignOut(ctx, identity.ScopeGlobal)
	if errors.Is(err, identity.ErrUnsupported) {
		err = p.cfg.Backend.SignOut(ctx, identity.ScopeLocal)
	}
	if err != nil {
		log.Warn("sign-out failed; clearing local state anyway", zap.Error(err))
	}
	if p.cfg.Storage != nil {
		if err := p.cfg.Storage.Clear(); err != nil {
			log.Warn("failed to clear auth storage", zap.Error(err))
		}
	}

	dest := returnto.StripLogout(returnto.StripFragment(p.cfg.Target))
	p.cfg.Transport.Navigate(dest.String())
	p.cfg.Observer.LoggedOut()
}

type probeResult struct {
	s   *identity.Session
	err error
}

// probe looks up the stored session, giving up after the probe timeout.
// A late result is dropped; the buffered channel lets the lookup finish.
func (p *Page) probe(ctx context.Context) (*identity.Session, ProbeOutcome) {
	ch := make(chan probeResult, 1)
	go func() {
		s, err := p.cfg.Backend.GetSession(ctx)
		ch <- probeResult{s: s, err: err}
	}()

	timer := time.NewTimer(p.cfg.ProbeTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			p.cfg.Log.Warn("session probe failed; treating as signed out", zap.Error(r.err))
			return nil, ProbeError
		}
		if !r.s.Valid() {
			return nil, ProbeNone
		}
		return r.s, ProbeSession
	case <-timer.C:
		p.cfg.Log.Warn("session probe timed out; treating as signed out",
			zap.Duration("timeout", p.cfg.ProbeTimeout))
		return nil, ProbeTimeout
	case <-ctx.Done():
		return nil, ProbeError
	}
}

// validateAndHandOff confirms s with the backend before handing it off.
func (p *Page) validateAndHandOff(ctx context.Context, s *identity.Session) {
	log := p.cfg.Log
	u, err := p.cfg.Backend.GetUser(ctx, s.AccessToken)
	switch {
	case errors.Is(err, identity.ErrUnsupported):
		log.Debug("session check unsupported; not redirecting")
		p.settle(Ready)
		return
	case err == nil && u == nil, identity.IsRejected(err), errors.Is(err, identity.ErrNoSession):
		log.Info("stored session rejected; signing out locally", zap.Error(err))
		if err := p.cfg.Backend.SignOut(ctx, identity.ScopeLocal); err != nil {
			log.Warn("local sign-out failed", zap.Error(err))
		}
		if p.cfg.Storage != nil {
			if err := p.cfg.Storage.Clear(); err != nil {
				log.Warn("failed to clear auth storage", zap.Error(err))
			}
		}
		p.settle(Ready)
		return
	case err != nil:
		log.Warn("session check failed; not redirecting", zap.Error(err))
		p.settle(Ready)
		return
	}

	if p.isUnmounted() {
		return
	}
	p.handOff(s)
}

func (p *Page) handOff(s *identity.Session) handoff.Result {
	r := p.cfg.Transport.HandOff(s, p.cfg.Target, p.cfg.Current)
	switch r {
	case handoff.Navigated:
		p.settle(Redirecting)
	case handoff.Loop:
		p.cfg.Log.Debug("return target is this page; not redirecting")
		p.settle(Ready)
	}
	if r != handoff.Skipped {
		p.cfg.Observer.HandedOff(r, s)
	}
	return r
}

/*──── events ────*/

func (p *Page) onEvent(ev identity.Event, s *identity.Session) {
	if p.isUnmounted() {
		return
	}
	onNewPassword := p.cfg.Mode == flow.SetNewPassword

	switch ev {
	case identity.EventPasswordRecovery:
		if onNewPassword {
			return
		}
		if p.cfg.Transport.Navigate(flow.LinkTo(flow.SetNewPassword, p.cfg.Target)) {
			p.settle(Redirecting)
		}
	case identity.EventSignedIn:
		if onNewPassword || !s.Valid() {
			return
		}
		p.mu.Lock()
		ctx := p.ctx
		p.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		p.validateAndHandOff(ctx, s)
	}
}
