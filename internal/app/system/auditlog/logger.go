// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"

	"github.com/dalemusser/authhub/internal/app/store/audit"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/ratelimit"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Destinations for audit events.
const (
	ModeAll = "all" // MongoDB + zap
	ModeDB  = "db"  // MongoDB only
	ModeLog = "log" // zap only
	ModeOff = "off"
)

// Sink persists audit events. *audit.Store implements it.
type Sink interface {
	Log(ctx context.Context, event audit.Event) error
}

// Page identifies the hub page an event happened on.
type Page struct {
	ID         string
	Mode       string
	TargetHost string
}

// Logger records hub audit events to MongoDB and/or zap.
// A nil *Logger is a no-op.
type Logger struct {
	sink   Sink
	zapLog *zap.Logger
	mode   string
}

// New creates a Logger. With a nil sink, "all" and "db" only reach zap.
func New(sink Sink, zapLog *zap.Logger, mode string) *Logger {
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	switch mode {
	case ModeAll, ModeDB, ModeLog, ModeOff:
	default:
		mode = ModeAll
	}
	return &Logger{sink: sink, zapLog: zapLog, mode: mode}
}

// Subject returns the unverified "sub" claim of an access token, or "" if
// the token is not a JWT. Signatures are the identity backend's concern.
func Subject(accessToken string) string {
	if accessToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

func sessionSubject(s *identity.Session) string {
	if s == nil {
		return ""
	}
	if s.User != nil && s.User.ID != "" {
		return s.User.ID
	}
	return Subject(s.AccessToken)
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}
	if event.Subject != "" {
		fields = append(fields, zap.String("subject", event.Subject))
	}
	if event.PageID != "" {
		fields = append(fields, zap.String("page_id", event.PageID))
	}
	if event.Mode != "" {
		fields = append(fields, zap.String("mode", event.Mode))
	}
	if event.TargetHost != "" {
		fields = append(fields, zap.String("target_host", event.TargetHost))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records event according to the configured mode.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil || l.mode == ModeOff {
		return
	}
	if l.mode == ModeAll || l.mode == ModeLog {
		l.logToZap(event)
	}
	if (l.mode == ModeAll || l.mode == ModeDB) && l.sink != nil {
		if err := l.sink.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func newEvent(r *http.Request, p Page, eventType string, success bool) audit.Event {
	return audit.Event{
		EventType:  eventType,
		PageID:     p.ID,
		Mode:       p.Mode,
		TargetHost: p.TargetHost,
		IP:         ratelimit.ClientIP(r),
		UserAgent:  r.UserAgent(),
		Success:    success,
	}
}

// --- Sign-in ---

// LoginSuccess logs a password sign-in that produced a session.
func (l *Logger) LoginSuccess(ctx context.Context, r *http.Request, p Page, email string, s *identity.Session) {
	e := newEvent(r, p, audit.EventLoginSuccess, true)
	e.Email = email
	e.Subject = sessionSubject(s)
	e.Details = map[string]string{"method": "password"}
	l.Log(ctx, e)
}

// LoginFailed logs a rejected sign-in attempt.
func (l *Logger) LoginFailed(ctx context.Context, r *http.Request, p Page, email, reason string) {
	e := newEvent(r, p, audit.EventLoginFailed, false)
	e.Email = email
	e.FailureReason = reason
	l.Log(ctx, e)
}

// RateLimited logs a throttled form submission.
func (l *Logger) RateLimited(ctx context.Context, r *http.Request, p Page) {
	e := newEvent(r, p, audit.EventLoginRateLimited, false)
	e.FailureReason = "rate limit exceeded"
	e.Details = map[string]string{"path": r.URL.Path}
	l.Log(ctx, e)
}

// OAuthStarted logs the redirect to an OAuth provider.
func (l *Logger) OAuthStarted(ctx context.Context, r *http.Request, p Page, provider string) {
	e := newEvent(r, p, audit.EventOAuthStarted, true)
	e.Details = map[string]string{"provider": provider}
	l.Log(ctx, e)
}

// CodeExchanged logs a successful OAuth or recovery link exchange.
func (l *Logger) CodeExchanged(ctx context.Context, r *http.Request, p Page, ev identity.Event, s *identity.Session) {
	e := newEvent(r, p, audit.EventCodeExchanged, true)
	e.Subject = sessionSubject(s)
	e.Details = map[string]string{"auth_event": string(ev)}
	l.Log(ctx, e)
}

// ExchangeFailed logs a link or OAuth return that could not be exchanged.
func (l *Logger) ExchangeFailed(ctx context.Context, r *http.Request, p Page, reason string) {
	e := newEvent(r, p, audit.EventExchangeFailed, false)
	e.FailureReason = reason
	l.Log(ctx, e)
}

// --- Sign-up and recovery ---

// Signup logs an account creation. s is nil when email confirmation is
// pending.
func (l *Logger) Signup(ctx context.Context, r *http.Request, p Page, email string, s *identity.Session) {
	e := newEvent(r, p, audit.EventSignup, true)
	e.Email = email
	e.Subject = sessionSubject(s)
	confirmed := "false"
	if s.Valid() {
		confirmed = "true"
	}
	e.Details = map[string]string{"session_issued": confirmed}
	l.Log(ctx, e)
}

// SignupFailed logs a rejected sign-up.
func (l *Logger) SignupFailed(ctx context.Context, r *http.Request, p Page, email, reason string) {
	e := newEvent(r, p, audit.EventSignupFailed, false)
	e.Email = email
	e.FailureReason = reason
	l.Log(ctx, e)
}

// RecoverySent logs a password recovery request.
func (l *Logger) RecoverySent(ctx context.Context, r *http.Request, p Page, email string) {
	e := newEvent(r, p, audit.EventRecoverySent, true)
	e.Email = email
	l.Log(ctx, e)
}

// PasswordChanged logs a password update from the recovery flow.
func (l *Logger) PasswordChanged(ctx context.Context, r *http.Request, p Page, u *identity.User) {
	e := newEvent(r, p, audit.EventPasswordChanged, true)
	if u != nil {
		e.Subject = u.ID
		e.Email = u.Email
	}
	l.Log(ctx, e)
}

// --- Hand-off and logout ---

// HandOff logs a hand-off decision. loop is true when the return target
// was the hub page itself and no navigation happened.
func (l *Logger) HandOff(ctx context.Context, r *http.Request, p Page, s *identity.Session, loop bool) {
	typ := audit.EventHandOff
	if loop {
		typ = audit.EventHandOffLoop
	}
	e := newEvent(r, p, typ, !loop)
	e.Subject = sessionSubject(s)
	l.Log(ctx, e)
}

// Logout logs a completed logout.
func (l *Logger) Logout(ctx context.Context, r *http.Request, p Page) {
	l.Log(ctx, newEvent(r, p, audit.EventLogout, true))
}
