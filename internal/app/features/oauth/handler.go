// internal/app/features/oauth/handler.go
package oauth

import (
	"context"
	"net/http"

	"github.com/dalemusser/authhub/internal/app/features/login"
	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler starts third-party sign-in. The provider returns the browser to
// the hub root, where the login page completes the exchange.
type Handler struct {
	Deps  *hubpage.Deps
	Login *login.Handler
	Log   *zap.Logger
}

func NewHandler(deps *hubpage.Deps, loginHandler *login.Handler, logger *zap.Logger) *Handler {
	return &Handler{
		Deps:  deps,
		Login: loginHandler,
		Log:   logger,
	}
}

// ServeStart handles GET /auth/{provider}.
func (h *Handler) ServeStart(w http.ResponseWriter, r *http.Request) {
	prov, ok := identity.LookupProvider(chi.URLParam(r, "provider"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	p := h.Deps.Open(w, r)
	authURL, err := p.Backend.SignInWithOAuth(ctx, prov.Name, identity.OAuthOptions{
		RedirectTo:  p.CallbackURL(),
		QueryParams: prov.Params,
	})
	if err != nil {
		p.Log.Warn("oauth start failed", zap.String("provider", prov.Name), zap.Error(err))
		p.Finish()
		h.Login.RenderForm(w, r, p, "", flow.BackendMessage(err))
		return
	}

	p.Audit().OAuthStarted(ctx, r, p.AuditPage(), prov.Name)
	p.Finish()
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}
