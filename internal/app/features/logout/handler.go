// internal/app/features/logout/handler.go
package logout

import (
	"context"
	"net/http"

	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"github.com/dalemusser/authhub/internal/app/system/viewdata"
	"go.uber.org/zap"
)

type Handler struct {
	Deps   *hubpage.Deps
	Render viewdata.RenderFunc
	Log    *zap.Logger
}

func NewHandler(deps *hubpage.Deps, logger *zap.Logger) *Handler {
	return &Handler{
		Deps:   deps,
		Render: viewdata.Render,
		Log:    logger,
	}
}

// ServeLogout handles GET /logout.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	Complete(ctx, w, r, h.Deps.Open(w, r), h.Render)
}

// Complete signs the visitor out and sends them to the return target with
// its fragment and logout flag removed. Pages opened in logout mode from
// other hub paths finish here too.
func Complete(ctx context.Context, w http.ResponseWriter, r *http.Request, p *hubpage.Page, render viewdata.RenderFunc) {
	p.Run(ctx)
	if p.Finish() {
		return
	}
	// Navigation is always recorded in logout mode; this only shows if
	// the page was closed first.
	render(w, r, "hub_redirecting", viewdata.NewBaseVM(p, "Redirecionando..."))
}
