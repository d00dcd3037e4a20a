// internal/app/features/checkemail/handler.go
package checkemail

import (
	"context"
	"net/http"
	"strings"

	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"github.com/dalemusser/authhub/internal/app/system/viewdata"
	"github.com/dalemusser/waffle/pantry/query"
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

// PageData is the check-email page view model.
type PageData struct {
	viewdata.BaseVM
	Email string
}

// ServeCheckEmail handles GET /check-email, shown after a sign-up that
// needs email confirmation.
func (h *Handler) ServeCheckEmail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	p := h.Deps.Open(w, r)
	p.Run(ctx)
	if p.Finish() {
		return
	}
	h.Render(w, r, "hub_checkemail", PageData{
		BaseVM: viewdata.NewBaseVM(p, "Verifique seu e-mail"),
		Email:  strings.TrimSpace(query.Get(r, "email")),
	})
}
