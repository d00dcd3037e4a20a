// internal/app/features/recovery/handler.go
package recovery

import (
	"context"
	"net/http"
	"strings"

	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/metrics"
	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"github.com/dalemusser/authhub/internal/app/system/viewdata"
	"go.uber.org/zap"
)

// MsgRecoverySent confirms a recovery request.
const MsgRecoverySent = "Enviamos um link de recuperação para o seu e-mail."

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

// FormData is the recovery page view model. Sent hides the form once the
// link has gone out.
type FormData struct {
	viewdata.BaseVM
	Email string
	Sent  bool
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, p *hubpage.Page, data FormData) {
	base := viewdata.NewBaseVM(p, "Recuperar senha")
	base.Error, base.Notice = data.Error, data.Notice
	data.BaseVM = base
	h.Render(w, r, "hub_recover", data)
}

// ServeRecover handles GET /recuperar-senha.
func (h *Handler) ServeRecover(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	p := h.Deps.Open(w, r)
	p.Run(ctx)
	if p.Finish() {
		return
	}
	h.render(w, r, p, FormData{})
}

// HandleRecoverPost asks the backend to email a recovery link that returns
// to the hub root with the same return target.
func (h *Handler) HandleRecoverPost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	p := h.Deps.Open(w, r)
	data := h.requestLink(ctx, r, p)
	p.Finish()
	h.render(w, r, p, data)
}

func (h *Handler) requestLink(ctx context.Context, r *http.Request, p *hubpage.Page) FormData {
	data := FormData{Email: strings.TrimSpace(r.PostFormValue("email"))}
	in := flow.RecoverInput{Email: data.Email}
	if err := in.Validate(); err != nil {
		p.Metrics().Submitted(p.Mode.String(), metrics.ResultOf(err))
		data.Error = flow.BackendMessage(err)
		return data
	}

	if err := p.Backend.ResetPasswordForEmail(ctx, in.Email, p.CallbackURL()); err != nil {
		result := metrics.ResultOf(err)
		if result == metrics.ResultError {
			p.Log.Error("recovery request failed", zap.Error(err))
		}
		p.Metrics().Submitted(p.Mode.String(), result)
		data.Error = flow.BackendMessage(err)
		return data
	}

	p.Metrics().Submitted(p.Mode.String(), metrics.ResultOK)
	p.Audit().RecoverySent(ctx, r, p.AuditPage(), in.Email)
	data.Sent = true
	data.Notice = MsgRecoverySent
	return data
}
