// internal/app/features/newpassword/handler.go
package newpassword

import (
	"context"
	"net/http"

	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/metrics"
	"github.com/dalemusser/authhub/internal/app/system/timeouts"
	"github.com/dalemusser/authhub/internal/app/system/viewdata"
	"go.uber.org/zap"
)

// MsgPasswordChanged confirms a password update.
const MsgPasswordChanged = "Senha alterada com sucesso. Entre com a nova senha."

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

// FormData is the set-new-password page view model. Done replaces the form
// with a link back to login.
type FormData struct {
	viewdata.BaseVM
	Done bool
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, p *hubpage.Page, data FormData) {
	base := viewdata.NewBaseVM(p, "Nova senha")
	base.Error, base.Notice = data.Error, data.Notice
	data.BaseVM = base
	h.Render(w, r, "hub_newpassword", data)
}

// ServeNewPassword handles GET /nova-senha. A recovery link lands here
// directly or through the hub root; either way the transitional session is
// kept and never handed off.
func (h *Handler) ServeNewPassword(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	p := h.Deps.Open(w, r)
	p.Attach(ctx)
	errMsg := p.Exchange(ctx)
	p.Run(ctx)
	if p.Finish() {
		return
	}
	h.render(w, r, p, FormData{BaseVM: viewdata.BaseVM{Error: errMsg}})
}

// HandleNewPasswordPost sets the new password on the recovery session.
func (h *Handler) HandleNewPasswordPost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	p := h.Deps.Open(w, r)
	data := h.update(ctx, r, p)
	p.Finish()
	h.render(w, r, p, data)
}

func (h *Handler) update(ctx context.Context, r *http.Request, p *hubpage.Page) FormData {
	var data FormData
	in := flow.NewPasswordInput{
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	if err := in.Validate(); err != nil {
		p.Metrics().Submitted(p.Mode.String(), metrics.ResultOf(err))
		data.Error = flow.BackendMessage(err)
		return data
	}

	u, err := p.Backend.UpdateUser(ctx, identity.UserAttributes{Password: in.Password})
	if err != nil {
		result := metrics.ResultOf(err)
		if result == metrics.ResultError {
			p.Log.Error("password update failed", zap.Error(err))
		}
		p.Metrics().Submitted(p.Mode.String(), result)
		data.Error = flow.BackendMessage(err)
		return data
	}

	p.Metrics().Submitted(p.Mode.String(), metrics.ResultOK)
	p.Audit().PasswordChanged(ctx, r, p.AuditPage(), u)
	data.Done = true
	data.Notice = MsgPasswordChanged
	return data
}
