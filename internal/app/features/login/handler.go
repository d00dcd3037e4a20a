// internal/app/features/login/handler.go
package login

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/dalemusser/authhub/internal/app/features/logout"
	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/metrics"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
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

/*─────────────────────────────────────────────────────────────────────────────*
| Template-data                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

// ProviderLink is an OAuth sign-in button.
type ProviderLink struct {
	Name  string
	Label string
	URL   string
}

// FormData is the login page view model.
type FormData struct {
	viewdata.BaseVM
	Email     string
	Providers []ProviderLink
}

// RenderForm renders the login form for p. Call p.Finish first.
func (h *Handler) RenderForm(w http.ResponseWriter, r *http.Request, p *hubpage.Page, email, errMsg string) {
	data := FormData{
		BaseVM: viewdata.NewBaseVM(p, "Entrar"),
		Email:  email,
	}
	data.Error = errMsg
	data.Action = p.Link(flow.Login)
	for _, prov := range identity.Providers {
		data.Providers = append(data.Providers, ProviderLink{
			Name:  prov.Name,
			Label: prov.Label,
			URL:   "/auth/" + prov.Name + "?" + returnto.Param + "=" + url.QueryEscape(data.ReturnTo),
		})
	}
	h.Render(w, r, "hub_login", data)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeLogin boots the hub page. A visitor who already holds a valid
// session is handed off; OAuth and email-link returns are completed first.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	p := h.Deps.Open(w, r)
	if p.Mode == flow.Logout {
		logout.Complete(ctx, w, r, p, h.Render)
		return
	}

	p.Attach(ctx)
	errMsg := p.Exchange(ctx)
	p.Run(ctx)
	if p.Finish() {
		return
	}
	h.RenderForm(w, r, p, "", errMsg)
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// HandleLoginPost signs in with email and password and hands the new
// session off without re-validating it.
func (h *Handler) HandleLoginPost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	p := h.Deps.Open(w, r)
	if err := r.ParseForm(); err != nil {
		h.Log.Warn("parse form failed", zap.Error(err))
		p.Finish()
		h.RenderForm(w, r, p, "", flow.MsgFillAllFields)
		return
	}

	in := flow.LoginInput{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	if err := in.Validate(); err != nil {
		p.Metrics().Submitted(p.Mode.String(), metrics.ResultOf(err))
		p.Finish()
		h.RenderForm(w, r, p, in.Email, flow.BackendMessage(err))
		return
	}

	s, err := p.Backend.SignInWithPassword(ctx, in.Email, in.Password)
	if err != nil {
		result := metrics.ResultOf(err)
		if result == metrics.ResultError {
			p.Log.Error("sign-in failed", zap.Error(err))
		}
		p.Metrics().Submitted(p.Mode.String(), result)
		p.Audit().LoginFailed(ctx, r, p.AuditPage(), in.Email, err.Error())
		p.Finish()
		h.RenderForm(w, r, p, in.Email, flow.BackendMessage(err))
		return
	}

	p.Metrics().Submitted(p.Mode.String(), metrics.ResultOK)
	p.Audit().LoginSuccess(ctx, r, p.AuditPage(), in.Email, s)
	p.Deliver(s)
	if p.Finish() {
		return
	}
	h.RenderForm(w, r, p, in.Email, "")
}
