// internal/app/features/signup/handler.go
package signup

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/htmlsanitize"
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

// FormData is the sign-up page view model. Passwords are never echoed.
type FormData struct {
	viewdata.BaseVM
	FullName string
	Email    string
	Phone    string
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, p *hubpage.Page, data FormData, errMsg string) {
	data.BaseVM = viewdata.NewBaseVM(p, "Criar conta")
	data.Error = errMsg
	h.Render(w, r, "hub_signup", data)
}

// ServeSignup handles GET /cadastro.
func (h *Handler) ServeSignup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	p := h.Deps.Open(w, r)
	p.Run(ctx)
	if p.Finish() {
		return
	}
	h.render(w, r, p, FormData{}, "")
}

// HandleSignupPost creates the account. When the backend issues a session
// right away it is handed off; otherwise the visitor is sent to confirm
// their email.
func (h *Handler) HandleSignupPost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	p := h.Deps.Open(w, r)
	if err := r.ParseForm(); err != nil {
		h.Log.Warn("parse form failed", zap.Error(err))
		p.Finish()
		h.render(w, r, p, FormData{}, flow.MsgFillAllFields)
		return
	}

	in := flow.SignupInput{
		FullName:        htmlsanitize.PlainText(r.PostFormValue("full_name")),
		Email:           strings.TrimSpace(r.PostFormValue("email")),
		Phone:           strings.TrimSpace(r.PostFormValue("phone")),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	data := FormData{FullName: in.FullName, Email: in.Email, Phone: in.Phone}

	if err := in.Validate(); err != nil {
		p.Metrics().Submitted(p.Mode.String(), metrics.ResultOf(err))
		p.Finish()
		h.render(w, r, p, data, flow.BackendMessage(err))
		return
	}

	meta := map[string]any{"full_name": in.FullName}
	if phone, _ := flow.CleanPhone(in.Phone); phone != "" {
		meta["phone"] = phone
	}

	s, _, err := p.Backend.SignUp(ctx, in.Email, in.Password, identity.SignUpOptions{
		Metadata:        meta,
		EmailRedirectTo: p.CallbackURL(),
	})
	if err != nil {
		result := metrics.ResultOf(err)
		if result == metrics.ResultError {
			p.Log.Error("sign-up failed", zap.Error(err))
		}
		p.Metrics().Submitted(p.Mode.String(), result)
		p.Audit().SignupFailed(ctx, r, p.AuditPage(), in.Email, err.Error())
		p.Finish()
		h.render(w, r, p, data, flow.BackendMessage(err))
		return
	}

	p.Metrics().Submitted(p.Mode.String(), metrics.ResultOK)
	p.Audit().Signup(ctx, r, p.AuditPage(), in.Email, s)

	if s.Valid() {
		p.Deliver(s)
		if p.Finish() {
			return
		}
		h.render(w, r, p, data, "")
		return
	}

	p.Finish()
	q := url.Values{
		"email":        {in.Email},
		returnto.Param: {returnto.StripAuthFragment(p.Target).String()},
	}
	http.Redirect(w, r, flow.PathCheckEmail+"?"+q.Encode(), http.StatusSeeOther)
}
