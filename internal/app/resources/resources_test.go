package resources_test

import (
	"bytes"
	"html/template"
	"strings"
	"testing"

	"github.com/dalemusser/authhub/internal/app/features/checkemail"
	"github.com/dalemusser/authhub/internal/app/features/login"
	"github.com/dalemusser/authhub/internal/app/features/newpassword"
	"github.com/dalemusser/authhub/internal/app/features/recovery"
	"github.com/dalemusser/authhub/internal/app/features/signup"
	"github.com/dalemusser/authhub/internal/app/resources"
	"github.com/dalemusser/authhub/internal/app/system/viewdata"
)

func base(title string) viewdata.BaseVM {
	return viewdata.BaseVM{
		SiteName:    viewdata.SiteName,
		Tagline:     viewdata.Tagline,
		Footer:      viewdata.Footer,
		Title:       title,
		Mode:        "login",
		PageID:      "p-1",
		TargetLabel: "app.flowodonto.com.br/",
		Action:      "/?returnTo=x",
		LoginURL:    "/?returnTo=x",
		SignupURL:   "/cadastro?returnTo=x",
		RecoverURL:  "/recuperar-senha?returnTo=x",
		Error:       "Email ou senha incorretos",
	}
}

func TestTemplatesExecute(t *testing.T) {
	tmpl, err := template.ParseFS(resources.FS, "templates/*.gohtml")
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}

	tests := []struct {
		name string
		data any
		want string
	}{
		{"hub_login", login.FormData{
			BaseVM:    base("Entrar"),
			Email:     "ana@example.com",
			Providers: []login.ProviderLink{{Name: "google", Label: "Google", URL: "/auth/google?returnTo=x"}},
		}, "ou continue com"},
		{"hub_signup", signup.FormData{BaseVM: base("Criar conta"), FullName: "Ana"}, "Nome completo"},
		{"hub_checkemail", checkemail.PageData{BaseVM: base("Verifique seu e-mail"), Email: "ana@example.com"}, "ana@example.com"},
		{"hub_recover", recovery.FormData{BaseVM: base("Recuperar senha")}, "Enviar link"},
		{"hub_newpassword", newpassword.FormData{BaseVM: base("Nova senha"), Done: true}, "Ir para o login"},
		{"hub_redirecting", base("Redirecionando..."), "Redirecionando..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tmpl.ExecuteTemplate(&buf, tt.name, tt.data); err != nil {
				t.Fatalf("execute: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q", tt.want)
			}
			if !strings.Contains(out, viewdata.Footer) {
				t.Error("layout footer missing")
			}
		})
	}
}

func TestLoginTemplate_EscapesInput(t *testing.T) {
	tmpl := template.Must(template.ParseFS(resources.FS, "templates/*.gohtml"))
	var buf bytes.Buffer
	data := login.FormData{BaseVM: base("Entrar"), Email: `"><script>alert(1)</script>`}
	if err := tmpl.ExecuteTemplate(&buf, "hub_login", data); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "<script>alert(1)") {
		t.Error("email value not escaped")
	}
}
