// internal/app/system/viewdata/viewdata.go
package viewdata

import (
	"net/http"

	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/hubpage"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
	"github.com/dalemusser/waffle/pantry/templates"
)

// Site copy shared by every page.
const (
	SiteName = "OdontoFlow"
	Tagline  = "Gestão de Próteses Odontológicas"
	Footer   = "© 2024 OdontoFlow. Todos os direitos reservados."
)

// RenderFunc renders a named template. Handlers hold one so tests can
// substitute a recorder.
type RenderFunc func(w http.ResponseWriter, r *http.Request, name string, data any)

// Render renders through the WAFFLE template engine.
func Render(w http.ResponseWriter, r *http.Request, name string, data any) {
	templates.Render(w, r, name, data)
}

// BaseVM contains common fields for all hub pages.
// Embed this struct in your feature-specific view models.
//
//	type myPageData struct {
//	    viewdata.BaseVM
//	    // page-specific fields...
//	}
type BaseVM struct {
	SiteName string
	Tagline  string
	Footer   string

	Title  string
	Mode   string
	PageID string
	// State is the boot state: "booting", "redirecting" or "ready".
	State string

	// Return target
	ReturnTo    string
	TargetLabel string

	// Links that keep the return target
	Action     string
	LoginURL   string
	SignupURL  string
	RecoverURL string

	Error  string
	Notice string
}

// NewBaseVM fills a BaseVM from p. Action posts back to the page's own
// flow mode.
func NewBaseVM(p *hubpage.Page, title string) BaseVM {
	return BaseVM{
		SiteName:    SiteName,
		Tagline:     Tagline,
		Footer:      Footer,
		Title:       title,
		Mode:        p.Mode.String(),
		PageID:      p.ID,
		State:       p.State().String(),
		ReturnTo:    returnto.StripAuthFragment(p.Target).String(),
		TargetLabel: returnto.Label(p.Target),
		Action:      p.Link(p.Mode),
		LoginURL:    p.Link(flow.Login),
		SignupURL:   p.Link(flow.Signup),
		RecoverURL:  p.Link(flow.RecoverPassword),
	}
}
