// internal/app/features/errors/errors.go
package errors

import (
	"net/http"

	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/viewdata"
	"go.uber.org/zap"
)

// pageData is the basic view model for error pages.
type pageData struct {
	SiteName string
	Tagline  string
	Footer   string
	Title    string
	Mode     string
	PageID   string
	Message  string
	BackURL  string
}

// Handler renders error pages. No identity calls; it just renders
// templates.
type Handler struct {
	Render viewdata.RenderFunc
	Log    *zap.Logger
}

// NewHandler constructs an errors Handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{Render: viewdata.Render, Log: logger}
}

// NotFound renders the 404 page with a link back to login.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.Log.Debug("not found", zap.String("path", r.URL.Path))
	w.WriteHeader(http.StatusNotFound)
	h.Render(w, r, "error_notfound", pageData{
		SiteName: viewdata.SiteName,
		Tagline:  viewdata.Tagline,
		Footer:   viewdata.Footer,
		Title:    "Página não encontrada",
		Mode:     "error",
		Message:  "A página que você procura não existe.",
		BackURL:  flow.PathLogin,
	})
}

// MethodNotAllowed answers unsupported methods on hub paths.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
