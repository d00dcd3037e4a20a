// internal/app/features/checkemail/routes.go
package checkemail

import "github.com/go-chi/chi/v5"

func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeCheckEmail)
	return r
}
