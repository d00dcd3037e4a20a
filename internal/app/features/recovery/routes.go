// internal/app/features/recovery/routes.go
package recovery

import "github.com/go-chi/chi/v5"

func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeRecover)
	r.Post("/", h.HandleRecoverPost)
	return r
}
