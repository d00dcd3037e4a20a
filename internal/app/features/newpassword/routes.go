// internal/app/features/newpassword/routes.go
package newpassword

import "github.com/go-chi/chi/v5"

func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeNewPassword)
	r.Post("/", h.HandleNewPasswordPost)
	return r
}
