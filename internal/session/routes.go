package session

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the session routes with the Chi router. The
// caller mounts these inside the authenticated group; the session-creation
// route is the one the authorization engine treats as bootstrap-eligible.
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/users/{userID}/sessions", func(r chi.Router) {
		r.Post("/", handler.Create)
		r.Get("/", handler.List)
		r.Delete("/{sessionID}", handler.Terminate)
		r.Post("/{sessionID}/heartbeat", handler.Heartbeat)
	})
	r.Post("/logout", handler.Logout)
}
