package billing

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the billing endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/clients", func(r chi.Router) {
		r.Post("/", h.CreateClient)
		r.Get("/", h.ListClients)
		r.Get("/{clientID}", h.GetClient)
		r.Put("/{clientID}", h.UpdateClient)
		r.Delete("/{clientID}", h.DeleteClient)
	})

	r.Route("/projects", func(r chi.Router) {
		r.Post("/", h.CreateProject)
		r.Get("/", h.ListProjects)
		r.Get("/{projectID}", h.GetProject)
		r.Put("/{projectID}", h.UpdateProject)
		r.Delete("/{projectID}", h.DeleteProject)
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.CreateInvoice)
		r.Get("/", h.ListInvoices)
		r.Get("/{invoiceID}", h.GetInvoice)
		r.Delete("/{invoiceID}", h.DeleteInvoice)
	})
}
