package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/chronoflow/timetracker/internal/api"
	appctx "github.com/chronoflow/timetracker/internal/context"
	"github.com/chronoflow/timetracker/internal/repository"
)

// Handler exposes clients, projects, and invoices over HTTP. Every resource
// is scoped to its owner; foreign resources read as absent.
type Handler struct {
	clients   repository.ClientRepository
	projects  repository.ProjectRepository
	invoices  repository.InvoiceRepository
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(
	clients repository.ClientRepository,
	projects repository.ProjectRepository,
	invoices repository.InvoiceRepository,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		clients:   clients,
		projects:  projects,
		invoices:  invoices,
		validate:  validator.New(),
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger,
	}
}

// sanitizeNotes strips unsafe markup from free-text notes.
func (h *Handler) sanitizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	clean := h.sanitizer.Sanitize(*notes)
	return &clean
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "Authentication required")
		return "", false
	}
	return id, true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string][]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = append(details[fe.Field()], fe.Tag())
			}
			api.WriteErrorDetails(w, http.StatusBadRequest, api.CodeValidationError, "Validation failed", details)
			return false
		}
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "Validation failed")
		return false
	}
	return true
}

// --- Clients ---

// ClientRequest is the create/update payload for a client.
type ClientRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	ContactEmail *string `json:"contactEmail" validate:"omitempty,email"`
	Notes        *string `json:"notes" validate:"omitempty,max=4000"`
}

// CreateClient handles client creation
// POST /clients
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req ClientRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	client := &repository.Client{
		ID:           uuid.New(),
		UserID:       userID,
		Name:         req.Name,
		ContactEmail: req.ContactEmail,
		Notes:        h.sanitizeNotes(req.Notes),
	}
	if err := h.clients.Create(r.Context(), client); err != nil {
		h.logger.Error("client creation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not create client")
		return
	}

	api.WriteSuccess(w, http.StatusCreated, client)
}

// ListClients handles client listing
// GET /clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	clients, err := h.clients.ListByUser(r.Context(), userID)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not list clients")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"clients": clients,
	})
}

// getOwnedClient loads a client and hides it when it belongs to someone else.
func (h *Handler) getOwnedClient(w http.ResponseWriter, r *http.Request, userID string) (*repository.Client, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "clientID"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Client not found")
		return nil, false
	}

	client, err := h.clients.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Client not found")
			return nil, false
		}
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not load client")
		return nil, false
	}
	if client.UserID != userID {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Client not found")
		return nil, false
	}
	return client, true
}

// GetClient handles single-client retrieval
// GET /clients/{clientID}
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	client, ok := h.getOwnedClient(w, r, userID)
	if !ok {
		return
	}
	api.WriteSuccess(w, http.StatusOK, client)
}

// UpdateClient handles client updates
// PUT /clients/{clientID}
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	client, ok := h.getOwnedClient(w, r, userID)
	if !ok {
		return
	}

	var req ClientRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	client.Name = req.Name
	client.ContactEmail = req.ContactEmail
	client.Notes = h.sanitizeNotes(req.Notes)

	if err := h.clients.Update(r.Context(), client); err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not update client")
		return
	}
	api.WriteSuccess(w, http.StatusOK, client)
}

// DeleteClient handles client deletion
// DELETE /clients/{clientID}
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	client, ok := h.getOwnedClient(w, r, userID)
	if !ok {
		return
	}

	if err := h.clients.Delete(r.Context(), client.ID); err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not delete client")
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"clientId": client.ID.String(),
	})
}

// --- Projects ---

// ProjectRequest is the create/update payload for a project.
type ProjectRequest struct {
	ClientID        uuid.UUID `json:"clientId" validate:"required"`
	Name            string    `json:"name" validate:"required,max=200"`
	HourlyRateCents int64     `json:"hourlyRateCents" validate:"min=0"`
	IsArchived      bool      `json:"isArchived"`
}

// CreateProject handles project creation
// POST /projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req ProjectRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	// Projects only hang off the caller's own clients.
	owner, err := h.clients.GetByID(r.Context(), req.ClientID)
	if err != nil || owner.UserID != userID {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Client not found")
		return
	}

	project := &repository.Project{
		ID:              uuid.New(),
		UserID:          userID,
		ClientID:        req.ClientID,
		Name:            req.Name,
		HourlyRateCents: req.HourlyRateCents,
		IsArchived:      req.IsArchived,
	}
	if err := h.projects.Create(r.Context(), project); err != nil {
		h.logger.Error("project creation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not create project")
		return
	}

	api.WriteSuccess(w, http.StatusCreated, project)
}

// ListProjects handles project listing
// GET /projects
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	projects, err := h.projects.ListByUser(r.Context(), userID)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not list projects")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
	})
}

func (h *Handler) getOwnedProject(w http.ResponseWriter, r *http.Request, userID string) (*repository.Project, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Project not found")
		return nil, false
	}

	project, err := h.projects.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Project not found")
			return nil, false
		}
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not load project")
		return nil, false
	}
	if project.UserID != userID {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Project not found")
		return nil, false
	}
	return project, true
}

// GetProject handles single-project retrieval
// GET /projects/{projectID}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	project, ok := h.getOwnedProject(w, r, userID)
	if !ok {
		return
	}
	api.WriteSuccess(w, http.StatusOK, project)
}

// UpdateProject handles project updates
// PUT /projects/{projectID}
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	project, ok := h.getOwnedProject(w, r, userID)
	if !ok {
		return
	}

	var req ProjectRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	project.Name = req.Name
	project.HourlyRateCents = req.HourlyRateCents
	project.IsArchived = req.IsArchived

	if err := h.projects.Update(r.Context(), project); err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not update project")
		return
	}
	api.WriteSuccess(w, http.StatusOK, project)
}

// DeleteProject handles project deletion
// DELETE /projects/{projectID}
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	project, ok := h.getOwnedProject(w, r, userID)
	if !ok {
		return
	}

	if err := h.projects.Delete(r.Context(), project.ID); err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not delete project")
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"projectId": project.ID.String(),
	})
}

// --- Invoices ---

// InvoiceRequest is the invoice-creation payload.
type InvoiceRequest struct {
	ClientID    uuid.UUID  `json:"clientId" validate:"required"`
	ProjectID   *uuid.UUID `json:"projectId"`
	Number      string     `json:"number" validate:"required,max=50"`
	AmountCents int64      `json:"amountCents" validate:"min=0"`
	Currency    string     `json:"currency" validate:"required,iso4217"`
	Notes       *string    `json:"notes" validate:"omitempty,max=4000"`
	DueAt       *time.Time `json:"dueAt"`
}

// CreateInvoice handles invoice creation
// POST /invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req InvoiceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	owner, err := h.clients.GetByID(r.Context(), req.ClientID)
	if err != nil || owner.UserID != userID {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Client not found")
		return
	}

	invoice := &repository.Invoice{
		ID:          uuid.New(),
		UserID:      userID,
		ClientID:    req.ClientID,
		ProjectID:   req.ProjectID,
		Number:      req.Number,
		Status:      "draft",
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Notes:       h.sanitizeNotes(req.Notes),
		IssuedAt:    time.Now().UTC(),
		DueAt:       req.DueAt,
	}
	if err := h.invoices.Create(r.Context(), invoice); err != nil {
		h.logger.Error("invoice creation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not create invoice")
		return
	}

	api.WriteSuccess(w, http.StatusCreated, invoice)
}

// ListInvoices handles paginated invoice listing
// GET /invoices?page=&limit=&clientId=&status=
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	params := repository.ListInvoiceParams{
		Status: r.URL.Query().Get("status"),
	}
	if v := r.URL.Query().Get("page"); v != "" {
		params.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		params.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("clientId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "Invalid clientId filter")
			return
		}
		params.ClientID = &id
	}

	invoices, total, err := h.invoices.List(r.Context(), userID, params)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not list invoices")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"invoices": invoices,
		"total":    total,
	})
}

// GetInvoice handles single-invoice retrieval
// GET /invoices/{invoiceID}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Invoice not found")
		return
	}

	invoice, err := h.invoices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Invoice not found")
			return
		}
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not load invoice")
		return
	}
	if invoice.UserID != userID {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Invoice not found")
		return
	}

	api.WriteSuccess(w, http.StatusOK, invoice)
}

// DeleteInvoice handles invoice deletion
// DELETE /invoices/{invoiceID}
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Invoice not found")
		return
	}

	invoice, err := h.invoices.GetByID(r.Context(), id)
	if err != nil || invoice.UserID != userID {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Invoice not found")
		return
	}

	if err := h.invoices.Delete(r.Context(), id); err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.CodeStoreUnavailable, "Could not delete invoice")
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"invoiceId": id.String(),
	})
}
