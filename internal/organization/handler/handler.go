package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"concierge/internal/organization/models"
	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/platform/httputil"
	"concierge/pkg/requestcontext"
)

// Service defines the organization operations exposed over HTTP.
type Service interface {
	Provision(ctx context.Context, req *models.CreateOrganizationRequest) (*models.ProvisionResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Organization, error)
	FindOne(ctx context.Context, criteria models.FindCriteria) (*models.Organization, error)
	Update(ctx context.Context, id uuid.UUID, req *models.UpdateOrganizationRequest) (*models.Organization, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// AccountService defines the account operations exposed over HTTP.
type AccountService interface {
	CreateAccount(ctx context.Context, req *models.CreateAccountRequest) (*models.AdminAccount, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*models.AdminAccount, error)
	ListAccounts(ctx context.Context, filter models.AccountFilter) ([]*models.AdminAccount, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, req *models.UpdateAccountRequest) (*models.AdminAccount, error)
	RemoveAccount(ctx context.Context, id uuid.UUID) error
}

// Handler wires the organization admin endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an organization handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the organization endpoints. Callers apply admin
// authentication on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/organizations", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/find", h.HandleFind)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleRemove)
	})
}

// HandleCreate handles POST /admin/organizations.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[models.CreateOrganizationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Provision(ctx, req)
	if err != nil {
		h.logFailure(ctx, "organization provisioning failed", err, "tax_id", req.TaxID)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "organization created",
		"request_id", requestID,
		"organization_id", result.Organization.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusCreated, ProvisionResponse{
		Organization:         FromOrganization(result.Organization),
		AdminInitialPassword: result.TemporaryPassword,
	})
}

// HandleList handles GET /admin/organizations?is_active=&is_deleted=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	isActive, err := parseOptionalBool(q.Get("is_active"), "is_active")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	isDeleted, err := parseOptionalBool(q.Get("is_deleted"), "is_deleted")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	orgs, err := h.service.List(ctx, models.ListFilter{IsActive: isActive, IsDeleted: isDeleted})
	if err != nil {
		h.logFailure(ctx, "list organizations failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOrganizations(orgs))
}

// HandleFind handles GET /admin/organizations/find?tax_id=|name=.
func (h *Handler) HandleFind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	org, err := h.service.FindOne(ctx, models.FindCriteria{TaxID: q.Get("tax_id"), Name: q.Get("name")})
	if err != nil {
		h.logFailure(ctx, "find organization failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOrganization(org))
}

// HandleGet handles GET /admin/organizations/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(chi.URLParam(r, "id"), "organization")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	org, err := h.service.Get(ctx, id)
	if err != nil {
		h.logFailure(ctx, "get organization failed", err, "organization_id", id)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOrganization(org))
}

// HandleUpdate handles PATCH /admin/organizations/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(chi.URLParam(r, "id"), "organization")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.UpdateOrganizationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	org, err := h.service.Update(ctx, id, req)
	if err != nil {
		h.logFailure(ctx, "update organization failed", err, "organization_id", id)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromOrganization(org))
}

// HandleRemove handles DELETE /admin/organizations/{id}.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(chi.URLParam(r, "id"), "organization")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Remove(ctx, id); err != nil {
		h.logFailure(ctx, "remove organization failed", err, "organization_id", id)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	logFailure(ctx, h.logger, msg, err, attrs...)
}

// logFailure logs server-side failures at error level and caller mistakes
// at debug level.
func logFailure(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx), "error", err)
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	logger.DebugContext(ctx, msg, attrs...)
}

func parseID(raw, kind string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid "+kind+" id")
	}
	return id, nil
}

func parseOptionalBool(raw, name string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, name+" must be true or false")
	}
	return &v, nil
}
