package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"concierge/internal/organization/models"
	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/platform/httputil"
	"concierge/pkg/requestcontext"
)

// AccountHandler wires the account admin endpoints to the service.
type AccountHandler struct {
	service AccountService
	logger  *slog.Logger
}

func NewAccounts(service AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{service: service, logger: logger}
}

// Register mounts the account endpoints. Callers apply admin authentication
// on r.
func (h *AccountHandler) Register(r chi.Router) {
	r.Route("/admin/accounts", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleRemove)
	})
}

// HandleCreate handles POST /admin/accounts.
func (h *AccountHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.CreateAccountRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	acct, err := h.service.CreateAccount(ctx, req)
	if err != nil {
		logFailure(ctx, h.logger, "create account failed", err, "organization_id", req.OrganizationID)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "account created",
		"request_id", requestID,
		"account_id", acct.ID,
		"organization_id", acct.OrganizationID,
	)
	httputil.WriteJSON(w, http.StatusCreated, FromAccount(acct))
}

// HandleList handles GET /admin/accounts?organization_id=&is_active=&is_deleted=.
func (h *AccountHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var filter models.AccountFilter
	if raw := q.Get("organization_id"); raw != "" {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "organization_id must be a valid UUID"))
			return
		}
		filter.OrganizationID = &orgID
	}
	var err error
	if filter.IsActive, err = parseOptionalBool(q.Get("is_active"), "is_active"); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if filter.IsDeleted, err = parseOptionalBool(q.Get("is_deleted"), "is_deleted"); err != nil {
		httputil.WriteError(w, err)
		return
	}

	accts, err := h.service.ListAccounts(ctx, filter)
	if err != nil {
		logFailure(ctx, h.logger, "list accounts failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAccounts(accts))
}

// HandleGet handles GET /admin/accounts/{id}.
func (h *AccountHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(chi.URLParam(r, "id"), "account")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	acct, err := h.service.GetAccount(ctx, id)
	if err != nil {
		logFailure(ctx, h.logger, "get account failed", err, "account_id", id)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAccount(acct))
}

// HandleUpdate handles PATCH /admin/accounts/{id}.
func (h *AccountHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id, err := parseID(chi.URLParam(r, "id"), "account")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.UpdateAccountRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	acct, err := h.service.UpdateAccount(ctx, id, req)
	if err != nil {
		logFailure(ctx, h.logger, "update account failed", err, "account_id", id)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAccount(acct))
}

// HandleRemove handles DELETE /admin/accounts/{id}.
func (h *AccountHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseID(chi.URLParam(r, "id"), "account")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.RemoveAccount(ctx, id); err != nil {
		logFailure(ctx, h.logger, "remove account failed", err, "account_id", id)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
