// Package handler exposes operator endpoints for inspecting and replaying
// notification jobs that exhausted their attempts.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"concierge/internal/notification/models"
	dErrors "concierge/pkg/domain-errors"
	"concierge/pkg/platform/httputil"
	"concierge/pkg/platform/sentinel"
	"concierge/pkg/requestcontext"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Queue is the read and replay side of the job queue.
type Queue interface {
	Failed(ctx context.Context, limit int) ([]*models.Job, error)
	Retry(ctx context.Context, jobID uuid.UUID) error
	Counts(ctx context.Context) (models.Counts, error)
}

type Handler struct {
	queue  Queue
	logger *slog.Logger
}

func New(queue Queue, logger *slog.Logger) *Handler {
	return &Handler{queue: queue, logger: logger}
}

// FailedJobsResponse lists retained jobs. Payload context is redacted since
// it can hold credentials.
type FailedJobsResponse struct {
	Jobs   []models.Job  `json:"jobs"`
	Counts models.Counts `json:"counts"`
}

// Register mounts the notification endpoints. Callers apply admin
// authentication on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/notifications", func(r chi.Router) {
		r.Get("/stats", h.HandleStats)
		r.Get("/failed", h.HandleListFailed)
		r.Post("/failed/{id}/retry", h.HandleRetry)
	})
}

// HandleStats handles GET /admin/notifications/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := h.queue.Counts(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to count jobs", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

// HandleListFailed handles GET /admin/notifications/failed?limit=.
func (h *Handler) HandleListFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	jobs, err := h.queue.Failed(ctx, limit)
	if err != nil {
		h.fail(ctx, w, "failed to list failed jobs", err)
		return
	}
	counts, err := h.queue.Counts(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to count jobs", err)
		return
	}

	resp := FailedJobsResponse{Jobs: make([]models.Job, 0, len(jobs)), Counts: counts}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, job.Redacted())
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleRetry handles POST /admin/notifications/failed/{id}/retry.
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid job id"))
		return
	}

	if err := h.queue.Retry(ctx, jobID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no failed job with this id"))
			return
		}
		h.fail(ctx, w, "failed to retry job", err)
		return
	}

	h.logger.InfoContext(ctx, "failed job requeued",
		"request_id", requestcontext.RequestID(ctx),
		"job_id", jobID,
	)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, msg))
}
