// Package handler exposes the coordinator API over HTTP for the CLI and
// other collaborators.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bngesp/MultiCoder/internal/domain"
	redisstore "github.com/bngesp/MultiCoder/internal/redis"
	"github.com/bngesp/MultiCoder/pkg/telemetry"
	"github.com/bngesp/MultiCoder/services/coordinator"
	"github.com/bngesp/MultiCoder/services/coordinator/middleware"
)

const maxBodyBytes = 64 << 10 // prompts, not uploads

// REST handles HTTP requests against the coordinator.
type REST struct {
	coord   *coordinator.Coordinator
	limiter redisstore.RateLimiter // nil = disabled
	logger  *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(coord *coordinator.Coordinator, limiter redisstore.RateLimiter, logger *slog.Logger) *REST {
	return &REST{coord: coord, limiter: limiter, logger: logger}
}

// Router builds the chi router with all coordinator routes mounted.
func (h *REST) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(h.logger))
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	r.Post("/api/v1/requests", h.SubmitRequest)
	r.Get("/api/v1/requests/{id}", h.GetRequestStatus)
	r.Delete("/api/v1/requests/{id}", h.CancelRequest)
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	return r
}

// SubmitBody is the JSON body for POST /api/v1/requests.
type SubmitBody struct {
	Prompt string `json:"prompt"`
}

// SubmitResponse is the 202 response body.
type SubmitResponse struct {
	RequestID string    `json:"request_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskView is the per-task slice of a status response.
type TaskView struct {
	Role    string `json:"role"`
	State   string `json:"state"`
	Attempt int    `json:"attempt"`
}

// StatusResponse is the GET /api/v1/requests/{id} response body.
type StatusResponse struct {
	RequestID     string         `json:"request_id"`
	Status        string         `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Result        *domain.Result `json:"result,omitempty"`
	Tasks         []TaskView     `json:"tasks,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// SubmitRequest handles POST /api/v1/requests.
func (h *REST) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("coordinator-api").Start(r.Context(), "api.submit_request")
	defer span.End()

	// Per-client submission rate limit; fail open on limiter errors so a
	// Redis outage never blocks submissions.
	if h.limiter != nil {
		client, _, _ := net.SplitHostPort(r.RemoteAddr)
		if client == "" {
			client = r.RemoteAddr
		}
		if allowed, err := h.limiter.Allow(ctx, client); err != nil {
			h.logger.Error("rate limiter error", slog.String("error", err.Error()))
		} else if !allowed {
			telemetry.CoordinatorRateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, "submission rate limit exceeded")
			return
		}
	}

	var body SubmitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requestID, err := h.coord.Submit(ctx, body.Prompt)
	if err != nil {
		var invalid *domain.InvalidInputError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		h.logger.Error("submit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit request")
		return
	}
	span.SetAttributes(attribute.String("request.id", requestID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{
		RequestID: requestID,
		Status:    string(domain.RequestPending),
		CreatedAt: time.Now().UTC(),
	})
}

// GetRequestStatus handles GET /api/v1/requests/{id}.
func (h *REST) GetRequestStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request ID is required")
		return
	}

	req, tasks, err := h.coord.GetStatus(r.Context(), requestID)
	if err != nil {
		var notFound *domain.RequestNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		h.logger.Error("status lookup failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve request")
		return
	}

	resp := StatusResponse{
		RequestID:     req.ID,
		Status:        string(req.Status),
		FailureReason: req.FailureReason,
		Result:        req.Result,
		CreatedAt:     req.CreatedAt,
		CompletedAt:   req.CompletedAt,
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, TaskView{
			Role:    string(task.Role),
			State:   string(task.State),
			Attempt: task.Attempt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// CancelRequest handles DELETE /api/v1/requests/{id}.
func (h *REST) CancelRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request ID is required")
		return
	}

	err := h.coord.Cancel(r.Context(), requestID)
	if err != nil {
		var notFound *domain.RequestNotFoundError
		var terminal *domain.RequestTerminalError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "request not found")
		case errors.As(err, &terminal):
			writeError(w, http.StatusConflict, terminal.Error())
		default:
			h.logger.Error("cancel failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to cancel request")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
