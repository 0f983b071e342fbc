package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian-consol/internal/consol"
	"github.com/meridian-fin/meridian-consol/internal/platform/httpx"
)

// RunService is the consolidation surface the API exposes.
type RunService interface {
	StartRun(ctx context.Context, req consol.StartRunRequest) (*consol.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*consol.Run, error)
}

// EnqueueFunc hands a pending run to the background worker.
type EnqueueFunc func(ctx context.Context, runID uuid.UUID) error

// Handler wires the consolidation run endpoints.
type Handler struct {
	logger    *slog.Logger
	service   RunService
	enqueue   EnqueueFunc
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the consolidation handler. A nil enqueue func leaves
// runs pending until a worker picks them up by other means.
func NewHandler(logger *slog.Logger, service RunService, enqueue EnqueueFunc) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		enqueue:   enqueue,
		rateLimit: httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}

// MountRoutes registers consolidation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/consolidation/runs", func(r chi.Router) {
		r.Post("/", h.handleStartRun)
		r.Get("/{runID}", h.handleGetRun)
		r.Get("/{runID}/trial-balance", h.handleGetTrialBalance)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Get("/{runID}/trial-balance/export.csv", h.handleExportCSV)
		})
	})
}

type startRunPayload struct {
	GroupID string            `json:"group_id"`
	Period  string            `json:"period"`
	Options consol.RunOptions `json:"options"`
}

func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var payload startRunPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	groupID, err := uuid.Parse(payload.GroupID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Group", "group_id must be a UUID")
		return
	}

	run, err := h.service.StartRun(r.Context(), consol.StartRunRequest{
		GroupID: groupID,
		Period:  payload.Period,
		Options: payload.Options,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if run.Status == consol.RunStatusPending && h.enqueue != nil {
		if err := h.enqueue(r.Context(), run.ID); err != nil {
			h.log().Error("enqueue consolidation run",
				slog.String("run_id", run.ID.String()), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "run created but could not be scheduled")
			return
		}
	}
	httpx.JSON(w, http.StatusAccepted, RunFromDomain(run))
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, RunFromDomain(run))
}

func (h *Handler) handleGetTrialBalance(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	if run.FinalTrialBalance == nil {
		httpx.Problem(w, http.StatusConflict, "Not Ready",
			"run has not produced a trial balance yet")
		return
	}
	httpx.JSON(w, http.StatusOK, TrialBalanceFromDomain(run.FinalTrialBalance))
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	if run.FinalTrialBalance == nil {
		httpx.Problem(w, http.StatusConflict, "Not Ready",
			"run has not produced a trial balance yet")
		return
	}
	writeTrialBalanceCSV(w, run.FinalTrialBalance)
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*consol.Run, bool) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Run", "run id must be a UUID")
		return nil, false
	}
	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.respondError(w, r, err)
		return nil, false
	}
	return run, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, consol.ErrGroupNotFound),
		errors.Is(err, consol.ErrPeriodNotFound),
		errors.Is(err, consol.ErrRunNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, consol.ErrRunActive):
		httpx.Problem(w, http.StatusConflict, "Run Active", err.Error())
	case errors.Is(err, context.Canceled):
		httpx.Problem(w, http.StatusRequestTimeout, "Cancelled", "")
	default:
		if isValidationError(err) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
			return
		}
		h.log().Error("consolidation request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) log() *slog.Logger {
	if h != nil && h.logger != nil {
		return h.logger.With(slog.String("component", "consol_http"))
	}
	return slog.Default().With(slog.String("component", "consol_http"))
}

func isValidationError(err error) bool {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return true
	}
	return strings.Contains(err.Error(), "invalid period")
}
