package membership

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vigor-gym/vigor/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the membership module.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	orchestrator *Orchestrator
	progress     ProgressStore
	validator    *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, orchestrator *Orchestrator, progress ProgressStore) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		orchestrator: orchestrator,
		progress:     progress,
		validator:    validator.New(),
	}
}

// MountRoutes registers membership routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/freeze", h.handleFreeze)
	r.Post("/{id}/unfreeze", h.handleUnfreeze)
	r.Post("/bulk/preview", h.handleBulkPreview)
	r.Post("/bulk", h.handleBulkExecute)
	r.Get("/bulk/{runID}", h.handleBulkProgress)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := Status(q.Get("status"))
	if status == "" {
		status = StatusActive
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.service.List(r.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("list memberships", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	m, err := h.service.Freeze(r.Context(), FreezeInput{
		MembershipID: chi.URLParam(r, "id"),
		Mode:         req.Mode,
		FreezeDays:   req.FreezeDays,
		Reason:       req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	var req unfreezeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	m, err := h.service.Unfreeze(r.Context(), UnfreezeInput{
		MembershipID: chi.URLParam(r, "id"),
		Mode:         req.Mode,
		Reason:       req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleBulkPreview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeBulk(w, r)
	if !ok {
		return
	}
	items, err := h.orchestrator.Preview(r.Context(), req.toDomain())
	if err != nil {
		if errors.Is(err, ErrNoEligible) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "No Eligible Memberships", err.Error())
			return
		}
		h.logger.Error("bulk preview", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bulkPreviewResponse{Items: items})
}

func (h *Handler) handleBulkExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeBulk(w, r)
	if !ok {
		return
	}
	result, err := h.orchestrator.Execute(r.Context(), req.toDomain())
	if err != nil {
		if errors.Is(err, ErrNoEligible) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "No Eligible Memberships", err.Error())
			return
		}
		h.logger.Error("bulk execute", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleBulkProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.progress.Fetch(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) decodeBulk(w http.ResponseWriter, r *http.Request) (bulkRequest, bool) {
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return req, false
	}
	if req.Action == BulkFreeze && req.Mode == ModeManual && req.FreezeDays <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "freeze_days is required for manual freezes")
		return req, false
	}
	return req, true
}
