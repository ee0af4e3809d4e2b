package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vigor-gym/vigor/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.handleListProducts)
	r.Get("/products/low-stock", h.handleLowStock)
	r.Get("/products/{id}", h.handleGetProduct)
	r.Post("/products/{id}/adjust", h.handleAdjust)
	r.Post("/products/{id}/shrinkage", h.handleShrinkage)
	r.Post("/products/{id}/initial-stock", h.handleInitialStock)
	r.Post("/products/{id}/transfer", h.handleTransfer)
	r.Get("/movements", h.handleListMovements)
	r.Post("/movements", h.handlePostMovement)
	r.Post("/receipts", h.handleReceipt)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	items, err := h.service.Products(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, productsResponse{Items: items})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.LowStock(r.Context())
	if err != nil {
		h.logger.Error("list low stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, productsResponse{Items: items})
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := MovementFilter{
		ProductID:   q.Get("product_id"),
		Type:        MovementType(q.Get("type")),
		ReferenceID: q.Get("reference_id"),
		From:        q.Get("from"),
		To:          q.Get("to"),
		Limit:       limit,
	}
	items, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementsResponse{Items: items})
}

func (h *Handler) handlePostMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.RecordMovement(r.Context(), MovementInput{
		ProductID:     req.ProductID,
		Type:          req.Type,
		Quantity:      req.Quantity,
		UnitCost:      req.UnitCost,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Notes:         req.Notes,
	})
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Notes)
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleShrinkage(w http.ResponseWriter, r *http.Request) {
	var req shrinkageRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.RecordShrinkage(r.Context(), chi.URLParam(r, "id"), req.Quantity, req.Notes)
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleInitialStock(w http.ResponseWriter, r *http.Request) {
	var req initialStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.SetInitialStock(r.Context(), chi.URLParam(r, "id"), req.Quantity, req.Notes)
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, in, err := h.service.Transfer(r.Context(), chi.URLParam(r, "id"), req.Quantity, req.From, req.To, req.Notes)
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transferResponse{Out: out, In: in})
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity, UnitCost: it.UnitCost})
	}
	movements, err := h.service.ReceivePurchase(r.Context(), req.PurchaseID, items)
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementsResponse{Items: movements})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

// respondMovementError keeps shortage details in the payload; the
// front desk needs the per-product numbers, not just a status code.
func (h *Handler) respondMovementError(w http.ResponseWriter, err error) {
	var verr *StockValidationError
	if errors.As(err, &verr) {
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"title":     "Insufficient Stock",
			"status":    http.StatusUnprocessableEntity,
			"detail":    verr.Error(),
			"shortages": verr.Shortages,
		})
		return
	}
	httpx.RespondError(w, err)
}
