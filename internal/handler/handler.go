// Package handler содержит HTTP-обработчики API учёта продуктов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/pantry-score/internal/middleware"
	"github.com/mmeshcher/pantry-score/internal/model"
	"github.com/mmeshcher/pantry-score/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateProduct(ctx context.Context, userID int64, in model.NewProduct) (*model.Product, error)
	UpdateStatus(ctx context.Context, userID int64, productID uuid.UUID, status string) (*model.Product, error)
	DeleteProduct(ctx context.Context, userID int64, productID uuid.UUID) (bool, error)
	ListProducts(ctx context.Context, userID int64) ([]model.Product, error)
	GetScore(ctx context.Context, userID int64) (int64, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		rateLimiter:    limiter,
	}
}

type createProductRequest struct {
	ProductName  string          `json:"productName"`
	Quantity     json.RawMessage `json:"quantity"`
	DateOfExpiry string          `json:"dateOfExpiry"`
	Status       string          `json:"status,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type productResponse struct {
	ID           string  `json:"id"`
	ProductName  string  `json:"productName"`
	Quantity     string  `json:"quantity"`
	DateLogged   string  `json:"dateLogged"`
	DateOfExpiry string  `json:"dateOfExpiry"`
	Status       string  `json:"status"`
	ConsumedAt   *string `json:"consumedAt,omitempty"`
}

type scoreResponse struct {
	Score int64 `json:"score"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func toProductResponse(p *model.Product) productResponse {
	resp := productResponse{
		ID:           p.ID.String(),
		ProductName:  p.Name,
		Quantity:     p.Quantity.String(),
		DateLogged:   p.DateLogged.Format(time.RFC3339),
		DateOfExpiry: p.DateOfExpiry.Format(time.DateOnly),
		Status:       string(p.Status),
	}
	if p.ConsumedAt != nil {
		v := p.ConsumedAt.Format(time.RFC3339)
		resp.ConsumedAt = &v
	}
	return resp
}

// quantityString принимает количество и числом, и строкой.
func quantityString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

// CreateProduct добавляет продукт текущему пользователю.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.CreateProduct(r.Context(), userID, model.NewProduct{
		ProductName:  req.ProductName,
		Quantity:     quantityString(req.Quantity),
		DateOfExpiry: req.DateOfExpiry,
		Status:       req.Status,
	})
	if err != nil {
		h.writeError(w, err, "create product error", userID)
		return
	}

	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

// GetProducts возвращает продукты текущего пользователя.
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	products, err := h.service.ListProducts(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "list products error", userID)
		return
	}

	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateStatus меняет статус продукта текущего пользователя.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	productID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.UpdateStatus(r.Context(), userID, productID, req.Status)
	if err != nil {
		h.writeError(w, err, "update status error", userID)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// DeleteProduct удаляет продукт текущего пользователя.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	productID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if _, err := h.service.DeleteProduct(r.Context(), userID, productID); err != nil {
		h.writeError(w, err, "delete product error", userID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetScore возвращает счёт текущего пользователя.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	score, err := h.service.GetScore(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get score error", userID)
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{Score: score})
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, userID int64) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Err.Error(), Field: vErr.Field})
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrNotFoundOrForbidden):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrInventoryNotFound):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		h.logger.Error(msg, zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
