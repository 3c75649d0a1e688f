package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"artpay/internal/common/api"
	"artpay/internal/common/database"
	"artpay/internal/gateway"
	"artpay/internal/payment"
)

// Handler handles payment HTTP requests
type Handler struct {
	service *payment.Service
}

// NewHandler creates a new payment handler
func NewHandler(service *payment.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the payment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreatePayment)
	r.Post("/verify", h.VerifyPayment)
	r.Get("/analytics", h.Analytics)
	r.Get("/{id}", h.GetPayment)
	r.Get("/{id}/splits", h.GetSplits)
	r.Post("/{id}/refunds", h.InitiateRefund)

	return r
}

// CreatePayment handles POST /payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req payment.CreatePaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	p, err := h.service.CreatePayment(r.Context(), req)
	if err != nil {
		var gwErr *gateway.GatewayError
		if errors.As(err, &gwErr) {
			api.BadGateway(w, "gateway order creation failed")
			return
		}
		api.InternalError(w, "failed to create payment")
		return
	}

	api.WriteData(w, http.StatusCreated, p)
}

// VerifyPayment handles POST /payments/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req payment.VerifyRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	p, err := h.service.VerifyAndCapture(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature):
			api.WriteError(w, http.StatusUnauthorized, api.ErrCodeInvalidSignature, "gateway signature verification failed")
		case database.IsNotFound(err):
			api.NotFound(w, "payment not found")
		case errors.Is(err, payment.ErrInvalidTransition):
			api.Conflict(w, "payment cannot be captured in its current state")
		default:
			api.InternalError(w, "failed to capture payment")
		}
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// GetPayment handles GET /payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.InternalError(w, "failed to get payment")
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// GetSplits handles GET /payments/{id}/splits
func (h *Handler) GetSplits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	splits, err := h.service.Splits(r.Context(), id)
	if err != nil {
		api.InternalError(w, "failed to list splits")
		return
	}

	api.WriteData(w, http.StatusOK, splits)
}

// InitiateRefundRequest is the API request for refunding a payment item
type InitiateRefundRequest struct {
	PaymentItemID string `json:"payment_item_id" validate:"required"`
	AmountMinor   int64  `json:"amount_minor" validate:"required,gt=0"`
	Reason        string `json:"reason"`
}

// InitiateRefund handles POST /payments/{id}/refunds
func (h *Handler) InitiateRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	var req InitiateRefundRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	refund, err := h.service.InitiateRefund(r.Context(), payment.RefundRequest{
		PaymentID:     id,
		PaymentItemID: req.PaymentItemID,
		AmountMinor:   req.AmountMinor,
		Reason:        req.Reason,
	})
	if err != nil {
		var gwErr *gateway.GatewayError
		switch {
		case database.IsNotFound(err):
			api.NotFound(w, "payment not found")
		case errors.Is(err, payment.ErrNotCaptured):
			api.UnprocessableEntity(w, api.ErrCodeConflict, "payment is not captured")
		case errors.Is(err, payment.ErrRefundExceedsPayment):
			api.UnprocessableEntity(w, api.ErrCodeValidation, "refund exceeds refundable amount")
		case errors.As(err, &gwErr):
			api.BadGateway(w, "gateway refund failed")
		default:
			api.InternalError(w, "failed to initiate refund")
		}
		return
	}

	api.WriteData(w, http.StatusCreated, refund)
}

// Analytics handles GET /payments/analytics
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, -1, 0)

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			api.BadRequest(w, "invalid from timestamp, expected RFC3339")
			return
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			api.BadRequest(w, "invalid to timestamp, expected RFC3339")
			return
		}
		to = t
	}

	stats, err := h.service.Analytics(r.Context(), from, to)
	if err != nil {
		api.InternalError(w, "failed to compute analytics")
		return
	}

	api.WriteData(w, http.StatusOK, stats)
}
