package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"artpay/internal/common/api"
	"artpay/internal/common/database"
	"artpay/internal/gateway"
	"artpay/internal/payout"
	"artpay/internal/seller"
)

// Handler handles payout HTTP requests
type Handler struct {
	service *payout.Service
}

// NewHandler creates a new payout handler
func NewHandler(service *payout.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the payout routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.RequestPayout)
	r.Get("/{id}", h.GetPayout)

	return r
}

// RequestPayout handles POST /payouts
func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var req payout.RequestPayoutRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	p, err := h.service.RequestPayout(r.Context(), req)
	if err != nil {
		var gwErr *gateway.GatewayError
		switch {
		case errors.Is(err, seller.ErrKYCNotVerified):
			api.UnprocessableEntity(w, api.ErrCodeKYCNotVerified, "seller KYC is not verified")
		case errors.Is(err, seller.ErrNoVerifiedBankAccount):
			api.UnprocessableEntity(w, api.ErrCodeNoVerifiedBankAccount, "seller has no verified bank account")
		case errors.Is(err, payout.ErrInsufficientBalance):
			api.UnprocessableEntity(w, api.ErrCodeInsufficientBalance, "released balance does not cover the requested amount")
		case errors.As(err, &gwErr):
			api.BadGateway(w, "gateway payout failed")
		default:
			api.InternalError(w, "failed to request payout")
		}
		return
	}

	api.WriteData(w, http.StatusCreated, p)
}

// GetPayout handles GET /payouts/{id}
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payout ID required")
		return
	}

	p, err := h.service.GetPayout(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payout not found")
			return
		}
		api.InternalError(w, "failed to get payout")
		return
	}

	api.WriteData(w, http.StatusOK, p)
}
