package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"artpay/internal/common/api"
	"artpay/internal/common/database"
	"artpay/internal/common/money"
	"artpay/internal/gateway"
	"artpay/internal/payout"
	"artpay/internal/seller"
)

// EarningsSource reads seller balances and payout history. Implemented by
// the payout service.
type EarningsSource interface {
	PendingBalance(ctx context.Context, sellerID string) (money.Money, error)
	History(ctx context.Context, sellerID string, limit, offset int) ([]*payout.Payout, int64, error)
	Earnings(ctx context.Context, sellerID string) (*payout.Earnings, error)
}

// Handler handles seller HTTP requests
type Handler struct {
	service  *seller.Service
	earnings EarningsSource
}

// NewHandler creates a new seller handler
func NewHandler(service *seller.Service, earnings EarningsSource) *Handler {
	return &Handler{service: service, earnings: earnings}
}

// Routes returns the seller routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/kyc", h.SubmitKYC)
	r.Get("/{id}/kyc", h.GetKYC)
	r.Post("/{id}/kyc/review", h.ReviewKYC)

	r.Post("/bank-accounts", h.AddBankAccount)
	r.Post("/bank-accounts/{accountID}/verify", h.VerifyBankAccount)
	r.Get("/{id}/bank-accounts", h.ListBankAccounts)

	r.Post("/linked-accounts", h.CreateLinkedAccount)
	r.Post("/{id}/linked-account/transition", h.TransitionLinkedAccount)

	r.Get("/{id}/rates", h.GetRates)
	r.Put("/{id}/rates", h.SetRates)

	r.Get("/{id}/balance", h.GetBalance)
	r.Get("/{id}/payouts", h.ListPayouts)
	r.Get("/{id}/earnings", h.GetEarnings)

	return r
}

// SubmitKYC handles POST /sellers/kyc
func (h *Handler) SubmitKYC(w http.ResponseWriter, r *http.Request) {
	var req seller.SubmitKYCRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	kyc, err := h.service.SubmitKYC(r.Context(), req)
	if err != nil {
		api.InternalError(w, "failed to submit KYC")
		return
	}

	api.WriteData(w, http.StatusCreated, kyc)
}

// GetKYC handles GET /sellers/{id}/kyc
func (h *Handler) GetKYC(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	kyc, err := h.service.GetKYC(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "KYC record not found")
			return
		}
		api.InternalError(w, "failed to get KYC")
		return
	}

	api.WriteData(w, http.StatusOK, kyc)
}

// ReviewKYCRequest is the API request for a KYC review decision
type ReviewKYCRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

// ReviewKYC handles POST /sellers/{id}/kyc/review
func (h *Handler) ReviewKYC(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	var req ReviewKYCRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	if err := h.service.ReviewKYC(r.Context(), id, req.Approve, req.Reason); err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "KYC record not found")
			return
		}
		api.InternalError(w, "failed to review KYC")
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AddBankAccount handles POST /sellers/bank-accounts
func (h *Handler) AddBankAccount(w http.ResponseWriter, r *http.Request) {
	var req seller.AddBankAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	account, err := h.service.AddBankAccount(r.Context(), req)
	if err != nil {
		api.InternalError(w, "failed to add bank account")
		return
	}

	api.WriteData(w, http.StatusCreated, account)
}

// VerifyBankAccount handles POST /sellers/bank-accounts/{accountID}/verify
func (h *Handler) VerifyBankAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		api.BadRequest(w, "bank account ID required")
		return
	}

	account, err := h.service.VerifyBankAccount(r.Context(), accountID)
	if err != nil {
		switch {
		case database.IsNotFound(err):
			api.NotFound(w, "bank account not found")
		case errors.Is(err, database.ErrConflict):
			api.Conflict(w, "bank account is not pending verification")
		default:
			api.InternalError(w, "failed to verify bank account")
		}
		return
	}

	api.WriteData(w, http.StatusOK, account)
}

// ListBankAccounts handles GET /sellers/{id}/bank-accounts
func (h *Handler) ListBankAccounts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	accounts, err := h.service.ListBankAccounts(r.Context(), id)
	if err != nil {
		api.InternalError(w, "failed to list bank accounts")
		return
	}

	api.WriteData(w, http.StatusOK, accounts)
}

// CreateLinkedAccount handles POST /sellers/linked-accounts
func (h *Handler) CreateLinkedAccount(w http.ResponseWriter, r *http.Request) {
	var req seller.CreateLinkedAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	account, err := h.service.CreateLinkedAccount(r.Context(), req)
	if err != nil {
		var gwErr *gateway.GatewayError
		switch {
		case database.IsUniqueViolation(err) || errors.Is(err, database.ErrAlreadyExists):
			api.Conflict(w, "seller already has a linked account")
		case errors.As(err, &gwErr):
			api.BadGateway(w, "gateway account creation failed")
		default:
			api.InternalError(w, "failed to create linked account")
		}
		return
	}

	api.WriteData(w, http.StatusCreated, account)
}

// TransitionLinkedAccountRequest is the API request for a linked account
// status change
type TransitionLinkedAccountRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE NEEDS_REVIEW SUSPENDED FAILED"`
}

// TransitionLinkedAccount handles POST /sellers/{id}/linked-account/transition
func (h *Handler) TransitionLinkedAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	var req TransitionLinkedAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	account, err := h.service.TransitionLinkedAccount(r.Context(), id, seller.LinkedAccountStatus(req.Status))
	if err != nil {
		switch {
		case database.IsNotFound(err):
			api.NotFound(w, "linked account not found")
		case errors.Is(err, seller.ErrInvalidTransition):
			api.Conflict(w, "linked account cannot move to the requested status")
		default:
			api.InternalError(w, "failed to transition linked account")
		}
		return
	}

	api.WriteData(w, http.StatusOK, account)
}

// GetRates handles GET /sellers/{id}/rates
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	rates, err := h.service.Rates(r.Context(), id)
	if err != nil {
		api.InternalError(w, "failed to get rates")
		return
	}

	api.WriteData(w, http.StatusOK, rates)
}

// SetRatesRequest is the API request for a per-seller rate override
type SetRatesRequest struct {
	CommissionBps int64 `json:"commission_bps" validate:"min=0,max=10000"`
	GSTBps        int64 `json:"gst_bps" validate:"min=0,max=10000"`
	TDSBps        int64 `json:"tds_bps" validate:"min=0,max=10000"`
	TDSExempt     bool  `json:"tds_exempt"`
}

// SetRates handles PUT /sellers/{id}/rates
func (h *Handler) SetRates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	var req SetRatesRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	rates := seller.Rates{
		CommissionBps: req.CommissionBps,
		GSTBps:        req.GSTBps,
		TDSBps:        req.TDSBps,
		TDSExempt:     req.TDSExempt,
	}
	if err := h.service.SetRates(r.Context(), id, rates); err != nil {
		api.InternalError(w, "failed to set rates")
		return
	}

	api.WriteData(w, http.StatusOK, rates)
}

// GetBalance handles GET /sellers/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	balance, err := h.earnings.PendingBalance(r.Context(), id)
	if err != nil {
		api.InternalError(w, "failed to get balance")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]any{
		"seller_id": id,
		"available": balance,
	})
}

// ListPayouts handles GET /sellers/{id}/payouts
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	params := api.GetPaginationParams(r, 50, 200)

	payouts, total, err := h.earnings.History(r.Context(), id, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to list payouts")
		return
	}

	api.WritePaginated(w, payouts, &api.Pagination{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasMore: int64(params.Offset+len(payouts)) < total,
	})
}

// GetEarnings handles GET /sellers/{id}/earnings
func (h *Handler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "seller ID required")
		return
	}

	earnings, err := h.earnings.Earnings(r.Context(), id)
	if err != nil {
		api.InternalError(w, "failed to get earnings")
		return
	}

	api.WriteData(w, http.StatusOK, earnings)
}
