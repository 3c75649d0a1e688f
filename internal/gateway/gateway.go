// Package gateway abstracts the external payment gateway used for order
// creation, captures, refunds, payouts and linked-account onboarding.
package gateway

import (
	"context"
	"fmt"
	"time"

	"artpay/internal/common/money"
)

// Gateway is the provider-facing surface. All implementations wrap transport
// failures in *GatewayError.
type Gateway interface {
	// CreateOrder registers an order with the gateway and returns the
	// gateway-side order reference.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)

	// VerifySignature checks the gateway's capture signature over
	// orderID|paymentID.
	VerifySignature(orderID, gatewayPaymentID, signature string) bool

	// CapturePayment captures an authorized payment for the given amount.
	CapturePayment(ctx context.Context, gatewayPaymentID string, amount money.Money) (*Capture, error)

	// InitiateRefund starts a refund against a captured payment.
	InitiateRefund(ctx context.Context, gatewayPaymentID string, amount money.Money, notes map[string]string) (*Refund, error)

	// GetRefundStatus fetches the current state of a refund.
	GetRefundStatus(ctx context.Context, gatewayRefundID string) (*Refund, error)

	// CreatePayout submits a payout to a seller's bank account.
	CreatePayout(ctx context.Context, req CreatePayoutRequest) (*Payout, error)

	// GetPayoutStatus fetches the current state of a payout.
	GetPayoutStatus(ctx context.Context, gatewayPayoutID string) (*Payout, error)

	// CreateLinkedAccount registers a seller as a sub-merchant.
	CreateLinkedAccount(ctx context.Context, req CreateLinkedAccountRequest) (*LinkedAccount, error)

	// Name identifies the gateway implementation.
	Name() string
}

// CreateOrderRequest describes a new gateway order.
type CreateOrderRequest struct {
	Amount  money.Money       `json:"amount"`
	Receipt string            `json:"receipt"`
	Notes   map[string]string `json:"notes,omitempty"`
}

// Order is a gateway order reference.
type Order struct {
	GatewayOrderID string      `json:"gateway_order_id"`
	Amount         money.Money `json:"amount"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Capture is the result of a capture call.
type Capture struct {
	GatewayPaymentID string      `json:"gateway_payment_id"`
	Amount           money.Money `json:"amount"`
	Status           string      `json:"status"`
	Method           string      `json:"method,omitempty"`
	CapturedAt       time.Time   `json:"captured_at"`
}

// RefundStatus is the gateway-side refund state.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

// Refund is a gateway refund reference.
type Refund struct {
	GatewayRefundID  string       `json:"gateway_refund_id"`
	GatewayPaymentID string       `json:"gateway_payment_id"`
	Amount           money.Money  `json:"amount"`
	Status           RefundStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
}

// CreatePayoutRequest describes a payout to a seller bank account.
type CreatePayoutRequest struct {
	Amount        money.Money `json:"amount"`
	AccountNumber string      `json:"account_number"`
	IFSC          string      `json:"ifsc"`
	HolderName    string      `json:"holder_name"`
	Reference     string      `json:"reference"`
	Narration     string      `json:"narration,omitempty"`
}

// PayoutStatus is the gateway-side payout state.
type PayoutStatus string

const (
	PayoutQueued     PayoutStatus = "queued"
	PayoutProcessing PayoutStatus = "processing"
	PayoutProcessed  PayoutStatus = "processed"
	PayoutReversed   PayoutStatus = "reversed"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout is a gateway payout reference.
type Payout struct {
	GatewayPayoutID string       `json:"gateway_payout_id"`
	Amount          money.Money  `json:"amount"`
	Status          PayoutStatus `json:"status"`
	UTR             string       `json:"utr,omitempty"`
	FailureReason   string       `json:"failure_reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// CreateLinkedAccountRequest registers a seller sub-merchant.
type CreateLinkedAccountRequest struct {
	SellerID     string `json:"seller_id"`
	LegalName    string `json:"legal_name"`
	Email        string `json:"email"`
	BusinessType string `json:"business_type"`
}

// LinkedAccount is a gateway sub-merchant reference.
type LinkedAccount struct {
	GatewayAccountID string    `json:"gateway_account_id"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// GatewayError wraps a gateway-side failure. Callers check Temporary to
// decide whether a retry makes sense.
type GatewayError struct {
	Gateway    string
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s: %s (%s)", e.Gateway, e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Gateway, e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is likely transient.
func (e *GatewayError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
