// Package payment orchestrates the payment lifecycle: idempotent order
// creation, signature-verified capture with per-seller splits and ledger
// posting, and refunds.
package payment

import (
	"errors"
	"time"

	"artpay/internal/common/money"
)

// Status represents the payment lifecycle state.
type Status string

const (
	StatusInitiated         Status = "INITIATED"
	StatusPending           Status = "PENDING"
	StatusAuthorized        Status = "AUTHORIZED"
	StatusCaptured          Status = "CAPTURED"
	StatusFailed            Status = "FAILED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

var transitions = map[Status][]Status{
	StatusInitiated:         {StatusPending, StatusAuthorized, StatusCaptured, StatusFailed},
	StatusPending:           {StatusAuthorized, StatusCaptured, StatusFailed},
	StatusAuthorized:        {StatusCaptured, StatusFailed},
	StatusCaptured:          {StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusPartiallyRefunded, StatusRefunded},
	StatusFailed:            {},
	StatusRefunded:          {},
}

// CanTransition reports whether a payment may move between the two states.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

var (
	// ErrInvalidSignature is returned when the gateway capture signature
	// does not verify.
	ErrInvalidSignature = errors.New("invalid gateway signature")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid payment status transition")

	// ErrNotCaptured is returned when an operation requires a captured
	// payment.
	ErrNotCaptured = errors.New("payment is not captured")

	// ErrRefundExceedsPayment is returned when cumulative refunds would
	// exceed the captured amount.
	ErrRefundExceedsPayment = errors.New("refund exceeds captured amount")
)

// Payment represents a customer payment covering one or more seller items.
type Payment struct {
	ID               string            `json:"id"`
	CustomerID       string            `json:"customer_id"`
	GatewayOrderID   string            `json:"gateway_order_id"`
	GatewayPaymentID string            `json:"gateway_payment_id,omitempty"`
	Amount           money.Money       `json:"amount"`
	Status           Status            `json:"status"`
	Method           string            `json:"method,omitempty"`
	Receipt          string            `json:"receipt,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key"`
	Notes            map[string]string `json:"notes,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	CapturedAt       *time.Time        `json:"captured_at,omitempty"`
	FailedAt         *time.Time        `json:"failed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Items            []*Item           `json:"items,omitempty"`
}

// Item is one seller's share of a payment.
type Item struct {
	ID          string      `json:"id"`
	PaymentID   string      `json:"payment_id"`
	SellerID    string      `json:"seller_id"`
	Amount      money.Money `json:"amount"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// SplitStatus represents the settlement state of a seller split.
type SplitStatus string

const (
	// SplitPending: created at capture, in escrow hold.
	SplitPending SplitStatus = "PENDING"
	// SplitSettled: released from escrow, available for payout.
	SplitSettled SplitStatus = "SETTLED"
	// SplitPaidPending: reserved by a payout awaiting gateway confirmation.
	SplitPaidPending SplitStatus = "PAID_PENDING"
	// SplitPaid: payout confirmed by the gateway.
	SplitPaid SplitStatus = "PAID"
	// SplitRefunded: the item was fully refunded before payout, nothing
	// left to settle or pay.
	SplitRefunded SplitStatus = "REFUNDED"
)

// HoldStatus represents the escrow state of a split.
type HoldStatus string

const (
	HoldHeld     HoldStatus = "HELD"
	HoldReleased HoldStatus = "RELEASED"
)

// Split is the settlement record for one payment item. Amounts and the rate
// snapshot are fixed at capture time and never change afterwards.
type Split struct {
	ID            string      `json:"id"`
	PaymentID     string      `json:"payment_id"`
	PaymentItemID string      `json:"payment_item_id"`
	SellerID      string      `json:"seller_id"`
	GrossAmount   money.Money `json:"gross_amount"`
	Commission    money.Money `json:"commission"`
	GSTAmount     money.Money `json:"gst_amount"`
	TDSAmount     money.Money `json:"tds_amount"`
	NetAmount     money.Money `json:"net_amount"`
	CommissionBps int64       `json:"commission_bps"`
	GSTBps        int64       `json:"gst_bps"`
	TDSBps        int64       `json:"tds_bps"`
	Status        SplitStatus `json:"status"`
	HoldStatus    HoldStatus  `json:"hold_status"`
	HoldUntil     time.Time   `json:"hold_until"`
	PayoutID      *string     `json:"payout_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// RefundStatus represents the refund lifecycle state.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundProcessed RefundStatus = "PROCESSED"
	RefundFailed    RefundStatus = "FAILED"
)

// Refund is a full or partial reversal of a captured payment item.
type Refund struct {
	ID              string       `json:"id"`
	PaymentID       string       `json:"payment_id"`
	PaymentItemID   string       `json:"payment_item_id"`
	GatewayRefundID string       `json:"gateway_refund_id,omitempty"`
	Amount          money.Money  `json:"amount"`
	Status          RefundStatus `json:"status"`
	Reason          string       `json:"reason,omitempty"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// StatusAggregate is one row of the payment analytics report.
type StatusAggregate struct {
	Status     Status `json:"status"`
	Count      int64  `json:"count"`
	TotalMinor int64  `json:"total_minor"`
}
