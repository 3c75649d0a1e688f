// Package payout moves released seller earnings to verified bank accounts.
// Splits are reserved atomically so two concurrent requests can never pay
// the same money twice.
package payout

import (
	"errors"
	"time"

	"artpay/internal/common/money"
)

// Status represents the payout lifecycle state.
type Status string

const (
	// StatusPending: splits reserved, awaiting gateway submission.
	StatusPending Status = "PENDING"
	// StatusProcessing: accepted by the gateway, awaiting confirmation.
	StatusProcessing Status = "PROCESSING"
	// StatusPaid: confirmed by the payout.processed webhook.
	StatusPaid Status = "PAID"
	// StatusFailed: rejected or failed; reserved splits were released.
	StatusFailed Status = "FAILED"
	// StatusReversed: paid then clawed back by the bank.
	StatusReversed Status = "REVERSED"
)

var (
	// ErrInsufficientBalance is returned when the seller's released
	// splits cannot cover the requested amount.
	ErrInsufficientBalance = errors.New("insufficient released balance")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid payout status transition")
)

// Payout is a withdrawal of released earnings. Its amount equals the sum of
// the reserved splits' net amounts.
type Payout struct {
	ID              string      `json:"id"`
	SellerID        string      `json:"seller_id"`
	BankAccountID   string      `json:"bank_account_id"`
	Amount          money.Money `json:"amount"`
	Status          Status      `json:"status"`
	GatewayPayoutID string      `json:"gateway_payout_id,omitempty"`
	UTR             string      `json:"utr,omitempty"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	SplitCount      int         `json:"split_count"`
	ScheduledAt     time.Time   `json:"scheduled_at"`
	SubmittedAt     *time.Time  `json:"submitted_at,omitempty"`
	PaidAt          *time.Time  `json:"paid_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Earnings summarizes a seller's settlement position across all splits.
type Earnings struct {
	SellerID        string         `json:"seller_id"`
	Currency        money.Currency `json:"currency"`
	TotalGross      int64          `json:"total_gross_minor"`
	TotalCommission int64          `json:"total_commission_minor"`
	TotalGST        int64          `json:"total_gst_minor"`
	TotalTDS        int64          `json:"total_tds_minor"`
	TotalNet        int64          `json:"total_net_minor"`
	HeldNet         int64          `json:"held_net_minor"`
	AvailableNet    int64          `json:"available_net_minor"`
	ReservedNet     int64          `json:"reserved_net_minor"`
	PaidNet         int64          `json:"paid_net_minor"`
}

// NATS subjects for payout events
const (
	SubjectPayoutRequested = "payouts.requested"
	SubjectPayoutPaid      = "payouts.paid"
	SubjectPayoutFailed    = "payouts.failed"
	SubjectPayoutReversed  = "payouts.reversed"
)

// RequestedEvent is published when splits are reserved for a payout.
type RequestedEvent struct {
	PayoutID   string      `json:"payout_id"`
	SellerID   string      `json:"seller_id"`
	Amount     money.Money `json:"amount"`
	SplitCount int         `json:"split_count"`
}

// PaidEvent is published when the gateway confirms a payout.
type PaidEvent struct {
	PayoutID string      `json:"payout_id"`
	SellerID string      `json:"seller_id"`
	Amount   money.Money `json:"amount"`
	UTR      string      `json:"utr,omitempty"`
	PaidAt   time.Time   `json:"paid_at"`
}

// FailedEvent is published when a payout fails and its splits are released.
type FailedEvent struct {
	PayoutID string `json:"payout_id"`
	SellerID string `json:"seller_id"`
	Reason   string `json:"reason"`
}

// ReversedEvent is published when a paid payout is clawed back.
type ReversedEvent struct {
	PayoutID string `json:"payout_id"`
	SellerID string `json:"seller_id"`
	Reason   string `json:"reason"`
}
