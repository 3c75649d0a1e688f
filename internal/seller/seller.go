// Package seller manages seller onboarding state: KYC, bank accounts and
// gateway linked accounts, plus the per-seller rates applied to splits.
package seller

import (
	"errors"
	"time"
)

// KYCStatus represents KYC verification status.
type KYCStatus string

const (
	KYCPending  KYCStatus = "PENDING"
	KYCVerified KYCStatus = "VERIFIED"
	KYCRejected KYCStatus = "REJECTED"
)

// BankAccountStatus represents penny-drop verification status.
type BankAccountStatus string

const (
	BankPending  BankAccountStatus = "PENDING"
	BankVerified BankAccountStatus = "VERIFIED"
	BankFailed   BankAccountStatus = "FAILED"
)

// LinkedAccountStatus represents the gateway sub-merchant lifecycle.
type LinkedAccountStatus string

const (
	LinkedCreated     LinkedAccountStatus = "CREATED"
	LinkedActive      LinkedAccountStatus = "ACTIVE"
	LinkedNeedsReview LinkedAccountStatus = "NEEDS_REVIEW"
	LinkedSuspended   LinkedAccountStatus = "SUSPENDED"
	LinkedFailed      LinkedAccountStatus = "FAILED"
)

var linkedTransitions = map[LinkedAccountStatus][]LinkedAccountStatus{
	LinkedCreated:     {LinkedActive, LinkedNeedsReview, LinkedFailed},
	LinkedActive:      {LinkedSuspended, LinkedNeedsReview},
	LinkedNeedsReview: {LinkedActive, LinkedSuspended, LinkedFailed},
	LinkedSuspended:   {LinkedActive},
	LinkedFailed:      {},
}

// CanTransitionLinked reports whether a linked account may move between the
// two states.
func CanTransitionLinked(from, to LinkedAccountStatus) bool {
	for _, allowed := range linkedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var (
	// ErrKYCNotVerified gates payout requests on KYC state.
	ErrKYCNotVerified = errors.New("seller KYC is not verified")

	// ErrNoVerifiedBankAccount gates payout requests on bank verification.
	ErrNoVerifiedBankAccount = errors.New("seller has no verified active bank account")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// KYC holds a seller's verification record.
type KYC struct {
	SellerID     string     `json:"seller_id"`
	Status       KYCStatus  `json:"status"`
	LegalName    string     `json:"legal_name"`
	PAN          string     `json:"pan"`
	GSTIN        string     `json:"gstin,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BankAccount is a seller payout destination. At most one primary and only
// VERIFIED active accounts receive payouts.
type BankAccount struct {
	ID            string            `json:"id"`
	SellerID      string            `json:"seller_id"`
	AccountNumber string            `json:"account_number"`
	IFSC          string            `json:"ifsc"`
	HolderName    string            `json:"holder_name"`
	Status        BankAccountStatus `json:"status"`
	IsPrimary     bool              `json:"is_primary"`
	IsActive      bool              `json:"is_active"`
	FailReason    string            `json:"fail_reason,omitempty"`
	VerifiedAt    *time.Time        `json:"verified_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// LinkedAccount is the seller's gateway sub-merchant registration.
type LinkedAccount struct {
	ID               string              `json:"id"`
	SellerID         string              `json:"seller_id"`
	GatewayAccountID string              `json:"gateway_account_id"`
	Status           LinkedAccountStatus `json:"status"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Transition moves the linked account to a new status, enforcing the
// lifecycle table.
func (la *LinkedAccount) Transition(to LinkedAccountStatus) error {
	if !CanTransitionLinked(la.Status, to) {
		return ErrInvalidTransition
	}
	la.Status = to
	la.UpdatedAt = time.Now().UTC()
	return nil
}

// Rates are the basis-point rates applied when splitting a payment.
type Rates struct {
	CommissionBps int64 `json:"commission_bps"`
	GSTBps        int64 `json:"gst_bps"`
	TDSBps        int64 `json:"tds_bps"`
	TDSExempt     bool  `json:"tds_exempt"`
}

// DefaultRates are the platform defaults: 5% commission, 18% GST on
// commission, 1% TDS on gross.
func DefaultRates() Rates {
	return Rates{
		CommissionBps: 500,
		GSTBps:        1800,
		TDSBps:        100,
	}
}

// RateOverride is a per-seller rate override row.
type RateOverride struct {
	SellerID  string    `json:"seller_id"`
	Rates     Rates     `json:"rates"`
	UpdatedAt time.Time `json:"updated_at"`
}
