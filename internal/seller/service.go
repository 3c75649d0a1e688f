package seller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"artpay/internal/common/database"
	"artpay/internal/common/money"
	"artpay/internal/gateway"
)

// ServiceStore persists seller state.
type ServiceStore interface {
	UpsertKYC(ctx context.Context, kyc *KYC) error
	GetKYC(ctx context.Context, sellerID string) (*KYC, error)
	SetKYCStatus(ctx context.Context, sellerID string, status KYCStatus, rejectReason string) error

	CreateBankAccount(ctx context.Context, account *BankAccount) error
	GetBankAccount(ctx context.Context, id string) (*BankAccount, error)
	ListBankAccounts(ctx context.Context, sellerID string) ([]*BankAccount, error)
	GetPayoutAccount(ctx context.Context, sellerID string) (*BankAccount, error)
	SetBankAccountStatus(ctx context.Context, id string, status BankAccountStatus, failReason string) error

	CreateLinkedAccount(ctx context.Context, account *LinkedAccount) error
	GetLinkedAccount(ctx context.Context, sellerID string) (*LinkedAccount, error)
	UpdateLinkedAccountStatus(ctx context.Context, id string, status LinkedAccountStatus) error

	GetRates(ctx context.Context, sellerID string) (Rates, error)
	SetRates(ctx context.Context, sellerID string, rates Rates) error
}

// Service orchestrates seller onboarding.
type Service struct {
	store   ServiceStore
	gateway gateway.Gateway
	logger  *slog.Logger
}

// NewService creates a new seller service
func NewService(store ServiceStore, gw gateway.Gateway, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		gateway: gw,
		logger:  logger,
	}
}

// SubmitKYCRequest is the request to submit KYC details.
type SubmitKYCRequest struct {
	SellerID  string `json:"seller_id" validate:"required"`
	LegalName string `json:"legal_name" validate:"required"`
	PAN       string `json:"pan" validate:"required,len=10"`
	GSTIN     string `json:"gstin" validate:"omitempty,len=15"`
}

// SubmitKYC records KYC details for review. Resubmission resets the record
// to PENDING.
func (s *Service) SubmitKYC(ctx context.Context, req SubmitKYCRequest) (*KYC, error) {
	now := time.Now().UTC()
	kyc := &KYC{
		SellerID:    req.SellerID,
		Status:      KYCPending,
		LegalName:   req.LegalName,
		PAN:         req.PAN,
		GSTIN:       req.GSTIN,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	if err := s.store.UpsertKYC(ctx, kyc); err != nil {
		return nil, fmt.Errorf("submitting kyc: %w", err)
	}

	s.logger.Info("KYC submitted", "seller_id", req.SellerID)
	return kyc, nil
}

// GetKYC returns a seller's KYC record.
func (s *Service) GetKYC(ctx context.Context, sellerID string) (*KYC, error) {
	return s.store.GetKYC(ctx, sellerID)
}

// ReviewKYC records a verification decision.
func (s *Service) ReviewKYC(ctx context.Context, sellerID string, approve bool, reason string) error {
	status := KYCVerified
	if !approve {
		status = KYCRejected
	}

	if err := s.store.SetKYCStatus(ctx, sellerID, status, reason); err != nil {
		return fmt.Errorf("reviewing kyc: %w", err)
	}

	s.logger.Info("KYC reviewed",
		"seller_id", sellerID,
		"status", status,
	)
	return nil
}

// AddBankAccountRequest is the request to add a payout bank account.
type AddBankAccountRequest struct {
	SellerID      string `json:"seller_id" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required,min=9,max=18"`
	IFSC          string `json:"ifsc" validate:"required,len=11"`
	HolderName    string `json:"holder_name" validate:"required"`
	Primary       bool   `json:"primary"`
}

// AddBankAccount records a bank account pending penny-drop verification.
func (s *Service) AddBankAccount(ctx context.Context, req AddBankAccountRequest) (*BankAccount, error) {
	now := time.Now().UTC()
	account := &BankAccount{
		ID:            ulid.Make().String(),
		SellerID:      req.SellerID,
		AccountNumber: req.AccountNumber,
		IFSC:          req.IFSC,
		HolderName:    req.HolderName,
		Status:        BankPending,
		IsPrimary:     req.Primary,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateBankAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("bank account added",
		"seller_id", req.SellerID,
		"bank_account_id", account.ID,
		"primary", req.Primary,
	)
	return account, nil
}

// pennyDropAmount is the 1 rupee deposit sent to verify account ownership.
var pennyDropAmount = money.New(100, money.INR)

// VerifyBankAccount runs a penny-drop against the account and records the
// outcome. Only PENDING accounts can be verified.
func (s *Service) VerifyBankAccount(ctx context.Context, accountID string) (*BankAccount, error) {
	account, err := s.store.GetBankAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.Status != BankPending {
		return nil, fmt.Errorf("account %s is %s: %w", accountID, account.Status, database.ErrConflict)
	}

	_, err = s.gateway.CreatePayout(ctx, gateway.CreatePayoutRequest{
		Amount:        pennyDropAmount,
		AccountNumber: account.AccountNumber,
		IFSC:          account.IFSC,
		HolderName:    account.HolderName,
		Reference:     "pd_" + account.ID,
		Narration:     "account verification",
	})
	if err != nil {
		if setErr := s.store.SetBankAccountStatus(ctx, accountID, BankFailed, err.Error()); setErr != nil {
			return nil, setErr
		}
		s.logger.Warn("penny drop failed",
			"bank_account_id", accountID,
			"error", err,
		)
		account.Status = BankFailed
		account.FailReason = err.Error()
		return account, nil
	}

	if err := s.store.SetBankAccountStatus(ctx, accountID, BankVerified, ""); err != nil {
		return nil, err
	}

	s.logger.Info("bank account verified", "bank_account_id", accountID)
	return s.store.GetBankAccount(ctx, accountID)
}

// ListBankAccounts returns a seller's bank accounts.
func (s *Service) ListBankAccounts(ctx context.Context, sellerID string) ([]*BankAccount, error) {
	return s.store.ListBankAccounts(ctx, sellerID)
}

// CreateLinkedAccountRequest registers a seller as a gateway sub-merchant.
type CreateLinkedAccountRequest struct {
	SellerID     string `json:"seller_id" validate:"required"`
	LegalName    string `json:"legal_name" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	BusinessType string `json:"business_type" validate:"required"`
}

// CreateLinkedAccount registers the seller with the gateway. One linked
// account per seller.
func (s *Service) CreateLinkedAccount(ctx context.Context, req CreateLinkedAccountRequest) (*LinkedAccount, error) {
	if existing, err := s.store.GetLinkedAccount(ctx, req.SellerID); err == nil {
		return existing, fmt.Errorf("seller %s already linked: %w", req.SellerID, database.ErrAlreadyExists)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	gwAccount, err := s.gateway.CreateLinkedAccount(ctx, gateway.CreateLinkedAccountRequest{
		SellerID:     req.SellerID,
		LegalName:    req.LegalName,
		Email:        req.Email,
		BusinessType: req.BusinessType,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway linked account: %w", err)
	}

	now := time.Now().UTC()
	account := &LinkedAccount{
		ID:               ulid.Make().String(),
		SellerID:         req.SellerID,
		GatewayAccountID: gwAccount.GatewayAccountID,
		Status:           LinkedCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateLinkedAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("linked account created",
		"seller_id", req.SellerID,
		"gateway_account_id", gwAccount.GatewayAccountID,
	)
	return account, nil
}

// TransitionLinkedAccount moves a seller's linked account through its
// lifecycle, enforcing the allowed transitions.
func (s *Service) TransitionLinkedAccount(ctx context.Context, sellerID string, to LinkedAccountStatus) (*LinkedAccount, error) {
	account, err := s.store.GetLinkedAccount(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	if err := account.Transition(to); err != nil {
		return nil, fmt.Errorf("linked account %s -> %s: %w", account.Status, to, err)
	}

	if err := s.store.UpdateLinkedAccountStatus(ctx, account.ID, to); err != nil {
		return nil, err
	}

	s.logger.Info("linked account transitioned",
		"seller_id", sellerID,
		"status", to,
	)
	return account, nil
}

// Rates returns the effective split rates for a seller.
func (s *Service) Rates(ctx context.Context, sellerID string) (Rates, error) {
	return s.store.GetRates(ctx, sellerID)
}

// SetRates stores a per-seller rate override. Bps values are validated by
// the split calculator at use, but reject obvious garbage here too.
func (s *Service) SetRates(ctx context.Context, sellerID string, rates Rates) error {
	for _, bps := range []int64{rates.CommissionBps, rates.GSTBps, rates.TDSBps} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("basis points out of range: %d", bps)
		}
	}
	return s.store.SetRates(ctx, sellerID, rates)
}

// PayoutGate checks the KYC and bank preconditions for a payout and returns
// the destination account.
func (s *Service) PayoutGate(ctx context.Context, sellerID string) (*BankAccount, error) {
	kyc, err := s.store.GetKYC(ctx, sellerID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrKYCNotVerified
		}
		return nil, err
	}
	if kyc.Status != KYCVerified {
		return nil, ErrKYCNotVerified
	}

	account, err := s.store.GetPayoutAccount(ctx, sellerID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNoVerifiedBankAccount
		}
		return nil, err
	}

	return account, nil
}
