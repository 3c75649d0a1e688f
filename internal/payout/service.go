package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"artpay/internal/common/metrics"
	"artpay/internal/common/money"
	"artpay/internal/gateway"
	"artpay/internal/ledger"
	"artpay/internal/seller"
)

// Store persists payouts and split reservations.
type Store interface {
	PendingBalance(ctx context.Context, sellerID string) (int64, error)
	Reserve(ctx context.Context, p *Payout, requestedMinor int64) error
	GetPayout(ctx context.Context, id string) (*Payout, error)
	GetByGatewayID(ctx context.Context, gatewayPayoutID string) (*Payout, error)
	ListForSeller(ctx context.Context, sellerID string, limit, offset int) ([]*Payout, int64, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Payout, error)
	MarkProcessing(ctx context.Context, id, gatewayPayoutID string) error
	MarkFailedAndRelease(ctx context.Context, id, reason string) error
	Complete(ctx context.Context, id, utr string, paidAt time.Time, txn *ledger.Transaction) (bool, error)
	Reverse(ctx context.Context, id, reason string, txn *ledger.Transaction) (bool, error)
	EarningsSummary(ctx context.Context, sellerID string) (*Earnings, error)
}

// Gate checks a seller's payout preconditions and resolves the destination
// bank account.
type Gate interface {
	PayoutGate(ctx context.Context, sellerID string) (*seller.BankAccount, error)
}

// LedgerSource looks up recorded ledger transactions for reversal.
type LedgerSource interface {
	GetBySource(ctx context.Context, sourceType ledger.SourceType, sourceID string) (*ledger.Transaction, error)
}

// Publisher publishes events to NATS.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Config holds payout service configuration.
type Config struct {
	BatchSize int `envconfig:"PAYOUT_BATCH_SIZE" default:"50"`
}

// Service orchestrates the payout lifecycle.
type Service struct {
	store        Store
	gate         Gate
	gateway      gateway.Gateway
	ledgerSource LedgerSource
	publisher    Publisher
	logger       *slog.Logger
	cfg          Config
}

// NewService creates a new payout service
func NewService(store Store, gate Gate, gw gateway.Gateway, ledgerSource LedgerSource, publisher Publisher, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		gate:         gate,
		gateway:      gw,
		ledgerSource: ledgerSource,
		publisher:    publisher,
		logger:       logger,
		cfg:          cfg,
	}
}

// PendingBalance returns the seller's available (released, unreserved)
// balance.
func (s *Service) PendingBalance(ctx context.Context, sellerID string) (money.Money, error) {
	balance, err := s.store.PendingBalance(ctx, sellerID)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(balance, money.INR), nil
}

// RequestPayoutRequest asks for a withdrawal of released earnings.
type RequestPayoutRequest struct {
	SellerID    string         `json:"seller_id" validate:"required"`
	AmountMinor int64          `json:"amount_minor" validate:"required,gt=0"`
	Currency    money.Currency `json:"currency" validate:"required,oneof=INR USD EUR GBP"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
}

// RequestPayout gates on KYC and bank verification, reserves whole released
// splits oldest first until they cover the requested amount (the payout
// amount is the reserved sum, which can exceed the request), then submits to
// the gateway unless scheduled for later.
func (s *Service) RequestPayout(ctx context.Context, req RequestPayoutRequest) (*Payout, error) {
	account, err := s.gate.PayoutGate(ctx, req.SellerID)
	if err != nil {
		metrics.PayoutsRequested.WithLabelValues("rejected").Inc()
		return nil, err
	}

	now := time.Now().UTC()
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	p := &Payout{
		ID:            ulid.Make().String(),
		SellerID:      req.SellerID,
		BankAccountID: account.ID,
		Amount:        money.Zero(req.Currency),
		Status:        StatusPending,
		ScheduledAt:   scheduledAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Reserve(ctx, p, req.AmountMinor); err != nil {
		if err == ErrInsufficientBalance {
			metrics.PayoutsRequested.WithLabelValues("insufficient_balance").Inc()
		}
		return nil, err
	}

	metrics.PayoutsRequested.WithLabelValues("accepted").Inc()
	s.publish(ctx, SubjectPayoutRequested, RequestedEvent{
		PayoutID:   p.ID,
		SellerID:   p.SellerID,
		Amount:     p.Amount,
		SplitCount: p.SplitCount,
	})

	s.logger.Info("payout requested",
		"payout_id", p.ID,
		"seller_id", p.SellerID,
		"requested", req.AmountMinor,
		"reserved", p.Amount.AmountMinor,
		"splits", p.SplitCount,
	)

	if !scheduledAt.After(now) {
		if err := s.submit(ctx, p, account); err != nil {
			return nil, err
		}
	}

	return s.store.GetPayout(ctx, p.ID)
}

// submit sends a PENDING payout to the gateway. Gateway rejection fails the
// payout and releases its splits.
func (s *Service) submit(ctx context.Context, p *Payout, account *seller.BankAccount) error {
	gwPayout, err := s.gateway.CreatePayout(ctx, gateway.CreatePayoutRequest{
		Amount:        p.Amount,
		AccountNumber: account.AccountNumber,
		IFSC:          account.IFSC,
		HolderName:    account.HolderName,
		Reference:     p.ID,
		Narration:     "seller payout",
	})
	if err != nil {
		s.logger.Error("payout submission failed",
			"payout_id", p.ID,
			"error", err,
		)
		if relErr := s.store.MarkFailedAndRelease(ctx, p.ID, err.Error()); relErr != nil {
			return fmt.Errorf("releasing failed payout: %w", relErr)
		}
		metrics.PayoutsSettled.WithLabelValues("failed").Inc()
		s.publish(ctx, SubjectPayoutFailed, FailedEvent{
			PayoutID: p.ID,
			SellerID: p.SellerID,
			Reason:   err.Error(),
		})
		return fmt.Errorf("submitting payout: %w", err)
	}

	if err := s.store.MarkProcessing(ctx, p.ID, gwPayout.GatewayPayoutID); err != nil {
		return err
	}

	s.logger.Info("payout submitted",
		"payout_id", p.ID,
		"gateway_payout_id", gwPayout.GatewayPayoutID,
	)
	return nil
}

// ProcessPending submits due PENDING payouts, run from cron.
func (s *Service) ProcessPending(ctx context.Context, now time.Time) error {
	due, err := s.store.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, p := range due {
		account, err := s.gate.PayoutGate(ctx, p.SellerID)
		if err != nil {
			s.logger.Warn("payout gate failed for scheduled payout",
				"payout_id", p.ID,
				"error", err,
			)
			if relErr := s.store.MarkFailedAndRelease(ctx, p.ID, err.Error()); relErr != nil {
				s.logger.Error("failed to release payout", "payout_id", p.ID, "error", relErr)
			}
			continue
		}

		if err := s.submit(ctx, p, account); err != nil {
			s.logger.Error("scheduled payout submission failed",
				"payout_id", p.ID,
				"error", err,
			)
		}
	}
	return nil
}

// GetPayout returns a payout by ID.
func (s *Service) GetPayout(ctx context.Context, id string) (*Payout, error) {
	return s.store.GetPayout(ctx, id)
}

// History returns a seller's payouts, newest first.
func (s *Service) History(ctx context.Context, sellerID string, limit, offset int) ([]*Payout, int64, error) {
	return s.store.ListForSeller(ctx, sellerID, limit, offset)
}

// Earnings returns the seller's settlement summary.
func (s *Service) Earnings(ctx context.Context, sellerID string) (*Earnings, error) {
	return s.store.EarningsSummary(ctx, sellerID)
}

// CompleteFromGateway applies a payout.processed webhook: splits flip to
// PAID and the payout clearing transaction debits the seller and credits
// the platform. Replays are no-ops.
func (s *Service) CompleteFromGateway(ctx context.Context, gatewayPayoutID, utr string, paidAt time.Time) error {
	p, err := s.store.GetByGatewayID(ctx, gatewayPayoutID)
	if err != nil {
		return err
	}
	if p.Status == StatusPaid || p.Status == StatusReversed {
		return nil
	}

	txn, err := ledger.NewTransaction(ledger.SourcePayout, p.ID, p.Amount.Currency).
		WithReference(gatewayPayoutID).
		WithDescription("payout to seller "+p.SellerID).
		Debit(ledger.AccountSeller, p.SellerID, p.Amount, "payout "+p.ID).
		Credit(ledger.AccountPlatform, ledger.PlatformOwner, p.Amount, "payout clearing "+p.ID).
		Build()
	if err != nil {
		return fmt.Errorf("building payout transaction: %w", err)
	}

	completed, err := s.store.Complete(ctx, p.ID, utr, paidAt, txn)
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}

	metrics.PayoutsSettled.WithLabelValues("paid").Inc()
	metrics.LedgerTransactions.Inc()
	s.publish(ctx, SubjectPayoutPaid, PaidEvent{
		PayoutID: p.ID,
		SellerID: p.SellerID,
		Amount:   p.Amount,
		UTR:      utr,
		PaidAt:   paidAt,
	})

	s.logger.Info("payout paid",
		"payout_id", p.ID,
		"seller_id", p.SellerID,
		"utr", utr,
	)
	return nil
}

// FailFromGateway applies a payout.failed webhook: the payout fails and its
// reserved splits return to the available pool.
func (s *Service) FailFromGateway(ctx context.Context, gatewayPayoutID, reason string) error {
	p, err := s.store.GetByGatewayID(ctx, gatewayPayoutID)
	if err != nil {
		return err
	}
	if p.Status == StatusFailed {
		return nil
	}

	if err := s.store.MarkFailedAndRelease(ctx, p.ID, reason); err != nil {
		return err
	}

	metrics.PayoutsSettled.WithLabelValues("failed").Inc()
	s.publish(ctx, SubjectPayoutFailed, FailedEvent{
		PayoutID: p.ID,
		SellerID: p.SellerID,
		Reason:   reason,
	})

	s.logger.Info("payout failed",
		"payout_id", p.ID,
		"reason", reason,
	)
	return nil
}

// ReverseFromGateway applies a payout.reversed webhook: the paid payout is
// reversed with offsetting ledger entries and its splits become available
// again.
func (s *Service) ReverseFromGateway(ctx context.Context, gatewayPayoutID, reason string) error {
	p, err := s.store.GetByGatewayID(ctx, gatewayPayoutID)
	if err != nil {
		return err
	}
	if p.Status == StatusReversed {
		return nil
	}

	original, err := s.ledgerSource.GetBySource(ctx, ledger.SourcePayout, p.ID)
	if err != nil {
		return fmt.Errorf("looking up payout transaction: %w", err)
	}

	txn, err := ledger.ReversalOf(original, ledger.SourcePayoutReversal, p.ID, "payout reversal: "+reason)
	if err != nil {
		return fmt.Errorf("building reversal transaction: %w", err)
	}

	reversed, err := s.store.Reverse(ctx, p.ID, reason, txn)
	if err != nil {
		return err
	}
	if !reversed {
		return nil
	}

	metrics.PayoutsSettled.WithLabelValues("reversed").Inc()
	metrics.LedgerTransactions.Inc()
	s.publish(ctx, SubjectPayoutReversed, ReversedEvent{
		PayoutID: p.ID,
		SellerID: p.SellerID,
		Reason:   reason,
	})

	s.logger.Info("payout reversed",
		"payout_id", p.ID,
		"reason", reason,
	)
	return nil
}

func (s *Service) publish(ctx context.Context, subject string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		s.logger.Error("failed to publish event",
			"subject", subject,
			"error", err,
		)
	}
}
