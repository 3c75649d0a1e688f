package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"artpay/internal/common/database"
	"artpay/internal/common/metrics"
	"artpay/internal/common/money"
	"artpay/internal/gateway"
	"artpay/internal/ledger"
	"artpay/internal/seller"
)

// Store persists payments, splits and refunds.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Payment, error)
	Capture(ctx context.Context, params CaptureParams) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) error
	ListSplits(ctx context.Context, paymentID string) ([]*Split, error)
	GetSplitForItem(ctx context.Context, paymentItemID string) (*Split, error)

	CreateRefund(ctx context.Context, r *Refund) error
	GetRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*Refund, error)
	SumRefunded(ctx context.Context, paymentID string) (int64, error)
	SumProcessed(ctx context.Context, paymentID string) (int64, error)
	SumRefundedForItem(ctx context.Context, paymentItemID string) (int64, error)
	CompleteRefund(ctx context.Context, params CompleteRefundParams) (bool, error)
	MarkRefundFailed(ctx context.Context, gatewayRefundID, reason string) error

	Analytics(ctx context.Context, from, to time.Time) ([]StatusAggregate, error)
}

// RatesSource resolves the split rates for a seller.
type RatesSource interface {
	Rates(ctx context.Context, sellerID string) (seller.Rates, error)
}

// Publisher publishes events to NATS.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Config holds payment service configuration.
type Config struct {
	HoldPeriod     time.Duration `envconfig:"ESCROW_HOLD_PERIOD" default:"168h"`
	GatewayTimeout time.Duration `envconfig:"PAYMENT_GATEWAY_TIMEOUT" default:"10s"`
}

// Service orchestrates the payment lifecycle.
type Service struct {
	store     Store
	gateway   gateway.Gateway
	rates     RatesSource
	publisher Publisher
	logger    *slog.Logger
	cfg       Config
}

// NewService creates a new payment service
func NewService(store Store, gw gateway.Gateway, rates RatesSource, publisher Publisher, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gw,
		rates:     rates,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// ItemRequest is one seller line of a payment.
type ItemRequest struct {
	SellerID    string `json:"seller_id" validate:"required"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	Description string `json:"description"`
}

// CreatePaymentRequest is the request to create a payment order.
type CreatePaymentRequest struct {
	CustomerID     string            `json:"customer_id" validate:"required"`
	Currency       money.Currency    `json:"currency" validate:"required,oneof=INR USD EUR GBP"`
	Items          []ItemRequest     `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey string            `json:"idempotency_key" validate:"required"`
	Receipt        string            `json:"receipt"`
	Notes          map[string]string `json:"notes"`
}

// CreatePayment creates a gateway order and persists the payment. Replaying
// the same idempotency key returns the original payment unchanged.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if existing, err := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		s.logger.Info("payment creation replayed",
			"payment_id", existing.ID,
			"idempotency_key", req.IdempotencyKey,
		)
		return existing, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	var total int64
	for _, item := range req.Items {
		total += item.AmountMinor
	}
	amount := money.New(total, req.Currency)

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	order, err := s.gateway.CreateOrder(gwCtx, gateway.CreateOrderRequest{
		Amount:  amount,
		Receipt: req.Receipt,
		Notes:   req.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway order: %w", err)
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:             ulid.Make().String(),
		CustomerID:     req.CustomerID,
		GatewayOrderID: order.GatewayOrderID,
		Amount:         amount,
		Status:         StatusInitiated,
		Receipt:        req.Receipt,
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, item := range req.Items {
		p.Items = append(p.Items, &Item{
			ID:          ulid.Make().String(),
			PaymentID:   p.ID,
			SellerID:    item.SellerID,
			Amount:      money.New(item.AmountMinor, req.Currency),
			Description: item.Description,
			CreatedAt:   now,
		})
	}

	if err := s.store.CreatePayment(ctx, p); err != nil {
		// A concurrent request with the same key won the insert race.
		if errors.Is(err, database.ErrAlreadyExists) {
			return s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	metrics.PaymentsCreated.WithLabelValues(s.gateway.Name()).Inc()
	s.publish(ctx, SubjectPaymentCreated, CreatedEvent{
		PaymentID:      p.ID,
		CustomerID:     p.CustomerID,
		GatewayOrderID: p.GatewayOrderID,
		Amount:         p.Amount,
		ItemCount:      len(p.Items),
		CreatedAt:      p.CreatedAt,
	})

	s.logger.Info("payment created",
		"payment_id", p.ID,
		"gateway_order_id", p.GatewayOrderID,
		"amount", p.Amount.AmountMinor,
		"items", len(p.Items),
	)
	return p, nil
}

// GetPayment returns a payment with its items.
func (s *Service) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// Splits returns the splits for a payment.
func (s *Service) Splits(ctx context.Context, paymentID string) ([]*Split, error) {
	return s.store.ListSplits(ctx, paymentID)
}

// VerifyRequest is the client callback after gateway checkout.
type VerifyRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

// VerifyAndCapture verifies the gateway signature and captures the payment:
// one database transaction covers the status transition, split creation and
// the balanced ledger posting. Replays on a captured payment are no-ops.
func (s *Service) VerifyAndCapture(ctx context.Context, req VerifyRequest) (*Payment, error) {
	if !s.gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		s.logger.Warn("capture signature mismatch",
			"gateway_order_id", req.GatewayOrderID,
			"gateway_payment_id", req.GatewayPaymentID,
		)
		return nil, ErrInvalidSignature
	}

	if err := s.capture(ctx, req.GatewayOrderID, req.GatewayPaymentID, ""); err != nil {
		return nil, err
	}
	return s.store.GetByGatewayOrderID(ctx, req.GatewayOrderID)
}

// CaptureConfirmed applies a gateway-confirmed capture, used by the webhook
// reconciler after the event itself has been authenticated.
func (s *Service) CaptureConfirmed(ctx context.Context, gatewayOrderID, gatewayPaymentID, method string) error {
	return s.capture(ctx, gatewayOrderID, gatewayPaymentID, method)
}

func (s *Service) capture(ctx context.Context, gatewayOrderID, gatewayPaymentID, method string) error {
	p, err := s.store.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}

	if p.Status == StatusCaptured || p.Status == StatusRefunded || p.Status == StatusPartiallyRefunded {
		return nil
	}

	now := time.Now().UTC()
	splits, txn, err := s.buildCapture(ctx, p, now)
	if err != nil {
		return err
	}

	captured, err := s.store.Capture(ctx, CaptureParams{
		PaymentID:        p.ID,
		GatewayPaymentID: gatewayPaymentID,
		Method:           method,
		CapturedAt:       now,
		Splits:           splits,
		Ledger:           txn,
	})
	if err != nil {
		return err
	}
	if !captured {
		return nil
	}

	metrics.PaymentsCaptured.Inc()
	metrics.SplitsCreated.Add(float64(len(splits)))
	metrics.LedgerTransactions.Inc()
	s.publish(ctx, SubjectPaymentCaptured, CapturedEvent{
		PaymentID:        p.ID,
		GatewayPaymentID: gatewayPaymentID,
		Amount:           p.Amount,
		SplitCount:       len(splits),
		CapturedAt:       now,
	})

	s.logger.Info("payment captured",
		"payment_id", p.ID,
		"gateway_payment_id", gatewayPaymentID,
		"splits", len(splits),
	)
	return nil
}

// buildCapture computes the splits and the balanced ledger transaction for a
// capture: debit the customer for the gross, credit each seller's net, the
// platform's commission and the tax account's GST + TDS.
func (s *Service) buildCapture(ctx context.Context, p *Payment, now time.Time) ([]*Split, *ledger.Transaction, error) {
	builder := ledger.NewTransaction(ledger.SourceCapture, p.ID, p.Amount.Currency).
		WithReference(p.GatewayOrderID).
		WithDescription("payment capture")
	builder.Debit(ledger.AccountCustomer, p.CustomerID, p.Amount, "payment "+p.ID)

	var splits []*Split
	for _, item := range p.Items {
		rates, err := s.rates.Rates(ctx, item.SellerID)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving rates for seller %s: %w", item.SellerID, err)
		}

		result, err := ComputeSplit(item.Amount, rates)
		if err != nil {
			return nil, nil, fmt.Errorf("splitting item %s: %w", item.ID, err)
		}

		tdsBps := rates.TDSBps
		if rates.TDSExempt {
			tdsBps = 0
		}

		splits = append(splits, &Split{
			ID:            ulid.Make().String(),
			PaymentID:     p.ID,
			PaymentItemID: item.ID,
			SellerID:      item.SellerID,
			GrossAmount:   item.Amount,
			Commission:    result.Commission,
			GSTAmount:     result.GSTOnCommission,
			TDSAmount:     result.TDS,
			NetAmount:     result.Net,
			CommissionBps: rates.CommissionBps,
			GSTBps:        rates.GSTBps,
			TDSBps:        tdsBps,
			Status:        SplitPending,
			HoldStatus:    HoldHeld,
			HoldUntil:     now.Add(s.cfg.HoldPeriod),
			CreatedAt:     now,
			UpdatedAt:     now,
		})

		builder.Credit(ledger.AccountSeller, item.SellerID, result.Net, "net for item "+item.ID)
		if result.Commission.AmountMinor > 0 {
			builder.Credit(ledger.AccountPlatform, ledger.PlatformOwner, result.Commission, "commission for item "+item.ID)
		}
		taxTotal := result.GSTOnCommission.MustAdd(result.TDS)
		if taxTotal.AmountMinor > 0 {
			builder.Credit(ledger.AccountTax, ledger.PlatformOwner, taxTotal, "gst+tds for item "+item.ID)
		}
	}

	txn, err := builder.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building capture transaction: %w", err)
	}
	return splits, txn, nil
}

// FailFromGateway marks a payment FAILED from a gateway event. Terminal
// payments are left untouched.
func (s *Service) FailFromGateway(ctx context.Context, gatewayOrderID, reason string) error {
	p, err := s.store.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}

	if p.Status.IsTerminal() || p.Status == StatusCaptured {
		s.logger.Warn("ignoring failure for settled payment",
			"payment_id", p.ID,
			"status", p.Status,
		)
		return nil
	}

	if err := s.store.MarkFailed(ctx, p.ID, reason); err != nil {
		return err
	}

	metrics.PaymentsFailed.Inc()
	s.publish(ctx, SubjectPaymentFailed, FailedEvent{
		PaymentID: p.ID,
		Reason:    reason,
		FailedAt:  time.Now().UTC(),
	})

	s.logger.Info("payment failed",
		"payment_id", p.ID,
		"reason", reason,
	)
	return nil
}

// RefundRequest initiates a refund for one payment item.
type RefundRequest struct {
	PaymentID     string `json:"payment_id" validate:"required"`
	PaymentItemID string `json:"payment_item_id" validate:"required"`
	AmountMinor   int64  `json:"amount_minor" validate:"required,gt=0"`
	Reason        string `json:"reason"`
}

// InitiateRefund submits a refund to the gateway. Cumulative refunds are
// capped at the captured amount, both per payment and per item. Completion
// happens asynchronously via the refund.processed webhook.
func (s *Service) InitiateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	p, err := s.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	if p.Status != StatusCaptured && p.Status != StatusPartiallyRefunded {
		return nil, fmt.Errorf("payment is %s: %w", p.Status, ErrNotCaptured)
	}

	var item *Item
	for _, it := range p.Items {
		if it.ID == req.PaymentItemID {
			item = it
			break
		}
	}
	if item == nil {
		return nil, fmt.Errorf("payment item %s: %w", req.PaymentItemID, database.ErrNotFound)
	}

	refunded, err := s.store.SumRefunded(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if refunded+req.AmountMinor > p.Amount.AmountMinor {
		return nil, ErrRefundExceedsPayment
	}

	itemRefunded, err := s.store.SumRefundedForItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if itemRefunded+req.AmountMinor > item.Amount.AmountMinor {
		return nil, ErrRefundExceedsPayment
	}

	amount := money.New(req.AmountMinor, p.Amount.Currency)
	gwRefund, err := s.gateway.InitiateRefund(ctx, p.GatewayPaymentID, amount, map[string]string{
		"payment_id": p.ID,
		"item_id":    item.ID,
		"reason":     req.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("initiating gateway refund: %w", err)
	}

	now := time.Now().UTC()
	refund := &Refund{
		ID:              ulid.Make().String(),
		PaymentID:       p.ID,
		PaymentItemID:   item.ID,
		GatewayRefundID: gwRefund.GatewayRefundID,
		Amount:          amount,
		Status:          RefundPending,
		Reason:          req.Reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	metrics.RefundsInitiated.Inc()
	s.publish(ctx, SubjectRefundInitiated, RefundInitiatedEvent{
		RefundID:        refund.ID,
		PaymentID:       p.ID,
		GatewayRefundID: refund.GatewayRefundID,
		Amount:          amount,
	})

	s.logger.Info("refund initiated",
		"refund_id", refund.ID,
		"payment_id", p.ID,
		"amount", amount.AmountMinor,
	)
	return refund, nil
}

// CompleteRefund applies a gateway-confirmed refund: the PENDING refund row
// flips to PROCESSED, a reversing ledger transaction is recorded using the
// rate snapshot from the original split, the unpaid split shrinks by the
// refunded portion (to zero it is cancelled outright) and the payment moves
// to REFUNDED or PARTIALLY_REFUNDED. Replays are no-ops.
func (s *Service) CompleteRefund(ctx context.Context, gatewayRefundID string, processedAt time.Time) error {
	refund, err := s.store.GetRefundByGatewayID(ctx, gatewayRefundID)
	if err != nil {
		return err
	}
	if refund.Status == RefundProcessed {
		return nil
	}

	p, err := s.store.GetPayment(ctx, refund.PaymentID)
	if err != nil {
		return err
	}

	split, err := s.store.GetSplitForItem(ctx, refund.PaymentItemID)
	if err != nil {
		return err
	}

	// Reverse with the rates snapshotted at capture, not current rates.
	result, err := ComputeSplit(refund.Amount, seller.Rates{
		CommissionBps: split.CommissionBps,
		GSTBps:        split.GSTBps,
		TDSBps:        split.TDSBps,
	})
	if err != nil {
		return fmt.Errorf("splitting refund amount: %w", err)
	}

	builder := ledger.NewTransaction(ledger.SourceRefund, refund.ID, refund.Amount.Currency).
		WithReference(gatewayRefundID).
		WithDescription("refund for payment " + p.ID)
	builder.Credit(ledger.AccountCustomer, p.CustomerID, refund.Amount, "refund "+refund.ID)
	builder.Debit(ledger.AccountSeller, split.SellerID, result.Net, "refund net "+refund.ID)
	if result.Commission.AmountMinor > 0 {
		builder.Debit(ledger.AccountPlatform, ledger.PlatformOwner, result.Commission, "refund commission "+refund.ID)
	}
	taxTotal := result.GSTOnCommission.MustAdd(result.TDS)
	if taxTotal.AmountMinor > 0 {
		builder.Debit(ledger.AccountTax, ledger.PlatformOwner, taxTotal, "refund gst+tds "+refund.ID)
	}

	txn, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building refund transaction: %w", err)
	}

	// Only gateway-confirmed refunds decide the payment status: a PENDING
	// sibling may still fail, and REFUNDED is terminal.
	processed, err := s.store.SumProcessed(ctx, p.ID)
	if err != nil {
		return err
	}
	status := StatusPartiallyRefunded
	if processed+refund.Amount.AmountMinor >= p.Amount.AmountMinor {
		status = StatusRefunded
	}

	completed, err := s.store.CompleteRefund(ctx, CompleteRefundParams{
		GatewayRefundID: gatewayRefundID,
		ProcessedAt:     processedAt,
		Ledger:          txn,
		PaymentStatus:   status,
		Split: SplitAdjustment{
			SplitID:         split.ID,
			GrossMinor:      refund.Amount.AmountMinor,
			CommissionMinor: result.Commission.AmountMinor,
			GSTMinor:        result.GSTOnCommission.AmountMinor,
			TDSMinor:        result.TDS.AmountMinor,
			NetMinor:        result.Net.AmountMinor,
		},
	})
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}

	metrics.LedgerTransactions.Inc()
	s.publish(ctx, SubjectRefundProcessed, RefundProcessedEvent{
		RefundID:      refund.ID,
		PaymentID:     p.ID,
		Amount:        refund.Amount,
		PaymentStatus: status,
		ProcessedAt:   processedAt,
	})

	s.logger.Info("refund processed",
		"refund_id", refund.ID,
		"payment_id", p.ID,
		"payment_status", status,
	)
	return nil
}

// FailRefund records a gateway-side refund failure.
func (s *Service) FailRefund(ctx context.Context, gatewayRefundID, reason string) error {
	return s.store.MarkRefundFailed(ctx, gatewayRefundID, reason)
}

// Analytics aggregates payments by status over a date range.
func (s *Service) Analytics(ctx context.Context, from, to time.Time) ([]StatusAggregate, error) {
	return s.store.Analytics(ctx, from, to)
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
