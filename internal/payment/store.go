package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"artpay/internal/common/database"
	"artpay/internal/common/money"
	"artpay/internal/ledger"
)

// PGStore provides payment data access backed by Postgres.
type PGStore struct {
	db     *database.DB
	ledger *ledger.Store
}

// NewStore creates a new payment store
func NewStore(db *database.DB, ledgerStore *ledger.Store) *PGStore {
	return &PGStore{db: db, ledger: ledgerStore}
}

// CreatePayment inserts a payment and its items in one transaction.
func (s *PGStore) CreatePayment(ctx context.Context, p *Payment) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO payments (
				id, customer_id, gateway_order_id, gateway_payment_id, amount_minor,
				currency, status, method, receipt, idempotency_key, notes,
				failure_reason, captured_at, failed_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			p.ID, p.CustomerID, p.GatewayOrderID, p.GatewayPaymentID,
			p.Amount.AmountMinor, p.Amount.Currency, p.Status, p.Method,
			p.Receipt, p.IdempotencyKey, p.Notes, p.FailureReason,
			p.CapturedAt, p.FailedAt, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("payment with idempotency key %s already exists: %w", p.IdempotencyKey, database.ErrAlreadyExists)
			}
			return fmt.Errorf("inserting payment: %w", err)
		}

		for _, item := range p.Items {
			_, err := tx.Exec(ctx, `
				INSERT INTO payment_items (
					id, payment_id, seller_id, amount_minor, currency, description, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7)
			`,
				item.ID, item.PaymentID, item.SellerID,
				item.Amount.AmountMinor, item.Amount.Currency,
				item.Description, item.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("inserting payment item: %w", err)
			}
		}
		return nil
	})
}

const paymentColumns = `
	id, customer_id, gateway_order_id, gateway_payment_id, amount_minor,
	currency, status, method, receipt, idempotency_key, notes,
	failure_reason, captured_at, failed_at, created_at, updated_at
`

// GetPayment retrieves a payment with its items
func (s *PGStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	p.Items, err = s.listItems(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetByIdempotencyKey retrieves a payment by its idempotency key
func (s *PGStore) GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
	if err != nil {
		return nil, err
	}
	p.Items, err = s.listItems(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetByGatewayOrderID retrieves a payment by gateway order reference
func (s *PGStore) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1`, gatewayOrderID))
	if err != nil {
		return nil, err
	}
	p.Items, err = s.listItems(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PGStore) listItems(ctx context.Context, paymentID string) ([]*Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, payment_id, seller_id, amount_minor, currency, description, created_at
		FROM payment_items
		WHERE payment_id = $1
		ORDER BY created_at
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("listing payment items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var item Item
		var amount int64
		var currency string
		if err := rows.Scan(&item.ID, &item.PaymentID, &item.SellerID, &amount, &currency, &item.Description, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning payment item: %w", err)
		}
		item.Amount = money.New(amount, money.Currency(currency))
		items = append(items, &item)
	}
	return items, nil
}

// CaptureParams carries everything applied atomically at capture.
type CaptureParams struct {
	PaymentID        string
	GatewayPaymentID string
	Method           string
	CapturedAt       time.Time
	Splits           []*Split
	Ledger           *ledger.Transaction
}

// Capture atomically transitions the payment to CAPTURED, creates its splits
// and records the balanced ledger transaction. Returns false without error
// when the payment was already captured. Runs serializable because the
// ledger balance snapshots require it.
func (s *PGStore) Capture(ctx context.Context, params CaptureParams) (bool, error) {
	captured := false
	err := database.Retry(ctx, 3, func() error {
		captured = false
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			return s.captureTx(ctx, tx, params, &captured)
		})
	})
	return captured, err
}

func (s *PGStore) captureTx(ctx context.Context, tx pgx.Tx, params CaptureParams, captured *bool) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $1, gateway_payment_id = $2, method = $3,
			captured_at = $4, updated_at = $4
		WHERE id = $5 AND status IN ($6, $7, $8)
	`,
		StatusCaptured, params.GatewayPaymentID, params.Method,
		params.CapturedAt, params.PaymentID,
		StatusInitiated, StatusPending, StatusAuthorized,
	)
	if err != nil {
		return fmt.Errorf("capturing payment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var current Status
		if err := tx.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, params.PaymentID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return database.ErrNotFound
			}
			return fmt.Errorf("checking payment status: %w", err)
		}
		if current == StatusCaptured || current == StatusRefunded || current == StatusPartiallyRefunded {
			return nil
		}
		return fmt.Errorf("payment is %s: %w", current, ErrInvalidTransition)
	}

	for _, split := range params.Splits {
		_, err := tx.Exec(ctx, `
			INSERT INTO payment_splits (
				id, payment_id, payment_item_id, seller_id,
				gross_minor, commission_minor, gst_minor, tds_minor, net_minor,
				currency, commission_bps, gst_bps, tds_bps,
				status, hold_status, hold_until, payout_id, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`,
			split.ID, split.PaymentID, split.PaymentItemID, split.SellerID,
			split.GrossAmount.AmountMinor, split.Commission.AmountMinor,
			split.GSTAmount.AmountMinor, split.TDSAmount.AmountMinor,
			split.NetAmount.AmountMinor, split.GrossAmount.Currency,
			split.CommissionBps, split.GSTBps, split.TDSBps,
			split.Status, split.HoldStatus, split.HoldUntil,
			split.PayoutID, split.CreatedAt, split.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting split: %w", err)
		}
	}

	if err := s.ledger.RecordTx(ctx, tx, params.Ledger); err != nil {
		return fmt.Errorf("recording capture ledger transaction: %w", err)
	}

	*captured = true
	return nil
}

// MarkFailed transitions a non-terminal payment to FAILED. Already-failed
// payments are a no-op.
func (s *PGStore) MarkFailed(ctx context.Context, id, reason string) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET status = $1, failure_reason = $2, failed_at = $3, updated_at = $3
		WHERE id = $4 AND status IN ($5, $6, $7)
	`, StatusFailed, reason, now, id, StatusInitiated, StatusPending, StatusAuthorized)
	if err != nil {
		return fmt.Errorf("marking payment failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var current Status
		err := s.db.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, id).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return database.ErrNotFound
			}
			return fmt.Errorf("checking payment status: %w", err)
		}
		if current == StatusFailed {
			return nil
		}
		return fmt.Errorf("payment is %s: %w", current, ErrInvalidTransition)
	}
	return nil
}

const splitColumns = `
	id, payment_id, payment_item_id, seller_id,
	gross_minor, commission_minor, gst_minor, tds_minor, net_minor,
	currency, commission_bps, gst_bps, tds_bps,
	status, hold_status, hold_until, payout_id, created_at, updated_at
`

// ListSplits retrieves the splits for a payment
func (s *PGStore) ListSplits(ctx context.Context, paymentID string) ([]*Split, error) {
	rows, err := s.db.Query(ctx, `SELECT `+splitColumns+` FROM payment_splits WHERE payment_id = $1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("listing splits: %w", err)
	}
	defer rows.Close()
	return ScanSplits(rows)
}

// GetSplitForItem retrieves the split created for a payment item.
func (s *PGStore) GetSplitForItem(ctx context.Context, paymentItemID string) (*Split, error) {
	rows, err := s.db.Query(ctx, `SELECT `+splitColumns+` FROM payment_splits WHERE payment_item_id = $1`, paymentItemID)
	if err != nil {
		return nil, fmt.Errorf("getting split: %w", err)
	}
	defer rows.Close()

	splits, err := ScanSplits(rows)
	if err != nil {
		return nil, err
	}
	if len(splits) == 0 {
		return nil, database.ErrNotFound
	}
	return splits[0], nil
}

// CreateRefund inserts a refund row
func (s *PGStore) CreateRefund(ctx context.Context, r *Refund) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refunds (
			id, payment_id, payment_item_id, gateway_refund_id, amount_minor,
			currency, status, reason, processed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		r.ID, r.PaymentID, r.PaymentItemID, r.GatewayRefundID,
		r.Amount.AmountMinor, r.Amount.Currency, r.Status, r.Reason,
		r.ProcessedAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting refund: %w", err)
	}
	return nil
}

const refundColumns = `
	id, payment_id, payment_item_id, gateway_refund_id, amount_minor,
	currency, status, reason, processed_at, created_at, updated_at
`

// GetRefundByGatewayID retrieves a refund by its gateway reference
func (s *PGStore) GetRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*Refund, error) {
	return scanRefund(s.db.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE gateway_refund_id = $1`, gatewayRefundID))
}

// SumRefunded returns the total non-failed refund amount for a payment.
func (s *PGStore) SumRefunded(ctx context.Context, paymentID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)
		FROM refunds
		WHERE payment_id = $1 AND status != $2
	`, paymentID, RefundFailed).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing refunds: %w", err)
	}
	return total, nil
}

// SumProcessed returns the total gateway-confirmed refund amount for a
// payment. PENDING refunds are excluded: they cap new refund requests but a
// sibling that later fails must not have decided the payment status.
func (s *PGStore) SumProcessed(ctx context.Context, paymentID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)
		FROM refunds
		WHERE payment_id = $1 AND status = $2
	`, paymentID, RefundProcessed).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing processed refunds: %w", err)
	}
	return total, nil
}

// SumRefundedForItem returns the total non-failed refund amount for one item.
func (s *PGStore) SumRefundedForItem(ctx context.Context, paymentItemID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)
		FROM refunds
		WHERE payment_item_id = $1 AND status != $2
	`, paymentItemID, RefundFailed).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing item refunds: %w", err)
	}
	return total, nil
}

// SplitAdjustment subtracts a processed refund from the item's split so the
// refunded portion never settles or pays out. A split whose gross reaches
// zero is cancelled: it leaves the escrow scan and the payable pool.
type SplitAdjustment struct {
	SplitID         string
	GrossMinor      int64
	CommissionMinor int64
	GSTMinor        int64
	TDSMinor        int64
	NetMinor        int64
}

// CompleteRefundParams carries everything applied atomically when a refund
// is confirmed by the gateway.
type CompleteRefundParams struct {
	GatewayRefundID string
	ProcessedAt     time.Time
	Ledger          *ledger.Transaction
	PaymentStatus   Status
	Split           SplitAdjustment
}

// CompleteRefund atomically marks a PENDING refund PROCESSED, records the
// reversing ledger transaction, shrinks the item's unpaid split and moves
// the payment to its refund state. Returns false without error when the
// refund was already processed. Runs serializable because the ledger
// balance snapshots require it.
func (s *PGStore) CompleteRefund(ctx context.Context, params CompleteRefundParams) (bool, error) {
	completed := false
	err := database.Retry(ctx, 3, func() error {
		completed = false
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			return s.completeRefundTx(ctx, tx, params, &completed)
		})
	})
	return completed, err
}

func (s *PGStore) completeRefundTx(ctx context.Context, tx pgx.Tx, params CompleteRefundParams, completed *bool) error {
	var refundID, paymentID string
	err := tx.QueryRow(ctx, `
		UPDATE refunds
		SET status = $1, processed_at = $2, updated_at = $2
		WHERE gateway_refund_id = $3 AND status = $4
		RETURNING id, payment_id
	`, RefundProcessed, params.ProcessedAt, params.GatewayRefundID, RefundPending).Scan(&refundID, &paymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("completing refund: %w", err)
	}

	if err := s.ledger.RecordTx(ctx, tx, params.Ledger); err != nil {
		return fmt.Errorf("recording refund ledger transaction: %w", err)
	}

	// Paid-out splits are left alone: the clawback shows up as a negative
	// seller ledger balance instead.
	a := params.Split
	_, err = tx.Exec(ctx, `
		UPDATE payment_splits
		SET gross_minor = gross_minor - $1,
			commission_minor = commission_minor - $2,
			gst_minor = gst_minor - $3,
			tds_minor = tds_minor - $4,
			net_minor = net_minor - $5,
			status = CASE WHEN gross_minor - $1 = 0 THEN $6 ELSE status END,
			hold_status = CASE WHEN gross_minor - $1 = 0 THEN $7 ELSE hold_status END,
			updated_at = $8
		WHERE id = $9 AND status IN ($10, $11)
	`,
		a.GrossMinor, a.CommissionMinor, a.GSTMinor, a.TDSMinor, a.NetMinor,
		SplitRefunded, HoldReleased, params.ProcessedAt, a.SplitID,
		SplitPending, SplitSettled,
	)
	if err != nil {
		return fmt.Errorf("adjusting refunded split: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, params.PaymentStatus, params.ProcessedAt, paymentID, StatusCaptured, StatusPartiallyRefunded)
	if err != nil {
		return fmt.Errorf("updating payment refund status: %w", err)
	}

	*completed = true
	return nil
}

// MarkRefundFailed records a gateway-side refund failure.
func (s *PGStore) MarkRefundFailed(ctx context.Context, gatewayRefundID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE refunds
		SET status = $1, reason = $2, updated_at = $3
		WHERE gateway_refund_id = $4 AND status = $5
	`, RefundFailed, reason, time.Now().UTC(), gatewayRefundID, RefundPending)
	if err != nil {
		return fmt.Errorf("marking refund failed: %w", err)
	}
	return nil
}

// Analytics aggregates payment counts and amounts by status over a range.
func (s *PGStore) Analytics(ctx context.Context, from, to time.Time) ([]StatusAggregate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount_minor), 0)
		FROM payments
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY status
		ORDER BY status
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying analytics: %w", err)
	}
	defer rows.Close()

	var aggregates []StatusAggregate
	for rows.Next() {
		var a StatusAggregate
		if err := rows.Scan(&a.Status, &a.Count, &a.TotalMinor); err != nil {
			return nil, fmt.Errorf("scanning analytics row: %w", err)
		}
		aggregates = append(aggregates, a)
	}
	return aggregates, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var amount int64
	var currency string
	err := row.Scan(
		&p.ID, &p.CustomerID, &p.GatewayOrderID, &p.GatewayPaymentID,
		&amount, &currency, &p.Status, &p.Method, &p.Receipt,
		&p.IdempotencyKey, &p.Notes, &p.FailureReason,
		&p.CapturedAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	p.Amount = money.New(amount, money.Currency(currency))
	return &p, nil
}

func scanRefund(row pgx.Row) (*Refund, error) {
	var r Refund
	var amount int64
	var currency string
	err := row.Scan(
		&r.ID, &r.PaymentID, &r.PaymentItemID, &r.GatewayRefundID,
		&amount, &currency, &r.Status, &r.Reason,
		&r.ProcessedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning refund: %w", err)
	}
	r.Amount = money.New(amount, money.Currency(currency))
	return &r, nil
}

// ScanSplits scans split rows. Shared with the escrow and payout stores,
// which read the same table.
func ScanSplits(rows pgx.Rows) ([]*Split, error) {
	var splits []*Split
	for rows.Next() {
		split, err := scanSplitRow(rows)
		if err != nil {
			return nil, err
		}
		splits = append(splits, split)
	}
	return splits, nil
}

func scanSplitRow(rows pgx.Rows) (*Split, error) {
	var sp Split
	var gross, commission, gst, tds, net int64
	var currency string
	err := rows.Scan(
		&sp.ID, &sp.PaymentID, &sp.PaymentItemID, &sp.SellerID,
		&gross, &commission, &gst, &tds, &net,
		&currency, &sp.CommissionBps, &sp.GSTBps, &sp.TDSBps,
		&sp.Status, &sp.HoldStatus, &sp.HoldUntil, &sp.PayoutID,
		&sp.CreatedAt, &sp.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning split: %w", err)
	}
	cur := money.Currency(currency)
	sp.GrossAmount = money.New(gross, cur)
	sp.Commission = money.New(commission, cur)
	sp.GSTAmount = money.New(gst, cur)
	sp.TDSAmount = money.New(tds, cur)
	sp.NetAmount = money.New(net, cur)
	return &sp, nil
}

// SplitColumns exposes the split column list for packages reading the same
// table.
const SplitColumns = splitColumns
