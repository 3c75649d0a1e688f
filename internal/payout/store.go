package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"artpay/internal/common/database"
	"artpay/internal/common/money"
	"artpay/internal/ledger"
	"artpay/internal/payment"
)

// PGStore provides payout data access backed by Postgres.
type PGStore struct {
	db     *database.DB
	ledger *ledger.Store
}

// NewStore creates a new payout store
func NewStore(db *database.DB, ledgerStore *ledger.Store) *PGStore {
	return &PGStore{db: db, ledger: ledgerStore}
}

// PendingBalance returns the sum of released, unreserved split nets.
func (s *PGStore) PendingBalance(ctx context.Context, sellerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(net_minor), 0)
		FROM payment_splits
		WHERE seller_id = $1 AND status = $2
	`, sellerID, payment.SplitSettled).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("computing pending balance: %w", err)
	}
	return balance, nil
}

// Reserve locks released splits oldest first and reserves whole splits until
// their nets cover the requested amount, then inserts the PENDING payout row.
// SKIP LOCKED keeps concurrent requests from blocking on the same rows; the
// conditional reservation update means exactly one request wins each split.
// A shortfall rolls everything back and reserves nothing.
func (s *PGStore) Reserve(ctx context.Context, p *Payout, requestedMinor int64) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, net_minor, currency
			FROM payment_splits
			WHERE seller_id = $1 AND status = $2
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
		`, p.SellerID, payment.SplitSettled)
		if err != nil {
			return fmt.Errorf("locking released splits: %w", err)
		}

		var splitIDs []string
		var reserved int64
		currency := p.Amount.Currency
		for rows.Next() {
			var id string
			var net int64
			var cur string
			if err := rows.Scan(&id, &net, &cur); err != nil {
				rows.Close()
				return fmt.Errorf("scanning split: %w", err)
			}
			if money.Currency(cur) != currency {
				continue
			}
			splitIDs = append(splitIDs, id)
			reserved += net
			if reserved >= requestedMinor {
				break
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating splits: %w", err)
		}

		if reserved < requestedMinor {
			return ErrInsufficientBalance
		}

		tag, err := tx.Exec(ctx, `
			UPDATE payment_splits
			SET status = $1, payout_id = $2, updated_at = $3
			WHERE id = ANY($4) AND status = $5
		`, payment.SplitPaidPending, p.ID, time.Now().UTC(), splitIDs, payment.SplitSettled)
		if err != nil {
			return fmt.Errorf("reserving splits: %w", err)
		}
		if tag.RowsAffected() != int64(len(splitIDs)) {
			return fmt.Errorf("reserved %d of %d splits: %w", tag.RowsAffected(), len(splitIDs), database.ErrConflict)
		}

		p.Amount = money.New(reserved, currency)
		p.SplitCount = len(splitIDs)

		_, err = tx.Exec(ctx, `
			INSERT INTO payouts (
				id, seller_id, bank_account_id, amount_minor, currency, status,
				gateway_payout_id, utr, failure_reason, split_count,
				scheduled_at, submitted_at, paid_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			p.ID, p.SellerID, p.BankAccountID, p.Amount.AmountMinor, p.Amount.Currency,
			p.Status, p.GatewayPayoutID, p.UTR, p.FailureReason, p.SplitCount,
			p.ScheduledAt, p.SubmittedAt, p.PaidAt, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting payout: %w", err)
		}
		return nil
	})
}

const payoutColumns = `
	id, seller_id, bank_account_id, amount_minor, currency, status,
	gateway_payout_id, utr, failure_reason, split_count,
	scheduled_at, submitted_at, paid_at, created_at, updated_at
`

// GetPayout retrieves a payout by ID
func (s *PGStore) GetPayout(ctx context.Context, id string) (*Payout, error) {
	return scanPayout(s.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
}

// GetByGatewayID retrieves a payout by its gateway reference
func (s *PGStore) GetByGatewayID(ctx context.Context, gatewayPayoutID string) (*Payout, error) {
	return scanPayout(s.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE gateway_payout_id = $1`, gatewayPayoutID))
}

// ListForSeller returns a seller's payout history, newest first
func (s *PGStore) ListForSeller(ctx context.Context, sellerID string, limit, offset int) ([]*Payout, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE seller_id = $1`, sellerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting payouts: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, sellerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*Payout
	for rows.Next() {
		p, err := scanPayoutRows(rows)
		if err != nil {
			return nil, 0, err
		}
		payouts = append(payouts, p)
	}
	return payouts, total, nil
}

// ListDue returns PENDING payouts whose scheduled time has arrived.
func (s *PGStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Payout, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
	`, StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*Payout
	for rows.Next() {
		p, err := scanPayoutRows(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, nil
}

// MarkProcessing records gateway acceptance of a PENDING payout.
func (s *PGStore) MarkProcessing(ctx context.Context, id, gatewayPayoutID string) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE payouts
		SET status = $1, gateway_payout_id = $2, submitted_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
	`, StatusProcessing, gatewayPayoutID, now, id, StatusPending)
	if err != nil {
		return fmt.Errorf("marking payout processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout %s is not pending: %w", id, ErrInvalidTransition)
	}
	return nil
}

// MarkFailedAndRelease fails a payout and returns its reserved splits to the
// available pool in one transaction. Already-failed payouts are no-ops.
func (s *PGStore) MarkFailedAndRelease(ctx context.Context, id, reason string) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE payouts
			SET status = $1, failure_reason = $2, updated_at = $3
			WHERE id = $4 AND status IN ($5, $6)
		`, StatusFailed, reason, now, id, StatusPending, StatusProcessing)
		if err != nil {
			return fmt.Errorf("marking payout failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var current Status
			if err := tx.QueryRow(ctx, `SELECT status FROM payouts WHERE id = $1`, id).Scan(&current); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return database.ErrNotFound
				}
				return fmt.Errorf("checking payout status: %w", err)
			}
			if current == StatusFailed {
				return nil
			}
			return fmt.Errorf("payout is %s: %w", current, ErrInvalidTransition)
		}

		_, err = tx.Exec(ctx, `
			UPDATE payment_splits
			SET status = $1, payout_id = NULL, updated_at = $2
			WHERE payout_id = $3 AND status = $4
		`, payment.SplitSettled, now, id, payment.SplitPaidPending)
		if err != nil {
			return fmt.Errorf("releasing reserved splits: %w", err)
		}
		return nil
	})
}

// Complete atomically marks a PROCESSING payout PAID, flips its splits to
// PAID and records the payout ledger transaction. Returns false without
// error when the payout was already paid. Runs serializable because the
// ledger balance snapshots require it.
func (s *PGStore) Complete(ctx context.Context, id, utr string, paidAt time.Time, txn *ledger.Transaction) (bool, error) {
	completed := false
	err := database.Retry(ctx, 3, func() error {
		completed = false
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE payouts
				SET status = $1, utr = $2, paid_at = $3, updated_at = $3
				WHERE id = $4 AND status IN ($5, $6)
			`, StatusPaid, utr, paidAt, id, StatusProcessing, StatusPending)
			if err != nil {
				return fmt.Errorf("marking payout paid: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}

			_, err = tx.Exec(ctx, `
				UPDATE payment_splits
				SET status = $1, updated_at = $2
				WHERE payout_id = $3 AND status = $4
			`, payment.SplitPaid, paidAt, id, payment.SplitPaidPending)
			if err != nil {
				return fmt.Errorf("settling paid splits: %w", err)
			}

			if err := s.ledger.RecordTx(ctx, tx, txn); err != nil {
				return fmt.Errorf("recording payout ledger transaction: %w", err)
			}

			completed = true
			return nil
		})
	})
	return completed, err
}

// Reverse atomically marks a PAID payout REVERSED, returns its splits to the
// available pool and records the reversing ledger transaction. Returns false
// without error when the payout was already reversed. Runs serializable
// because the ledger balance snapshots require it.
func (s *PGStore) Reverse(ctx context.Context, id, reason string, txn *ledger.Transaction) (bool, error) {
	reversed := false
	err := database.Retry(ctx, 3, func() error {
		reversed = false
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			now := time.Now().UTC()
			tag, err := tx.Exec(ctx, `
				UPDATE payouts
				SET status = $1, failure_reason = $2, updated_at = $3
				WHERE id = $4 AND status = $5
			`, StatusReversed, reason, now, id, StatusPaid)
			if err != nil {
				return fmt.Errorf("marking payout reversed: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}

			_, err = tx.Exec(ctx, `
				UPDATE payment_splits
				SET status = $1, payout_id = NULL, updated_at = $2
				WHERE payout_id = $3 AND status = $4
			`, payment.SplitSettled, now, id, payment.SplitPaid)
			if err != nil {
				return fmt.Errorf("releasing reversed splits: %w", err)
			}

			if err := s.ledger.RecordTx(ctx, tx, txn); err != nil {
				return fmt.Errorf("recording reversal ledger transaction: %w", err)
			}

			reversed = true
			return nil
		})
	})
	return reversed, err
}

// EarningsSummary aggregates a seller's splits by settlement state.
func (s *PGStore) EarningsSummary(ctx context.Context, sellerID string) (*Earnings, error) {
	e := &Earnings{SellerID: sellerID, Currency: money.INR}
	err := s.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(gross_minor), 0),
			COALESCE(SUM(commission_minor), 0),
			COALESCE(SUM(gst_minor), 0),
			COALESCE(SUM(tds_minor), 0),
			COALESCE(SUM(net_minor), 0),
			COALESCE(SUM(net_minor) FILTER (WHERE status = $2), 0),
			COALESCE(SUM(net_minor) FILTER (WHERE status = $3), 0),
			COALESCE(SUM(net_minor) FILTER (WHERE status = $4), 0),
			COALESCE(SUM(net_minor) FILTER (WHERE status = $5), 0),
			COALESCE(MIN(currency), $6)
		FROM payment_splits
		WHERE seller_id = $1
	`, sellerID,
		payment.SplitPending, payment.SplitSettled,
		payment.SplitPaidPending, payment.SplitPaid,
		money.INR,
	).Scan(
		&e.TotalGross, &e.TotalCommission, &e.TotalGST, &e.TotalTDS, &e.TotalNet,
		&e.HeldNet, &e.AvailableNet, &e.ReservedNet, &e.PaidNet, &e.Currency,
	)
	if err != nil {
		return nil, fmt.Errorf("summarizing earnings: %w", err)
	}
	return e, nil
}

func scanPayout(row pgx.Row) (*Payout, error) {
	var p Payout
	var amount int64
	var currency string
	err := row.Scan(
		&p.ID, &p.SellerID, &p.BankAccountID, &amount, &currency, &p.Status,
		&p.GatewayPayoutID, &p.UTR, &p.FailureReason, &p.SplitCount,
		&p.ScheduledAt, &p.SubmittedAt, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning payout: %w", err)
	}
	p.Amount = money.New(amount, money.Currency(currency))
	return &p, nil
}

func scanPayoutRows(rows pgx.Rows) (*Payout, error) {
	var p Payout
	var amount int64
	var currency string
	err := rows.Scan(
		&p.ID, &p.SellerID, &p.BankAccountID, &amount, &currency, &p.Status,
		&p.GatewayPayoutID, &p.UTR, &p.FailureReason, &p.SplitCount,
		&p.ScheduledAt, &p.SubmittedAt, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning payout: %w", err)
	}
	p.Amount = money.New(amount, money.Currency(currency))
	return &p, nil
}
