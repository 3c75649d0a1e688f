package escrow

import (
	"context"
	"fmt"
	"time"

	"artpay/internal/common/database"
	"artpay/internal/payment"
)

// PGStore reads and releases holds on the payment_splits table.
type PGStore struct {
	db *database.DB
}

// NewStore creates a new escrow store
func NewStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

// ScanReleasable returns HELD splits with an elapsed hold period.
func (s *PGStore) ScanReleasable(ctx context.Context, now time.Time, limit int) ([]*payment.Split, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+payment.SplitColumns+`
		FROM payment_splits
		WHERE hold_status = $1 AND hold_until <= $2
		ORDER BY hold_until
		LIMIT $3
	`, payment.HoldHeld, now, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning releasable splits: %w", err)
	}
	defer rows.Close()

	return payment.ScanSplits(rows)
}

// Release flips a HELD split to RELEASED/SETTLED. The WHERE guard makes a
// repeated or concurrent release a no-op.
func (s *PGStore) Release(ctx context.Context, splitID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payment_splits
		SET hold_status = $1, status = $2, updated_at = $3
		WHERE id = $4 AND hold_status = $5
	`, payment.HoldReleased, payment.SplitSettled, time.Now().UTC(), splitID, payment.HoldHeld)
	if err != nil {
		return false, fmt.Errorf("releasing split: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
