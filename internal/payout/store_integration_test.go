//go:build integration

package payout_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artpay/internal/common/database"
	"artpay/internal/common/money"
	"artpay/internal/ledger"
	"artpay/internal/payment"
	"artpay/internal/payout"
	"artpay/migrations"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, database.Migrate(migrations.FS, migrations.Dir, url, logger))
	db, err := database.New(context.Background(), database.Config{
		URL:             url,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

// seedSettledSplits creates a verified bank account, a captured payment and
// one SETTLED split per net, oldest first. Fees are zeroed so the split
// identity check holds with gross == net.
func seedSettledSplits(t *testing.T, db *database.DB, sellerID string, nets []int64) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	bankID := "ba_" + ulid.Make().String()
	_, err := db.Exec(ctx, `
		INSERT INTO seller_bank_accounts (
			id, seller_id, account_number, ifsc, holder_name, status,
			is_primary, is_active, fail_reason, verified_at, created_at, updated_at
		) VALUES ($1, $2, '0011223344', 'HDFC0000001', 'Asha Prints', 'VERIFIED',
			TRUE, TRUE, '', $3, $3, $3)
	`, bankID, sellerID, now)
	require.NoError(t, err)

	paymentID := "pay_" + ulid.Make().String()
	var total int64
	for _, net := range nets {
		total += net
	}
	_, err = db.Exec(ctx, `
		INSERT INTO payments (
			id, customer_id, gateway_order_id, gateway_payment_id, amount_minor,
			currency, status, idempotency_key, captured_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $9)
	`, paymentID, "cust_"+ulid.Make().String(), "order_"+ulid.Make().String(),
		"gwpay_"+ulid.Make().String(), total, money.INR, payment.StatusCaptured,
		ulid.Make().String(), now)
	require.NoError(t, err)

	for i, net := range nets {
		itemID := fmt.Sprintf("item_%s_%d", paymentID, i)
		createdAt := now.Add(time.Duration(i) * time.Millisecond)
		_, err = db.Exec(ctx, `
			INSERT INTO payment_items (
				id, payment_id, seller_id, amount_minor, currency, description, created_at
			) VALUES ($1, $2, $3, $4, $5, '', $6)
		`, itemID, paymentID, sellerID, net, money.INR, createdAt)
		require.NoError(t, err)

		_, err = db.Exec(ctx, `
			INSERT INTO payment_splits (
				id, payment_id, payment_item_id, seller_id,
				gross_minor, commission_minor, gst_minor, tds_minor, net_minor,
				currency, commission_bps, gst_bps, tds_bps,
				status, hold_status, hold_until, payout_id, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $5, $6, 0, 0, 0,
				$7, $8, $9, NULL, $9, $9)
		`, "spl_"+ulid.Make().String(), paymentID, itemID, sellerID,
			net, money.INR, payment.SplitSettled, payment.HoldReleased, createdAt)
		require.NoError(t, err)
	}

	return bankID
}

// Two concurrent requests against the same pool must produce exactly one
// payout: the loser sees the skipped rows as missing balance and reserves
// nothing.
func TestReserveConcurrentSingleWinner(t *testing.T) {
	db := setupDB(t)
	store := payout.NewStore(db, ledger.NewStore(db))

	sellerID := "seller_" + ulid.Make().String()
	bankID := seedSettledSplits(t, db, sellerID, []int64{93100, 46550, 20000})

	newPayout := func() *payout.Payout {
		now := time.Now().UTC()
		return &payout.Payout{
			ID:            ulid.Make().String(),
			SellerID:      sellerID,
			BankAccountID: bankID,
			Amount:        money.Zero(money.INR),
			Status:        payout.StatusPending,
			ScheduledAt:   now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	payouts := [2]*payout.Payout{newPayout(), newPayout()}
	var errs [2]error
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Reserve(context.Background(), payouts[i], 100000)
		}(i)
	}
	wg.Wait()

	var winner *payout.Payout
	for i := range errs {
		if errs[i] == nil {
			require.Nil(t, winner, "both reservations succeeded")
			winner = payouts[i]
		} else {
			assert.ErrorIs(t, errs[i], payout.ErrInsufficientBalance)
		}
	}
	require.NotNil(t, winner, "no reservation succeeded")
	assert.GreaterOrEqual(t, winner.Amount.AmountMinor, int64(100000))

	ctx := context.Background()
	var reservedCount int
	var reservedSum int64
	require.NoError(t, db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(net_minor), 0)
		FROM payment_splits
		WHERE seller_id = $1 AND status = $2 AND payout_id = $3
	`, sellerID, payment.SplitPaidPending, winner.ID).Scan(&reservedCount, &reservedSum))
	assert.Equal(t, winner.SplitCount, reservedCount)
	assert.Equal(t, winner.Amount.AmountMinor, reservedSum)

	var payoutRows int
	require.NoError(t, db.QueryRow(ctx, `
		SELECT COUNT(*) FROM payouts WHERE seller_id = $1
	`, sellerID).Scan(&payoutRows))
	assert.Equal(t, 1, payoutRows)
}
