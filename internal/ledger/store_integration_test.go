//go:build integration

package ledger_test

import (
	"context"
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

// Concurrent postings to the same account must never lose a movement: the
// final balance snapshot has to equal the sum of all entries.
func TestRecordConcurrentSameAccount(t *testing.T) {
	db := setupDB(t)
	store := ledger.NewStore(db)

	sellerID := "seller_" + ulid.Make().String()
	customerID := "cust_" + ulid.Make().String()
	const workers = 4
	const net = int64(931)

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, err := ledger.NewTransaction(ledger.SourceCapture, ulid.Make().String(), money.INR).
				Debit(ledger.AccountCustomer, customerID, money.New(net, money.INR), "capture").
				Credit(ledger.AccountSeller, sellerID, money.New(net, money.INR), "seller net").
				Build()
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = store.Record(context.Background(), txn)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	balance, err := store.BalanceFor(context.Background(), ledger.AccountSeller, sellerID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers)*net, balance)

	customerBalance, err := store.BalanceFor(context.Background(), ledger.AccountCustomer, customerID)
	require.NoError(t, err)
	assert.Equal(t, -int64(workers)*net, customerBalance)
}
