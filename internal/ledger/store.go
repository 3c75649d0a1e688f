package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"artpay/internal/common/database"
	"artpay/internal/common/money"
)

// Store provides ledger data access. Tables are append-only: transactions and
// entries are never updated or deleted, reversals add offsetting rows.
type Store struct {
	db *database.DB
}

// NewStore creates a new ledger store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Record persists a balanced transaction in its own serializable database
// transaction, retried on serialization failure.
func (s *Store) Record(ctx context.Context, txn *Transaction) error {
	return database.Retry(ctx, 3, func() error {
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			return s.RecordTx(ctx, tx, txn)
		})
	})
}

// RecordTx persists a balanced transaction within an existing database
// transaction, so callers can post ledger entries atomically with their own
// state changes. Balance snapshots extend the account tail, so the enclosing
// transaction must run at serializable isolation: two read-committed writers
// on the same account would both read the same tail and lose a movement.
func (s *Store) RecordTx(ctx context.Context, tx pgx.Tx, txn *Transaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}

	txnQuery := `
		INSERT INTO ledger_transactions (
			id, reference, description, source_type, source_id,
			total_debits, total_credits, entry_count, currency,
			reverses_id, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := tx.Exec(ctx, txnQuery,
		txn.ID,
		txn.Reference,
		txn.Description,
		txn.SourceType,
		txn.SourceID,
		txn.TotalDebits.AmountMinor,
		txn.TotalCredits.AmountMinor,
		txn.EntryCount,
		txn.TotalDebits.Currency,
		txn.ReversesID,
		txn.Metadata,
		txn.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("transaction %s already recorded: %w", txn.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}

	entryQuery := `
		INSERT INTO ledger_entries (
			id, transaction_id, account_type, account_owner, entry_type,
			amount, currency, balance_after, description, sequence, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	for _, entry := range txn.Entries {
		var currentBalance int64
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(
				(SELECT balance_after FROM ledger_entries
				 WHERE account_type = $1 AND account_owner = $2
				 ORDER BY created_at DESC, sequence DESC LIMIT 1),
				0
			)
		`, entry.AccountType, entry.AccountOwner).Scan(&currentBalance)
		if err != nil {
			return fmt.Errorf("getting current balance: %w", err)
		}

		newBalance := currentBalance + entry.SignedAmount()
		entry.BalanceAfter = &newBalance

		_, err = tx.Exec(ctx, entryQuery,
			entry.ID,
			entry.TransactionID,
			entry.AccountType,
			entry.AccountOwner,
			entry.EntryType,
			entry.Amount.AmountMinor,
			entry.Amount.Currency,
			entry.BalanceAfter,
			entry.Description,
			entry.Sequence,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting entry: %w", err)
		}
	}

	return nil
}

// GetTransaction retrieves a transaction with its entries
func (s *Store) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	query := `
		SELECT id, reference, description, source_type, source_id,
			   total_debits, total_credits, entry_count, currency,
			   reverses_id, metadata, created_at
		FROM ledger_transactions
		WHERE id = $1
	`

	txn, err := scanTransaction(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	entries, err := s.entriesForTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	txn.Entries = entries

	return txn, nil
}

// GetBySource retrieves the transaction recorded for a business event.
func (s *Store) GetBySource(ctx context.Context, sourceType SourceType, sourceID string) (*Transaction, error) {
	query := `
		SELECT id, reference, description, source_type, source_id,
			   total_debits, total_credits, entry_count, currency,
			   reverses_id, metadata, created_at
		FROM ledger_transactions
		WHERE source_type = $1 AND source_id = $2
		ORDER BY created_at
		LIMIT 1
	`

	txn, err := scanTransaction(s.db.QueryRow(ctx, query, sourceType, sourceID))
	if err != nil {
		return nil, err
	}

	entries, err := s.entriesForTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	txn.Entries = entries

	return txn, nil
}

func (s *Store) entriesForTransaction(ctx context.Context, transactionID string) ([]*Entry, error) {
	query := `
		SELECT id, transaction_id, account_type, account_owner, entry_type,
			   amount, currency, balance_after, description, sequence, created_at
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY sequence
	`

	rows, err := s.db.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("getting entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// EntriesFor retrieves entries for an account, newest first
func (s *Store) EntriesFor(ctx context.Context, accountType AccountType, owner string, from, to *time.Time, limit, offset int) ([]*Entry, int64, error) {
	countQuery := `SELECT COUNT(*) FROM ledger_entries WHERE account_type = $1 AND account_owner = $2`
	query := `
		SELECT id, transaction_id, account_type, account_owner, entry_type,
			   amount, currency, balance_after, description, sequence, created_at
		FROM ledger_entries
		WHERE account_type = $1 AND account_owner = $2
	`
	args := []interface{}{accountType, owner}
	argIdx := 3

	if from != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *from)
		argIdx++
	}

	if to != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		query += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		args = append(args, *to)
	}

	var total int64
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting entries: %w", err)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, sequence DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	return entries, total, err
}

// BalanceFor retrieves the current balance for an account, credit positive.
func (s *Store) BalanceFor(ctx context.Context, accountType AccountType, owner string) (int64, error) {
	query := `
		SELECT COALESCE(
			(SELECT balance_after FROM ledger_entries
			 WHERE account_type = $1 AND account_owner = $2
			 ORDER BY created_at DESC, sequence DESC LIMIT 1),
			0
		)
	`

	var balance int64
	if err := s.db.QueryRow(ctx, query, accountType, owner).Scan(&balance); err != nil {
		return 0, fmt.Errorf("getting balance: %w", err)
	}

	return balance, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var totalDebits, totalCredits int64
	var currency string
	err := row.Scan(
		&t.ID, &t.Reference, &t.Description, &t.SourceType, &t.SourceID,
		&totalDebits, &totalCredits, &t.EntryCount, &currency,
		&t.ReversesID, &t.Metadata, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	t.TotalDebits = money.New(totalDebits, money.Currency(currency))
	t.TotalCredits = money.New(totalCredits, money.Currency(currency))
	return &t, nil
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var e Entry
		var amount int64
		var currency string
		err := rows.Scan(
			&e.ID, &e.TransactionID, &e.AccountType, &e.AccountOwner, &e.EntryType,
			&amount, &currency, &e.BalanceAfter, &e.Description, &e.Sequence, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Amount = money.New(amount, money.Currency(currency))
		entries = append(entries, &e)
	}
	return entries, nil
}
