// Package ledger implements the double-entry ledger backing every money
// movement: captures, refunds and payouts all post balanced transactions here.
package ledger

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"artpay/internal/common/money"
)

// EntryType represents the type of ledger entry
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// AccountType identifies which party an entry belongs to.
type AccountType string

const (
	AccountCustomer AccountType = "customer"
	AccountSeller   AccountType = "seller"
	AccountPlatform AccountType = "platform"
	AccountTax      AccountType = "tax"
)

// PlatformOwner is the owner key for the platform and tax accounts.
const PlatformOwner = "platform"

// SourceType represents the business event that produced a transaction.
type SourceType string

const (
	SourceCapture        SourceType = "capture"
	SourceRefund         SourceType = "refund"
	SourcePayout         SourceType = "payout"
	SourcePayoutReversal SourceType = "payout_reversal"
	SourceAdjustment     SourceType = "adjustment"
)

var (
	// ErrImbalanced is returned when debits do not equal credits.
	ErrImbalanced = errors.New("transaction must be balanced (debits must equal credits)")

	// ErrEmptyTransaction is returned for a transaction with no entries.
	ErrEmptyTransaction = errors.New("transaction must have at least one entry")
)

// Entry represents a single ledger entry
type Entry struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transaction_id"`
	AccountType   AccountType `json:"account_type"`
	AccountOwner  string      `json:"account_owner"`
	EntryType     EntryType   `json:"entry_type"`
	Amount        money.Money `json:"amount"`
	BalanceAfter  *int64      `json:"balance_after,omitempty"`
	Description   string      `json:"description,omitempty"`
	Sequence      int         `json:"sequence"`
	CreatedAt     time.Time   `json:"created_at"`
}

// SignedAmount returns the entry amount with credit positive and debit
// negative, the convention used for account balances.
func (e *Entry) SignedAmount() int64 {
	if e.EntryType == EntryTypeCredit {
		return e.Amount.AmountMinor
	}
	return -e.Amount.AmountMinor
}

// Transaction represents a group of balanced entries for one business event.
type Transaction struct {
	ID           string            `json:"id"`
	Reference    string            `json:"reference,omitempty"`
	Description  string            `json:"description,omitempty"`
	SourceType   SourceType        `json:"source_type"`
	SourceID     string            `json:"source_id,omitempty"`
	TotalDebits  money.Money       `json:"total_debits"`
	TotalCredits money.Money       `json:"total_credits"`
	EntryCount   int               `json:"entry_count"`
	ReversesID   *string           `json:"reverses_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Entries      []*Entry          `json:"entries,omitempty"`
}

// Validate validates a transaction is balanced
func (t *Transaction) Validate() error {
	if len(t.Entries) == 0 {
		return ErrEmptyTransaction
	}

	if t.TotalDebits.Currency != t.TotalCredits.Currency {
		return errors.New("transaction currencies do not match")
	}

	var debits, credits int64
	for _, entry := range t.Entries {
		if entry.EntryType == EntryTypeDebit {
			debits += entry.Amount.AmountMinor
		} else {
			credits += entry.Amount.AmountMinor
		}
	}

	if debits != credits {
		return ErrImbalanced
	}

	if debits != t.TotalDebits.AmountMinor || credits != t.TotalCredits.AmountMinor {
		return errors.New("entry totals do not match transaction totals")
	}

	return nil
}

// TransactionBuilder helps construct valid balanced transactions
type TransactionBuilder struct {
	txn     *Transaction
	debits  int64
	credits int64
	seq     int
	err     error
}

// NewTransaction creates a new transaction builder
func NewTransaction(sourceType SourceType, sourceID string, currency money.Currency) *TransactionBuilder {
	return &TransactionBuilder{
		txn: &Transaction{
			ID:           ulid.Make().String(),
			SourceType:   sourceType,
			SourceID:     sourceID,
			TotalDebits:  money.Zero(currency),
			TotalCredits: money.Zero(currency),
			Metadata:     make(map[string]string),
			CreatedAt:    time.Now().UTC(),
		},
	}
}

// WithReference sets the external reference
func (b *TransactionBuilder) WithReference(reference string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.txn.Reference = reference
	return b
}

// WithDescription sets the description
func (b *TransactionBuilder) WithDescription(description string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.txn.Description = description
	return b
}

// WithMetadata adds metadata
func (b *TransactionBuilder) WithMetadata(key, value string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.txn.Metadata[key] = value
	return b
}

func (b *TransactionBuilder) addEntry(accountType AccountType, owner string, entryType EntryType, amount money.Money, description string) {
	if b.err != nil {
		return
	}
	if owner == "" {
		b.err = errors.New("account owner is required")
		return
	}
	if amount.AmountMinor <= 0 {
		b.err = errors.New("entry amount must be positive")
		return
	}
	if amount.Currency != b.txn.TotalDebits.Currency {
		b.err = errors.New("entry currency must match transaction currency")
		return
	}

	b.seq++
	entry := &Entry{
		ID:            ulid.Make().String(),
		TransactionID: b.txn.ID,
		AccountType:   accountType,
		AccountOwner:  owner,
		EntryType:     entryType,
		Amount:        amount,
		Description:   description,
		Sequence:      b.seq,
		CreatedAt:     time.Now().UTC(),
	}
	b.txn.Entries = append(b.txn.Entries, entry)

	if entryType == EntryTypeDebit {
		b.debits += amount.AmountMinor
	} else {
		b.credits += amount.AmountMinor
	}
}

// Debit adds a debit entry against the account
func (b *TransactionBuilder) Debit(accountType AccountType, owner string, amount money.Money, description string) *TransactionBuilder {
	b.addEntry(accountType, owner, EntryTypeDebit, amount, description)
	return b
}

// Credit adds a credit entry against the account
func (b *TransactionBuilder) Credit(accountType AccountType, owner string, amount money.Money, description string) *TransactionBuilder {
	b.addEntry(accountType, owner, EntryTypeCredit, amount, description)
	return b
}

// Build validates and returns the transaction
func (b *TransactionBuilder) Build() (*Transaction, error) {
	if b.err != nil {
		return nil, b.err
	}

	if len(b.txn.Entries) == 0 {
		return nil, ErrEmptyTransaction
	}

	if b.debits != b.credits {
		return nil, ErrImbalanced
	}

	b.txn.TotalDebits.AmountMinor = b.debits
	b.txn.TotalCredits.AmountMinor = b.credits
	b.txn.EntryCount = len(b.txn.Entries)

	return b.txn, nil
}

// ReversalOf builds a transaction that offsets every entry of the original:
// debits become credits and credits become debits.
func ReversalOf(original *Transaction, sourceType SourceType, sourceID, reason string) (*Transaction, error) {
	builder := NewTransaction(sourceType, sourceID, original.TotalDebits.Currency).
		WithDescription(reason).
		WithMetadata("reverses", original.ID)

	for _, entry := range original.Entries {
		if entry.EntryType == EntryTypeDebit {
			builder.Credit(entry.AccountType, entry.AccountOwner, entry.Amount, reason)
		} else {
			builder.Debit(entry.AccountType, entry.AccountOwner, entry.Amount, reason)
		}
	}

	txn, err := builder.Build()
	if err != nil {
		return nil, err
	}
	txn.ReversesID = &original.ID
	return txn, nil
}
