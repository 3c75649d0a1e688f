package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artpay/internal/common/money"
)

func TestTransactionBuilderBalanced(t *testing.T) {
	txn, err := NewTransaction(SourceCapture, "pay_1", money.INR).
		WithReference("order_1").
		Debit(AccountCustomer, "cust_1", money.New(100000, money.INR), "payment capture").
		Credit(AccountSeller, "seller_1", money.New(93100, money.INR), "seller net").
		Credit(AccountPlatform, PlatformOwner, money.New(5000, money.INR), "commission").
		Credit(AccountTax, PlatformOwner, money.New(1900, money.INR), "gst and tds").
		Build()
	require.NoError(t, err)

	assert.NotEmpty(t, txn.ID)
	assert.Equal(t, SourceCapture, txn.SourceType)
	assert.Equal(t, "pay_1", txn.SourceID)
	assert.Equal(t, int64(100000), txn.TotalDebits.AmountMinor)
	assert.Equal(t, int64(100000), txn.TotalCredits.AmountMinor)
	assert.Equal(t, 4, txn.EntryCount)
	assert.NoError(t, txn.Validate())
}

func TestTransactionBuilderImbalanced(t *testing.T) {
	_, err := NewTransaction(SourceCapture, "pay_1", money.INR).
		Debit(AccountCustomer, "cust_1", money.New(100000, money.INR), "").
		Credit(AccountSeller, "seller_1", money.New(99999, money.INR), "").
		Build()
	assert.ErrorIs(t, err, ErrImbalanced)
}

func TestTransactionBuilderEmpty(t *testing.T) {
	_, err := NewTransaction(SourceCapture, "pay_1", money.INR).Build()
	assert.ErrorIs(t, err, ErrEmptyTransaction)
}

func TestSignedAmount(t *testing.T) {
	credit := &Entry{EntryType: EntryTypeCredit, Amount: money.New(500, money.INR)}
	debit := &Entry{EntryType: EntryTypeDebit, Amount: money.New(500, money.INR)}

	assert.Equal(t, int64(500), credit.SignedAmount())
	assert.Equal(t, int64(-500), debit.SignedAmount())
}

func TestReversalOf(t *testing.T) {
	original, err := NewTransaction(SourcePayout, "pout_1", money.INR).
		Debit(AccountSeller, "seller_1", money.New(93100, money.INR), "payout").
		Credit(AccountPlatform, PlatformOwner, money.New(93100, money.INR), "payout clearing").
		Build()
	require.NoError(t, err)

	reversal, err := ReversalOf(original, SourcePayoutReversal, "pout_1", "bank returned transfer")
	require.NoError(t, err)

	require.NotNil(t, reversal.ReversesID)
	assert.Equal(t, original.ID, *reversal.ReversesID)
	assert.Equal(t, SourcePayoutReversal, reversal.SourceType)
	assert.NoError(t, reversal.Validate())

	require.Len(t, reversal.Entries, 2)
	for i, entry := range reversal.Entries {
		orig := original.Entries[i]
		assert.Equal(t, orig.AccountType, entry.AccountType)
		assert.Equal(t, orig.AccountOwner, entry.AccountOwner)
		assert.Equal(t, orig.Amount, entry.Amount)
		assert.NotEqual(t, orig.EntryType, entry.EntryType)
	}
}
