package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artpay/internal/common/money"
	"artpay/internal/seller"
)

func TestComputeSplitDefaults(t *testing.T) {
	// 1000.00 INR at 5% commission, 18% GST on commission, 1% TDS.
	result, err := ComputeSplit(money.New(100000, money.INR), seller.DefaultRates())
	require.NoError(t, err)

	assert.Equal(t, int64(5000), result.Commission.AmountMinor)
	assert.Equal(t, int64(900), result.GSTOnCommission.AmountMinor)
	assert.Equal(t, int64(1000), result.TDS.AmountMinor)
	assert.Equal(t, int64(93100), result.Net.AmountMinor)
}

func TestComputeSplitIdentity(t *testing.T) {
	rates := seller.DefaultRates()

	// Awkward amounts that force rounding in every component.
	for _, gross := range []int64{1, 3, 99, 101, 999, 12345, 99999, 1000001, 7777777} {
		result, err := ComputeSplit(money.New(gross, money.INR), rates)
		require.NoError(t, err, "gross=%d", gross)

		sum := result.Commission.AmountMinor +
			result.GSTOnCommission.AmountMinor +
			result.TDS.AmountMinor +
			result.Net.AmountMinor
		assert.Equal(t, gross, sum, "gross=%d", gross)
	}
}

func TestComputeSplitHalfUpRounding(t *testing.T) {
	// 101 * 5% = 5.05 rounds to 5; GST 5 * 18% = 0.9 rounds to 1.
	result, err := ComputeSplit(money.New(101, money.INR), seller.DefaultRates())
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.Commission.AmountMinor)
	assert.Equal(t, int64(1), result.GSTOnCommission.AmountMinor)
	assert.Equal(t, int64(1), result.TDS.AmountMinor)
	assert.Equal(t, int64(94), result.Net.AmountMinor)
}

func TestComputeSplitTDSExempt(t *testing.T) {
	rates := seller.DefaultRates()
	rates.TDSExempt = true

	result, err := ComputeSplit(money.New(100000, money.INR), rates)
	require.NoError(t, err)

	assert.True(t, result.TDS.IsZero())
	assert.Equal(t, int64(94100), result.Net.AmountMinor)
}

func TestComputeSplitZeroRates(t *testing.T) {
	result, err := ComputeSplit(money.New(100000, money.INR), seller.Rates{})
	require.NoError(t, err)

	assert.True(t, result.Commission.IsZero())
	assert.True(t, result.GSTOnCommission.IsZero())
	assert.True(t, result.TDS.IsZero())
	assert.Equal(t, int64(100000), result.Net.AmountMinor)
}

func TestComputeSplitRejectsNonPositiveGross(t *testing.T) {
	_, err := ComputeSplit(money.New(0, money.INR), seller.DefaultRates())
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ComputeSplit(money.New(-100, money.INR), seller.DefaultRates())
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestComputeSplitRejectsOutOfRangeRates(t *testing.T) {
	rates := seller.DefaultRates()
	rates.CommissionBps = 10001

	_, err := ComputeSplit(money.New(100000, money.INR), rates)
	assert.ErrorIs(t, err, ErrRateOutOfRange)

	rates = seller.DefaultRates()
	rates.GSTBps = -1

	_, err = ComputeSplit(money.New(100000, money.INR), rates)
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}

func TestComputeSplitRejectsNegativeNet(t *testing.T) {
	// Commission and TDS together exceed the gross.
	rates := seller.Rates{CommissionBps: 9500, GSTBps: 10000, TDSBps: 1000}

	_, err := ComputeSplit(money.New(100000, money.INR), rates)
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}
