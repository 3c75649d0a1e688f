package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentBpsHalfUp(t *testing.T) {
	cases := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{100000, 500, 5000},
		{101, 500, 5},     // 5.05 rounds down
		{110, 500, 6},     // 5.5 rounds up
		{130, 500, 7},     // 6.5 rounds up
		{1, 500, 0},       // 0.05 rounds down
		{10, 500, 1},      // 0.5 rounds up
		{100000, 0, 0},
		{100000, 10000, 100000},
		{99999, 100, 1000}, // 999.99 rounds up
	}

	for _, tc := range cases {
		got := New(tc.amount, INR).PercentBps(tc.bps)
		assert.Equal(t, tc.want, got.AmountMinor, "amount=%d bps=%d", tc.amount, tc.bps)
		assert.Equal(t, INR, got.Currency)
	}
}

func TestAddSubCurrencyMismatch(t *testing.T) {
	_, err := New(100, INR).Add(New(100, USD))
	assert.Error(t, err)

	_, err = New(100, INR).Sub(New(100, USD))
	assert.Error(t, err)
}

func TestSubNegativeResult(t *testing.T) {
	result, err := New(100, INR).Sub(New(150, INR))
	require.NoError(t, err)
	assert.Equal(t, int64(-50), result.AmountMinor)
	assert.True(t, result.IsNegative())
}

func TestCompare(t *testing.T) {
	a := New(100, INR)
	b := New(200, INR)

	assert.True(t, a.LessThan(b))
	assert.True(t, b.GreaterThan(a))
	assert.True(t, a.Equal(New(100, INR)))
	assert.False(t, a.Equal(New(100, USD)))
}

func TestZero(t *testing.T) {
	z := Zero(INR)
	assert.True(t, z.IsZero())
	assert.False(t, z.IsPositive())
	assert.False(t, z.IsNegative())
}
