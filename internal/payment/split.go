package payment

import (
	"errors"

	"artpay/internal/common/money"
	"artpay/internal/seller"
)

var (
	// ErrNonPositiveAmount is returned when the gross amount is zero or
	// negative.
	ErrNonPositiveAmount = errors.New("gross amount must be positive")

	// ErrRateOutOfRange is returned for basis points outside [0, 10000].
	ErrRateOutOfRange = errors.New("basis points must be in [0, 10000]")
)

// SplitResult is the deterministic breakdown of a gross amount. The identity
// Commission + GSTOnCommission + TDS + Net == gross holds exactly.
type SplitResult struct {
	Commission      money.Money `json:"commission"`
	GSTOnCommission money.Money `json:"gst_on_commission"`
	TDS             money.Money `json:"tds"`
	Net             money.Money `json:"net"`
}

// ComputeSplit breaks a gross amount into commission, GST on commission, TDS
// and the seller's net. All arithmetic is integer minor units with half-up
// rounding; the net absorbs every rounding remainder so the parts always sum
// back to the gross.
func ComputeSplit(gross money.Money, rates seller.Rates) (SplitResult, error) {
	if gross.AmountMinor <= 0 {
		return SplitResult{}, ErrNonPositiveAmount
	}
	for _, bps := range []int64{rates.CommissionBps, rates.GSTBps, rates.TDSBps} {
		if bps < 0 || bps > 10000 {
			return SplitResult{}, ErrRateOutOfRange
		}
	}

	commission := gross.PercentBps(rates.CommissionBps)
	gst := commission.PercentBps(rates.GSTBps)

	tds := money.Zero(gross.Currency)
	if !rates.TDSExempt {
		tds = gross.PercentBps(rates.TDSBps)
	}

	net := gross.MustSub(commission).MustSub(gst).MustSub(tds)
	if net.AmountMinor < 0 {
		return SplitResult{}, ErrRateOutOfRange
	}

	return SplitResult{
		Commission:      commission,
		GSTOnCommission: gst,
		TDS:             tds,
		Net:             net,
	}, nil
}
