package payment

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artpay/internal/common/database"
	"artpay/internal/common/money"
	"artpay/internal/gateway"
	"artpay/internal/seller"
)

type fakeStore struct {
	payments map[string]*Payment
	splits   map[string]*Split
	refunds  map[string]*Refund

	captureCalls int
	createErr    error
	lookupMisses int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments: make(map[string]*Payment),
		splits:   make(map[string]*Split),
		refunds:  make(map[string]*Refund),
	}
}

func (f *fakeStore) CreatePayment(ctx context.Context, p *Payment) error {
	if f.createErr != nil {
		err := f.createErr
		f.createErr = nil
		return err
	}
	f.payments[p.ID] = p
	return nil
}

func (f *fakeStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error) {
	if f.lookupMisses > 0 {
		f.lookupMisses--
		return nil, database.ErrNotFound
	}
	for _, p := range f.payments {
		if p.IdempotencyKey == key {
			return p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Payment, error) {
	for _, p := range f.payments {
		if p.GatewayOrderID == gatewayOrderID {
			return p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) Capture(ctx context.Context, params CaptureParams) (bool, error) {
	f.captureCalls++
	p, ok := f.payments[params.PaymentID]
	if !ok {
		return false, database.ErrNotFound
	}
	if p.Status == StatusCaptured {
		return false, nil
	}
	p.Status = StatusCaptured
	p.GatewayPaymentID = params.GatewayPaymentID
	p.CapturedAt = &params.CapturedAt
	for _, split := range params.Splits {
		f.splits[split.ID] = split
	}
	return true, nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id, reason string) error {
	p, ok := f.payments[id]
	if !ok {
		return database.ErrNotFound
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	return nil
}

func (f *fakeStore) ListSplits(ctx context.Context, paymentID string) ([]*Split, error) {
	var out []*Split
	for _, s := range f.splits {
		if s.PaymentID == paymentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSplitForItem(ctx context.Context, paymentItemID string) (*Split, error) {
	for _, s := range f.splits {
		if s.PaymentItemID == paymentItemID {
			return s, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) CreateRefund(ctx context.Context, r *Refund) error {
	f.refunds[r.ID] = r
	return nil
}

func (f *fakeStore) GetRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*Refund, error) {
	for _, r := range f.refunds {
		if r.GatewayRefundID == gatewayRefundID {
			return r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) SumRefunded(ctx context.Context, paymentID string) (int64, error) {
	var sum int64
	for _, r := range f.refunds {
		if r.PaymentID == paymentID && r.Status != RefundFailed {
			sum += r.Amount.AmountMinor
		}
	}
	return sum, nil
}

func (f *fakeStore) SumProcessed(ctx context.Context, paymentID string) (int64, error) {
	var sum int64
	for _, r := range f.refunds {
		if r.PaymentID == paymentID && r.Status == RefundProcessed {
			sum += r.Amount.AmountMinor
		}
	}
	return sum, nil
}

func (f *fakeStore) SumRefundedForItem(ctx context.Context, paymentItemID string) (int64, error) {
	var sum int64
	for _, r := range f.refunds {
		if r.PaymentItemID == paymentItemID && r.Status != RefundFailed {
			sum += r.Amount.AmountMinor
		}
	}
	return sum, nil
}

func (f *fakeStore) CompleteRefund(ctx context.Context, params CompleteRefundParams) (bool, error) {
	for _, r := range f.refunds {
		if r.GatewayRefundID == params.GatewayRefundID {
			if r.Status != RefundPending {
				return false, nil
			}
			r.Status = RefundProcessed
			r.ProcessedAt = &params.ProcessedAt
			if s, ok := f.splits[params.Split.SplitID]; ok &&
				(s.Status == SplitPending || s.Status == SplitSettled) {
				s.GrossAmount.AmountMinor -= params.Split.GrossMinor
				s.Commission.AmountMinor -= params.Split.CommissionMinor
				s.GSTAmount.AmountMinor -= params.Split.GSTMinor
				s.TDSAmount.AmountMinor -= params.Split.TDSMinor
				s.NetAmount.AmountMinor -= params.Split.NetMinor
				if s.GrossAmount.AmountMinor == 0 {
					s.Status = SplitRefunded
					s.HoldStatus = HoldReleased
				}
			}
			f.payments[r.PaymentID].Status = params.PaymentStatus
			return true, nil
		}
	}
	return false, database.ErrNotFound
}

func (f *fakeStore) MarkRefundFailed(ctx context.Context, gatewayRefundID, reason string) error {
	for _, r := range f.refunds {
		if r.GatewayRefundID == gatewayRefundID {
			r.Status = RefundFailed
			r.Reason = reason
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeStore) Analytics(ctx context.Context, from, to time.Time) ([]StatusAggregate, error) {
	counts := make(map[Status]*StatusAggregate)
	for _, p := range f.payments {
		agg, ok := counts[p.Status]
		if !ok {
			agg = &StatusAggregate{Status: p.Status}
			counts[p.Status] = agg
		}
		agg.Count++
		agg.TotalMinor += p.Amount.AmountMinor
	}
	var out []StatusAggregate
	for _, agg := range counts {
		out = append(out, *agg)
	}
	return out, nil
}

type fixedRates struct {
	rates seller.Rates
}

func (f fixedRates) Rates(ctx context.Context, sellerID string) (seller.Rates, error) {
	return f.rates, nil
}

type recordingPublisher struct {
	subjects []string
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, v any) error {
	p.subjects = append(p.subjects, subject)
	return nil
}

func newTestService(store *fakeStore, stub *gateway.Stub) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	svc := NewService(store, stub, fixedRates{seller.DefaultRates()}, pub, Config{
		HoldPeriod:     7 * 24 * time.Hour,
		GatewayTimeout: time.Second,
	}, slog.Default())
	return svc, pub
}

func createTestPayment(t *testing.T, svc *Service, key string) *Payment {
	t.Helper()
	p, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{
		CustomerID:     "cust_1",
		Currency:       money.INR,
		IdempotencyKey: key,
		Items: []ItemRequest{
			{SellerID: "seller_1", AmountMinor: 100000, Description: "print"},
			{SellerID: "seller_2", AmountMinor: 50000, Description: "frame"},
		},
	})
	require.NoError(t, err)
	return p
}

func TestCreatePaymentIdempotentReplay(t *testing.T) {
	store := newFakeStore()
	svc, pub := newTestService(store, gateway.NewStub("secret"))

	first := createTestPayment(t, svc, "key-1")
	second := createTestPayment(t, svc, "key-1")

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.payments, 1)
	assert.Equal(t, []string{SubjectPaymentCreated}, pub.subjects)
}

func TestCreatePaymentInsertRace(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, gateway.NewStub("secret"))

	winner := createTestPayment(t, svc, "key-1")

	// A concurrent insert with the same key lands between this request's
	// replay lookup and its insert. The loser must surface the winner's
	// payment from the refetch.
	store.lookupMisses = 1
	store.createErr = database.ErrAlreadyExists
	loser, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{
		CustomerID:     "cust_1",
		Currency:       money.INR,
		IdempotencyKey: "key-1",
		Items:          []ItemRequest{{SellerID: "seller_1", AmountMinor: 100000}},
	})
	require.NoError(t, err)

	assert.Equal(t, winner.ID, loser.ID)
	assert.Len(t, store.payments, 1)
}

func TestCreatePaymentSumsItems(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, gateway.NewStub("secret"))

	p := createTestPayment(t, svc, "key-1")

	assert.Equal(t, int64(150000), p.Amount.AmountMinor)
	assert.Equal(t, StatusInitiated, p.Status)
	assert.NotEmpty(t, p.GatewayOrderID)
	require.Len(t, p.Items, 2)
}

func TestVerifyAndCaptureInvalidSignature(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := createTestPayment(t, svc, "key-1")

	_, err := svc.VerifyAndCapture(context.Background(), VerifyRequest{
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: "gwpay_1",
		Signature:        "bogus",
	})
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, StatusInitiated, store.payments[p.ID].Status)
}

func TestVerifyAndCapture(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, pub := newTestService(store, stub)

	p := createTestPayment(t, svc, "key-1")

	captured, err := svc.VerifyAndCapture(context.Background(), VerifyRequest{
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: "gwpay_1",
		Signature:        stub.SignCapture(p.GatewayOrderID, "gwpay_1"),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCaptured, captured.Status)
	assert.Equal(t, "gwpay_1", captured.GatewayPaymentID)
	assert.Contains(t, pub.subjects, SubjectPaymentCaptured)

	splits, err := svc.Splits(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, splits, 2)

	for _, split := range splits {
		assert.Equal(t, SplitPending, split.Status)
		assert.Equal(t, HoldHeld, split.HoldStatus)
		assert.Equal(t, int64(500), split.CommissionBps)

		sum := split.Commission.AmountMinor +
			split.GSTAmount.AmountMinor +
			split.TDSAmount.AmountMinor +
			split.NetAmount.AmountMinor
		assert.Equal(t, split.GrossAmount.AmountMinor, sum)
	}
}

func TestCaptureReplayIsNoOp(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := createTestPayment(t, svc, "key-1")
	sig := stub.SignCapture(p.GatewayOrderID, "gwpay_1")

	_, err := svc.VerifyAndCapture(context.Background(), VerifyRequest{
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: "gwpay_1",
		Signature:        sig,
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.captureCalls)

	_, err = svc.VerifyAndCapture(context.Background(), VerifyRequest{
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: "gwpay_1",
		Signature:        sig,
	})
	require.NoError(t, err)

	// The captured status short-circuits before the store is hit again.
	assert.Equal(t, 1, store.captureCalls)
	splits, _ := svc.Splits(context.Background(), p.ID)
	assert.Len(t, splits, 2)
}

func TestFailFromGatewayIgnoresCaptured(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := createTestPayment(t, svc, "key-1")
	_, err := svc.VerifyAndCapture(context.Background(), VerifyRequest{
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: "gwpay_1",
		Signature:        stub.SignCapture(p.GatewayOrderID, "gwpay_1"),
	})
	require.NoError(t, err)

	require.NoError(t, svc.FailFromGateway(context.Background(), p.GatewayOrderID, "bank declined"))
	assert.Equal(t, StatusCaptured, store.payments[p.ID].Status)
}

func TestFailFromGateway(t *testing.T) {
	store := newFakeStore()
	svc, pub := newTestService(store, gateway.NewStub("secret"))

	p := createTestPayment(t, svc, "key-1")

	require.NoError(t, svc.FailFromGateway(context.Background(), p.GatewayOrderID, "bank declined"))
	assert.Equal(t, StatusFailed, store.payments[p.ID].Status)
	assert.Equal(t, "bank declined", store.payments[p.ID].FailureReason)
	assert.Contains(t, pub.subjects, SubjectPaymentFailed)
}

func capturedTestPayment(t *testing.T, svc *Service, stub *gateway.Stub, store *fakeStore) *Payment {
	t.Helper()
	p := createTestPayment(t, svc, fmt.Sprintf("key-%d", len(store.payments)+1))
	_, err := svc.VerifyAndCapture(context.Background(), VerifyRequest{
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: "gwpay_" + p.ID,
		Signature:        stub.SignCapture(p.GatewayOrderID, "gwpay_"+p.ID),
	})
	require.NoError(t, err)
	return store.payments[p.ID]
}

func TestInitiateRefundRequiresCapture(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, gateway.NewStub("secret"))

	p := createTestPayment(t, svc, "key-1")

	_, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[0].ID,
		AmountMinor:   1000,
	})
	assert.ErrorIs(t, err, ErrNotCaptured)
}

func TestInitiateRefundCapsAtItemAmount(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := capturedTestPayment(t, svc, stub, store)

	// Item 0 is 100000; refunding more must fail even though the payment
	// total would allow it.
	_, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[0].ID,
		AmountMinor:   100001,
	})
	assert.ErrorIs(t, err, ErrRefundExceedsPayment)
}

func TestInitiateRefundCumulativeCap(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := capturedTestPayment(t, svc, stub, store)

	first, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[0].ID,
		AmountMinor:   60000,
		Reason:        "damaged in transit",
	})
	require.NoError(t, err)
	assert.Equal(t, RefundPending, first.Status)
	assert.NotEmpty(t, first.GatewayRefundID)

	// A pending refund counts toward the cap.
	_, err = svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[0].ID,
		AmountMinor:   60000,
	})
	assert.ErrorIs(t, err, ErrRefundExceedsPayment)
}

func TestCompleteRefundPartial(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, pub := newTestService(store, stub)

	p := capturedTestPayment(t, svc, stub, store)

	refund, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[0].ID,
		AmountMinor:   40000,
	})
	require.NoError(t, err)

	require.NoError(t, svc.CompleteRefund(context.Background(), refund.GatewayRefundID, time.Now().UTC()))

	assert.Equal(t, RefundProcessed, store.refunds[refund.ID].Status)
	assert.Equal(t, StatusPartiallyRefunded, store.payments[p.ID].Status)
	assert.Contains(t, pub.subjects, SubjectRefundProcessed)
}

func TestCompleteRefundFull(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := capturedTestPayment(t, svc, stub, store)

	for _, item := range p.Items {
		refund, err := svc.InitiateRefund(context.Background(), RefundRequest{
			PaymentID:     p.ID,
			PaymentItemID: item.ID,
			AmountMinor:   item.Amount.AmountMinor,
		})
		require.NoError(t, err)
		require.NoError(t, svc.CompleteRefund(context.Background(), refund.GatewayRefundID, time.Now().UTC()))
	}

	assert.Equal(t, StatusRefunded, store.payments[p.ID].Status)
}

func TestCompleteRefundReplayIsNoOp(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, pub := newTestService(store, stub)

	p := capturedTestPayment(t, svc, stub, store)

	refund, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[0].ID,
		AmountMinor:   40000,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, svc.CompleteRefund(context.Background(), refund.GatewayRefundID, now))

	published := len(pub.subjects)
	require.NoError(t, svc.CompleteRefund(context.Background(), refund.GatewayRefundID, now))
	assert.Len(t, pub.subjects, published)
}

func TestCompleteRefundIgnoresPendingSibling(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := capturedTestPayment(t, svc, stub, store)

	first, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[0].ID,
		AmountMinor:   100000,
	})
	require.NoError(t, err)
	second, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[1].ID,
		AmountMinor:   50000,
	})
	require.NoError(t, err)

	// The still-pending sibling must not push the payment to REFUNDED.
	require.NoError(t, svc.CompleteRefund(context.Background(), first.GatewayRefundID, time.Now().UTC()))
	assert.Equal(t, StatusPartiallyRefunded, store.payments[p.ID].Status)

	require.NoError(t, svc.FailRefund(context.Background(), second.GatewayRefundID, "bank rejected"))
	assert.Equal(t, StatusPartiallyRefunded, store.payments[p.ID].Status)

	retry, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[1].ID,
		AmountMinor:   50000,
	})
	require.NoError(t, err)
	require.NoError(t, svc.CompleteRefund(context.Background(), retry.GatewayRefundID, time.Now().UTC()))
	assert.Equal(t, StatusRefunded, store.payments[p.ID].Status)
}

func TestCompleteRefundCancelsUnpaidSplit(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := capturedTestPayment(t, svc, stub, store)

	refund, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[0].ID,
		AmountMinor:   100000,
	})
	require.NoError(t, err)
	require.NoError(t, svc.CompleteRefund(context.Background(), refund.GatewayRefundID, time.Now().UTC()))

	split, err := store.GetSplitForItem(context.Background(), p.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, SplitRefunded, split.Status)
	assert.Equal(t, HoldReleased, split.HoldStatus)
	assert.Zero(t, split.GrossAmount.AmountMinor)
	assert.Zero(t, split.NetAmount.AmountMinor)
}

func TestCompleteRefundShrinksSplit(t *testing.T) {
	store := newFakeStore()
	stub := gateway.NewStub("secret")
	svc, _ := newTestService(store, stub)

	p := capturedTestPayment(t, svc, stub, store)

	refund, err := svc.InitiateRefund(context.Background(), RefundRequest{
		PaymentID:     p.ID,
		PaymentItemID: p.Items[1].ID,
		AmountMinor:   40000,
	})
	require.NoError(t, err)
	require.NoError(t, svc.CompleteRefund(context.Background(), refund.GatewayRefundID, time.Now().UTC()))

	split, err := store.GetSplitForItem(context.Background(), p.Items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, SplitPending, split.Status)
	assert.Equal(t, HoldHeld, split.HoldStatus)
	assert.Equal(t, int64(10000), split.GrossAmount.AmountMinor)
	assert.Equal(t, int64(9310), split.NetAmount.AmountMinor)
	assert.Equal(t, split.GrossAmount.AmountMinor,
		split.Commission.AmountMinor+split.GSTAmount.AmountMinor+
			split.TDSAmount.AmountMinor+split.NetAmount.AmountMinor)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusInitiated, StatusCaptured))
	assert.True(t, CanTransition(StatusCaptured, StatusRefunded))
	assert.True(t, CanTransition(StatusPartiallyRefunded, StatusRefunded))
	assert.False(t, CanTransition(StatusCaptured, StatusFailed))
	assert.False(t, CanTransition(StatusFailed, StatusCaptured))
	assert.False(t, CanTransition(StatusRefunded, StatusCaptured))

	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusRefunded.IsTerminal())
	assert.False(t, StatusCaptured.IsTerminal())
}
