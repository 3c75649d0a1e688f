package payout

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artpay/internal/common/database"
	"artpay/internal/common/money"
	"artpay/internal/gateway"
	"artpay/internal/ledger"
	"artpay/internal/seller"
)

type fakePayoutStore struct {
	payouts map[string]*Payout
	// released split nets per seller, oldest first
	available map[string][]int64
	// nets reserved per payout, for release on failure
	reserved map[string][]int64

	ledgerTxns []*ledger.Transaction
}

func newFakePayoutStore() *fakePayoutStore {
	return &fakePayoutStore{
		payouts:   make(map[string]*Payout),
		available: make(map[string][]int64),
		reserved:  make(map[string][]int64),
	}
}

func (f *fakePayoutStore) PendingBalance(ctx context.Context, sellerID string) (int64, error) {
	var sum int64
	for _, net := range f.available[sellerID] {
		sum += net
	}
	return sum, nil
}

func (f *fakePayoutStore) Reserve(ctx context.Context, p *Payout, requestedMinor int64) error {
	var reserved int64
	var taken []int64
	pool := f.available[p.SellerID]
	for _, net := range pool {
		if reserved >= requestedMinor {
			break
		}
		reserved += net
		taken = append(taken, net)
	}
	if reserved < requestedMinor {
		return ErrInsufficientBalance
	}

	f.available[p.SellerID] = pool[len(taken):]
	f.reserved[p.ID] = taken
	p.Amount = money.New(reserved, p.Amount.Currency)
	p.SplitCount = len(taken)
	f.payouts[p.ID] = p
	return nil
}

func (f *fakePayoutStore) GetPayout(ctx context.Context, id string) (*Payout, error) {
	p, ok := f.payouts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (f *fakePayoutStore) GetByGatewayID(ctx context.Context, gatewayPayoutID string) (*Payout, error) {
	for _, p := range f.payouts {
		if p.GatewayPayoutID == gatewayPayoutID {
			return p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakePayoutStore) ListForSeller(ctx context.Context, sellerID string, limit, offset int) ([]*Payout, int64, error) {
	var out []*Payout
	for _, p := range f.payouts {
		if p.SellerID == sellerID {
			out = append(out, p)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakePayoutStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Payout, error) {
	var out []*Payout
	for _, p := range f.payouts {
		if p.Status == StatusPending && !p.ScheduledAt.After(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePayoutStore) MarkProcessing(ctx context.Context, id, gatewayPayoutID string) error {
	p, ok := f.payouts[id]
	if !ok {
		return database.ErrNotFound
	}
	if p.Status != StatusPending {
		return ErrInvalidTransition
	}
	p.Status = StatusProcessing
	p.GatewayPayoutID = gatewayPayoutID
	return nil
}

func (f *fakePayoutStore) MarkFailedAndRelease(ctx context.Context, id, reason string) error {
	p, ok := f.payouts[id]
	if !ok {
		return database.ErrNotFound
	}
	if p.Status == StatusFailed {
		return nil
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	f.available[p.SellerID] = append(f.reserved[id], f.available[p.SellerID]...)
	delete(f.reserved, id)
	return nil
}

func (f *fakePayoutStore) Complete(ctx context.Context, id, utr string, paidAt time.Time, txn *ledger.Transaction) (bool, error) {
	p, ok := f.payouts[id]
	if !ok {
		return false, database.ErrNotFound
	}
	if p.Status != StatusProcessing && p.Status != StatusPending {
		return false, nil
	}
	p.Status = StatusPaid
	p.UTR = utr
	p.PaidAt = &paidAt
	f.ledgerTxns = append(f.ledgerTxns, txn)
	return true, nil
}

func (f *fakePayoutStore) Reverse(ctx context.Context, id, reason string, txn *ledger.Transaction) (bool, error) {
	p, ok := f.payouts[id]
	if !ok {
		return false, database.ErrNotFound
	}
	if p.Status != StatusPaid {
		return false, nil
	}
	p.Status = StatusReversed
	f.available[p.SellerID] = append(f.reserved[id], f.available[p.SellerID]...)
	f.ledgerTxns = append(f.ledgerTxns, txn)
	return true, nil
}

func (f *fakePayoutStore) EarningsSummary(ctx context.Context, sellerID string) (*Earnings, error) {
	return &Earnings{SellerID: sellerID, Currency: money.INR}, nil
}

type fakeGate struct {
	err     error
	account *seller.BankAccount
}

func (f *fakeGate) PayoutGate(ctx context.Context, sellerID string) (*seller.BankAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.account, nil
}

type failingGateway struct {
	*gateway.Stub
	payoutErr error
}

func (g *failingGateway) CreatePayout(ctx context.Context, req gateway.CreatePayoutRequest) (*gateway.Payout, error) {
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	return g.Stub.CreatePayout(ctx, req)
}

type fakeLedgerSource struct {
	txns map[string]*ledger.Transaction
}

func (f *fakeLedgerSource) GetBySource(ctx context.Context, sourceType ledger.SourceType, sourceID string) (*ledger.Transaction, error) {
	txn, ok := f.txns[sourceID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return txn, nil
}

type recordingPublisher struct {
	subjects []string
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, v any) error {
	p.subjects = append(p.subjects, subject)
	return nil
}

func verifiedAccount() *seller.BankAccount {
	return &seller.BankAccount{
		ID:            "ba_1",
		SellerID:      "seller_1",
		AccountNumber: "123456789012",
		IFSC:          "HDFC0001234",
		HolderName:    "Asha Prints",
		Status:        seller.BankVerified,
	}
}

func newPayoutTestService(store *fakePayoutStore, gate *fakeGate, gw gateway.Gateway) (*Service, *recordingPublisher, *fakeLedgerSource) {
	pub := &recordingPublisher{}
	src := &fakeLedgerSource{txns: make(map[string]*ledger.Transaction)}
	svc := NewService(store, gate, gw, src, pub, Config{BatchSize: 50}, slog.Default())
	return svc, pub, src
}

func TestRequestPayoutGateRejection(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{93100}
	svc, _, _ := newPayoutTestService(store, &fakeGate{err: seller.ErrKYCNotVerified}, gateway.NewStub("secret"))

	_, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 50000,
		Currency:    money.INR,
	})
	assert.ErrorIs(t, err, seller.ErrKYCNotVerified)

	// Nothing reserved.
	assert.Equal(t, []int64{93100}, store.available["seller_1"])
	assert.Empty(t, store.payouts)
}

func TestRequestPayoutInsufficientBalance(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{40000}
	svc, _, _ := newPayoutTestService(store, &fakeGate{account: verifiedAccount()}, gateway.NewStub("secret"))

	_, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 50000,
		Currency:    money.INR,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, []int64{40000}, store.available["seller_1"])
}

func TestRequestPayoutReservesWholeSplits(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{93100, 46550, 20000}
	svc, pub, _ := newPayoutTestService(store, &fakeGate{account: verifiedAccount()}, gateway.NewStub("secret"))

	p, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 100000,
		Currency:    money.INR,
	})
	require.NoError(t, err)

	// Whole splits are reserved, so the payout covers more than requested.
	assert.Equal(t, int64(139650), p.Amount.AmountMinor)
	assert.Equal(t, 2, p.SplitCount)
	assert.Equal(t, StatusProcessing, p.Status)
	assert.NotEmpty(t, p.GatewayPayoutID)
	assert.Equal(t, []int64{20000}, store.available["seller_1"])
	assert.Contains(t, pub.subjects, SubjectPayoutRequested)
}

func TestRequestPayoutSubmitFailureReleases(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{93100}
	gw := &failingGateway{
		Stub: gateway.NewStub("secret"),
		payoutErr: &gateway.GatewayError{
			Gateway: "stub", Op: "create_payout", StatusCode: 503, Message: "unavailable",
		},
	}
	svc, pub, _ := newPayoutTestService(store, &fakeGate{account: verifiedAccount()}, gw)

	_, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 90000,
		Currency:    money.INR,
	})
	require.Error(t, err)

	// The reserved split is back in the pool and the payout is failed.
	assert.Equal(t, []int64{93100}, store.available["seller_1"])
	require.Len(t, store.payouts, 1)
	for _, p := range store.payouts {
		assert.Equal(t, StatusFailed, p.Status)
	}
	assert.Contains(t, pub.subjects, SubjectPayoutFailed)
}

func TestRequestPayoutScheduledStaysPending(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{93100}
	svc, _, _ := newPayoutTestService(store, &fakeGate{account: verifiedAccount()}, gateway.NewStub("secret"))

	tomorrow := time.Now().UTC().Add(24 * time.Hour)
	p, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 90000,
		Currency:    money.INR,
		ScheduledAt: &tomorrow,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, p.Status)
	assert.Empty(t, p.GatewayPayoutID)
}

func TestProcessPendingSubmitsDue(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{93100}
	svc, _, _ := newPayoutTestService(store, &fakeGate{account: verifiedAccount()}, gateway.NewStub("secret"))

	past := time.Now().UTC().Add(time.Minute)
	p, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 90000,
		Currency:    money.INR,
		ScheduledAt: &past,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, p.Status)

	require.NoError(t, svc.ProcessPending(context.Background(), time.Now().UTC().Add(2*time.Minute)))
	assert.Equal(t, StatusProcessing, store.payouts[p.ID].Status)
}

func TestCompleteFromGateway(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{93100}
	svc, pub, _ := newPayoutTestService(store, &fakeGate{account: verifiedAccount()}, gateway.NewStub("secret"))

	p, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 90000,
		Currency:    money.INR,
	})
	require.NoError(t, err)

	paidAt := time.Now().UTC()
	require.NoError(t, svc.CompleteFromGateway(context.Background(), p.GatewayPayoutID, "UTR123456", paidAt))

	stored := store.payouts[p.ID]
	assert.Equal(t, StatusPaid, stored.Status)
	assert.Equal(t, "UTR123456", stored.UTR)
	assert.Contains(t, pub.subjects, SubjectPayoutPaid)

	// The clearing transaction debits the seller and credits the platform.
	require.Len(t, store.ledgerTxns, 1)
	txn := store.ledgerTxns[0]
	assert.Equal(t, ledger.SourcePayout, txn.SourceType)
	assert.NoError(t, txn.Validate())

	// Replay is a no-op.
	require.NoError(t, svc.CompleteFromGateway(context.Background(), p.GatewayPayoutID, "UTR123456", paidAt))
	assert.Len(t, store.ledgerTxns, 1)
}

func TestFailFromGatewayReleasesSplits(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{93100}
	svc, _, _ := newPayoutTestService(store, &fakeGate{account: verifiedAccount()}, gateway.NewStub("secret"))

	p, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 90000,
		Currency:    money.INR,
	})
	require.NoError(t, err)
	require.Empty(t, store.available["seller_1"])

	require.NoError(t, svc.FailFromGateway(context.Background(), p.GatewayPayoutID, "account closed"))

	assert.Equal(t, StatusFailed, store.payouts[p.ID].Status)
	assert.Equal(t, []int64{93100}, store.available["seller_1"])
}

func TestReverseFromGateway(t *testing.T) {
	store := newFakePayoutStore()
	store.available["seller_1"] = []int64{93100}
	svc, pub, src := newPayoutTestService(store, &fakeGate{account: verifiedAccount()}, gateway.NewStub("secret"))

	p, err := svc.RequestPayout(context.Background(), RequestPayoutRequest{
		SellerID:    "seller_1",
		AmountMinor: 90000,
		Currency:    money.INR,
	})
	require.NoError(t, err)
	require.NoError(t, svc.CompleteFromGateway(context.Background(), p.GatewayPayoutID, "UTR123456", time.Now().UTC()))

	src.txns[p.ID] = store.ledgerTxns[0]

	require.NoError(t, svc.ReverseFromGateway(context.Background(), p.GatewayPayoutID, "bank returned transfer"))

	assert.Equal(t, StatusReversed, store.payouts[p.ID].Status)
	assert.Equal(t, []int64{93100}, store.available["seller_1"])
	assert.Contains(t, pub.subjects, SubjectPayoutReversed)

	// The reversal offsets the original clearing transaction.
	require.Len(t, store.ledgerTxns, 2)
	reversal := store.ledgerTxns[1]
	assert.Equal(t, ledger.SourcePayoutReversal, reversal.SourceType)
	assert.NoError(t, reversal.Validate())

	// Replay is a no-op.
	require.NoError(t, svc.ReverseFromGateway(context.Background(), p.GatewayPayoutID, "bank returned transfer"))
	assert.Len(t, store.ledgerTxns, 2)
}
