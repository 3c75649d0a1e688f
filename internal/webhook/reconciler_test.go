package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artpay/internal/common/database"
)

type paymentCall struct {
	op   string
	args []string
}

type fakePaymentReconciler struct {
	calls []paymentCall
	err   error
}

func (f *fakePaymentReconciler) CaptureConfirmed(ctx context.Context, gatewayOrderID, gatewayPaymentID, method string) error {
	f.calls = append(f.calls, paymentCall{"capture", []string{gatewayOrderID, gatewayPaymentID, method}})
	return f.err
}

func (f *fakePaymentReconciler) FailFromGateway(ctx context.Context, gatewayOrderID, reason string) error {
	f.calls = append(f.calls, paymentCall{"fail", []string{gatewayOrderID, reason}})
	return f.err
}

func (f *fakePaymentReconciler) CompleteRefund(ctx context.Context, gatewayRefundID string, processedAt time.Time) error {
	f.calls = append(f.calls, paymentCall{"refund", []string{gatewayRefundID}})
	return f.err
}

func (f *fakePaymentReconciler) FailRefund(ctx context.Context, gatewayRefundID, reason string) error {
	f.calls = append(f.calls, paymentCall{"refund_failed", []string{gatewayRefundID, reason}})
	return f.err
}

type fakePayoutReconciler struct {
	calls []paymentCall
	err   error
}

func (f *fakePayoutReconciler) CompleteFromGateway(ctx context.Context, gatewayPayoutID, utr string, paidAt time.Time) error {
	f.calls = append(f.calls, paymentCall{"paid", []string{gatewayPayoutID, utr}})
	return f.err
}

func (f *fakePayoutReconciler) FailFromGateway(ctx context.Context, gatewayPayoutID, reason string) error {
	f.calls = append(f.calls, paymentCall{"failed", []string{gatewayPayoutID, reason}})
	return f.err
}

func (f *fakePayoutReconciler) ReverseFromGateway(ctx context.Context, gatewayPayoutID, reason string) error {
	f.calls = append(f.calls, paymentCall{"reversed", []string{gatewayPayoutID, reason}})
	return f.err
}

func eventData(t *testing.T, eventID, eventType string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{
		EventID:   eventID,
		EventType: eventType,
		CreatedAt: time.Now().Unix(),
		Payload:   raw,
	})
	require.NoError(t, err)
	return data
}

func newTestReconciler() (*Reconciler, *fakePaymentReconciler, *fakePayoutReconciler, *fakeEventStore) {
	payments := &fakePaymentReconciler{}
	payouts := &fakePayoutReconciler{}
	store := newFakeEventStore()
	r := NewReconciler(payments, payouts, store, slog.Default())
	return r, payments, payouts, store
}

func storeEvent(t *testing.T, store *fakeEventStore, eventID, eventType string) {
	t.Helper()
	_, err := store.Insert(context.Background(), eventID, eventType, json.RawMessage(`{}`))
	require.NoError(t, err)
}

func TestReconcilerDispatchesPaymentCaptured(t *testing.T) {
	r, payments, _, store := newTestReconciler()
	storeEvent(t, store, "evt_1", EventPaymentCaptured)

	data := eventData(t, "evt_1", EventPaymentCaptured, PaymentCapturedPayload{
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "gwpay_1",
		Method:           "upi",
	})
	require.NoError(t, r.Handle(context.Background(), SubjectPrefix+EventPaymentCaptured, data, 1))

	require.Len(t, payments.calls, 1)
	assert.Equal(t, paymentCall{"capture", []string{"order_1", "gwpay_1", "upi"}}, payments.calls[0])
	assert.Equal(t, EventProcessed, store.events["evt_1"].Status)
}

func TestReconcilerDispatchesPayoutEvents(t *testing.T) {
	r, _, payouts, store := newTestReconciler()

	cases := []struct {
		eventType string
		op        string
	}{
		{EventPayoutProcessed, "paid"},
		{EventPayoutFailed, "failed"},
		{EventPayoutReversed, "reversed"},
	}
	for i, tc := range cases {
		eventID := string(rune('a' + i))
		storeEvent(t, store, eventID, tc.eventType)
		data := eventData(t, eventID, tc.eventType, PayoutPayload{
			GatewayPayoutID: "pout_1",
			UTR:             "UTR123",
			Reason:          "returned",
		})
		require.NoError(t, r.Handle(context.Background(), SubjectPrefix+tc.eventType, data, 1))
		assert.Equal(t, tc.op, payouts.calls[i].op, tc.eventType)
		assert.Equal(t, EventProcessed, store.events[eventID].Status)
	}
}

func TestReconcilerRefundEvents(t *testing.T) {
	r, payments, _, store := newTestReconciler()

	storeEvent(t, store, "evt_1", EventRefundProcessed)
	processedAt := time.Now().Unix()
	data := eventData(t, "evt_1", EventRefundProcessed, RefundPayload{
		GatewayRefundID: "rfnd_1",
		ProcessedAt:     &processedAt,
	})
	require.NoError(t, r.Handle(context.Background(), SubjectPrefix+EventRefundProcessed, data, 1))

	storeEvent(t, store, "evt_2", EventRefundFailed)
	data = eventData(t, "evt_2", EventRefundFailed, RefundPayload{
		GatewayRefundID: "rfnd_2",
		Reason:          "gateway rejected",
	})
	require.NoError(t, r.Handle(context.Background(), SubjectPrefix+EventRefundFailed, data, 1))

	require.Len(t, payments.calls, 2)
	assert.Equal(t, "refund", payments.calls[0].op)
	assert.Equal(t, "refund_failed", payments.calls[1].op)
}

func TestReconcilerUnknownEventTypeAcked(t *testing.T) {
	r, payments, payouts, store := newTestReconciler()
	storeEvent(t, store, "evt_1", "payment.disputed")

	data := eventData(t, "evt_1", "payment.disputed", map[string]string{})
	require.NoError(t, r.Handle(context.Background(), SubjectPrefix+"payment.disputed", data, 1))

	assert.Empty(t, payments.calls)
	assert.Empty(t, payouts.calls)
	// Unknown types are acknowledged without failing the audit record.
	assert.Equal(t, EventProcessed, store.events["evt_1"].Status)
}

func TestReconcilerMalformedEnvelopeAcked(t *testing.T) {
	r, payments, _, _ := newTestReconciler()

	require.NoError(t, r.Handle(context.Background(), SubjectAll, []byte("not json"), 1))
	assert.Empty(t, payments.calls)
}

func TestReconcilerMalformedPayloadMarkedFailed(t *testing.T) {
	r, payments, _, store := newTestReconciler()
	storeEvent(t, store, "evt_1", EventPaymentCaptured)

	data, err := json.Marshal(Envelope{
		EventID:   "evt_1",
		EventType: EventPaymentCaptured,
		Payload:   json.RawMessage(`"not an object"`),
	})
	require.NoError(t, err)

	// Poison payloads are acked, not redelivered forever.
	require.NoError(t, r.Handle(context.Background(), SubjectPrefix+EventPaymentCaptured, data, 1))
	assert.Empty(t, payments.calls)
	assert.Equal(t, EventFailed, store.events["evt_1"].Status)
}

func TestReconcilerUnknownEntityRequeued(t *testing.T) {
	r, _, payouts, store := newTestReconciler()
	storeEvent(t, store, "evt_1", EventPayoutProcessed)
	payouts.err = database.ErrNotFound

	// A payout webhook can arrive before the submitting transaction commits
	// the gateway payout id; early attempts must be redelivered, not dropped.
	data := eventData(t, "evt_1", EventPayoutProcessed, PayoutPayload{
		GatewayPayoutID: "pout_early",
		UTR:             "UTR123",
	})
	for delivered := uint64(1); delivered < MaxEventDeliveries; delivered++ {
		err := r.Handle(context.Background(), SubjectPrefix+EventPayoutProcessed, data, delivered)
		require.Error(t, err)
		assert.Equal(t, EventReceived, store.events["evt_1"].Status)
	}

	require.NoError(t, r.Handle(context.Background(), SubjectPrefix+EventPayoutProcessed, data, MaxEventDeliveries))
	assert.Equal(t, EventFailed, store.events["evt_1"].Status)
}

func TestReconcilerTransientErrorRequestsRedelivery(t *testing.T) {
	r, payments, _, store := newTestReconciler()
	storeEvent(t, store, "evt_1", EventPaymentCaptured)
	payments.err = errors.New("database connection lost")

	data := eventData(t, "evt_1", EventPaymentCaptured, PaymentCapturedPayload{
		GatewayOrderID: "order_1",
	})
	err := r.Handle(context.Background(), SubjectPrefix+EventPaymentCaptured, data, 1)

	require.Error(t, err)
	assert.Equal(t, EventReceived, store.events["evt_1"].Status)
}
