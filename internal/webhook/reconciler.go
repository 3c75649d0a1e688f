package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"artpay/internal/common/database"
)

// errMalformedPayload marks parse failures that redelivery cannot fix.
var errMalformedPayload = errors.New("malformed event payload")

// ConsumerName is the durable JetStream consumer for reconciliation.
const ConsumerName = "gateway-reconciler"

// MaxEventDeliveries bounds JetStream redelivery of an event. An event whose
// referenced entity is still missing on the final attempt is marked FAILED.
const MaxEventDeliveries = 5

// PaymentReconciler applies gateway payment and refund outcomes.
type PaymentReconciler interface {
	CaptureConfirmed(ctx context.Context, gatewayOrderID, gatewayPaymentID, method string) error
	FailFromGateway(ctx context.Context, gatewayOrderID, reason string) error
	CompleteRefund(ctx context.Context, gatewayRefundID string, processedAt time.Time) error
	FailRefund(ctx context.Context, gatewayRefundID, reason string) error
}

// PayoutReconciler applies gateway payout outcomes.
type PayoutReconciler interface {
	CompleteFromGateway(ctx context.Context, gatewayPayoutID, utr string, paidAt time.Time) error
	FailFromGateway(ctx context.Context, gatewayPayoutID, reason string) error
	ReverseFromGateway(ctx context.Context, gatewayPayoutID, reason string) error
}

// AuditStore records per-event reconciliation outcomes.
type AuditStore interface {
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, reason string) error
}

// Reconciler consumes gateway events off JetStream and applies them. Every
// handler is guarded by current-state checks, so replays and out-of-order
// deliveries are no-ops.
type Reconciler struct {
	payments PaymentReconciler
	payouts  PayoutReconciler
	audit    AuditStore
	logger   *slog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(payments PaymentReconciler, payouts PayoutReconciler, audit AuditStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		payments: payments,
		payouts:  payouts,
		audit:    audit,
		logger:   logger,
	}
}

// Handle processes one gateway event. A returned error requests redelivery;
// permanent failures are recorded and acked so one bad event never blocks
// the stream. Malformed payloads are permanent immediately. An unknown
// entity reference is retried up to MaxEventDeliveries: the gateway can
// deliver a payout webhook before the submitting transaction has committed
// the gateway id.
func (r *Reconciler) Handle(ctx context.Context, subject string, data []byte, delivered uint64) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Error("malformed gateway event", "subject", subject, "error", err)
		return nil
	}

	r.logger.Info("reconciling gateway event",
		"event_id", env.EventID,
		"event_type", env.EventType,
	)

	err := r.dispatch(ctx, env)
	if err == nil {
		if markErr := r.audit.MarkProcessed(ctx, env.EventID); markErr != nil {
			r.logger.Error("failed to mark event processed", "event_id", env.EventID, "error", markErr)
		}
		return nil
	}

	if errors.Is(err, database.ErrNotFound) && delivered < MaxEventDeliveries {
		r.logger.Warn("gateway event references unknown entity, requeueing",
			"event_id", env.EventID,
			"event_type", env.EventType,
			"delivered", delivered,
			"error", err,
		)
		return err
	}

	if errors.Is(err, database.ErrNotFound) || errors.Is(err, errMalformedPayload) {
		r.logger.Warn("dropping gateway event",
			"event_id", env.EventID,
			"event_type", env.EventType,
			"error", err,
		)
		if markErr := r.audit.MarkFailed(ctx, env.EventID, err.Error()); markErr != nil {
			r.logger.Error("failed to mark event failed", "event_id", env.EventID, "error", markErr)
		}
		return nil
	}

	r.logger.Error("failed to reconcile gateway event",
		"event_id", env.EventID,
		"event_type", env.EventType,
		"error", err,
	)
	return err
}

func (r *Reconciler) dispatch(ctx context.Context, env Envelope) error {
	switch env.EventType {
	case EventPaymentCaptured:
		var p PaymentCapturedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("parsing %s payload: %v: %w", env.EventType, err, errMalformedPayload)
		}
		return r.payments.CaptureConfirmed(ctx, p.GatewayOrderID, p.GatewayPaymentID, p.Method)

	case EventPaymentFailed:
		var p PaymentFailedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("parsing %s payload: %v: %w", env.EventType, err, errMalformedPayload)
		}
		return r.payments.FailFromGateway(ctx, p.GatewayOrderID, p.Reason)

	case EventRefundProcessed:
		var p RefundPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("parsing %s payload: %v: %w", env.EventType, err, errMalformedPayload)
		}
		return r.payments.CompleteRefund(ctx, p.GatewayRefundID, eventTime(p.ProcessedAt, env.CreatedAt))

	case EventRefundFailed:
		var p RefundPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("parsing %s payload: %v: %w", env.EventType, err, errMalformedPayload)
		}
		return r.payments.FailRefund(ctx, p.GatewayRefundID, p.Reason)

	case EventPayoutProcessed:
		var p PayoutPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("parsing %s payload: %v: %w", env.EventType, err, errMalformedPayload)
		}
		return r.payouts.CompleteFromGateway(ctx, p.GatewayPayoutID, p.UTR, eventTime(p.ProcessedAt, env.CreatedAt))

	case EventPayoutFailed:
		var p PayoutPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("parsing %s payload: %v: %w", env.EventType, err, errMalformedPayload)
		}
		return r.payouts.FailFromGateway(ctx, p.GatewayPayoutID, p.Reason)

	case EventPayoutReversed:
		var p PayoutPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("parsing %s payload: %v: %w", env.EventType, err, errMalformedPayload)
		}
		return r.payouts.ReverseFromGateway(ctx, p.GatewayPayoutID, p.Reason)

	default:
		r.logger.Warn("unknown gateway event type",
			"event_id", env.EventID,
			"event_type", env.EventType,
		)
		return nil
	}
}

func eventTime(unix *int64, fallback int64) time.Time {
	if unix != nil && *unix > 0 {
		return time.Unix(*unix, 0).UTC()
	}
	if fallback > 0 {
		return time.Unix(fallback, 0).UTC()
	}
	return time.Now().UTC()
}
