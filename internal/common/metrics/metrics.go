package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentsCreated counts payment orders created, by gateway.
	PaymentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artpay_payments_created_total",
		Help: "Total number of payment orders created",
	}, []string{"gateway"})

	// PaymentsCaptured counts payments captured after signature verification.
	PaymentsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artpay_payments_captured_total",
		Help: "Total number of payments captured",
	})

	// PaymentsFailed counts payments marked failed.
	PaymentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artpay_payments_failed_total",
		Help: "Total number of payments marked failed",
	})

	// SplitsCreated counts seller splits computed at capture.
	SplitsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artpay_splits_created_total",
		Help: "Total number of payment splits created",
	})

	// EscrowReleased counts splits released from escrow hold.
	EscrowReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artpay_escrow_released_total",
		Help: "Total number of splits released from escrow",
	})

	// PayoutsRequested counts payout requests accepted, by outcome.
	PayoutsRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artpay_payouts_requested_total",
		Help: "Total number of payout requests",
	}, []string{"status"})

	// PayoutsSettled counts payouts reaching a terminal state, by state.
	PayoutsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artpay_payouts_settled_total",
		Help: "Total number of payouts reaching a terminal state",
	}, []string{"state"})

	// RefundsInitiated counts refunds initiated against captured payments.
	RefundsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artpay_refunds_initiated_total",
		Help: "Total number of refunds initiated",
	})

	// WebhookEvents counts gateway webhook events received, by type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artpay_webhook_events_total",
		Help: "Total number of gateway webhook events received",
	}, []string{"event_type"})

	// WebhookSignatureFailures counts webhooks rejected for bad signatures.
	WebhookSignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artpay_webhook_signature_failures_total",
		Help: "Total number of webhooks rejected for invalid signatures",
	})

	// WebhookDuplicates counts webhook events dropped as already processed.
	WebhookDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artpay_webhook_duplicates_total",
		Help: "Total number of duplicate webhook events dropped",
	})

	// LedgerTransactions counts balanced ledger transactions recorded.
	LedgerTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artpay_ledger_transactions_total",
		Help: "Total number of ledger transactions recorded",
	})
)
