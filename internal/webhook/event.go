// Package webhook receives gateway callbacks, authenticates and deduplicates
// them, and reconciles payment, refund and payout state from the event
// stream.
package webhook

import (
	"encoding/json"
	"time"
)

// Gateway event types
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundProcessed = "refund.processed"
	EventRefundFailed    = "refund.failed"
	EventPayoutProcessed = "payout.processed"
	EventPayoutFailed    = "payout.failed"
	EventPayoutReversed  = "payout.reversed"
)

// JetStream stream and subjects for gateway events
const (
	StreamName    = "GATEWAY_EVENTS"
	SubjectPrefix = "gateway.events."
	SubjectAll    = "gateway.events.>"
)

// Envelope is the gateway's webhook body.
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	CreatedAt int64           `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// PaymentCapturedPayload carries a payment.captured event.
type PaymentCapturedPayload struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Method           string `json:"method,omitempty"`
}

// PaymentFailedPayload carries a payment.failed event.
type PaymentFailedPayload struct {
	GatewayOrderID string `json:"gateway_order_id"`
	Reason         string `json:"reason,omitempty"`
}

// RefundPayload carries refund.processed and refund.failed events.
type RefundPayload struct {
	GatewayRefundID string `json:"gateway_refund_id"`
	Reason          string `json:"reason,omitempty"`
	ProcessedAt     *int64 `json:"processed_at,omitempty"`
}

// PayoutPayload carries payout.processed, payout.failed and payout.reversed
// events.
type PayoutPayload struct {
	GatewayPayoutID string `json:"gateway_payout_id"`
	UTR             string `json:"utr,omitempty"`
	Reason          string `json:"reason,omitempty"`
	ProcessedAt     *int64 `json:"processed_at,omitempty"`
}

// EventStatus is the processing state of a stored webhook event.
type EventStatus string

const (
	EventReceived  EventStatus = "RECEIVED"
	EventProcessed EventStatus = "PROCESSED"
	EventFailed    EventStatus = "FAILED"
)

// Event is the audit record of one webhook delivery. The event ID is unique,
// which is what makes duplicate deliveries no-ops.
type Event struct {
	ID          string          `json:"id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      EventStatus     `json:"status"`
	Error       string          `json:"error,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}
