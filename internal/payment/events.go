package payment

import (
	"time"

	"artpay/internal/common/money"
)

// NATS subjects for payment events
const (
	SubjectPaymentCreated  = "payments.created"
	SubjectPaymentCaptured = "payments.captured"
	SubjectPaymentFailed   = "payments.failed"
	SubjectRefundInitiated = "payments.refund.initiated"
	SubjectRefundProcessed = "payments.refund.processed"
)

// CreatedEvent is published when a payment order is created.
type CreatedEvent struct {
	PaymentID      string      `json:"payment_id"`
	CustomerID     string      `json:"customer_id"`
	GatewayOrderID string      `json:"gateway_order_id"`
	Amount         money.Money `json:"amount"`
	ItemCount      int         `json:"item_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// CapturedEvent is published after a payment is captured and split.
type CapturedEvent struct {
	PaymentID        string      `json:"payment_id"`
	GatewayPaymentID string      `json:"gateway_payment_id"`
	Amount           money.Money `json:"amount"`
	SplitCount       int         `json:"split_count"`
	CapturedAt       time.Time   `json:"captured_at"`
}

// FailedEvent is published when a payment fails.
type FailedEvent struct {
	PaymentID string    `json:"payment_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// RefundInitiatedEvent is published when a refund is submitted to the
// gateway.
type RefundInitiatedEvent struct {
	RefundID        string      `json:"refund_id"`
	PaymentID       string      `json:"payment_id"`
	GatewayRefundID string      `json:"gateway_refund_id"`
	Amount          money.Money `json:"amount"`
}

// RefundProcessedEvent is published when the gateway confirms a refund.
type RefundProcessedEvent struct {
	RefundID      string      `json:"refund_id"`
	PaymentID     string      `json:"payment_id"`
	Amount        money.Money `json:"amount"`
	PaymentStatus Status      `json:"payment_status"`
	ProcessedAt   time.Time   `json:"processed_at"`
}
