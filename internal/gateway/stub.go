package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"artpay/internal/common/money"
)

// Stub is a deterministic in-process gateway for development and tests.
// Every call succeeds and state lives in memory.
type Stub struct {
	secret []byte

	mu      sync.Mutex
	seq     int
	orders  map[string]*Order
	refunds map[string]*Refund
	payouts map[string]*Payout
}

// NewStub creates a stub gateway signing with the given webhook secret.
func NewStub(secret string) *Stub {
	return &Stub{
		secret:  []byte(secret),
		orders:  make(map[string]*Order),
		refunds: make(map[string]*Refund),
		payouts: make(map[string]*Payout),
	}
}

// Name implements Gateway.
func (s *Stub) Name() string {
	return "stub"
}

func (s *Stub) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%06d", prefix, s.seq)
}

// CreateOrder implements Gateway.
func (s *Stub) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := &Order{
		GatewayOrderID: s.nextID("order"),
		Amount:         req.Amount,
		Status:         "created",
		CreatedAt:      time.Now(),
	}
	s.orders[order.GatewayOrderID] = order
	return order, nil
}

// SignCapture produces the capture signature the stub expects for an
// order/payment pair. Tests use this to simulate a gateway callback.
func (s *Stub) SignCapture(orderID, gatewayPaymentID string) string {
	return Sign(s.secret, []byte(orderID+"|"+gatewayPaymentID))
}

// VerifySignature implements Gateway.
func (s *Stub) VerifySignature(orderID, gatewayPaymentID, signature string) bool {
	return VerifyHMAC(s.secret, []byte(orderID+"|"+gatewayPaymentID), signature)
}

// CapturePayment implements Gateway.
func (s *Stub) CapturePayment(ctx context.Context, gatewayPaymentID string, amount money.Money) (*Capture, error) {
	return &Capture{
		GatewayPaymentID: gatewayPaymentID,
		Amount:           amount,
		Status:           "captured",
		Method:           "upi",
		CapturedAt:       time.Now(),
	}, nil
}

// InitiateRefund implements Gateway.
func (s *Stub) InitiateRefund(ctx context.Context, gatewayPaymentID string, amount money.Money, notes map[string]string) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refund := &Refund{
		GatewayRefundID:  s.nextID("rfnd"),
		GatewayPaymentID: gatewayPaymentID,
		Amount:           amount,
		Status:           RefundPending,
		CreatedAt:        time.Now(),
	}
	s.refunds[refund.GatewayRefundID] = refund
	return refund, nil
}

// GetRefundStatus implements Gateway.
func (s *Stub) GetRefundStatus(ctx context.Context, gatewayRefundID string) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refund, ok := s.refunds[gatewayRefundID]
	if !ok {
		return nil, &GatewayError{Gateway: "stub", Op: "get_refund", StatusCode: 404, Message: "refund not found"}
	}
	return refund, nil
}

// CreatePayout implements Gateway.
func (s *Stub) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payout := &Payout{
		GatewayPayoutID: s.nextID("pout"),
		Amount:          req.Amount,
		Status:          PayoutQueued,
		CreatedAt:       time.Now(),
	}
	s.payouts[payout.GatewayPayoutID] = payout
	return payout, nil
}

// GetPayoutStatus implements Gateway.
func (s *Stub) GetPayoutStatus(ctx context.Context, gatewayPayoutID string) (*Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, ok := s.payouts[gatewayPayoutID]
	if !ok {
		return nil, &GatewayError{Gateway: "stub", Op: "get_payout", StatusCode: 404, Message: "payout not found"}
	}
	return payout, nil
}

// CreateLinkedAccount implements Gateway.
func (s *Stub) CreateLinkedAccount(ctx context.Context, req CreateLinkedAccountRequest) (*LinkedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &LinkedAccount{
		GatewayAccountID: s.nextID("acc"),
		Status:           "created",
		CreatedAt:        time.Now(),
	}, nil
}
