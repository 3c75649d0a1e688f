package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artpay/internal/common/money"
)

func TestSignAndVerify(t *testing.T) {
	secret := []byte("whsec_test")
	payload := []byte(`{"event_id":"evt_1"}`)

	sig := Sign(secret, payload)
	assert.True(t, VerifyHMAC(secret, payload, sig))
	assert.False(t, VerifyHMAC(secret, payload, sig+"00"))
	assert.False(t, VerifyHMAC(secret, []byte("tampered"), sig))
	assert.False(t, VerifyHMAC([]byte("other"), payload, sig))
}

func TestStubSignatureRoundTrip(t *testing.T) {
	stub := NewStub("secret")

	order, err := stub.CreateOrder(context.Background(), CreateOrderRequest{
		Amount: money.New(100000, money.INR),
	})
	require.NoError(t, err)

	sig := stub.SignCapture(order.GatewayOrderID, "gwpay_1")
	assert.True(t, stub.VerifySignature(order.GatewayOrderID, "gwpay_1", sig))
	assert.False(t, stub.VerifySignature(order.GatewayOrderID, "gwpay_2", sig))
	assert.False(t, stub.VerifySignature("order_other", "gwpay_1", sig))
}

func TestGatewayErrorTemporary(t *testing.T) {
	assert.True(t, (&GatewayError{StatusCode: 0}).Temporary())
	assert.True(t, (&GatewayError{StatusCode: 429}).Temporary())
	assert.True(t, (&GatewayError{StatusCode: 503}).Temporary())
	assert.False(t, (&GatewayError{StatusCode: 400}).Temporary())
	assert.False(t, (&GatewayError{StatusCode: 404}).Temporary())
}
