package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"artpay/internal/common/money"
)

// Config holds HTTP gateway configuration.
type Config struct {
	BaseURL       string        `envconfig:"GATEWAY_BASE_URL"`
	APIKey        string        `envconfig:"GATEWAY_API_KEY"`
	WebhookSecret string        `envconfig:"GATEWAY_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
	Name          string        `envconfig:"GATEWAY_NAME" default:"razorpay"`
}

// HTTPGateway talks to a REST payment gateway.
type HTTPGateway struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPGateway creates a new HTTP gateway client.
func NewHTTPGateway(cfg Config, logger *slog.Logger) *HTTPGateway {
	return &HTTPGateway{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Name implements Gateway.
func (g *HTTPGateway) Name() string {
	return g.config.Name
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// do issues a request and decodes the response into out. Failures come back
// as *GatewayError.
func (g *HTTPGateway) do(ctx context.Context, op, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return &GatewayError{Gateway: g.config.Name, Op: op, Message: "encoding request", Err: err}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, body)
	if err != nil {
		return &GatewayError{Gateway: g.config.Name, Op: op, Message: "building request", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return &GatewayError{Gateway: g.config.Name, Op: op, Message: "transport failure", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &GatewayError{Gateway: g.config.Name, Op: op, StatusCode: httpResp.StatusCode, Message: "reading response", Err: err}
	}

	if httpResp.StatusCode >= 400 {
		gerr := &GatewayError{
			Gateway:    g.config.Name,
			Op:         op,
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("status %d", httpResp.StatusCode),
		}
		var ae apiError
		if json.Unmarshal(respBody, &ae) == nil && ae.Error.Code != "" {
			gerr.Code = ae.Error.Code
			gerr.Message = ae.Error.Description
		}
		return gerr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &GatewayError{Gateway: g.config.Name, Op: op, StatusCode: httpResp.StatusCode, Message: "decoding response", Err: err}
		}
	}

	return nil
}

type orderResponse struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
}

// CreateOrder implements Gateway.
func (g *HTTPGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	body := map[string]any{
		"amount":   req.Amount.AmountMinor,
		"currency": string(req.Amount.Currency),
		"receipt":  req.Receipt,
		"notes":    req.Notes,
	}

	var resp orderResponse
	if err := g.do(ctx, "create_order", http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, err
	}

	g.logger.Info("gateway order created",
		"gateway_order_id", resp.ID,
		"amount", resp.AmountMinor,
	)

	return &Order{
		GatewayOrderID: resp.ID,
		Amount:         money.Money{AmountMinor: resp.AmountMinor, Currency: money.Currency(resp.Currency)},
		Status:         resp.Status,
		CreatedAt:      time.Unix(resp.CreatedAt, 0),
	}, nil
}

// VerifySignature implements Gateway. The gateway signs orderID|paymentID
// with the shared webhook secret.
func (g *HTTPGateway) VerifySignature(orderID, gatewayPaymentID, signature string) bool {
	payload := orderID + "|" + gatewayPaymentID
	return VerifyHMAC([]byte(g.config.WebhookSecret), []byte(payload), signature)
}

type captureResponse struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Method      string `json:"method"`
	CreatedAt   int64  `json:"created_at"`
}

// CapturePayment implements Gateway.
func (g *HTTPGateway) CapturePayment(ctx context.Context, gatewayPaymentID string, amount money.Money) (*Capture, error) {
	body := map[string]any{
		"amount":   amount.AmountMinor,
		"currency": string(amount.Currency),
	}

	var resp captureResponse
	if err := g.do(ctx, "capture_payment", http.MethodPost, "/payments/"+gatewayPaymentID+"/capture", body, &resp); err != nil {
		return nil, err
	}

	return &Capture{
		GatewayPaymentID: resp.ID,
		Amount:           money.Money{AmountMinor: resp.AmountMinor, Currency: money.Currency(resp.Currency)},
		Status:           resp.Status,
		Method:           resp.Method,
		CapturedAt:       time.Unix(resp.CreatedAt, 0),
	}, nil
}

type refundResponse struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
}

func (r refundResponse) toRefund() *Refund {
	return &Refund{
		GatewayRefundID:  r.ID,
		GatewayPaymentID: r.PaymentID,
		Amount:           money.Money{AmountMinor: r.AmountMinor, Currency: money.Currency(r.Currency)},
		Status:           RefundStatus(r.Status),
		CreatedAt:        time.Unix(r.CreatedAt, 0),
	}
}

// InitiateRefund implements Gateway.
func (g *HTTPGateway) InitiateRefund(ctx context.Context, gatewayPaymentID string, amount money.Money, notes map[string]string) (*Refund, error) {
	body := map[string]any{
		"amount": amount.AmountMinor,
		"notes":  notes,
	}

	var resp refundResponse
	if err := g.do(ctx, "initiate_refund", http.MethodPost, "/payments/"+gatewayPaymentID+"/refund", body, &resp); err != nil {
		return nil, err
	}

	g.logger.Info("gateway refund initiated",
		"gateway_refund_id", resp.ID,
		"gateway_payment_id", gatewayPaymentID,
		"amount", amount.AmountMinor,
	)

	return resp.toRefund(), nil
}

// GetRefundStatus implements Gateway.
func (g *HTTPGateway) GetRefundStatus(ctx context.Context, gatewayRefundID string) (*Refund, error) {
	var resp refundResponse
	if err := g.do(ctx, "get_refund", http.MethodGet, "/refunds/"+gatewayRefundID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toRefund(), nil
}

type payoutResponse struct {
	ID            string `json:"id"`
	AmountMinor   int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	UTR           string `json:"utr"`
	FailureReason string `json:"failure_reason"`
	CreatedAt     int64  `json:"created_at"`
}

func (p payoutResponse) toPayout() *Payout {
	return &Payout{
		GatewayPayoutID: p.ID,
		Amount:          money.Money{AmountMinor: p.AmountMinor, Currency: money.Currency(p.Currency)},
		Status:          PayoutStatus(p.Status),
		UTR:             p.UTR,
		FailureReason:   p.FailureReason,
		CreatedAt:       time.Unix(p.CreatedAt, 0),
	}
}

// CreatePayout implements Gateway.
func (g *HTTPGateway) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*Payout, error) {
	body := map[string]any{
		"amount":   req.Amount.AmountMinor,
		"currency": string(req.Amount.Currency),
		"fund_account": map[string]any{
			"account_type": "bank_account",
			"bank_account": map[string]string{
				"name":           req.HolderName,
				"ifsc":           req.IFSC,
				"account_number": req.AccountNumber,
			},
		},
		"mode":      "IMPS",
		"reference": req.Reference,
		"narration": req.Narration,
	}

	var resp payoutResponse
	if err := g.do(ctx, "create_payout", http.MethodPost, "/payouts", body, &resp); err != nil {
		return nil, err
	}

	g.logger.Info("gateway payout created",
		"gateway_payout_id", resp.ID,
		"amount", req.Amount.AmountMinor,
		"reference", req.Reference,
	)

	return resp.toPayout(), nil
}

// GetPayoutStatus implements Gateway.
func (g *HTTPGateway) GetPayoutStatus(ctx context.Context, gatewayPayoutID string) (*Payout, error) {
	var resp payoutResponse
	if err := g.do(ctx, "get_payout", http.MethodGet, "/payouts/"+gatewayPayoutID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toPayout(), nil
}

type linkedAccountResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// CreateLinkedAccount implements Gateway.
func (g *HTTPGateway) CreateLinkedAccount(ctx context.Context, req CreateLinkedAccountRequest) (*LinkedAccount, error) {
	body := map[string]any{
		"legal_business_name": req.LegalName,
		"email":               req.Email,
		"business_type":       req.BusinessType,
		"reference_id":        req.SellerID,
	}

	var resp linkedAccountResponse
	if err := g.do(ctx, "create_linked_account", http.MethodPost, "/accounts", body, &resp); err != nil {
		return nil, err
	}

	g.logger.Info("gateway linked account created",
		"gateway_account_id", resp.ID,
		"seller_id", req.SellerID,
	)

	return &LinkedAccount{
		GatewayAccountID: resp.ID,
		Status:           resp.Status,
		CreatedAt:        time.Unix(resp.CreatedAt, 0),
	}, nil
}
