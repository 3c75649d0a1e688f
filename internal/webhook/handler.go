package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"artpay/internal/common/metrics"
	"artpay/internal/gateway"
)

// SignatureHeader carries the gateway's HMAC over the raw body.
const SignatureHeader = "X-Webhook-Signature"

// EventStore records received events for dedup and audit.
type EventStore interface {
	Insert(ctx context.Context, eventID, eventType string, payload json.RawMessage) (bool, error)
	Get(ctx context.Context, eventID string) (*Event, error)
}

// Publisher publishes raw events to JetStream.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Config holds webhook endpoint configuration.
type Config struct {
	Secret string `envconfig:"GATEWAY_WEBHOOK_SECRET"`
}

// Handler is the gateway webhook HTTP endpoint: authenticate, deduplicate,
// persist, publish, acknowledge. Reconciliation happens asynchronously off
// the stream.
type Handler struct {
	cfg       Config
	store     EventStore
	publisher Publisher
	logger    *slog.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(cfg Config, store EventStore, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// ServeHTTP handles incoming gateway webhook requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// The HMAC is over the raw body, so verification must happen before
	// any parsing.
	if h.cfg.Secret != "" {
		signature := r.Header.Get(SignatureHeader)
		if !gateway.VerifyHMAC([]byte(h.cfg.Secret), body, signature) {
			metrics.WebhookSignatureFailures.Inc()
			h.logger.Warn("webhook signature mismatch",
				"remote_addr", r.RemoteAddr,
			)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if env.EventID == "" || env.EventType == "" {
		http.Error(w, "missing event id or type", http.StatusBadRequest)
		return
	}

	metrics.WebhookEvents.WithLabelValues(env.EventType).Inc()

	fresh, err := h.store.Insert(ctx, env.EventID, env.EventType, env.Payload)
	if err != nil {
		h.logger.Error("failed to persist webhook event",
			"event_id", env.EventID,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !fresh {
		metrics.WebhookDuplicates.Inc()
		// Redelivery of an event whose publish failed last time still
		// needs to reach the stream. Anything past RECEIVED is done.
		stored, err := h.store.Get(ctx, env.EventID)
		if err != nil || stored.Status != EventReceived {
			h.logger.Info("duplicate webhook delivery acknowledged",
				"event_id", env.EventID,
				"event_type", env.EventType,
			)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
	}

	if err := h.publisher.Publish(ctx, SubjectPrefix+env.EventType, env); err != nil {
		h.logger.Error("failed to publish webhook event",
			"event_id", env.EventID,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("webhook event accepted",
		"event_id", env.EventID,
		"event_type", env.EventType,
	)

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
