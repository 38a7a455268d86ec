package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"okanassist/internal/metrics"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw body.
const signatureHeader = "X-Payment-Signature"

// Event is one settlement notification from the provider.
type Event struct {
	Type          string          `json:"event"`
	PaymentID     string          `json:"payment_id"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	Payload       json.RawMessage `json:"-"`
	ReceivedAt    time.Time       `json:"-"`
}

// Processor defines the handler interface for settlement events.
type Processor interface {
	HandlePaymentEvent(ctx context.Context, event Event) error
}

// WebhookHandler verifies provider signatures and forwards settlement
// events to the processor.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    []byte
	processor Processor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, m *metrics.Metrics, secret string, processor Processor) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "payment_webhook"),
		metrics:   m,
		secret:    []byte(secret),
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.metrics.Errors.WithLabelValues("payment_webhook").Inc()
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.validSignature(r.Header.Get(signatureHeader), body) {
		h.metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.metrics.Errors.WithLabelValues("payment_webhook").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if event.PaymentID == "" {
		http.Error(w, "missing payment_id", http.StatusBadRequest)
		return
	}
	event.Payload = body
	event.ReceivedAt = time.Now()

	if h.processor != nil {
		if err := h.processor.HandlePaymentEvent(r.Context(), event); err != nil {
			h.logger.Error("failed processing payment event",
				"error", err, "event", event.Type, "payment_id", event.PaymentID)
			h.metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
			http.Error(w, "failed to process", http.StatusInternalServerError)
			return
		}
	}

	h.metrics.WebhookEvents.WithLabelValues(event.Type, "ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	sig := strings.TrimSpace(strings.TrimPrefix(header, "sha256="))
	if sig == "" || len(h.secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}
