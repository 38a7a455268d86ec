package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"okanassist/internal/metrics"
)

type recordingProcessor struct {
	events []Event
}

func (p *recordingProcessor) HandlePaymentEvent(ctx context.Context, event Event) error {
	p.events = append(p.events, event)
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newHandler(secret string, proc Processor) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhookHandler(logger, metrics.Registry("test"), secret, proc)
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	proc := &recordingProcessor{}
	h := newHandler("topsecret", proc)

	body := []byte(`{"event":"payment.completed","payment_id":"p1","status":"success","transaction_id":"tx9"}`)
	req := httptest.NewRequest("POST", "/webhook/paypal", bytes.NewReader(body))
	req.Header.Set("X-Payment-Signature", sign("topsecret", body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(proc.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(proc.events))
	}
	ev := proc.events[0]
	if ev.PaymentID != "p1" || ev.Status != "success" || ev.TransactionID != "tx9" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestWebhookAcceptsPrefixedSignature(t *testing.T) {
	proc := &recordingProcessor{}
	h := newHandler("topsecret", proc)

	body := []byte(`{"event":"payment.completed","payment_id":"p1","status":"success"}`)
	req := httptest.NewRequest("POST", "/webhook/paypal", bytes.NewReader(body))
	req.Header.Set("X-Payment-Signature", "sha256="+sign("topsecret", body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	proc := &recordingProcessor{}
	h := newHandler("topsecret", proc)

	body := []byte(`{"event":"payment.completed","payment_id":"p1","status":"success"}`)
	req := httptest.NewRequest("POST", "/webhook/paypal", bytes.NewReader(body))
	req.Header.Set("X-Payment-Signature", sign("wrongsecret", body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(proc.events) != 0 {
		t.Fatal("rejected request must not reach the processor")
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := newHandler("topsecret", &recordingProcessor{})

	req := httptest.NewRequest("POST", "/webhook/paypal", strings.NewReader(`{"payment_id":"p1"}`))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookRejectsMissingPaymentID(t *testing.T) {
	h := newHandler("topsecret", &recordingProcessor{})

	body := []byte(`{"event":"payment.completed","status":"success"}`)
	req := httptest.NewRequest("POST", "/webhook/paypal", bytes.NewReader(body))
	req.Header.Set("X-Payment-Signature", sign("topsecret", body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCheckoutURLCarriesPaymentID(t *testing.T) {
	g := NewPayPal("", "merchant@okanassist.app")
	u := g.CheckoutURL("pay-123", "Premium Subscription", "9.99", "USD")

	if !strings.Contains(u, "custom=pay-123") {
		t.Fatalf("checkout url missing payment id: %s", u)
	}
	if !strings.Contains(u, "amount=9.99") || !strings.Contains(u, "currency_code=USD") {
		t.Fatalf("checkout url missing amount or currency: %s", u)
	}
}
