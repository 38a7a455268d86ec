// Package extract turns free-form user input into structured finance data.
// An LLM-backed client does the heavy lifting; deterministic keyword
// parsers back it up so the bot still works when the model is down.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"okanassist/internal/repo"
)

// ErrNoData means the input contained nothing extractable. Callers treat
// this as a normal outcome, not a fault.
var ErrNoData = errors.New("no extractable data")

// Intent classifies what a message asks for.
type Intent string

const (
	IntentTransaction Intent = "transaction"
	IntentReminder    Intent = "reminder"
	IntentQuery       Intent = "query"
	IntentUnknown     Intent = "unknown"
)

// TransactionCandidate is one extracted transaction before persistence.
type TransactionCandidate struct {
	Type        repo.TransactionType `json:"type"`
	Amount      decimal.Decimal      `json:"amount"`
	Description string               `json:"description"`
	Category    string               `json:"category"`
	Merchant    string               `json:"merchant,omitempty"`
	Confidence  float64              `json:"confidence"`
	Tags        []string             `json:"tags,omitempty"`
	Date        time.Time            `json:"date,omitempty"`
}

// ReminderCandidate is one extracted reminder before due-date
// normalization and persistence. DueISO is set when the model produced a
// machine timestamp; DueText carries the raw phrase otherwise.
type ReminderCandidate struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Type        repo.ReminderType `json:"type"`
	Priority    repo.Priority     `json:"priority"`
	DueISO      string            `json:"due_iso,omitempty"`
	DueText     string            `json:"due_text,omitempty"`
}

// MessageExtraction is the routed result for one text message.
type MessageExtraction struct {
	Intent      Intent                `json:"intent"`
	Transaction *TransactionCandidate `json:"transaction,omitempty"`
	Reminder    *ReminderCandidate    `json:"reminder,omitempty"`
}

// Extractor is the extraction surface the assistant engine consumes.
type Extractor interface {
	// ExtractMessage classifies one text message and extracts its payload.
	// Returns ErrNoData when the message carries neither a transaction nor
	// a reminder.
	ExtractMessage(ctx context.Context, text string) (*MessageExtraction, error)
	// ExtractReceipt reads transactions out of a receipt image.
	ExtractReceipt(ctx context.Context, image []byte, mimeType string) ([]TransactionCandidate, error)
	// ExtractStatement reads transactions out of a bank statement document.
	ExtractStatement(ctx context.Context, doc []byte, mimeType string) ([]TransactionCandidate, error)
}
