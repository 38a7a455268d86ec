package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"okanassist/internal/metrics"
	"okanassist/internal/repo"
)

// Client calls an OpenAI-compatible chat completion API to extract
// structured finance data. Text goes to a fast text model, images to a
// vision model. Model failures on the message path degrade to the keyword
// fallback instead of erroring.
type Client struct {
	logger      *slog.Logger
	baseURL     string
	apiKey      string
	textModel   string
	visionModel string
	timeout     time.Duration
	http        *http.Client
	metrics     *metrics.Metrics
}

// Config holds extractor client configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	TextModel   string
	VisionModel string
	Timeout     time.Duration
}

// NewClient creates a new extraction client.
func NewClient(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.groq.com/openai/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		logger:      logger.With("component", "extractor"),
		baseURL:     base,
		apiKey:      cfg.APIKey,
		textModel:   cfg.TextModel,
		visionModel: cfg.VisionModel,
		timeout:     timeout,
		http:        &http.Client{Timeout: timeout},
		metrics:     m,
	}
}

const messagePrompt = `You are a personal finance assistant. Classify the user's message and extract structured data.
Respond with a single JSON object:
{"intent": "transaction"|"reminder"|"query"|"unknown",
 "transaction": {"type": "expense"|"income", "amount": number, "description": string, "category": string, "merchant": string, "confidence": number, "tags": [string]} or null,
 "reminder": {"title": string, "description": string, "type": "task"|"event"|"deadline"|"habit"|"general", "priority": "urgent"|"high"|"medium"|"low", "due_date": "ISO 8601 or empty", "due_text": "the raw due phrase or empty"} or null}
Never invent amounts. If the message contains neither a transaction nor a reminder, set intent to "unknown" with both payloads null.`

const receiptPrompt = `Extract every purchase from this receipt image.
Respond with a single JSON object:
{"transactions": [{"type": "expense", "amount": number, "description": string, "category": string, "merchant": string, "confidence": number}]}
Use the receipt total as a single transaction unless clearly itemized. Empty list if this is not a readable receipt.`

const statementPrompt = `Extract every transaction from this bank statement.
Respond with a single JSON object:
{"transactions": [{"type": "expense"|"income", "amount": number, "description": string, "category": string, "confidence": number, "date": "ISO 8601 or empty"}]}
Empty list if the document is not a readable statement.`

// wire shapes for the model's JSON answers.

type txnPayload struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Merchant    string          `json:"merchant"`
	Confidence  float64         `json:"confidence"`
	Tags        []string        `json:"tags"`
	Date        string          `json:"date"`
}

type reminderPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	DueDate     string `json:"due_date"`
	DueText     string `json:"due_text"`
}

type messagePayload struct {
	Intent      string           `json:"intent"`
	Transaction *txnPayload      `json:"transaction"`
	Reminder    *reminderPayload `json:"reminder"`
}

type batchPayload struct {
	Transactions []txnPayload `json:"transactions"`
}

// ExtractMessage classifies one text message. Model failures fall back to
// keyword parsing so the channel keeps working during provider outages.
func (c *Client) ExtractMessage(ctx context.Context, text string) (*MessageExtraction, error) {
	start := time.Now()
	content, err := c.complete(ctx, c.textModel, []message{
		{Role: "system", Content: messagePrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		c.observe("message", "fallback", start)
		c.logger.Warn("model extraction failed, using keyword fallback", "error", err)
		return FallbackMessage(text)
	}

	var payload messagePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		c.observe("message", "fallback", start)
		c.logger.Warn("model returned malformed json, using keyword fallback", "error", err)
		return FallbackMessage(text)
	}

	out := &MessageExtraction{Intent: Intent(payload.Intent)}
	switch out.Intent {
	case IntentTransaction:
		if payload.Transaction == nil || payload.Transaction.Amount.IsZero() {
			c.observe("message", "no_data", start)
			return nil, ErrNoData
		}
		out.Transaction = normalizeTxn(*payload.Transaction)
	case IntentReminder:
		if payload.Reminder == nil || payload.Reminder.Title == "" {
			c.observe("message", "no_data", start)
			return nil, ErrNoData
		}
		out.Reminder = normalizeReminder(*payload.Reminder)
	case IntentQuery:
		// Nothing to extract; the engine answers from stored data.
	default:
		c.observe("message", "no_data", start)
		return nil, ErrNoData
	}

	c.observe("message", "ok", start)
	return out, nil
}

// ExtractReceipt reads transactions out of a receipt image.
func (c *Client) ExtractReceipt(ctx context.Context, image []byte, mimeType string) ([]TransactionCandidate, error) {
	return c.extractBatch(ctx, "receipt", receiptPrompt, image, mimeType)
}

// ExtractStatement reads transactions out of a bank statement document.
func (c *Client) ExtractStatement(ctx context.Context, doc []byte, mimeType string) ([]TransactionCandidate, error) {
	return c.extractBatch(ctx, "statement", statementPrompt, doc, mimeType)
}

func (c *Client) extractBatch(ctx context.Context, kind, prompt string, data []byte, mimeType string) ([]TransactionCandidate, error) {
	start := time.Now()
	content, err := c.complete(ctx, c.visionModel, []message{
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &imageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
			}},
		}},
	})
	if err != nil {
		c.observe(kind, "error", start)
		c.metrics.Errors.WithLabelValues("extractor").Inc()
		return nil, fmt.Errorf("%s extraction: %w", kind, err)
	}

	var payload batchPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		c.observe(kind, "error", start)
		return nil, fmt.Errorf("%s extraction: malformed model output: %w", kind, err)
	}
	if len(payload.Transactions) == 0 {
		c.observe(kind, "no_data", start)
		return nil, ErrNoData
	}

	out := make([]TransactionCandidate, 0, len(payload.Transactions))
	for _, p := range payload.Transactions {
		if p.Amount.IsZero() {
			continue
		}
		out = append(out, *normalizeTxn(p))
	}
	if len(out) == 0 {
		c.observe(kind, "no_data", start)
		return nil, ErrNoData
	}
	c.observe(kind, "ok", start)
	return out, nil
}

func (c *Client) observe(kind, status string, start time.Time) {
	c.metrics.ExtractorRequests.WithLabelValues(kind, status).Inc()
	c.metrics.ExtractorLatency.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
}

func normalizeTxn(p txnPayload) *TransactionCandidate {
	txType := repo.TransactionExpense
	if p.Type == string(repo.TransactionIncome) {
		txType = repo.TransactionIncome
	}
	conf := p.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.5
	}
	var date time.Time
	if p.Date != "" {
		if parsed, err := time.Parse(time.RFC3339, p.Date); err == nil {
			date = parsed.UTC()
		} else if parsed, err := time.Parse("2006-01-02", p.Date); err == nil {
			date = parsed
		}
	}
	return &TransactionCandidate{
		Type:        txType,
		Amount:      p.Amount.Abs(),
		Description: strings.TrimSpace(p.Description),
		Category:    ValidateCategory(p.Category, txType),
		Merchant:    strings.TrimSpace(p.Merchant),
		Confidence:  conf,
		Tags:        p.Tags,
		Date:        date,
	}
}

func normalizeReminder(p reminderPayload) *ReminderCandidate {
	remType := repo.ReminderGeneral
	switch repo.ReminderType(p.Type) {
	case repo.ReminderTask, repo.ReminderEvent, repo.ReminderDeadline, repo.ReminderHabit:
		remType = repo.ReminderType(p.Type)
	}
	priority := repo.PriorityMedium
	switch repo.Priority(p.Priority) {
	case repo.PriorityUrgent, repo.PriorityHigh, repo.PriorityLow:
		priority = repo.Priority(p.Priority)
	}
	return &ReminderCandidate{
		Title:       strings.TrimSpace(p.Title),
		Description: strings.TrimSpace(p.Description),
		Type:        remType,
		Priority:    priority,
		DueISO:      strings.TrimSpace(p.DueDate),
		DueText:     strings.TrimSpace(p.DueText),
	}
}

// -- chat completion wire types --

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// complete performs one chat completion call and returns the raw message
// content.
func (c *Client) complete(ctx context.Context, model string, msgs []message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:          model,
		Messages:       msgs,
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("model returned status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
