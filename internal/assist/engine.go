// Package assist orchestrates the assistant: identity resolution, credit
// gating, extraction, persistence, and premium upgrades. Channel adapters
// (Telegram, HTTP) stay thin and call into the engine.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"okanassist/internal/cache"
	"okanassist/internal/credits"
	"okanassist/internal/extract"
	"okanassist/internal/identity"
	"okanassist/internal/metrics"
	"okanassist/internal/payment"
	"okanassist/internal/repo"
	"okanassist/internal/session"
)

// CreditError reports a consume rejected for lack of balance. Channels map
// it to their "payment required" response.
type CreditError struct {
	Available int
	Needed    int
}

func (e *CreditError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Available, e.Needed)
}

// Notifier pushes a message to a user out-of-band, e.g. after a webhook
// settles a payment. The Telegram adapter registers itself here.
type Notifier interface {
	Notify(telegramID, text string) error
}

// Config carries the engine's tunables.
type Config struct {
	PremiumPrice    string
	PremiumCurrency string
	PremiumPeriod   time.Duration
	PaymentValidFor time.Duration
	SummaryCacheTTL time.Duration
	InitialCredits  int
}

// Engine is the assistant core shared by all channels.
type Engine struct {
	store     repo.Store
	sessions  *session.Cache
	resolver  *identity.Resolver
	ledger    *credits.Ledger
	extractor extract.Extractor
	gateway   payment.Gateway
	summaries *cache.Redis
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New wires the engine. summaries may be nil when Redis is not deployed;
// summary reads then always hit the store.
func New(
	store repo.Store,
	sessions *session.Cache,
	resolver *identity.Resolver,
	ledger *credits.Ledger,
	extractor extract.Extractor,
	gateway payment.Gateway,
	summaries *cache.Redis,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Engine {
	if cfg.PaymentValidFor <= 0 {
		cfg.PaymentValidFor = 24 * time.Hour
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = 5 * time.Minute
	}
	return &Engine{
		store:     store,
		sessions:  sessions,
		resolver:  resolver,
		ledger:    ledger,
		extractor: extractor,
		gateway:   gateway,
		summaries: summaries,
		cfg:       cfg,
		logger:    logger.With("component", "assist"),
		metrics:   m,
	}
}

// SetNotifier registers the out-of-band notifier. Safe to leave unset.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// resolve authenticates a channel id and touches its interaction clock.
func (e *Engine) resolve(ctx context.Context, telegramID string) (*repo.Identity, error) {
	id, err := e.resolver.Resolve(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if err := e.store.TouchInteraction(ctx, telegramID); err != nil {
		e.logger.Debug("interaction touch failed", "telegram_id", telegramID, "error", err)
	}
	return id, nil
}

// consume spends credits for one operation, translating business denials
// into typed errors the channels understand.
func (e *Engine) consume(ctx context.Context, userID, operation string, cost int) (*repo.CreditResult, error) {
	res, err := e.ledger.Consume(ctx, userID, operation, cost)
	if err != nil {
		return nil, err
	}
	if res.Success {
		return res, nil
	}
	switch res.Error {
	case repo.CreditErrInsufficient:
		return nil, &CreditError{Available: res.CreditsAvailable, Needed: res.CreditsNeeded}
	case repo.CreditErrUserNotFound:
		return nil, identity.ErrMustRegister
	}
	return nil, fmt.Errorf("credit consume failed: %s", res.Error)
}

// StartResult is the outcome of a /start contact.
type StartResult struct {
	Registered bool
	Greeting   string
}

// Start greets a user. Unknown channel ids get registration instructions
// instead of an error; this path never consumes credits. A non-empty
// claimedUserID lets an unknown channel attach itself to an existing
// account, e.g. via a deep-link start parameter.
func (e *Engine) Start(ctx context.Context, telegramID, claimedUserID string) (*StartResult, error) {
	id, err := e.resolve(ctx, telegramID)
	if err != nil {
		if errors.Is(err, identity.ErrMustRegister) && claimedUserID != "" {
			return e.startWithClaim(ctx, telegramID, claimedUserID)
		}
		if errors.Is(err, identity.ErrMustRegister) || errors.Is(err, identity.ErrLinkFailed) {
			return &StartResult{Registered: false, Greeting: registerPrompt}, nil
		}
		return nil, err
	}
	return &StartResult{
		Registered: true,
		Greeting:   fmt.Sprintf("Welcome back, %s! %s", firstName(id.Name), shortHelp),
	}, nil
}

// startWithClaim links an unknown channel id to the account it claims.
// Linking is idempotent, so a replayed deep link lands on the same
// identity.
func (e *Engine) startWithClaim(ctx context.Context, telegramID, claimedUserID string) (*StartResult, error) {
	if _, err := e.store.GetAuthUser(ctx, claimedUserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: no account %s", identity.ErrLinkFailed, claimedUserID)
		}
		return nil, fmt.Errorf("verify claimed account: %w", err)
	}

	if err := e.store.LinkTelegramID(ctx, claimedUserID, telegramID, ""); err != nil {
		if errors.Is(err, repo.ErrChannelLinked) {
			return nil, fmt.Errorf("%w: channel already linked elsewhere", identity.ErrLinkFailed)
		}
		return nil, fmt.Errorf("link claimed account: %w", err)
	}

	e.sessions.Invalidate(telegramID)
	id, err := e.resolver.Resolve(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("linked claimed account", "telegram_id", telegramID, "user_id", id.UserID)
	return &StartResult{
		Registered: true,
		Greeting:   fmt.Sprintf("Welcome back, %s! %s", firstName(id.Name), shortHelp),
	}, nil
}

// RegisterRequest carries registration input from any channel.
type RegisterRequest struct {
	TelegramID string
	Email      string
	Name       string
	Language   string
	Timezone   string
}

// Register links a telegram id to an account. An existing account with the
// same email gets linked; otherwise a fresh account is created with the
// initial credit allotment. Currency defaults from the timezone when the
// user did not pick one.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*repo.Identity, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email %q", req.Email)
	}

	if existing, err := e.store.GetAuthUserByEmail(ctx, email); err == nil {
		if err := e.store.LinkTelegramID(ctx, existing.ID, req.TelegramID, req.Name); err != nil {
			if errors.Is(err, repo.ErrChannelLinked) {
				return nil, err
			}
			return nil, fmt.Errorf("link account: %w", err)
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("lookup account: %w", err)
	} else {
		_, err := e.store.RegisterIdentity(ctx, repo.NewIdentity{
			TelegramID:     req.TelegramID,
			Email:          email,
			Name:           strings.TrimSpace(req.Name),
			Language:       req.Language,
			Timezone:       req.Timezone,
			Currency:       CurrencyForTimezone(req.Timezone),
			InitialCredits: e.cfg.InitialCredits,
		})
		if err != nil {
			return nil, err
		}
	}

	e.sessions.Invalidate(req.TelegramID)
	id, rerr := e.resolver.Resolve(ctx, req.TelegramID)
	if rerr != nil {
		return nil, rerr
	}
	e.logger.Info("registered identity", "telegram_id", req.TelegramID, "user_id", id.UserID)
	return id, nil
}

// RouteResult is the outcome of routing one text message.
type RouteResult struct {
	Kind             string            `json:"kind"`
	Message          string            `json:"message"`
	Transaction      *repo.Transaction `json:"transaction,omitempty"`
	Reminder         *repo.Reminder    `json:"reminder,omitempty"`
	CreditsRemaining int               `json:"credits_remaining"`
	LowBalance       bool              `json:"low_balance,omitempty"`
	TimezoneWarning  bool              `json:"timezone_warning,omitempty"`
}

// RouteMessage is the main text path: resolve, charge one credit, extract,
// persist, and describe the outcome.
func (e *Engine) RouteMessage(ctx context.Context, telegramID, text, platform string) (*RouteResult, error) {
	id, err := e.resolve(ctx, telegramID)
	if err != nil {
		e.metrics.MessagesProcessed.WithLabelValues(platform, "unauthorized").Inc()
		return nil, err
	}

	res, err := e.consume(ctx, id.UserID, "text_message", credits.CostTextMessage)
	if err != nil {
		e.metrics.MessagesProcessed.WithLabelValues(platform, "denied").Inc()
		return nil, err
	}

	extraction, err := e.extractor.ExtractMessage(ctx, text)
	if err != nil {
		if errors.Is(err, extract.ErrNoData) {
			e.metrics.MessagesProcessed.WithLabelValues(platform, "no_data").Inc()
			return &RouteResult{
				Kind:             "none",
				Message:          "I couldn't find a transaction or reminder in that. Try something like \"spent $12 on lunch\" or \"remind me to pay rent tomorrow\".",
				CreditsRemaining: res.CreditsRemaining,
				LowBalance:       credits.LowBalance(res),
			}, nil
		}
		e.metrics.MessagesProcessed.WithLabelValues(platform, "error").Inc()
		return nil, err
	}

	out := &RouteResult{
		CreditsRemaining: res.CreditsRemaining,
		LowBalance:       credits.LowBalance(res),
	}

	switch extraction.Intent {
	case extract.IntentTransaction:
		txn, err := e.persistTransaction(ctx, id, *extraction.Transaction, text, platform)
		if err != nil {
			e.metrics.MessagesProcessed.WithLabelValues(platform, "error").Inc()
			return nil, err
		}
		out.Kind = "transaction"
		out.Transaction = txn
		out.Message = describeTransaction(txn, id.Currency)

	case extract.IntentReminder:
		rem, tzWarn, err := e.persistReminder(ctx, id, *extraction.Reminder, text, platform)
		if err != nil {
			e.metrics.MessagesProcessed.WithLabelValues(platform, "error").Inc()
			return nil, err
		}
		out.Kind = "reminder"
		out.Reminder = rem
		out.TimezoneWarning = tzWarn
		out.Message = describeReminder(rem, id.Timezone, tzWarn)

	case extract.IntentQuery:
		summary, err := e.summaryForUser(ctx, id.UserID, 30)
		if err != nil {
			return nil, err
		}
		out.Kind = "query"
		out.Message = describeSummary(summary, id.Currency)

	default:
		out.Kind = "none"
		out.Message = "I couldn't work out what to do with that. Send /help for examples."
	}

	e.metrics.MessagesProcessed.WithLabelValues(platform, "ok").Inc()
	return out, nil
}

func (e *Engine) persistTransaction(ctx context.Context, id *repo.Identity, c extract.TransactionCandidate, original, platform string) (*repo.Transaction, error) {
	var merchant *string
	if c.Merchant != "" {
		merchant = &c.Merchant
	}
	confidence := c.Confidence

	txn, err := e.store.InsertTransaction(ctx, repo.Transaction{
		UserID:          id.UserID,
		Amount:          c.Amount,
		Description:     c.Description,
		Category:        extract.ValidateCategory(c.Category, c.Type),
		Type:            c.Type,
		OriginalMessage: original,
		SourcePlatform:  platform,
		Merchant:        merchant,
		Date:            c.Date,
		Confidence:      &confidence,
		Tags:            c.Tags,
	})
	if err != nil {
		return nil, err
	}
	e.invalidateSummaries(ctx, id.UserID)
	return txn, nil
}

func (e *Engine) persistReminder(ctx context.Context, id *repo.Identity, c extract.ReminderCandidate, original, platform string) (*repo.Reminder, bool, error) {
	dueAt, tzWarn := extract.NormalizeDueDate(c.DueISO, c.DueText, id.Timezone, time.Now())
	if tzWarn {
		e.logger.Warn("unknown user timezone, using UTC",
			"user_id", id.UserID, "timezone", id.Timezone)
	}

	rem, err := e.store.InsertReminder(ctx, repo.Reminder{
		UserID:         id.UserID,
		Title:          c.Title,
		Description:    c.Description,
		DueAt:          dueAt,
		Type:           c.Type,
		Priority:       c.Priority,
		SourceText:     original,
		SourcePlatform: platform,
	})
	if err != nil {
		return nil, false, err
	}
	return rem, tzWarn, nil
}

// BatchResult is the outcome of a receipt or statement import.
type BatchResult struct {
	Transactions     []repo.Transaction `json:"transactions"`
	Total            int                `json:"total"`
	CreditsRemaining int                `json:"credits_remaining"`
	LowBalance       bool               `json:"low_balance,omitempty"`
	Message          string             `json:"message"`
}

// ProcessReceipt charges the receipt-scan cost and imports every
// transaction found on the image.
func (e *Engine) ProcessReceipt(ctx context.Context, telegramID string, image []byte, mimeType, platform string) (*BatchResult, error) {
	return e.processBatch(ctx, telegramID, platform, "receipt_scan", credits.CostReceiptScan,
		func(ctx context.Context, id *repo.Identity) ([]extract.TransactionCandidate, error) {
			return e.extractor.ExtractReceipt(ctx, image, mimeType)
		})
}

// ProcessStatement imports a bank statement. Free of charge.
func (e *Engine) ProcessStatement(ctx context.Context, telegramID string, doc []byte, mimeType, platform string) (*BatchResult, error) {
	return e.processBatch(ctx, telegramID, platform, "bank_statement", credits.CostBankImport,
		func(ctx context.Context, id *repo.Identity) ([]extract.TransactionCandidate, error) {
			return e.extractor.ExtractStatement(ctx, doc, mimeType)
		})
}

func (e *Engine) processBatch(
	ctx context.Context,
	telegramID, platform, operation string,
	cost int,
	extractFn func(context.Context, *repo.Identity) ([]extract.TransactionCandidate, error),
) (*BatchResult, error) {
	id, err := e.resolve(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	res, err := e.consume(ctx, id.UserID, operation, cost)
	if err != nil {
		return nil, err
	}

	candidates, err := extractFn(ctx, id)
	if err != nil {
		if errors.Is(err, extract.ErrNoData) {
			return &BatchResult{
				CreditsRemaining: res.CreditsRemaining,
				LowBalance:       credits.LowBalance(res),
				Message:          "I couldn't read any transactions out of that document.",
			}, nil
		}
		return nil, err
	}

	out := &BatchResult{CreditsRemaining: res.CreditsRemaining, LowBalance: credits.LowBalance(res)}
	for _, c := range candidates {
		txn, err := e.persistTransaction(ctx, id, c, "", platform)
		if err != nil {
			return nil, err
		}
		out.Transactions = append(out.Transactions, *txn)
	}
	out.Total = len(out.Transactions)
	out.Message = fmt.Sprintf("Imported %d transaction(s).", out.Total)
	return out, nil
}

// Summary returns the user's transaction summary over the window, served
// from Redis when warm.
func (e *Engine) Summary(ctx context.Context, telegramID string, days int) (*repo.TransactionSummary, error) {
	id, err := e.resolve(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return e.summaryForUser(ctx, id.UserID, days)
}

// summaryCacheDays is the set of windows worth caching; other windows go
// straight to the store.
var summaryCacheDays = []int{7, 30, 90}

func summaryKey(userID string, days int) string {
	return "summary:" + userID + ":" + strconv.Itoa(days)
}

func (e *Engine) summaryForUser(ctx context.Context, userID string, days int) (*repo.TransactionSummary, error) {
	if days <= 0 {
		days = 30
	}
	cacheable := e.summaries != nil && containsInt(summaryCacheDays, days)

	if cacheable {
		var cached repo.TransactionSummary
		if ok, err := e.summaries.GetJSON(ctx, summaryKey(userID, days), &cached); err != nil {
			e.logger.Debug("summary cache read failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	summary, err := e.store.GetTransactionSummary(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := e.summaries.SetJSON(ctx, summaryKey(userID, days), summary, e.cfg.SummaryCacheTTL); err != nil {
			e.logger.Debug("summary cache write failed", "error", err)
		}
	}
	return summary, nil
}

func (e *Engine) invalidateSummaries(ctx context.Context, userID string) {
	if e.summaries == nil {
		return
	}
	keys := make([]string, 0, len(summaryCacheDays))
	for _, d := range summaryCacheDays {
		keys = append(keys, summaryKey(userID, d))
	}
	if err := e.summaries.Delete(ctx, keys...); err != nil {
		e.logger.Debug("summary cache invalidation failed", "error", err)
	}
}

// Reminders lists a user's open reminders.
func (e *Engine) Reminders(ctx context.Context, telegramID string, includeCompleted bool) ([]repo.Reminder, error) {
	id, err := e.resolve(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return e.store.ListReminders(ctx, id.UserID, includeCompleted, 20)
}

// CompleteReminder marks one of the user's reminders done.
func (e *Engine) CompleteReminder(ctx context.Context, telegramID string, reminderID int64) (bool, error) {
	id, err := e.resolve(ctx, telegramID)
	if err != nil {
		return false, err
	}
	return e.store.CompleteReminder(ctx, reminderID, id.UserID)
}

// CreditStatus reports the balance for a resolved channel user.
func (e *Engine) CreditStatus(ctx context.Context, telegramID string) (*repo.CreditStatus, error) {
	id, err := e.resolve(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return e.ledger.Status(ctx, id.UserID)
}

// CreditStatusByUserID reports the balance for a known user id, used by
// the HTTP API.
func (e *Engine) CreditStatusByUserID(ctx context.Context, userID string) (*repo.CreditStatus, error) {
	return e.ledger.Status(ctx, userID)
}

// UpgradeResult carries a fresh checkout link.
type UpgradeResult struct {
	PaymentID   string `json:"payment_id"`
	CheckoutURL string `json:"checkout_url"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
}

// Upgrade opens a pending payment and returns the provider checkout link.
func (e *Engine) Upgrade(ctx context.Context, telegramID string) (*UpgradeResult, error) {
	id, err := e.resolve(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if id.PremiumActive(time.Now()) {
		return nil, fmt.Errorf("already premium until %v", id.PremiumUntil)
	}

	p, err := e.store.CreatePayment(ctx, id.UserID, e.gateway.Provider(),
		e.cfg.PremiumPrice, e.cfg.PremiumCurrency, time.Now().Add(e.cfg.PaymentValidFor))
	if err != nil {
		return nil, err
	}

	return &UpgradeResult{
		PaymentID:   p.ID,
		CheckoutURL: e.gateway.CheckoutURL(p.ID, "OkanAssist Premium (monthly)", e.cfg.PremiumPrice, e.cfg.PremiumCurrency),
		Price:       e.cfg.PremiumPrice,
		Currency:    e.cfg.PremiumCurrency,
	}, nil
}

// HandlePaymentEvent implements payment.Processor: settle the payment,
// drop the payer's session so the premium flag reloads, and tell them.
func (e *Engine) HandlePaymentEvent(ctx context.Context, event payment.Event) error {
	status := repo.PaymentStatus(event.Status)
	switch status {
	case repo.PaymentSuccess, repo.PaymentFailed, repo.PaymentCancelled:
	default:
		return fmt.Errorf("unknown payment status %q", event.Status)
	}

	p, err := e.store.SettlePayment(ctx, event.PaymentID, status, event.TransactionID, e.cfg.PremiumPeriod)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Replayed or unknown event; acknowledge so the provider
			// stops retrying.
			e.logger.Warn("settlement for unknown or settled payment", "payment_id", event.PaymentID)
			return nil
		}
		return err
	}

	telegramID, err := e.store.GetTelegramID(ctx, p.UserID)
	if err != nil {
		e.logger.Debug("no channel to notify after settlement", "user_id", p.UserID)
		return nil
	}
	e.sessions.Invalidate(telegramID)

	if e.notifier != nil && status == repo.PaymentSuccess {
		if err := e.notifier.Notify(telegramID, "Payment received. Premium is active, enjoy unlimited credits!"); err != nil {
			e.logger.Warn("settlement notification failed", "telegram_id", telegramID, "error", err)
		}
	}
	e.logger.Info("payment settled", "payment_id", p.ID, "status", status, "user_id", p.UserID)
	return nil
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func firstName(full string) string {
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	if full == "" {
		return "there"
	}
	return full
}
