package assist

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"okanassist/internal/credits"
	"okanassist/internal/extract"
	"okanassist/internal/identity"
	"okanassist/internal/metrics"
	"okanassist/internal/payment"
	"okanassist/internal/repo"
	"okanassist/internal/session"
)

// fakeStore is a minimal in-memory repo.Store.
type fakeStore struct {
	identities   map[string]*repo.Identity // by telegram id
	users        map[string]*repo.AuthUser // by user id
	credits      map[string]int            // by user id
	premium      map[string]bool
	transactions []repo.Transaction
	reminders    []repo.Reminder
	payments     map[string]*repo.Payment
	consumes     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities: map[string]*repo.Identity{},
		users:      map[string]*repo.AuthUser{},
		credits:    map[string]int{},
		premium:    map[string]bool{},
		payments:   map[string]*repo.Payment{},
	}
}

func (f *fakeStore) seedUser(telegramID, userID string, balance int) {
	f.identities[telegramID] = &repo.Identity{
		UserID: userID, TelegramID: telegramID,
		Email: userID + "@example.com", Name: "Test User",
		Timezone: "UTC", Currency: "USD",
	}
	f.users[userID] = &repo.AuthUser{ID: userID, Email: userID + "@example.com", Name: "Test User"}
	f.credits[userID] = balance
}

func (f *fakeStore) Close()                                              {}
func (f *fakeStore) Ping(ctx context.Context) error                      { return nil }
func (f *fakeStore) RunMigrations(ctx context.Context, fsys fs.FS) error { return nil }

func (f *fakeStore) GetIdentityByTelegramID(ctx context.Context, telegramID string) (*repo.Identity, error) {
	id, ok := f.identities[telegramID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (f *fakeStore) RegisterIdentity(ctx context.Context, reg repo.NewIdentity) (*repo.Identity, error) {
	userID := "u-" + reg.TelegramID
	f.users[userID] = &repo.AuthUser{ID: userID, Email: reg.Email, Name: reg.Name}
	f.identities[reg.TelegramID] = &repo.Identity{
		UserID: userID, TelegramID: reg.TelegramID, Email: reg.Email, Name: reg.Name,
		Timezone: reg.Timezone, Currency: reg.Currency,
	}
	allotment := reg.InitialCredits
	if allotment == 0 {
		allotment = 50
	}
	f.credits[userID] = allotment
	return f.GetIdentityByTelegramID(ctx, reg.TelegramID)
}

func (f *fakeStore) GetAuthUser(ctx context.Context, userID string) (*repo.AuthUser, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetAuthUserByEmail(ctx context.Context, email string) (*repo.AuthUser, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeStore) LinkTelegramID(ctx context.Context, userID, telegramID, name string) error {
	u := f.users[userID]
	f.identities[telegramID] = &repo.Identity{
		UserID: userID, TelegramID: telegramID, Email: u.Email, Name: u.Name,
		Timezone: "UTC", Currency: "USD",
	}
	return nil
}

func (f *fakeStore) GetTelegramID(ctx context.Context, userID string) (string, error) {
	for tid, id := range f.identities {
		if id.UserID == userID {
			return tid, nil
		}
	}
	return "", repo.ErrNotFound
}

func (f *fakeStore) TouchInteraction(ctx context.Context, telegramID string) error { return nil }

func (f *fakeStore) ConsumeCredits(ctx context.Context, userID, operationType string, creditsNeeded int) (*repo.CreditResult, error) {
	f.consumes++
	balance, ok := f.credits[userID]
	if !ok {
		return &repo.CreditResult{Error: repo.CreditErrUserNotFound}, nil
	}
	if f.premium[userID] {
		return &repo.CreditResult{Success: true, IsPremium: true, CreditsRemaining: -1}, nil
	}
	if balance < creditsNeeded {
		return &repo.CreditResult{
			Error: repo.CreditErrInsufficient, CreditsAvailable: balance, CreditsNeeded: creditsNeeded,
		}, nil
	}
	f.credits[userID] = balance - creditsNeeded
	return &repo.CreditResult{Success: true, CreditsUsed: creditsNeeded, CreditsRemaining: balance - creditsNeeded}, nil
}

func (f *fakeStore) GetCreditStatus(ctx context.Context, userID string) (*repo.CreditStatus, error) {
	balance, ok := f.credits[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &repo.CreditStatus{Credits: balance, IsPremium: f.premium[userID]}, nil
}

func (f *fakeStore) ResetMonthlyCredits(ctx context.Context, allotment int, period time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeStore) ExpireLapsedPremium(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeStore) InsertTransaction(ctx context.Context, txn repo.Transaction) (*repo.Transaction, error) {
	txn.ID = int64(len(f.transactions) + 1)
	f.transactions = append(f.transactions, txn)
	return &txn, nil
}

func (f *fakeStore) GetTransactionSummary(ctx context.Context, userID string, days int) (*repo.TransactionSummary, error) {
	return &repo.TransactionSummary{UserID: userID, PeriodDays: days}, nil
}

func (f *fakeStore) InsertReminder(ctx context.Context, rem repo.Reminder) (*repo.Reminder, error) {
	rem.ID = int64(len(f.reminders) + 1)
	f.reminders = append(f.reminders, rem)
	return &rem, nil
}

func (f *fakeStore) ListReminders(ctx context.Context, userID string, includeCompleted bool, limit int) ([]repo.Reminder, error) {
	return f.reminders, nil
}

func (f *fakeStore) CompleteReminder(ctx context.Context, reminderID int64, userID string) (bool, error) {
	for i := range f.reminders {
		if f.reminders[i].ID == reminderID && f.reminders[i].UserID == userID && !f.reminders[i].IsCompleted {
			f.reminders[i].IsCompleted = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreatePayment(ctx context.Context, userID, provider, amount, currency string, validUntil time.Time) (*repo.Payment, error) {
	amt, _ := decimal.NewFromString(amount)
	p := &repo.Payment{ID: "pay-1", UserID: userID, Provider: provider, Amount: amt, Currency: currency, Status: repo.PaymentPending}
	f.payments[p.ID] = p
	return p, nil
}

func (f *fakeStore) GetPayment(ctx context.Context, paymentID string) (*repo.Payment, error) {
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) SettlePayment(ctx context.Context, paymentID string, status repo.PaymentStatus, providerTxID string, premiumPeriod time.Duration) (*repo.Payment, error) {
	p, ok := f.payments[paymentID]
	if !ok || p.Status != repo.PaymentPending {
		return nil, repo.ErrNotFound
	}
	p.Status = status
	if status == repo.PaymentSuccess {
		f.premium[p.UserID] = true
	}
	return p, nil
}

// fakeExtractor returns canned extractions.
type fakeExtractor struct {
	message *extract.MessageExtraction
	batch   []extract.TransactionCandidate
	err     error
	calls   int
}

func (f *fakeExtractor) ExtractMessage(ctx context.Context, text string) (*extract.MessageExtraction, error) {
	f.calls++
	return f.message, f.err
}

func (f *fakeExtractor) ExtractReceipt(ctx context.Context, image []byte, mimeType string) ([]extract.TransactionCandidate, error) {
	f.calls++
	return f.batch, f.err
}

func (f *fakeExtractor) ExtractStatement(ctx context.Context, doc []byte, mimeType string) ([]extract.TransactionCandidate, error) {
	f.calls++
	return f.batch, f.err
}

func newEngine(store *fakeStore, ex extract.Extractor) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.Registry("test")
	sessions := session.New(30*time.Minute, time.Minute, logger, m)
	resolver := identity.NewResolver(store, sessions, logger, m)
	ledger := credits.New(store, 20, 30*24*time.Hour, logger, m)
	gateway := payment.NewPayPal("", "merchant@okanassist.app")
	return New(store, sessions, resolver, ledger, ex, gateway, nil, Config{
		PremiumPrice:    "9.99",
		PremiumCurrency: "USD",
		PremiumPeriod:   30 * 24 * time.Hour,
		InitialCredits:  25,
	}, logger, m)
}

func TestRouteMessageUnknownUserConsumesNothing(t *testing.T) {
	store := newFakeStore()
	ex := &fakeExtractor{}
	e := newEngine(store, ex)

	_, err := e.RouteMessage(context.Background(), "stranger", "spent $5 on coffee", "telegram")
	if !errors.Is(err, identity.ErrMustRegister) {
		t.Fatalf("expected ErrMustRegister, got %v", err)
	}
	if store.consumes != 0 {
		t.Fatalf("unauthenticated request must not consume credits, consumed %d times", store.consumes)
	}
	if ex.calls != 0 {
		t.Fatal("unauthenticated request must not reach the extractor")
	}
	if len(store.transactions) != 0 {
		t.Fatal("unauthenticated request must not persist anything")
	}
}

func TestRouteMessagePersistsTransaction(t *testing.T) {
	store := newFakeStore()
	store.seedUser("123", "u1", 10)
	ex := &fakeExtractor{message: &extract.MessageExtraction{
		Intent: extract.IntentTransaction,
		Transaction: &extract.TransactionCandidate{
			Type:        repo.TransactionExpense,
			Amount:      decimal.RequireFromString("12.50"),
			Description: "coffee",
			Category:    "Food & Dining",
			Confidence:  0.9,
		},
	}}
	e := newEngine(store, ex)

	out, err := e.RouteMessage(context.Background(), "123", "spent $12.50 on coffee", "telegram")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if out.Kind != "transaction" || out.Transaction == nil {
		t.Fatalf("expected transaction result, got %+v", out)
	}
	if out.CreditsRemaining != 9 {
		t.Fatalf("expected 9 credits remaining, got %d", out.CreditsRemaining)
	}
	if len(store.transactions) != 1 {
		t.Fatalf("expected 1 stored transaction, got %d", len(store.transactions))
	}
	if store.transactions[0].SourcePlatform != "telegram" {
		t.Fatalf("expected source platform recorded, got %q", store.transactions[0].SourcePlatform)
	}
}

func TestRouteMessageInsufficientCredits(t *testing.T) {
	store := newFakeStore()
	store.seedUser("123", "u1", 0)
	ex := &fakeExtractor{}
	e := newEngine(store, ex)

	_, err := e.RouteMessage(context.Background(), "123", "spent $5", "telegram")
	var ce *CreditError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CreditError, got %v", err)
	}
	if ce.Available != 0 || ce.Needed != 1 {
		t.Fatalf("unexpected credit error %+v", ce)
	}
	if ex.calls != 0 {
		t.Fatal("denied request must not reach the extractor")
	}
}

func TestRouteMessageLowBalanceFlag(t *testing.T) {
	store := newFakeStore()
	store.seedUser("123", "u1", 6)
	ex := &fakeExtractor{message: &extract.MessageExtraction{
		Intent: extract.IntentReminder,
		Reminder: &extract.ReminderCandidate{
			Title: "pay rent", Type: repo.ReminderTask, Priority: repo.PriorityHigh,
			DueText: "tomorrow at 9am",
		},
	}}
	e := newEngine(store, ex)

	out, err := e.RouteMessage(context.Background(), "123", "remind me to pay rent tomorrow at 9am", "telegram")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !out.LowBalance {
		t.Fatal("5 credits remaining should set the low-balance flag")
	}
	if out.Reminder == nil || out.Reminder.DueAt == nil {
		t.Fatalf("expected reminder with due date, got %+v", out.Reminder)
	}
}

func TestProcessReceiptChargesFive(t *testing.T) {
	store := newFakeStore()
	store.seedUser("123", "u1", 10)
	ex := &fakeExtractor{batch: []extract.TransactionCandidate{
		{Type: repo.TransactionExpense, Amount: decimal.RequireFromString("30"), Description: "groceries", Category: "Groceries", Confidence: 0.8},
	}}
	e := newEngine(store, ex)

	out, err := e.ProcessReceipt(context.Background(), "123", []byte("img"), "image/jpeg", "telegram")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if out.Total != 1 {
		t.Fatalf("expected 1 import, got %d", out.Total)
	}
	if store.credits["u1"] != 5 {
		t.Fatalf("expected 5 credits left, got %d", store.credits["u1"])
	}
}

func TestProcessStatementIsFree(t *testing.T) {
	store := newFakeStore()
	store.seedUser("123", "u1", 0)
	ex := &fakeExtractor{batch: []extract.TransactionCandidate{
		{Type: repo.TransactionIncome, Amount: decimal.RequireFromString("3000"), Description: "salary", Category: "Salary", Confidence: 0.9},
		{Type: repo.TransactionExpense, Amount: decimal.RequireFromString("40"), Description: "internet", Category: "Bills", Confidence: 0.9},
	}}
	e := newEngine(store, ex)

	out, err := e.ProcessStatement(context.Background(), "123", []byte("pdf"), "application/pdf", "telegram")
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if out.Total != 2 {
		t.Fatalf("expected 2 imports, got %d", out.Total)
	}
	if store.credits["u1"] != 0 {
		t.Fatalf("statement import must be free, balance moved to %d", store.credits["u1"])
	}
}

func TestRegisterNewAccountAndExistingEmail(t *testing.T) {
	store := newFakeStore()
	e := newEngine(store, &fakeExtractor{})

	id, err := e.Register(context.Background(), RegisterRequest{
		TelegramID: "123", Email: "ana@example.com", Name: "Ana Lima",
		Timezone: "America/Sao_Paulo",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !id.Authenticated {
		t.Fatal("registered identity should be authenticated")
	}
	if id.Currency != "BRL" {
		t.Fatalf("expected currency inferred from timezone, got %s", id.Currency)
	}

	// Second channel with the same email links, not duplicates.
	id2, err := e.Register(context.Background(), RegisterRequest{
		TelegramID: "456", Email: "ana@example.com", Name: "Ana",
	})
	if err != nil {
		t.Fatalf("register existing: %v", err)
	}
	if id2.UserID != id.UserID {
		t.Fatalf("expected same account, got %s vs %s", id2.UserID, id.UserID)
	}
}

func TestRegisterGrantsConfiguredInitialCredits(t *testing.T) {
	store := newFakeStore()
	e := newEngine(store, &fakeExtractor{})

	id, err := e.Register(context.Background(), RegisterRequest{
		TelegramID: "321", Email: "noa@example.com", Name: "Noa",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := store.credits[id.UserID]; got != 25 {
		t.Fatalf("expected the configured allotment 25, got %d", got)
	}
}

func TestStartWithClaimedAccountLinksIdempotently(t *testing.T) {
	store := newFakeStore()
	// The account exists but no channel is linked to it yet.
	store.users["u9"] = &repo.AuthUser{ID: "u9", Email: "liv@example.com", Name: "Liv"}
	store.credits["u9"] = 10
	e := newEngine(store, &fakeExtractor{})

	out, err := e.Start(context.Background(), "777", "u9")
	if err != nil {
		t.Fatalf("start with claim: %v", err)
	}
	if !out.Registered {
		t.Fatal("claimed link should leave the channel registered")
	}
	id, err := store.GetIdentityByTelegramID(context.Background(), "777")
	if err != nil || id.UserID != "u9" {
		t.Fatalf("channel should be linked to u9, got %+v (%v)", id, err)
	}

	// Replaying the same deep link lands on the same identity.
	out2, err := e.Start(context.Background(), "777", "u9")
	if err != nil {
		t.Fatalf("replayed start: %v", err)
	}
	if !out2.Registered {
		t.Fatal("replayed link should still be registered")
	}
	again, _ := store.GetIdentityByTelegramID(context.Background(), "777")
	if again.UserID != id.UserID {
		t.Fatalf("replayed link moved the channel: %s vs %s", again.UserID, id.UserID)
	}

	// Claiming an account that does not exist fails closed.
	if _, err := e.Start(context.Background(), "888", "nobody"); !errors.Is(err, identity.ErrLinkFailed) {
		t.Fatalf("expected ErrLinkFailed for unknown claim, got %v", err)
	}
}

func TestPaymentSettlementFlipsPremiumAndInvalidatesSession(t *testing.T) {
	store := newFakeStore()
	store.seedUser("123", "u1", 0)
	e := newEngine(store, &fakeExtractor{message: &extract.MessageExtraction{Intent: extract.IntentUnknown}})

	// Warm the session, then open and settle an upgrade.
	if _, err := e.Start(context.Background(), "123", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	up, err := e.Upgrade(context.Background(), "123")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	err = e.HandlePaymentEvent(context.Background(), payment.Event{
		Type: "payment.completed", PaymentID: up.PaymentID, Status: "success", TransactionID: "tx1",
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !store.premium["u1"] {
		t.Fatal("settlement should flip premium")
	}

	// The stale session is gone; the next message sees premium.
	out, routeErr := e.RouteMessage(context.Background(), "123", "spent $5", "telegram")
	if routeErr != nil {
		t.Fatalf("route after upgrade: %v", routeErr)
	}
	if out.CreditsRemaining != -1 {
		t.Fatalf("expected premium bypass (-1), got %d", out.CreditsRemaining)
	}

	// Replayed settlement is acknowledged quietly.
	if err := e.HandlePaymentEvent(context.Background(), payment.Event{
		Type: "payment.completed", PaymentID: up.PaymentID, Status: "success",
	}); err != nil {
		t.Fatalf("replayed settlement should not error: %v", err)
	}
}
