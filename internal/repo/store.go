package repo

import (
	"context"
	"io/fs"
	"time"
)

// Store defines the interface for data persistence. Two implementations
// exist: Postgres for deployments and SQLite for local development.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Identities
	RegisterIdentity(ctx context.Context, reg NewIdentity) (*Identity, error)
	GetIdentityByTelegramID(ctx context.Context, telegramID string) (*Identity, error)
	GetAuthUser(ctx context.Context, userID string) (*AuthUser, error)
	GetAuthUserByEmail(ctx context.Context, email string) (*AuthUser, error)
	LinkTelegramID(ctx context.Context, userID, telegramID, name string) error
	GetTelegramID(ctx context.Context, userID string) (string, error)
	TouchInteraction(ctx context.Context, telegramID string) error

	// Credits. ConsumeCredits is a single atomic check-and-decrement; callers
	// must never split it into separate read and update round-trips.
	ConsumeCredits(ctx context.Context, userID, operationType string, creditsNeeded int) (*CreditResult, error)
	GetCreditStatus(ctx context.Context, userID string) (*CreditStatus, error)
	ResetMonthlyCredits(ctx context.Context, allotment int, period time.Duration) (int64, error)
	ExpireLapsedPremium(ctx context.Context) (int64, error)

	// Transactions
	InsertTransaction(ctx context.Context, txn Transaction) (*Transaction, error)
	GetTransactionSummary(ctx context.Context, userID string, days int) (*TransactionSummary, error)

	// Reminders
	InsertReminder(ctx context.Context, rem Reminder) (*Reminder, error)
	ListReminders(ctx context.Context, userID string, includeCompleted bool, limit int) ([]Reminder, error)
	CompleteReminder(ctx context.Context, reminderID int64, userID string) (bool, error)

	// Payments
	CreatePayment(ctx context.Context, userID, provider, amount, currency string, validUntil time.Time) (*Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	SettlePayment(ctx context.Context, paymentID string, status PaymentStatus, providerTxID string, premiumPeriod time.Duration) (*Payment, error)
}
