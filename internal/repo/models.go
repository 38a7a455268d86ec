package repo

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrChannelLinked indicates the telegram id is already linked to a user.
	ErrChannelLinked = errors.New("telegram id already linked")
)

// AuthUser is a row in the auth_users table, the backing auth store.
type AuthUser struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// Identity is the durable cross-channel user record: user_settings joined
// with the backing auth store. Authenticated is derived rather than stored;
// it is true only when the record was successfully completed from auth_users.
type Identity struct {
	UserID           string     `json:"user_id"`
	TelegramID       string     `json:"telegram_id"`
	Email            string     `json:"email,omitempty"`
	Name             string     `json:"name,omitempty"`
	Language         string     `json:"language"`
	Timezone         string     `json:"timezone"`
	Currency         string     `json:"currency"`
	IsPremium        bool       `json:"is_premium"`
	PremiumUntil     *time.Time `json:"premium_until,omitempty"`
	Credits          int        `json:"credits"`
	CreditsResetDate time.Time  `json:"credits_reset_date"`
	Authenticated    bool       `json:"authenticated"`
}

// Complete reports whether all fields required for an authenticated
// identity are present.
func (id *Identity) Complete() bool {
	return id.UserID != "" && id.Email != "" && id.Name != ""
}

// PremiumActive reports whether premium access applies at the given instant.
// A nil PremiumUntil means a lifetime subscription.
func (id *Identity) PremiumActive(now time.Time) bool {
	if !id.IsPremium {
		return false
	}
	return id.PremiumUntil == nil || id.PremiumUntil.After(now)
}

// NewIdentity carries the data needed to register a fresh identity.
// InitialCredits of zero falls back to the schema default.
type NewIdentity struct {
	TelegramID     string
	Email          string
	Name           string
	Language       string
	Timezone       string
	Currency       string
	InitialCredits int
}

// CreditResult is the outcome of one atomic consume operation.
// CreditsRemaining is -1 for premium (unlimited) users.
type CreditResult struct {
	Success          bool   `json:"success"`
	IsPremium        bool   `json:"is_premium"`
	CreditsUsed      int    `json:"credits_used"`
	CreditsRemaining int    `json:"credits_remaining"`
	Error            string `json:"error,omitempty"`
	CreditsAvailable int    `json:"credits_available,omitempty"`
	CreditsNeeded    int    `json:"credits_needed,omitempty"`
}

// Credit error codes, a closed set.
const (
	CreditErrUserNotFound = "user_not_found"
	CreditErrInsufficient = "insufficient_credits"
)

// CreditStatus is the read-only view of a user's credit state.
type CreditStatus struct {
	Credits          int        `json:"credits"`
	IsPremium        bool       `json:"is_premium"`
	CreditsResetDate time.Time  `json:"credits_reset_date"`
	PremiumUntil     *time.Time `json:"premium_until,omitempty"`
}

// TransactionType distinguishes money in from money out.
type TransactionType string

const (
	TransactionExpense TransactionType = "expense"
	TransactionIncome  TransactionType = "income"
)

// Transaction is a row in the transactions table.
type Transaction struct {
	ID              int64
	UserID          string
	Amount          decimal.Decimal
	Description     string
	Category        string
	Type            TransactionType
	OriginalMessage string
	SourcePlatform  string
	Merchant        *string
	Date            time.Time
	Confidence      *float64
	Tags            []string
	CreatedAt       time.Time
}

// CategoryTotal is one aggregated expense category in a summary.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// TransactionSummary aggregates a user's transactions over a period.
type TransactionSummary struct {
	UserID            string          `json:"user_id"`
	PeriodDays        int             `json:"period_days"`
	TotalIncome       decimal.Decimal `json:"total_income"`
	TotalExpenses     decimal.Decimal `json:"total_expenses"`
	IncomeCount       int             `json:"income_count"`
	ExpenseCount      int             `json:"expense_count"`
	TotalTransactions int             `json:"total_transactions"`
	ExpenseCategories []CategoryTotal `json:"expense_categories"`
}

// NetFlow is income minus expenses for the period.
func (s *TransactionSummary) NetFlow() decimal.Decimal {
	return s.TotalIncome.Sub(s.TotalExpenses)
}

// ReminderType categorises a reminder.
type ReminderType string

const (
	ReminderTask     ReminderType = "task"
	ReminderEvent    ReminderType = "event"
	ReminderDeadline ReminderType = "deadline"
	ReminderHabit    ReminderType = "habit"
	ReminderGeneral  ReminderType = "general"
)

// Priority is a reminder's urgency level.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Reminder is a row in the reminders table. DueAt, when present, is always
// stored in UTC; conversion to the user's timezone happens at display time.
type Reminder struct {
	ID             int64
	UserID         string
	Title          string
	Description    string
	DueAt          *time.Time
	Type           ReminderType
	Priority       Priority
	IsCompleted    bool
	SourceText     string
	SourcePlatform string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// PaymentStatus is a payment's lifecycle state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is a row in the payments table.
type Payment struct {
	ID            string
	UserID        string
	Provider      string
	Amount        decimal.Decimal
	Currency      string
	Status        PaymentStatus
	TransactionID *string
	ValidUntil    *time.Time
	CreatedAt     time.Time
}
