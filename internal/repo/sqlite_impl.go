package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -- Identities --

func (r *SQLite) GetIdentityByTelegramID(ctx context.Context, telegramID string) (*Identity, error) {
	const q = `
SELECT s.user_id, s.telegram_id, COALESCE(a.email, ''), COALESCE(a.name, ''),
       s.language, s.timezone, s.currency, s.is_premium, s.premium_until,
       s.freemium_credits, s.credits_reset_date
FROM user_settings s
LEFT JOIN auth_users a ON a.id = s.user_id
WHERE s.telegram_id = ?;
`
	var id Identity
	err := r.db.QueryRowContext(ctx, q, telegramID).Scan(
		&id.UserID, &id.TelegramID, &id.Email, &id.Name,
		&id.Language, &id.Timezone, &id.Currency, &id.IsPremium, &id.PremiumUntil,
		&id.Credits, &id.CreditsResetDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity by telegram id: %w", err)
	}
	id.Authenticated = id.Complete()
	return &id, nil
}

func (r *SQLite) RegisterIdentity(ctx context.Context, reg NewIdentity) (*Identity, error) {
	userID := uuid.New().String()

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO auth_users (id, email, name) VALUES (?, ?, ?);
`, userID, reg.Email, reg.Name); err != nil {
			return mapSQLiteUnique(err, "register auth user")
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO user_settings (user_id, telegram_id, language, timezone, currency, freemium_credits)
VALUES (?, ?, COALESCE(NULLIF(?, ''), 'en'), COALESCE(NULLIF(?, ''), 'UTC'), COALESCE(NULLIF(?, ''), 'USD'),
        COALESCE(NULLIF(?, 0), 50));
`, userID, reg.TelegramID, reg.Language, reg.Timezone, reg.Currency, reg.InitialCredits); err != nil {
			return mapSQLiteUnique(err, "register user settings")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetIdentityByTelegramID(ctx, reg.TelegramID)
}

func (r *SQLite) LinkTelegramID(ctx context.Context, userID, telegramID, name string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO user_settings (user_id, telegram_id, last_bot_interaction)
VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    telegram_id = excluded.telegram_id,
    last_bot_interaction = excluded.last_bot_interaction,
    updated_at = excluded.last_bot_interaction;
`, userID, telegramID, sqliteTime(time.Now())); err != nil {
			return mapSQLiteUnique(err, "link telegram id")
		}

		if name != "" {
			if _, err := tx.ExecContext(ctx, `
UPDATE auth_users SET name = ? WHERE id = ? AND name = '';
`, name, userID); err != nil {
				return fmt.Errorf("backfill name: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLite) GetTelegramID(ctx context.Context, userID string) (string, error) {
	var telegramID string
	err := r.db.QueryRowContext(ctx, `
SELECT telegram_id FROM user_settings WHERE user_id = ?;
`, userID).Scan(&telegramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get telegram id: %w", err)
	}
	if telegramID == "" {
		return "", ErrNotFound
	}
	return telegramID, nil
}

func (r *SQLite) TouchInteraction(ctx context.Context, telegramID string) error {
	now := sqliteTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
UPDATE user_settings SET last_bot_interaction = ?, updated_at = ?
WHERE telegram_id = ?;
`, now, now, telegramID)
	if err != nil {
		return fmt.Errorf("touch interaction: %w", err)
	}
	return nil
}

func (r *SQLite) GetAuthUser(ctx context.Context, userID string) (*AuthUser, error) {
	var u AuthUser
	err := r.db.QueryRowContext(ctx, `
SELECT id, email, name, created_at FROM auth_users WHERE id = ?;
`, userID).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get auth user: %w", err)
	}
	return &u, nil
}

func (r *SQLite) GetAuthUserByEmail(ctx context.Context, email string) (*AuthUser, error) {
	var u AuthUser
	err := r.db.QueryRowContext(ctx, `
SELECT id, email, name, created_at FROM auth_users WHERE email = ?;
`, email).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get auth user by email: %w", err)
	}
	return &u, nil
}

// -- Credits --

func (r *SQLite) ConsumeCredits(ctx context.Context, userID, operationType string, creditsNeeded int) (*CreditResult, error) {
	var res CreditResult

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var (
			credits      int
			isPremium    bool
			premiumUntil *time.Time
		)
		err := tx.QueryRowContext(ctx, `
SELECT freemium_credits, is_premium, premium_until
FROM user_settings WHERE user_id = ?;
`, userID).Scan(&credits, &isPremium, &premiumUntil)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				res = CreditResult{Error: CreditErrUserNotFound}
				return nil
			}
			return fmt.Errorf("read credit row: %w", err)
		}

		now := time.Now()
		if isPremium && (premiumUntil == nil || premiumUntil.After(now)) {
			res = CreditResult{Success: true, IsPremium: true, CreditsRemaining: -1}
			return nil
		}

		if credits < creditsNeeded {
			res = CreditResult{
				Error:            CreditErrInsufficient,
				CreditsAvailable: credits,
				CreditsNeeded:    creditsNeeded,
			}
			return nil
		}

		remaining := credits - creditsNeeded
		if creditsNeeded > 0 {
			// Guarded decrement so two writers racing on the same user
			// cannot both succeed off a stale read.
			tag, err := tx.ExecContext(ctx, `
UPDATE user_settings SET freemium_credits = ?, updated_at = ?
WHERE user_id = ? AND freemium_credits = ?;
`, remaining, sqliteTime(now), userID, credits)
			if err != nil {
				return fmt.Errorf("decrement credits: %w", err)
			}
			if n, _ := tag.RowsAffected(); n == 0 {
				res = CreditResult{
					Error:            CreditErrInsufficient,
					CreditsAvailable: credits,
					CreditsNeeded:    creditsNeeded,
				}
				return nil
			}
		}
		res = CreditResult{Success: true, CreditsUsed: creditsNeeded, CreditsRemaining: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *SQLite) GetCreditStatus(ctx context.Context, userID string) (*CreditStatus, error) {
	var (
		st           CreditStatus
		isPremium    bool
		premiumUntil *time.Time
	)
	err := r.db.QueryRowContext(ctx, `
SELECT freemium_credits, is_premium, premium_until, credits_reset_date
FROM user_settings WHERE user_id = ?;
`, userID).Scan(&st.Credits, &isPremium, &premiumUntil, &st.CreditsResetDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credit status: %w", err)
	}
	st.IsPremium = isPremium && (premiumUntil == nil || premiumUntil.After(time.Now()))
	st.PremiumUntil = premiumUntil
	return &st, nil
}

func (r *SQLite) ResetMonthlyCredits(ctx context.Context, allotment int, period time.Duration) (int64, error) {
	now := time.Now()
	tag, err := r.db.ExecContext(ctx, `
UPDATE user_settings
SET freemium_credits = ?, credits_reset_date = ?, updated_at = ?
WHERE is_premium = 0 AND credits_reset_date < ?;
`, allotment, sqliteTime(now.Add(period)), sqliteTime(now), sqliteTime(now))
	if err != nil {
		return 0, fmt.Errorf("reset monthly credits: %w", err)
	}
	return tag.RowsAffected()
}

func (r *SQLite) ExpireLapsedPremium(ctx context.Context) (int64, error) {
	now := sqliteTime(time.Now())
	tag, err := r.db.ExecContext(ctx, `
UPDATE user_settings
SET is_premium = 0, updated_at = ?
WHERE is_premium = 1 AND premium_until IS NOT NULL AND premium_until <= ?;
`, now, now)
	if err != nil {
		return 0, fmt.Errorf("expire lapsed premium: %w", err)
	}
	return tag.RowsAffected()
}

// -- Transactions --

func (r *SQLite) InsertTransaction(ctx context.Context, txn Transaction) (*Transaction, error) {
	if txn.Date.IsZero() {
		txn.Date = time.Now().UTC()
	}
	tagsJSON, err := json.Marshal(txn.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
INSERT INTO transactions
    (user_id, amount, description, category, type, original_message,
     source_platform, merchant, date, confidence, tags)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, created_at;
`, txn.UserID, txn.Amount, txn.Description, txn.Category, txn.Type,
		txn.OriginalMessage, txn.SourcePlatform, txn.Merchant, sqliteTime(txn.Date),
		txn.Confidence, string(tagsJSON),
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return &txn, nil
}

func (r *SQLite) GetTransactionSummary(ctx context.Context, userID string, days int) (*TransactionSummary, error) {
	if days <= 0 {
		days = 30
	}
	since := sqliteTime(time.Now().AddDate(0, 0, -days))
	sum := &TransactionSummary{UserID: userID, PeriodDays: days}

	err := r.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0),
       COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0),
       COUNT(*) FILTER (WHERE type = 'income'),
       COUNT(*) FILTER (WHERE type = 'expense'),
       COUNT(*)
FROM transactions
WHERE user_id = ? AND date >= ?;
`, userID, since).Scan(
		&sum.TotalIncome, &sum.TotalExpenses,
		&sum.IncomeCount, &sum.ExpenseCount, &sum.TotalTransactions,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize transactions: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT category, SUM(amount)
FROM transactions
WHERE user_id = ? AND type = 'expense' AND date >= ?
GROUP BY category
ORDER BY SUM(amount) DESC
LIMIT 5;
`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("summarize categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		sum.ExpenseCategories = append(sum.ExpenseCategories, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category totals: %w", err)
	}
	return sum, nil
}

// -- Reminders --

func (r *SQLite) InsertReminder(ctx context.Context, rem Reminder) (*Reminder, error) {
	err := r.db.QueryRowContext(ctx, `
INSERT INTO reminders
    (user_id, title, description, due_at, type, priority, source_text, source_platform)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, created_at;
`, rem.UserID, rem.Title, rem.Description, sqliteTimePtr(rem.DueAt), rem.Type,
		rem.Priority, rem.SourceText, rem.SourcePlatform,
	).Scan(&rem.ID, &rem.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	return &rem, nil
}

func (r *SQLite) ListReminders(ctx context.Context, userID string, includeCompleted bool, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, title, description, due_at, type, priority,
       is_completed, source_text, source_platform, created_at, completed_at
FROM reminders
WHERE user_id = ? AND (is_completed = 0 OR ?)
ORDER BY due_at IS NULL, due_at ASC, created_at ASC
LIMIT ?;
`, userID, includeCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var rem Reminder
		if err := rows.Scan(
			&rem.ID, &rem.UserID, &rem.Title, &rem.Description, &rem.DueAt,
			&rem.Type, &rem.Priority, &rem.IsCompleted, &rem.SourceText,
			&rem.SourcePlatform, &rem.CreatedAt, &rem.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return out, nil
}

func (r *SQLite) CompleteReminder(ctx context.Context, reminderID int64, userID string) (bool, error) {
	tag, err := r.db.ExecContext(ctx, `
UPDATE reminders SET is_completed = 1, completed_at = ?
WHERE id = ? AND user_id = ? AND is_completed = 0;
`, sqliteTime(time.Now()), reminderID, userID)
	if err != nil {
		return false, fmt.Errorf("complete reminder: %w", err)
	}
	n, err := tag.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete reminder: %w", err)
	}
	return n > 0, nil
}

// -- Payments --

func (r *SQLite) CreatePayment(ctx context.Context, userID, provider, amount, currency string, validUntil time.Time) (*Payment, error) {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount %q: %w", amount, err)
	}

	p := &Payment{
		ID:         uuid.New().String(),
		UserID:     userID,
		Provider:   provider,
		Amount:     amt,
		Currency:   currency,
		Status:     PaymentPending,
		ValidUntil: &validUntil,
	}

	err = r.db.QueryRowContext(ctx, `
INSERT INTO payments (id, user_id, provider, amount, currency, status, valid_until)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING created_at;
`, p.ID, p.UserID, p.Provider, p.Amount, p.Currency, p.Status, sqliteTime(validUntil),
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

func (r *SQLite) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var p Payment
	err := r.db.QueryRowContext(ctx, `
SELECT id, user_id, provider, amount, currency, status, transaction_id, valid_until, created_at
FROM payments
WHERE id = ?;
`, paymentID).Scan(
		&p.ID, &p.UserID, &p.Provider, &p.Amount, &p.Currency,
		&p.Status, &p.TransactionID, &p.ValidUntil, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (r *SQLite) SettlePayment(ctx context.Context, paymentID string, status PaymentStatus, providerTxID string, premiumPeriod time.Duration) (*Payment, error) {
	var p Payment

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
UPDATE payments
SET status = ?, transaction_id = NULLIF(?, '')
WHERE id = ? AND status = 'pending'
RETURNING id, user_id, provider, amount, currency, status, transaction_id, valid_until, created_at;
`, status, providerTxID, paymentID).Scan(
			&p.ID, &p.UserID, &p.Provider, &p.Amount, &p.Currency,
			&p.Status, &p.TransactionID, &p.ValidUntil, &p.CreatedAt,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("settle payment: %w", err)
		}

		if status != PaymentSuccess {
			return nil
		}

		var premiumUntil *time.Time
		if err := tx.QueryRowContext(ctx, `
SELECT premium_until FROM user_settings WHERE user_id = ?;
`, p.UserID).Scan(&premiumUntil); err != nil {
			return fmt.Errorf("read premium window: %w", err)
		}

		now := time.Now()
		base := now
		if premiumUntil != nil && premiumUntil.After(now) {
			base = *premiumUntil
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE user_settings SET is_premium = 1, premium_until = ?, updated_at = ?
WHERE user_id = ?;
`, sqliteTime(base.Add(premiumPeriod)), sqliteTime(now), p.UserID); err != nil {
			return fmt.Errorf("activate premium: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// mapSQLiteUnique translates unique-constraint failures into the package's
// sentinel errors. modernc/sqlite surfaces the violated column in the
// error text.
func mapSQLiteUnique(err error, op string) error {
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed") {
		switch {
		case strings.Contains(msg, "email"):
			return ErrEmailTaken
		case strings.Contains(msg, "telegram"):
			return ErrChannelLinked
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
