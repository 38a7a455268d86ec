package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// GetIdentityByTelegramID loads the identity linked to a telegram id,
// completing profile fields from the backing auth store in the same query.
func (r *Postgres) GetIdentityByTelegramID(ctx context.Context, telegramID string) (*Identity, error) {
	const q = `
SELECT s.user_id, s.telegram_id, COALESCE(a.email, ''), COALESCE(a.name, ''),
       s.language, s.timezone, s.currency, s.is_premium, s.premium_until,
       s.freemium_credits, s.credits_reset_date
FROM user_settings s
LEFT JOIN auth_users a ON a.id = s.user_id
WHERE s.telegram_id = $1;
`
	var id Identity
	err := r.pool.QueryRow(ctx, q, telegramID).Scan(
		&id.UserID, &id.TelegramID, &id.Email, &id.Name,
		&id.Language, &id.Timezone, &id.Currency, &id.IsPremium, &id.PremiumUntil,
		&id.Credits, &id.CreditsResetDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity by telegram id: %w", err)
	}
	id.Authenticated = id.Complete()
	return &id, nil
}

// RegisterIdentity creates the auth user and its settings row in one
// transaction. The settings row starts with the requested credit allotment,
// falling back to the schema default.
func (r *Postgres) RegisterIdentity(ctx context.Context, reg NewIdentity) (*Identity, error) {
	userID := uuid.New().String()

	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO auth_users (id, email, name) VALUES ($1, $2, $3);
`, userID, reg.Email, reg.Name); err != nil {
			return mapUniqueViolation(err, "register auth user")
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO user_settings (user_id, telegram_id, language, timezone, currency, freemium_credits)
VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'en'), COALESCE(NULLIF($4, ''), 'UTC'), COALESCE(NULLIF($5, ''), 'USD'),
        COALESCE(NULLIF($6, 0), 50));
`, userID, reg.TelegramID, reg.Language, reg.Timezone, reg.Currency, reg.InitialCredits); err != nil {
			return mapUniqueViolation(err, "register user settings")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetIdentityByTelegramID(ctx, reg.TelegramID)
}

// LinkTelegramID associates a telegram id with an existing user. The
// operation is idempotent: re-linking an already-linked pair succeeds
// without side effects beyond an interaction touch.
func (r *Postgres) LinkTelegramID(ctx context.Context, userID, telegramID, name string) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO user_settings (user_id, telegram_id, last_bot_interaction)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET
    telegram_id = EXCLUDED.telegram_id,
    last_bot_interaction = NOW(),
    updated_at = NOW();
`, userID, telegramID); err != nil {
			return mapUniqueViolation(err, "link telegram id")
		}

		if name != "" {
			if _, err := tx.Exec(ctx, `
UPDATE auth_users SET name = $2 WHERE id = $1 AND name = '';
`, userID, name); err != nil {
				return fmt.Errorf("backfill name: %w", err)
			}
		}
		return nil
	})
}

// GetTelegramID returns the telegram id linked to a user, or ErrNotFound
// when the user has no settings row or no linked channel.
func (r *Postgres) GetTelegramID(ctx context.Context, userID string) (string, error) {
	var telegramID string
	err := r.pool.QueryRow(ctx, `
SELECT telegram_id FROM user_settings WHERE user_id = $1;
`, userID).Scan(&telegramID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get telegram id: %w", err)
	}
	if telegramID == "" {
		return "", ErrNotFound
	}
	return telegramID, nil
}

// TouchInteraction records bot activity for the linked identity.
func (r *Postgres) TouchInteraction(ctx context.Context, telegramID string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE user_settings SET last_bot_interaction = NOW(), updated_at = NOW()
WHERE telegram_id = $1;
`, telegramID)
	if err != nil {
		return fmt.Errorf("touch interaction: %w", err)
	}
	return nil
}

// GetAuthUser loads one auth user by id, used to rehydrate incomplete
// identity records.
func (r *Postgres) GetAuthUser(ctx context.Context, userID string) (*AuthUser, error) {
	var u AuthUser
	err := r.pool.QueryRow(ctx, `
SELECT id, email, name, created_at FROM auth_users WHERE id = $1;
`, userID).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get auth user: %w", err)
	}
	return &u, nil
}

// GetAuthUserByEmail finds an auth user by email, used during registration
// to link a telegram id to a pre-existing account.
func (r *Postgres) GetAuthUserByEmail(ctx context.Context, email string) (*AuthUser, error) {
	var u AuthUser
	err := r.pool.QueryRow(ctx, `
SELECT id, email, name, created_at FROM auth_users WHERE email = $1;
`, email).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get auth user by email: %w", err)
	}
	return &u, nil
}

// mapUniqueViolation translates Postgres unique violations into the
// package's sentinel errors.
func mapUniqueViolation(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch {
		case strings.Contains(pgErr.ConstraintName, "email"):
			return ErrEmailTaken
		case strings.Contains(pgErr.ConstraintName, "telegram"):
			return ErrChannelLinked
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
