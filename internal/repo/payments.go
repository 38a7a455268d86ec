package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CreatePayment opens a pending payment record for a premium upgrade.
func (r *Postgres) CreatePayment(ctx context.Context, userID, provider, amount, currency string, validUntil time.Time) (*Payment, error) {
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

	err = r.pool.QueryRow(ctx, `
INSERT INTO payments (id, user_id, provider, amount, currency, status, valid_until)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at;
`, p.ID, p.UserID, p.Provider, p.Amount, p.Currency, p.Status, p.ValidUntil,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

// GetPayment loads one payment by id.
func (r *Postgres) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var p Payment
	err := r.pool.QueryRow(ctx, `
SELECT id, user_id, provider, amount, currency, status, transaction_id, valid_until, created_at
FROM payments
WHERE id = $1;
`, paymentID).Scan(
		&p.ID, &p.UserID, &p.Provider, &p.Amount, &p.Currency,
		&p.Status, &p.TransactionID, &p.ValidUntil, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

// SettlePayment records the provider's outcome for a pending payment. A
// successful settlement flips the payer to premium for premiumPeriod in the
// same transaction, so the upgrade and the payment record can never
// disagree. Settling an already-settled payment returns ErrNotFound.
func (r *Postgres) SettlePayment(ctx context.Context, paymentID string, status PaymentStatus, providerTxID string, premiumPeriod time.Duration) (*Payment, error) {
	var p Payment

	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
UPDATE payments
SET status = $2, transaction_id = NULLIF($3, '')
WHERE id = $1 AND status = 'pending'
RETURNING id, user_id, provider, amount, currency, status, transaction_id, valid_until, created_at;
`, paymentID, status, providerTxID).Scan(
			&p.ID, &p.UserID, &p.Provider, &p.Amount, &p.Currency,
			&p.Status, &p.TransactionID, &p.ValidUntil, &p.CreatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("settle payment: %w", err)
		}

		if status != PaymentSuccess {
			return nil
		}

		if _, err := tx.Exec(ctx, `
UPDATE user_settings
SET is_premium = TRUE,
    premium_until = GREATEST(COALESCE(premium_until, NOW()), NOW()) + $2,
    updated_at = NOW()
WHERE user_id = $1;
`, p.UserID, premiumPeriod); err != nil {
			return fmt.Errorf("activate premium: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
