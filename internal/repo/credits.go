package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ConsumeCredits atomically checks and decrements a user's credit balance.
// The row lock makes concurrent consumers serialize on the same user, so a
// balance of N with cost k admits exactly floor(N/k) successes. Premium
// users bypass the decrement entirely.
func (r *Postgres) ConsumeCredits(ctx context.Context, userID, operationType string, creditsNeeded int) (*CreditResult, error) {
	var res CreditResult

	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			credits       int
			premiumActive bool
		)
		err := tx.QueryRow(ctx, `
SELECT freemium_credits,
       is_premium AND (premium_until IS NULL OR premium_until > NOW())
FROM user_settings
WHERE user_id = $1
FOR UPDATE;
`, userID).Scan(&credits, &premiumActive)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				res = CreditResult{Error: CreditErrUserNotFound}
				return nil
			}
			return fmt.Errorf("lock credit row: %w", err)
		}

		if premiumActive {
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
			if _, err := tx.Exec(ctx, `
UPDATE user_settings SET freemium_credits = $2, updated_at = NOW()
WHERE user_id = $1;
`, userID, remaining); err != nil {
				return fmt.Errorf("decrement credits: %w", err)
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

// GetCreditStatus reports the current balance without mutating it.
func (r *Postgres) GetCreditStatus(ctx context.Context, userID string) (*CreditStatus, error) {
	var st CreditStatus
	err := r.pool.QueryRow(ctx, `
SELECT freemium_credits,
       is_premium AND (premium_until IS NULL OR premium_until > NOW()),
       credits_reset_date, premium_until
FROM user_settings
WHERE user_id = $1;
`, userID).Scan(&st.Credits, &st.IsPremium, &st.CreditsResetDate, &st.PremiumUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credit status: %w", err)
	}
	return &st, nil
}

// ResetMonthlyCredits tops every lapsed free account back up to the monthly
// allotment and pushes the reset date forward by one period. A single
// UPDATE keeps the sweep race-free against concurrent consumption.
func (r *Postgres) ResetMonthlyCredits(ctx context.Context, allotment int, period time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE user_settings
SET freemium_credits = $1,
    credits_reset_date = NOW() + $2,
    updated_at = NOW()
WHERE is_premium = FALSE AND credits_reset_date < NOW();
`, allotment, period)
	if err != nil {
		return 0, fmt.Errorf("reset monthly credits: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireLapsedPremium clears the premium flag for users whose paid period
// has ended, returning them to the freemium pool.
func (r *Postgres) ExpireLapsedPremium(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE user_settings
SET is_premium = FALSE, updated_at = NOW()
WHERE is_premium = TRUE AND premium_until IS NOT NULL AND premium_until <= NOW();
`)
	if err != nil {
		return 0, fmt.Errorf("expire lapsed premium: %w", err)
	}
	return tag.RowsAffected(), nil
}
