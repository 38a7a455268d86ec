// Package credits fronts the freemium credit ledger: every billable
// operation goes through a single atomic consume-or-fail call, and a
// background sweep restores monthly allotments.
package credits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"okanassist/internal/metrics"
	"okanassist/internal/repo"
)

// Costs per operation type. Bank statement imports are free to encourage
// bulk onboarding of history.
const (
	CostTextMessage = 1
	CostReceiptScan = 5
	CostBankImport  = 0
)

// LowBalanceThreshold is the remaining-credit level at which channels
// start warning free users.
const LowBalanceThreshold = 5

// Store is the persistence surface the ledger needs.
type Store interface {
	ConsumeCredits(ctx context.Context, userID, operationType string, creditsNeeded int) (*repo.CreditResult, error)
	GetCreditStatus(ctx context.Context, userID string) (*repo.CreditStatus, error)
	ResetMonthlyCredits(ctx context.Context, allotment int, period time.Duration) (int64, error)
	ExpireLapsedPremium(ctx context.Context) (int64, error)
}

// Ledger wraps the store's credit operations with metrics and the
// maintenance sweep.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	monthlyAllotment int
	resetPeriod      time.Duration
}

// New builds a ledger. monthlyAllotment and resetPeriod drive the sweep's
// top-up of lapsed free accounts.
func New(store Store, monthlyAllotment int, resetPeriod time.Duration, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{
		store:            store,
		logger:           logger.With("component", "credits"),
		metrics:          m,
		monthlyAllotment: monthlyAllotment,
		resetPeriod:      resetPeriod,
	}
}

// Consume atomically spends credits for one operation. Business outcomes
// (premium bypass, insufficient balance, unknown user) come back in the
// result; the error return is reserved for storage faults.
func (l *Ledger) Consume(ctx context.Context, userID, operationType string, cost int) (*repo.CreditResult, error) {
	res, err := l.store.ConsumeCredits(ctx, userID, operationType, cost)
	if err != nil {
		l.metrics.Errors.WithLabelValues("credits").Inc()
		return nil, fmt.Errorf("consume credits: %w", err)
	}

	switch {
	case res.Success:
		if !res.IsPremium && res.CreditsUsed > 0 {
			l.metrics.CreditsConsumed.WithLabelValues(operationType).Add(float64(res.CreditsUsed))
		}
	case res.Error != "":
		l.metrics.CreditDenials.WithLabelValues(res.Error).Inc()
		l.logger.Debug("credit consume denied",
			"user_id", userID, "operation", operationType, "reason", res.Error)
	}
	return res, nil
}

// Status reports a user's balance without spending anything.
func (l *Ledger) Status(ctx context.Context, userID string) (*repo.CreditStatus, error) {
	st, err := l.store.GetCreditStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credit status: %w", err)
	}
	return st, nil
}

// LowBalance reports whether a successful free-tier consume left the user
// at or below the warning threshold.
func LowBalance(res *repo.CreditResult) bool {
	return res != nil && res.Success && !res.IsPremium && res.CreditsRemaining <= LowBalanceThreshold
}

// RunMaintenance periodically restores monthly allotments and expires
// lapsed premium subscriptions until ctx is cancelled.
func (l *Ledger) RunMaintenance(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.maintain(ctx)
		}
	}
}

func (l *Ledger) maintain(ctx context.Context) {
	if n, err := l.store.ExpireLapsedPremium(ctx); err != nil {
		l.logger.Error("premium expiry sweep failed", "error", err)
		l.metrics.Errors.WithLabelValues("credits").Inc()
	} else if n > 0 {
		l.logger.Info("expired lapsed premium subscriptions", "count", n)
	}

	if n, err := l.store.ResetMonthlyCredits(ctx, l.monthlyAllotment, l.resetPeriod); err != nil {
		l.logger.Error("credit reset sweep failed", "error", err)
		l.metrics.Errors.WithLabelValues("credits").Inc()
	} else if n > 0 {
		l.logger.Info("reset monthly credits", "count", n, "allotment", l.monthlyAllotment)
	}
}
