package repo

import (
	"context"
	"fmt"
	"time"
)

// InsertTransaction stores one extracted transaction and returns it with
// the generated id and created_at filled in.
func (r *Postgres) InsertTransaction(ctx context.Context, txn Transaction) (*Transaction, error) {
	if txn.Date.IsZero() {
		txn.Date = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx, `
INSERT INTO transactions
    (user_id, amount, description, category, type, original_message,
     source_platform, merchant, date, confidence, tags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at;
`, txn.UserID, txn.Amount, txn.Description, txn.Category, txn.Type,
		txn.OriginalMessage, txn.SourcePlatform, txn.Merchant, txn.Date,
		txn.Confidence, txn.Tags,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return &txn, nil
}

// GetTransactionSummary aggregates a user's transactions over the last N
// days, including the top expense categories ordered by total.
func (r *Postgres) GetTransactionSummary(ctx context.Context, userID string, days int) (*TransactionSummary, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	sum := &TransactionSummary{UserID: userID, PeriodDays: days}

	err := r.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0),
       COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0),
       COUNT(*) FILTER (WHERE type = 'income'),
       COUNT(*) FILTER (WHERE type = 'expense'),
       COUNT(*)
FROM transactions
WHERE user_id = $1 AND date >= $2;
`, userID, since).Scan(
		&sum.TotalIncome, &sum.TotalExpenses,
		&sum.IncomeCount, &sum.ExpenseCount, &sum.TotalTransactions,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize transactions: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
SELECT category, SUM(amount)
FROM transactions
WHERE user_id = $1 AND type = 'expense' AND date >= $2
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
