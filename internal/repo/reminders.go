package repo

import (
	"context"
	"fmt"
)

// InsertReminder stores one reminder. DueAt is expected in UTC; callers
// normalize before persisting.
func (r *Postgres) InsertReminder(ctx context.Context, rem Reminder) (*Reminder, error) {
	err := r.pool.QueryRow(ctx, `
INSERT INTO reminders
    (user_id, title, description, due_at, type, priority, source_text, source_platform)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at;
`, rem.UserID, rem.Title, rem.Description, rem.DueAt, rem.Type, rem.Priority,
		rem.SourceText, rem.SourcePlatform,
	).Scan(&rem.ID, &rem.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	return &rem, nil
}

// ListReminders returns a user's reminders ordered by due date, soonest
// first with undated ones last.
func (r *Postgres) ListReminders(ctx context.Context, userID string, includeCompleted bool, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, title, description, due_at, type, priority,
       is_completed, source_text, source_platform, created_at, completed_at
FROM reminders
WHERE user_id = $1 AND (is_completed = FALSE OR $2)
ORDER BY due_at ASC NULLS LAST, created_at ASC
LIMIT $3;
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

// CompleteReminder marks one reminder done. Returns false when the
// reminder does not exist, is already completed, or belongs to another
// user.
func (r *Postgres) CompleteReminder(ctx context.Context, reminderID int64, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE reminders SET is_completed = TRUE, completed_at = NOW()
WHERE id = $1 AND user_id = $2 AND is_completed = FALSE;
`, reminderID, userID)
	if err != nil {
		return false, fmt.Errorf("complete reminder: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
