package data

import (
	"context"
	"database/sql"
	"time"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

type HistoryRepo struct {
	db *sql.DB
}

func NewHistoryRepo(db *sql.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) Append(ctx context.Context, e *core.QueryHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO query_history (id, user_id, connection_id, question, generated_sql, success, row_count, execution_time_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ConnectionID, e.Question, e.GeneratedSQL, e.Success, e.RowCount, e.ExecutionTimeMs,
		nullString(e.Error), e.CreatedAt)
	if err != nil {
		return errors.Wrap(core.ErrHistoryPersistence, err.Error())
	}
	return nil
}

// ListByConnection returns the newest entries first.
func (r *HistoryRepo) ListByConnection(ctx context.Context, userID, connectionID string, limit int) ([]core.QueryHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, connection_id, question, generated_sql, success, row_count, execution_time_ms, error, created_at
		 FROM query_history WHERE user_id = ? AND connection_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, connectionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list history")
	}
	defer rows.Close()

	entries := []core.QueryHistoryEntry{}
	for rows.Next() {
		var e core.QueryHistoryEntry
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.ConnectionID, &e.Question, &e.GeneratedSQL, &e.Success,
			&e.RowCount, &e.ExecutionTimeMs, &errText, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *HistoryRepo) ClearForConnection(ctx context.Context, userID, connectionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM query_history WHERE user_id = ? AND connection_id = ?`, userID, connectionID)
	return err
}
