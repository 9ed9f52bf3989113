package data

import (
	"context"
	"database/sql"
	"encoding/json"

	"askdb/internal/core"

	"github.com/go-faster/errors"
)

// SchemaRepo keeps one snapshot blob per connection. Saving replaces the
// previous snapshot wholesale.
type SchemaRepo struct {
	db *sql.DB
}

func NewSchemaRepo(db *sql.DB) *SchemaRepo {
	return &SchemaRepo{db: db}
}

func (r *SchemaRepo) Save(ctx context.Context, userID string, snapshot *core.SchemaSnapshot) error {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO schema_cache (connection_id, user_id, snapshot, cached_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(connection_id) DO UPDATE SET user_id=excluded.user_id, snapshot=excluded.snapshot, cached_at=excluded.cached_at`,
		snapshot.ConnectionID, userID, string(blob), snapshot.CachedAt)
	if err != nil {
		return errors.Wrap(err, "save snapshot")
	}
	return nil
}

// Get returns nil, nil when no snapshot is stored.
func (r *SchemaRepo) Get(ctx context.Context, userID, connectionID string) (*core.SchemaSnapshot, error) {
	var blob string
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM schema_cache WHERE connection_id = ? AND user_id = ?`, connectionID, userID).
		Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load snapshot")
	}

	var snapshot core.SchemaSnapshot
	if err := json.Unmarshal([]byte(blob), &snapshot); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &snapshot, nil
}

func (r *SchemaRepo) Delete(ctx context.Context, userID, connectionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM schema_cache WHERE connection_id = ? AND user_id = ?`, connectionID, userID)
	return err
}
