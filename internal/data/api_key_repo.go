package data

import (
	"context"
	"database/sql"
	"time"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

type ApiKeyRepo struct {
	db *sql.DB
}

func NewApiKeyRepo(db *sql.DB) *ApiKeyRepo {
	return &ApiKeyRepo{db: db}
}

func (r *ApiKeyRepo) Create(ctx context.Context, key *core.ApiKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	query := `
		INSERT INTO api_keys (id, user_id, key_prefix, key_hash, created_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, key.ID, key.UserID, key.KeyPrefix, key.KeyHash, key.CreatedAt, key.IsActive)
	return err
}

// GetByHash returns nil, nil when no active key matches.
func (r *ApiKeyRepo) GetByHash(ctx context.Context, hash string) (*core.ApiKey, error) {
	query := `
		SELECT id, user_id, key_prefix, key_hash, created_at, last_used_at, is_active
		FROM api_keys
		WHERE key_hash = ? AND is_active = 1
	`
	row := r.db.QueryRowContext(ctx, query, hash)

	var k core.ApiKey
	var lastUsed sql.NullTime
	if err := row.Scan(&k.ID, &k.UserID, &k.KeyPrefix, &k.KeyHash, &k.CreatedAt, &lastUsed, &k.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return &k, nil
}

func (r *ApiKeyRepo) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET is_active = 0 WHERE id = ?`, id)
	return err
}

func (r *ApiKeyRepo) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}
