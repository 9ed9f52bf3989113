package data

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"askdb/internal/core"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnectionRepo_ScopedToUser(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepo(newTestDB(t))

	conn := &core.DatabaseConnection{
		UserID:         "alice",
		Name:           "warehouse",
		Dialect:        core.DialectPostgres,
		CredentialsEnc: "opaque-bundle",
		Status:         core.StatusActive,
	}
	require.NoError(t, repo.Create(ctx, conn))
	require.NotEmpty(t, conn.ID)

	got, err := repo.GetByID(ctx, "alice", conn.ID)
	require.NoError(t, err)
	require.Equal(t, "warehouse", got.Name)
	require.Equal(t, core.DialectPostgres, got.Dialect)
	require.Equal(t, "opaque-bundle", got.CredentialsEnc)
	require.Nil(t, got.LastConnectedAt)

	_, err = repo.GetByID(ctx, "mallory", conn.ID)
	require.True(t, errors.Is(err, core.ErrConnectionNotFound))

	list, err := repo.ListByUser(ctx, "mallory")
	require.NoError(t, err)
	require.Empty(t, list)

	err = repo.Delete(ctx, "mallory", conn.ID)
	require.True(t, errors.Is(err, core.ErrConnectionNotFound))
}

func TestConnectionRepo_UpdateStatusLeavesCredentials(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepo(newTestDB(t))

	conn := &core.DatabaseConnection{UserID: "alice", Name: "crm", Dialect: core.DialectMySQL, CredentialsEnc: "v1", Status: core.StatusInactive}
	require.NoError(t, repo.Create(ctx, conn))

	// A concurrent rotation lands first
	conn.CredentialsEnc = "v2"
	require.NoError(t, repo.Update(ctx, conn))

	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateStatus(ctx, "alice", conn.ID, core.StatusActive, "", &connectedAt))

	got, err := repo.GetByID(ctx, "alice", conn.ID)
	require.NoError(t, err)
	require.Equal(t, "v2", got.CredentialsEnc)
	require.Equal(t, "crm", got.Name)
	require.Equal(t, core.StatusActive, got.Status)
	require.True(t, connectedAt.Equal(*got.LastConnectedAt))

	require.NoError(t, repo.UpdateStatus(ctx, "alice", conn.ID, core.StatusError, "dial tcp: refused", nil))
	got, err = repo.GetByID(ctx, "alice", conn.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusError, got.Status)
	require.Equal(t, "dial tcp: refused", got.LastError)
	require.NotNil(t, got.LastConnectedAt)
	require.True(t, connectedAt.Equal(*got.LastConnectedAt))

	err = repo.UpdateStatus(ctx, "mallory", conn.ID, core.StatusActive, "", nil)
	require.True(t, errors.Is(err, core.ErrConnectionNotFound))
}

func TestConnectionRepo_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionRepo(newTestDB(t))

	conn := &core.DatabaseConnection{UserID: "alice", Name: "crm", Dialect: core.DialectMySQL, CredentialsEnc: "v1", Status: core.StatusActive}
	require.NoError(t, repo.Create(ctx, conn))

	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conn.CredentialsEnc = "v2"
	conn.Status = core.StatusError
	conn.LastError = "dial tcp: refused"
	conn.LastConnectedAt = &connectedAt
	require.NoError(t, repo.Update(ctx, conn))

	got, err := repo.GetByID(ctx, "alice", conn.ID)
	require.NoError(t, err)
	require.Equal(t, "v2", got.CredentialsEnc)
	require.Equal(t, core.StatusError, got.Status)
	require.Equal(t, "dial tcp: refused", got.LastError)
	require.NotNil(t, got.LastConnectedAt)
	require.True(t, connectedAt.Equal(*got.LastConnectedAt))

	require.NoError(t, repo.Delete(ctx, "alice", conn.ID))
	_, err = repo.GetByID(ctx, "alice", conn.ID)
	require.True(t, errors.Is(err, core.ErrConnectionNotFound))
}

func TestSchemaRepo_ReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	repo := NewSchemaRepo(newTestDB(t))

	missing, err := repo.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Nil(t, missing)

	count := int64(7)
	first := &core.SchemaSnapshot{
		ConnectionID: "c1",
		Dialect:      core.DialectPostgres,
		Tables: []core.TableInfo{
			{Name: "orders", Schema: "public", RowCount: &count, Columns: []core.Column{{Name: "id", Type: "integer", PrimaryKey: true}}},
			{Name: "legacy", Schema: "public", Columns: []core.Column{}},
		},
		Relationships: []core.Relationship{},
		CachedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Save(ctx, "alice", first))

	second := &core.SchemaSnapshot{
		ConnectionID:  "c1",
		Dialect:       core.DialectPostgres,
		Tables:        []core.TableInfo{{Name: "orders", Schema: "public", Columns: []core.Column{}}},
		Relationships: []core.Relationship{},
		Summary:       "Order data.",
		CachedAt:      time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Save(ctx, "alice", second))

	got, err := repo.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Len(t, got.Tables, 1)
	require.Nil(t, got.Tables[0].RowCount)
	require.Equal(t, "Order data.", got.Summary)
	require.True(t, second.CachedAt.Equal(got.CachedAt))

	other, err := repo.Get(ctx, "bob", "c1")
	require.NoError(t, err)
	require.Nil(t, other)

	require.NoError(t, repo.Delete(ctx, "alice", "c1"))
	gone, err := repo.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestHistoryRepo_NewestFirstAndClear(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(newTestDB(t))

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, q := range []string{"first", "second", "third"} {
		require.NoError(t, repo.Append(ctx, &core.QueryHistoryEntry{
			UserID:       "alice",
			ConnectionID: "c1",
			Question:     q,
			GeneratedSQL: "SELECT 1",
			Success:      i != 1,
			RowCount:     i,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Append(ctx, &core.QueryHistoryEntry{
		UserID: "alice", ConnectionID: "c2", Question: "elsewhere", GeneratedSQL: core.GenerationFailedSQL, Error: "boom",
	}))

	entries, err := repo.ListByConnection(ctx, "alice", "c1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "third", entries[0].Question)
	require.Equal(t, "second", entries[1].Question)
	require.False(t, entries[1].Success)

	require.NoError(t, repo.ClearForConnection(ctx, "alice", "c1"))
	entries, err = repo.ListByConnection(ctx, "alice", "c1", 50)
	require.NoError(t, err)
	require.Empty(t, entries)

	kept, err := repo.ListByConnection(ctx, "alice", "c2", 50)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.Equal(t, "boom", kept[0].Error)
}

func TestApiKeyRepo_RevokedKeysAreInvisible(t *testing.T) {
	ctx := context.Background()
	repo := NewApiKeyRepo(newTestDB(t))

	key := &core.ApiKey{UserID: "alice", KeyPrefix: "ab12cd34", KeyHash: "hash-1", IsActive: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, key))

	got, err := repo.GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, "alice", got.UserID)
	require.Nil(t, got.LastUsedAt)

	require.NoError(t, repo.UpdateLastUsed(ctx, key.ID))
	got, err = repo.GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)

	require.NoError(t, repo.Revoke(ctx, key.ID))
	got, err = repo.GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Nil(t, got)
}
