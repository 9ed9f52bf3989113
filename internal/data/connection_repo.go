package data

import (
	"context"
	"database/sql"
	"time"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

type ConnectionRepo struct {
	db *sql.DB
}

func NewConnectionRepo(db *sql.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

const connectionColumns = `id, user_id, name, dialect, credentials_enc, status, last_connected_at, last_error, created_at, updated_at`

func (r *ConnectionRepo) Create(ctx context.Context, conn *core.DatabaseConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	query := `INSERT INTO connections (` + connectionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		conn.ID, conn.UserID, conn.Name, string(conn.Dialect), conn.CredentialsEnc, string(conn.Status),
		nullTime(conn.LastConnectedAt), nullString(conn.LastError), conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert connection")
	}
	return nil
}

func (r *ConnectionRepo) ListByUser(ctx context.Context, userID string) ([]core.DatabaseConnection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list connections")
	}
	defer rows.Close()

	connections := []core.DatabaseConnection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, *c)
	}
	return connections, rows.Err()
}

// GetByID returns core.ErrConnectionNotFound when the id does not exist or
// belongs to someone else.
func (r *ConnectionRepo) GetByID(ctx context.Context, userID, id string) (*core.DatabaseConnection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(core.ErrConnectionNotFound, "id %s", id)
		}
		return nil, err
	}
	return c, nil
}

func (r *ConnectionRepo) Update(ctx context.Context, conn *core.DatabaseConnection) error {
	conn.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE connections SET name=?, dialect=?, credentials_enc=?, status=?, last_connected_at=?, last_error=?, updated_at=?
		 WHERE id=? AND user_id=?`,
		conn.Name, string(conn.Dialect), conn.CredentialsEnc, string(conn.Status),
		nullTime(conn.LastConnectedAt), nullString(conn.LastError), conn.UpdatedAt, conn.ID, conn.UserID)
	if err != nil {
		return errors.Wrap(err, "update connection")
	}
	return expectOneRow(res, conn.ID)
}

// UpdateStatus records a connection attempt. It never touches the name,
// dialect or credential bundle; lastConnectedAt nil keeps the stored value.
func (r *ConnectionRepo) UpdateStatus(ctx context.Context, userID, id string, status core.ConnectionStatus, lastError string, lastConnectedAt *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE connections SET status=?, last_error=?, last_connected_at=COALESCE(?, last_connected_at), updated_at=?
		 WHERE id=? AND user_id=?`,
		string(status), nullString(lastError), nullTime(lastConnectedAt), time.Now().UTC(), id, userID)
	if err != nil {
		return errors.Wrap(err, "update connection status")
	}
	return expectOneRow(res, id)
}

func (r *ConnectionRepo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return errors.Wrap(err, "delete connection")
	}
	return expectOneRow(res, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(s rowScanner) (*core.DatabaseConnection, error) {
	var (
		c             core.DatabaseConnection
		dialect       string
		status        string
		lastConnected sql.NullTime
		lastError     sql.NullString
	)
	if err := s.Scan(&c.ID, &c.UserID, &c.Name, &dialect, &c.CredentialsEnc, &status,
		&lastConnected, &lastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Dialect = core.Dialect(dialect)
	c.Status = core.ConnectionStatus(status)
	if lastConnected.Valid {
		t := lastConnected.Time
		c.LastConnectedAt = &t
	}
	if lastError.Valid {
		c.LastError = lastError.String
	}
	return &c, nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(core.ErrConnectionNotFound, "id %s", id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
