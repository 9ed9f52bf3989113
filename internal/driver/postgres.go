package driver

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/lib/pq"
)

const pgQueryCanceled = "57014"

var postgresCatalog = catalog{
	tables: `SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
  AND table_schema NOT LIKE 'pg_toast%'
ORDER BY table_schema, table_name`,
	columns: `SELECT table_schema, table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name, ordinal_position`,
	primaryKeys: `SELECT kcu.table_schema, kcu.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'`,
	foreignKeys: `SELECT kcu.table_schema, kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'`,
	countQuery: func(schema, table string) string {
		return fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	},
}

type postgresPool struct {
	sqlPool
}

func newPostgresPool(db *sql.DB, opts PoolOptions) *postgresPool {
	return &postgresPool{sqlPool{
		db:      db,
		dialect: core.DialectPostgres,
		types:   postgresTypes,
		catalog: postgresCatalog,
		opts:    opts,
		log:     opts.Logger.With().Str("dialect", string(core.DialectPostgres)).Logger(),
	}}
}

func (p *postgresPool) EnsureLimit(sqlText string, maxRows int) string {
	return core.EnsureLimit(sqlText, maxRows)
}

// Execute runs inside a read-only transaction with a native statement_timeout.
// The transaction is always rolled back.
func (p *postgresPool) Execute(ctx context.Context, sqlText string, limits Limits) (*core.QueryOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, limits.Timeout+timeoutGrace)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, p.classify(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET TRANSACTION READ ONLY"); err != nil {
		return nil, p.classify(err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", limits.Timeout.Milliseconds())); err != nil {
		return nil, p.classify(err)
	}

	rows, err := tx.QueryContext(ctx, p.EnsureLimit(sqlText, limits.MaxRows))
	if err != nil {
		return nil, p.classify(err)
	}
	defer rows.Close()

	out, err := scanRows(rows, limits.MaxRows, p.MapType)
	if err != nil {
		return nil, p.classify(err)
	}
	return out, nil
}

func (p *postgresPool) classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgQueryCanceled {
		return core.WithKind(core.ErrExecutionTimeout, err)
	}
	return driverError(err)
}

func postgresDSN(creds core.Credentials, connectTimeout time.Duration) (string, error) {
	if creds.ConnectionString != "" {
		return creds.ConnectionString, nil
	}
	port := creds.Port
	if port == 0 {
		port = 5432
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   net.JoinHostPort(creds.Host, strconv.Itoa(port)),
		Path:   "/" + creds.Database,
	}
	q := u.Query()
	if creds.SSLMode != "" {
		q.Set("sslmode", creds.SSLMode)
	}
	q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
