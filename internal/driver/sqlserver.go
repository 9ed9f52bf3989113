package driver

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"askdb/internal/core"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/go-faster/errors"
)

var sqlServerCatalog = catalog{
	tables: `SELECT TABLE_SCHEMA, TABLE_NAME
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
ORDER BY TABLE_SCHEMA, TABLE_NAME`,
	columns: `SELECT TABLE_SCHEMA, TABLE_NAME, COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
ORDER BY TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION`,
	primaryKeys: `SELECT kcu.TABLE_SCHEMA, kcu.TABLE_NAME, kcu.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'`,
	foreignKeys: `SELECT fk.TABLE_SCHEMA, fk.TABLE_NAME, fk.COLUMN_NAME, pk.TABLE_NAME, pk.COLUMN_NAME
FROM INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE fk
  ON rc.CONSTRAINT_NAME = fk.CONSTRAINT_NAME AND rc.CONSTRAINT_SCHEMA = fk.CONSTRAINT_SCHEMA
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE pk
  ON rc.UNIQUE_CONSTRAINT_NAME = pk.CONSTRAINT_NAME AND rc.UNIQUE_CONSTRAINT_SCHEMA = pk.CONSTRAINT_SCHEMA
 AND fk.ORDINAL_POSITION = pk.ORDINAL_POSITION`,
	countQuery: func(schema, table string) string {
		return fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s.%s", quoteSQLServer(schema), quoteSQLServer(table))
	},
}

func quoteSQLServer(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

type sqlServerPool struct {
	sqlPool
}

func newSQLServerPool(db *sql.DB, opts PoolOptions) *sqlServerPool {
	return &sqlServerPool{sqlPool{
		db:      db,
		dialect: core.DialectSQLServer,
		types:   sqlServerTypes,
		catalog: sqlServerCatalog,
		opts:    opts,
		log:     opts.Logger.With().Str("dialect", string(core.DialectSQLServer)).Logger(),
	}}
}

// EnsureLimit leaves T-SQL untouched: LIMIT is not valid there and TOP cannot
// be bolted onto a CTE. The row cap is applied while scanning instead.
func (p *sqlServerPool) EnsureLimit(sqlText string, _ int) string {
	return core.CleanSQL(sqlText)
}

// Execute races the statement against a timer. SQL Server has no per-statement
// timeout setting; when the timer wins the caller is released and the query
// context is cancelled, which the driver turns into an attention request. The
// server may still spend time on the statement after we stop waiting.
func (p *sqlServerPool) Execute(ctx context.Context, sqlText string, limits Limits) (*core.QueryOutput, error) {
	query := p.EnsureLimit(sqlText, limits.MaxRows)
	return raceTimeout(ctx, limits.Timeout, func(qctx context.Context) (*core.QueryOutput, error) {
		rows, err := p.db.QueryContext(qctx, query)
		if err != nil {
			return nil, driverError(err)
		}
		defer rows.Close()

		out, err := scanRows(rows, limits.MaxRows, p.MapType)
		if err != nil {
			return nil, driverError(err)
		}
		return out, nil
	})
}

type raceOutcome struct {
	out *core.QueryOutput
	err error
}

// raceTimeout returns whichever comes first: run's result or the timer.
func raceTimeout(ctx context.Context, timeout time.Duration, run func(context.Context) (*core.QueryOutput, error)) (*core.QueryOutput, error) {
	qctx, cancel := context.WithCancel(ctx)

	done := make(chan raceOutcome, 1)
	go func() {
		out, err := run(qctx)
		done <- raceOutcome{out: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		cancel()
		return r.out, r.err
	case <-timer.C:
		cancel()
		return nil, errors.Wrapf(core.ErrExecutionTimeout, "no result after %s", timeout)
	case <-ctx.Done():
		cancel()
		return nil, driverError(ctx.Err())
	}
}

func sqlServerDSN(creds core.Credentials, connectTimeout time.Duration) (string, error) {
	if creds.ConnectionString != "" {
		return creds.ConnectionString, nil
	}
	port := creds.Port
	if port == 0 {
		port = 1433
	}

	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   net.JoinHostPort(creds.Host, strconv.Itoa(port)),
	}
	q := url.Values{}
	q.Set("database", creds.Database)
	q.Set("dial timeout", strconv.Itoa(int(connectTimeout.Seconds())))
	switch creds.SSLMode {
	case "disable":
		q.Set("encrypt", "disable")
	case "require", "verify-full":
		q.Set("encrypt", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
