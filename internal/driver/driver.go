// Package driver adapts the supported relational engines behind one Pool
// interface. A Pool is selected once per connection and owns a bounded
// database/sql pool for it.
package driver

import (
	"context"
	"database/sql"
	"time"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

// Pool is a live, bounded set of connections to one external database.
type Pool interface {
	Dialect() core.Dialect
	// Introspect lists base tables outside the system namespaces with their
	// columns, keys and best-effort row counts.
	Introspect(ctx context.Context) (*Introspection, error)
	// Execute runs one read-only statement under the given limits.
	Execute(ctx context.Context, sqlText string, limits Limits) (*core.QueryOutput, error)
	// Probe runs the engine's trivial query.
	Probe(ctx context.Context) error
	// MapType turns a native type identifier into a canonical type name.
	MapType(nativeType string) string
	// EnsureLimit applies the row cap to the SQL text where the dialect allows it.
	EnsureLimit(sqlText string, maxRows int) string
	Close() error
}

type Introspection struct {
	Tables        []core.TableInfo
	Relationships []core.Relationship
}

type Limits struct {
	Timeout time.Duration
	MaxRows int
}

type PoolOptions struct {
	MaxConns       int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	// CountWorkers bounds concurrent row-count queries during introspection.
	CountWorkers int
	Logger       zerolog.Logger
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:       5,
		IdleTimeout:    30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		CountWorkers:   3,
		Logger:         zerolog.Nop(),
	}
}

func (o PoolOptions) withDefaults() PoolOptions {
	def := DefaultPoolOptions()
	if o.MaxConns <= 0 {
		o.MaxConns = def.MaxConns
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = def.IdleTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.CountWorkers <= 0 {
		o.CountWorkers = def.CountWorkers
	}
	// Leave at least one connection free for the caller's own queries
	if o.CountWorkers >= o.MaxConns {
		o.CountWorkers = o.MaxConns - 1
		if o.CountWorkers < 1 {
			o.CountWorkers = 1
		}
	}
	return o
}

// Opener builds a pool for a dialect. ConnectionManager takes one so tests
// can substitute fakes.
type Opener func(dialect core.Dialect, creds core.Credentials, opts PoolOptions) (Pool, error)

// Open builds the dialect's DSN, opens a database/sql pool sized by opts and
// wraps it. It does not dial; call Probe to verify the credentials.
func Open(dialect core.Dialect, creds core.Credentials, opts PoolOptions) (Pool, error) {
	opts = opts.withDefaults()

	var (
		driverName string
		dsn        string
		err        error
	)
	switch dialect {
	case core.DialectPostgres:
		driverName = "postgres"
		dsn, err = postgresDSN(creds, opts.ConnectTimeout)
	case core.DialectMySQL:
		driverName = "mysql"
		dsn, err = mysqlDSN(creds, opts.ConnectTimeout)
	case core.DialectSQLServer:
		driverName = "sqlserver"
		dsn, err = sqlServerDSN(creds, opts.ConnectTimeout)
	default:
		return nil, errors.Wrapf(core.ErrUnsupportedDialect, "%q", dialect)
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(core.WithKind(core.ErrDriver, err), "failed to open %s pool", dialect)
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)
	db.SetConnMaxIdleTime(opts.IdleTimeout)

	return Wrap(dialect, db, opts)
}

// Wrap binds an already opened *sql.DB to its dialect implementation.
func Wrap(dialect core.Dialect, db *sql.DB, opts PoolOptions) (Pool, error) {
	opts = opts.withDefaults()
	switch dialect {
	case core.DialectPostgres:
		return newPostgresPool(db, opts), nil
	case core.DialectMySQL:
		return newMySQLPool(db, opts), nil
	case core.DialectSQLServer:
		return newSQLServerPool(db, opts), nil
	default:
		return nil, errors.Wrapf(core.ErrUnsupportedDialect, "%q", dialect)
	}
}
