package driver

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/go-sql-driver/mysql"
)

const (
	mysqlQueryTimeout     = 3024 // ER_QUERY_TIMEOUT
	mysqlQueryInterrupted = 1317 // ER_QUERY_INTERRUPTED
)

var mysqlCatalog = catalog{
	tables: `SELECT '' AS table_schema, table_name
FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
	columns: `SELECT '' AS table_schema, table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = DATABASE()
ORDER BY table_name, ordinal_position`,
	primaryKeys: `SELECT '' AS table_schema, table_name, column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND constraint_name = 'PRIMARY'`,
	foreignKeys: `SELECT '' AS table_schema, table_name, column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL`,
	countQuery: func(_, table string) string {
		return fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteMySQL(table))
	},
}

func quoteMySQL(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

type mysqlPool struct {
	sqlPool
}

func newMySQLPool(db *sql.DB, opts PoolOptions) *mysqlPool {
	return &mysqlPool{sqlPool{
		db:      db,
		dialect: core.DialectMySQL,
		types:   mysqlTypes,
		catalog: mysqlCatalog,
		opts:    opts,
		log:     opts.Logger.With().Str("dialect", string(core.DialectMySQL)).Logger(),
	}}
}

func (p *mysqlPool) EnsureLimit(sqlText string, maxRows int) string {
	return core.EnsureLimit(sqlText, maxRows)
}

// Execute pins one pooled connection, marks the session read-only and sets
// max_execution_time before running the statement.
func (p *mysqlPool) Execute(ctx context.Context, sqlText string, limits Limits) (*core.QueryOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, limits.Timeout+timeoutGrace)
	defer cancel()

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, p.classify(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET SESSION TRANSACTION READ ONLY"); err != nil {
		return nil, p.classify(err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION max_execution_time = %d", limits.Timeout.Milliseconds())); err != nil {
		return nil, p.classify(err)
	}

	rows, err := conn.QueryContext(ctx, p.EnsureLimit(sqlText, limits.MaxRows))
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

func (p *mysqlPool) classify(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == mysqlQueryTimeout || myErr.Number == mysqlQueryInterrupted) {
		return core.WithKind(core.ErrExecutionTimeout, err)
	}
	return driverError(err)
}

func mysqlDSN(creds core.Credentials, connectTimeout time.Duration) (string, error) {
	var cfg *mysql.Config
	if creds.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(creds.ConnectionString)
		if err != nil {
			return "", core.ValidationError("invalid mysql connection string: %v", err)
		}
		cfg = parsed
	} else {
		port := creds.Port
		if port == 0 {
			port = 3306
		}
		cfg = mysql.NewConfig()
		cfg.User = creds.User
		cfg.Passwd = creds.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(creds.Host, strconv.Itoa(port))
		cfg.DBName = creds.Database
		switch creds.SSLMode {
		case "require", "verify-full":
			cfg.TLSConfig = "true"
		case "skip-verify":
			cfg.TLSConfig = "skip-verify"
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = connectTimeout
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
