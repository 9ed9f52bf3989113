package driver

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

// timeoutGrace gives a native statement timeout the chance to fire before the
// client-side context does, so the engine's own error is what we classify.
const timeoutGrace = 2 * time.Second

// sqlPool is the database/sql plumbing shared by every dialect.
type sqlPool struct {
	db      *sql.DB
	dialect core.Dialect
	types   map[string]string
	catalog catalog
	opts    PoolOptions
	log     zerolog.Logger
}

func (p *sqlPool) Dialect() core.Dialect {
	return p.dialect
}

func (p *sqlPool) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()

	var one int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.Wrap(core.WithKind(core.ErrDriver, err), "probe failed")
	}
	return nil
}

func (p *sqlPool) MapType(nativeType string) string {
	if canonical, ok := p.types[strings.ToUpper(strings.TrimSpace(nativeType))]; ok {
		return canonical
	}
	return "unknown"
}

func (p *sqlPool) Introspect(ctx context.Context) (*Introspection, error) {
	return introspect(ctx, p.db, p.catalog, p.opts.CountWorkers, p.log)
}

func (p *sqlPool) Close() error {
	return p.db.Close()
}

// scanRows reads at most maxRows rows into column-keyed maps.
func scanRows(rows *sql.Rows, maxRows int, mapType func(string) string) (*core.QueryOutput, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	out := &core.QueryOutput{
		Columns: make([]core.ColumnMeta, len(columnTypes)),
		Rows:    []map[string]interface{}{},
	}
	names := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		names[i] = ct.Name()
		out.Columns[i] = core.ColumnMeta{Name: ct.Name(), Type: mapType(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		if maxRows > 0 && len(out.Rows) >= maxRows {
			out.Truncated = true
			break
		}

		values := make([]interface{}, len(names))
		valuePtrs := make([]interface{}, len(names))
		for i := range names {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		rowMap := make(map[string]interface{}, len(names))
		for i, col := range names {
			// Drivers hand back text columns as []byte
			if b, ok := values[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = values[i]
			}
		}
		out.Rows = append(out.Rows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// driverError tags err as a driver failure unless it is a timeout.
func driverError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrExecutionTimeout) || errors.Is(err, core.ErrDriver) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.WithKind(core.ErrExecutionTimeout, err)
	}
	return core.WithKind(core.ErrDriver, err)
}
