package driver

import (
	"context"
	"database/sql"
	"time"

	"askdb/internal/core"

	"github.com/alitto/pond/v2"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

const countTimeout = 15 * time.Second

// catalog holds a dialect's introspection queries. Every query returns the
// same column shape regardless of engine:
//
//	tables:      schema, table
//	columns:     schema, table, column, data_type, is_nullable, column_default
//	primaryKeys: schema, table, column
//	foreignKeys: schema, table, column, ref_table, ref_column
type catalog struct {
	tables      string
	columns     string
	primaryKeys string
	foreignKeys string
	countQuery  func(schema, table string) string
}

type fkTarget struct {
	table  string
	column string
}

func tableKey(schema, table string) string {
	return schema + "\x00" + table
}

func columnKey(schema, table, column string) string {
	return schema + "\x00" + table + "\x00" + column
}

func introspect(ctx context.Context, db *sql.DB, cat catalog, workers int, log zerolog.Logger) (*Introspection, error) {
	tables, index, err := listTables(ctx, db, cat.tables)
	if err != nil {
		return nil, errors.Wrap(core.WithKind(core.ErrDriver, err), "failed to list tables")
	}

	primaryKeys, err := listPrimaryKeys(ctx, db, cat.primaryKeys)
	if err != nil {
		return nil, errors.Wrap(core.WithKind(core.ErrDriver, err), "failed to list primary keys")
	}

	foreignKeys, relationships, err := listForeignKeys(ctx, db, cat.foreignKeys)
	if err != nil {
		return nil, errors.Wrap(core.WithKind(core.ErrDriver, err), "failed to list foreign keys")
	}

	if err := attachColumns(ctx, db, cat.columns, tables, index, primaryKeys, foreignKeys); err != nil {
		return nil, errors.Wrap(core.WithKind(core.ErrDriver, err), "failed to list columns")
	}

	countRows(ctx, db, cat, tables, workers, log)

	return &Introspection{Tables: tables, Relationships: relationships}, nil
}

func listTables(ctx context.Context, db *sql.DB, query string) ([]core.TableInfo, map[string]int, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	tables := []core.TableInfo{}
	index := make(map[string]int)
	for rows.Next() {
		var t core.TableInfo
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, nil, err
		}
		t.Columns = []core.Column{}
		index[tableKey(t.Schema, t.Name)] = len(tables)
		tables = append(tables, t)
	}
	return tables, index, rows.Err()
}

func listPrimaryKeys(ctx context.Context, db *sql.DB, query string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, err
		}
		keys[columnKey(schema, table, column)] = true
	}
	return keys, rows.Err()
}

func listForeignKeys(ctx context.Context, db *sql.DB, query string) (map[string]fkTarget, []core.Relationship, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	targets := make(map[string]fkTarget)
	relationships := []core.Relationship{}
	for rows.Next() {
		var schema, table, column, refTable, refColumn string
		if err := rows.Scan(&schema, &table, &column, &refTable, &refColumn); err != nil {
			return nil, nil, err
		}
		targets[columnKey(schema, table, column)] = fkTarget{table: refTable, column: refColumn}
		// Kept even when the target table is outside this discovery run
		relationships = append(relationships, core.Relationship{
			FromTable:  table,
			FromColumn: column,
			ToTable:    refTable,
			ToColumn:   refColumn,
		})
	}
	return targets, relationships, rows.Err()
}

func attachColumns(ctx context.Context, db *sql.DB, query string, tables []core.TableInfo, index map[string]int,
	primaryKeys map[string]bool, foreignKeys map[string]fkTarget) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schema, table, name, dataType, nullable string
			def                                     sql.NullString
		)
		if err := rows.Scan(&schema, &table, &name, &dataType, &nullable, &def); err != nil {
			return err
		}
		i, ok := index[tableKey(schema, table)]
		if !ok {
			// views and system tables
			continue
		}

		col := core.Column{
			Name:       name,
			Type:       dataType,
			Nullable:   nullable == "YES",
			PrimaryKey: primaryKeys[columnKey(schema, table, name)],
		}
		if def.Valid {
			v := def.String
			col.DefaultValue = &v
		}
		if fk, ok := foreignKeys[columnKey(schema, table, name)]; ok {
			col.ForeignKey = true
			col.RefTable = fk.table
			col.RefColumn = fk.column
		}
		tables[i].Columns = append(tables[i].Columns, col)
	}
	return rows.Err()
}

// countRows fills RowCount where the count query succeeds. A failure only
// leaves that table's count unset.
func countRows(ctx context.Context, db *sql.DB, cat catalog, tables []core.TableInfo, workers int, log zerolog.Logger) {
	if cat.countQuery == nil || len(tables) == 0 {
		return
	}

	pool := pond.NewPool(workers)
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for i := range tables {
		t := &tables[i]
		group.Submit(func() {
			cctx, cancel := context.WithTimeout(ctx, countTimeout)
			defer cancel()

			var n int64
			if err := db.QueryRowContext(cctx, cat.countQuery(t.Schema, t.Name)).Scan(&n); err != nil {
				log.Warn().Err(err).Str("table", t.QualifiedName()).Msg("row count unavailable")
				return
			}
			t.RowCount = &n
		})
	}
	_ = group.Wait()
}
