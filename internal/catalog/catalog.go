package catalog

import (
	"context"
	"database/sql"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/lib/pq"
)

// the catalog is the single source of truth for a table's shape. every engine
// operation loads it fresh; nothing here is cached.

const columnsQuery = `SELECT column_name, data_type, is_nullable, column_default FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`

const existsQuery = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`

const indexesQuery = `SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = 'public' AND tablename = $1`

// TableExists reports whether the physical table exists.
func TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, existsQuery, table).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// LoadTableSchema builds the live shape of a table from the information
// schema. Returns a NotFoundError if the table has no columns (does not
// exist).
func LoadTableSchema(ctx context.Context, db *sql.DB, table string) (*internal.TableSchema, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	schema := &internal.TableSchema{
		Table:   table,
		Columns: make(map[string]internal.ColumnInfo),
	}
	for rows.Next() {
		var name, dataType, nullable string
		var columnDefault sql.NullString
		if err := rows.Scan(&name, &dataType, &nullable, &columnDefault); err != nil {
			return nil, err
		}
		schema.Columns[name] = internal.ColumnInfo{
			Name:       name,
			DataType:   dataType,
			Nullable:   nullable == "YES",
			HasDefault: columnDefault.Valid,
		}
		schema.Names = append(schema.Names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schema.Names) == 0 {
		return nil, internal.NewNotFoundError("table", table)
	}
	return schema, nil
}

// Index is one index on a physical table.
type Index struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// ListIndexes returns the indexes defined on a table.
func ListIndexes(ctx context.Context, db *sql.DB, table string) ([]Index, error) {
	rows, err := db.QueryContext(ctx, indexesQuery, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Index
	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Name, &idx.Definition); err != nil {
			return nil, err
		}
		res = append(res, idx)
	}
	return res, rows.Err()
}

// RowCount returns the number of live rows in a table.
func RowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(table)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Fingerprint returns a stable hash of a table's shape, used for change
// events and describe ETags.
func Fingerprint(schema *internal.TableSchema) string {
	vals := make([]interface{}, 0, len(schema.Names)*2+1)
	vals = append(vals, schema.Table)
	for _, name := range schema.Names {
		col := schema.Columns[name]
		vals = append(vals, name, col.DataType)
	}
	return util.Hash(vals...)
}
