package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/validation"
	"github.com/lib/pq"
	"github.com/shopmonkeyus/go-common/logger"
)

// Engine executes reads and writes against tenant tables. Every operation
// walks the same phases in order: resolve the table through the registry,
// load the live catalog, validate the request against it, execute, then shape
// the driver rows into JSON-friendly values. The catalog is reloaded on every
// call; a concurrent ALTER is picked up by the next operation.
type Engine struct {
	logger     logger.Logger
	db         *sql.DB
	registry   internal.TableRegistry
	schemas    *validation.SchemaValidator
	publisher  internal.EventPublisher
	instanceID string
}

type Config struct {
	Logger     logger.Logger
	DB         *sql.DB
	Registry   internal.TableRegistry
	Publisher  internal.EventPublisher
	InstanceID string
}

func New(config Config) *Engine {
	return &Engine{
		logger:     config.Logger.WithPrefix("[engine]"),
		db:         config.DB,
		registry:   config.Registry,
		schemas:    validation.NewSchemaValidator(),
		publisher:  config.Publisher,
		instanceID: config.InstanceID,
	}
}

// tableContext is the per-operation view of one table: its registration row
// and the catalog shape, both loaded when the operation starts.
type tableContext struct {
	physical string
	reg      *internal.TableRegistration
	schema   *internal.TableSchema
	numeric  map[string]bool
}

func (e *Engine) resolveTable(ctx context.Context, tenantID int64, table string) (*tableContext, error) {
	physical := e.registry.ResolveFullName(tenantID, table)
	reg, found, err := e.registry.GetRegistration(ctx, physical)
	if err != nil {
		return nil, err
	}
	// an unregistered table and another tenant's table look the same to the
	// caller
	if !found || reg.TenantID != tenantID {
		return nil, internal.NewNotFoundError("table", table)
	}
	schema, err := catalog.LoadTableSchema(ctx, e.db, physical)
	if err != nil {
		return nil, err
	}
	numeric := make(map[string]bool, len(reg.NumericColumns))
	for _, name := range reg.NumericColumns {
		numeric[name] = true
	}
	return &tableContext{physical: physical, reg: reg, schema: schema, numeric: numeric}, nil
}

func (e *Engine) publish(op internal.ChangeOperation, tenantID int64, table, recordID string, soft bool) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(internal.ChangeEvent{
		ID:         uuid.NewString(),
		Operation:  op,
		TenantID:   tenantID,
		Table:      table,
		RecordID:   recordID,
		InstanceID: e.instanceID,
		SoftDelete: soft,
		Timestamp:  time.Now(),
	})
}

// QueryResult is one page of rows plus the count over the whole filtered set.
type QueryResult struct {
	Rows       []map[string]any `json:"rows"`
	Count      int64            `json:"count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalPages int              `json:"totalPages"`
}

// QueryRecords runs a filtered, paginated read. The count is computed over
// the same WHERE clause as the page so totals and rows never disagree.
func (e *Engine) QueryRecords(ctx context.Context, tenantID int64, table string, q Query) (*QueryResult, error) {
	started := time.Now()
	defer func() { internal.OperationDuration.Observe(time.Since(started).Seconds()) }()

	tc, err := e.resolveTable(ctx, tenantID, table)
	if err != nil {
		return nil, err
	}
	q.normalize()
	where, args, err := compileWhere(tc.schema, tc.numeric, q)
	if err != nil {
		internal.ValidationFailures.Inc()
		return nil, err
	}
	order, err := orderClause(tc.schema, tc.numeric, q)
	if err != nil {
		internal.ValidationFailures.Inc()
		return nil, err
	}

	var count int64
	countSQL := "SELECT COUNT(*) FROM " + pq.QuoteIdentifier(tc.physical) + where
	if err := e.db.QueryRowContext(ctx, countSQL, args...).Scan(&count); err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}

	selectSQL := "SELECT " + selectColumns(tc.schema) + " FROM " + pq.QuoteIdentifier(tc.physical) +
		where + order + fmt.Sprintf(" LIMIT %d OFFSET %d", q.PageSize, (q.Page-1)*q.PageSize)
	rows, err := e.db.QueryContext(ctx, selectSQL, args...)
	if err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}
	defer rows.Close()
	shaped, err := scanRowMaps(rows, tc.schema)
	if err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}

	internal.RecordOperations.WithLabelValues("query").Inc()
	e.logger.Debug("query %s returned %d of %d rows (page %d)", tc.physical, len(shaped), count, q.Page)
	return &QueryResult{
		Rows:       shaped,
		Count:      count,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: int((count + int64(q.PageSize) - 1) / int64(q.PageSize)),
	}, nil
}

// GetRecordByID fetches a single record, respecting soft delete.
func (e *Engine) GetRecordByID(ctx context.Context, tenantID int64, table string, id string) (map[string]any, error) {
	tc, err := e.resolveTable(ctx, tenantID, table)
	if err != nil {
		return nil, err
	}
	row, err := e.fetchByID(ctx, tc, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, internal.NewNotFoundError("record", id)
	}
	internal.RecordOperations.WithLabelValues("get").Inc()
	return row, nil
}

// fetchByID returns the live row for an id, nil when absent or soft-deleted.
func (e *Engine) fetchByID(ctx context.Context, tc *tableContext, id string) (map[string]any, error) {
	where := ` WHERE "id" = $1`
	if tc.schema.SoftDelete() {
		where += ` AND "deleted_at" IS NULL`
	}
	query := "SELECT " + selectColumns(tc.schema) + " FROM " + pq.QuoteIdentifier(tc.physical) + where
	return e.queryOne(ctx, query, []any{id}, tc.schema)
}

// queryOne runs a query expected to return at most one row.
func (e *Engine) queryOne(ctx context.Context, query string, args []any, schema *internal.TableSchema) (map[string]any, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}
	defer rows.Close()
	shaped, err := scanRowMaps(rows, schema)
	if err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}
	if len(shaped) == 0 {
		return nil, nil
	}
	return shaped[0], nil
}

func selectColumns(schema *internal.TableSchema) string {
	quoted := make([]string, len(schema.Names))
	for i, name := range schema.Names {
		quoted[i] = pq.QuoteIdentifier(name)
	}
	return strings.Join(quoted, ", ")
}

// scanRowMaps scans every row into a map keyed by column name, shaping each
// value by its catalog type.
func scanRowMaps(rows *sql.Rows, schema *internal.TableSchema) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, 8)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			row[name] = shapeValue(schema.Columns[name], values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// shapeValue converts a driver value into a JSON-friendly one using the
// catalog type: jsonb text unmarshals, NUMERIC strings parse to float64 and
// leftover byte slices become strings.
func shapeValue(col internal.ColumnInfo, value any) any {
	if value == nil {
		return nil
	}
	switch col.DataType {
	case "json", "jsonb":
		var raw []byte
		switch v := value.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return value
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return string(raw)
		}
		return out
	case "numeric", "decimal", "real", "double precision":
		var raw string
		switch v := value.(type) {
		case []byte:
			raw = string(v)
		case string:
			raw = v
		case float64:
			return v
		default:
			return value
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	}
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

func recordIDString(row map[string]any) string {
	if row == nil {
		return ""
	}
	if id, ok := row["id"]; ok && id != nil {
		return fmt.Sprintf("%v", id)
	}
	return ""
}
