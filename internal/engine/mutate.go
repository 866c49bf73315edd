package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/idgen"
	"github.com/gridbase/gridbase/internal/validation"
	"github.com/lib/pq"
)

// ceiling on placeholders in one multi-row insert, well under the wire limit
const maxInsertParams = 30000

// columns the engine owns and stamps itself
func isStamped(name string) bool {
	switch name {
	case "created_at", "updated_at", "deleted_at":
		return true
	}
	return false
}

// validateRecord checks the payload against the live catalog: unknown fields,
// explicit nulls into non-nullable columns and coarse type mismatches. For
// full records it also requires every non-nullable column without a default.
// All violations are collected.
func validateRecord(tc *tableContext, data map[string]any, partial bool) []internal.FieldError {
	fields := make([]string, 0, len(data))
	for field := range data {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var errs []internal.FieldError
	for _, field := range fields {
		col, ok := tc.schema.Columns[field]
		if !ok {
			errs = append(errs, internal.NewFieldError(field, "unknown field"))
			continue
		}
		value := data[field]
		if value == nil {
			if !col.Nullable {
				errs = append(errs, internal.NewFieldError(field, "must not be null"))
			}
			continue
		}
		if msg := checkColumnType(col, tc.numeric[field], value); msg != "" {
			errs = append(errs, internal.NewFieldError(field, msg))
		}
	}
	if partial {
		return errs
	}
	for _, name := range tc.schema.Names {
		col := tc.schema.Columns[name]
		if name == "id" || isStamped(name) || col.Nullable || col.HasDefault {
			continue
		}
		if _, ok := data[name]; !ok {
			errs = append(errs, internal.NewFieldError(name, "is required"))
		}
	}
	return errs
}

// checkColumnType is the coarse catalog-driven check. It turns obvious shape
// mistakes into field errors before the database sees them; the database
// stays the final authority.
func checkColumnType(col internal.ColumnInfo, declaredNumeric bool, value any) string {
	switch col.DataType {
	case "smallint", "integer", "bigint":
		switch n := value.(type) {
		case int, int32, int64:
		case float64:
			if n != math.Trunc(n) {
				return "must be an integer"
			}
		default:
			return "must be an integer"
		}
	case "numeric", "decimal", "real", "double precision":
		switch value.(type) {
		case int, int32, int64, float64:
		default:
			return "must be a number"
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case "timestamp without time zone", "timestamp with time zone", "date":
		switch v := value.(type) {
		case time.Time:
		case string:
			if _, ok := validation.ParseDate(v); !ok {
				return "must be a valid date"
			}
		default:
			return "must be a valid date"
		}
	case "json", "jsonb":
		if s, ok := value.(string); ok && !json.Valid([]byte(s)) {
			return "must be valid JSON"
		}
	default:
		s, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		if declaredNumeric {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				return "must be a numeric string"
			}
		}
	}
	return ""
}

// encodeValue prepares a value for the driver. JSON columns are marshaled to
// text because pq treats []byte as bytea.
func encodeValue(col internal.ColumnInfo, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch col.DataType {
	case "json", "jsonb":
		if s, ok := value.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, internal.NewInternalError(fmt.Errorf("unable to marshal %s: %w", col.Name, err))
		}
		return string(b), nil
	}
	return value, nil
}

// stampRecord copies the payload and fills the engine-owned columns: a
// generated entity id when the id column is textual, plus the timestamps. A
// caller-supplied created_at survives so imports can carry original times.
func (e *Engine) stampRecord(tc *tableContext, data map[string]any) map[string]any {
	row := make(map[string]any, len(data)+3)
	for k, v := range data {
		row[k] = v
	}
	if col, ok := tc.schema.Columns["id"]; ok {
		if _, supplied := row["id"]; !supplied && isTextType(col.DataType) {
			row["id"] = idgen.NewEntityID(idgen.KindRecord)
		}
	}
	now := time.Now().UTC()
	if tc.schema.HasColumn("created_at") {
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = now
		}
	}
	if tc.schema.HasColumn("updated_at") {
		row["updated_at"] = now
	}
	return row
}

func insertColumns(tc *tableContext, row map[string]any) ([]string, []any, error) {
	var names []string
	var values []any
	for _, name := range tc.schema.Names {
		value, ok := row[name]
		if !ok {
			continue
		}
		encoded, err := encodeValue(tc.schema.Columns[name], value)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, pq.QuoteIdentifier(name))
		values = append(values, encoded)
	}
	return names, values, nil
}

// schemaErrors validates data against an attached JSON Schema document and
// returns the field errors. A non-validation failure is returned as-is.
func (e *Engine) schemaErrors(doc string, data map[string]any) ([]internal.FieldError, error) {
	if err := e.schemas.Validate(doc, data); err != nil {
		if verr, ok := internal.AsValidation(err); ok {
			return verr.Fields, nil
		}
		return nil, err
	}
	return nil, nil
}

// InsertRecord validates and inserts one record, returning the row as the
// database stored it.
func (e *Engine) InsertRecord(ctx context.Context, tenantID int64, table string, data map[string]any, rules validation.Schema) (map[string]any, error) {
	started := time.Now()
	defer func() { internal.OperationDuration.Observe(time.Since(started).Seconds()) }()

	tc, err := e.resolveTable(ctx, tenantID, table)
	if err != nil {
		return nil, err
	}
	errs := validateRecord(tc, data, false)
	if rules != nil {
		errs = append(errs, validation.Validate(data, rules).Errors...)
	}
	doc, hasSchema, err := e.registry.GetJSONSchema(ctx, tc.physical)
	if err != nil {
		return nil, err
	}
	if hasSchema {
		fields, err := e.schemaErrors(doc, data)
		if err != nil {
			return nil, err
		}
		errs = append(errs, fields...)
	}
	if len(errs) > 0 {
		internal.ValidationFailures.Inc()
		return nil, internal.NewValidationError(errs...)
	}

	stamped := e.stampRecord(tc, data)
	names, values, err := insertColumns(tc, stamped)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, internal.NewValidationError(internal.NewFieldError("", "no fields to insert"))
	}
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := "INSERT INTO " + pq.QuoteIdentifier(tc.physical) +
		" (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")" +
		" RETURNING " + selectColumns(tc.schema)
	inserted, err := e.queryOne(ctx, query, values, tc.schema)
	if err != nil {
		return nil, err
	}
	if inserted == nil {
		return nil, internal.NewInternalError(fmt.Errorf("insert into %s returned no row", tc.physical))
	}
	internal.RecordOperations.WithLabelValues("insert").Inc()
	e.logger.Debug("inserted record %s into %s", recordIDString(inserted), tc.physical)
	e.publish(internal.OpInsert, tenantID, tc.physical, recordIDString(inserted), false)
	return inserted, nil
}

// UpdateRecord applies a partial update. The id and the stamped columns are
// not writable; updated_at is always refreshed.
func (e *Engine) UpdateRecord(ctx context.Context, tenantID int64, table string, id string, data map[string]any, rules validation.Schema) (map[string]any, error) {
	started := time.Now()
	defer func() { internal.OperationDuration.Observe(time.Since(started).Seconds()) }()

	tc, err := e.resolveTable(ctx, tenantID, table)
	if err != nil {
		return nil, err
	}
	var errs []internal.FieldError
	if _, ok := data["id"]; ok {
		errs = append(errs, internal.NewFieldError("id", "cannot be modified"))
	}
	work := make(map[string]any, len(data))
	for k, v := range data {
		if k == "id" || isStamped(k) {
			continue
		}
		work[k] = v
	}
	if len(work) == 0 && len(errs) == 0 {
		errs = append(errs, internal.NewFieldError("", "no fields to update"))
	}
	errs = append(errs, validateRecord(tc, work, true)...)
	if rules != nil {
		errs = append(errs, validation.ValidatePartial(work, rules).Errors...)
	}
	if len(errs) > 0 {
		internal.ValidationFailures.Inc()
		return nil, internal.NewValidationError(errs...)
	}

	current, err := e.fetchByID(ctx, tc, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, internal.NewNotFoundError("record", id)
	}

	doc, hasSchema, err := e.registry.GetJSONSchema(ctx, tc.physical)
	if err != nil {
		return nil, err
	}
	if hasSchema {
		// the attached schema judges the record as it will look after the
		// update, not the sparse payload
		merged := make(map[string]any, len(current))
		for k, v := range current {
			if k == "id" || isStamped(k) {
				continue
			}
			merged[k] = v
		}
		for k, v := range work {
			merged[k] = v
		}
		fields, err := e.schemaErrors(doc, merged)
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			internal.ValidationFailures.Inc()
			return nil, internal.NewValidationError(fields...)
		}
	}

	sets := make([]string, 0, len(work)+1)
	args := make([]any, 0, len(work)+2)
	for _, name := range tc.schema.Names {
		value, ok := work[name]
		if !ok {
			continue
		}
		encoded, err := encodeValue(tc.schema.Columns[name], value)
		if err != nil {
			return nil, err
		}
		args = append(args, encoded)
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(name), len(args)))
	}
	if tc.schema.HasColumn("updated_at") {
		args = append(args, time.Now().UTC())
		sets = append(sets, fmt.Sprintf(`"updated_at" = $%d`, len(args)))
	}
	args = append(args, id)
	where := fmt.Sprintf(` WHERE "id" = $%d`, len(args))
	if tc.schema.SoftDelete() {
		where += ` AND "deleted_at" IS NULL`
	}
	query := "UPDATE " + pq.QuoteIdentifier(tc.physical) + " SET " + strings.Join(sets, ", ") +
		where + " RETURNING " + selectColumns(tc.schema)
	updated, err := e.queryOne(ctx, query, args, tc.schema)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// the row went away between the existence check and the write
		return nil, internal.NewNotFoundError("record", id)
	}
	internal.RecordOperations.WithLabelValues("update").Inc()
	e.logger.Debug("updated record %s in %s", id, tc.physical)
	e.publish(internal.OpUpdate, tenantID, tc.physical, id, false)
	return updated, nil
}

// DeleteResult reports how a delete was carried out.
type DeleteResult struct {
	ID         string `json:"id"`
	SoftDelete bool   `json:"softDelete"`
}

// DeleteRecord soft-deletes when the table carries deleted_at and hard
// deletes otherwise.
func (e *Engine) DeleteRecord(ctx context.Context, tenantID int64, table string, id string) (*DeleteResult, error) {
	started := time.Now()
	defer func() { internal.OperationDuration.Observe(time.Since(started).Seconds()) }()

	tc, err := e.resolveTable(ctx, tenantID, table)
	if err != nil {
		return nil, err
	}
	soft := tc.schema.SoftDelete()
	var res sql.Result
	if soft {
		now := time.Now().UTC()
		sets := []string{`"deleted_at" = $1`}
		args := []any{now}
		if tc.schema.HasColumn("updated_at") {
			args = append(args, now)
			sets = append(sets, `"updated_at" = $2`)
		}
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE %s SET %s WHERE "id" = $%d AND "deleted_at" IS NULL`,
			pq.QuoteIdentifier(tc.physical), strings.Join(sets, ", "), len(args))
		res, err = e.db.ExecContext(ctx, query, args...)
	} else {
		res, err = e.db.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(tc.physical)+` WHERE "id" = $1`, id)
	}
	if err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, internal.NewInternalError(err)
	}
	if affected == 0 {
		return nil, internal.NewNotFoundError("record", id)
	}
	internal.RecordOperations.WithLabelValues("delete").Inc()
	e.logger.Debug("deleted record %s from %s (soft=%t)", id, tc.physical, soft)
	e.publish(internal.OpDelete, tenantID, tc.physical, id, soft)
	return &DeleteResult{ID: id, SoftDelete: soft}, nil
}

// sameColumnSet reports whether two stamped records write the same columns.
func sameColumnSet(tc *tableContext, a, b map[string]any) bool {
	for name := range a {
		if tc.schema.HasColumn(name) {
			if _, ok := b[name]; !ok {
				return false
			}
		}
	}
	for name := range b {
		if tc.schema.HasColumn(name) {
			if _, ok := a[name]; !ok {
				return false
			}
		}
	}
	return true
}

// InsertMany validates every record up front, then writes them in a single
// multi-row insert. Either all records land or none do.
func (e *Engine) InsertMany(ctx context.Context, tenantID int64, table string, records []map[string]any, rules validation.Schema) ([]map[string]any, error) {
	started := time.Now()
	defer func() { internal.OperationDuration.Observe(time.Since(started).Seconds()) }()

	if len(records) == 0 {
		return nil, internal.NewValidationError(internal.NewFieldError("records", "must not be empty"))
	}
	tc, err := e.resolveTable(ctx, tenantID, table)
	if err != nil {
		return nil, err
	}
	doc, hasSchema, err := e.registry.GetJSONSchema(ctx, tc.physical)
	if err != nil {
		return nil, err
	}

	prefix := func(i int, fe internal.FieldError) internal.FieldError {
		field := fmt.Sprintf("records[%d]", i)
		if fe.Field != "" {
			field += "." + fe.Field
		}
		return internal.NewFieldError(field, fe.Message)
	}
	var errs []internal.FieldError
	stamped := make([]map[string]any, len(records))
	for i, data := range records {
		for _, fe := range validateRecord(tc, data, false) {
			errs = append(errs, prefix(i, fe))
		}
		if rules != nil {
			for _, fe := range validation.Validate(data, rules).Errors {
				errs = append(errs, prefix(i, fe))
			}
		}
		if hasSchema {
			fields, err := e.schemaErrors(doc, data)
			if err != nil {
				return nil, err
			}
			for _, fe := range fields {
				errs = append(errs, prefix(i, fe))
			}
		}
		stamped[i] = e.stampRecord(tc, data)
	}
	for i := 1; i < len(stamped); i++ {
		if !sameColumnSet(tc, stamped[0], stamped[i]) {
			errs = append(errs, internal.NewFieldError(fmt.Sprintf("records[%d]", i), "must supply the same fields as the first record"))
		}
	}
	if len(errs) > 0 {
		internal.ValidationFailures.Inc()
		return nil, internal.NewValidationError(errs...)
	}

	var names []string
	for _, name := range tc.schema.Names {
		if _, ok := stamped[0][name]; ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, internal.NewValidationError(internal.NewFieldError("", "no fields to insert"))
	}
	if len(names)*len(stamped) > maxInsertParams {
		return nil, internal.NewValidationError(internal.NewFieldError("records", "batch too large"))
	}

	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = pq.QuoteIdentifier(name)
	}
	var args []any
	valueRows := make([]string, len(stamped))
	for i, row := range stamped {
		placeholders := make([]string, len(names))
		for j, name := range names {
			encoded, err := encodeValue(tc.schema.Columns[name], row[name])
			if err != nil {
				return nil, err
			}
			args = append(args, encoded)
			placeholders[j] = fmt.Sprintf("$%d", len(args))
		}
		valueRows[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}
	query := "INSERT INTO " + pq.QuoteIdentifier(tc.physical) +
		" (" + strings.Join(quoted, ", ") + ") VALUES " + strings.Join(valueRows, ", ") +
		" RETURNING " + selectColumns(tc.schema)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}
	defer rows.Close()
	inserted, err := scanRowMaps(rows, tc.schema)
	if err != nil {
		return nil, internal.TranslateDatabaseError(err)
	}
	internal.RecordOperations.WithLabelValues("insert").Add(float64(len(inserted)))
	e.logger.Debug("inserted %d records into %s", len(inserted), tc.physical)
	for _, row := range inserted {
		e.publish(internal.OpInsert, tenantID, tc.physical, recordIDString(row), false)
	}
	return inserted, nil
}
