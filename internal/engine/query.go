package engine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gridbase/gridbase/internal"
	"github.com/lib/pq"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpLike    Operator = "like"
	OpILike   Operator = "ilike"
	OpIn      Operator = "in"
	OpBetween Operator = "between"
)

// Filter is one predicate on a column.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Query carries everything a caller can ask of QueryRecords. The zero value
// is a valid first page with default ordering.
type Query struct {
	Filters    []Filter `json:"filters,omitempty"`
	Search     string   `json:"search,omitempty"`
	OrderBy    string   `json:"orderBy,omitempty"`
	Descending bool     `json:"descending,omitempty"`
	Page       int      `json:"page,omitempty"`
	PageSize   int      `json:"pageSize,omitempty"`
}

func (q *Query) normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
}

var comparisons = map[Operator]string{
	OpEq:  "=",
	OpNeq: "<>",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// columnExpr returns the SQL expression for a column. Declared-numeric text
// columns are cast so comparisons and ordering behave numerically; textual
// operators keep the raw column.
func columnExpr(numeric map[string]bool, field string, textual bool) string {
	quoted := pq.QuoteIdentifier(field)
	if numeric[field] && !textual {
		return fmt.Sprintf("CAST(%s AS NUMERIC)", quoted)
	}
	return quoted
}

// whereBuilder accumulates WHERE fragments, their arguments and any field
// errors found while compiling. Errors never abort compilation; the caller
// gets all of them at once.
type whereBuilder struct {
	clauses []string
	args    []any
	errs    []internal.FieldError
}

func (b *whereBuilder) placeholder(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) fail(field, format string, args ...any) {
	b.errs = append(b.errs, internal.NewFieldError(field, fmt.Sprintf(format, args...)))
}

func (b *whereBuilder) compileFilter(schema *internal.TableSchema, numeric map[string]bool, f Filter) {
	if !schema.HasColumn(f.Field) {
		b.fail(f.Field, "column does not exist")
		return
	}
	if cmp, ok := comparisons[f.Operator]; ok {
		expr := columnExpr(numeric, f.Field, false)
		b.clauses = append(b.clauses, fmt.Sprintf("%s %s %s", expr, cmp, b.placeholder(f.Value)))
		return
	}
	switch f.Operator {
	case OpLike, OpILike:
		pattern, ok := f.Value.(string)
		if !ok {
			b.fail(f.Field, "%s requires a string value", f.Operator)
			return
		}
		keyword := "LIKE"
		if f.Operator == OpILike {
			keyword = "ILIKE"
		}
		b.clauses = append(b.clauses, fmt.Sprintf("%s %s %s", pq.QuoteIdentifier(f.Field), keyword, b.placeholder(pattern)))
	case OpIn:
		vals, ok := sliceValues(f.Value)
		if !ok || len(vals) == 0 {
			b.fail(f.Field, "in requires a non-empty list")
			return
		}
		expr := columnExpr(numeric, f.Field, false)
		placeholders := make([]string, len(vals))
		for i, v := range vals {
			placeholders[i] = b.placeholder(v)
		}
		b.clauses = append(b.clauses, fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", ")))
	case OpBetween:
		vals, ok := sliceValues(f.Value)
		if !ok || len(vals) != 2 {
			b.fail(f.Field, "between requires exactly two values")
			return
		}
		expr := columnExpr(numeric, f.Field, false)
		// BETWEEN is inclusive on both bounds
		b.clauses = append(b.clauses, fmt.Sprintf("%s BETWEEN %s AND %s", expr, b.placeholder(vals[0]), b.placeholder(vals[1])))
	default:
		b.fail(f.Field, "unknown operator %q", f.Operator)
	}
}

// compileSearch ORs an ILIKE over every text column. The pattern is bound
// once and the placeholder reused.
func (b *whereBuilder) compileSearch(schema *internal.TableSchema, search string) {
	var parts []string
	var placeholder string
	for _, name := range schema.Names {
		if !isTextType(schema.Columns[name].DataType) {
			continue
		}
		if placeholder == "" {
			placeholder = b.placeholder("%" + search + "%")
		}
		parts = append(parts, fmt.Sprintf("%s ILIKE %s", pq.QuoteIdentifier(name), placeholder))
	}
	if len(parts) == 0 {
		return
	}
	b.clauses = append(b.clauses, "("+strings.Join(parts, " OR ")+")")
}

// compileWhere builds the full WHERE clause for a query, including the
// implicit soft-delete predicate when the table carries deleted_at.
func compileWhere(schema *internal.TableSchema, numeric map[string]bool, q Query) (string, []any, error) {
	var b whereBuilder
	if schema.SoftDelete() {
		b.clauses = append(b.clauses, `"deleted_at" IS NULL`)
	}
	for _, f := range q.Filters {
		b.compileFilter(schema, numeric, f)
	}
	if q.Search != "" {
		b.compileSearch(schema, q.Search)
	}
	if len(b.errs) > 0 {
		return "", nil, internal.NewValidationError(b.errs...)
	}
	if len(b.clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(b.clauses, " AND "), b.args, nil
}

// orderClause validates the requested ordering column and falls back to
// created_at DESC, then id, when none was asked for.
func orderClause(schema *internal.TableSchema, numeric map[string]bool, q Query) (string, error) {
	if q.OrderBy != "" {
		if !schema.HasColumn(q.OrderBy) {
			return "", internal.NewValidationError(internal.NewFieldError(q.OrderBy, "column does not exist"))
		}
		dir := " ASC"
		if q.Descending {
			dir = " DESC"
		}
		return " ORDER BY " + columnExpr(numeric, q.OrderBy, false) + dir, nil
	}
	if schema.HasColumn("created_at") {
		return ` ORDER BY "created_at" DESC`, nil
	}
	if schema.HasColumn("id") {
		return ` ORDER BY "id"`, nil
	}
	return "", nil
}

func sliceValues(value any) ([]any, bool) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isTextType(dataType string) bool {
	switch dataType {
	case "text", "character varying", "character", "citext":
		return true
	}
	return false
}
