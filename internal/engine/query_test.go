package engine

import (
	"testing"

	"github.com/gridbase/gridbase/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(cols ...internal.ColumnInfo) *internal.TableSchema {
	schema := &internal.TableSchema{
		Table:   "p7_orders",
		Columns: make(map[string]internal.ColumnInfo, len(cols)),
	}
	for _, col := range cols {
		schema.Columns[col.Name] = col
		schema.Names = append(schema.Names, col.Name)
	}
	return schema
}

func ordersTestSchema() *internal.TableSchema {
	return testSchema(
		internal.ColumnInfo{Name: "id", DataType: "bigint", HasDefault: true},
		internal.ColumnInfo{Name: "name", DataType: "text"},
		internal.ColumnInfo{Name: "price", DataType: "text", Nullable: true},
		internal.ColumnInfo{Name: "qty", DataType: "integer", Nullable: true},
		internal.ColumnInfo{Name: "created_at", DataType: "timestamp without time zone", HasDefault: true},
		internal.ColumnInfo{Name: "deleted_at", DataType: "timestamp without time zone", Nullable: true},
	)
}

func TestCompileWhereOperators(t *testing.T) {
	schema := ordersTestSchema()
	where, args, err := compileWhere(schema, nil, Query{Filters: []Filter{
		{Field: "name", Operator: OpEq, Value: "widget"},
		{Field: "qty", Operator: OpGt, Value: 3},
		{Field: "name", Operator: OpILike, Value: "%wid%"},
	}})
	require.NoError(t, err)
	assert.Equal(t, ` WHERE "deleted_at" IS NULL AND "name" = $1 AND "qty" > $2 AND "name" ILIKE $3`, where)
	assert.Equal(t, []any{"widget", 3, "%wid%"}, args)
}

func TestCompileWhereNumericCast(t *testing.T) {
	schema := ordersTestSchema()
	numeric := map[string]bool{"price": true}
	where, args, err := compileWhere(schema, numeric, Query{Filters: []Filter{
		{Field: "price", Operator: OpGte, Value: "10"},
	}})
	require.NoError(t, err)
	assert.Equal(t, ` WHERE "deleted_at" IS NULL AND CAST("price" AS NUMERIC) >= $1`, where)
	assert.Equal(t, []any{"10"}, args)

	// textual operators keep the raw column even when declared numeric
	where, _, err = compileWhere(schema, numeric, Query{Filters: []Filter{
		{Field: "price", Operator: OpLike, Value: "1%"},
	}})
	require.NoError(t, err)
	assert.Contains(t, where, `"price" LIKE $1`)
	assert.NotContains(t, where, "CAST")
}

func TestCompileWhereIn(t *testing.T) {
	schema := ordersTestSchema()
	where, args, err := compileWhere(schema, nil, Query{Filters: []Filter{
		{Field: "qty", Operator: OpIn, Value: []any{1, 2, 3}},
	}})
	require.NoError(t, err)
	assert.Contains(t, where, `"qty" IN ($1, $2, $3)`)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestCompileWhereInRejectsEmptyList(t *testing.T) {
	schema := ordersTestSchema()
	_, _, err := compileWhere(schema, nil, Query{Filters: []Filter{
		{Field: "qty", Operator: OpIn, Value: []any{}},
	}})
	require.Error(t, err)
	verr, ok := internal.AsValidation(err)
	require.True(t, ok)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "qty", verr.Fields[0].Field)
	assert.Equal(t, "in requires a non-empty list", verr.Fields[0].Message)

	_, _, err = compileWhere(schema, nil, Query{Filters: []Filter{
		{Field: "qty", Operator: OpIn, Value: "not-a-list"},
	}})
	require.Error(t, err)
}

func TestCompileWhereBetween(t *testing.T) {
	schema := ordersTestSchema()
	where, args, err := compileWhere(schema, nil, Query{Filters: []Filter{
		{Field: "qty", Operator: OpBetween, Value: []any{2, 5}},
	}})
	require.NoError(t, err)
	assert.Contains(t, where, `"qty" BETWEEN $1 AND $2`)
	assert.Equal(t, []any{2, 5}, args)

	_, _, err = compileWhere(schema, nil, Query{Filters: []Filter{
		{Field: "qty", Operator: OpBetween, Value: []any{2}},
	}})
	require.Error(t, err)
	verr, ok := internal.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "between requires exactly two values", verr.Fields[0].Message)
}

func TestCompileWhereCollectsAllErrors(t *testing.T) {
	schema := ordersTestSchema()
	_, _, err := compileWhere(schema, nil, Query{Filters: []Filter{
		{Field: "ghost", Operator: OpEq, Value: 1},
		{Field: "qty", Operator: "contains", Value: 1},
		{Field: "qty", Operator: OpIn, Value: []any{}},
	}})
	require.Error(t, err)
	verr, ok := internal.AsValidation(err)
	require.True(t, ok)
	assert.Len(t, verr.Fields, 3)
}

func TestCompileWhereSearch(t *testing.T) {
	schema := ordersTestSchema()
	where, args, err := compileWhere(schema, nil, Query{Search: "gadget"})
	require.NoError(t, err)
	// one bound pattern shared by every text column
	assert.Equal(t, ` WHERE "deleted_at" IS NULL AND ("name" ILIKE $1 OR "price" ILIKE $1)`, where)
	assert.Equal(t, []any{"%gadget%"}, args)
}

func TestCompileWhereNoClauses(t *testing.T) {
	schema := testSchema(
		internal.ColumnInfo{Name: "id", DataType: "bigint"},
		internal.ColumnInfo{Name: "qty", DataType: "integer"},
	)
	where, args, err := compileWhere(schema, nil, Query{})
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestOrderClause(t *testing.T) {
	schema := ordersTestSchema()

	order, err := orderClause(schema, nil, Query{})
	require.NoError(t, err)
	assert.Equal(t, ` ORDER BY "created_at" DESC`, order)

	order, err = orderClause(schema, map[string]bool{"price": true}, Query{OrderBy: "price", Descending: true})
	require.NoError(t, err)
	assert.Equal(t, ` ORDER BY CAST("price" AS NUMERIC) DESC`, order)

	order, err = orderClause(schema, nil, Query{OrderBy: "name"})
	require.NoError(t, err)
	assert.Equal(t, ` ORDER BY "name" ASC`, order)

	_, err = orderClause(schema, nil, Query{OrderBy: "ghost"})
	require.Error(t, err)

	bare := testSchema(internal.ColumnInfo{Name: "id", DataType: "bigint"})
	order, err = orderClause(bare, nil, Query{})
	require.NoError(t, err)
	assert.Equal(t, ` ORDER BY "id"`, order)
}

func TestQueryNormalize(t *testing.T) {
	var q Query
	q.normalize()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultPageSize, q.PageSize)

	q = Query{Page: -3, PageSize: 10000}
	q.normalize()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, MaxPageSize, q.PageSize)
}
