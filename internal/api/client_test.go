package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal"
)

type call struct {
	method string
	path   string
	query  string
	auth   string
	body   []byte
}

// newTestClient stands up a canned server and a client pointed at it. Each
// request is recorded into calls before the fixed response goes back.
func newTestClient(t *testing.T, status int, response string, calls *[]call) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*calls = append(*calls, call{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   body,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return New(Config{Logger: logger.NewTestLogger(), BaseURL: srv.URL, Token: "tok-123"})
}

func TestClientCreateTable(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusCreated, `{"success":true,"data":{"tableName":"orders","fullTableName":"p7_orders","columns":[{"name":"id","dataType":"integer","nullable":false,"hasDefault":true}],"registration":{"tenantId":7,"physicalTableName":"p7_orders"}}}`, &calls)

	res, err := c.CreateTable(context.Background(), 7, &internal.TableDefinition{
		Name: "orders",
		Columns: []internal.ColumnSpec{
			{Name: "total", Type: internal.TypeNumber},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", res.TableName)
	assert.Equal(t, "p7_orders", res.FullTableName)
	require.Len(t, res.Columns, 1)
	assert.Equal(t, "id", res.Columns[0].Name)
	assert.Equal(t, int64(7), res.Registration.TenantID)

	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.Equal(t, "/v1/tenants/7/tables", calls[0].path)
	assert.Equal(t, "Bearer tok-123", calls[0].auth)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(calls[0].body, &sent))
	assert.Equal(t, "orders", sent["name"])
}

func TestClientQueryRecords(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusOK, `{"success":true,"data":[{"id":"1","name":"a"},{"id":"2","name":"b"}],"meta":{"page":2,"limit":2,"total":5,"totalPages":3}}`, &calls)

	page, err := c.QueryRecords(context.Background(), 7, "orders", QueryOptions{
		Page:    2,
		Limit:   2,
		OrderBy: "name",
		Order:   "desc",
		Filters: []QueryFilter{{Field: "status", Operator: "eq", Value: "open"}},
	})
	require.NoError(t, err)
	assert.Len(t, page.Rows, 2)
	assert.Equal(t, 2, page.Meta.Page)
	assert.Equal(t, int64(5), page.Meta.Total)
	assert.Equal(t, 3, page.Meta.TotalPages)

	require.Len(t, calls, 1)
	assert.Equal(t, "/v1/tenants/7/data/orders", calls[0].path)
	assert.Contains(t, calls[0].query, "page=2")
	assert.Contains(t, calls[0].query, "orderBy=name")
	assert.Contains(t, calls[0].query, "order=desc")
	assert.Contains(t, calls[0].query, "filterField=status")
	assert.Contains(t, calls[0].query, "filterOperator=eq")
	assert.Contains(t, calls[0].query, "filterValue=open")
}

func TestClientValidationError(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusBadRequest, `{"success":false,"error":"validation failed","errors":[{"field":"name","error":"is required"},{"field":"total","error":"must be a number"}]}`, &calls)

	_, err := c.InsertRecord(context.Background(), 7, "orders", map[string]any{"total": "x"})
	require.Error(t, err)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusBadRequest, respErr.StatusCode)
	assert.Len(t, respErr.Fields, 2)
	assert.Contains(t, respErr.Error(), "name: is required")

	// a 400 must not be retried
	assert.Len(t, calls, 1)
}

func TestClientNotFound(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusNotFound, `{"success":false,"error":"record not found: 42"}`, &calls)

	_, err := c.GetRecord(context.Background(), 7, "orders", "42")
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusNotFound, respErr.StatusCode)
	assert.Equal(t, "record not found: 42", respErr.Message)
	assert.Equal(t, "/v1/tenants/7/data/orders/42", calls[0].path)
}

func TestClientDeleteTableDrop(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusOK, `{"success":true,"data":{"table":"orders","dropped":true}}`, &calls)

	require.NoError(t, c.DeleteTable(context.Background(), 7, "orders", true))
	assert.Equal(t, http.MethodDelete, calls[0].method)
	assert.Equal(t, "/v1/tenants/7/tables/orders", calls[0].path)
	assert.Equal(t, "drop=true", calls[0].query)
}

func TestClientSetSchemaDoc(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusOK, `{"success":true,"data":{"table":"orders","attached":true}}`, &calls)

	doc := `{"type":"object","required":["name"]}`
	require.NoError(t, c.SetSchemaDoc(context.Background(), 7, "orders", doc))
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPut, calls[0].method)
	assert.Equal(t, "/v1/tenants/7/tables/orders/schema", calls[0].path)
	assert.JSONEq(t, doc, string(calls[0].body))
}

func TestClientInsertRecords(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusCreated, `{"success":true,"data":{"inserted":2,"rows":[{"id":"1"},{"id":"2"}]}}`, &calls)

	res, err := c.InsertRecords(context.Background(), 7, "orders", []map[string]any{
		{"name": "a"},
		{"name": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Len(t, res.Rows, 2)
	assert.Equal(t, byte('['), calls[0].body[0])
}

func TestClientDeleteRecord(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusOK, `{"success":true,"data":{"id":"9","softDelete":true}}`, &calls)

	res, err := c.DeleteRecord(context.Background(), 7, "orders", "9")
	require.NoError(t, err)
	assert.Equal(t, "9", res.ID)
	assert.True(t, res.SoftDelete)
}

func TestClientHealth(t *testing.T) {
	var calls []call
	c := newTestClient(t, http.StatusOK, `{"success":true,"data":{"status":"ok","instanceId":"abc123"}}`, &calls)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "abc123", h.InstanceID)
	assert.Equal(t, "/", calls[0].path)
}
