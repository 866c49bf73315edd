package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/ddl"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// Client is a typed HTTP client for the server's REST surface. All methods
// return *ResponseError for non-2xx answers so callers can branch on the
// status code.
type Client struct {
	logger  logger.Logger
	baseURL string
	token   string
}

// Config carries the client's settings.
type Config struct {
	Logger logger.Logger

	// BaseURL is the server address, such as http://localhost:8080.
	BaseURL string

	// Token is a signed bearer token. Empty sends unauthenticated requests.
	Token string
}

func New(config Config) *Client {
	return &Client{
		logger:  config.Logger.WithPrefix("[api]"),
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		token:   config.Token,
	}
}

// Meta is the pagination block of a list response.
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type envelope struct {
	Success bool                  `json:"success"`
	Data    json.RawMessage       `json:"data"`
	Error   string                `json:"error"`
	Fields  []internal.FieldError `json:"errors"`
	Meta    *Meta                 `json:"meta"`
}

// ResponseError is a non-2xx answer from the server.
type ResponseError struct {
	StatusCode int
	Message    string
	Fields     []internal.FieldError
}

func (e *ResponseError) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
		}
		return fmt.Sprintf("%s (status %d): %s", e.Message, e.StatusCode, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) (*Meta, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	retry := util.NewHTTPRetry(req, util.WithLogger(c.logger))
	resp, err := retry.Do()
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &ResponseError{StatusCode: resp.StatusCode, Message: msg, Fields: env.Fields}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return env.Meta, nil
}

func tenantPath(tenantID int64, rest string) string {
	return fmt.Sprintf("/v1/tenants/%d%s", tenantID, rest)
}

// Health reports the server's health probe.
type Health struct {
	Status     string `json:"status"`
	InstanceID string `json:"instanceId"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if _, err := c.do(ctx, http.MethodGet, "/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TableCreated is the answer to a create table call.
type TableCreated struct {
	TableName     string                     `json:"tableName"`
	FullTableName string                     `json:"fullTableName"`
	Columns       []internal.ColumnInfo      `json:"columns"`
	Registration  internal.TableRegistration `json:"registration"`
}

func (c *Client) CreateTable(ctx context.Context, tenantID int64, def *internal.TableDefinition) (*TableCreated, error) {
	var out TableCreated
	if _, err := c.do(ctx, http.MethodPost, tenantPath(tenantID, "/tables"), def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTables(ctx context.Context, tenantID int64) ([]internal.TableRegistration, error) {
	var out []internal.TableRegistration
	if _, err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "/tables"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TableDetail is the full description of one table.
type TableDetail struct {
	Registration internal.TableRegistration `json:"registration"`
	Columns      []internal.ColumnInfo      `json:"columns"`
	Indexes      []catalog.Index            `json:"indexes"`
	RowCount     int64                      `json:"rowCount"`
	SchemaHash   string                     `json:"schemaHash"`
}

func (c *Client) DescribeTable(ctx context.Context, tenantID int64, table string) (*TableDetail, error) {
	var out TableDetail
	if _, err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "/tables/"+table), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TableUpdate carries the mutable registration fields. Nil fields are left
// unchanged.
type TableUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	Description *string `json:"description,omitempty"`
	APIEnabled  *bool   `json:"apiEnabled,omitempty"`
}

func (c *Client) UpdateTable(ctx context.Context, tenantID int64, table string, upd TableUpdate) (*internal.TableRegistration, error) {
	var out internal.TableRegistration
	if _, err := c.do(ctx, http.MethodPatch, tenantPath(tenantID, "/tables/"+table), upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTable unregisters a table. With drop set the physical table is
// removed as well.
func (c *Client) DeleteTable(ctx context.Context, tenantID int64, table string, drop bool) error {
	path := tenantPath(tenantID, "/tables/"+table)
	if drop {
		path += "?drop=true"
	}
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// TableAltered is the answer to an alter call.
type TableAltered struct {
	TableName  string                `json:"tableName"`
	Columns    []internal.ColumnInfo `json:"columns"`
	SchemaHash string                `json:"schemaHash"`
}

func (c *Client) AlterTable(ctx context.Context, tenantID int64, table string, req *ddl.AlterRequest) (*TableAltered, error) {
	var out TableAltered
	if _, err := c.do(ctx, http.MethodPost, tenantPath(tenantID, "/tables/"+table+"/alter"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type renameRequest struct {
	Name        string  `json:"name"`
	DisplayName *string `json:"displayName,omitempty"`
}

func (c *Client) RenameTable(ctx context.Context, tenantID int64, table string, newName string, displayName *string) error {
	_, err := c.do(ctx, http.MethodPost, tenantPath(tenantID, "/tables/"+table+"/rename"), renameRequest{Name: newName, DisplayName: displayName}, nil)
	return err
}

// GetSchemaDoc returns the validation schema attached to a table.
func (c *Client) GetSchemaDoc(ctx context.Context, tenantID int64, table string) (json.RawMessage, error) {
	var out json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "/tables/"+table+"/schema"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSchemaDoc attaches a JSON Schema document to a table. Inserts and
// updates are validated against it from then on.
func (c *Client) SetSchemaDoc(ctx context.Context, tenantID int64, table string, doc string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+tenantPath(tenantID, "/tables/"+table+"/schema"), strings.NewReader(doc))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	retry := util.NewHTTPRetry(req, util.WithLogger(c.logger))
	resp, err := retry.Do()
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ResponseError{StatusCode: resp.StatusCode, Message: msg, Fields: env.Fields}
	}
	return nil
}

func (c *Client) DeleteSchemaDoc(ctx context.Context, tenantID int64, table string) error {
	_, err := c.do(ctx, http.MethodDelete, tenantPath(tenantID, "/tables/"+table+"/schema"), nil, nil)
	return err
}

type indexRequest struct {
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// IndexCreated is the answer to a create index call.
type IndexCreated struct {
	Index   string   `json:"index"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

func (c *Client) CreateIndex(ctx context.Context, tenantID int64, table string, columns []string, unique bool) (*IndexCreated, error) {
	var out IndexCreated
	if _, err := c.do(ctx, http.MethodPost, tenantPath(tenantID, "/tables/"+table+"/indexes"), indexRequest{Columns: columns, Unique: unique}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DropIndex(ctx context.Context, tenantID int64, table string, index string) error {
	_, err := c.do(ctx, http.MethodDelete, tenantPath(tenantID, "/tables/"+table+"/indexes/"+index), nil, nil)
	return err
}

// QueryFilter is one field comparison passed on the query string.
type QueryFilter struct {
	Field    string
	Operator string
	Value    string
}

// QueryOptions shape a record listing. The zero value asks for the first
// page with default ordering.
type QueryOptions struct {
	Page    int
	Limit   int
	OrderBy string

	// Order is asc or desc. Empty means asc.
	Order   string
	Search  string
	Filters []QueryFilter
}

func (o QueryOptions) encode() string {
	params := url.Values{}
	if o.Page > 0 {
		params.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.OrderBy != "" {
		params.Set("orderBy", o.OrderBy)
	}
	if o.Order != "" {
		params.Set("order", o.Order)
	}
	if o.Search != "" {
		params.Set("search", o.Search)
	}
	for _, f := range o.Filters {
		params.Add("filterField", f.Field)
		params.Add("filterOperator", f.Operator)
		params.Add("filterValue", f.Value)
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

// RecordPage is one page of records plus its pagination block.
type RecordPage struct {
	Rows []map[string]any
	Meta Meta
}

func (c *Client) QueryRecords(ctx context.Context, tenantID int64, table string, opts QueryOptions) (*RecordPage, error) {
	var rows []map[string]any
	meta, err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "/data/"+table)+opts.encode(), nil, &rows)
	if err != nil {
		return nil, err
	}
	page := RecordPage{Rows: rows}
	if meta != nil {
		page.Meta = *meta
	}
	return &page, nil
}

func (c *Client) GetRecord(ctx context.Context, tenantID int64, table string, id string) (map[string]any, error) {
	var out map[string]any
	if _, err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "/data/"+table+"/"+id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) InsertRecord(ctx context.Context, tenantID int64, table string, record map[string]any) (map[string]any, error) {
	var out map[string]any
	if _, err := c.do(ctx, http.MethodPost, tenantPath(tenantID, "/data/"+table), record, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkInserted is the answer to an array insert.
type BulkInserted struct {
	Inserted int              `json:"inserted"`
	Rows     []map[string]any `json:"rows"`
}

func (c *Client) InsertRecords(ctx context.Context, tenantID int64, table string, records []map[string]any) (*BulkInserted, error) {
	var out BulkInserted
	if _, err := c.do(ctx, http.MethodPost, tenantPath(tenantID, "/data/"+table), records, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateRecord(ctx context.Context, tenantID int64, table string, id string, changes map[string]any) (map[string]any, error) {
	var out map[string]any
	if _, err := c.do(ctx, http.MethodPut, tenantPath(tenantID, "/data/"+table+"/"+id), changes, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordDeleted is the answer to a delete call.
type RecordDeleted struct {
	ID         string `json:"id"`
	SoftDelete bool   `json:"softDelete"`
}

func (c *Client) DeleteRecord(ctx context.Context, tenantID int64, table string, id string) (*RecordDeleted, error) {
	var out RecordDeleted
	if _, err := c.do(ctx, http.MethodDelete, tenantPath(tenantID, "/data/"+table+"/"+id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
