//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/api"
	"github.com/gridbase/gridbase/internal/ddl"
)

func expectStatus(err error, status int) error {
	if err == nil {
		return fmt.Errorf("expected status %d, got success", status)
	}
	var respErr *api.ResponseError
	if !errors.As(err, &respErr) {
		return fmt.Errorf("expected status %d, got: %w", status, err)
	}
	if respErr.StatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, respErr.StatusCode, respErr.Message)
	}
	return nil
}

func tableLifecycle(ctx context.Context, h *Harness) error {
	name := h.TableName("widgets")
	created, err := h.Client.CreateTable(ctx, h.TenantID, &internal.TableDefinition{
		Name:        name,
		DisplayName: "Widgets",
		Columns: []internal.ColumnSpec{
			{Name: "title", Type: internal.TypeString},
			{Name: "price", Type: internal.TypeNumber, Nullable: true},
			{Name: "attrs", Type: internal.TypeJSON, Nullable: true},
		},
	})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if created.FullTableName != fmt.Sprintf("p%d_%s", h.TenantID, name) {
		return fmt.Errorf("unexpected physical name %s", created.FullTableName)
	}

	tables, err := h.Client.ListTables(ctx, h.TenantID)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	var found bool
	for _, reg := range tables {
		if reg.PhysicalTableName == created.FullTableName {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("table %s missing from listing", created.FullTableName)
	}

	detail, err := h.Client.DescribeTable(ctx, h.TenantID, name)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}
	if detail.SchemaHash == "" {
		return errors.New("describe returned empty schema hash")
	}
	cols := make(map[string]bool, len(detail.Columns))
	for _, col := range detail.Columns {
		cols[col.Name] = true
	}
	for _, want := range []string{"id", "title", "price", "attrs", "created_at", "updated_at"} {
		if !cols[want] {
			return fmt.Errorf("describe is missing column %s", want)
		}
	}

	altered, err := h.Client.AlterTable(ctx, h.TenantID, name, &ddl.AlterRequest{
		AddColumns: []internal.ColumnSpec{{Name: "sku", Type: internal.TypeString, Nullable: true}},
	})
	if err != nil {
		return fmt.Errorf("alter: %w", err)
	}
	if altered.SchemaHash == detail.SchemaHash {
		return errors.New("schema hash did not change after alter")
	}

	idx, err := h.Client.CreateIndex(ctx, h.TenantID, name, []string{"title"}, false)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := h.Client.DropIndex(ctx, h.TenantID, name, idx.Index); err != nil {
		return fmt.Errorf("drop index: %w", err)
	}

	renamed := h.TableName("gadgets")
	if err := h.Client.RenameTable(ctx, h.TenantID, name, renamed, nil); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if err := expectStatus(func() error {
		_, err := h.Client.DescribeTable(ctx, h.TenantID, name)
		return err
	}(), http.StatusNotFound); err != nil {
		return fmt.Errorf("describe after rename: %w", err)
	}

	if err := h.Client.DeleteTable(ctx, h.TenantID, renamed, true); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	return nil
}

func recordCRUD(ctx context.Context, h *Harness) error {
	name := h.TableName("contacts")
	_, err := h.Client.CreateTable(ctx, h.TenantID, &internal.TableDefinition{
		Name:       name,
		SoftDelete: true,
		Columns: []internal.ColumnSpec{
			{Name: "name", Type: internal.TypeString},
			{Name: "email", Type: internal.TypeString, Nullable: true},
			{Name: "age", Type: internal.TypeInteger, Nullable: true},
		},
	})
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	row, err := h.Client.InsertRecord(ctx, h.TenantID, name, map[string]any{
		"name":  "Ada",
		"email": "ada@example.com",
		"age":   36,
	})
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	id := fmt.Sprintf("%v", row["id"])
	if id == "" || id == "<nil>" {
		return errors.New("insert returned no id")
	}
	if row["created_at"] == nil {
		return errors.New("insert did not stamp created_at")
	}

	got, err := h.Client.GetRecord(ctx, h.TenantID, name, id)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if got["name"] != "Ada" {
		return fmt.Errorf("get returned wrong record: %v", got["name"])
	}

	upd, err := h.Client.UpdateRecord(ctx, h.TenantID, name, id, map[string]any{"email": "ada@gridbase.dev"})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if upd["email"] != "ada@gridbase.dev" {
		return fmt.Errorf("update did not apply: %v", upd["email"])
	}
	if upd["name"] != "Ada" {
		return errors.New("update clobbered an untouched field")
	}

	if err := expectStatus(func() error {
		_, err := h.Client.UpdateRecord(ctx, h.TenantID, name, id, map[string]any{"id": "999"})
		return err
	}(), http.StatusBadRequest); err != nil {
		return fmt.Errorf("update id: %w", err)
	}

	del, err := h.Client.DeleteRecord(ctx, h.TenantID, name, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if !del.SoftDelete {
		return errors.New("delete was not soft on a soft-delete table")
	}
	if err := expectStatus(func() error {
		_, err := h.Client.GetRecord(ctx, h.TenantID, name, id)
		return err
	}(), http.StatusNotFound); err != nil {
		return fmt.Errorf("get after delete: %w", err)
	}
	return nil
}

func queryPagination(ctx context.Context, h *Harness) error {
	name := h.TableName("items")
	_, err := h.Client.CreateTable(ctx, h.TenantID, &internal.TableDefinition{
		Name: name,
		Columns: []internal.ColumnSpec{
			{Name: "label", Type: internal.TypeString},
			{Name: "rank", Type: internal.TypeInteger},
		},
	})
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	records := make([]map[string]any, 0, 25)
	for i := 1; i <= 25; i++ {
		records = append(records, map[string]any{"label": fmt.Sprintf("item %02d", i), "rank": i})
	}
	bulk, err := h.Client.InsertRecords(ctx, h.TenantID, name, records)
	if err != nil {
		return fmt.Errorf("bulk insert: %w", err)
	}
	if bulk.Inserted != 25 {
		return fmt.Errorf("expected 25 inserted, got %d", bulk.Inserted)
	}

	page, err := h.Client.QueryRecords(ctx, h.TenantID, name, api.QueryOptions{
		Page: 2, Limit: 10, OrderBy: "rank", Order: "asc",
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if len(page.Rows) != 10 || page.Meta.Total != 25 || page.Meta.TotalPages != 3 {
		return fmt.Errorf("unexpected page shape: rows=%d total=%d pages=%d", len(page.Rows), page.Meta.Total, page.Meta.TotalPages)
	}
	if fmt.Sprintf("%v", page.Rows[0]["rank"]) != "11" {
		return fmt.Errorf("page 2 should start at rank 11, got %v", page.Rows[0]["rank"])
	}

	filtered, err := h.Client.QueryRecords(ctx, h.TenantID, name, api.QueryOptions{
		Filters: []api.QueryFilter{{Field: "rank", Operator: "between", Value: "5,8"}},
	})
	if err != nil {
		return fmt.Errorf("filtered query: %w", err)
	}
	if filtered.Meta.Total != 4 {
		return fmt.Errorf("between 5,8 should match 4 rows, got %d", filtered.Meta.Total)
	}

	liked, err := h.Client.QueryRecords(ctx, h.TenantID, name, api.QueryOptions{
		Filters: []api.QueryFilter{{Field: "label", Operator: "like", Value: "%02%"}},
	})
	if err != nil {
		return fmt.Errorf("like query: %w", err)
	}
	if liked.Meta.Total < 1 {
		return errors.New("like filter matched nothing")
	}
	return nil
}

func validationErrors(ctx context.Context, h *Harness) error {
	if err := expectStatus(func() error {
		_, err := h.Client.CreateTable(ctx, h.TenantID, &internal.TableDefinition{
			Name:    "9bad name",
			Columns: []internal.ColumnSpec{{Name: "x", Type: internal.TypeString}},
		})
		return err
	}(), http.StatusBadRequest); err != nil {
		return fmt.Errorf("bad table name: %w", err)
	}

	name := h.TableName("events")
	_, err := h.Client.CreateTable(ctx, h.TenantID, &internal.TableDefinition{
		Name: name,
		Columns: []internal.ColumnSpec{
			{Name: "kind", Type: internal.TypeString},
			{Name: "count", Type: internal.TypeInteger, Nullable: true},
		},
	})
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	err = func() error {
		_, err := h.Client.InsertRecord(ctx, h.TenantID, name, map[string]any{
			"kind":    nil,
			"count":   "many",
			"unknown": true,
		})
		return err
	}()
	if serr := expectStatus(err, http.StatusBadRequest); serr != nil {
		return fmt.Errorf("invalid insert: %w", serr)
	}
	var respErr *api.ResponseError
	errors.As(err, &respErr)
	if len(respErr.Fields) < 3 {
		return fmt.Errorf("expected one violation per bad field, got %d", len(respErr.Fields))
	}

	if err := expectStatus(func() error {
		_, err := h.Client.QueryRecords(ctx, h.TenantID, name, api.QueryOptions{
			Filters: []api.QueryFilter{{Field: "kind", Operator: "almost", Value: "x"}},
		})
		return err
	}(), http.StatusBadRequest); err != nil {
		return fmt.Errorf("bad operator: %w", err)
	}

	if err := expectStatus(func() error {
		_, err := h.Client.GetRecord(ctx, h.TenantID, "no_such_table", "1")
		return err
	}(), http.StatusNotFound); err != nil {
		return fmt.Errorf("unknown table: %w", err)
	}
	return nil
}

func schemaDoc(ctx context.Context, h *Harness) error {
	name := h.TableName("profiles")
	_, err := h.Client.CreateTable(ctx, h.TenantID, &internal.TableDefinition{
		Name: name,
		Columns: []internal.ColumnSpec{
			{Name: "handle", Type: internal.TypeString},
			{Name: "bio", Type: internal.TypeString, Nullable: true},
		},
	})
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	doc := `{"type":"object","properties":{"handle":{"type":"string","minLength":3}},"required":["handle"]}`
	if err := h.Client.SetSchemaDoc(ctx, h.TenantID, name, doc); err != nil {
		return fmt.Errorf("set schema: %w", err)
	}
	got, err := h.Client.GetSchemaDoc(ctx, h.TenantID, name)
	if err != nil {
		return fmt.Errorf("get schema: %w", err)
	}
	if len(got) == 0 {
		return errors.New("schema doc came back empty")
	}

	if err := expectStatus(func() error {
		_, err := h.Client.InsertRecord(ctx, h.TenantID, name, map[string]any{"handle": "ab"})
		return err
	}(), http.StatusBadRequest); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	if _, err := h.Client.InsertRecord(ctx, h.TenantID, name, map[string]any{"handle": "ada_l"}); err != nil {
		return fmt.Errorf("valid insert: %w", err)
	}

	if err := h.Client.DeleteSchemaDoc(ctx, h.TenantID, name); err != nil {
		return fmt.Errorf("delete schema: %w", err)
	}
	if _, err := h.Client.InsertRecord(ctx, h.TenantID, name, map[string]any{"handle": "ab"}); err != nil {
		return fmt.Errorf("insert after schema removal: %w", err)
	}
	return nil
}
