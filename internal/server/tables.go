package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/ddl"
)

const maxBodySize = 5 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return internal.NewValidationError(internal.NewFieldError("", fmt.Sprintf("invalid json body: %s", err)))
	}
	return nil
}

// orderedColumns flattens a schema into the catalog's ordinal column order.
func orderedColumns(schema *internal.TableSchema) []internal.ColumnInfo {
	cols := make([]internal.ColumnInfo, 0, len(schema.Names))
	for _, name := range schema.Names {
		cols = append(cols, schema.Columns[name])
	}
	return cols
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tenant(w, r)
	if !ok {
		return
	}
	tables, err := s.registry.ListTenantTables(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	if tables == nil {
		tables = []internal.TableRegistration{}
	}
	sendData(w, http.StatusOK, tables)
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var def internal.TableDefinition
	if err := decodeBody(w, r, &def); err != nil {
		sendError(w, err)
		return
	}
	res, err := s.manager.CreateTable(r.Context(), id, &def)
	if err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusCreated, map[string]any{
		"tableName":     def.Name,
		"fullTableName": res.Registration.PhysicalTableName,
		"columns":       orderedColumns(res.Schema),
		"registration":  res.Registration,
	})
}

// registration resolves the table path segment to its registration row,
// checking it belongs to the tenant in the path.
func (s *Server) registration(r *http.Request, tenant int64, table string) (*internal.TableRegistration, error) {
	physical := s.registry.ResolveFullName(tenant, table)
	reg, found, err := s.registry.GetRegistration(r.Context(), physical)
	if err != nil {
		return nil, err
	}
	if !found || reg.TenantID != tenant {
		return nil, internal.NewNotFoundError("table", table)
	}
	return reg, nil
}

func (s *Server) describeTable(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	reg, err := s.registration(r, id, table)
	if err != nil {
		sendError(w, err)
		return
	}
	schema, err := catalog.LoadTableSchema(r.Context(), s.db, reg.PhysicalTableName)
	if err != nil {
		sendError(w, err)
		return
	}
	hash := catalog.Fingerprint(schema)
	etag := fmt.Sprintf("W/%q", hash)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	indexes, err := catalog.ListIndexes(r.Context(), s.db, reg.PhysicalTableName)
	if err != nil {
		sendError(w, internal.NewInternalError(err))
		return
	}
	count, err := catalog.RowCount(r.Context(), s.db, reg.PhysicalTableName)
	if err != nil {
		sendError(w, internal.NewInternalError(err))
		return
	}
	if indexes == nil {
		indexes = []catalog.Index{}
	}
	w.Header().Set("ETag", etag)
	sendData(w, http.StatusOK, map[string]any{
		"registration": reg,
		"columns":      orderedColumns(schema),
		"indexes":      indexes,
		"rowCount":     count,
		"schemaHash":   hash,
	})
}

func (s *Server) updateTable(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	var body struct {
		DisplayName *string `json:"displayName"`
		Description *string `json:"description"`
		APIEnabled  *bool   `json:"apiEnabled"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		sendError(w, err)
		return
	}
	if body.DisplayName == nil && body.Description == nil && body.APIEnabled == nil {
		sendError(w, internal.NewValidationError(internal.NewFieldError("", "no changes requested")))
		return
	}
	physical := s.registry.ResolveFullName(id, table)
	if err := s.registry.UpdateTable(r.Context(), physical, body.DisplayName, body.Description, body.APIEnabled); err != nil {
		sendError(w, err)
		return
	}
	reg, err := s.registration(r, id, table)
	if err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, reg)
}

func (s *Server) deleteTable(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("drop") == "true" {
		if err := s.manager.DropTable(r.Context(), id, table); err != nil {
			sendError(w, err)
			return
		}
		sendData(w, http.StatusOK, map[string]any{"table": table, "dropped": true})
		return
	}
	// without drop=true only the registration goes away; the physical table
	// stays and can be re-registered
	if _, err := s.registration(r, id, table); err != nil {
		sendError(w, err)
		return
	}
	physical := s.registry.ResolveFullName(id, table)
	if err := s.registry.Unregister(r.Context(), physical); err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, map[string]any{"table": table, "dropped": false})
}

func (s *Server) alterTable(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	var req ddl.AlterRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendError(w, err)
		return
	}
	schema, err := s.manager.AlterTable(r.Context(), id, table, &req)
	if err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, map[string]any{
		"tableName":  table,
		"columns":    orderedColumns(schema),
		"schemaHash": catalog.Fingerprint(schema),
	})
}

func (s *Server) renameTable(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	var body struct {
		Name        string  `json:"name"`
		DisplayName *string `json:"displayName"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		sendError(w, err)
		return
	}
	if body.Name == "" {
		sendError(w, internal.NewValidationError(internal.NewFieldError("name", "is required")))
		return
	}
	if err := s.manager.RenameTable(r.Context(), id, table, body.Name, body.DisplayName); err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, map[string]any{
		"tableName":     body.Name,
		"fullTableName": s.registry.ResolveFullName(id, body.Name),
	})
}

func (s *Server) getTableSchemaDoc(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	physical := s.registry.ResolveFullName(id, table)
	doc, found, err := s.registry.GetJSONSchema(r.Context(), physical)
	if err != nil {
		sendError(w, err)
		return
	}
	if !found {
		sendError(w, internal.NewNotFoundError("schema", table))
		return
	}
	sendData(w, http.StatusOK, json.RawMessage(doc))
}

func (s *Server) putTableSchemaDoc(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		sendError(w, internal.NewValidationError(internal.NewFieldError("", "unreadable body")))
		return
	}
	if err := s.schemas.Check(string(doc)); err != nil {
		sendError(w, internal.NewValidationError(internal.NewFieldError("schema", err.Error())))
		return
	}
	physical := s.registry.ResolveFullName(id, table)
	if err := s.registry.SetJSONSchema(r.Context(), physical, string(doc)); err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, map[string]any{"table": table, "attached": true})
}

func (s *Server) deleteTableSchemaDoc(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	physical := s.registry.ResolveFullName(id, table)
	if err := s.registry.SetJSONSchema(r.Context(), physical, ""); err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, map[string]any{"table": table, "attached": false})
}

func (s *Server) createIndex(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	var body struct {
		Columns []string `json:"columns"`
		Unique  bool     `json:"unique"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		sendError(w, err)
		return
	}
	name, err := s.manager.CreateIndex(r.Context(), id, table, body.Columns, body.Unique)
	if err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusCreated, map[string]any{
		"index":   name,
		"columns": body.Columns,
		"unique":  body.Unique,
	})
}

func (s *Server) dropIndex(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if err := s.manager.DropIndex(r.Context(), id, table, name); err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, map[string]any{"index": name, "dropped": true})
}
