package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/engine"
)

// parseQuery translates the listing query string into an engine query. All
// parameter problems are collected into one validation error.
func parseQuery(r *http.Request) (engine.Query, error) {
	params := r.URL.Query()
	var q engine.Query
	var errs []internal.FieldError

	if raw := params.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errs = append(errs, internal.NewFieldError("page", "must be a positive integer"))
		} else {
			q.Page = n
		}
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errs = append(errs, internal.NewFieldError("limit", "must be a positive integer"))
		} else {
			q.PageSize = n
		}
	}
	q.OrderBy = params.Get("orderBy")
	switch params.Get("order") {
	case "", "asc":
	case "desc":
		q.Descending = true
	default:
		errs = append(errs, internal.NewFieldError("order", "must be asc or desc"))
	}
	q.Search = params.Get("search")

	fields := params["filterField"]
	operators := params["filterOperator"]
	values := params["filterValue"]
	if len(fields) != len(operators) || len(fields) != len(values) {
		errs = append(errs, internal.NewFieldError("filter", "filterField, filterOperator and filterValue must repeat together"))
	} else {
		for i := range fields {
			op := engine.Operator(operators[i])
			q.Filters = append(q.Filters, engine.Filter{
				Field:    fields[i],
				Operator: op,
				Value:    filterValue(op, values[i]),
			})
		}
	}
	if len(errs) > 0 {
		return q, internal.NewValidationError(errs...)
	}
	return q, nil
}

// filterValue shapes a raw query-string value for its operator. List
// operators split on commas; everything else passes through as text and the
// database casts it against the column type.
func filterValue(op engine.Operator, raw string) any {
	switch op {
	case engine.OpIn, engine.OpBetween:
		if raw == "" {
			return []any{}
		}
		parts := strings.Split(raw, ",")
		vals := make([]any, len(parts))
		for i, p := range parts {
			vals[i] = strings.TrimSpace(p)
		}
		return vals
	}
	return raw
}

func (s *Server) queryRecords(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		sendError(w, err)
		return
	}
	res, err := s.engine.QueryRecords(r.Context(), id, table, q)
	if err != nil {
		sendError(w, err)
		return
	}
	rows := res.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	sendPage(w, rows, Meta{
		Page:       res.Page,
		Limit:      res.PageSize,
		Total:      res.Count,
		TotalPages: res.TotalPages,
	})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	row, err := s.engine.GetRecordByID(r.Context(), id, table, r.PathValue("recordId"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, row)
}

// insertRecords accepts either a single object or an array of them. Arrays
// land in one all-or-nothing batch insert.
func (s *Server) insertRecords(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		sendError(w, internal.NewValidationError(internal.NewFieldError("", "unreadable body")))
		return
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(trimmed, &records); err != nil {
			sendError(w, internal.NewValidationError(internal.NewFieldError("", fmt.Sprintf("invalid json body: %s", err))))
			return
		}
		inserted, err := s.engine.InsertMany(r.Context(), id, table, records, nil)
		if err != nil {
			sendError(w, err)
			return
		}
		sendData(w, http.StatusCreated, map[string]any{"inserted": len(inserted), "rows": inserted})
		return
	}
	var data map[string]any
	if err := json.Unmarshal(trimmed, &data); err != nil {
		sendError(w, internal.NewValidationError(internal.NewFieldError("", fmt.Sprintf("invalid json body: %s", err))))
		return
	}
	row, err := s.engine.InsertRecord(r.Context(), id, table, data, nil)
	if err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusCreated, row)
}

func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	var data map[string]any
	if err := decodeBody(w, r, &data); err != nil {
		sendError(w, err)
		return
	}
	row, err := s.engine.UpdateRecord(r.Context(), id, table, r.PathValue("recordId"), data, nil)
	if err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, row)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, table, ok := s.tenantTable(w, r)
	if !ok {
		return
	}
	res, err := s.engine.DeleteRecord(r.Context(), id, table, r.PathValue("recordId"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendData(w, http.StatusOK, res)
}
