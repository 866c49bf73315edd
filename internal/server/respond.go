package server

import (
	"encoding/json"
	"net/http"

	"github.com/gridbase/gridbase/internal"
)

// Meta is the pagination block attached to list responses.
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type envelope struct {
	Success bool                  `json:"success"`
	Data    any                   `json:"data,omitempty"`
	Error   string                `json:"error,omitempty"`
	Fields  []internal.FieldError `json:"errors,omitempty"`
	Meta    *Meta                 `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sendData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func sendPage(w http.ResponseWriter, rows any, meta Meta) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: rows, Meta: &meta})
}

func sendStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

// sendError maps a typed error onto its status code. Validation errors carry
// the collected field violations in the body.
func sendError(w http.ResponseWriter, err error) {
	body := envelope{Success: false, Error: err.Error()}
	if v, ok := internal.AsValidation(err); ok {
		body.Fields = v.Fields
	}
	writeJSON(w, internal.ErrorStatusCode(err), body)
}
