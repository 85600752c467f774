package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/engine"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	RuleID int64  `json:"rule_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto status codes. Store failures never
// leak driver details to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *common.ValidationError
	status := http.StatusInternalServerError
	body := errorBody{Error: "internal error"}

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusUnprocessableEntity
		body = errorBody{Error: validationErr.Reason, Field: validationErr.Field}
	case errors.Is(err, common.ErrValidation):
		status = http.StatusUnprocessableEntity
		body.Error = err.Error()
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
		body.Error = err.Error()
	case errors.Is(err, common.ErrConflict):
		status = http.StatusConflict
		body.Error = err.Error()
	case errors.Is(err, common.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		body.Error = common.UserMessage(err)
	}

	var notApplied *engine.RuleNotAppliedError
	if errors.As(err, &notApplied) {
		body.RuleID = notApplied.RuleID
	}

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.NewValidationError("body", "malformed JSON: %v", err)
	}
	return nil
}

func ruleIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, common.NewValidationError("id", "must be a positive integer, got %q", raw)
	}
	return id, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, common.NewValidationError(name, "must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, common.NewValidationError(name, "must be a boolean, got %q", raw)
	}
	return b, nil
}

func customerParam(r *http.Request) string {
	return chi.URLParam(r, "customer")
}

type idBody struct {
	ID int64 `json:"id"`
}
