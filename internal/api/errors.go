// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, code int, msg, detail string) {
	writeJSON(w, code, errorBody{Error: msg, Detail: detail})
}

// writeBadRequest writes a 400 Bad Request response
func writeBadRequest(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusBadRequest, "bad_request", detail)
}

// writeNotFound writes a 404 Not Found response
func writeNotFound(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusNotFound, "not_found", detail)
}

// writeInternal writes a 500 Internal Server Error response
func writeInternal(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusInternalServerError, "internal_error", detail)
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a single JSON value from the body, capped at limit bytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// validationDetail renders validator errors as "field: rule" pairs.
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			parts = append(parts, fmt.Sprintf("%s 필드가 필요합니다", fe.Field()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
