// Package handler implements the JSON API. Every response is wrapped in the
// success envelope: {"success": true, "data": ...} or {"success": false,
// "error": "...", "issues": [...]?}. Handlers validate inline, delegate to
// stores, and log failures server-side while returning generic messages.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Issue is one field-level validation failure.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeIssues(w http.ResponseWriter, message string, issues []Issue) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   message,
		"issues":  issues,
	})
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseDate reads a YYYY-MM-DD value into a UTC midnight time.
func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// parseDatePtr converts an optional date string, mapping empty to nil.
func parseDatePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
