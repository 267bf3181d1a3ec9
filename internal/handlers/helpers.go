package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/kissaten/internal/apperr"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteAppError maps an engine error onto its HTTP status. Internal errors
// (500) are reported with a generic message; everything else carries the
// error text, which is safe to surface (validation/compile/not-found
// messages describe the request, not the system).
func WriteAppError(w http.ResponseWriter, err error) error {
	code := apperr.StatusCode(err)
	if code >= http.StatusInternalServerError {
		return WriteError(w, code, "internal server error")
	}
	return WriteError(w, code, err.Error())
}
