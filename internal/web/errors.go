package web

// errors.go provides unified error response handling for the web layer.
//
// Technical errors are logged server-side with the request ID for
// correlation; clients get the user-facing rendering from core.MapError
// with a stable code and a suggested action, never raw internals.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fieldops/meterwatch/internal/core"
	"github.com/fieldops/meterwatch/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError maps an engine error onto an HTTP response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	userMsg := core.MapError(err)
	status := httpStatus(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// httpStatus picks the response status for an engine error.
func httpStatus(err error) int {
	var de *core.DuplicateError
	switch {
	case errors.As(err, &de):
		return http.StatusConflict
	case errors.Is(err, core.ErrRequestNotFound):
		return http.StatusNotFound
	}
	var se *core.StorageError
	if errors.As(err, &se) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes a JSON error response with a plain message. Used for
// request-shape problems before any engine call is made.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
