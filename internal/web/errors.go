package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err), or respondErrorStatus to force a status
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error + context is logged with request ID for correlation
//  5. User message is returned as JSON

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/cdmmerge/internal/core"
	"github.com/JonMunkholm/cdmmerge/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError maps err to a user message and a status derived from its code.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	respondMessage(w, r, err, msg, statusForCode(msg.Code))
}

// respondErrorStatus is respondError with an explicit status.
func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	respondMessage(w, r, err, core.MapError(err), status)
}

func respondMessage(w http.ResponseWriter, r *http.Request, err error, msg core.UserMessage, status int) {
	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusForCode picks the HTTP status for a UserMessage code.
func statusForCode(code string) int {
	switch {
	case code == "FILE001" || code == "VAL002":
		return http.StatusRequestEntityTooLarge
	case strings.HasPrefix(code, "VAL"), strings.HasPrefix(code, "FILE"):
		return http.StatusBadRequest
	case code == "RATE001":
		return http.StatusTooManyRequests
	case code == "RUN001":
		return http.StatusRequestTimeout
	case code == "RUN002":
		return http.StatusGatewayTimeout
	case strings.HasPrefix(code, "PROV"), strings.HasPrefix(code, "CACHE"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
