package server

import (
	"encoding/json"
	"net/http"

	"github.com/yabot-dev/yabot/pkg/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ErrorInfo `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: types.ErrorInfo{Code: code, Message: message}})
}

// writeErr writes err in the error envelope with a status derived from its
// code.
func writeErr(w http.ResponseWriter, err error) {
	info := types.InfoOf(err)
	writeJSON(w, statusFor(info.Code), ErrorResponse{Error: *info})
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeBadRequest, types.CodeInvalidArguments:
		return http.StatusBadRequest
	case types.CodeBusy:
		return http.StatusConflict
	case types.CodeNotAllowed, types.CodeDenied:
		return http.StatusForbidden
	case types.CodeModelUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
