package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for request-level failures. Chat-level failures carry
// their own codes from types.ChatError.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeChatError maps a controller error onto an HTTP response,
// preserving the chat error code when one is present.
func writeChatError(w http.ResponseWriter, err error) {
	var chatErr *types.ChatError
	if errors.As(err, &chatErr) {
		status := http.StatusConflict
		switch chatErr.Code {
		case types.ErrCodeLoad:
			status = http.StatusNotFound
		case types.ErrCodeDelete, types.ErrCodeProvider:
			status = http.StatusInternalServerError
		}
		writeError(w, status, string(chatErr.Code), chatErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
