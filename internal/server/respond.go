package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", message)
	} else {
		slog.Debug("request rejected", "status", status, "error", message)
	}
	writeJSON(w, status, errorResponse{Error: errorDetail{Message: message, Type: errType}})
}

// readJSON decodes a size-limited request body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return false
	}
	return true
}
