package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/runs"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding errors are logged since the header is already out.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONStatus writes v with the given status code.
func writeJSONStatus(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, statusCode, ErrorResponse{Error: message})
}

// writeError maps err onto a status code and writes it.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		logging.Error("request failed: %v", err)
	}
	writeJSONStatus(w, status, ErrorResponse{Error: err.Error(), Kind: media.Kind(err)})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, runs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, media.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrAlreadyRunning), errors.Is(err, media.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, media.ErrNoVideoTrack):
		return http.StatusUnprocessableEntity
	case errors.Is(err, media.ErrUnsupportedCodec):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
