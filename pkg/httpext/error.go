package httpext

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents a standardised JSON error response
type ErrorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// JsonError writes a JSON error response with the specified status code
func JsonError(w http.ResponseWriter, message string, code int) {
	JsonErrorWithDetails(w, code, ErrorResponse{Error: message})
}

// JsonKindError writes a JSON error response tagged with a machine readable error kind
func JsonKindError(w http.ResponseWriter, kind, message string, code int) {
	JsonErrorWithDetails(w, code, ErrorResponse{Error: message, Code: kind})
}

// JsonErrorWithDetails writes a detailed JSON error response
func JsonErrorWithDetails(w http.ResponseWriter, code int, errResp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", code).Msg("Failed to encode response")
	}
}
