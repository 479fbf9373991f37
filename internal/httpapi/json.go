package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/validate"
)

// JSON request bodies are small: a message or a recommendation preview.
const maxJSONBodyBytes = 64 << 10

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Field   mediaplan.Field `json:"field,omitempty"`
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeValidationError reports a rejected field value with the validator's
// code, e.g. "InvalidBudget". It returns false when err is not a validation
// failure so the caller can fall back to its own envelope.
func writeValidationError(w http.ResponseWriter, err error) bool {
	var validationErr *validate.ValidationError
	if !errors.As(err, &validationErr) {
		return false
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
		Code:    string(validationErr.Code),
		Message: validationErr.Reason,
		Field:   validationErr.Field,
	}})
	return true
}
