package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string         `json:"error"`             // Human-readable message
	Kind    string         `json:"kind"`              // Machine-readable error kind
	Details map[string]any `json:"details,omitempty"` // Validation or conflict details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message, Kind: KindValidation}
	if statusCode >= http.StatusInternalServerError {
		errorResp.Kind = KindInternal
	}
	if validationErr != nil {
		errorResp.Details = make(map[string]any)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendPayoutError maps a service error onto the HTTP response, carrying its
// machine-readable kind and any structured detail.
func SendPayoutError(w http.ResponseWriter, err error) {
	kind := ErrorKind(err)

	status := http.StatusInternalServerError
	message := "Internal server error"
	switch kind {
	case KindValidation:
		status = http.StatusBadRequest
		message = err.Error()
	case KindNotFound:
		status = http.StatusNotFound
		message = err.Error()
	case KindConflict, KindExpired:
		status = http.StatusConflict
		message = err.Error()
	case KindForbidden:
		status = http.StatusForbidden
		message = err.Error()
	case KindRateLimited:
		status = http.StatusTooManyRequests
		message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Kind:    kind,
		Details: ErrorDetails(err),
	})
}
