package app

import (
	"fmt"
	"net/http"

	"association/api/internal/activity"
)

const (
	codeUnauthorized           = "UNAUTHORIZED"
	codeForbidden              = "FORBIDDEN"
	codeValidation             = "VALIDATION_ERROR"
	codeNotFound               = "NOT_FOUND"
	codeConcurrentModification = "CONCURRENT_MODIFICATION"

	// reasonReferenceResolution is reported in Details.reason when a
	// submitted organ, company or category cannot be used.
	reasonReferenceResolution = "REFERENCE_RESOLUTION_FAILED"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, codeForbidden, message, nil)
}

func validationFailed(message string, fields []activity.FieldError) *DomainError {
	var details any
	if len(fields) > 0 {
		details = map[string]any{"fields": fields}
	}
	return domainError(http.StatusUnprocessableEntity, codeValidation, message, details)
}

// referenceFailed reports an organ, company or category that could not be
// resolved. status is 403 when the reference exists but the actor may not
// use it, 422 when it does not exist.
func referenceFailed(status int, field string, id int64) *DomainError {
	code := codeValidation
	if status == http.StatusForbidden {
		code = codeForbidden
	}
	return domainError(status, code, fmt.Sprintf("%s %d cannot be used", field, id), map[string]any{
		"reason": reasonReferenceResolution,
		"field":  field,
		"id":     id,
	})
}
