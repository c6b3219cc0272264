package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error with a client-facing status, stable machine code
// and message. Handlers map anything else to a generic 500.
//
// Codes in use: VALIDATION_ERROR, INVALID_OTP, UNAUTHORIZED, NOT_FOUND,
// INVALID_BODY, SERVER_ERROR.
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// invalidOTPError deliberately does not distinguish wrong from expired codes.
func invalidOTPError() *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_OTP", "Invalid or expired code", nil)
}
