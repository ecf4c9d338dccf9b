package internal

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeNetwork      ErrorType = "NETWORK_ERROR"
	ErrorTypeRejected     ErrorType = "REJECTED"
	ErrorTypeIncomplete   ErrorType = "INCOMPLETE"
	ErrorTypeTimedOut     ErrorType = "TIMED_OUT"
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeFormIncomplete   ErrorCode = "FORM_INCOMPLETE"
	ErrCodeInvalidMethod    ErrorCode = "INVALID_METHOD"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"

	ErrCodeOrderNotFound   ErrorCode = "ORDER_NOT_FOUND"
	ErrCodePaymentNotFound ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	ErrCodeTransport       ErrorCode = "TRANSPORT_FAILED"
	ErrCodeBadResponse     ErrorCode = "BAD_RESPONSE"
	ErrCodeAuthentication  ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodePaymentRejected ErrorCode = "PAYMENT_REJECTED"
	ErrCodePollTimedOut    ErrorCode = "POLL_TIMED_OUT"

	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeSessionClosed     ErrorCode = "SESSION_CLOSED"
	ErrCodeTooManySessions   ErrorCode = "TOO_MANY_SESSIONS"
	ErrCodeAlreadyPolling    ErrorCode = "ALREADY_POLLING"

	ErrCodeInvalidVPA       ErrorCode = "INVALID_VPA"
	ErrCodeInvalidCard      ErrorCode = "INVALID_CARD"
	ErrCodeExpiredCard      ErrorCode = "EXPIRED_CARD"
	ErrCodeInvalidCVV       ErrorCode = "INVALID_CVV"
	ErrCodeOrderAlreadyPaid ErrorCode = "ORDER_ALREADY_PAID"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// GetDetailedMessage is the text shown to the payer; it never includes the cause.
func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Fields lists the field names carried by the validation details.
func (v ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		fields = append(fields, e.Field)
	}
	return fields
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewNetworkError covers transport and authentication failures against the backend.
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Code:       ErrCodeTransport,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewRejectedError carries the backend's human readable decline reason as Message.
func NewRejectedError(reason string, code ErrorCode) *AppError {
	if reason == "" {
		reason = "Payment failed. Please try again."
	}
	if code == "" {
		code = ErrCodePaymentRejected
	}
	return &AppError{
		Type:       ErrorTypeRejected,
		Code:       code,
		Message:    reason,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewIncompleteError(missing ValidationErrors) *AppError {
	return &AppError{
		Type:       ErrorTypeIncomplete,
		Code:       ErrCodeFormIncomplete,
		Message:    "Please fill in all required fields",
		StatusCode: http.StatusBadRequest,
		Details:    missing,
	}
}

func NewTimedOutError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimedOut,
		Code:       ErrCodePollTimedOut,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

var (
	ErrSessionNotFound = NewNotFoundError("Checkout session not found", ErrCodeSessionNotFound)
	ErrSessionClosed   = NewConflictError("Checkout session is closed", ErrCodeSessionClosed)
	ErrTooManySessions = NewConflictError("Too many active checkout sessions", ErrCodeTooManySessions)
	ErrAlreadyPolling  = NewConflictError("Status poller already started", ErrCodeAlreadyPolling)
	ErrInvalidAPIKey   = NewUnauthorizedError("Invalid API credentials", ErrCodeAuthentication)
)

// IsAppError unwraps err until it finds an *AppError.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Type == t
}

// UserMessage returns the payer-facing text for any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := IsAppError(err); ok {
		return appErr.GetDetailedMessage()
	}
	return "Something went wrong. Please try again."
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
