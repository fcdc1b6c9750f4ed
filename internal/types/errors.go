package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField        ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidRequest      ErrorCode = "validation_invalid_request"
	ErrCodeValidationInvalidAmount       ErrorCode = "validation_invalid_amount"
	ErrCodeValidationInvalidPurchaseType ErrorCode = "validation_invalid_purchase_type"
	ErrCodeValidationMissingIdentifier   ErrorCode = "validation_missing_identifier"
	ErrCodeValidationInvalidEmail        ErrorCode = "validation_invalid_email"
	ErrCodeValidationUnknownPersona      ErrorCode = "validation_unknown_persona"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenExpired ErrorCode = "auth_token_expired"

	// Permission (403)
	ErrCodePermissionPersonaLocked ErrorCode = "permission_persona_locked"
	ErrCodePermissionAccountOnly   ErrorCode = "permission_account_required"

	// Limits (429)
	ErrCodeLimitDailyMessages ErrorCode = "limit_daily_messages_exceeded"
	ErrCodeRateLimit          ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundSubject  ErrorCode = "not_found_subject"
	ErrCodeNotFoundPersona  ErrorCode = "not_found_persona"
	ErrCodeNotFoundCustomer ErrorCode = "not_found_billing_customer"
	ErrCodeNotFoundRoute    ErrorCode = "not_found_route"

	// Conflict (409)
	ErrCodeConflictDuplicateSend ErrorCode = "conflict_duplicate_send"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamLLM         ErrorCode = "upstream_llm_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"

	// Payment-specific
	ErrCodePaymentDeclined ErrorCode = "payment_declined"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "limit_"), s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodePaymentDeclined):
		return http.StatusPaymentRequired // 402
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// Retryable reports whether a caller (or an upstream redelivery mechanism)
// should try the operation again.
func (c ErrorCode) Retryable() bool {
	s := string(c)
	return strings.HasPrefix(s, "internal_") || strings.HasPrefix(s, "upstream_")
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// Domain sentinels. Repositories return these; callers compare with errors.Is.
var (
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrMissingIdentifier = errors.New("no subject id or email")
	ErrDuplicateEvent    = errors.New("payment event already processed")
)

// NewQuotaExceeded builds the 429 error returned when a subject has no
// messages left for the day.
func NewQuotaExceeded(limit int) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeLimitDailyMessages,
		"daily message limit reached",
		nil,
		map[string]any{"remaining": 0, "limit": limit},
	)
}

// NewPersistenceFailure wraps a store error so it surfaces as a retryable 500.
func NewPersistenceFailure(op string, err error) *AppError {
	return NewAppError(ErrCodeInternalDB, op, err)
}
