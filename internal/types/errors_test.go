package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorFormat(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFoundSubject, "subject not found", nil)
	assert.Equal(t, "not_found_subject: subject not found", appErr.Error())
}

func TestAppError_UnwrapChain(t *testing.T) {
	underlying := errors.New("connection reset")
	appErr := NewPersistenceFailure("failed to record payment", underlying)
	wrapped := fmt.Errorf("reconcile: %w", appErr)

	var target *AppError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ErrCodeInternalDB, target.Code)
	assert.True(t, errors.Is(wrapped, underlying))
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidAmount, http.StatusBadRequest},
		{ErrCodeValidationInvalidPurchaseType, http.StatusBadRequest},
		{ErrCodeValidationMissingIdentifier, http.StatusBadRequest},
		{ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{ErrCodePermissionPersonaLocked, http.StatusForbidden},
		{ErrCodeLimitDailyMessages, http.StatusTooManyRequests},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeNotFoundSubject, http.StatusNotFound},
		{ErrCodeConflictDuplicateSend, http.StatusConflict},
		{ErrCodePaymentDeclined, http.StatusPaymentRequired},
		{ErrCodeUpstreamStripe, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestErrorCode_Retryable(t *testing.T) {
	assert.True(t, ErrCodeInternalDB.Retryable())
	assert.True(t, ErrCodeUpstreamLLM.Retryable())
	assert.False(t, ErrCodeNotFoundSubject.Retryable())
	assert.False(t, ErrCodeLimitDailyMessages.Retryable())
}

func TestNewQuotaExceeded_Details(t *testing.T) {
	err := NewQuotaExceeded(5)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
	assert.Equal(t, 0, err.Details["remaining"])
	assert.Equal(t, 5, err.Details["limit"])
}

func TestAppError_WithDetailsDoesNotMutate(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeValidationInvalidAmount, "bad amount", nil, map[string]any{"min": 100})
	extended := base.WithDetails(map[string]any{"max": 50000})

	assert.Len(t, base.Details, 1)
	assert.Equal(t, 100, extended.Details["min"])
	assert.Equal(t, 50000, extended.Details["max"])
}
