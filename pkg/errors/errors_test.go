package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"rillrec/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	assert.Equal(t, originalErr, err.Cause)
	assert.Contains(t, err.Error(), "original error")
	assert.ErrorIs(t, err, originalErr)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	assert.Equal(t, "value", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("bad"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("channel"), ErrCodeNotFound, http.StatusNotFound},
		{NewConflictError("busy"), ErrCodeConflict, http.StatusConflict},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("boom"), ErrCodeInternal, http.StatusInternalServerError},
		{NewServiceUnavailableError("full"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
	assert.Equal(t, "channel not found", NewNotFoundError("channel").Message)
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrChannelNotFound, http.StatusNotFound},
		{fmt.Errorf("leave: %w", domain.ErrParticipantNotFound), http.StatusNotFound},
		{domain.ErrProducerNotFound, http.StatusNotFound},
		{domain.ErrInvalidName, http.StatusBadRequest},
		{domain.ErrInvalidStreamKind, http.StatusBadRequest},
		{domain.ErrRecordingDisabled, http.StatusConflict},
		{fmt.Errorf("create: %w", domain.ErrNoWorkersAvailable), http.StatusServiceUnavailable},
		{domain.ErrNoPortAvailable, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := FromDomain(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}

	assert.Nil(t, FromDomain(nil))
	existing := NewRateLimitError()
	assert.Same(t, existing, FromDomain(fmt.Errorf("wrapped: %w", existing)))
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(NewAppError(ErrCodeInvalidInput, "test", 400)))
	assert.False(t, IsAppError(errors.New("regular error")))
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	assert.Same(t, appErr, GetAppError(appErr))
	assert.Same(t, appErr, GetAppError(fmt.Errorf("context: %w", appErr)))
	assert.Nil(t, GetAppError(errors.New("regular error")))
	assert.Nil(t, GetAppError(nil))
}
