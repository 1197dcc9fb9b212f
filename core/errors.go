package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	IntegrationErrorBadInput            = "INTEGRATION_BAD_INPUT"
	IntegrationErrorConfigInvalid       = "INTEGRATION_CONFIG_INVALID"
	IntegrationErrorNotFound            = "INTEGRATION_NOT_FOUND"
	IntegrationErrorAuthFailed          = "INTEGRATION_AUTH_FAILED"
	IntegrationErrorClientStateMismatch = "INTEGRATION_CLIENT_STATE_MISMATCH"
	IntegrationErrorProviderUnavailable = "INTEGRATION_PROVIDER_UNAVAILABLE"
	IntegrationErrorRateLimited         = "INTEGRATION_RATE_LIMITED"
	IntegrationErrorProviderRejected    = "INTEGRATION_PROVIDER_REJECTED"
	IntegrationErrorRefreshLocked       = "INTEGRATION_REFRESH_LOCKED"
	IntegrationErrorPersistenceFailed   = "INTEGRATION_PERSISTENCE_FAILED"
	IntegrationErrorInternal            = "INTEGRATION_INTERNAL_ERROR"
)

func NewConfigurationError(message string) *goerrors.Error {
	return newIntegrationError(message, goerrors.CategoryValidation, IntegrationErrorConfigInvalid)
}

func NewAuthFailureError(message string) *goerrors.Error {
	return newIntegrationError(message, goerrors.CategoryAuth, IntegrationErrorAuthFailed)
}

func NewClientStateMismatchError(message string) *goerrors.Error {
	return newIntegrationError(message, goerrors.CategoryAuth, IntegrationErrorClientStateMismatch)
}

func NewTransientProviderError(message string) *goerrors.Error {
	return newIntegrationError(message, goerrors.CategoryOperation, IntegrationErrorProviderUnavailable)
}

func NewRateLimitedError(message string) *goerrors.Error {
	return newIntegrationError(message, goerrors.CategoryRateLimit, IntegrationErrorRateLimited)
}

func NewPermanentProviderError(message string) *goerrors.Error {
	return newIntegrationError(message, goerrors.CategoryOperation, IntegrationErrorProviderRejected)
}

func NewPersistenceError(message string) *goerrors.Error {
	return newIntegrationError(message, goerrors.CategoryInternal, IntegrationErrorPersistenceFailed)
}

func integrationErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIntegrationErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case errors.Is(err, ErrCredentialNotFound), errors.Is(err, ErrTriggerResourceNotFound):
		return newIntegrationError(err.Error(), goerrors.CategoryNotFound, IntegrationErrorNotFound)
	case strings.Contains(msg, "adapter") && strings.Contains(msg, "not registered"):
		return newIntegrationError(err.Error(), goerrors.CategoryNotFound, IntegrationErrorNotFound)
	case strings.Contains(msg, "client state"):
		return newIntegrationError(err.Error(), goerrors.CategoryAuth, IntegrationErrorClientStateMismatch)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newIntegrationError(err.Error(), goerrors.CategoryConflict, IntegrationErrorRefreshLocked)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newIntegrationError(err.Error(), goerrors.CategoryRateLimit, IntegrationErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newIntegrationError(err.Error(), goerrors.CategoryBadInput, IntegrationErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIntegrationErrorEnvelope(mapped)
}

func newIntegrationError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIntegrationErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIntegrationErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = integrationHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIntegrationTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIntegrationTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return IntegrationErrorBadInput
	case goerrors.CategoryValidation:
		return IntegrationErrorConfigInvalid
	case goerrors.CategoryNotFound:
		return IntegrationErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return IntegrationErrorAuthFailed
	case goerrors.CategoryConflict:
		return IntegrationErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return IntegrationErrorRateLimited
	case goerrors.CategoryOperation:
		return IntegrationErrorProviderRejected
	default:
		return IntegrationErrorInternal
	}
}

func integrationHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsAuthFailure reports whether a refresh failure requires user
// re-authorization rather than a retry.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return true
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case IntegrationErrorAuthFailed, "TOKEN_EXPIRED", "UNAUTHORIZED", "FORBIDDEN":
			return true
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "reauthorization required") ||
		strings.Contains(msg, "re-auth required")
}

// IsTransientFailure reports whether a provider failure is worth retrying.
func IsTransientFailure(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthFailure(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case IntegrationErrorProviderUnavailable, IntegrationErrorRateLimited:
			return true
		case IntegrationErrorProviderRejected, IntegrationErrorConfigInvalid, IntegrationErrorBadInput:
			return false
		}
		if richErr.Category == goerrors.CategoryRateLimit {
			return true
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "temporarily unavailable") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503") ||
		strings.Contains(msg, "status 504")
}

// IsRateLimited reports whether the provider signalled request throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Category == goerrors.CategoryRateLimit {
			return true
		}
		if strings.TrimSpace(strings.ToUpper(richErr.TextCode)) == IntegrationErrorRateLimited {
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "status 429")
}
