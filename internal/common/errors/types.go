package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth represents authentication errors
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"

	// ErrTypeUnknownProvider is returned when a provider key is not registered
	ErrTypeUnknownProvider ErrorType = "unknown_provider"
	// ErrTypeInvalidState covers missing, expired and replayed CSRF states
	ErrTypeInvalidState ErrorType = "invalid_state"
	// ErrTypeExchange is returned when the provider rejects an authorization code
	ErrTypeExchange ErrorType = "exchange_failed"
	// ErrTypeRefresh is returned when a provider refresh call fails
	ErrTypeRefresh ErrorType = "refresh_failed"
	// ErrTypeRevocation is returned when provider-side revocation fails
	ErrTypeRevocation ErrorType = "revocation_failed"
	// ErrTypeNotConnected is returned when a user has no token for a provider
	ErrTypeNotConnected ErrorType = "not_connected"
)

// Refresh failure codes. The code decides whether the user must reauthorize.
const (
	CodeInvalidGrant = "invalid_grant"
	CodeTransient    = "transient"
)

// CodeRejected marks a definitive 4xx answer from a provider. Such answers
// say nothing about provider health.
const CodeRejected = "rejected"

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// AuthError creates a new authentication error
func AuthError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// UnknownProviderError reports a provider key missing from the registry
func UnknownProviderError(providerKey string) *AppError {
	return (&AppError{
		Type:    ErrTypeUnknownProvider,
		Message: fmt.Sprintf("provider %q is not registered", providerKey),
	}).WithContext("provider", providerKey)
}

// InvalidStateError reports a CSRF state that is unknown, expired or already used
func InvalidStateError() *AppError {
	return &AppError{
		Type:    ErrTypeInvalidState,
		Message: "authorization state is invalid or expired",
	}
}

// ExchangeError reports a failed authorization code exchange
func ExchangeError(providerKey string, cause error) *AppError {
	return (&AppError{
		Type:    ErrTypeExchange,
		Message: "authorization code exchange failed",
		Cause:   cause,
	}).WithContext("provider", providerKey)
}

// RefreshError reports a failed token refresh. invalidGrant marks failures
// that only a new authorization can fix.
func RefreshError(providerKey string, invalidGrant bool, cause error) *AppError {
	code := CodeTransient
	if invalidGrant {
		code = CodeInvalidGrant
	}
	return (&AppError{
		Type:    ErrTypeRefresh,
		Message: "token refresh failed",
		Code:    code,
		Cause:   cause,
	}).WithContext("provider", providerKey)
}

// RevocationError reports a failed provider-side revocation
func RevocationError(providerKey string, cause error) *AppError {
	return (&AppError{
		Type:    ErrTypeRevocation,
		Message: "token revocation failed",
		Cause:   cause,
	}).WithContext("provider", providerKey)
}

// NotConnectedError reports a missing connection for a provider
func NotConnectedError(providerKey string) *AppError {
	return (&AppError{
		Type:    ErrTypeNotConnected,
		Message: fmt.Sprintf("service %q is not connected", providerKey),
	}).WithContext("provider", providerKey)
}

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// GetCode returns the code of the first AppError in err's chain
func GetCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// IsInvalidGrant reports whether err is a refresh failure requiring reauthorization
func IsInvalidGrant(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == ErrTypeRefresh && appErr.Code == CodeInvalidGrant
}
