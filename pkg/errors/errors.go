package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target is an AppError carrying the same code, so copies produced by
// WithInternal still match their sentinel.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AppError)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// Account ownership proof failures.
var (
	ErrMissingParameters = &AppError{
		Code:       "ownership.missing_parameters",
		Message:    "You must provide an accountId, blockNumber, and blockNumberSignature",
		StatusCode: http.StatusForbidden,
	}
	ErrBlockHeightStale = &AppError{
		Code:       "ownership.block_height_stale",
		Message:    "You must provide a blockNumber within 100 of the most recent block",
		StatusCode: http.StatusForbidden,
	}
	ErrSignatureMismatch = &AppError{
		Code:       "ownership.signature_mismatch",
		Message:    "You must sign the blockNumber with a full access key or a key limited to wallet methods",
		StatusCode: http.StatusForbidden,
	}
)

// Two-factor setup state errors.
var (
	ErrInvalidMethodKind = &AppError{
		Code:       "2fa.invalid_method_kind",
		Message:    "invalid 2fa method",
		StatusCode: http.StatusUnauthorized,
	}
	ErrAlreadyConfigured = &AppError{
		Code:       "2fa.already_configured",
		Message:    "account already has 2fa",
		StatusCode: http.StatusUnauthorized,
	}
	ErrNoActive2FA = &AppError{
		Code:       "2fa.not_enabled",
		Message:    "account does not have 2fa enabled",
		StatusCode: http.StatusUnauthorized,
	}
)

// Security code validation errors. Each kind carries its own message so clients can branch.
var (
	ErrMalformedCode = &AppError{
		Code:       "code.malformed",
		Message:    "security code must be 6 digits",
		StatusCode: http.StatusUnauthorized,
	}
	ErrMethodNotFound = &AppError{
		Code:       "code.method_not_found",
		Message:    "recovery method not found or no code pending",
		StatusCode: http.StatusUnauthorized,
	}
	ErrCodeMismatch = &AppError{
		Code:       "code.mismatch",
		Message:    "security code not valid",
		StatusCode: http.StatusUnauthorized,
	}
	ErrRequestIDMismatch = &AppError{
		Code:       "code.request_id_mismatch",
		Message:    "security code not valid for request id",
		StatusCode: http.StatusUnauthorized,
	}
	ErrCodeExpired = &AppError{
		Code:       "code.expired",
		Message:    "security code expired",
		StatusCode: http.StatusUnauthorized,
	}
	ErrRequestNotFound = &AppError{
		Code:       "2fa.request_not_found",
		Message:    "could not find request id",
		StatusCode: http.StatusUnauthorized,
	}
	ErrChainConfirmFailed = &AppError{
		Code:       "chain.confirm_failed",
		Message:    "confirm transaction failed",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}

// RequestNotFound reports a failed chain lookup for a pending multisig request. The transport
// error text is appended to the client-facing message.
func RequestNotFound(err error) *AppError {
	appErr := ErrRequestNotFound.WithInternal(err)
	if err != nil {
		appErr.Message = fmt.Sprintf("%s: %s", ErrRequestNotFound.Message, err.Error())
	}
	return appErr
}

// ChainConfirmFailed surfaces an on-chain confirm failure that happened after the code was consumed.
// The chain error text is passed through unmodified.
func ChainConfirmFailed(err error) *AppError {
	appErr := ErrChainConfirmFailed.WithInternal(err)
	if err != nil {
		appErr.Message = err.Error()
	}
	return appErr
}
