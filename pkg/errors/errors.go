package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers
// and logged with a stable code.
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

// Is matches AppErrors by code, so sentinel comparisons keep working on the
// copies WithInternal produces.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
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

// Relay errors. Decode failures and unknown message types are recovered
// per-message at the connection handler; the codes here exist so logs stay
// grep-able, not so clients ever see a structured error frame.
var (
	ErrBadFrame = &AppError{
		Code:       "protocol.bad_frame",
		Message:    "Malformed or truncated protocol frame",
		StatusCode: http.StatusBadRequest,
	}

	ErrUnknownMessage = &AppError{
		Code:       "protocol.unknown_message",
		Message:    "Unknown message type",
		StatusCode: http.StatusBadRequest,
	}

	ErrBadUpdate = &AppError{
		Code:       "replica.bad_update",
		Message:    "Update bytes could not be merged",
		StatusCode: http.StatusBadRequest,
	}

	ErrRoomClosed = &AppError{
		Code:       "relay.room_closed",
		Message:    "Room has been evicted",
		StatusCode: http.StatusGone,
	}

	ErrUpgradeFailed = &AppError{
		Code:       "relay.upgrade_failed",
		Message:    "WebSocket upgrade failed",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
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
