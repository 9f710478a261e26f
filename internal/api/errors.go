package api

import (
	"errors"
	"net/http"
)

// AppError is an error with an HTTP status and a machine-readable reason.
type AppError struct {
	Code    int            `json:"-"`
	Message string         `json:"error"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

var (
	ErrBadRequest         = &AppError{Code: http.StatusBadRequest, Message: "bad request", Reason: "bad_request"}
	ErrUnauthorized       = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized", Reason: "unauthorized"}
	ErrForbidden          = &AppError{Code: http.StatusForbidden, Message: "forbidden", Reason: "forbidden"}
	ErrNotFound           = &AppError{Code: http.StatusNotFound, Message: "not found", Reason: "not_found"}
	ErrConflict           = &AppError{Code: http.StatusConflict, Message: "conflict", Reason: "conflict"}
	ErrTooManyRequests    = &AppError{Code: http.StatusTooManyRequests, Message: "too many requests", Reason: "rate_limited"}
	ErrInternalServer     = &AppError{Code: http.StatusInternalServerError, Message: "internal server error", Reason: "internal"}
	ErrInvalidCredentials = &AppError{Code: http.StatusUnauthorized, Message: "invalid email or password", Reason: "invalid_credentials"}
	ErrEmailAlreadyExists = &AppError{Code: http.StatusConflict, Message: "email already registered", Reason: "email_taken"}
	ErrInvalidToken       = &AppError{Code: http.StatusUnauthorized, Message: "invalid token", Reason: "invalid_token"}
	ErrTokenExpired       = &AppError{Code: http.StatusUnauthorized, Message: "access token expired", Reason: "token_expired"}
	ErrValidation         = &AppError{Code: http.StatusBadRequest, Message: "validation error", Reason: "invalid_input"}
	ErrQuotaUnavailable   = &AppError{Code: http.StatusServiceUnavailable, Message: "quota store unavailable", Reason: "quota_unavailable"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg, Reason: "bad_request"}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg, Reason: "not_found"}
}

func NewConflictError(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg, Reason: "conflict"}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg, Reason: "invalid_input"}
}

// NewError builds an AppError with an explicit reason code.
func NewError(code int, reason, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Reason: reason}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Code, Response{Error: appErr.Message, Reason: appErr.Reason, Details: appErr.Details})
		return
	}
	writeJSON(w, http.StatusInternalServerError, Response{Error: "internal server error", Reason: "internal"})
}
