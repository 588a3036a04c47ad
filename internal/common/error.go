// Package common defines shared constants and errors used across the
// owconnect server. Callers should use errors.Is / errors.As to match them.
package common

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error is a coded error carrying the transport status it maps to.
type Error struct {
	Status int
	Code   string
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

var (
	// Repository-level errors.
	ErrorNotFound      = &Error{Status: http.StatusNotFound, Code: "ENTITY_NOT_FOUND", Msg: "entity not found"}
	ErrVersionConflict = &Error{Status: http.StatusConflict, Code: "VERSION_CONFLICT", Msg: "version conflict"}
	ErrDuplicateCode   = &Error{Status: http.StatusConflict, Code: "DUPLICATE_CODE", Msg: "code already taken"}
	ErrAlreadyExists   = &Error{Status: http.StatusConflict, Code: "ALREADY_EXISTS", Msg: "already exists"}
	ErrCodeOverflow    = &Error{Status: http.StatusInternalServerError, Code: "CODE_OVERFLOW", Msg: "code space exhausted"}

	// Service-level errors.
	ErrorInternal = errors.New("internal error")

	// Authentication gate and session errors.
	ErrNoAccessToken       = &Error{Status: http.StatusUnauthorized, Code: "NO_ACCESS_TOKEN", Msg: "No access token!"}
	ErrInvalidAccessToken  = &Error{Status: http.StatusUnauthorized, Code: "INVALID_ACCESS_TOKEN", Msg: "Invalid access token!"}
	ErrRefreshRequired     = &Error{Status: http.StatusUnauthorized, Code: "REFRESH_TOKEN", Msg: "Client needs to refresh the tokens!"}
	ErrAllTokensExpired    = &Error{Status: http.StatusUnauthorized, Code: "ALL_TOKENS_EXPIRED", Msg: "All tokens are expired!"}
	ErrInvalidRefreshToken = &Error{Status: http.StatusUnauthorized, Code: "INVALID_REFRESH_TOKEN", Msg: "This refresh token is invalid!"}
	ErrInvalidCredentials  = &Error{Status: http.StatusUnauthorized, Code: "INVALID_CREDENTIALS", Msg: "Invalid username or password!"}

	// Token parsing errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// NotFoundError reports a lookup that matched nothing. It unwraps to ErrorNotFound.
type NotFoundError struct {
	Collection string
	Query      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: entity not found (query: %s)", e.Collection, e.Query)
}

func (e *NotFoundError) Unwrap() error { return ErrorNotFound }

// ValidationError carries per-field messages for rejected input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StatusOf returns the transport status for err, 500 when it carries none.
func StatusOf(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the machine-readable code for err.
func CodeOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "VALIDATION_ERROR"
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return "INTERNAL_ERROR"
}
