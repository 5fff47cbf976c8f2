// Package apperr defines the typed error kinds used across the API and the
// worker, and the HTTP status they map to at the handler boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status-code mapping and worker-side handling.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindExternalService Kind = "external_service"
	KindPipeline        Kind = "pipeline"
	KindTimeout         Kind = "timeout"
	KindCritical        Kind = "critical"
)

// Error wraps an underlying cause with a Kind used for status mapping and a
// human-readable message safe to return to a client.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error   { return New(KindNotFound, message) }
func Validation(message string) *Error { return New(KindValidation, message) }
func External(message string, err error) *Error {
	return Wrap(KindExternalService, message, err)
}
func Pipeline(message string, err error) *Error { return Wrap(KindPipeline, message, err) }
func Timeout(message string) *Error             { return New(KindTimeout, message) }
func Critical(message string, err error) *Error { return Wrap(KindCritical, message, err) }

// StatusCode maps a Kind to the HTTP status documented for it.
func StatusCode(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindExternalService:
		return http.StatusBadGateway
	case KindPipeline:
		return http.StatusInternalServerError
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCritical:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As reports whether err is an *Error of the given Kind.
func As(err error, kind Kind) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == kind
}
