// Package errs defines the error kinds surfaced by every entrypoint.
//
// Each failure carries a stable Kind (safe to show to clients and to switch
// on) plus a human readable detail. Wrapped causes stay reachable through
// errors.Is / errors.As.
package errs

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindIngestion             Kind = "IngestionError"
	KindRetrievalUnavailable  Kind = "RetrievalUnavailable"
	KindGenerationUnavailable Kind = "GenerationUnavailable"
	KindSchemaValidation      Kind = "SchemaValidationFailed"
	KindSessionNotFound       Kind = "SessionNotFound"
	KindInvalidInput          Kind = "InvalidInput"
	KindUnauthorized          Kind = "Unauthorized"
	KindConflict              Kind = "Conflict"
	KindInternal              Kind = "Internal"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrIngestion             = &Error{Kind: KindIngestion, Detail: "document could not be ingested"}
	ErrRetrievalUnavailable  = &Error{Kind: KindRetrievalUnavailable, Detail: "retrieval service unavailable"}
	ErrGenerationUnavailable = &Error{Kind: KindGenerationUnavailable, Detail: "generation service unavailable"}
	ErrSchemaValidation      = &Error{Kind: KindSchemaValidation, Detail: "generated output does not match schema"}
	ErrSessionNotFound       = &Error{Kind: KindSessionNotFound, Detail: "chat session not found"}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput, Detail: "invalid input"}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized, Detail: "unauthorized"}
	ErrConflict              = &Error{Kind: KindConflict, Detail: "already exists"}
)

type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Detail
	}
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Detail + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSessionNotFound)
// works regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status code handlers respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindIngestion, KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindSchemaValidation:
		return http.StatusUnprocessableEntity
	case KindRetrievalUnavailable, KindGenerationUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing detail for err. Internal failures are
// reduced to a generic text so driver errors never leak to callers.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Error()
	}
	return "internal server error"
}
