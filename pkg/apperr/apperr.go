// Package apperr defines the pipeline's error taxonomy and maps each kind to
// a stable public code, message and HTTP status. Internal detail stays in the
// wrapped error and is only ever logged.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindInternal Kind = iota
	KindMissingInput
	KindUnsafeSQL
	KindTransientUpstream
	KindNonRetriableUpstream
	KindEmptyResponse
	KindMalformedJSON
	KindSchemaViolation
	KindMissingFigure
	KindRenderFailure
	KindCacheUnavailable
)

type kindInfo struct {
	name    string
	code    string
	message string
	status  int
}

var kinds = map[Kind]kindInfo{
	KindInternal:             {"Internal", "internal", "internal error", http.StatusInternalServerError},
	KindMissingInput:         {"MissingInput", "missing_input", "missing input", http.StatusBadRequest},
	KindUnsafeSQL:            {"UnsafeSQL", "unsafe_sql", "SQL failed safety check", http.StatusBadRequest},
	KindTransientUpstream:    {"TransientUpstream", "upstream_unavailable", "model service temporarily unavailable", http.StatusInternalServerError},
	KindNonRetriableUpstream: {"NonRetriableUpstream", "upstream_error", "model service rejected the request", http.StatusInternalServerError},
	KindEmptyResponse:        {"EmptyResponse", "empty_response", "model returned an empty response", http.StatusInternalServerError},
	KindMalformedJSON:        {"MalformedJSON", "malformed_json", "model returned malformed JSON", http.StatusInternalServerError},
	KindSchemaViolation:      {"SchemaViolation", "schema_violation", "model response did not match the expected shape", http.StatusInternalServerError},
	KindMissingFigure:        {"MissingFigure", "missing_figure", "generated chart code did not define a figure", http.StatusInternalServerError},
	KindRenderFailure:        {"RenderFailure", "render_failure", "chart rendering failed", http.StatusInternalServerError},
	KindCacheUnavailable:     {"CacheUnavailable", "cache_unavailable", "cache temporarily unavailable", http.StatusInternalServerError},
}

func (k Kind) info() kindInfo {
	if i, ok := kinds[k]; ok {
		return i
	}
	return kinds[KindInternal]
}

// String returns the taxonomy name of the kind.
func (k Kind) String() string { return k.info().name }

// Code returns the stable opaque code exposed to callers.
func (k Kind) Code() string { return k.info().code }

// Message returns the default human-readable message for the kind.
func (k Kind) Message() string { return k.info().message }

// HTTPStatus returns the response status for the kind.
func (k Kind) HTTPStatus() int { return k.info().status }

// Error is a classified pipeline failure. Op names the operation that failed,
// Msg optionally overrides the public message and Err holds the cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, apperr.New(apperr.KindUnsafeSQL, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// Public returns the message safe to show to callers.
func (e *Error) Public() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Message()
}

// New returns an *Error with no cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Newf returns an *Error whose public message is formatted from args.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the caller-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Public()
	}
	return KindInternal.Message()
}
