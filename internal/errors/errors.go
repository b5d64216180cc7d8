// Package errors provides the sequencer's closed error-kind taxonomy.
//
// Every failure that crosses a component boundary (ConfigStore, PluginLoader,
// PluginManager, CommandDispatcher, Task, Target, SequenceEngine) is reported
// as a *Error value carrying one of the nine kinds below rather than an ad
// hoc error string or a language exception. Callers match on Kind with
// errors.Is against the sentinel values, or errors.As to recover Details.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-dispatchable error classification. The set is closed —
// do not add members without updating the HTTP status mapping below.
type Kind string

const (
	InvalidParameter Kind = "InvalidParameter"
	CyclicDependency Kind = "CyclicDependency"
	ResourceUnavailable Kind = "ResourceUnavailable"
	Timeout          Kind = "Timeout"
	PluginApiMismatch Kind = "PluginApiMismatch"
	PluginInitFailed Kind = "PluginInitFailed"
	ExternalFailure  Kind = "ExternalFailure"
	StatePrecondition Kind = "StatePrecondition"
	ReentrancyDenied Kind = "ReentrancyDenied"
)

// Error is the sequencer's single error type. Message is the long,
// display-suitable string; Details carries optional structured context
// (e.g. the offending path, the plugin name) serialized as-is in the HTTP
// façade's error.details field.
type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, Of(SomeKind)) match any *Error of the same Kind,
// independent of message or details.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && other.Message == ""
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new *Error of the given kind, preserving the
// original error for errors.Unwrap/errors.As chains (e.g. device driver
// failures surfaced as ExternalFailure).
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured Details to an existing error.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Details: details, cause: e.cause}
}

// Of returns a bare sentinel of a kind, for use with errors.Is(err, errors.Of(Timeout)).
func Of(kind Kind) *Error { return &Error{Kind: kind} }

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Response is the JSON shape the HTTP/WebSocket façade serializes errors
// as: {"status":"error","error":{"code":...,"message":...,"details":...}}.
type Response struct {
	Status string       `json:"status"`
	Error  ResponseBody `json:"error"`
}

type ResponseBody struct {
	Code    Kind `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ToResponse renders e in the façade's wire format.
func (e *Error) ToResponse() Response {
	return Response{
		Status: "error",
		Error: ResponseBody{
			Code:    e.Kind,
			Message: e.Message,
			Details: e.Details,
		},
	}
}

// httpStatus maps a Kind to the HTTP status the admin surface (cmd/sequencerd)
// uses; this mapping exists only at that one boundary, since the core
// components themselves never speak HTTP.
func httpStatus(kind Kind) int {
	switch kind {
	case InvalidParameter:
		return http.StatusBadRequest
	case CyclicDependency:
		return http.StatusConflict
	case ResourceUnavailable:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	case PluginApiMismatch, PluginInitFailed:
		return http.StatusUnprocessableEntity
	case ExternalFailure:
		return http.StatusBadGateway
	case StatePrecondition:
		return http.StatusConflict
	case ReentrancyDenied:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus returns the status code the admin surface should answer with
// for err, defaulting to 500 if err does not carry a recognized Kind.
func HTTPStatus(err error) int {
	return httpStatus(KindOf(err))
}
