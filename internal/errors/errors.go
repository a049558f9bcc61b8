// Package errors provides the error taxonomy for the setpoint advisor.
//
// Every failure the advisor can produce is classified by a Kind. Only
// DataInsufficient and BoundDegenerate are meant to reach a caller; the other
// kinds describe conditions that the advisor degrades around (physics-only
// prediction, default pricing, clamped values) and are logged instead.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind classifies an advisor error.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindDataInsufficient means the history is too short to optimize at all.
	KindDataInsufficient
	// KindModelUntrained means the regression ensemble could not be trained.
	KindModelUntrained
	// KindBoundDegenerate means a resolved bound has lo >= hi.
	KindBoundDegenerate
	// KindNumericOutOfRange is a value that had to be clamped.
	KindNumericOutOfRange
	// KindUpstreamUnavailable means an external limits or pricing source failed.
	KindUpstreamUnavailable
	// KindInvalidRequest is a malformed request at the transport boundary.
	KindInvalidRequest
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindDataInsufficient:    "data_insufficient",
	KindModelUntrained:      "model_untrained",
	KindBoundDegenerate:     "bound_degenerate",
	KindNumericOutOfRange:   "numeric_out_of_range",
	KindUpstreamUnavailable: "upstream_unavailable",
	KindInvalidRequest:      "invalid_request",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for use with errors.Is. They match any *Error of the same Kind.
var (
	ErrDataInsufficient    = &Error{Kind: KindDataInsufficient}
	ErrModelUntrained      = &Error{Kind: KindModelUntrained}
	ErrBoundDegenerate     = &Error{Kind: KindBoundDegenerate}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
)

// Error represents an error with a kind, context and stack trace.
type Error struct {
	// Kind classifies the failure
	Kind Kind
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Component != "" {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("component=")
		builder.WriteString(e.Component)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	if builder.Len() == 0 {
		return e.Kind.String()
	}
	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:    kind,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Wrap wraps err with a kind and message. It returns nil if err is nil.
func Wrap(err error, kind Kind, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Err:     err,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error to the status code the transport should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindDataInsufficient, KindBoundDegenerate:
		return http.StatusUnprocessableEntity
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}
