package resolver

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the resolver can report.
type ErrorKind int

const (
	InvalidFormat ErrorKind = iota
	MissingArgument
	NotFound
	AnalysisFailed
	CacheIOFailure
)

func (e ErrorKind) Values() []string {
	return []string{"INVALID_FORMAT", "MISSING_ARGUMENT", "NOT_FOUND", "ANALYSIS_FAILED", "CACHE_IO_FAILURE"}
}

func (e ErrorKind) String() string {
	return e.Values()[e]
}

// Error is the single error type returned by the resolver. Message is
// safe to show to the client; Err (if any) is the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode is the HTTP status used when this error is reported to a
// client. Only a missing argument is the client's fault; everything
// else reaching the responder is reported as a server error.
func (e *Error) StatusCode() int {
	if e.Kind == MissingArgument {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func errInvalidFormat(name string) *Error {
	return &Error{Kind: InvalidFormat, Message: fmt.Sprintf("Invalid outputFormat: %s", name)}
}

func errMissingArgument() *Error {
	return &Error{Kind: MissingArgument, Message: "Missing file argument"}
}

func errNotFound(path string) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf("File was not found: %s", path)}
}

func errAnalysisFailed(cause error) *Error {
	return &Error{Kind: AnalysisFailed, Message: cause.Error(), Err: cause}
}

func errCacheIO(cause error) *Error {
	return &Error{Kind: CacheIOFailure, Message: cause.Error(), Err: cause}
}
