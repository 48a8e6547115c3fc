package taskrun

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider is returned when a task is started without a model provider.
	ErrNoProvider = errors.New("taskrun: provider is required")
	// ErrToolNotFound is returned when the model references a tool name that is
	// not registered. This is a registry misconfiguration and fatal to the turn.
	ErrToolNotFound = errors.New("taskrun: tool not found")
	// ErrMaxAttempts is returned when the task loop exhausts its attempt budget
	// without the completion tool ever firing.
	ErrMaxAttempts = errors.New("taskrun: no completion found after maximum attempts")
)

// ParseErrorKind classifies grammar violations raised by the parser.
type ParseErrorKind string

const (
	ParseErrUnexpectedText       ParseErrorKind = "unexpected_text"
	ParseErrUnexpectedClosingTag ParseErrorKind = "unexpected_closing_tag"
	ParseErrMismatchedClosingTag ParseErrorKind = "mismatched_closing_tag"
	ParseErrIllegalNesting       ParseErrorKind = "illegal_nesting"
	ParseErrIncompleteStream     ParseErrorKind = "incomplete_stream"
)

// ParseError is a recoverable grammar violation. The orchestrator records it
// and keeps feeding subsequent fragments; the malformed tool call is lost.
type ParseError struct {
	Kind    ParseErrorKind
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("taskrun: parse error (%s): %s", e.Kind, e.Message)
}

func parseErrorf(kind ParseErrorKind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StreamEndError signals that End was called while still inside an element,
// i.e. the model response was truncated. It is recorded distinctly from parse
// errors so callers can decide whether to retry the model call.
type StreamEndError struct {
	// OpenElement is the element path still open at end of stream,
	// e.g. "write_file" or "write_file/path".
	OpenElement string
}

func (e *StreamEndError) Error() string {
	return fmt.Sprintf("taskrun: stream ended while still inside element <%s>", e.OpenElement)
}
