package taskrun

import "time"

// ErrorKind classifies errors recorded in turn metadata.
type ErrorKind string

const (
	// ErrorKindParse marks a grammar violation mid-stream. The malformed tool
	// call is lost; processing continued with subsequent fragments.
	ErrorKindParse ErrorKind = "parse_error"
	// ErrorKindStreamEnd marks a truncated model response (stream ended while
	// still inside an element).
	ErrorKindStreamEnd ErrorKind = "stream_end_error"
	// ErrorKindTool marks a failed tool execution. The failure is also the
	// recorded result of the corresponding tool call.
	ErrorKindTool ErrorKind = "tool_error"
)

// RecordedError is a non-fatal error captured during one turn.
type RecordedError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"`
}

// ToolCallRecord is one completed tool invocation, in closing-tag order.
type ToolCallRecord struct {
	Name      string            `json:"name"`
	Params    map[string]string `json:"params,omitempty"`
	Result    *ToolResult       `json:"result,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Metadata is the accumulated outcome of one model round-trip. It is mutated
// additively while events arrive and treated as immutable once the processor
// returns it.
type Metadata struct {
	TaskID string `json:"task_id"`
	Input  string `json:"input"`
	// Output is the raw assistant text of the turn, XML tool calls included.
	// The task driver appends it to conversation history.
	Output string `json:"output"`

	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage     Usage            `json:"usage"`
	Errors    []RecordedError  `json:"errors,omitempty"`

	// Completion is set once the designated completion tool has fired.
	Completion *ToolCallRecord `json:"completion,omitempty"`
}

// Completed reports whether the completion tool fired during the turn.
func (m *Metadata) Completed() bool {
	return m.Completion != nil
}

func (m *Metadata) recordError(kind ErrorKind, message string) {
	m.Errors = append(m.Errors, RecordedError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (m *Metadata) recordCall(rec ToolCallRecord) {
	m.ToolCalls = append(m.ToolCalls, rec)
}
