package taskrun

// StreamEvent is one normalized update from a model provider stream.
// Provider adapters reduce their SDK-specific chunk formats to this sequence,
// dropping everything that is neither text nor usage.
type StreamEvent interface {
	streamEvent()
}

// TextEvent carries one text fragment of the assistant response. Fragment
// boundaries carry no semantic meaning and may fall anywhere, including in
// the middle of a tag.
type TextEvent struct {
	Text string
}

func (TextEvent) streamEvent() {}

// UsageEvent carries a token accounting delta. Counters are partial and
// additive; a turn may see several usage events.
type UsageEvent struct {
	InputTokens      int
	OutputTokens     int
	CacheWriteTokens int
	CacheReadTokens  int
	TotalCost        float64
}

func (UsageEvent) streamEvent() {}

// TaskEventType represents task-level lifecycle updates.
type TaskEventType string

const (
	TaskEventStart     TaskEventType = "task_start"
	TaskEventTurnStart TaskEventType = "turn_start"
	TaskEventText      TaskEventType = "text"
	TaskEventToolStart TaskEventType = "tool_exec_start"
	TaskEventToolEnd   TaskEventType = "tool_exec_end"
	TaskEventTurnEnd   TaskEventType = "turn_end"
	TaskEventEnd       TaskEventType = "task_end"
)

// TaskEvent is a streaming update emitted while a task runs. Text events
// carry the raw assistant output, XML included; callers who want clean
// incremental content should register streaming tools instead.
type TaskEvent struct {
	Type    TaskEventType
	Attempt int

	Text string

	ToolName   string
	ToolParams map[string]string
	ToolResult *ToolResult

	Turn  *Metadata
	Final *TaskResult
}
