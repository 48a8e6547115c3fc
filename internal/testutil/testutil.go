// Package testutil provides scripted streams, providers and recording tools
// shared by the core and provider tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/okvist/taskrun"
)

// SkipIfNoEnv skips the test if the environment variable is not set.
func SkipIfNoEnv(t *testing.T, envVar string) {
	t.Helper()
	if os.Getenv(envVar) == "" {
		t.Skipf("skipping: %s not set", envVar)
	}
}

// LiveSystemPrompt teaches a real model the tool-call protocol for LiveTask.
const LiveSystemPrompt = `You are a task runner. You respond by invoking exactly one tool per
message, written as XML tags. To finish a task, invoke:

<attempt_completion>
<result>your final answer</result>
</attempt_completion>

Do not write anything outside tool tags.`

// LiveTask drives a real provider through a one-turn completion task and
// asserts the basics. Callers gate it with SkipIfNoEnv.
func LiveTask(t *testing.T, provider taskrun.Provider) taskrun.TaskResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := taskrun.Run(ctx, taskrun.TaskRequest{
		Provider:     provider,
		SystemPrompt: LiveSystemPrompt,
		Input:        "Complete this task with the single word OK as the result.",
	})
	if err != nil {
		t.Fatalf("live task failed: %v", err)
	}
	if res.Completion == nil {
		t.Fatal("live task did not complete")
	}
	if !strings.Contains(strings.ToUpper(res.Completion.Result.Content), "OK") {
		t.Errorf("unexpected completion result: %q", res.Completion.Result.Content)
	}
	if res.Usage.TokensIn == 0 || res.Usage.TokensOut == 0 {
		t.Errorf("usage not reported: %+v", res.Usage)
	}
	return res
}

// ScriptStream replays a fixed event sequence as a taskrun.ModelStream.
type ScriptStream struct {
	events []taskrun.StreamEvent
	err    error
	i      int
	closed bool
}

// NewScriptStream builds a stream over the given events followed by io.EOF.
func NewScriptStream(events ...taskrun.StreamEvent) *ScriptStream {
	return &ScriptStream{events: events}
}

// FailWith makes the stream fail with err after all events are delivered,
// instead of io.EOF.
func (s *ScriptStream) FailWith(err error) *ScriptStream {
	s.err = err
	return s
}

func (s *ScriptStream) Next(ctx context.Context) (taskrun.StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.i < len(s.events) {
		ev := s.events[s.i]
		s.i++
		return ev, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *ScriptStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *ScriptStream) Closed() bool { return s.closed }

// Text wraps a string into one text event.
func Text(text string) taskrun.StreamEvent {
	return taskrun.TextEvent{Text: text}
}

// TextChunks splits text into text events of at most size bytes each.
func TextChunks(text string, size int) []taskrun.StreamEvent {
	var events []taskrun.StreamEvent
	for len(text) > 0 {
		n := size
		if n > len(text) {
			n = len(text)
		}
		events = append(events, taskrun.TextEvent{Text: text[:n]})
		text = text[n:]
	}
	return events
}

// ScriptProvider hands out one scripted stream per model call, in order.
// It records every request it sees.
type ScriptProvider struct {
	Turns    [][]taskrun.StreamEvent
	Requests []taskrun.Request

	calls int
}

func (p *ScriptProvider) Stream(_ context.Context, req taskrun.Request) (taskrun.ModelStream, error) {
	p.Requests = append(p.Requests, req)
	if p.calls >= len(p.Turns) {
		return nil, fmt.Errorf("testutil: unexpected model call %d", p.calls+1)
	}
	events := p.Turns[p.calls]
	p.calls++
	return NewScriptStream(events...), nil
}

// Calls reports how many model calls were made.
func (p *ScriptProvider) Calls() int { return p.calls }

// RecordingStreamTool is a streaming tool that captures its fragments.
type RecordingStreamTool struct {
	Name      string
	Fragments []string
	Finalized int
}

func (r *RecordingStreamTool) Spec() taskrun.ToolSpec {
	return taskrun.ToolSpec{Name: r.Name, Description: "records streamed fragments"}
}

func (r *RecordingStreamTool) Stream(fragment string) {
	r.Fragments = append(r.Fragments, fragment)
}

func (r *RecordingStreamTool) Finalize() {
	r.Finalized++
}

// Content concatenates all recorded fragments.
func (r *RecordingStreamTool) Content() string {
	return strings.Join(r.Fragments, "")
}

// EchoTool is a buffering tool that records its calls and echoes its
// parameters, or fails with Err.
type EchoTool struct {
	Name       string
	ParamNames []string
	Err        error

	Calls []map[string]string
}

func (e *EchoTool) Spec() taskrun.ToolSpec {
	return taskrun.ToolSpec{Name: e.Name, Description: "echoes its parameters", Params: e.ParamNames}
}

func (e *EchoTool) Execute(_ context.Context, params map[string]string) (taskrun.ToolResult, error) {
	e.Calls = append(e.Calls, params)
	if e.Err != nil {
		return taskrun.ToolResult{}, e.Err
	}
	return taskrun.ToolResult{Content: renderParams(params)}, nil
}

func renderParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, params[k])
	}
	return b.String()
}

// ToolEvent is one emitted tool-call event, for asserting parser output.
type ToolEvent struct {
	Name   string
	Params map[string]string
}

// CollectEvents returns a callback appending events to dst.
func CollectEvents(dst *[]ToolEvent) func(string, map[string]string) {
	return func(name string, params map[string]string) {
		*dst = append(*dst, ToolEvent{Name: name, Params: params})
	}
}
