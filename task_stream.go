package taskrun

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds the task loop when TaskRequest.MaxAttempts is 0.
const DefaultMaxAttempts = 3

// TaskRequest configures one task run.
type TaskRequest struct {
	Provider     Provider
	SystemPrompt string
	Input        string
	Tools        []Tool

	// MaxAttempts bounds the model-call loop; DefaultMaxAttempts when 0.
	MaxAttempts int
	// CompletionTool overrides the completion tool name. If no tool with
	// that name is registered, the built-in CompletionTool descriptor is
	// added for the default name.
	CompletionTool string
}

// TaskResult is the outcome of a task run.
type TaskResult struct {
	TaskID     string
	Turns      []*Metadata
	Completion *ToolCallRecord
	Usage      Usage
	Attempts   int
}

// TaskStream exposes streaming access to a running task.
type TaskStream interface {
	Next(ctx context.Context) (TaskEvent, error)
	Result() (*TaskResult, error)
	Cancel()
	Close() error
}

type taskStream struct {
	ctx    context.Context
	cancel context.CancelFunc

	events chan TaskEvent

	result    TaskResult
	resultErr error
	done      chan struct{}

	mu sync.Mutex
}

// RunStreamed starts a task and returns a stream of events. The stream ends
// with io.EOF from Next; Result blocks until the task settles.
func RunStreamed(parent context.Context, req TaskRequest) (TaskStream, error) {
	if req.Provider == nil {
		return nil, ErrNoProvider
	}
	reg, err := buildRegistry(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	s := &taskStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan TaskEvent, 16),
		done:   make(chan struct{}),
	}

	go s.run(req, reg)
	return s, nil
}

func buildRegistry(req TaskRequest) (*Registry, error) {
	reg, err := NewRegistry(req.Tools...)
	if err != nil {
		return nil, err
	}
	if req.CompletionTool != "" {
		reg.SetCompletionTool(req.CompletionTool)
	}
	if _, ok := reg.Lookup(reg.CompletionTool()); !ok {
		if reg.CompletionTool() != DefaultCompletionTool {
			return nil, ErrToolNotFound
		}
		if err := reg.Register(CompletionTool{}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (s *taskStream) Next(ctx context.Context) (TaskEvent, error) {
	select {
	case <-ctx.Done():
		return TaskEvent{}, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			return TaskEvent{}, io.EOF
		}
		return ev, nil
	}
}

func (s *taskStream) Result() (*TaskResult, error) {
	<-s.done
	return &s.result, s.resultErr
}

func (s *taskStream) Cancel() {
	s.cancel()
}

func (s *taskStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *taskStream) run(req TaskRequest, reg *Registry) {
	defer close(s.events)
	defer close(s.done)
	defer s.cancel()

	taskID := uuid.NewString()
	result := TaskResult{TaskID: taskID}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	s.emit(TaskEvent{Type: TaskEventStart})

	history := []Message{
		UserMessage{Parts: []Part{TextPart{Text: req.Input}}, Timestamp: time.Now().UnixMilli()},
	}

	attempt := 0
	proc := NewProcessor(reg)
	proc.emit = func(ev TaskEvent) {
		ev.Attempt = attempt
		s.emit(ev)
	}

	for attempt = 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		s.emit(TaskEvent{Type: TaskEventTurnStart, Attempt: attempt})

		stream, err := req.Provider.Stream(s.ctx, Request{SystemPrompt: req.SystemPrompt, History: history})
		if err != nil {
			s.finish(&result, err)
			return
		}
		meta, perr := proc.Process(s.ctx, stream, taskID, req.Input)
		_ = stream.Close()

		result.Turns = append(result.Turns, meta)
		result.Usage.Merge(meta.Usage)
		s.emit(TaskEvent{Type: TaskEventTurnEnd, Attempt: attempt, Turn: meta})

		if perr != nil {
			s.finish(&result, perr)
			return
		}
		if meta.Completed() {
			result.Completion = meta.Completion
			s.finish(&result, nil)
			return
		}
		if s.ctx.Err() != nil {
			s.finish(&result, s.ctx.Err())
			return
		}

		history = append(history, foldTurn(reg, meta)...)
	}

	s.finish(&result, ErrMaxAttempts)
}

// foldTurn converts a finished turn into history messages for the next model
// call: the raw assistant output followed by one tool message per executed
// buffering tool, or a nudge when no tool ran at all.
func foldTurn(reg *Registry, meta *Metadata) []Message {
	now := time.Now().UnixMilli()
	msgs := []Message{
		AssistantMessage{Parts: []Part{TextPart{Text: meta.Output}}, Timestamp: now},
	}

	executed := 0
	for _, call := range meta.ToolCalls {
		tool, ok := reg.Lookup(call.Name)
		if !ok || call.Result == nil {
			continue
		}
		if _, buffering := tool.(BufferingTool); !buffering {
			continue
		}
		executed++
		msgs = append(msgs, ToolMessage{
			Name:      call.Name,
			IsError:   call.Result.IsError,
			Parts:     []Part{TextPart{Text: call.Result.Content}},
			Timestamp: now,
		})
	}

	if executed == 0 {
		msgs = append(msgs, UserMessage{
			Parts: []Part{TextPart{Text: noToolUsedNudge(reg.CompletionTool())}},
			Timestamp: now,
		})
	}
	return msgs
}

func noToolUsedNudge(completion string) string {
	return "You responded without invoking a tool. Every response must invoke exactly one tool; " +
		"use <" + completion + "> when the task is done."
}

func (s *taskStream) finish(res *TaskResult, err error) {
	if res != nil {
		s.result = *res
	}
	s.addError(err)
	s.emit(TaskEvent{Type: TaskEventEnd, Final: res})
}

func (s *taskStream) emit(ev TaskEvent) {
	select {
	case <-s.ctx.Done():
		return
	case s.events <- ev:
	}
}

func (s *taskStream) addError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultErr == nil {
		s.resultErr = err
		return
	}
	s.resultErr = errors.Join(s.resultErr, err)
}
