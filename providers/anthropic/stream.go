package anthropic

import (
	"context"
	"io"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/okvist/taskrun"
	"github.com/okvist/taskrun/providers/base"
)

// stream adapts the Anthropic SSE stream to taskrun.ModelStream, dropping
// every chunk that carries neither text nor usage.
type stream struct {
	modelName string
	sse       *ssestream.Stream[anthropic.MessageStreamEventUnion]
	trace     *base.TraceLogger

	mu sync.Mutex

	done bool
	err  error

	pending []taskrun.StreamEvent
}

func newStream(modelName string, sse *ssestream.Stream[anthropic.MessageStreamEventUnion], trace *base.TraceLogger) *stream {
	return &stream{modelName: modelName, sse: sse, trace: trace}
}

func (s *stream) Next(ctx context.Context) (taskrun.StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if len(s.pending) > 0 {
			return s.dequeue()
		}
		if s.err != nil {
			return nil, s.err
		}
		if s.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !s.sse.Next() {
			if err := s.sse.Err(); err != nil {
				s.err = err
				return nil, s.err
			}
			s.done = true
			continue
		}
		s.processEvent(s.sse.Current())
	}
}

func (s *stream) Close() error {
	if s.trace != nil {
		_ = s.trace.Close()
	}
	return s.sse.Close()
}

func (s *stream) enqueue(ev taskrun.StreamEvent) {
	s.pending = append(s.pending, ev)
}

func (s *stream) dequeue() (taskrun.StreamEvent, error) {
	ev := s.pending[0]
	s.pending = s.pending[1:]

	if s.trace != nil {
		rec := base.NewTraceRecord("event", ev)
		rec.Provider = "anthropic"
		rec.Model = s.modelName
		_ = s.trace.Log(rec)
	}
	return ev, nil
}

func (s *stream) processEvent(union anthropic.MessageStreamEventUnion) {
	if s.trace != nil {
		rec := base.NewTraceRecord("chunk", union.RawJSON())
		rec.Provider = "anthropic"
		rec.Model = s.modelName
		_ = s.trace.Log(rec)
	}

	switch ev := union.AsAny().(type) {
	case anthropic.MessageStartEvent:
		u := ev.Message.Usage
		if u.InputTokens > 0 || u.CacheCreationInputTokens > 0 || u.CacheReadInputTokens > 0 {
			s.enqueue(taskrun.UsageEvent{
				InputTokens:      int(u.InputTokens),
				CacheWriteTokens: int(u.CacheCreationInputTokens),
				CacheReadTokens:  int(u.CacheReadInputTokens),
			})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text != "" {
				s.enqueue(taskrun.TextEvent{Text: delta.Text})
			}
		}
	case anthropic.MessageDeltaEvent:
		if ev.Usage.OutputTokens > 0 {
			s.enqueue(taskrun.UsageEvent{OutputTokens: int(ev.Usage.OutputTokens)})
		}
	}
}

var _ taskrun.ModelStream = (*stream)(nil)
