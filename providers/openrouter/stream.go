package openrouter

import (
	"context"
	"io"
	"sync"

	"github.com/okvist/taskrun"
	"github.com/okvist/taskrun/providers/base"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/tidwall/gjson"
)

// stream adapts the chat-completions SSE stream to taskrun.ModelStream.
// Reasoning deltas, tool-call deltas and finish metadata are dropped; only
// text and usage survive.
type stream struct {
	modelName string
	sse       *ssestream.Stream[openai.ChatCompletionChunk]
	trace     *base.TraceLogger

	mu sync.Mutex

	done bool
	err  error

	pending []taskrun.StreamEvent
}

func newStream(modelName string, sse *ssestream.Stream[openai.ChatCompletionChunk], trace *base.TraceLogger) *stream {
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
		s.processChunk(s.sse.Current())
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
		rec.Provider = "openrouter"
		rec.Model = s.modelName
		_ = s.trace.Log(rec)
	}
	return ev, nil
}

func (s *stream) processChunk(chunk openai.ChatCompletionChunk) {
	if s.trace != nil {
		rec := base.NewTraceRecord("chunk", chunk.RawJSON())
		rec.Provider = "openrouter"
		rec.Model = s.modelName
		_ = s.trace.Log(rec)
	}

	if chunk.Usage.TotalTokens > 0 {
		ev := taskrun.UsageEvent{
			InputTokens:     int(chunk.Usage.PromptTokens),
			OutputTokens:    int(chunk.Usage.CompletionTokens),
			CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
		}
		// OpenRouter reports the credit cost outside the OpenAI schema.
		ev.TotalCost = gjson.Get(chunk.RawJSON(), "usage.cost").Float()
		s.enqueue(ev)
	}

	if len(chunk.Choices) == 0 {
		return
	}
	if content := chunk.Choices[0].Delta.Content; content != "" {
		s.enqueue(taskrun.TextEvent{Text: content})
	}
}

var _ taskrun.ModelStream = (*stream)(nil)
