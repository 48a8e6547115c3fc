// Package anthropic adapts the Anthropic Messages API to the taskrun stream
// contract. Tool calls travel as XML inside assistant text, so no native tool
// definitions are sent; the adapter reduces SSE chunks to text and usage
// events.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/okvist/taskrun"
	"github.com/okvist/taskrun/providers/base"
)

const defaultMaxOutputTokens = 8192

// Config configures the Anthropic provider.
type Config struct {
	base.Config
}

// Option is a functional option for this provider.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithTemperature sets the temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = &t }
}

// WithMaxOutputTokens sets the max output tokens.
func WithMaxOutputTokens(n int) Option {
	return func(c *Config) { c.MaxOutputTokens = &n }
}

// WithTrace enables JSONL trace logging to the specified file path.
func WithTrace(path string) Option {
	return func(c *Config) { c.TracePath = path }
}

// WithExtraHeader adds a custom header to requests.
func WithExtraHeader(key, value string) Option {
	return func(c *Config) {
		if c.ExtraHeaders == nil {
			c.ExtraHeaders = make(map[string]string)
		}
		c.ExtraHeaders[key] = value
	}
}

// New creates a Provider using the Anthropic Messages API.
// It reads ANTHROPIC_API_KEY and ANTHROPIC_BASE_URL from the environment if
// not explicitly set.
func New(model string, opts ...Option) taskrun.Provider {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	// SDK auto-reads env vars; only override if explicitly set
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.ExtraHeaders {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}
	client := anthropic.NewClient(clientOpts...)
	return &provider{model: model, cfg: cfg, client: client}
}

type provider struct {
	model  string
	cfg    Config
	client anthropic.Client
}

func (p *provider) Stream(ctx context.Context, req taskrun.Request) (taskrun.ModelStream, error) {
	params := buildParams(p.model, p.cfg, req)

	trace, err := base.NewTraceLogger(p.cfg.TracePath)
	if err != nil {
		return nil, err
	}
	if trace != nil {
		rec := base.NewTraceRecord("request", params)
		rec.Provider = "anthropic"
		rec.Model = p.model
		_ = trace.Log(rec)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return newStream(p.model, stream, trace), nil
}

func buildParams(model string, cfg Config, req taskrun.Request) anthropic.MessageNewParams {
	maxTokens := defaultMaxOutputTokens
	if cfg.MaxOutputTokens != nil {
		maxTokens = *cfg.MaxOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*cfg.Temperature)
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	for _, msg := range req.History {
		switch m := msg.(type) {
		case taskrun.UserMessage:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(taskrun.Text(m))))
		case taskrun.AssistantMessage:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(taskrun.Text(m))))
		case taskrun.ToolMessage:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(renderToolResult(m))))
		}
	}
	return params
}

// renderToolResult folds a tool result into user-role text; the XML tool
// protocol has no native tool-result channel.
func renderToolResult(m taskrun.ToolMessage) string {
	status := "result"
	if m.IsError {
		status = "error"
	}
	return fmt.Sprintf("[%s %s]\n%s", m.Name, status, taskrun.Text(m))
}
