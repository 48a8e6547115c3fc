// Package openrouter adapts the OpenRouter chat-completions API to the
// taskrun stream contract using the OpenAI-compatible client.
package openrouter

import (
	"context"
	"fmt"

	"github.com/okvist/taskrun"
	"github.com/okvist/taskrun/providers/base"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Config configures the OpenRouter provider.
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

// New creates a Provider using the OpenRouter API.
// It reads OPENROUTER_API_KEY and OPENROUTER_BASE_URL from the environment if
// not explicitly set.
func New(model string, opts ...Option) taskrun.Provider {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	base.ApplyEnvDefaults(&cfg.Config, "OPENROUTER_API_KEY", "OPENROUTER_BASE_URL")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
	}
	for k, v := range cfg.ExtraHeaders {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}
	client := openai.NewClient(clientOpts...)
	return &provider{model: model, cfg: cfg, client: client}
}

type provider struct {
	model  string
	cfg    Config
	client openai.Client
}

func (p *provider) Stream(ctx context.Context, req taskrun.Request) (taskrun.ModelStream, error) {
	params := buildParams(p.model, p.cfg, req)

	trace, err := base.NewTraceLogger(p.cfg.TracePath)
	if err != nil {
		return nil, err
	}
	if trace != nil {
		rec := base.NewTraceRecord("request", params)
		rec.Provider = "openrouter"
		rec.Model = p.model
		_ = trace.Log(rec)
	}

	sse := p.client.Chat.Completions.NewStreaming(ctx, params)
	return newStream(p.model, sse, trace), nil
}

func buildParams(model string, cfg Config, req taskrun.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: model,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if cfg.Temperature != nil {
		params.Temperature = openai.Float(*cfg.Temperature)
	}
	if cfg.MaxOutputTokens != nil {
		params.MaxTokens = openai.Int(int64(*cfg.MaxOutputTokens))
	}

	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.History {
		switch m := msg.(type) {
		case taskrun.UserMessage:
			params.Messages = append(params.Messages, openai.UserMessage(taskrun.Text(m)))
		case taskrun.AssistantMessage:
			params.Messages = append(params.Messages, openai.AssistantMessage(taskrun.Text(m)))
		case taskrun.ToolMessage:
			params.Messages = append(params.Messages, openai.UserMessage(renderToolResult(m)))
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
