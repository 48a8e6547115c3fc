package taskrun

import (
	"context"
	"fmt"
)

// DefaultCompletionTool is the tool name that designates task completion.
const DefaultCompletionTool = "attempt_completion"

// ToolSpec is the declarative tool description exposed to the model through
// the system prompt. Params documents the parameter tag names; the parser
// does not validate arity against it.
type ToolSpec struct {
	Name        string
	Description string
	Params      []string
}

// Tool is the common surface of streaming and buffering tools.
type Tool interface {
	Spec() ToolSpec
}

// StreamingTool receives its raw content live, fragment by fragment, as soon
// as each fragment is unambiguously not part of the closing tag. Stream must
// not block the parser; expensive work belongs inside the tool.
type StreamingTool interface {
	Tool
	Stream(fragment string)
	Finalize()
}

// BufferingTool receives its complete parameter map once its closing tag has
// been seen. Execute may perform file or process I/O and take arbitrary time.
type BufferingTool interface {
	Tool
	Execute(ctx context.Context, params map[string]string) (ToolResult, error)
}

// ToolResult is the normalized tool execution result.
type ToolResult struct {
	Content string         `json:"content"`
	IsError bool           `json:"is_error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Registry resolves tool names to descriptors. Resolution happens once at
// tool-open time; streaming vs. buffering dispatch is decided there.
type Registry struct {
	byName     map[string]Tool
	completion string
}

// NewRegistry builds a registry over the given tools. The completion tool
// name defaults to DefaultCompletionTool.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		byName:     make(map[string]Tool, len(tools)),
		completion: DefaultCompletionTool,
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique and tools must be either
// streaming or buffering.
func (r *Registry) Register(t Tool) error {
	name := t.Spec().Name
	if name == "" {
		return fmt.Errorf("taskrun: tool with empty name")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("taskrun: duplicate tool %q", name)
	}
	switch t.(type) {
	case StreamingTool, BufferingTool:
	default:
		return fmt.Errorf("taskrun: tool %q is neither streaming nor buffering", name)
	}
	r.byName[name] = t
	return nil
}

// SetCompletionTool overrides the designated completion tool name.
func (r *Registry) SetCompletionTool(name string) {
	r.completion = name
}

// CompletionTool returns the designated completion tool name.
func (r *Registry) CompletionTool() string {
	return r.completion
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Specs returns the specs of all registered tools.
func (r *Registry) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.byName))
	for _, t := range r.byName {
		specs = append(specs, t.Spec())
	}
	return specs
}

// CompletionTool is a ready-made buffering descriptor for the completion
// handshake. The processor records it and never executes it, so Execute only
// exists to satisfy the buffering contract.
type CompletionTool struct{}

func (CompletionTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        DefaultCompletionTool,
		Description: "Present the final result of the task to the user",
		Params:      []string{"result"},
	}
}

func (CompletionTool) Execute(_ context.Context, params map[string]string) (ToolResult, error) {
	return ToolResult{Content: params["result"]}, nil
}
