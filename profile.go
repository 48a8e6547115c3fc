package taskrun

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the persisted runner configuration. Provider construction from a
// profile lives in the provider packages; the core only carries the values.
type Profile struct {
	// Provider selects the provider adapter, e.g. "anthropic" or "openrouter".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"`

	// SystemPromptFile optionally points to a file whose contents replace
	// SystemPrompt.
	SystemPrompt     string `yaml:"system_prompt,omitempty"`
	SystemPromptFile string `yaml:"system_prompt_file,omitempty"`

	// DebugPath enables JSONL request/chunk tracing in the provider adapters.
	DebugPath string `yaml:"debug_path,omitempty"`
}

// DefaultProfile returns the built-in defaults.
func DefaultProfile() Profile {
	return Profile{
		Provider:    "anthropic",
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     5 * time.Minute,
	}
}

// LoadProfile reads a YAML profile, applying defaults for absent fields and
// resolving SystemPromptFile.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("taskrun: read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("taskrun: parse profile: %w", err)
	}
	if err := p.validate(); err != nil {
		return p, err
	}

	if p.SystemPromptFile != "" {
		prompt, err := os.ReadFile(p.SystemPromptFile)
		if err != nil {
			return p, fmt.Errorf("taskrun: read system prompt: %w", err)
		}
		p.SystemPrompt = string(prompt)
	}
	return p, nil
}

// profileYAML is the wire form of Profile. Timeout travels as a duration
// string, which yaml.v3 does not handle for time.Duration on its own.
type profileYAML struct {
	Provider         string `yaml:"provider,omitempty"`
	Model            string `yaml:"model,omitempty"`
	MaxAttempts      *int   `yaml:"max_attempts,omitempty"`
	Timeout          string `yaml:"timeout,omitempty"`
	SystemPrompt     string `yaml:"system_prompt,omitempty"`
	SystemPromptFile string `yaml:"system_prompt_file,omitempty"`
	DebugPath        string `yaml:"debug_path,omitempty"`
}

func (p Profile) MarshalYAML() (any, error) {
	out := profileYAML{
		Provider:         p.Provider,
		Model:            p.Model,
		MaxAttempts:      &p.MaxAttempts,
		SystemPrompt:     p.SystemPrompt,
		SystemPromptFile: p.SystemPromptFile,
		DebugPath:        p.DebugPath,
	}
	if p.Timeout != 0 {
		out.Timeout = p.Timeout.String()
	}
	return out, nil
}

// UnmarshalYAML overlays present fields onto p, so callers can decode into a
// defaults-filled Profile and keep the defaults for absent keys.
func (p *Profile) UnmarshalYAML(node *yaml.Node) error {
	var aux profileYAML
	if err := node.Decode(&aux); err != nil {
		return err
	}
	if aux.Provider != "" {
		p.Provider = aux.Provider
	}
	if aux.Model != "" {
		p.Model = aux.Model
	}
	if aux.MaxAttempts != nil {
		p.MaxAttempts = *aux.MaxAttempts
	}
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		p.Timeout = d
	}
	if aux.SystemPrompt != "" {
		p.SystemPrompt = aux.SystemPrompt
	}
	if aux.SystemPromptFile != "" {
		p.SystemPromptFile = aux.SystemPromptFile
	}
	if aux.DebugPath != "" {
		p.DebugPath = aux.DebugPath
	}
	return nil
}

// Save writes the profile as YAML.
func (p Profile) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("taskrun: marshal profile: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (p Profile) validate() error {
	if p.Provider == "" {
		return fmt.Errorf("taskrun: profile: provider is required")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("taskrun: profile: max_attempts must not be negative")
	}
	return nil
}
