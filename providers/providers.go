// Package providers selects a concrete provider adapter from a runner
// profile.
package providers

import (
	"fmt"

	"github.com/okvist/taskrun"
	"github.com/okvist/taskrun/providers/anthropic"
	"github.com/okvist/taskrun/providers/openrouter"
)

// FromProfile builds the provider a profile names.
func FromProfile(p taskrun.Profile) (taskrun.Provider, error) {
	if p.Model == "" {
		return nil, fmt.Errorf("providers: profile has no model")
	}

	switch p.Provider {
	case "anthropic":
		var opts []anthropic.Option
		if p.DebugPath != "" {
			opts = append(opts, anthropic.WithTrace(p.DebugPath))
		}
		return anthropic.New(p.Model, opts...), nil
	case "openrouter":
		var opts []openrouter.Option
		if p.DebugPath != "" {
			opts = append(opts, openrouter.WithTrace(p.DebugPath))
		}
		return openrouter.New(p.Model, opts...), nil
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", p.Provider)
	}
}
