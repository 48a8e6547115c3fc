package openrouter_test

import (
	"testing"

	"github.com/okvist/taskrun/internal/testutil"
	"github.com/okvist/taskrun/providers/openrouter"
)

const envKey = "OPENROUTER_API_KEY"

func TestOpenRouter_Completion(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)

	provider := openrouter.New("anthropic/claude-haiku-4.5")
	testutil.LiveTask(t, provider)
}

// OpenRouter reports the request cost inline in its usage payload.
func TestOpenRouter_UsageCost(t *testing.T) {
	testutil.SkipIfNoEnv(t, envKey)

	provider := openrouter.New("anthropic/claude-haiku-4.5")
	res := testutil.LiveTask(t, provider)
	if res.Usage.Cost <= 0 {
		t.Errorf("expected a positive cost, got %v", res.Usage.Cost)
	}
}
