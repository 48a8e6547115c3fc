package taskrun_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okvist/taskrun"
	"github.com/okvist/taskrun/internal/testutil"
)

func TestRegistryLookup(t *testing.T) {
	thinking := &testutil.RecordingStreamTool{Name: "thinking"}
	write := &testutil.EchoTool{Name: "write"}

	reg, err := taskrun.NewRegistry(thinking, write)
	require.NoError(t, err)

	got, ok := reg.Lookup("thinking")
	require.True(t, ok)
	_, streaming := got.(taskrun.StreamingTool)
	assert.True(t, streaming)

	got, ok = reg.Lookup("write")
	require.True(t, ok)
	_, buffering := got.(taskrun.BufferingTool)
	assert.True(t, buffering)

	_, ok = reg.Lookup("nope")
	assert.False(t, ok)

	assert.Len(t, reg.Specs(), 2)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := taskrun.NewRegistry(
		&testutil.EchoTool{Name: "write"},
		&testutil.EchoTool{Name: "write"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	_, err := taskrun.NewRegistry(&testutil.EchoTool{})
	require.Error(t, err)
}

type specOnlyTool struct{}

func (specOnlyTool) Spec() taskrun.ToolSpec { return taskrun.ToolSpec{Name: "odd"} }

func TestRegistryRejectsUnclassifiedTool(t *testing.T) {
	_, err := taskrun.NewRegistry(specOnlyTool{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither streaming nor buffering")
}

func TestRegistryCompletionToolName(t *testing.T) {
	reg, err := taskrun.NewRegistry(taskrun.CompletionTool{})
	require.NoError(t, err)
	assert.Equal(t, taskrun.DefaultCompletionTool, reg.CompletionTool())

	reg.SetCompletionTool("finish")
	assert.Equal(t, "finish", reg.CompletionTool())
}
