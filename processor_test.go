package taskrun_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okvist/taskrun"
	"github.com/okvist/taskrun/internal/testutil"
)

type procFixture struct {
	reg        *taskrun.Registry
	thinking   *testutil.RecordingStreamTool
	write      *testutil.EchoTool
	completion *testutil.EchoTool
}

func newProcFixture(t *testing.T) *procFixture {
	t.Helper()
	f := &procFixture{
		thinking:   &testutil.RecordingStreamTool{Name: "thinking"},
		write:      &testutil.EchoTool{Name: "write", ParamNames: []string{"path", "content"}},
		completion: &testutil.EchoTool{Name: taskrun.DefaultCompletionTool, ParamNames: []string{"result"}},
	}
	reg, err := taskrun.NewRegistry(f.thinking, f.write, f.completion)
	require.NoError(t, err)
	f.reg = reg
	return f
}

func (f *procFixture) process(t *testing.T, events ...taskrun.StreamEvent) *taskrun.Metadata {
	t.Helper()
	meta, err := taskrun.NewProcessor(f.reg).Process(context.Background(), testutil.NewScriptStream(events...), "task-1", "do it")
	require.NoError(t, err)
	return meta
}

func TestProcessorUsageIsAdditive(t *testing.T) {
	f := newProcFixture(t)
	meta := f.process(t,
		taskrun.UsageEvent{InputTokens: 10},
		testutil.Text("<write><path>a</path></write>"),
		taskrun.UsageEvent{InputTokens: 5, OutputTokens: 7, CacheWriteTokens: 2, CacheReadTokens: 3, TotalCost: 0.25},
		taskrun.UsageEvent{OutputTokens: 1, TotalCost: 0.05},
	)

	assert.Equal(t, 15, meta.Usage.TokensIn)
	assert.Equal(t, 8, meta.Usage.TokensOut)
	assert.Equal(t, 2, meta.Usage.CacheWrites)
	assert.Equal(t, 3, meta.Usage.CacheReads)
	assert.InDelta(t, 0.30, meta.Usage.Cost, 1e-9)
}

func TestProcessorExecutesBufferingTools(t *testing.T) {
	f := newProcFixture(t)
	meta := f.process(t, testutil.Text("<write><path>a.txt</path><content>hi</content></write>"))

	require.Len(t, f.write.Calls, 1)
	assert.Equal(t, map[string]string{"path": "a.txt", "content": "hi"}, f.write.Calls[0])

	require.Len(t, meta.ToolCalls, 1)
	rec := meta.ToolCalls[0]
	assert.Equal(t, "write", rec.Name)
	require.NotNil(t, rec.Result)
	assert.False(t, rec.Result.IsError)
	assert.Empty(t, meta.Errors)
	assert.False(t, meta.Completed())
}

func TestProcessorRecordsStreamingToolCalls(t *testing.T) {
	f := newProcFixture(t)
	meta := f.process(t,
		testutil.Text("<thinking>step "),
		testutil.Text("one</thinking>"),
	)

	assert.Equal(t, "step one", f.thinking.Content())
	require.Len(t, meta.ToolCalls, 1)
	assert.Equal(t, "thinking", meta.ToolCalls[0].Name)
	require.NotNil(t, meta.ToolCalls[0].Result)
	assert.Equal(t, "step one", meta.ToolCalls[0].Result.Content)
}

func TestProcessorQuarantinesParseErrors(t *testing.T) {
	f := newProcFixture(t)
	meta := f.process(t,
		testutil.Text("oops "),
		testutil.Text("<write><path>a</path></write>"),
	)

	require.Len(t, meta.Errors, 1)
	assert.Equal(t, taskrun.ErrorKindParse, meta.Errors[0].Kind)
	assert.NotZero(t, meta.Errors[0].Timestamp)
	// Processing continued: the well-formed call still ran.
	require.Len(t, meta.ToolCalls, 1)
	require.Len(t, f.write.Calls, 1)
}

func TestProcessorRecordsTruncationDistinctly(t *testing.T) {
	f := newProcFixture(t)
	meta := f.process(t,
		testutil.Text("<write><path>a</path></write><write><path>b"),
	)

	// The completed call is preserved.
	require.Len(t, meta.ToolCalls, 1)
	require.Len(t, meta.Errors, 1)
	assert.Equal(t, taskrun.ErrorKindStreamEnd, meta.Errors[0].Kind)
	assert.Contains(t, meta.Errors[0].Message, "stream ended")
}

func TestProcessorCompletionRecordedNotExecuted(t *testing.T) {
	f := newProcFixture(t)
	meta := f.process(t,
		testutil.Text("<attempt_completion><result>all done</result></attempt_completion>"),
	)

	require.True(t, meta.Completed())
	require.NotNil(t, meta.Completion.Result)
	assert.Equal(t, "all done", meta.Completion.Result.Content)
	// The registered descriptor is never invoked for the completion handshake.
	assert.Empty(t, f.completion.Calls)
	require.Len(t, meta.ToolCalls, 1)
}

func TestProcessorDrainsStreamAfterCompletion(t *testing.T) {
	f := newProcFixture(t)
	meta := f.process(t,
		testutil.Text("<attempt_completion><result>done</result></attempt_completion>"),
		testutil.Text("trailing junk"),
		taskrun.UsageEvent{OutputTokens: 4},
	)

	assert.True(t, meta.Completed())
	// Full-drain policy: errors and usage after the completion call stay visible.
	require.Len(t, meta.Errors, 1)
	assert.Equal(t, taskrun.ErrorKindParse, meta.Errors[0].Kind)
	assert.Equal(t, 4, meta.Usage.TokensOut)
}

func TestProcessorToolErrorDoesNotAbortTurn(t *testing.T) {
	f := newProcFixture(t)
	f.write.Err = errors.New("disk full")
	meta := f.process(t,
		testutil.Text("<write><path>a</path></write><thinking>still going</thinking>"),
	)

	require.Len(t, meta.ToolCalls, 2)
	require.NotNil(t, meta.ToolCalls[0].Result)
	assert.True(t, meta.ToolCalls[0].Result.IsError)
	assert.Equal(t, "disk full", meta.ToolCalls[0].Result.Content)

	require.Len(t, meta.Errors, 1)
	assert.Equal(t, taskrun.ErrorKindTool, meta.Errors[0].Kind)
	assert.Equal(t, "still going", f.thinking.Content())
}

func TestProcessorUnknownToolIsFatal(t *testing.T) {
	f := newProcFixture(t)
	stream := testutil.NewScriptStream(testutil.Text("<mystery><a>1</a></mystery>"))
	_, err := taskrun.NewProcessor(f.reg).Process(context.Background(), stream, "task-1", "in")
	require.ErrorIs(t, err, taskrun.ErrToolNotFound)
}

func TestProcessorStreamFailurePropagates(t *testing.T) {
	f := newProcFixture(t)
	boom := errors.New("connection reset")
	stream := testutil.NewScriptStream(testutil.Text("<write><path>a</path></write>")).FailWith(boom)

	meta, err := taskrun.NewProcessor(f.reg).Process(context.Background(), stream, "task-1", "in")
	require.ErrorIs(t, err, boom)
	// Work done before the failure is preserved on the partial metadata.
	require.Len(t, meta.ToolCalls, 1)
}

func TestProcessorMetadataIdentity(t *testing.T) {
	f := newProcFixture(t)
	meta := f.process(t, testutil.Text("<thinking>x</thinking>"))

	assert.Equal(t, "task-1", meta.TaskID)
	assert.Equal(t, "do it", meta.Input)
	assert.Equal(t, "<thinking>x</thinking>", meta.Output)
}
