package taskrun_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okvist/taskrun"
	"github.com/okvist/taskrun/internal/testutil"
)

// fixture bundles a registry with handles to its recording tools.
type fixture struct {
	reg      *taskrun.Registry
	thinking *testutil.RecordingStreamTool
	foo      *testutil.EchoTool
	write    *testutil.EchoTool
	events   []testutil.ToolEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		thinking: &testutil.RecordingStreamTool{Name: "thinking"},
		foo:      &testutil.EchoTool{Name: "foo", ParamNames: []string{"a", "b"}},
		write:    &testutil.EchoTool{Name: "write", ParamNames: []string{"path", "content"}},
	}
	reg, err := taskrun.NewRegistry(f.thinking, f.foo, f.write)
	require.NoError(t, err)
	f.reg = reg
	return f
}

func (f *fixture) parser() *taskrun.Parser {
	return taskrun.NewParser(f.reg, testutil.CollectEvents(&f.events))
}

func TestParserSingleChunk(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<foo><a>1</a></foo>"))
	require.NoError(t, p.End())

	require.Equal(t, []testutil.ToolEvent{
		{Name: "foo", Params: map[string]string{"a": "1"}},
	}, f.events)
}

func TestParserChunkingInvariance(t *testing.T) {
	inputs := []string{
		"<foo><a>1</a></foo>",
		"<foo><a>1</a><b>2</b></foo>",
		"<thinking>hello world</thinking>",
		"<thinking>a<b</thinking>",
		"<foo><a>1</a></foo>\n<write><path>x.txt</path><content>hi</content></write>",
		"  <foo></foo>  ",
		"<write><content><tag>not-xml</tag></content></write>",
		"<write>free text<path>p</path></write>",
	}

	for _, input := range inputs {
		// Reference: single write.
		ref := newFixture(t)
		p := ref.parser()
		require.NoError(t, p.Write(input), "input %q", input)
		require.NoError(t, p.End(), "input %q", input)
		require.NotEmpty(t, ref.events, "input %q", input)

		// One byte at a time.
		f := newFixture(t)
		p = f.parser()
		for i := 0; i < len(input); i++ {
			require.NoError(t, p.Write(input[i:i+1]), "input %q byte %d", input, i)
		}
		require.NoError(t, p.End())
		assert.Equal(t, ref.events, f.events, "byte-at-a-time of %q", input)

		// Every two-chunk split.
		for cut := 1; cut < len(input); cut++ {
			f := newFixture(t)
			p := f.parser()
			require.NoError(t, p.Write(input[:cut]), "input %q cut %d", input, cut)
			require.NoError(t, p.Write(input[cut:]), "input %q cut %d", input, cut)
			require.NoError(t, p.End())
			assert.Equal(t, ref.events, f.events, "split of %q at %d", input, cut)
		}
	}
}

func TestParserClosingTagSplitAcrossChunks(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<thinking>hello</thi"))
	require.NoError(t, p.Write("nking>"))
	require.NoError(t, p.End())

	assert.Equal(t, "hello", f.thinking.Content())
	for _, frag := range f.thinking.Fragments {
		assert.NotContains(t, frag, "</thi")
	}
	require.Equal(t, []testutil.ToolEvent{
		{Name: "thinking", Params: map[string]string{"content": "hello"}},
	}, f.events)
	assert.Equal(t, 1, f.thinking.Finalized)
}

func TestParserLiteralParameterContent(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<write><content><tag>not-xml</tag></content></write>"))
	require.NoError(t, p.End())

	require.Equal(t, []testutil.ToolEvent{
		{Name: "write", Params: map[string]string{"content": "<tag>not-xml</tag>"}},
	}, f.events)
}

func TestParserParamClosingTagSplit(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<write><content>a</conten"))
	require.NoError(t, p.Write("t></write>"))
	require.NoError(t, p.End())

	require.Equal(t, []testutil.ToolEvent{
		{Name: "write", Params: map[string]string{"content": "a"}},
	}, f.events)
}

func TestParserStreamingForwardingOrder(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<thinking>"))
	require.NoError(t, p.Write("AB"))
	require.NoError(t, p.Write("CD"))
	require.NoError(t, p.Write("</thinking>"))
	require.NoError(t, p.End())

	assert.Equal(t, []string{"AB", "CD"}, f.thinking.Fragments)
	require.Equal(t, []testutil.ToolEvent{
		{Name: "thinking", Params: map[string]string{"content": "ABCD"}},
	}, f.events)
}

func TestParserIdleTextRejected(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	err := p.Write("stray text<foo></foo>")
	var pe *taskrun.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, taskrun.ParseErrUnexpectedText, pe.Kind)

	// The offending text is consumed; the tool element still parses.
	require.NoError(t, p.End())
	require.Equal(t, []testutil.ToolEvent{
		{Name: "foo", Params: map[string]string{}},
	}, f.events)
}

func TestParserWhitespaceOutsideToolsAllowed(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("  \n<foo></foo>\n\t "))
	require.NoError(t, p.End())
	require.Len(t, f.events, 1)
}

func TestParserMismatchedClosingTag(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	err := p.Write("<foo>x</bar>")
	var pe *taskrun.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, taskrun.ParseErrMismatchedClosingTag, pe.Kind)
	assert.Contains(t, pe.Message, "bar")
	assert.Contains(t, pe.Message, "foo")
	assert.Empty(t, f.events)
}

func TestParserUnexpectedClosingTagIdle(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	err := p.Write("</foo>")
	var pe *taskrun.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, taskrun.ParseErrUnexpectedClosingTag, pe.Kind)
}

func TestParserTruncationDetected(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<foo><a>1"))
	err := p.End()
	var se *taskrun.StreamEndError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "foo/a", se.OpenElement)
	assert.Empty(t, f.events)
}

func TestParserEndFlushesOpenStreamingTool(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<thinking>partial thou"))
	require.NoError(t, p.End())

	assert.Equal(t, "partial thou", f.thinking.Content())
	assert.Equal(t, 1, f.thinking.Finalized)
	require.Equal(t, []testutil.ToolEvent{
		{Name: "thinking", Params: map[string]string{"content": "partial thou"}},
	}, f.events)
}

func TestParserEndWithHeldBackClosingPrefix(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	// "</thi" is held back as a possible closing-tag prefix; at end of
	// stream it turns out to be plain content and must still reach the sink.
	require.NoError(t, p.Write("<thinking>x</thi"))
	require.NoError(t, p.End())

	assert.Equal(t, "x</thi", f.thinking.Content())
}

func TestParserEndIncompleteTagInIdle(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<fo"))
	err := p.End()
	var pe *taskrun.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, taskrun.ParseErrIncompleteStream, pe.Kind)
}

func TestParserUnknownTool(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	err := p.Write("<nope>")
	require.ErrorIs(t, err, taskrun.ErrToolNotFound)
}

func TestParserToolInsideToolBody(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	err := p.Write("<write><foo>")
	var pe *taskrun.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, taskrun.ParseErrIllegalNesting, pe.Kind)
}

func TestParserTagInsideStreamingTool(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	err := p.Write("<thinking>a<b>c")
	var pe *taskrun.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, taskrun.ParseErrIllegalNesting, pe.Kind)
	assert.Equal(t, "a", f.thinking.Content())
}

func TestParserLoneAngleBracketStreams(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<thinking>a < b</thinking>"))
	require.NoError(t, p.End())
	assert.Equal(t, "a < b", f.thinking.Content())
}

func TestParserImplicitContentParam(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<write>free text<path>p</path></write>"))
	require.NoError(t, p.End())
	require.Equal(t, []testutil.ToolEvent{
		{Name: "write", Params: map[string]string{"content": "free text", "path": "p"}},
	}, f.events)
}

func TestParserWhitespaceBodyNotRecordedAsContent(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<write>\n  <path>p</path>\n</write>"))
	require.NoError(t, p.End())
	require.Equal(t, []testutil.ToolEvent{
		{Name: "write", Params: map[string]string{"path": "p"}},
	}, f.events)
}

func TestParserExplicitContentParamWins(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<write>loose<content>explicit</content></write>"))
	require.NoError(t, p.End())
	require.Equal(t, []testutil.ToolEvent{
		{Name: "write", Params: map[string]string{"content": "explicit"}},
	}, f.events)
}

func TestParserMultipleToolsInOrder(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	doc := "<thinking>plan</thinking>\n<foo><a>1</a></foo>\n<write><path>out</path></write>"
	for _, ev := range testutil.TextChunks(doc, 7) {
		require.NoError(t, p.Write(ev.(taskrun.TextEvent).Text))
	}
	require.NoError(t, p.End())

	require.Equal(t, []testutil.ToolEvent{
		{Name: "thinking", Params: map[string]string{"content": "plan"}},
		{Name: "foo", Params: map[string]string{"a": "1"}},
		{Name: "write", Params: map[string]string{"path": "out"}},
	}, f.events)
}

func TestParserRecoversAfterError(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	err := p.Write("junk ")
	require.Error(t, err)
	require.NoError(t, p.Write("<foo><a>1</a></foo>"))
	require.NoError(t, p.End())
	require.Len(t, f.events, 1)
}

func TestParserEndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	require.NoError(t, p.Write("<thinking>x"))
	require.NoError(t, p.End())
	require.NoError(t, p.End())
	assert.Equal(t, 1, f.thinking.Finalized)
	assert.Len(t, f.events, 1)
}

func TestParserErrorMessageTruncatesLongText(t *testing.T) {
	f := newFixture(t)
	p := f.parser()

	err := p.Write(strings.Repeat("x", 500))
	var pe *taskrun.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Less(t, len(pe.Message), 120)
}

func TestParserStreamEndErrorWording(t *testing.T) {
	f := newFixture(t)
	p := f.parser()
	require.NoError(t, p.Write("<foo>"))
	err := p.End()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream ended while still inside element")
	assert.False(t, errors.Is(err, taskrun.ErrToolNotFound))
}
