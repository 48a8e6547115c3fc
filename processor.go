package taskrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Processor glues the tool registry into a parser for one task turn: it
// drives the parser from the model stream, executes buffering tools as their
// closing tags arrive, accumulates usage and quarantines parse errors.
type Processor struct {
	registry *Registry

	// emit, when set, receives task events for every text fragment and tool
	// execution. Used by the task stream; attempt numbering is stamped there.
	emit func(TaskEvent)
}

// NewProcessor builds a processor over the registry.
func NewProcessor(reg *Registry) *Processor {
	return &Processor{registry: reg}
}

// Process consumes one model stream to exhaustion and returns the turn
// metadata. Parse and truncation errors are recorded in the metadata, never
// returned; the returned error is reserved for stream-source failures and
// for references to unregistered tools.
//
// Completion policy: the designated completion tool marks the turn complete,
// but the stream is still drained and End is still called, so errors after
// the completion call remain visible in the metadata.
func (pr *Processor) Process(ctx context.Context, stream ModelStream, taskID, input string) (*Metadata, error) {
	meta := &Metadata{TaskID: taskID, Input: input}
	var out strings.Builder

	parser := NewParser(pr.registry, func(name string, params map[string]string) {
		pr.handleToolParsed(ctx, meta, name, params)
	})

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			meta.Output = out.String()
			return meta, err
		}

		switch e := ev.(type) {
		case TextEvent:
			out.WriteString(e.Text)
			pr.send(TaskEvent{Type: TaskEventText, Text: e.Text})
			if werr := parser.Write(e.Text); werr != nil {
				if fatal := pr.recordParserError(meta, werr); fatal != nil {
					meta.Output = out.String()
					return meta, fatal
				}
			}
		case UsageEvent:
			meta.Usage.Add(e)
		}
	}

	if eerr := parser.End(); eerr != nil {
		if fatal := pr.recordParserError(meta, eerr); fatal != nil {
			meta.Output = out.String()
			return meta, fatal
		}
	}

	meta.Output = out.String()
	return meta, nil
}

// recordParserError quarantines a parser error into the metadata. A non-nil
// return is fatal to the turn (registry misconfiguration).
func (pr *Processor) recordParserError(meta *Metadata, err error) error {
	var se *StreamEndError
	var pe *ParseError
	switch {
	case errors.Is(err, ErrToolNotFound):
		return err
	case errors.As(err, &se):
		meta.recordError(ErrorKindStreamEnd, se.Error())
	case errors.As(err, &pe):
		meta.recordError(ErrorKindParse, pe.Message)
	default:
		meta.recordError(ErrorKindParse, err.Error())
	}
	return nil
}

func (pr *Processor) handleToolParsed(ctx context.Context, meta *Metadata, name string, params map[string]string) {
	rec := ToolCallRecord{
		Name:      name,
		Params:    params,
		Timestamp: time.Now().UnixMilli(),
	}

	if name == pr.registry.CompletionTool() {
		rec.Result = &ToolResult{Content: params["result"]}
		meta.recordCall(rec)
		if meta.Completion == nil {
			c := rec
			meta.Completion = &c
		}
		return
	}

	tool, _ := pr.registry.Lookup(name)
	switch t := tool.(type) {
	case BufferingTool:
		pr.send(TaskEvent{Type: TaskEventToolStart, ToolName: name, ToolParams: params})
		res, err := t.Execute(ctx, params)
		if err != nil {
			res = ToolResult{Content: err.Error(), IsError: true}
			meta.recordError(ErrorKindTool, fmt.Sprintf("%s: %v", name, err))
		}
		rec.Result = &res
		pr.send(TaskEvent{Type: TaskEventToolEnd, ToolName: name, ToolParams: params, ToolResult: &res})
	case StreamingTool:
		// Synthesized close event; content already went through the sink.
		rec.Result = &ToolResult{Content: params["content"]}
	}
	meta.recordCall(rec)
}

func (pr *Processor) send(ev TaskEvent) {
	if pr.emit != nil {
		pr.emit(ev)
	}
}
