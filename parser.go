package taskrun

import (
	"fmt"
	"strings"
)

// parserMode is the parser state. Exactly one mode is active at any time.
type parserMode int

const (
	modeIdle parserMode = iota
	modeStreaming
	modeParsing
)

// maxTagName bounds how long a run of name characters may grow before the
// parser stops waiting for a closing '>' and treats the run as plain text.
const maxTagName = 256

// Parser is an incremental parser for the XML-like tool-call grammar embedded
// in model output. It consumes arbitrarily chunked text fragments and emits
// one tool-call event per completed tool element, regardless of where chunk
// boundaries fall.
//
// The grammar is a single nesting level: tool elements at the top, parameter
// elements directly inside buffering tools. Parameter text is opaque and
// never reparsed, so parameter values may contain angle brackets.
//
// A Parser is owned by one task turn, driven synchronously through Write and
// End, and discarded afterwards. It is not safe for concurrent use.
type Parser struct {
	registry     *Registry
	onToolParsed func(name string, params map[string]string)

	mode     parserMode
	toolName string

	// streaming state
	streamTool StreamingTool
	streamed   strings.Builder

	// parsing (buffering) state
	params    map[string]string
	inParam   bool
	paramName string
	paramText strings.Builder
	freeText  strings.Builder

	// buf holds unconsumed trailing text carried across Write calls: either
	// an incomplete tag or text held back because it might be the prefix of
	// an awaited closing tag.
	buf   string
	ended bool
}

// NewParser builds a parser over the registry. onToolParsed is invoked
// synchronously, exactly once per completed tool element, in closing-tag
// order. For streaming tools the map holds the concatenation of all
// forwarded fragments under the key "content".
func NewParser(reg *Registry, onToolParsed func(name string, params map[string]string)) *Parser {
	return &Parser{
		registry:     reg,
		onToolParsed: onToolParsed,
	}
}

// Write feeds one text fragment. It may synchronously invoke zero or more
// tool-call callbacks. A returned ParseError is recoverable: the offending
// text has been consumed and subsequent writes continue from a clean state.
func (p *Parser) Write(fragment string) error {
	p.buf += fragment
	return p.consume()
}

// End signals stream completion. A still-open streaming tool is flushed,
// finalized and emitted exactly as a mid-stream close would have done; a
// still-open buffering element yields a StreamEndError, and non-whitespace
// residue outside any element yields an incomplete-stream ParseError.
func (p *Parser) End() error {
	if p.ended {
		return nil
	}
	p.ended = true

	consumeErr := p.consume()

	switch p.mode {
	case modeStreaming:
		// Held-back text turned out not to be the closing tag after all.
		p.forwardStream(p.buf)
		p.buf = ""
		p.closeStreaming()
		return consumeErr
	case modeParsing:
		open := p.toolName
		if p.inParam {
			open += "/" + p.paramName
		}
		p.reset()
		if consumeErr != nil {
			return consumeErr
		}
		return &StreamEndError{OpenElement: open}
	default:
		residue := p.buf
		p.buf = ""
		if consumeErr != nil {
			return consumeErr
		}
		if strings.TrimSpace(residue) != "" {
			return parseErrorf(ParseErrIncompleteStream, "incomplete XML stream at end: %q", snippet(residue))
		}
		return nil
	}
}

// consume processes as much of the buffer as the current input allows,
// stopping at the first error or when only holdback text remains.
func (p *Parser) consume() error {
	for {
		var progress bool
		var err error
		switch p.mode {
		case modeIdle:
			progress, err = p.consumeIdle()
		case modeStreaming:
			progress, err = p.consumeStreaming()
		case modeParsing:
			if p.inParam {
				progress, err = p.consumeParamText()
			} else {
				progress, err = p.consumeToolBody()
			}
		}
		if err != nil {
			return err
		}
		if !progress {
			return nil
		}
	}
}

func (p *Parser) consumeIdle() (bool, error) {
	trimmed := strings.TrimLeft(p.buf, " \t\r\n")
	if trimmed == "" {
		p.buf = ""
		return false, nil
	}
	p.buf = trimmed

	if p.buf[0] != '<' {
		// Outside elements only whitespace is legal.
		idx := strings.IndexByte(p.buf, '<')
		var bad string
		if idx == -1 {
			bad, p.buf = p.buf, ""
		} else {
			bad, p.buf = p.buf[:idx], p.buf[idx:]
		}
		return true, parseErrorf(ParseErrUnexpectedText, "unexpected text outside of a tool element: %q", snippet(bad))
	}

	name, closing, n, st := scanTag(p.buf)
	switch st {
	case tagNeedMore:
		// Might be the start of a tool tag split across chunks.
		return false, nil
	case tagInvalid:
		p.buf = p.buf[1:]
		return true, parseErrorf(ParseErrUnexpectedText, "unexpected text outside of a tool element: %q", "<")
	}

	p.buf = p.buf[n:]
	if closing {
		return true, parseErrorf(ParseErrUnexpectedClosingTag, "unexpected closing tag </%s> outside of a tool element", name)
	}

	tool, ok := p.registry.Lookup(name)
	if !ok {
		return true, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	p.toolName = name
	switch t := tool.(type) {
	case StreamingTool:
		p.mode = modeStreaming
		p.streamTool = t
		p.streamed.Reset()
	case BufferingTool:
		p.mode = modeParsing
		p.params = make(map[string]string)
		p.freeText.Reset()
	}
	return true, nil
}

func (p *Parser) consumeStreaming() (bool, error) {
	closing := "</" + p.toolName + ">"
	for {
		lt := strings.IndexByte(p.buf, '<')
		if lt == -1 {
			p.forwardStream(p.buf)
			p.buf = ""
			return false, nil
		}
		if lt > 0 {
			p.forwardStream(p.buf[:lt])
			p.buf = p.buf[lt:]
		}

		if strings.HasPrefix(p.buf, closing) {
			p.buf = p.buf[len(closing):]
			p.closeStreaming()
			return true, nil
		}
		if len(p.buf) < len(closing) && strings.HasPrefix(closing, p.buf) {
			// Possible prefix of our closing tag split across chunks; never
			// forward it until more input disambiguates.
			return false, nil
		}

		name, isClosing, n, st := scanTag(p.buf)
		switch st {
		case tagNeedMore:
			return false, nil
		case tagInvalid:
			// A lone '<' that cannot start a tag is plain streamed text.
			p.forwardStream("<")
			p.buf = p.buf[1:]
			continue
		}

		p.buf = p.buf[n:]
		if isClosing {
			return true, parseErrorf(ParseErrMismatchedClosingTag, "mismatched closing tag </%s>, expected </%s>", name, p.toolName)
		}
		return true, parseErrorf(ParseErrIllegalNesting, "unexpected tag <%s> inside streaming tool <%s>", name, p.toolName)
	}
}

func (p *Parser) consumeToolBody() (bool, error) {
	lt := strings.IndexByte(p.buf, '<')
	if lt == -1 {
		p.freeText.WriteString(p.buf)
		p.buf = ""
		return false, nil
	}
	if lt > 0 {
		p.freeText.WriteString(p.buf[:lt])
		p.buf = p.buf[lt:]
	}

	name, closing, n, st := scanTag(p.buf)
	switch st {
	case tagNeedMore:
		return false, nil
	case tagInvalid:
		p.freeText.WriteString("<")
		p.buf = p.buf[1:]
		return true, nil
	}

	p.buf = p.buf[n:]
	if closing {
		if name != p.toolName {
			return true, parseErrorf(ParseErrMismatchedClosingTag, "mismatched closing tag </%s>, expected </%s>", name, p.toolName)
		}
		p.closeParsing()
		return true, nil
	}

	// One nesting level only: a registered tool cannot open inside a tool body.
	if _, isTool := p.registry.Lookup(name); isTool {
		return true, parseErrorf(ParseErrIllegalNesting, "tool element <%s> opened inside <%s>", name, p.toolName)
	}
	p.inParam = true
	p.paramName = name
	p.paramText.Reset()
	return true, nil
}

func (p *Parser) consumeParamText() (bool, error) {
	// Parameter text is an opaque literal: scan only for the exact closing
	// tag, holding back the longest buffer suffix that could be its prefix.
	closing := "</" + p.paramName + ">"
	if idx := strings.Index(p.buf, closing); idx >= 0 {
		p.paramText.WriteString(p.buf[:idx])
		p.buf = p.buf[idx+len(closing):]
		p.params[p.paramName] = p.paramText.String()
		p.inParam = false
		p.paramName = ""
		p.paramText.Reset()
		return true, nil
	}
	hb := holdback(p.buf, closing)
	p.paramText.WriteString(p.buf[:len(p.buf)-hb])
	p.buf = p.buf[len(p.buf)-hb:]
	return false, nil
}

func (p *Parser) forwardStream(s string) {
	if s == "" {
		return
	}
	p.streamed.WriteString(s)
	p.streamTool.Stream(s)
}

func (p *Parser) closeStreaming() {
	p.streamTool.Finalize()
	name := p.toolName
	content := p.streamed.String()
	p.reset()
	p.emit(name, map[string]string{"content": content})
}

func (p *Parser) closeParsing() {
	name := p.toolName
	params := p.params
	if free := p.freeText.String(); strings.TrimSpace(free) != "" {
		if _, explicit := params["content"]; !explicit {
			params["content"] = free
		}
	}
	p.reset()
	p.emit(name, params)
}

func (p *Parser) emit(name string, params map[string]string) {
	if p.onToolParsed != nil {
		p.onToolParsed(name, params)
	}
}

func (p *Parser) reset() {
	p.mode = modeIdle
	p.toolName = ""
	p.streamTool = nil
	p.streamed.Reset()
	p.params = nil
	p.inParam = false
	p.paramName = ""
	p.paramText.Reset()
	p.freeText.Reset()
}

type tagStatus int

const (
	tagOK tagStatus = iota
	tagNeedMore
	tagInvalid
)

// scanTag reads one tag at the start of s, which must begin with '<'.
// It returns the tag name, whether it is a closing tag and the number of
// bytes the tag spans. tagNeedMore means s is a valid tag prefix that needs
// more input; tagInvalid means s cannot be a tag at all.
func scanTag(s string) (name string, closing bool, n int, st tagStatus) {
	i := 1
	if i < len(s) && s[i] == '/' {
		closing = true
		i++
	}
	start := i
	for i < len(s) && isNameByte(s[i]) {
		i++
		if i-start > maxTagName {
			return "", false, 0, tagInvalid
		}
	}
	if i == len(s) {
		return "", false, 0, tagNeedMore
	}
	if i == start || s[i] != '>' {
		return "", false, 0, tagInvalid
	}
	return s[start:i], closing, i + 1, tagOK
}

func isNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' ||
		b >= 'A' && b <= 'Z' ||
		b >= '0' && b <= '9' ||
		b == '_' || b == '-'
}

// holdback returns the length of the longest proper suffix of s that is a
// prefix of needle. That suffix must stay buffered: it may be the start of
// the awaited closing tag split across chunk boundaries.
func holdback(s, needle string) int {
	max := len(needle) - 1
	if max > len(s) {
		max = len(s)
	}
	for l := max; l > 0; l-- {
		if strings.HasPrefix(needle, s[len(s)-l:]) {
			return l
		}
	}
	return 0
}

func snippet(s string) string {
	const limit = 40
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
