package base

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// TraceLogger writes provider traffic as JSONL records.
// It is safe for concurrent use.
type TraceLogger struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewTraceLogger creates a trace logger appending to path.
// An empty path disables tracing and returns nil, which all methods accept.
func NewTraceLogger(path string) (*TraceLogger, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &TraceLogger{f: f, enc: json.NewEncoder(f)}, nil
}

func (l *TraceLogger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Log writes one JSON line.
func (l *TraceLogger) Log(v any) error {
	if l == nil || l.enc == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(v)
}

// TraceRecord is a normalized JSONL entry. Type is one of "request",
// "chunk" or "event".
type TraceRecord struct {
	Time     string `json:"time"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
}

func NewTraceRecord(recordType string, data any) TraceRecord {
	return TraceRecord{
		Time: time.Now().UTC().Format(time.RFC3339Nano),
		Type: recordType,
		Data: data,
	}
}
