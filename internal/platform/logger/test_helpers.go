package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// LogEntry is one decoded JSON log line.
type LogEntry map[string]any

// Message returns the entry's msg attribute.
func (e LogEntry) Message() string {
	s, _ := e[slog.MessageKey].(string)
	return s
}

// Level returns the entry's level attribute, e.g. "WARN".
func (e LogEntry) Level() string {
	s, _ := e[slog.LevelKey].(string)
	return s
}

// TestLogBuffer collects log output from concurrent goroutines, such as
// dispatcher workers or hub pumps, for assertions in tests.
type TestLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Reset discards everything logged so far.
func (b *TestLogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// Entries decodes every non-empty line as a JSON log entry.
func (b *TestLogBuffer) Entries() ([]LogEntry, error) {
	var entries []LogEntry
	sc := bufio.NewScanner(strings.NewReader(b.String()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("log line %d is not JSON: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// Find returns the first entry whose message is msg.
func (b *TestLogBuffer) Find(msg string) (LogEntry, bool) {
	entries, err := b.Entries()
	if err != nil {
		return nil, false
	}
	for _, e := range entries {
		if e.Message() == msg {
			return e, true
		}
	}
	return nil, false
}

// NewTestLogger returns a debug-level JSON logger writing into a fresh
// TestLogBuffer. The default slog logger is left untouched.
func NewTestLogger() (*slog.Logger, *TestLogBuffer) {
	buf := &TestLogBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
