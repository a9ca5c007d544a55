package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, TraceLevel included, for assertions.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns a recording Logger.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, logs: logs}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry { return t.logs.All() }

// FilterMessage returns the entries whose message contains snippet.
func (t *TestLogger) FilterMessage(snippet string) *observer.ObservedLogs {
	return t.logs.FilterMessageSnippet(snippet)
}

// Reset discards recorded entries.
func (t *TestLogger) Reset() { t.logs.TakeAll() }

func (t *TestLogger) find(lvl zapcore.Level, snippet string) bool {
	for _, e := range t.logs.All() {
		if e.Level == lvl && strings.Contains(e.Message, snippet) {
			return true
		}
	}
	return false
}

// AssertLogged fails tb unless an entry at lvl contains snippet.
func (t *TestLogger) AssertLogged(tb testing.TB, lvl zapcore.Level, snippet string) {
	tb.Helper()
	if !t.find(lvl, snippet) {
		tb.Errorf("no %s entry containing %q among %d entries", lvl, snippet, t.logs.Len())
	}
}

// AssertNotLogged fails tb if an entry at lvl contains snippet.
func (t *TestLogger) AssertNotLogged(tb testing.TB, lvl zapcore.Level, snippet string) {
	tb.Helper()
	if t.find(lvl, snippet) {
		tb.Errorf("unexpected %s entry containing %q", lvl, snippet)
	}
}

// AssertField fails tb unless an entry whose message contains snippet has
// field key equal to want.
func (t *TestLogger) AssertField(tb testing.TB, snippet, key string, want any) {
	tb.Helper()
	for _, e := range t.FilterMessage(snippet).All() {
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Errorf("no entry containing %q with %s=%v", snippet, key, want)
}
