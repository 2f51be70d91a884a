package mocklogger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/goldcoin/popnode/ulogger"
)

// MockLogger is a ulogger.Logger that counts calls per log method and keeps the formatted
// messages, for asserting on what a component logged.
type MockLogger struct {
	mu       sync.Mutex
	calls    map[string]int
	messages []string
}

func NewTestLogger() *MockLogger {
	return &MockLogger{
		calls: make(map[string]int),
	}
}

func (l *MockLogger) LogLevel() int {
	return ulogger.LevelDebug
}

func (l *MockLogger) SetLogLevel(_ string) {}

// New returns a logger sharing this logger's counters.
func (l *MockLogger) New(_ string, _ ...ulogger.Option) ulogger.Logger {
	return l
}

func (l *MockLogger) Duplicate(_ ...ulogger.Option) ulogger.Logger {
	return l
}

func (l *MockLogger) Debugf(format string, args ...interface{}) {
	l.record("Debugf", format, args)
}

func (l *MockLogger) Infof(format string, args ...interface{}) {
	l.record("Infof", format, args)
}

func (l *MockLogger) Warnf(format string, args ...interface{}) {
	l.record("Warnf", format, args)
}

func (l *MockLogger) Errorf(format string, args ...interface{}) {
	l.record("Errorf", format, args)
}

func (l *MockLogger) Fatalf(format string, args ...interface{}) {
	l.record("Fatalf", format, args)
}

func (l *MockLogger) record(method, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls[method]++
	l.messages = append(l.messages, method+": "+fmt.Sprintf(format, args...))
}

// Calls returns how often method was called since the last Reset.
func (l *MockLogger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.calls[method]
}

// Messages returns the formatted messages in call order.
func (l *MockLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.messages...)
}

func (l *MockLogger) AssertNumberOfCalls(t *testing.T, method string, expectedCalls int) {
	t.Helper()

	if actual := l.Calls(method); actual != expectedCalls {
		t.Errorf("Expected %v calls to %s, got %v", expectedCalls, method, actual)
	}
}

func (l *MockLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = make(map[string]int)
	l.messages = nil
}
