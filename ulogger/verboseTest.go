package ulogger

import (
	"sync"
	"testing"
)

// VerboseTestLogger writes through t.Logf, so the output of a component shows up next to
// the failing test. Loggers derived with New share the test and stop writing once the test
// has finished.
type VerboseTestLogger struct {
	t       testing.TB
	service string
	level   int
	state   *verboseState
}

type verboseState struct {
	mu   sync.Mutex
	done bool
}

func NewVerboseTestLogger(t testing.TB) *VerboseTestLogger {
	state := &verboseState{}

	t.Cleanup(func() {
		state.mu.Lock()
		state.done = true
		state.mu.Unlock()
	})

	return &VerboseTestLogger{t: t, service: "test", level: LevelDebug, state: state}
}

func (l *VerboseTestLogger) LogLevel() int {
	return l.level
}

func (l *VerboseTestLogger) SetLogLevel(level string) {
	l.level = lookupLevel(level).level
}

func (l *VerboseTestLogger) New(service string, options ...Option) Logger {
	n := *l
	n.service = service

	return n.Duplicate(options...)
}

// Duplicate honours the log level option only.
func (l *VerboseTestLogger) Duplicate(options ...Option) Logger {
	n := *l

	opts := &Options{}
	for _, o := range options {
		o(opts)
	}

	if opts.logLevel != "" {
		n.SetLogLevel(opts.logLevel)
	}

	return &n
}

func (l *VerboseTestLogger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, "DEBUG", format, args)
}

func (l *VerboseTestLogger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, "INFO", format, args)
}

func (l *VerboseTestLogger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, "WARN", format, args)
}

func (l *VerboseTestLogger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, "ERROR", format, args)
}

// Fatalf fails the test without stopping the calling goroutine, which may not be the test's.
func (l *VerboseTestLogger) Fatalf(format string, args ...interface{}) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()

	if !l.state.done {
		l.t.Errorf("[FATAL] "+l.service+" | "+format, args...)
	}
}

func (l *VerboseTestLogger) logf(level int, name, format string, args []interface{}) {
	if level < l.level {
		return
	}

	l.state.mu.Lock()
	defer l.state.mu.Unlock()

	if !l.state.done {
		l.t.Logf("["+name+"] "+l.service+" | "+format, args...)
	}
}
