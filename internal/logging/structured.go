// Package logging provides structured JSON logging for genie components.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// ParseLevel maps a name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelWarn, LevelError:
		return Level(s)
	}
	return LevelInfo
}

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Session   string                 `json:"session,omitempty"`
	Step      string                 `json:"step,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

var (
	sinkMu   sync.Mutex
	sink     io.Writer = os.Stderr
	minLevel           = ParseLevel(os.Getenv("GENIE_LOG_LEVEL"))
)

// SetOutput redirects every logger. Pass io.Discard to silence them.
func SetOutput(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
}

// SetLevel drops events below the given level.
func SetLevel(l Level) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	minLevel = l
}

func write(e Event) {
	data, _ := json.Marshal(e)
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if e.Level.rank() < minLevel.rank() {
		return
	}
	fmt.Fprintln(sink, string(data))
}

// Logger provides structured logging
type Logger struct {
	component string
	session   string
	step      string
	requestID string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithSession sets the session context
func (l *Logger) WithSession(session string) *Logger {
	c := *l
	c.session = session
	return &c
}

// WithStep sets the pipeline step context
func (l *Logger) WithStep(step string) *Logger {
	c := *l
	c.step = step
	return &c
}

// Ctx attaches the trace carried by ctx. Fields the trace leaves empty keep
// the logger's own values.
func (l *Logger) Ctx(ctx context.Context) *Logger {
	tr := TraceFrom(ctx)
	if tr == (Trace{}) {
		return l
	}
	c := *l
	if tr.Session != "" {
		c.session = tr.Session
	}
	if tr.Step != "" {
		c.step = tr.Step
	}
	c.requestID = tr.RequestID
	return &c
}

func (l *Logger) event(level Level, event string, extra map[string]interface{}, err error) Event {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Session:   l.session,
		Step:      l.step,
		RequestID: l.requestID,
		Extra:     extra,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	write(l.event(LevelDebug, event, extra, nil))
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	write(l.event(LevelInfo, event, extra, nil))
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	write(l.event(LevelWarn, event, extra, err))
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	write(l.event(LevelError, event, extra, err))
}

// TimedEvent logs an event with duration. A non-nil err raises it to error level.
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}, err error) {
	level := LevelInfo
	if err != nil {
		level = LevelError
	}
	e := l.event(level, event, extra, err)
	e.Duration = time.Since(start).Milliseconds()
	write(e)
}
