// Package observability provides the structured logging surface shared by
// the bus internals.
package observability

import (
	"sync/atomic"

	"github.com/coachpo/typebus/core/events"
)

// Field is one structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// F builds an ad-hoc field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// TypeField tags an entry with a channel's payload type.
func TypeField(key events.TypeKey) Field {
	return Field{Key: "type", Value: key.String()}
}

// EventField tags an entry with a channel-assigned event id.
func EventField(id events.EventID) Field {
	return Field{Key: "event_id", Value: uint64(id)}
}

// ListenerField tags an entry with the consuming listener's id.
func ListenerField(id events.ListenerID) Field {
	return Field{Key: "listener_id", Value: uint64(id)}
}

// PublisherField tags an entry with the emitting publisher's id.
func PublisherField(id events.PublisherID) Field {
	return Field{Key: "publisher_id", Value: uint64(id)}
}

// Logger receives structured entries from the bus. Implementations must be
// safe for concurrent use: every handle a bus gives out may log.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// The process-wide logger defaults to a silent sink so importing the bus
// costs nothing until a logger is installed. The pointer swap keeps
// SetLogger safe against concurrent Log callers.
var global atomic.Pointer[loggerBox]

type loggerBox struct {
	l Logger
}

func init() {
	global.Store(&loggerBox{l: silentLogger{}})
}

// SetLogger installs logger as the process-wide default. Passing nil
// restores the silent sink.
func SetLogger(logger Logger) {
	if logger == nil {
		logger = silentLogger{}
	}
	global.Store(&loggerBox{l: logger})
}

// Log returns the installed default logger.
func Log() Logger {
	return global.Load().l
}

type silentLogger struct{}

func (silentLogger) Debug(string, ...Field) {}
func (silentLogger) Info(string, ...Field)  {}
func (silentLogger) Error(string, ...Field) {}
