package observability

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	log zerolog.Logger
}

// NewZerolog builds a Logger backed by zerolog, writing JSON lines to w.
// Unknown level strings fall back to info.
func NewZerolog(w io.Writer, service, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	base := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()
	return &zerologLogger{log: base}
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	apply(z.log.Debug(), fields).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	apply(z.log.Info(), fields).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	apply(z.log.Error(), fields).Msg(msg)
}

func apply(ev *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	return ev
}
