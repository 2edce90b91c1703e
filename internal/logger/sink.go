package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the severity understood by a Sink.
type Level int

const (
	LevelDebug Level = iota
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Sink is an append-only event sink. Calls are synchronous and must not fail.
type Sink interface {
	Log(message string, level Level)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(message string, level Level)

func (f SinkFunc) Log(message string, level Level) { f(message, level) }

type loggerSink struct {
	l Logger
}

// AsSink exposes a Logger as a Sink. Critical is recorded at DPanic level, which
// never panics outside development mode.
func AsSink(l Logger) Sink {
	return loggerSink{l: l}
}

func (s loggerSink) Log(message string, level Level) {
	switch level {
	case LevelDebug:
		s.l.Debug(message)
	case LevelWarning:
		s.l.Warn(message)
	case LevelError:
		s.l.Error(message)
	default:
		if impl, ok := s.l.(*loggerImpl); ok {
			impl.base.DPanic(message)
			return
		}
		s.l.Error(message, zap.String("severity", LevelCritical.String()))
	}
}

// FromSink builds a Logger whose entries are forwarded to sink. Info entries are
// reported as Debug since the sink has no info level.
func FromSink(sink Sink) Logger {
	return wrap(zap.New(newSinkCore(sink, zapcore.DebugLevel)))
}

// Tee returns a Logger that keeps writing to l and also forwards every entry at
// Info or above to sink. l must come from New or Nop, otherwise it is returned
// unchanged.
func Tee(l Logger, sink Sink) Logger {
	impl, ok := l.(*loggerImpl)
	if !ok || sink == nil {
		return l
	}
	sc := newSinkCore(sink, zapcore.InfoLevel)
	return wrap(impl.base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, sc)
	})))
}

type sinkCore struct {
	sink   Sink
	min    zapcore.Level
	enc    zapcore.Encoder
	fields []zapcore.Field
}

func newSinkCore(sink Sink, minLevel zapcore.Level) *sinkCore {
	return &sinkCore{sink: sink, min: minLevel, enc: zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:     "msg",
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	})}
}

func (c *sinkCore) Enabled(l zapcore.Level) bool { return l >= c.min }

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &sinkCore{sink: c.sink, min: c.min, enc: c.enc, fields: merged}
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := append(append([]zapcore.Field{}, c.fields...), fields...)
	buf, err := c.enc.EncodeEntry(zapcore.Entry{Message: ent.Message}, all)
	if err != nil {
		c.sink.Log(ent.Message, toSinkLevel(ent.Level))
		return nil
	}
	msg := buf.String()
	buf.Free()
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	c.sink.Log(msg, toSinkLevel(ent.Level))
	return nil
}

func (c *sinkCore) Sync() error { return nil }

func toSinkLevel(l zapcore.Level) Level {
	switch {
	case l <= zapcore.InfoLevel:
		return LevelDebug
	case l == zapcore.WarnLevel:
		return LevelWarning
	case l == zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelCritical
	}
}
