// Package logger provides structured logging using Zap behind a small
// event-emission interface that pipeline components depend on.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the severity of an emitted event.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// Field is a single key/value pair attached to an event.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err builds the conventional "error" field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Emitter receives structured events from the pipeline.
type Emitter interface {
	Emit(level Level, msg string, fields ...Field)
}

// New builds a zap logger for the given environment. "production" gets the
// JSON encoder, anything else the console encoder.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}

// Zap adapts a zap logger to Emitter.
type Zap struct {
	log *zap.Logger
}

// NewZap wraps l. A nil logger yields a no-op emitter.
func NewZap(l *zap.Logger) *Zap {
	if l == nil {
		l = zap.NewNop()
	}
	return &Zap{log: l.WithOptions(zap.AddCallerSkip(1))}
}

// Emit implements Emitter.
func (z *Zap) Emit(level Level, msg string, fields ...Field) {
	zf := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zf = append(zf, zap.Any(f.Key, f.Value))
	}
	switch level {
	case DebugLevel:
		z.log.Debug(msg, zf...)
	case WarnLevel:
		z.log.Warn(msg, zf...)
	case ErrorLevel:
		z.log.Error(msg, zf...)
	default:
		z.log.Info(msg, zf...)
	}
}

// Sync flushes buffered entries.
func (z *Zap) Sync() error {
	return z.log.Sync()
}

type nop struct{}

func (nop) Emit(Level, string, ...Field) {}

// Nop returns an Emitter that discards everything.
func Nop() Emitter { return nop{} }

// OrNop returns e, or a no-op emitter when e is nil.
func OrNop(e Emitter) Emitter {
	if e == nil {
		return nop{}
	}
	return e
}
