/*
NAME
  logging.go

DESCRIPTION
  Package logging provides a small structured logging interface threaded
  through every long-lived bdmux type (scheduler context, ESMS parsers,
  buffer model), backed by zap and a rotating lumberjack sink.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

// Package logging provides structured logging for bdmux.
package logging

import (
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, ordered least to most severe.
const (
	Debug int8 = iota
	Info
	Warning
	Error
	Fatal
)

// Logger is the logging contract used throughout bdmux. Every call takes a
// message followed by an even number of key/value pairs.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warning(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Fatal(msg string, kv ...interface{})
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New returns a Logger that writes JSON lines to path, rotating at maxSizeMB
// megabytes and keeping maxBackups old files, and additionally logs to
// stderr at or above minLevel. Passing an empty path disables the file sink
// and logs only to stderr.
func New(path string, maxSizeMB, maxBackups int, minLevel int8) Logger {
	level := zapLevel(minLevel)

	var cores []zapcore.Core
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	if path != "" {
		rot := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rot), level))
	}

	consoleEnc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.Lock(zapcore.AddSync(os.Stderr)), level))

	core := zapcore.NewTee(cores...)
	l := zap.New(core)
	return &zapLogger{sugar: l.Sugar()}
}

// NewNop returns a Logger that discards everything, useful for tests and
// library callers that haven't configured logging.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func zapLevel(l int8) zapcore.LevelEnabler {
	switch {
	case l <= Debug:
		return zapcore.DebugLevel
	case l == Info:
		return zapcore.InfoLevel
	case l == Warning:
		return zapcore.WarnLevel
	case l == Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

func (z *zapLogger) Debug(msg string, kv ...interface{})   { z.sugar.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...interface{})    { z.sugar.Infow(msg, kv...) }
func (z *zapLogger) Warning(msg string, kv ...interface{}) { z.sugar.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...interface{})   { z.sugar.Errorw(msg, kv...) }
func (z *zapLogger) Fatal(msg string, kv ...interface{})   { z.sugar.Fatalw(msg, kv...) }

// Warnings accumulates non-fatal diagnostics raised over the course of a mux
// run (disabled-compliance-class warnings, buffer underflow warnings) so
// they can be reported together at the end instead of only the last one
// seen. Safe for a single goroutine; the scheduler is single-threaded.
type Warnings struct {
	err error
}

// Add appends w to the set of accumulated warnings. A nil w is a no-op.
func (ws *Warnings) Add(w error) {
	if w == nil {
		return
	}
	ws.err = multierr.Append(ws.err, w)
}

// Err returns the combined warnings as a single error, or nil if none were
// added.
func (ws *Warnings) Err() error {
	return ws.err
}

// Errors returns the individual warnings that were added.
func (ws *Warnings) Errors() []error {
	return multierr.Errors(ws.err)
}
