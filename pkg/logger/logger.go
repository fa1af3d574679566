// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	current atomic.Pointer[zerolog.Logger]
	// mu serialises writers; readers only load current.
	mu sync.Mutex
)

func init() {
	nop := zerolog.Nop()
	current.Store(&nop)
}

func get() *zerolog.Logger {
	return current.Load()
}

// update swaps in a copy of the current logger transformed by fn.
func update(fn func(zerolog.Logger) zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	next := fn(*current.Load())
	current.Store(&next)
}

// Initialize sets up the global logger with the specified level and the
// human readable console format.
func Initialize(level string) {
	InitializeWithFormat(level, "console")
}

// InitializeWithFormat sets up the global logger. Format "json" writes plain
// zerolog JSON lines; anything else uses the console writer.
func InitializeWithFormat(level, format string) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if strings.EqualFold(format, "json") {
		output = os.Stdout
	}

	l := zerolog.New(output).
		Level(logLevel).
		With().
		Timestamp().
		Caller().
		Logger()
	update(func(zerolog.Logger) zerolog.Logger { return l })
}

// parseLogLevel converts string log level to zerolog.Level
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	case "panic":
		return zerolog.PanicLevel, nil
	default:
		return zerolog.InfoLevel, nil
	}
}

// SetLevel changes the level of the global logger in place. Used on config reload.
func SetLevel(level string) {
	logLevel, _ := parseLogLevel(level)
	update(func(l zerolog.Logger) zerolog.Logger { return l.Level(logLevel) })
}

// Level returns the current level of the global logger.
func Level() zerolog.Level {
	return get().GetLevel()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return get().Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return get().Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return get().Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return get().Error()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return get().Fatal()
}

// With creates a child logger with additional fields
func With() zerolog.Context {
	return get().With()
}

// SetOutput sets the output writer for the logger
func SetOutput(w io.Writer) {
	update(func(l zerolog.Logger) zerolog.Logger { return l.Output(w) })
}
