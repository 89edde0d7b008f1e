// Package log is a thin leveled logger over log/slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	level  = new(slog.LevelVar)
	logger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	SetOutput(os.Stderr)
}

// SetOutput directs log output to w as text records.
func SetOutput(w io.Writer) {
	logger.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// SetLogger replaces the underlying logger.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// Logger returns the underlying logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// SetLevel sets the minimum level, one of debug, info, warn or error.
func SetLevel(s string) error {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		l = slog.LevelDebug
	case "", "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return fmt.Errorf("log: unknown level %q", s)
	}
	level.Set(l)
	return nil
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

func Debugf(format string, v ...any) { Logger().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { Logger().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { Logger().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { Logger().Error(fmt.Sprintf(format, v...)) }
