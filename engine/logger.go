package engine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
)

// LogLevel mirrors the level string a worker's out-of-band LOG message
// carries over the Worker Protocol (spec §6).
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Logger receives every worker-forwarded LOG message. The engine logs no
// lifecycle events of its own through it. Worker log messages never settle
// a task — they are purely observational.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// defaultLogger wraps log/slog and colorizes level prefixes with
// github.com/fatih/color, the same dependency the teacher's CLI examples use
// for terminal output, instead of pulling in a dedicated logging library the
// pack never demonstrates.
type defaultLogger struct {
	slog *slog.Logger

	debug *color.Color
	info  *color.Color
	warn  *color.Color
	error *color.Color
}

// NewDefaultLogger builds the engine's default Logger, writing leveled,
// colorized lines to stderr.
func NewDefaultLogger() Logger {
	return &defaultLogger{
		slog:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
		debug: color.New(color.FgCyan),
		info:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		error: color.New(color.FgRed, color.Bold),
	}
}

func (l *defaultLogger) Debugf(format string, args ...any) {
	l.slog.Debug(l.debug.Sprintf(format, args...))
}

func (l *defaultLogger) Infof(format string, args ...any) {
	l.slog.Info(l.info.Sprintf(format, args...))
}

func (l *defaultLogger) Warnf(format string, args ...any) {
	l.slog.Warn(l.warn.Sprintf(format, args...))
}

func (l *defaultLogger) Errorf(format string, args ...any) {
	l.slog.Error(l.error.Sprintf(format, args...))
}

// forwardWorkerLog dispatches a worker's LOG message (§6) to the engine's
// logger at the level the worker reported, falling back to Info for an
// unrecognized level string.
func forwardWorkerLog(logger Logger, level string, args []string) {
	msg := fmt.Sprint(joinAny(args)...)
	switch LogLevel(level) {
	case LogDebug:
		logger.Debugf("%s", msg)
	case LogWarn:
		logger.Warnf("%s", msg)
	case LogError:
		logger.Errorf("%s", msg)
	default:
		logger.Infof("%s", msg)
	}
}

func joinAny(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
