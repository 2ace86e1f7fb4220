package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var levelNames = map[LogLevel]string{
	DEBUG:  "DEBUG",
	INFO:   "INFO",
	WARN:   "WARN",
	ERROR:  "ERROR",
	SILENT: "SILENT",
}

// silentLevel sits above every slog level so nothing gets through.
const silentLevel = slog.Level(1 << 10)

// Logger provides leveled logging with module support
type Logger struct {
	level *slog.LevelVar
	sl    *slog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
		slog.SetDefault(defaultLogger.sl)
	})
}

// New creates a new Logger instance.
// GO_ENV=production switches to JSON output; otherwise tint renders human-readable lines.
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	lv := new(slog.LevelVar)
	lv.Set(toSlog(level))

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: lv})
	} else {
		handler = tint.NewHandler(output, &tint.Options{
			Level:      lv,
			TimeFormat: "15:04:05.000",
			NoColor:    !useColor,
		})
	}

	return &Logger{level: lv, sl: slog.New(handler)}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(toSlog(level))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return fromSlog(l.level.Level())
}

// With returns a structured logger tagged with the module name.
func (l *Logger) With(module string) *slog.Logger {
	return l.sl.With("module", module)
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	sl := toSlog(level)
	ctx := context.Background()
	if !l.sl.Enabled(ctx, sl) {
		return
	}

	message := fmt.Sprintf(format, args...)
	rec := slog.NewRecord(time.Now(), sl, message, 0)
	if module != "" {
		rec.AddAttrs(slog.String("module", module))
	}
	_ = l.sl.Handler().Handle(ctx, rec)
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

// With returns a module-tagged slog logger from the global logger,
// falling back to slog's default before Init.
func With(module string) *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger.With(module)
	}
	return slog.Default().With("module", module)
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "debug", "DEBUG":
		return DEBUG, nil
	case "info", "INFO":
		return INFO, nil
	case "warn", "WARN", "warning", "WARNING":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	case "silent", "SILENT", "none", "NONE":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

func toSlog(level LogLevel) slog.Level {
	switch level {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case SILENT:
		return silentLevel
	default:
		return slog.LevelInfo
	}
}

func fromSlog(level slog.Level) LogLevel {
	switch {
	case level >= silentLevel:
		return SILENT
	case level >= slog.LevelError:
		return ERROR
	case level >= slog.LevelWarn:
		return WARN
	case level >= slog.LevelInfo:
		return INFO
	default:
		return DEBUG
	}
}
