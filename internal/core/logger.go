package core

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelOff:
		return "off"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *LogLevel) UnmarshalText(b []byte) error {
	*l = ParseLevel(string(b))
	return nil
}

// LogConfig holds logging configuration from YAML.
type LogConfig struct {
	Level      string            `yaml:"level,omitempty"`
	Format     string            `yaml:"format,omitempty"` // "text" (default) or "json"
	Components map[string]string `yaml:"components,omitempty"`
}

// LogHook receives every line that passes the level filter.
type LogHook func(level LogLevel, tag, msg string)

// Logger provides per-component log level filtering on top of logrus.
type Logger struct {
	mu          sync.RWMutex
	globalLevel LogLevel
	components  map[string]LogLevel // lowercase component name → level
	hook        LogHook
	out         *logrus.Logger
}

// ParseLevel converts a string level name to LogLevel.
// Returns LevelInfo for unrecognized values.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "off", "none":
		return LevelOff
	default:
		return LevelInfo
	}
}

// NewLogger creates a Logger from config writing to stderr.
func NewLogger(cfg LogConfig) *Logger {
	out := logrus.New()
	out.SetOutput(os.Stderr)
	// Filtering happens in levelFor; logrus only formats.
	out.SetLevel(logrus.DebugLevel)
	if strings.EqualFold(cfg.Format, "json") {
		out.SetFormatter(&logrus.JSONFormatter{})
	} else {
		out.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l := &Logger{
		globalLevel: ParseLevel(cfg.Level),
		components:  make(map[string]LogLevel, len(cfg.Components)),
		out:         out,
	}
	for name, level := range cfg.Components {
		l.components[strings.ToLower(name)] = ParseLevel(level)
	}
	return l
}

// SetOutput redirects formatted output, e.g. to io.Discard in tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.out.SetOutput(w)
}

// SetHook installs a callback invoked for every emitted line. Pass nil to remove.
func (l *Logger) SetHook(h LogHook) {
	l.mu.Lock()
	l.hook = h
	l.mu.Unlock()
}

// Enabled reports whether a message at level would be emitted for tag.
func (l *Logger) Enabled(tag string, level LogLevel) bool {
	return l.levelFor(tag) <= level
}

// levelFor returns the effective log level for a component tag.
func (l *Logger) levelFor(tag string) LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lvl, ok := l.components[strings.ToLower(tag)]; ok {
		return lvl
	}
	return l.globalLevel
}

func (l *Logger) emit(level LogLevel, tag, format string, args []any) {
	if l.levelFor(tag) > level {
		return
	}
	entry := l.out.WithField("component", tag)
	switch level {
	case LevelDebug:
		entry.Debugf(format, args...)
	case LevelInfo:
		entry.Infof(format, args...)
	case LevelWarn:
		entry.Warnf(format, args...)
	default:
		entry.Errorf(format, args...)
	}

	l.mu.RLock()
	hook := l.hook
	l.mu.RUnlock()
	if hook != nil {
		hook(level, tag, fmt.Sprintf(format, args...))
	}
}

// Debugf logs at debug level.
func (l *Logger) Debugf(tag, format string, args ...any) {
	l.emit(LevelDebug, tag, format, args)
}

// Infof logs at info level.
func (l *Logger) Infof(tag, format string, args ...any) {
	l.emit(LevelInfo, tag, format, args)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(tag, format string, args ...any) {
	l.emit(LevelWarn, tag, format, args)
}

// Errorf logs at error level.
func (l *Logger) Errorf(tag, format string, args ...any) {
	l.emit(LevelError, tag, format, args)
}

// Fatalf always logs and exits with status 1.
func (l *Logger) Fatalf(tag, format string, args ...any) {
	l.out.WithField("component", tag).Fatalf(format, args...)
}

// Writer returns an io.Writer that logs each line at info level under tag.
// Used to route third-party loggers (gin) through the component logger.
func (l *Logger) Writer(tag string) io.Writer {
	return &tagWriter{l: l, tag: tag}
}

type tagWriter struct {
	l   *Logger
	tag string
}

func (w *tagWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	if msg != "" {
		w.l.Infof(w.tag, "%s", msg)
	}
	return len(p), nil
}

// Log is the global logger instance. Initialized with default (info level).
var Log = NewLogger(LogConfig{})

// SetLogger replaces the global logger.
func SetLogger(l *Logger) {
	Log = l
}
