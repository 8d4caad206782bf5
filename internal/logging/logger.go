package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Format represents the output format for logs
type Format int

const (
	// FormatConsole is human-readable console output
	FormatConsole Format = iota
	// FormatJSON is structured JSON output
	FormatJSON
)

// String returns the flag name of a Format
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "console"
}

// Level represents a logging level
type Level int

const (
	// DebugLevel is for per-connection activity
	DebugLevel Level = iota
	// InfoLevel is for listener lifecycle messages
	InfoLevel
	// WarnLevel is for retried failures
	WarnLevel
	// ErrorLevel is for failures that end a connection or listener
	ErrorLevel
)

// String returns the string representation of a Level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level, falling back to InfoLevel
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug", "connection":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// sink serializes writes from every goroutine sharing a Logger tree
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(line)
}

// Logger provides structured logging capabilities.
// A Logger is safe for concurrent use; loggers derived with With share the
// parent's output.
type Logger struct {
	level  Level
	format Format
	out    *sink
	fields []Field
}

// New creates a new Logger with the specified level and console format
func New(level Level) *Logger {
	return NewWithFormat(level, FormatConsole)
}

// NewWithFormat creates a new Logger with the specified level and format
func NewWithFormat(level Level, format Format) *Logger {
	return &Logger{
		level:  level,
		format: format,
		out:    &sink{w: os.Stdout},
	}
}

// NewWithOutput creates a new Logger with the specified level and output writer
func NewWithOutput(level Level, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		format: FormatConsole,
		out:    &sink{w: output},
	}
}

// SetLevel changes the logging level. It is not synchronized with
// concurrent logging and should be called during setup.
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// SetFormat changes the output format
func (l *Logger) SetFormat(format Format) {
	l.format = format
}

// Level returns the current logging level
func (l *Logger) Level() Level {
	return l.level
}

// With returns a child logger that adds fields to every entry
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return nil
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{
		level:  l.level,
		format: l.format,
		out:    l.out,
		fields: merged,
	}
}

// Debug logs a debug message with optional fields
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an informational message with optional fields
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning message with optional fields
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error message with optional fields
func (l *Logger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...Field) {
	if l == nil || level < l.level {
		return
	}

	all := fields
	if len(l.fields) > 0 {
		all = append(append([]Field{}, l.fields...), fields...)
	}

	if l.format == FormatJSON {
		l.logJSON(level, msg, all)
	} else {
		l.logConsole(level, msg, all)
	}
}

// logConsole outputs logs in human-readable console format
func (l *Logger) logConsole(level Level, msg string, fields []Field) {
	var output strings.Builder
	output.WriteString(time.Now().UTC().Format(time.RFC3339))
	output.WriteString(" ")
	output.WriteString(level.String())
	output.WriteString(" ")
	output.WriteString(msg)

	for _, field := range fields {
		output.WriteString(" ")
		output.WriteString(field.Key)
		output.WriteString("=")
		output.WriteString(fmt.Sprintf("%v", field.Value))
	}

	output.WriteString("\n")
	l.out.write([]byte(output.String()))
}

// logJSON outputs logs in JSON format
func (l *Logger) logJSON(level Level, msg string, fields []Field) {
	logEntry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     level.String(),
		"message":   msg,
	}
	for _, field := range fields {
		logEntry[field.Key] = field.Value
	}

	jsonBytes, err := json.Marshal(logEntry)
	if err != nil {
		// Fallback to console output if JSON marshaling fails
		l.logConsole(level, msg, fields)
		return
	}

	l.out.write(append(jsonBytes, '\n'))
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value any
}

// String creates a Field with a string value
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates a Field with an integer value
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a Field with a boolean value
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a Field rendered as a Go duration string
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error creates a Field with an error value
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a Field with any value
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}
