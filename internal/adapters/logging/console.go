package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// ConsoleLogger writes one line per entry, as text or as a JSON object.
// JSON keys keep field order: time, level, msg, then the fields as given.
// Loggers derived through With share the parent's lock, so lines from
// concurrent workers never interleave.
type ConsoleLogger struct {
	sink   *sink
	fields []ports.Field
}

type sink struct {
	mu          sync.Mutex
	out         io.Writer
	level       ports.Level
	jsonFormat  bool
	includeTime bool
	now         func() time.Time
}

// ConsoleLoggerOption configures the console logger.
type ConsoleLoggerOption func(*sink)

// WithOutput sets the output writer (default: os.Stderr).
func WithOutput(w io.Writer) ConsoleLoggerOption {
	return func(s *sink) { s.out = w }
}

// WithLevel sets the minimum level (default: Info).
func WithLevel(level ports.Level) ConsoleLoggerOption {
	return func(s *sink) { s.level = level }
}

// WithJSONFormat switches to JSON lines.
func WithJSONFormat(enabled bool) ConsoleLoggerOption {
	return func(s *sink) { s.jsonFormat = enabled }
}

// WithTimestamp toggles the leading timestamp (default: on).
func WithTimestamp(enabled bool) ConsoleLoggerOption {
	return func(s *sink) { s.includeTime = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ConsoleLoggerOption {
	return func(s *sink) { s.now = now }
}

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(opts ...ConsoleLoggerOption) *ConsoleLogger {
	s := &sink{
		out:         os.Stderr,
		level:       ports.LevelInfo,
		includeTime: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return &ConsoleLogger{sink: s}
}

// Debug logs a debug entry.
func (l *ConsoleLogger) Debug(_ context.Context, msg string, fields ...ports.Field) {
	l.write(ports.LevelDebug, msg, fields)
}

// Info logs an informational entry.
func (l *ConsoleLogger) Info(_ context.Context, msg string, fields ...ports.Field) {
	l.write(ports.LevelInfo, msg, fields)
}

// Warn logs a warning.
func (l *ConsoleLogger) Warn(_ context.Context, msg string, fields ...ports.Field) {
	l.write(ports.LevelWarn, msg, fields)
}

// Error logs an error.
func (l *ConsoleLogger) Error(_ context.Context, msg string, fields ...ports.Field) {
	l.write(ports.LevelError, msg, fields)
}

// With returns a logger that prepends fields to every entry.
func (l *ConsoleLogger) With(fields ...ports.Field) ports.Logger {
	merged := make([]ports.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &ConsoleLogger{sink: l.sink, fields: merged}
}

func (l *ConsoleLogger) write(level ports.Level, msg string, fields []ports.Field) {
	s := l.sink
	if level < s.level {
		return
	}

	all := make([]ports.Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)

	var line []byte
	if s.jsonFormat {
		line = s.jsonLine(level, msg, all)
	} else {
		line = s.textLine(level, msg, all)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(line)
}

func (s *sink) jsonLine(level ports.Level, msg string, fields []ports.Field) []byte {
	var b bytes.Buffer
	b.WriteByte('{')
	first := true
	put := func(key string, value any) {
		data, err := json.Marshal(value)
		if err != nil {
			data, _ = json.Marshal(fmt.Sprint(value))
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		b.Write(k)
		b.WriteByte(':')
		b.Write(data)
	}

	if s.includeTime {
		put("time", s.now().UTC().Format(time.RFC3339Nano))
	}
	put("level", level.String())
	put("msg", msg)
	for _, f := range fields {
		put(f.Key, f.Value)
	}
	b.WriteString("}\n")
	return b.Bytes()
}

func (s *sink) textLine(level ports.Level, msg string, fields []ports.Field) []byte {
	var b strings.Builder
	if s.includeTime {
		b.WriteString(s.now().Format("15:04:05.000"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s %s", level.String(), msg)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(textValue(f.Value))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// textValue quotes values that would not survive whitespace splitting.
func textValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

var _ ports.Logger = (*ConsoleLogger)(nil)
