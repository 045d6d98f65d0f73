package testenv

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// LogWriter is a zerolog writer that prints the message index (starting from
// 0), the level and the message followed by the sorted fields, without the
// timestamp. This allows test log output to be deterministic.
type LogWriter struct {
	mu                  sync.Mutex
	out                 io.Writer
	index               int
	ignoreDebug         bool
	ignoreErrorPrefixes []string
}

// LogOption configures a LogWriter.
type LogOption func(*LogWriter)

// WithOutput replaces os.Stdout as the destination.
func WithOutput(w io.Writer) LogOption {
	return func(l *LogWriter) { l.out = w }
}

// WithIgnoreDebug drops debug messages.
func WithIgnoreDebug() LogOption {
	return func(l *LogWriter) { l.ignoreDebug = true }
}

// WithIgnoreErrorPrefixes drops error messages starting with any of prefixes.
func WithIgnoreErrorPrefixes(prefixes ...string) LogOption {
	return func(l *LogWriter) { l.ignoreErrorPrefixes = append(l.ignoreErrorPrefixes, prefixes...) }
}

func NewLogWriter(opts ...LogOption) *LogWriter {
	l := &LogWriter{out: os.Stdout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewLogger returns a debug level logger writing through a new LogWriter.
func NewLogger(opts ...LogOption) zerolog.Logger {
	return zerolog.New(NewLogWriter(opts...)).Level(zerolog.DebugLevel)
}

func (l *LogWriter) Write(p []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	var evt map[string]any
	if err := dec.Decode(&evt); err != nil {
		return 0, fmt.Errorf("decode log event: %w", err)
	}

	level, _ := evt[zerolog.LevelFieldName].(string)
	message, _ := evt[zerolog.MessageFieldName].(string)
	if level == zerolog.LevelDebugValue && l.ignoreDebug {
		return len(p), nil
	}
	if level == zerolog.LevelErrorValue {
		for _, prefix := range l.ignoreErrorPrefixes {
			if strings.HasPrefix(message, prefix) {
				return len(p), nil
			}
		}
	}

	var fields []string
	for k, v := range evt {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		fields = append(fields, fmt.Sprintf("%s=%s", k, formatValue(v)))
	}
	slices.Sort(fields)

	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("[%d] %s: %s", l.index, strings.ToUpper(level), message)
	if len(fields) > 0 {
		line += " " + strings.Join(fields, ", ")
	}
	l.index++
	if _, err := fmt.Fprintln(l.out, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
