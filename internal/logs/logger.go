package logs

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
	DEBUG Level = "DEBUG"
)

// levelPriority orders levels; higher is more severe.
var levelPriority = map[Level]int{
	DEBUG: 1,
	INFO:  2,
	WARN:  3,
	ERROR: 4,
}

// ParseLevel maps a config string onto a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[lvl]; ok {
		return lvl
	}
	return INFO
}

type Entry struct {
	TimeStamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger keeps the most recent entries in memory for the health analyzer and
// forwards everything it records to a zap sink.
type Logger struct {
	mu    sync.Mutex
	ring  []Entry
	next  int // slot the next entry is written to
	full  bool
	level Level
	sink  *zap.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithSink forwards every recorded entry to a zap logger.
func WithSink(sink *zap.Logger) Option {
	return func(l *Logger) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// NewLogger records entries at or above level and retains the last
// capacity of them. A capacity of zero only forwards to the sink.
func NewLogger(capacity int, level Level, opts ...Option) *Logger {
	l := &Logger{
		ring:  make([]Entry, max(capacity, 0)),
		level: level,
		sink:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) enabled(level Level) bool {
	return levelPriority[level] >= levelPriority[l.level]
}

func (l *Logger) log(level Level, msg string, fields []zap.Field) {
	if !l.enabled(level) {
		return
	}
	l.forward(level, msg, fields)

	if len(l.ring) == 0 {
		return
	}
	entry := Entry{TimeStamp: time.Now(), Level: level, Message: msg}
	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range fields {
			f.AddTo(enc)
		}
		entry.Fields = enc.Fields
	}

	l.mu.Lock()
	l.ring[l.next] = entry
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

func (l *Logger) forward(level Level, msg string, fields []zap.Field) {
	switch level {
	case DEBUG:
		l.sink.Debug(msg, fields...)
	case INFO:
		l.sink.Info(msg, fields...)
	case WARN:
		l.sink.Warn(msg, fields...)
	case ERROR:
		l.sink.Error(msg, fields...)
	}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.log(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.log(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.log(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.log(ERROR, msg, fields) }

// Sync flushes the zap sink.
func (l *Logger) Sync() error {
	return l.sink.Sync()
}

// GetLast returns up to n of the newest retained entries, oldest first.
func (l *Logger) GetLast(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.ring)
	}
	n = min(max(n, 0), size)

	out := make([]Entry, n)
	for i := range n {
		idx := (l.next - n + i + len(l.ring)) % len(l.ring)
		out[i] = l.ring[idx]
	}
	return out
}
