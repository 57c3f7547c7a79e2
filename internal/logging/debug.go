package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger provides topic-based debug logging with minimal overhead when disabled
type Logger struct {
	topic   string
	enabled bool
}

var enabledTopics = make(map[string]bool)

func init() {
	// DEBUG_TOPICS=aggregate,align,sim
	parseTopics(os.Getenv("DEBUG_TOPICS"))
	if len(enabledTopics) > 0 {
		SetDefault("debug")
	}
}

func parseTopics(topics string) {
	if topics == "" {
		return
	}

	if topics == "all" {
		enabledTopics["*"] = true
		return
	}

	for _, topic := range strings.Split(topics, ",") {
		topic = strings.TrimSpace(topic)
		if topic != "" {
			enabledTopics[topic] = true
		}
	}
}

// ParseLevel converts debug|info|warn|error to a slog.Level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs a stderr text handler at the given level as slog's default.
// Enabled debug topics force the level down to debug, otherwise their output
// would be filtered by the handler.
func SetDefault(level string) {
	lvl := ParseLevel(level)
	if len(enabledTopics) > 0 {
		lvl = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// New creates a new topic-specific logger
// Usage: var simLog = logging.New("sim")
func New(topic string) *Logger {
	return &Logger{
		topic:   topic,
		enabled: enabledTopics["*"] || enabledTopics[topic],
	}
}

// Debug logs a debug message if this topic is enabled
func (l *Logger) Debug(msg string, args ...any) {
	if !l.enabled {
		return
	}
	slog.Debug(msg, l.withTopic(args)...)
}

// Info logs an info message if this topic is enabled
func (l *Logger) Info(msg string, args ...any) {
	if !l.enabled {
		return
	}
	slog.Info(msg, l.withTopic(args)...)
}

// Warn logs a warning message if this topic is enabled
func (l *Logger) Warn(msg string, args ...any) {
	if !l.enabled {
		return
	}
	slog.Warn(msg, l.withTopic(args)...)
}

func (l *Logger) withTopic(args []any) []any {
	return append([]any{"topic", l.topic}, args...)
}

// Enabled reports whether the topic is on. Guard expensive argument building with it.
func (l *Logger) Enabled() bool {
	return l.enabled
}
