// Package logging wraps log/slog with category-gated debug logging for the
// media server's UDP datapath components.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level is the logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category gates verbose per-packet debug logging for one datapath stage.
type Category string

const (
	CategorySTUN      Category = "stun"
	CategoryDTLS      Category = "dtls"
	CategorySRTP      Category = "srtp"
	CategoryRTP       Category = "rtp"
	CategoryRTCP      Category = "rtcp"
	CategorySDP       Category = "sdp"
	CategoryThumbnail Category = "thumbnail"
	CategoryAll       Category = "all"
)

// Format determines the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logger configuration.
type Config struct {
	Level      Level
	Format     Format
	OutputFile string

	mu         sync.RWMutex
	categories map[Category]bool
}

// NewConfig returns a Config with defaults matching production operation:
// info level, text output, stdout, no debug categories enabled.
func NewConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		categories: make(map[Category]bool),
	}
}

// ParseLevel converts a string flag value to a Level.
func ParseLevel(level string) (Level, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string flag value to a Format.
func ParseFormat(format string) (Format, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

func (l Level) toSlog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableCategory turns on verbose logging for one category, or all of them
// when given CategoryAll.
func (c *Config) EnableCategory(category Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if category == CategoryAll {
		for _, cat := range []Category{CategorySTUN, CategoryDTLS, CategorySRTP, CategoryRTP, CategoryRTCP, CategorySDP, CategoryThumbnail} {
			c.categories[cat] = true
		}
		return
	}
	c.categories[category] = true
}

// IsCategoryEnabled reports whether verbose logging is on for category.
func (c *Config) IsCategoryEnabled(category Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.categories[category]
}

// Logger wraps slog.Logger with category-gated debug helpers.
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// New builds a Logger from cfg, opening OutputFile if one was given.
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlog()}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return &Logger{Logger: slog.New(handler), config: cfg, file: file}, nil
}

// Close closes the backing log file, if any was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a derived Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, file: l.file}
}

// DebugCategory logs msg at Debug level only if category is enabled.
func (l *Logger) DebugCategory(category Category, msg string, args ...any) {
	if l.config.IsCategoryEnabled(category) {
		args = append([]any{"category", string(category)}, args...)
		l.Debug(msg, args...)
	}
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault installs logger as the process-wide default.
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the process-wide logger, building a stdout/info one the
// first time it's needed.
func Default() *Logger {
	once.Do(func() {
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), config: NewConfig()}
		}
		defaultLogger = l
	})
	return defaultLogger
}
