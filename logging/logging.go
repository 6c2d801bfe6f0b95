// Package logging provides the gateway's structured logging on top of log/slog.
//
// Every long-lived component takes a Logger. When none is injected it builds a
// ComponentLogger, which tags each line with component and component_type:
//
//	logger := logging.NewComponentLogger("poller", "scheduler")
//	logger.Info("polling started", "interval_ms", 5000)
//	// Output: ... component=poller component_type=scheduler interval_ms=5000
//
// # Global Logger
//
// The process-wide logger is configured once at startup and its level can be
// changed at runtime, for example from a configuration reload:
//
//	if err := logging.Init(logging.Config{Level: "info", Format: "json"}); err != nil {
//		return err
//	}
//	defer logging.Shutdown()
//
//	logging.SetLevel("debug")
//
// # Request Context
//
// Identifiers stored with WithRequestID, WithOperation and WithTrapID are added
// to every record logged through a *Context method:
//
//	ctx = logging.WithRequestID(ctx, middleware.GetReqID(ctx))
//	logger.InfoContext(ctx, "agent connection updated")
//	// Output: ... request_id=host/abc-000001
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats.
const (
	// FormatLogfmt writes key=value records.
	FormatLogfmt = "logfmt"
	// FormatJSON writes one JSON object per record.
	FormatJSON = "json"
)

// Config holds the logger configuration.
type Config struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level" yaml:"level"`
	// Format is logfmt or json.
	Format string `json:"format" yaml:"format"`
	// Output is stdout, stderr or a file path. Parent directories of a file
	// are created.
	Output string `json:"output" yaml:"output"`
	// AddSource includes file and line in each record.
	AddSource bool `json:"add_source" yaml:"add_source"`
}

// DefaultConfig returns info level logfmt on stdout.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatLogfmt,
		Output: "stdout",
	}
}

// Validate checks the level and format.
func (c Config) Validate() error {
	if !ValidateLevel(c.Level) {
		return fmt.Errorf("invalid log level: %q, must be one of: %s, %s, %s, %s",
			c.Level, LevelDebug, LevelInfo, LevelWarn, LevelError)
	}
	if !ValidateFormat(c.Format) {
		return fmt.Errorf("invalid log format: %q, must be one of: %s, %s",
			c.Format, FormatLogfmt, FormatJSON)
	}
	return nil
}

var (
	globalMu       sync.RWMutex
	globalLogger   *slog.Logger
	globalCloser   io.Closer
	globalLevelVar *slog.LevelVar
)

// New creates an independent logger. The returned closer is non-nil only when
// the output is a file.
func New(config Config) (*slog.Logger, io.Closer, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLevel(config.Level))

	handler, closer, err := newHandler(config, levelVar)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(handler), closer, nil
}

// Init replaces the global logger and closes the previous output file, if any.
// An empty level or format falls back to the defaults.
func Init(config Config) error {
	if config.Level == "" {
		config.Level = LevelInfo
	}
	if config.Format == "" {
		config.Format = FormatLogfmt
	}
	if err := config.Validate(); err != nil {
		return err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLevel(config.Level))

	handler, closer, err := newHandler(config, levelVar)
	if err != nil {
		return err
	}

	globalMu.Lock()
	previous := globalCloser
	globalLogger = slog.New(handler)
	globalCloser = closer
	globalLevelVar = levelVar
	slog.SetDefault(globalLogger)
	globalMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// InitWithDefaults calls Init(DefaultConfig()).
func InitWithDefaults() error {
	return Init(DefaultConfig())
}

// Shutdown closes the global logger's output file. It is safe to call more
// than once.
func Shutdown() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalCloser != nil {
		err := globalCloser.Close()
		globalCloser = nil
		return err
	}
	return nil
}

// SetLevel changes the global logger's level at runtime.
func SetLevel(level string) error {
	if !ValidateLevel(level) {
		return fmt.Errorf("invalid log level: %q, must be one of: %s, %s, %s, %s",
			level, LevelDebug, LevelInfo, LevelWarn, LevelError)
	}

	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLevelVar != nil {
		globalLevelVar.Set(parseLevel(level))
	}
	return nil
}

// parseLevel maps a level name to slog; "warning" is accepted for warn and
// anything unknown falls back to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidateLevel reports whether level is a valid log level string.
func ValidateLevel(level string) bool {
	switch strings.ToLower(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	default:
		return false
	}
}

// ValidateFormat reports whether format is a valid log format string.
func ValidateFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatLogfmt, FormatJSON:
		return true
	default:
		return false
	}
}

// Get returns the global logger, initializing it with defaults if necessary.
func Get() *slog.Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	if err := InitWithDefaults(); err != nil {
		return slog.Default()
	}

	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Debug logs at debug level on the global logger.
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

// Info logs at info level on the global logger.
func Info(msg string, args ...any) { Get().Info(msg, args...) }

// Warn logs at warn level on the global logger.
func Warn(msg string, args ...any) { Get().Warn(msg, args...) }

// Error logs at error level on the global logger.
func Error(msg string, args ...any) { Get().Error(msg, args...) }

// Logger is the logging interface components depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// The *Context variants add the identifiers stored in ctx.
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With returns a Logger that adds args to every record.
	With(args ...any) Logger
}

type slogWrapper struct {
	logger *slog.Logger
}

func (s *slogWrapper) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }
func (s *slogWrapper) Info(msg string, args ...any)  { s.logger.Info(msg, args...) }
func (s *slogWrapper) Warn(msg string, args ...any)  { s.logger.Warn(msg, args...) }
func (s *slogWrapper) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s *slogWrapper) DebugContext(ctx context.Context, msg string, args ...any) {
	s.logger.DebugContext(ctx, msg, args...)
}

func (s *slogWrapper) InfoContext(ctx context.Context, msg string, args ...any) {
	s.logger.InfoContext(ctx, msg, args...)
}

func (s *slogWrapper) WarnContext(ctx context.Context, msg string, args ...any) {
	s.logger.WarnContext(ctx, msg, args...)
}

func (s *slogWrapper) ErrorContext(ctx context.Context, msg string, args ...any) {
	s.logger.ErrorContext(ctx, msg, args...)
}

func (s *slogWrapper) With(args ...any) Logger {
	return &slogWrapper{logger: s.logger.With(args...)}
}

// NewLogger creates an independent Logger from config.
func NewLogger(config Config) (Logger, io.Closer, error) {
	logger, closer, err := New(config)
	if err != nil {
		return nil, closer, err
	}
	return &slogWrapper{logger: logger}, closer, nil
}

// FromSlog wraps an existing slog.Logger.
func FromSlog(logger *slog.Logger) Logger {
	return &slogWrapper{logger: logger}
}

// ComponentLogger tags every record with the component that produced it.
type ComponentLogger struct {
	logger        *slog.Logger
	component     string
	componentType string
}

// NewComponentLogger returns a logger derived from the global logger with
// component and component_type attributes.
func NewComponentLogger(component, componentType string) *ComponentLogger {
	return &ComponentLogger{
		logger:        Get().With("component", component, "component_type", componentType),
		component:     component,
		componentType: componentType,
	}
}

func (cl *ComponentLogger) base() *slog.Logger {
	if cl.logger != nil {
		return cl.logger
	}
	return Get().With("component", cl.component, "component_type", cl.componentType)
}

// Debug logs a debug message with component context.
func (cl *ComponentLogger) Debug(msg string, args ...any) { cl.base().Debug(msg, args...) }

// Info logs an info message with component context.
func (cl *ComponentLogger) Info(msg string, args ...any) { cl.base().Info(msg, args...) }

// Warn logs a warning message with component context.
func (cl *ComponentLogger) Warn(msg string, args ...any) { cl.base().Warn(msg, args...) }

// Error logs an error message with component context.
func (cl *ComponentLogger) Error(msg string, args ...any) { cl.base().Error(msg, args...) }

// DebugContext logs a debug message with component and request context.
func (cl *ComponentLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	cl.base().DebugContext(ctx, msg, args...)
}

// InfoContext logs an info message with component and request context.
func (cl *ComponentLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	cl.base().InfoContext(ctx, msg, args...)
}

// WarnContext logs a warning message with component and request context.
func (cl *ComponentLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	cl.base().WarnContext(ctx, msg, args...)
}

// ErrorContext logs an error message with component and request context.
func (cl *ComponentLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	cl.base().ErrorContext(ctx, msg, args...)
}

// With returns a logger with additional attributes and the same component.
func (cl *ComponentLogger) With(args ...any) Logger {
	return &ComponentLogger{
		logger:        cl.base().With(args...),
		component:     cl.component,
		componentType: cl.componentType,
	}
}

// Component returns the component name.
func (cl *ComponentLogger) Component() string { return cl.component }

// ComponentType returns the component type.
func (cl *ComponentLogger) ComponentType() string { return cl.componentType }

// newHandler builds the output handler wrapped so context identifiers are
// attached to every record.
func newHandler(config Config, level slog.Leveler) (slog.Handler, io.Closer, error) {
	var writer io.Writer
	var closer io.Closer
	switch strings.ToLower(config.Output) {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		file, err := openLogFile(config.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		writer = file
		closer = file
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == FormatJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return contextHandler{handler}, closer, nil
}

// openLogFile opens a log file for appending after validating the path and
// creating parent directories.
func openLogFile(filePath string) (*os.File, error) {
	if filePath == "" {
		return nil, errors.New("log file path cannot be empty")
	}

	cleanPath := filepath.Clean(filePath)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid log file path: contains directory traversal: %s", cleanPath)
	}

	if filepath.IsAbs(cleanPath) {
		restricted := []string{"/etc/", "/proc/", "/sys/", "/dev/", "/run/secrets"}
		for _, p := range restricted {
			if strings.HasPrefix(cleanPath+"/", p) || cleanPath == strings.TrimSuffix(p, "/") {
				return nil, fmt.Errorf("log file path not allowed: %s", cleanPath)
			}
		}
	}

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	if info, err := os.Lstat(cleanPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("refusing to open symlink for log file: %s", cleanPath)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("log path must be a regular file: %s", cleanPath)
		}
	}

	file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cleanPath, err)
	}
	return file, nil
}
