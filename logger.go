package fsmcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// ErrorLogField is the key used for error fields in logs
	ErrorLogField string = "error"
)

// Logger interface - defines the common logging methods
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithErr(err error) Logger
}

// NullLogger - a logger that does nothing
type NullLogger struct{}

// NewNullLogger creates a new NullLogger
func NewNullLogger() Logger {
	return &NullLogger{}
}

// Debug is a no-op for NullLogger
func (l *NullLogger) Debug(args ...interface{}) {}

// Info is a no-op for NullLogger
func (l *NullLogger) Info(args ...interface{}) {}

// Warn is a no-op for NullLogger
func (l *NullLogger) Warn(args ...interface{}) {}

// Error is a no-op for NullLogger
func (l *NullLogger) Error(args ...interface{}) {}

// WithFields is a no-op for NullLogger
func (l *NullLogger) WithFields(fields map[string]interface{}) Logger { return l }

// WithContext is a no-op for NullLogger
func (l *NullLogger) WithContext(ctx context.Context) Logger { return l }

// WithErr is a no-op for NullLogger
func (l *NullLogger) WithErr(err error) Logger { return l }

// LogrusLogger implements the Logger interface using logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates a new LogrusLogger with the provided logrus.Logger.
// A nil logger gets a fresh logrus.Logger writing to stderr.
func NewLogrusLogger(logger *logrus.Logger) Logger {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
	}
	return &LogrusLogger{
		entry: logrus.NewEntry(logger),
	}
}

// Debug log for LogrusLogger
func (l *LogrusLogger) Debug(args ...interface{}) {
	l.entry.Debug(args...)
}

// Info log for LogrusLogger
func (l *LogrusLogger) Info(args ...interface{}) {
	l.entry.Info(args...)
}

// Warn log for LogrusLogger
func (l *LogrusLogger) Warn(args ...interface{}) {
	l.entry.Warn(args...)
}

// Error log for LogrusLogger
func (l *LogrusLogger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

// WithFields adds fields to the logger and returns a new LogrusLogger
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{
		entry: l.entry.WithFields(logrus.Fields(fields)),
	}
}

// WithContext adds context to the logger and returns a new LogrusLogger
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	return &LogrusLogger{
		entry: l.entry.WithContext(ctx),
	}
}

// WithErr adds an error to the logger and returns a new LogrusLogger
func (l *LogrusLogger) WithErr(err error) Logger {
	return &LogrusLogger{
		entry: l.entry.WithError(err),
	}
}

// ZapLogger implements the Logger interface using uber-go/zap
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewZapLogger creates a new ZapLogger with the provided zap.Logger.
// A nil logger gets a production logger writing to stderr.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &ZapLogger{
		logger: logger,
		sugar:  logger.Sugar(),
	}
}

// Debug log for ZapLogger
func (l *ZapLogger) Debug(args ...interface{}) {
	l.sugar.Debug(args...)
}

// Info log for ZapLogger
func (l *ZapLogger) Info(args ...interface{}) {
	l.sugar.Info(args...)
}

// Warn log for ZapLogger
func (l *ZapLogger) Warn(args ...interface{}) {
	l.sugar.Warn(args...)
}

// Error log for ZapLogger
func (l *ZapLogger) Error(args ...interface{}) {
	l.sugar.Error(args...)
}

// WithFields adds fields to the logger and returns a new ZapLogger
func (l *ZapLogger) WithFields(fields map[string]interface{}) Logger {
	zapFields := make([]zapcore.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	logger := l.logger.With(zapFields...)
	return &ZapLogger{
		logger: logger,
		sugar:  logger.Sugar(),
	}
}

// WithContext adds context to the logger and returns a new ZapLogger
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	return l
}

// WithErr adds an error to the logger and returns a new ZapLogger
func (l *ZapLogger) WithErr(err error) Logger {
	logger := l.logger.With(zap.Error(err))
	return &ZapLogger{
		logger: logger,
		sugar:  logger.Sugar(),
	}
}

// LogConfig selects and configures a logging backend.
type LogConfig struct {
	// Backend is "logrus" (default) or "zap".
	Backend string
	// Level is debug, info, warn or error.
	Level string
	// File, when set, receives log output instead of stderr.
	File string
}

// NewLogger builds the configured backend. Output never goes to stdout,
// which is reserved for protocol traffic. The returned closer flushes and
// releases the log file.
func NewLogger(cfg LogConfig) (Logger, io.Closer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "logrus":
		return newLogrusFromConfig(cfg)
	case "zap":
		return newZapFromConfig(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newLogrusFromConfig(cfg LogConfig) (Logger, io.Closer, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	l.SetOutput(os.Stderr)

	closer := io.Closer(closerFunc(func() error { return nil }))
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		l.SetOutput(f)
		closer = f
	}

	return NewLogrusLogger(l), closer, nil
}

func newZapFromConfig(cfg LogConfig) (Logger, io.Closer, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}

	return NewZapLogger(logger), closerFunc(func() error {
		_ = logger.Sync()
		return nil
	}), nil
}
