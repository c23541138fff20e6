// Package logging provides the structured logger used throughout the
// engine. Every component depends on the Logger interface, never on zap
// directly, so logging configuration stays in one place.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface every component depends on.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, err error, fields ...zap.Field)
	Fatal(msg string, err error, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Sync() error
}

// zapLogger implements Logger using zap.
type zapLogger struct {
	logger *zap.Logger
}

// Config defines logger configuration, loaded via viper alongside the
// rest of the engine's settings.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// New creates a structured logger based on configuration.
func New(config Config) (Logger, error) {
	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(config.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	var writeSyncer zapcore.WriteSyncer
	switch strings.ToLower(config.Output) {
	case "stdout", "":
		writeSyncer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	var options []zap.Option
	if config.Development {
		options = append(options, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		options = append(options, zap.AddCaller())
	}

	return &zapLogger{logger: zap.New(core, options...)}, nil
}

// NewDefault creates a logger with sensible defaults for interactive use.
func NewDefault() Logger {
	logger, err := New(Config{Level: "info", Format: "console", Output: "stdout", Development: true})
	if err != nil {
		zl, _ := zap.NewDevelopment()
		return &zapLogger{logger: zl}
	}
	return logger
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.logger.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.logger.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.logger.Warn(msg, fields...) }

func (l *zapLogger) Error(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	allFields = append(allFields, fields...)
	l.logger.Error(msg, allFields...)
}

func (l *zapLogger) Fatal(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	allFields = append(allFields, fields...)
	l.logger.Fatal(msg, allFields...)
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{logger: l.logger.With(fields...)}
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

func parseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

// F provides convenient field constructors shared across packages so call
// sites don't import zap directly.
type fieldHelpers struct{}

// F is the field-constructor namespace, e.g. logging.F.String("key", "v").
var F fieldHelpers

func (fieldHelpers) String(key, value string) zap.Field { return zap.String(key, value) }
func (fieldHelpers) Int(key string, value int) zap.Field { return zap.Int(key, value) }
func (fieldHelpers) Int64(key string, value int64) zap.Field { return zap.Int64(key, value) }
func (fieldHelpers) Float64(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}
func (fieldHelpers) Bool(key string, value bool) zap.Field { return zap.Bool(key, value) }
func (fieldHelpers) Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}
func (fieldHelpers) Err(err error) zap.Field         { return zap.Error(err) }
func (fieldHelpers) Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// Scenario creates fields describing which scenario and run are active.
func (fieldHelpers) Scenario(name, runID string) []zap.Field {
	return []zap.Field{zap.String("scenario", name), zap.String("run_id", runID)}
}

// Step creates fields identifying a step within a scenario.
func (fieldHelpers) Step(name, stepType string) []zap.Field {
	return []zap.Field{zap.String("step", name), zap.String("step_type", stepType)}
}
