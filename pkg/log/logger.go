package log

import (
	"io"
	"os"

	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface used across the executor.
type Logger interface {
	// Info takes a message and a set of key/value pairs and logs with level INFO.
	// The key of the tuple must be a string.
	Info(msg string, keyVals ...any)

	// Warn takes a message and a set of key/value pairs and logs with level WARN.
	// The key of the tuple must be a string.
	Warn(msg string, keyVals ...any)

	// Error takes a message and a set of key/value pairs and logs with level ERR.
	// The key of the tuple must be a string.
	Error(msg string, keyVals ...any)

	// Debug takes a message and a set of key/value pairs and logs with level DEBUG.
	// The key of the tuple must be a string.
	Debug(msg string, keyVals ...any)

	// With returns a new wrapped logger with additional context provided by a set.
	With(keyVals ...any) Logger

	// Impl returns the underlying logger implementation.
	// Advanced users can type cast the returned value to the actual logger.
	Impl() any
}

// zapLogger wraps ipfs/go-log ZapEventLogger to implement the Logger interface.
type zapLogger struct {
	logger *ipfslog.ZapEventLogger
}

// NewLogger creates a new logger that writes to the given destination.
func NewLogger(dst io.Writer, options ...Option) Logger {
	config := &Config{
		Level:      zapcore.InfoLevel,
		EnableJSON: false,
		Trace:      false,
	}
	for _, opt := range options {
		opt(config)
	}

	if dst != nil && dst != os.Stdout {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		var encoder zapcore.Encoder
		if config.EnableJSON {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}

		core := zapcore.NewCore(encoder, zapcore.AddSync(dst), config.Level)
		sugaredLogger := zap.New(core).Sugar()

		return &zapLogger{
			logger: &ipfslog.ZapEventLogger{SugaredLogger: *sugaredLogger},
		}
	}

	logger := ipfslog.Logger("xexd")

	switch config.Level {
	case zapcore.DebugLevel:
		_ = ipfslog.SetLogLevel("xexd", "debug")
	case zapcore.InfoLevel:
		_ = ipfslog.SetLogLevel("xexd", "info")
	case zapcore.WarnLevel:
		_ = ipfslog.SetLogLevel("xexd", "warn")
	case zapcore.ErrorLevel:
		_ = ipfslog.SetLogLevel("xexd", "error")
	}

	return &zapLogger{
		logger: logger,
	}
}

// NewNopLogger creates a no-op logger.
func NewNopLogger() Logger {
	zapLog := zap.New(zapcore.NewNopCore()).Sugar()
	return &zapLogger{
		logger: &ipfslog.ZapEventLogger{SugaredLogger: *zapLog},
	}
}

// NewTestLogger creates a test logger.
func NewTestLogger(t TestingT) Logger {
	return &zapLogger{
		logger: ipfslog.Logger("test"),
	}
}

// Info logs at info level with key-value pairs
func (z *zapLogger) Info(msg string, keyVals ...any) {
	z.logger.Infow(msg, keyVals...)
}

// Warn logs at warn level with key-value pairs
func (z *zapLogger) Warn(msg string, keyVals ...any) {
	z.logger.Warnw(msg, keyVals...)
}

// Error logs at error level with key-value pairs
func (z *zapLogger) Error(msg string, keyVals ...any) {
	z.logger.Errorw(msg, keyVals...)
}

// Debug logs at debug level with key-value pairs
func (z *zapLogger) Debug(msg string, keyVals ...any) {
	z.logger.Debugw(msg, keyVals...)
}

// With returns a new logger with additional context
func (z *zapLogger) With(keyVals ...any) Logger {
	sugaredLogger := z.logger.With(keyVals...)
	return &zapLogger{
		logger: &ipfslog.ZapEventLogger{SugaredLogger: *sugaredLogger},
	}
}

// Impl returns the underlying logger implementation
func (z *zapLogger) Impl() any {
	return z.logger
}

// Option defines configuration options for the logger
type Option func(*Config)

// Config holds logger configuration
type Config struct {
	Level      zapcore.Level
	Format     string
	EnableJSON bool
	Trace      bool
}

// OutputJSONOption enables JSON output format
func OutputJSONOption() Option {
	return func(c *Config) {
		c.EnableJSON = true
	}
}

// LevelOption sets the log level from its string form ("debug", "info",
// "warn", "error"). Unknown values fall back to info.
func LevelOption(level string) Option {
	return func(c *Config) {
		switch level {
		case "debug":
			c.Level = zapcore.DebugLevel
		case "info":
			c.Level = zapcore.InfoLevel
		case "warn":
			c.Level = zapcore.WarnLevel
		case "error":
			c.Level = zapcore.ErrorLevel
		default:
			c.Level = zapcore.InfoLevel
		}
	}
}

// TraceOption enables or disables stack traces
func TraceOption(enabled bool) Option {
	return func(c *Config) {
		c.Trace = enabled
	}
}

// TestingT is an interface for testing.T
type TestingT interface {
	Log(args ...any)
	Logf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}
