// Package logger wraps a zap.SugaredLogger behind kolabpad's original
// Init/Debug/Info/Error call shape, so the rest of the codebase keeps
// calling logger.Info("...", args...) while gaining zap's structured,
// leveled output.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar *zap.SugaredLogger

// Init builds the global logger from LOG_LEVEL (debug, info, error;
// defaults to info).
func Init() {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-frills logger rather than crash on a
		// logging misconfiguration.
		l = zap.NewExample()
	}
	sugar = l.Sugar()
}

func init() {
	// Guarantee a non-nil logger for packages that log before Init,
	// e.g. in tests that never call logger.Init.
	sugar = zap.NewExample().Sugar()
}

func parseLevel(levelStr string) zapcore.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zapcore.DebugLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug logs at debug level.
func Debug(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

// Info logs at info level.
func Info(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

// Error logs at error level.
func Error(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	_ = sugar.Sync()
}
