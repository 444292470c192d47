// Package telemetry provides the structured logger used throughout
// the raknet package: package-level Info/Warn/Error/Debug/Fatal calls,
// plus a Section helper for a CLI's startup banner, backed by zap.
package telemetry

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger *zap.Logger

func init() {
	defaultLogger, _ = newLogger(zapcore.InfoLevel)
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return cfg.Build()
}

// SetLevel replaces the default logger's minimum level.
func SetLevel(level zapcore.Level) {
	l, err := newLogger(level)
	if err != nil {
		return
	}
	defaultLogger = l
}

// L returns the package-level logger for callers that want to attach
// structured fields directly (zap.Field) rather than format a string.
func L() *zap.Logger { return defaultLogger }

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatal(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Section prints a banner-style section header, used by cmd/raknet-echo
// at startup.
func Section(title string) {
	border := "───────────────────────────────────────────"
	fmt.Printf("\n%s\n %s\n%s\n\n", border, title, border)
}
