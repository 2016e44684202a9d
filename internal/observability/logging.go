// Package observability constructs the process loggers.
//
// Two loggers exist: the structured application logger built by Init
// from the logging config, and CLILogger, a console logger for
// human-facing command output. Both are nop-safe before Init so library
// code can log unconditionally.
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gnssops/rinextank/internal/config"
)

var (
	mu     sync.Mutex
	logger = zap.NewNop()

	// CLILogger prints human-facing command output. Console encoding,
	// warnings and up to stderr semantics are handled by zap.
	CLILogger = zap.NewNop()
)

// Init builds the application logger from config and replaces the
// package globals. Safe to call more than once; the last call wins.
func Init(cfg config.LoggingConfig) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Profile, "console") {
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(devCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	stderr := zapcore.Lock(os.Stderr)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, stderr, level),
	}

	if cfg.File != "" {
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), fileSink, level))
	}

	logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	cliCfg := zap.NewDevelopmentEncoderConfig()
	cliCfg.TimeKey = ""
	cliCfg.CallerKey = ""
	CLILogger = zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(cliCfg),
		stderr,
		zapcore.InfoLevel,
	))

	return nil
}

// Logger returns the application logger. Nop before Init.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Sync flushes buffered log entries. Called on process exit.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = logger.Sync()
	_ = CLILogger.Sync()
}
