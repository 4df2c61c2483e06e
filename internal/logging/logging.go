// Package logging assembles the zap loggers used across the module.
//
// Loggers are built by constructors and handed to components explicitly;
// nothing here touches process-global state, so tests can run isolated
// loggers side by side.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config declares how New assembles a logger. The zero value yields an
// info-level JSON logger writing to the provided sink only.
type Config struct {
	// Level is the minimum emitted level: debug, info, warn or error.
	// Empty means info; unrecognized values fall back to info.
	Level string
	// Name, when non-empty, becomes the logger field on every entry.
	Name string
	// File, when non-empty, adds a rotating JSON file sink alongside the
	// primary sink.
	File string
	// MaxSizeMB caps the file size before rotation.
	MaxSizeMB int
	// MaxBackups caps how many rotated files are kept.
	MaxBackups int
	// MaxAgeDays caps how long rotated files are kept.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
}

// New builds a JSON logger writing to sink, plus a rotating file sink when
// cfg.File is set. The caller owns the returned logger and its Sync.
func New(cfg Config, sink zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(newEncoder(), sink, level)}
	if cfg.File != "" {
		// lumberjack handles rotation and serializes writes.
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(newEncoder(), fileSink, level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
	if cfg.Name != "" {
		logger = logger.Named(cfg.Name)
	}
	return logger
}

// NewProduction is New with the primary sink locked to stdout.
func NewProduction(cfg Config) *zap.Logger {
	return New(cfg, zapcore.Lock(os.Stdout))
}

// Nop returns a logger that discards everything. Components default to it
// when no logger is supplied.
func Nop() *zap.Logger { return zap.NewNop() }

func newEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}
