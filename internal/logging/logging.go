// Package logging builds the process logger: JSON to stdout, optionally teed
// into a size-rotated file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel accepts debug, info, warn or error. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, fmt.Errorf("logging: unknown level %q", s)
	}
	return lvl, nil
}

func New(opts Options) (*zap.Logger, error) {
	return NewWithConsole(opts, zapcore.Lock(os.Stdout))
}

// NewWithConsole is New with the console sink replaced, for tests.
func NewWithConsole(opts Options, console zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(cfg), console, lvl)}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, lvl))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
