// Package logging builds the process-wide zap logger.
//
// Init is called once at startup and Close on every exit path. Nothing is
// configured lazily.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/convoetl/internal/config"
)

// Config selects the level and sinks.
type Config struct {
	Level string
	// File, when set, receives JSON entries with size-based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Console receives human-readable entries. Defaults to os.Stderr.
	Console io.Writer
}

// FromConfig converts the log section of the configuration file.
func FromConfig(c config.LogConfig) Config {
	return Config{
		Level:      c.Level,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
	}
}

// Logging owns the logger and its file sink.
type Logging struct {
	Logger *zap.Logger
	file   *lumberjack.Logger
}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "timestamp",
	LevelKey:       "level",
	NameKey:        "logger",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.LowercaseLevelEncoder,
	EncodeTime:     zapcore.ISO8601TimeEncoder,
	EncodeDuration: zapcore.StringDurationEncoder,
	EncodeName:     zapcore.FullNameEncoder,
}

// Init builds the logger described by cfg.
func Init(cfg Config) (*Logging, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(zapcore.AddSync(console)), level),
	}

	l := &Logging{}
	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(l.file), level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
	return l, nil
}

// Nop returns a Logging that discards everything.
func Nop() *Logging {
	return &Logging{Logger: zap.NewNop()}
}

// Close flushes buffered entries and closes the file sink.
func (l *Logging) Close() error {
	if l == nil || l.Logger == nil {
		return nil
	}
	// Sync on a terminal stderr reports EINVAL on some platforms.
	err := l.Logger.Sync()
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = nil
	}
	if l.file != nil {
		if cerr := l.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
