// Package logging builds the shared log writer and the per-component
// loggers derived from it.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where log output goes.
type Config struct {
	// File is the log file path. Empty means stderr only.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Verbose also copies file output to stderr.
	Verbose bool
}

// Logger is the process-wide log sink.
type Logger struct {
	base *log.Logger
	file *lumberjack.Logger
}

// New opens the rotating log file, if configured, and returns the sink.
func New(cfg Config) (*Logger, error) {
	if cfg.File == "" {
		return &Logger{base: log.New(os.Stderr, "", log.LstdFlags)}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	var out io.Writer = file
	if cfg.Verbose {
		out = io.MultiWriter(file, os.Stderr)
	}

	return &Logger{base: log.New(out, "", log.LstdFlags), file: file}, nil
}

// Discard returns a sink that drops everything.
func Discard() *Logger {
	return &Logger{base: log.New(io.Discard, "", 0)}
}

// Writer returns the underlying writer.
func (l *Logger) Writer() io.Writer {
	return l.base.Writer()
}

// Component returns a logger that prefixes each line with [name].
func (l *Logger) Component(name string) *log.Logger {
	return Component(l.base, name)
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Component derives a logger from base sharing its writer and flags.
func Component(base *log.Logger, name string) *log.Logger {
	return log.New(base.Writer(), "["+name+"] ", base.Flags())
}
