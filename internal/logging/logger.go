package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/config"
)

// Config holds logger configuration
type Config struct {
	Level      logrus.Level
	OutputFile string // Path to log file (empty = console only)
	MaxSize    int64  // Max size in bytes before rotation (default: 10MB)
	MaxBackups int    // Number of old log files to keep (default: 3)
	JSONFormat bool
	AddSource  bool // Report caller file and line
}

// FromConfig translates the logging section of the application config
func FromConfig(cfg config.LoggingConfig) Config {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	return Config{
		Level:      level,
		OutputFile: cfg.File,
		MaxSize:    int64(cfg.MaxSizeMB) * 1024 * 1024,
		MaxBackups: cfg.MaxBackups,
		JSONFormat: cfg.Format == "json",
		AddSource:  level >= logrus.DebugLevel,
	}
}

// Logger is a logrus logger plus the log file it may own
type Logger struct {
	*logrus.Logger
	config Config
	file   *os.File
}

// New creates a logger writing to console and, optionally, to a rotated
// log file. Console output goes to stderr so stdout stays free for
// command output and the MCP stdio transport.
func New(cfg Config, console io.Writer) (*Logger, error) {
	// Set defaults
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 10 * 1024 * 1024 // 10MB
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
	if console == nil {
		console = os.Stderr
	}

	l := &Logger{Logger: logrus.New(), config: cfg}

	writers := []io.Writer{console}
	if cfg.OutputFile != "" {
		// Ensure directory exists
		dir := filepath.Dir(cfg.OutputFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}

		// Check if rotation needed
		if err := rotateIfNeeded(cfg); err != nil {
			return nil, fmt.Errorf("failed to rotate logs: %w", err)
		}

		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		l.file = file
		writers = append(writers, file)
	}

	l.SetOutput(io.MultiWriter(writers...))
	l.SetLevel(cfg.Level)
	l.SetReportCaller(cfg.AddSource)
	if cfg.JSONFormat {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return l, nil
}

// rotateIfNeeded shifts file -> file.1 -> file.2 ... once file exceeds
// MaxSize, keeping at most MaxBackups backups
func rotateIfNeeded(cfg Config) error {
	info, err := os.Stat(cfg.OutputFile)
	if os.IsNotExist(err) {
		return nil // File doesn't exist yet
	}
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() < cfg.MaxSize {
		return nil // No rotation needed
	}

	// Rotate existing backup files
	for i := cfg.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", cfg.OutputFile, i)
		newPath := fmt.Sprintf("%s.%d", cfg.OutputFile, i+1)
		if _, err := os.Stat(oldPath); err == nil {
			os.Rename(oldPath, newPath) // Ignore error, file might not exist
		}
	}

	// Rotate current file to .1
	if err := os.Rename(cfg.OutputFile, cfg.OutputFile+".1"); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	return nil
}

// Close closes the log file if one is open
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// FilePath returns the current log file path, if any
func (l *Logger) FilePath() string {
	return l.config.OutputFile
}

// Discard returns a logger that drops everything, for tests and quiet runs
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
