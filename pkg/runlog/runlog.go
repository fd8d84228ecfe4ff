// Package runlog opens the per-invocation log shared by a run.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nzoschke/vak/pkg/paths"
	"github.com/nzoschke/vak/pkg/version"
)

// Log is a run's logger plus the file it writes to.
type Log struct {
	logger  *zap.Logger
	file    *os.File
	path    string
	command string
}

// Open creates <dir>/<command>_<timestamp>.log and returns a logger that writes
// to it and to stderr. The first record names the command and toolkit version.
func Open(command, dir string) (*Log, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", command, paths.Timestamp()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.RFC3339TimeEncoder
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(config)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(f), zapcore.DebugLevel),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	)
	logger := zap.New(core).With(zap.String("command", command))
	logger.Info("vak version: " + version.Version)
	logger.Info("logging to " + path)

	return &Log{logger: logger, file: f, path: path, command: command}, nil
}

// Logger returns the run's logger.
func (l *Log) Logger() *zap.Logger {
	return l.logger
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	// stderr may not support sync; only the file matters here
	_ = l.logger.Sync()
	return l.file.Close()
}

// OrNop returns logger, or a no-op logger when nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
