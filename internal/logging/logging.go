// Package logging configures the process-wide slog logger, writing to both
// a log file and stdout, the way services/mape's logging package does.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

// Init opens (creating if needed) a log file under logDir and returns a
// logger that duplicates every record to both that file and stdout. The
// caller should Close() the returned file on shutdown.
func Init(logDir string) (*slog.Logger, *os.File) {
	if logDir == "" {
		logDir = "./logs"
	}
	_ = os.MkdirAll(logDir, 0o755)

	filePath := filepath.Join(logDir, "loadmanagerd.log")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
		logger.Error("failed to open log file; falling back to stdout only", "error", err)
		return logger, nil
	}

	mw := NewMultiWriter(f, os.Stdout)
	logger := slog.New(slog.NewTextHandler(mw, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.SetOutput(mw)
	return logger, f
}

// NewMultiWriter duplicates writes across all given writers.
func NewMultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
