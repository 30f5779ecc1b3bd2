// Package logging sets up the process-wide slog logger: a rotating file,
// stderr, and optional extra sinks such as the web log buffer.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const fileName = "rtkrover.log"

// Logger is the configured slog logger plus the file it rotates.
type Logger struct {
	*slog.Logger
	LogFile string
	Start   time.Time

	file *lumberjack.Logger
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
}

// New builds a text-format logger writing to <dir>/rtkrover.log (rotated at
// 16 MB, 3 backups), stderr and each extra writer. An empty dir skips the
// file.
func New(level, dir string, extra ...io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var (
		sinks []io.Writer
		file  *lumberjack.Logger
	)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create %s: %w", dir, err)
		}
		file = &lumberjack.Logger{
			Filename:   filepath.Join(dir, fileName),
			MaxSize:    16, // MB
			MaxBackups: 3,
		}
		sinks = append(sinks, file)
	}
	sinks = append(sinks, os.Stderr)
	for _, w := range extra {
		if w != nil {
			sinks = append(sinks, w)
		}
	}

	h := slog.NewTextHandler(io.MultiWriter(sinks...), &slog.HandlerOptions{Level: lvl})
	l := &Logger{
		Logger: slog.New(h),
		Start:  time.Now(),
		file:   file,
	}
	if file != nil {
		l.LogFile = file.Filename
	}

	l.Info("logging started",
		slog.String("level", lvl.String()),
		slog.String("file", l.LogFile),
		slog.String("GOARCH", runtime.GOARCH),
		slog.String("GOOS", runtime.GOOS),
		slog.Int("NumCPUs", runtime.NumCPU()))
	return l, nil
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
