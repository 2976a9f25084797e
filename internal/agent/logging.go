package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxLogFileSizeBytes and logFileBackupCount match the Python source's
// RotatingFileHandler(maxBytes=10*1024*1024, backupCount=1).
const (
	maxLogFileSizeBytes = 10 * 1024 * 1024
	logFileBackupCount  = 1
)

// rotatingFileWriter is a minimal size-based log rotator. No library in the
// dependency corpus (lumberjack included) provides this narrow primitive, so
// it is a deliberate, justified stdlib implementation (see DESIGN.md);
// logrus remains the logging library, this only backs its file output.
type rotatingFileWriter struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	size    int64
	maxSize int64
	backups int
}

func newRotatingFileWriter(path string, maxSize int64, backups int) (*rotatingFileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rotatingFileWriter{path: path, file: f, size: info.Size(), maxSize: maxSize, backups: backups}, nil
}

func (w *rotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	for i := w.backups; i > 0; i-- {
		src := w.backupPath(i - 1)
		dst := w.backupPath(i)
		if i == w.backups {
			os.Remove(dst)
		}
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	return nil
}

func (w *rotatingFileWriter) backupPath(n int) string {
	if n == 0 {
		return w.path
	}
	return fmt.Sprintf("%s.%d", w.path, n)
}

func (w *rotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// logFileName mirrors the Python source's convention of naming the log file
// after which collection modes are enabled.
func logFileName(cfg Config) string {
	switch {
	case cfg.CollectResources && cfg.CollectEvents:
		return "cluster-agent-resources-events.log"
	case cfg.CollectEvents:
		return "cluster-agent-events.log"
	default:
		return "cluster-agent-resources.log"
	}
}

// NewLogger builds the dual stdout+rotating-file logrus logger. The caller
// owns the returned io.Closer and must Close it on shutdown.
func NewLogger(cfg Config, debug bool) (*logrus.Logger, io.Closer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	logPath := filepath.Join(home, ".epsagon", logFileName(cfg))

	fileWriter, err := newRotatingFileWriter(logPath, maxLogFileSizeBytes, logFileBackupCount)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	logger.SetLevel(levelFor(debug))

	return logger, fileWriter, nil
}

func levelFor(debug bool) logrus.Level {
	if debug {
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}

func debugFlagPath(confDir string) string {
	return filepath.Join(confDir, "epsagon_debug")
}

// ReadDebugFlag reads the debug-flag file, falling back to envDebug when the
// file is missing or unreadable.
func ReadDebugFlag(confDir string, envDebug bool) bool {
	data, err := os.ReadFile(debugFlagPath(confDir))
	if err != nil {
		return envDebug
	}
	return strings.TrimSpace(strings.ToLower(string(data))) == "true"
}
