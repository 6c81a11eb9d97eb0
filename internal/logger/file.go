package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger writes run events to a timestamped log file under the
// configured directory and maintains a latest.log symlink pointing to the
// most recent run.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger writing to logDir, creating the
// directory as needed. The run file is named run-YYYYMMDD-HHMMSS.log.
func NewFileLogger(logDir, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	f, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   f,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}
	fl.updateLatestSymlink()
	return fl, nil
}

// updateLatestSymlink points latest.log at the current run file.
// Symlink failures are ignored; the run log itself is what matters.
func (fl *FileLogger) updateLatestSymlink() {
	latest := filepath.Join(fl.logDir, "latest.log")
	os.Remove(latest)
	os.Symlink(filepath.Base(fl.runFile), latest) //nolint:errcheck
}

// Path returns the run log file path.
func (fl *FileLogger) Path() string {
	return fl.runFile
}

// Close flushes and closes the run log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog != nil {
		err := fl.runLog.Close()
		fl.runLog = nil
		return err
	}
	return nil
}

func (fl *FileLogger) logf(level, label, format string, args ...any) {
	if logLevelToInt(level) < logLevelToInt(fl.logLevel) {
		return
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(fl.runLog, "[%s] [%s] %s\n", timestamp, label, fmt.Sprintf(format, args...))
}

// Tracef logs a trace-level message.
func (fl *FileLogger) Tracef(format string, args ...any) {
	fl.logf("trace", "TRACE", format, args...)
}

// Debugf logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...any) {
	fl.logf("debug", "DEBUG", format, args...)
}

// Infof logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...any) {
	fl.logf("info", "INFO", format, args...)
}

// Warnf logs a warning-level message.
func (fl *FileLogger) Warnf(format string, args ...any) {
	fl.logf("warn", "WARN", format, args...)
}

// Errorf logs an error-level message.
func (fl *FileLogger) Errorf(format string, args ...any) {
	fl.logf("error", "ERROR", format, args...)
}

// Multi fans log calls out to several loggers, typically console + file.
type Multi struct {
	Loggers []interface {
		Debugf(string, ...any)
		Infof(string, ...any)
		Warnf(string, ...any)
		Errorf(string, ...any)
	}
}

// Debugf logs to every underlying logger.
func (m *Multi) Debugf(format string, args ...any) {
	for _, l := range m.Loggers {
		l.Debugf(format, args...)
	}
}

// Infof logs to every underlying logger.
func (m *Multi) Infof(format string, args ...any) {
	for _, l := range m.Loggers {
		l.Infof(format, args...)
	}
}

// Warnf logs to every underlying logger.
func (m *Multi) Warnf(format string, args ...any) {
	for _, l := range m.Loggers {
		l.Warnf(format, args...)
	}
}

// Errorf logs to every underlying logger.
func (m *Multi) Errorf(format string, args ...any) {
	for _, l := range m.Loggers {
		l.Errorf(format, args...)
	}
}
