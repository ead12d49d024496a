package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// =============================================================================
// Rotating File Writer
// =============================================================================

// RotatingFileWriter is an io.Writer that rotates by size: once the file
// would exceed maxBytes it is renamed to .1, older backups shift up, and
// anything past backupCount is dropped.
type RotatingFileWriter struct {
	mu          sync.Mutex
	path        string
	maxBytes    int
	backupCount int
	file        *os.File
	currentSize int64
}

// NewRotatingFileWriter opens path for appending, creating its directory.
// maxBytes <= 0 disables rotation.
func NewRotatingFileWriter(path string, maxBytes, backupCount int) (*RotatingFileWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: create log dir: %w", err)
		}
	}

	rw := &RotatingFileWriter{
		path:        path,
		maxBytes:    maxBytes,
		backupCount: backupCount,
	}
	if err := rw.openFile(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingFileWriter) openFile() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("config: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	rw.file = f
	rw.currentSize = info.Size()
	return nil
}

// Write implements io.Writer.
func (rw *RotatingFileWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("config: log file %s is closed", rw.path)
	}
	if rw.maxBytes > 0 && rw.currentSize > 0 && rw.currentSize+int64(len(p)) > int64(rw.maxBytes) {
		rw.rotate()
		if rw.file == nil {
			return os.Stderr.Write(p)
		}
	}

	n, err := rw.file.Write(p)
	rw.currentSize += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rw *RotatingFileWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

// rotate shifts file -> file.1 -> file.2 ... and reopens. Caller holds mu.
func (rw *RotatingFileWriter) rotate() {
	rw.file.Close()
	rw.file = nil

	if rw.backupCount <= 0 {
		os.Remove(rw.path)
	}
	for i := rw.backupCount; i > 0; i-- {
		src := rw.path
		if i > 1 {
			src = fmt.Sprintf("%s.%d", rw.path, i-1)
		}
		dst := fmt.Sprintf("%s.%d", rw.path, i)
		os.Remove(dst)
		os.Rename(src, dst)
	}

	if err := rw.openFile(); err != nil {
		fmt.Fprintf(os.Stderr, "config: failed to reopen log file after rotation: %v\n", err)
	}
}

// =============================================================================
// ConfigureLogging
// =============================================================================

// DebugEnabled reports whether per-sample diagnostics should be logged.
func (c *Config) DebugEnabled() bool {
	return strings.EqualFold(c.LogLevel, "DEBUG")
}

// ConfigureLogging points the standard logger at the rotating log file
// and, optionally, stdout. A log file that cannot be opened is reported and
// skipped. The returned cleanup closes the file.
func ConfigureLogging(cfg *Config) (cleanup func(), err error) {
	var writers []io.Writer
	var closers []io.Closer

	if cfg.LogFile != "" {
		rw, err := NewRotatingFileWriter(cfg.LogFile, cfg.LogMaxBytes, cfg.LogBackupCount)
		if err != nil {
			log.Printf("[Config] WARNING: Failed to configure file logging: %v", err)
		} else {
			writers = append(writers, rw)
			closers = append(closers, rw)
		}
	}

	if cfg.LogToStdout || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	log.SetOutput(io.MultiWriter(writers...))
	flags := log.Ldate | log.Ltime
	if cfg.DebugEnabled() {
		flags |= log.Lmicroseconds
	}
	log.SetFlags(flags)

	cleanup = func() {
		log.SetOutput(os.Stderr)
		for _, c := range closers {
			c.Close()
		}
	}
	return cleanup, nil
}
