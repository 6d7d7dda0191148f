package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WrittenLog records which task outputs have been fully written, one output
// path per line. Generators consult it on startup to skip finished tasks.
//
// A crash mid-append can leave a partial last line; it is read back as an
// unknown entry and the task simply runs again.
type WrittenLog struct {
	mu      sync.RWMutex
	file    *os.File
	written map[string]struct{}
}

func OpenWrittenLog(path string) (*WrittenLog, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}

	written := make(map[string]struct{})
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if key := strings.TrimSpace(scanner.Text()); key != "" {
				written[key] = struct{}{}
			}
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &WrittenLog{file: file, written: written}, nil
}

func (l *WrittenLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *WrittenLog) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.written[key]
	return ok
}

func (l *WrittenLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.written)
}

// Add appends key and fsyncs. Keys already present are ignored.
func (l *WrittenLog) Add(key string) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.written[key]; ok {
		return nil
	}
	if l.file == nil {
		return fmt.Errorf("log file is closed")
	}
	if _, err := l.file.WriteString(key + "\n"); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	l.written[key] = struct{}{}
	return nil
}
