package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentFileName = "audit.log"

// FileStoreConfig configures the file store
type FileStoreConfig struct {
	Dir      string // Directory holding audit.log and rotated files
	MaxSize  int64  // Rotate once audit.log reaches this many bytes (default: 100MB)
	MaxFiles int    // Rotated files to keep (default: 10)
}

// DefaultFileStoreConfig returns default configuration
func DefaultFileStoreConfig() FileStoreConfig {
	return FileStoreConfig{
		Dir:      "/var/log/gatekeeper/audit",
		MaxSize:  100 * 1024 * 1024, // 100MB
		MaxFiles: 10,
	}
}

// FileStore appends entries to a file as newline-delimited JSON
type FileStore struct {
	dir      string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	seq     int
}

// NewFileStore creates the directory if needed and opens the current log file
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	s := &FileStore{
		dir:      cfg.Dir,
		maxSize:  cfg.MaxSize,
		maxFiles: cfg.MaxFiles,
	}
	if s.maxSize <= 0 {
		s.maxSize = 100 * 1024 * 1024
	}
	if s.maxFiles <= 0 {
		s.maxFiles = 10
	}

	if err := s.openFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) currentPath() string {
	return filepath.Join(s.dir, currentFileName)
}

// openFile must be called with mu held or before the store is shared
func (s *FileStore) openFile() error {
	file, err := os.OpenFile(s.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

func (s *FileStore) rotate() error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("failed to close audit log file: %w", err)
		}
		s.file = nil
	}

	s.seq++
	rotated := filepath.Join(s.dir, fmt.Sprintf("audit-%s-%06d.log",
		time.Now().UTC().Format("20060102T150405.000000000"), s.seq))
	if err := os.Rename(s.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename audit log file: %w", err)
	}

	if err := s.cleanup(); err != nil {
		return err
	}
	return s.openFile()
}

// cleanup removes the oldest rotated files beyond maxFiles. Rotated names sort chronologically.
func (s *FileStore) cleanup() error {
	files, err := s.rotatedFiles()
	if err != nil {
		return err
	}
	if len(files) <= s.maxFiles {
		return nil
	}

	var errs []error
	for _, f := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(f); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove old audit log %s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) rotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "audit-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Append implements Store
func (s *FileStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("audit log file is closed")
	}

	if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
		if err := s.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}

	if err := s.encoder.Encode(e); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close implements Store
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadCurrent reads up to limit entries from the current file, oldest first. A non-positive limit reads all.
func (s *FileStore) ReadCurrent(limit int) ([]Entry, error) {
	file, err := os.Open(s.currentPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}
