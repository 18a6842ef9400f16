package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultMaxSize    = 10 * 1024 * 1024 // 10MB
	DefaultMaxBackups = 3                // Keep 3 backup files
)

// RotatingFile is a zapcore.WriteSyncer that appends to path and rotates
// it to path.1 .. path.N once it grows past maxSize.
type RotatingFile struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	size       int64
}

// NewRotatingFile opens (or creates) the log file, rotating first if the
// existing file is already too large.
func NewRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	if maxBackups < 1 {
		maxBackups = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	rf := &RotatingFile{path: path, maxSize: maxSize, maxBackups: maxBackups}

	if info, err := os.Stat(path); err == nil && info.Size() >= maxSize {
		if err := rf.rotate(); err != nil {
			return nil, fmt.Errorf("failed to rotate logs: %w", err)
		}
	}

	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	file, err := os.OpenFile(rf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	rf.file = file
	rf.size = info.Size()
	return nil
}

// rotate performs log rotation. The caller holds mu or owns rf exclusively.
func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		rf.file.Close()
		rf.file = nil
	}

	// Remove oldest backup
	os.Remove(fmt.Sprintf("%s.%d", rf.path, rf.maxBackups))

	for i := rf.maxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", rf.path, i)
		newPath := fmt.Sprintf("%s.%d", rf.path, i+1)
		os.Rename(oldPath, newPath) // Ignore error if source doesn't exist
	}

	if err := os.Rename(rf.path, rf.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		if err := rf.open(); err != nil {
			return 0, err
		}
	}

	if rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
		if err := rf.open(); err != nil {
			return 0, err
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *RotatingFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	return rf.file.Sync()
}

func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}
