package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileRecorder appends one JSON record per line to an audit file.
type FileRecorder struct {
	file *os.File
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if path == "" {
		return nil, fmt.Errorf("history file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	return &FileRecorder{file: file}, nil
}

func (r *FileRecorder) Record(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: marshal record: %v", ErrPersistenceFailed, err)
	}
	line = append(line, '\n')
	if _, err := r.file.Write(line); err != nil {
		return fmt.Errorf("%w: append record: %v", ErrPersistenceFailed, err)
	}
	return nil
}

func (r *FileRecorder) Close() error {
	return r.file.Close()
}
