package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// OpenAt opens path for writing at offset, creating it and its directory
// if needed. Anything past offset is dropped so the file holds exactly
// the bytes being resumed.
func OpenAt(path string, offset int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate file: %w", err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek file: %w", err)
	}

	return f, nil
}

// Size returns the size of the file at path and whether it exists.
func Size(path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info.Size(), true, nil
	}

	if os.IsNotExist(err) {
		return 0, false, nil
	}

	return 0, false, err
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// Publish moves a finished temp file to its final name.
func Publish(tempPath, finalPath string) error {
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(tempPath), err)
	}

	return nil
}
