package helper

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetPIDPath returns the path to the PID file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Resolve it under the working directory when the parent exists.
// 3. Otherwise, fallback to /var/run/coordinator.pid
func GetPIDPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}

	currentDir := getPIDCurrentDir(filename)
	if currentDir != "" {
		return currentDir
	}

	return filepath.Join("/var/run/coordinator.pid")
}

func getPIDCurrentDir(filename string) string {
	if filename == "" {
		return ""
	}

	currentDir, err := os.Getwd()
	if err != nil || currentDir == "" {
		return ""
	}

	absPath, err := filepath.Abs(filepath.Join(currentDir, filename))
	if err != nil {
		return ""
	}

	if _, err := os.Stat(filepath.Dir(absPath)); err == nil {
		return absPath
	}
	return ""
}

// WritePIDFile writes the current process id to path and returns a func removing it
func WritePIDFile(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return func() error { return os.Remove(path) }, nil
}
