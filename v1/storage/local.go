package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalFileStorage stores content on the local filesystem under a root
// directory. Location tokens are slash-separated paths relative to the root.
type LocalFileStorage struct {
	root string
}

// NewLocalFileStorage creates a file storage rooted at dir, creating the
// directory if needed
func NewLocalFileStorage(dir string) (*LocalFileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalFileStorage{root: dir}, nil
}

// Store writes content under dir and returns the relative location token
func (s *LocalFileStorage) Store(ctx context.Context, fileName string, content []byte, dir string, overwrite bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned := sanitizeFileName(fileName)
	if cleaned == "" {
		return "", ErrInvalidFileName
	}

	// A uuid prefix keeps repeated uploads of the same file name from
	// colliding while the original name stays recoverable.
	location := filepath.ToSlash(filepath.Join(dir, uuid.New().String()+"_"+cleaned))
	target := filepath.Join(s.root, filepath.FromSlash(location))

	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return "", ErrFileAlreadyExists
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("failed to create document directory: %w", err)
	}
	if err := os.WriteFile(target, content, 0o640); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}

	slog.Debug("Stored document", "location", location, "bytes", len(content))
	return location, nil
}

// Get returns the content stored at location
func (s *LocalFileStorage) Get(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return content, nil
}

// Remove deletes the content stored at location
func (s *LocalFileStorage) Remove(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}

// resolve maps a location token to an absolute path, rejecting tokens that
// escape the storage root
func (s *LocalFileStorage) resolve(location string) (string, error) {
	if location == "" {
		return "", ErrFileNotFound
	}
	target := filepath.Join(s.root, filepath.FromSlash(location))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("storage: location escapes storage root")
	}
	return target, nil
}

func sanitizeFileName(fileName string) string {
	cleaned := filepath.Base(strings.TrimSpace(fileName))
	if cleaned == "." || cleaned == string(filepath.Separator) {
		return ""
	}
	if len(cleaned) > 255 {
		return ""
	}
	return cleaned
}
