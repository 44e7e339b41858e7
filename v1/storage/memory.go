package storage

import (
	"context"
	"path"
	"sync"

	"github.com/google/uuid"
)

// MemoryFileStorage is an in-process FileStorage used by tests and local
// development. It mirrors LocalFileStorage's location-token behavior.
type MemoryFileStorage struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryFileStorage creates an empty in-memory file storage
func NewMemoryFileStorage() *MemoryFileStorage {
	return &MemoryFileStorage{files: make(map[string][]byte)}
}

// Store writes content under dir and returns the location token
func (s *MemoryFileStorage) Store(ctx context.Context, fileName string, content []byte, dir string, overwrite bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned := sanitizeFileName(fileName)
	if cleaned == "" {
		return "", ErrInvalidFileName
	}
	location := path.Join(dir, uuid.New().String()+"_"+cleaned)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[location]; exists && !overwrite {
		return "", ErrFileAlreadyExists
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	s.files[location] = stored
	return location, nil
}

// Get returns the content stored at location
func (s *MemoryFileStorage) Get(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.files[location]
	if !ok {
		return nil, ErrFileNotFound
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// Remove deletes the content stored at location
func (s *MemoryFileStorage) Remove(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[location]; !ok {
		return ErrFileNotFound
	}
	delete(s.files, location)
	return nil
}

// Len returns the number of stored blobs
func (s *MemoryFileStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Locations returns every stored location token
func (s *MemoryFileStorage) Locations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	locations := make([]string, 0, len(s.files))
	for location := range s.files {
		locations = append(locations, location)
	}
	return locations
}
