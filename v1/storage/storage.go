// Package storage provides the file storage abstraction used for agent
// authority form documents. Content is addressed by an opaque location token
// returned on store; storage is append/remove only, with no in-place
// mutation.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrFileNotFound is returned when no content exists at a location
	ErrFileNotFound = errors.New("storage: file not found")
	// ErrFileAlreadyExists is returned when storing without overwrite onto an
	// occupied location
	ErrFileAlreadyExists = errors.New("storage: file already exists")
	// ErrInvalidFileName is returned for empty or oversized file names
	ErrInvalidFileName = errors.New("storage: invalid file name")
)

// FileStorage stores, retrieves and removes named byte blobs under a path
// prefix. Implementations must be safe for concurrent use.
type FileStorage interface {
	// Store writes content under dir and returns the location token the
	// content can later be retrieved or removed by. When overwrite is false
	// and the target location is occupied, Store fails with
	// ErrFileAlreadyExists.
	Store(ctx context.Context, fileName string, content []byte, dir string, overwrite bool) (string, error)

	// Get returns the content stored at location
	Get(ctx context.Context, location string) ([]byte, error)

	// Remove deletes the content stored at location
	Remove(ctx context.Context, location string) error
}
