package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by reads of an artifact that does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrUnsupportedFormat is returned for an unknown format tag.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrSchema marks an artifact whose columns do not match the bar layout.
	ErrSchema = errors.New("unexpected artifact schema")
)

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "write", "read", "upsert")
	Operation string

	// Key is the artifact key or table involved, if any
	Key string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage operation %s on %s failed: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, key string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}
