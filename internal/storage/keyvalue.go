// Package storage provides the durable key-value layer the persistence
// policies are built on. Values are always read and written whole; callers
// own their keys exclusively.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors for key-value operations
var (
	// ErrNotFound is returned when the requested key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrQuotaExceeded is returned when a write would exceed the storage budget.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// KeyValue is a durable string-keyed store. Implementations must treat each
// value as an opaque whole; there are no partial updates.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
