// Package offline mirrors hosted images into a durable local blob store so
// installed (standalone) deployments can display history without network
// access. Mirroring is best-effort; the hosted URL stays authoritative.
package offline

import (
	"fmt"
	"log"
)

// BlobCache stores image bytes keyed by record identity (the record's
// createdAt timestamp).
type BlobCache interface {
	// Save stores or replaces the blob for the given record.
	Save(id int64, data []byte) error
	// Get retrieves a blob. Absence is reported via the bool, not an error.
	Get(id int64) ([]byte, bool, error)
	// Clear removes all cached blobs.
	Clear() error
	Close() error
}

// NewBlobCache creates a blob cache of the configured type and ensures its
// schema exists (idempotent, important for in-memory SQLite).
func NewBlobCache(cacheType, connectionString string) (BlobCache, error) {
	var cache BlobCache
	var err error
	switch cacheType {
	case "sqlite":
		cache, err = NewSQLiteBlobCache(connectionString)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported blob cache driver: %s", cacheType)
	}

	log.Print("initializing offline blob cache schema (ensuring tables exist)")
	if err = cache.(schemaCreator).createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create blob cache schema: %w", err)
	}

	return cache, nil
}

type schemaCreator interface {
	createSchema() error
}
