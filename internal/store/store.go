// Package store defines the durable (collection, key) -> record contract used
// by the incident pipeline, plus GORM-backed and in-memory implementations.
// Records are opaque JSON documents; a Set is always a full-record replace.
package store

import (
	"context"
	"encoding/json"
)

// Store is safe for concurrent use. A Get following a Set in the same logical
// flow observes the latest write.
type Store interface {
	// Get unmarshals the record at (collection, key) into out.
	// Returns false when no record exists, with out untouched.
	Get(ctx context.Context, collection, key string, out any) (bool, error)

	// Set replaces the full record at (collection, key).
	Set(ctx context.Context, collection, key string, record any) error

	// GetAll returns every record in collection keyed by record key.
	GetAll(ctx context.Context, collection string) (map[string]json.RawMessage, error)

	Close() error
}
