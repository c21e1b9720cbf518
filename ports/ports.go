// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"
)

// Record is a schemaless entity as stored and returned by services.
type Record = map[string]any

// Query restricts find/get/remove operations.
// Semantics (filter matching, sort stability) are defined by the Storage
// implementation; the service layer only requires deterministic ordering
// when Sort is set and a Total count independent of the paging window.
type Query struct {
	// Filters are field-value equality pairs.
	Filters map[string]any

	// Sort is the field to order by. Empty means implementation order.
	Sort string

	// Desc sorts in descending order.
	Desc bool

	// Limit is the maximum number of records to return. Zero means
	// unlimited.
	Limit int

	// Skip is the number of matching records to pass over.
	Skip int
}

// Paged reports whether the caller asked for a page descriptor.
func (q Query) Paged() bool {
	return q.Limit > 0 || q.Skip > 0
}

// Storage is the persistence collaborator behind a service.
// Implementations must return apperr.NotFound for missing identifiers,
// apperr.Conflict for uniqueness violations, and apperr.Unavailable when
// the backing engine is unreachable.
type Storage interface {
	// Find returns records matching the query plus the total match count
	// (independent of Limit/Skip).
	Find(ctx context.Context, q Query) ([]Record, int64, error)

	// Get retrieves a record by identifier.
	Get(ctx context.Context, id string) (Record, error)

	// Insert stores a new record and returns it as stored, including the
	// identifier (assigned by the store if absent in data).
	Insert(ctx context.Context, data Record) (Record, error)

	// Replace fully replaces the record with the given identifier.
	Replace(ctx context.Context, id string, data Record) (Record, error)

	// Patch merges data field-wise into the record with the given identifier.
	Patch(ctx context.Context, id string, data Record) (Record, error)

	// Delete removes the record with the given identifier and returns it.
	Delete(ctx context.Context, id string) (Record, error)
}

// Hasher provides credential hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}
