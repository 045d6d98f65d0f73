package secondary

import (
	"context"

	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
)

// Document is a stored record. The key is held under entity.FieldKey as a
// string; timestamps are time.Time values.
type Document map[string]any

// Key returns the backend key of the document, or "" when it has none.
func (d Document) Key() string {
	k, _ := d[entity.FieldKey].(string)
	return k
}

// Limits are the per-request limits of a backend.
type Limits struct {
	// MaxInValues is the largest number of values one "in" filter may carry.
	MaxInValues int
	// MaxBatchWrites is the largest number of documents one insert or
	// delete request may carry.
	MaxBatchWrites int
}

// Mode selects how Update applies fields.
type Mode int

const (
	// ModeReplace sets every given top-level field, replacing nested
	// objects wholesale.
	ModeReplace Mode = iota
	// ModeMerge merges nested objects field by field.
	ModeMerge
)

// FindRequest is a filtered, ordered window of a collection. Results are
// ordered by Sorts and then by key. A zero Limit returns every row after
// Skip.
type FindRequest struct {
	Filters []query.Query
	Sorts   []query.Sort
	Limit   int
	Skip    int
}

// Driver is the storage backend of a Repository. Filters and sorts may name
// entity.FieldKey to address the backend key.
type Driver interface {
	Limits() Limits

	// LooksLikeKey reports whether s has the shape of a key this backend
	// generates. It does not check existence.
	LooksLikeKey(s string) bool

	// Get returns the document stored under key or constants.ErrNotFound.
	Get(ctx context.Context, collection, key string) (Document, error)
	Find(ctx context.Context, collection string, req FindRequest) ([]Document, error)
	Count(ctx context.Context, collection string, filters []query.Query) (int, error)

	// Insert stores doc under a newly generated key and returns it.
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	// InsertMany stores docs atomically and returns their keys in order.
	InsertMany(ctx context.Context, collection string, docs []Document) ([]string, error)
	// Update fails with constants.ErrNotFound when key does not exist.
	Update(ctx context.Context, collection, key string, fields Document, mode Mode) error
	Delete(ctx context.Context, collection, key string) (bool, error)
	// DeleteMany removes the existing keys and returns how many existed.
	DeleteMany(ctx context.Context, collection string, keys []string) (int, error)
}
