package primary

import (
	"context"

	"github.com/cardvault/dualrepo/pkg/query"
)

// Document is the stored form of an entity. Timestamp fields hold time.Time
// values; everything else is whatever the JSON encoding of the entity yields.
type Document map[string]any

// ID returns the document id, or "" when it has none.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Limits are the per request limits of a backend.
type Limits struct {
	// MaxInValues is the number of values a single "in" filter accepts.
	MaxInValues int
	// MaxBatchWrites is the number of operations one atomic batch accepts.
	MaxBatchWrites int
}

// Mode selects how update fields are applied to a stored document.
type Mode int

const (
	// ModeReplace sets every given top-level field, replacing nested objects.
	ModeReplace Mode = iota
	// ModeMerge merges nested objects, leaving absent leaves untouched.
	ModeMerge
)

// Cursor positions a query relative to an existing document.
type Cursor struct {
	Doc       Document
	Inclusive bool
}

// Request is a filtered, sorted and limited read of one collection.
//
// Results are ordered by Sorts and then by id ascending. With a Cursor,
// results begin right after the cursor document's position in that order,
// or at it when Inclusive is set.
type Request struct {
	Filters []query.Query
	Sorts   []query.Sort
	Limit   int
	Cursor  *Cursor
}

// OpKind is the kind of a batch operation.
type OpKind int

const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
)

// Op is one operation inside an atomic batch.
type Op struct {
	Kind OpKind
	ID   string
	// Doc is the full document for OpCreate, or the fields for OpUpdate.
	Doc  Document
	Mode Mode
}

// Driver executes repository operations against one backend.
//
// Implementations return errors wrapping constants.ErrNotFound for missing
// documents on Get and Update, constants.ErrAlreadyExists when Create finds
// an existing id, and constants.ErrTransient for retryable failures.
type Driver interface {
	Limits() Limits
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, req Request) ([]Document, error)
	Create(ctx context.Context, collection string, doc Document) error
	Update(ctx context.Context, collection, id string, fields Document, mode Mode) error
	Delete(ctx context.Context, collection, id string) (bool, error)
	// Batch applies every op atomically. Deleting a missing document is a
	// no-op; updating one fails the whole batch.
	Batch(ctx context.Context, collection string, ops []Op) error
}

// Counter is implemented by drivers that count matching documents natively.
type Counter interface {
	Count(ctx context.Context, collection string, filters []query.Query) (int, error)
}
