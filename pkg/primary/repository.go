// Package primary implements the typed repository over the primary document
// store, the source of truth during a migration.
//
// A [Repository] is generic over the stored entity type T, the create payload
// C and the partial update payload U. It delegates storage to a [Driver] and
// is responsible for everything the backends have in common: id generation,
// timestamps, chunking of "in" filters and batch writes to the backend's
// [Limits], cursor resolution and operation accounting through a
// [stats.Logger].
package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/internal/fanout"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/stats"
)

// Repository reads and writes entities of one collection.
type Repository[T entity.Entity, C any, U any] struct {
	driver     Driver
	collection string
	stats      stats.Logger
	log        zerolog.Logger
	now        func() time.Time
	newID      func() string
}

type options struct {
	stats  stats.Logger
	logger zerolog.Logger
	clock  func() time.Time
	newID  func() string
}

// Option configures a Repository.
type Option func(*options)

// WithStats sets the operation counter. Defaults to stats.Noop.
func WithStats(l stats.Logger) Option {
	return func(o *options) { o.stats = l }
}

// WithLogger sets the logger. Defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the source of creation and modification timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithIDGenerator replaces the UUID v4 id generator.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}

// New returns a repository for collection backed by driver.
func New[T entity.Entity, C any, U any](driver Driver, collection string, opts ...Option) *Repository[T, C, U] {
	o := options{
		stats:  stats.Noop,
		logger: zerolog.Nop(),
		clock:  time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T, C, U]{
		driver:     driver,
		collection: collection,
		stats:      o.stats,
		log:        o.logger.With().Str("collection", collection).Logger(),
		now:        o.clock,
		newID:      o.newID,
	}
}

// Collection returns the collection name.
func (r *Repository[T, C, U]) Collection() string { return r.collection }

// Limits returns the limits of the underlying backend.
func (r *Repository[T, C, U]) Limits() Limits { return r.driver.Limits() }

// Logger returns the repository logger.
func (r *Repository[T, C, U]) Logger() *zerolog.Logger { return &r.log }

func (r *Repository[T, C, U]) record(e stats.Event) {
	e.Collection = r.collection
	r.stats.Log(e)
}

func (r *Repository[T, C, U]) timestamp() time.Time {
	return r.now().UTC()
}

// GetOne returns the entity with the given id, or nil when it does not exist.
func (r *Repository[T, C, U]) GetOne(ctx context.Context, id string) (*T, error) {
	doc, err := r.driver.Get(ctx, r.collection, id)
	r.record(stats.Event{Reads: 1})
	if errors.Is(err, constants.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", r.collection, id, err)
	}
	return r.decode(doc)
}

// GetMany returns the entities matching every query, ordered and limited by
// opts. A cursor marker costs one extra read of the referenced document.
func (r *Repository[T, C, U]) GetMany(ctx context.Context, queries []query.Query, opts query.Options) ([]T, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := query.Validate(queries); err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		r.log.Debug().Int("limit", opts.Limit).Msg("query without filters reads the whole collection")
	}

	req := Request{Filters: queries, Sorts: opts.Sort, Limit: opts.Limit}
	reads := 0
	if id, inclusive := opts.CursorID(); id != "" {
		doc, err := r.driver.Get(ctx, r.collection, id)
		reads++
		if err != nil {
			r.record(stats.Event{Reads: reads})
			return nil, fmt.Errorf("failed to resolve cursor %s/%s: %w", r.collection, id, err)
		}
		req.Cursor = &Cursor{Doc: doc, Inclusive: inclusive}
	}

	docs, err := r.driver.Query(ctx, r.collection, req)
	r.record(stats.Event{Reads: reads + max(1, len(docs))})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.collection, err)
	}
	return r.decodeAll(docs)
}

// GetManyByID returns the existing entities among ids, in no particular
// order. Ids are queried in chunks of the backend's "in" limit, concurrently.
func (r *Repository[T, C, U]) GetManyByID(ctx context.Context, ids []string) ([]T, error) {
	chunks := fanout.Chunk(dedupe(ids), r.driver.Limits().MaxInValues)
	results := make([][]T, len(chunks))
	err := fanout.All(ctx, len(chunks), func(ctx context.Context, i int) error {
		found, err := r.GetMany(ctx, []query.Query{query.In(entity.FieldID, chunks[i])}, query.Options{})
		results[i] = found
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []T
	for _, found := range results {
		out = append(out, found...)
	}
	return out, nil
}

// Count returns the number of entities matching every query.
func (r *Repository[T, C, U]) Count(ctx context.Context, queries []query.Query) (int, error) {
	if err := query.Validate(queries); err != nil {
		return 0, err
	}
	if counter, ok := r.driver.(Counter); ok {
		n, err := counter.Count(ctx, r.collection, queries)
		r.record(stats.Event{Reads: 1})
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", r.collection, err)
		}
		return n, nil
	}

	n := 0
	req := Request{Filters: queries, Sorts: []query.Sort{query.Asc(entity.FieldID)}, Limit: constants.DefaultBatchSize}
	for {
		docs, err := r.driver.Query(ctx, r.collection, req)
		r.record(stats.Event{Reads: max(1, len(docs))})
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", r.collection, err)
		}
		n += len(docs)
		if len(docs) < req.Limit {
			return n, nil
		}
		req.Cursor = &Cursor{Doc: docs[len(docs)-1]}
	}
}

func (r *Repository[T, C, U]) decode(doc Document) (*T, error) {
	v, err := codec.FromDocument[T](doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", r.collection, doc.ID(), err)
	}
	return v, nil
}

func (r *Repository[T, C, U]) decodeAll(docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := r.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
