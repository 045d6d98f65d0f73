// Package secondary implements the typed repository over the secondary
// document database, the migration target.
//
// Secondary records are keyed by a backend generated key and carry the
// primary id they mirror as their legacy id. Reads page by offset; lookups
// accept either form of identifier.
package secondary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/internal/fanout"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/stats"
)

// Repository reads and writes entities of one collection.
type Repository[T entity.SecondaryEntity, C any, U any] struct {
	driver     Driver
	collection string
	stats      stats.Logger
	log        zerolog.Logger
	now        func() time.Time
}

type options struct {
	stats  stats.Logger
	logger zerolog.Logger
	clock  func() time.Time
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

func New[T entity.SecondaryEntity, C any, U any](driver Driver, collection string, opts ...Option) *Repository[T, C, U] {
	o := options{stats: stats.Noop, logger: zerolog.Nop(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T, C, U]{
		driver:     driver,
		collection: collection,
		stats:      o.stats,
		log:        o.logger.With().Str("collection", collection).Logger(),
		now:        o.clock,
	}
}

func (r *Repository[T, C, U]) Collection() string { return r.collection }

func (r *Repository[T, C, U]) Limits() Limits { return r.driver.Limits() }

// LooksLikeKey reports whether s has the shape of a backend key.
func (r *Repository[T, C, U]) LooksLikeKey(s string) bool { return r.driver.LooksLikeKey(s) }

func (r *Repository[T, C, U]) record(e stats.Event) {
	e.Collection = r.collection
	r.stats.Log(e)
}

func (r *Repository[T, C, U]) timestamp() time.Time {
	return r.now().UTC()
}

// GetOne returns the entity stored under key, or nil when there is none.
func (r *Repository[T, C, U]) GetOne(ctx context.Context, key string) (*T, error) {
	if !r.driver.LooksLikeKey(key) {
		return nil, nil
	}
	doc, err := r.driver.Get(ctx, r.collection, key)
	r.record(stats.Event{Reads: 1})
	if errors.Is(err, constants.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", r.collection, key, err)
	}
	return r.decode(doc)
}

// GetMany returns one page of the entities matching every query.
func (r *Repository[T, C, U]) GetMany(ctx context.Context, queries []query.Query, page query.Page, sorts ...query.Sort) ([]T, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if err := query.Validate(queries); err != nil {
		return nil, err
	}
	for _, s := range sorts {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	if len(queries) == 0 {
		r.log.Debug().Int("size", page.Size).Int("index", page.Index).Msg("query without filters reads the whole collection")
	}

	docs, err := r.driver.Find(ctx, r.collection, FindRequest{
		Filters: queries,
		Sorts:   sorts,
		Limit:   page.Size,
		Skip:    page.Skip(),
	})
	r.record(stats.Event{Reads: max(1, len(docs))})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.collection, err)
	}
	return r.decodeAll(docs)
}

// GetManyByKey returns the existing entities among keys, in no particular
// order. Keys are queried in chunks of the backend's "in" limit,
// concurrently.
func (r *Repository[T, C, U]) GetManyByKey(ctx context.Context, keys []string) ([]T, error) {
	var valid []string
	for _, k := range dedupe(keys) {
		if r.driver.LooksLikeKey(k) {
			valid = append(valid, k)
		}
	}
	return r.getManyIn(ctx, entity.FieldKey, valid)
}

func (r *Repository[T, C, U]) getManyIn(ctx context.Context, field string, values []string) ([]T, error) {
	chunks := fanout.Chunk(values, r.driver.Limits().MaxInValues)
	results := make([][]T, len(chunks))
	err := fanout.All(ctx, len(chunks), func(ctx context.Context, i int) error {
		found, err := r.GetMany(ctx, []query.Query{query.In(field, chunks[i])}, query.Page{})
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
	n, err := r.driver.Count(ctx, r.collection, queries)
	r.record(stats.Event{Reads: 1})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.collection, err)
	}
	return n, nil
}

func (r *Repository[T, C, U]) decode(doc Document) (*T, error) {
	v, err := codec.FromDocument[T](doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", r.collection, doc.Key(), err)
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
