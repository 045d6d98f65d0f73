package singleresult

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
)

// Source is the part of a primary repository Query reads from.
type Source[T entity.Entity] interface {
	Collection() string
	GetMany(ctx context.Context, queries []query.Query, opts query.Options) ([]T, error)
}

type options struct {
	log zerolog.Logger
}

// Option configures a Querier or a Resolver.
type Option func(*options)

// WithLogger sets the logger. Defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func newOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Querier runs single-result queries and records the duplicates they find.
type Querier struct {
	jobs *Jobs
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// NewQuerier returns a Querier recording duplicates in jobs.
func NewQuerier(jobs *Jobs, opts ...Option) *Querier {
	o := newOptions(opts)
	return &Querier{jobs: jobs, log: o.log}
}

// Wait blocks until every duplicate job scheduled so far is recorded.
func (q *Querier) Wait() {
	q.wg.Wait()
}

// Query returns the entity of repo whose fields equal params, or nil when
// there is none. When several match, the earliest created is returned and a
// duplicate job is recorded in the background. name identifies the query in
// logs and in the job.
func Query[T entity.Entity](ctx context.Context, q *Querier, repo Source[T], params map[string]any, name string) (*T, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: single result query %q without parameters", constants.ErrInvalidArgument, name)
	}
	fields := make([]string, 0, len(params))
	for f := range params {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	queries := make([]query.Query, len(fields))
	for i, f := range fields {
		queries[i] = query.Eq(f, params[f])
	}

	found, err := repo.GetMany(ctx, queries, query.Options{})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	slices.SortStableFunc(found, byCreation[T])

	if len(found) > 1 {
		ids := make([]string, len(found))
		for i, v := range found {
			ids[i] = v.GetID()
		}
		q.log.Error().
			Str("query", name).
			Str("collection", repo.Collection()).
			Strs("ids", ids).
			Msg("single result query matched several entities")
		q.schedule(ctx, repo.Collection(), name, ids)
	}
	return &found[0], nil
}

// QueryOrThrow is Query failing with constants.ErrNotFound when nothing
// matches.
func QueryOrThrow[T entity.Entity](ctx context.Context, q *Querier, repo Source[T], params map[string]any, name string) (*T, error) {
	v, err := Query(ctx, q, repo, params, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s %q %v", constants.ErrNotFound, repo.Collection(), name, params)
	}
	return v, nil
}

func (q *Querier) schedule(ctx context.Context, collection, name string, ids []string) {
	ctx = context.WithoutCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.record(ctx, collection, name, ids); err != nil {
			q.log.Error().Err(err).Str("collection", collection).Strs("ids", ids).Msg("failed to record duplicate job")
		}
	}()
}

func (q *Querier) record(ctx context.Context, collection, name string, ids []string) error {
	key := IdempotencyKey(collection, ids)

	_, err := q.jobs.CreateWithID(ctx, JobID(key), DuplicateResultCreate{
		State:              StateNotStarted,
		CollectionName:     collection,
		QueryName:          name,
		DuplicateEntityIDs: duplicateSet(ids),
		IdempotencyKey:     key,
	})
	if errors.Is(err, constants.ErrAlreadyExists) {
		q.log.Debug().Str("key", key).Msg("duplicate job already recorded")
		return nil
	}
	return err
}

// byCreation orders entities by creation date, then by id.
func byCreation[T entity.Entity](a, b T) int {
	return cmp.Or(
		a.GetDateCreated().Compare(b.GetDateCreated()),
		cmp.Compare(a.GetID(), b.GetID()),
	)
}
