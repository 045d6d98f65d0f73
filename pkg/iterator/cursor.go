package iterator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
)

// CursorSource is the part of a primary repository a Cursor reads from.
type CursorSource[T entity.Entity] interface {
	GetMany(ctx context.Context, queries []query.Query, opts query.Options) ([]T, error)
}

// Cursor scans a primary repository with cursor pagination.
type Cursor[T entity.Entity] struct {
	source      CursorSource[T]
	batchSize   int
	sorts       []query.Sort
	queries     []query.Query
	startAfter  string
	concurrency int
	log         zerolog.Logger
}

// NewCursor returns a scanner over every row of source, in id order, 500
// rows per page.
func NewCursor[T entity.Entity](source CursorSource[T]) *Cursor[T] {
	return &Cursor[T]{
		source:      source,
		batchSize:   constants.DefaultBatchSize,
		concurrency: DefaultConcurrency,
		log:         zerolog.Nop(),
	}
}

func (c *Cursor[T]) BatchSize(n int) *Cursor[T] {
	c.batchSize = n
	return c
}

// Sort orders the scan. Rows with equal sort values are visited in id order.
func (c *Cursor[T]) Sort(sorts ...query.Sort) *Cursor[T] {
	c.sorts = sorts
	return c
}

func (c *Cursor[T]) Queries(queries ...query.Query) *Cursor[T] {
	c.queries = queries
	return c
}

// StartAfter resumes a scan after the row with the given id.
func (c *Cursor[T]) StartAfter(id string) *Cursor[T] {
	c.startAfter = id
	return c
}

// Concurrency bounds the per-entity consumers of Iterate running at once.
func (c *Cursor[T]) Concurrency(n int) *Cursor[T] {
	c.concurrency = n
	return c
}

func (c *Cursor[T]) Logger(l zerolog.Logger) *Cursor[T] {
	c.log = l
	return c
}

// IterateBatch hands every page to consume, one page at a time. The scan
// ends when consume asks to stop, when a page comes back shorter than the
// batch size, or when ctx is done.
func (c *Cursor[T]) IterateBatch(ctx context.Context, consume BatchConsumer[T]) (Result, error) {
	res := Result{LastProcessedID: c.startAfter}
	if err := checkSize(c.batchSize); err != nil {
		return res, err
	}

	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := c.source.GetMany(ctx, c.queries, query.Options{
			Limit:        c.batchSize,
			Sort:         c.sorts,
			StartAfterID: res.LastProcessedID,
		})
		if err != nil {
			return res, fmt.Errorf("failed to read page %d after %q: %w", page, res.LastProcessedID, err)
		}
		if len(batch) == 0 {
			res.Finished = true
			return res, nil
		}

		stop, err := consume(ctx, batch)
		res.TotalNumberOfResults += len(batch)
		res.LastProcessedID = batch[len(batch)-1].GetID()
		c.log.Debug().Int("page", page).Int("size", len(batch)).Str("last", res.LastProcessedID).Msg("page consumed")
		if err != nil {
			return res, err
		}
		if stop {
			return res, nil
		}
		if len(batch) < c.batchSize {
			res.Finished = true
			return res, nil
		}
	}
}

// Iterate hands every row to consume. Rows of a page are consumed
// concurrently; a failing row is logged and counted in Result.Failed and the
// scan goes on.
func (c *Cursor[T]) Iterate(ctx context.Context, consume Consumer[T]) (Result, error) {
	var failures Result
	res, err := c.IterateBatch(ctx, eachItem(consume, func(v T) string { return v.GetID() }, c.concurrency, c.log, &failures))
	res.Failed, res.FailedIDs = failures.Failed, failures.FailedIDs
	if err != nil && !isCanceled(err) {
		c.log.Error().Err(err).Str("last", res.LastProcessedID).Msg("scan aborted")
	}
	return res, err
}
