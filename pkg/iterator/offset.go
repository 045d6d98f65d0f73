package iterator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
)

// OffsetSource is the part of a secondary repository an Offset reads from.
type OffsetSource[T entity.SecondaryEntity] interface {
	GetMany(ctx context.Context, queries []query.Query, page query.Page, sorts ...query.Sort) ([]T, error)
	Count(ctx context.Context, queries []query.Query) (int, error)
}

// Offset scans a secondary repository with skip/limit pagination.
type Offset[T entity.SecondaryEntity] struct {
	source      OffsetSource[T]
	pageSize    int
	sorts       []query.Sort
	queries     []query.Query
	concurrency int
	log         zerolog.Logger
}

// NewOffset returns a scanner over every row of source, 500 rows per page.
func NewOffset[T entity.SecondaryEntity](source OffsetSource[T]) *Offset[T] {
	return &Offset[T]{
		source:      source,
		pageSize:    constants.DefaultBatchSize,
		concurrency: DefaultConcurrency,
		log:         zerolog.Nop(),
	}
}

func (o *Offset[T]) PageSize(n int) *Offset[T] {
	o.pageSize = n
	return o
}

func (o *Offset[T]) Sort(sorts ...query.Sort) *Offset[T] {
	o.sorts = sorts
	return o
}

func (o *Offset[T]) Queries(queries ...query.Query) *Offset[T] {
	o.queries = queries
	return o
}

func (o *Offset[T]) Concurrency(n int) *Offset[T] {
	o.concurrency = n
	return o
}

func (o *Offset[T]) Logger(l zerolog.Logger) *Offset[T] {
	o.log = l
	return o
}

// IterateBatch counts the matching rows once, then hands pages to consume
// until a page is empty, the count is reached, consume asks to stop or ctx
// is done.
func (o *Offset[T]) IterateBatch(ctx context.Context, consume BatchConsumer[T]) (Result, error) {
	var res Result
	if err := checkSize(o.pageSize); err != nil {
		return res, err
	}

	total, err := o.source.Count(ctx, o.queries)
	if err != nil {
		return res, fmt.Errorf("failed to count rows to scan: %w", err)
	}
	o.log.Debug().Int("total", total).Msg("offset scan started")

	for index := 0; res.TotalNumberOfResults < total; index++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := o.source.GetMany(ctx, o.queries, query.Page{Size: o.pageSize, Index: index}, o.sorts...)
		if err != nil {
			return res, fmt.Errorf("failed to read page %d: %w", index, err)
		}
		if len(batch) == 0 {
			break
		}

		stop, err := consume(ctx, batch)
		res.TotalNumberOfResults += len(batch)
		res.LastProcessedID = batch[len(batch)-1].GetKey()
		if err != nil {
			return res, err
		}
		if stop {
			return res, nil
		}
	}
	res.Finished = true
	return res, nil
}

// Iterate hands every row to consume. Failures are logged and counted in
// Result.Failed without aborting the scan.
func (o *Offset[T]) Iterate(ctx context.Context, consume Consumer[T]) (Result, error) {
	var failures Result
	res, err := o.IterateBatch(ctx, eachItem(consume, func(v T) string { return v.GetKey() }, o.concurrency, o.log, &failures))
	res.Failed, res.FailedIDs = failures.Failed, failures.FailedIDs
	if err != nil && !isCanceled(err) {
		o.log.Error().Err(err).Str("last", res.LastProcessedID).Msg("scan aborted")
	}
	return res, err
}
