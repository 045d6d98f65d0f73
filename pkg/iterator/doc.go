// Package iterator scans whole collections page by page.
//
// [Cursor] walks a primary repository: every page is requested after the
// last row of the previous one, so pages are read strictly one after the
// other. Cursors are row relative and a page requested before its
// predecessor completed would start from a stale position.
//
// [Offset] walks a secondary repository with skip/limit pagination bounded
// by a count taken when the scan starts. Rows written or deleted during a
// long scan can make it stop slightly early or late.
//
// Both iterators hand each page to a batch consumer that may stop the scan,
// or fan each page out to a per-entity consumer whose failures are counted
// and logged without aborting the scan.
package iterator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/internal/fanout"
	"github.com/cardvault/dualrepo/pkg/constants"
)

// DefaultConcurrency bounds the per-entity consumers running at once.
const DefaultConcurrency = 10

// Result summarizes a scan.
type Result struct {
	// TotalNumberOfResults counts the rows handed to the consumer.
	TotalNumberOfResults int
	// LastProcessedID is the id (or secondary key) of the last row handed
	// to the consumer. It can seed a later scan with StartAfter.
	LastProcessedID string
	// Finished is set when the scan reached the end of the collection.
	Finished bool
	// Failed counts per-entity consumer failures.
	Failed int
	// FailedIDs lists the rows whose per-entity consumer failed.
	FailedIDs []string
}

// BatchConsumer receives one page. Returning stop ends the scan after this
// page; returning an error aborts it.
type BatchConsumer[T any] func(ctx context.Context, batch []T) (stop bool, err error)

// Consumer receives one row.
type Consumer[T any] func(ctx context.Context, item T) error

// eachItem adapts a per-entity consumer to a batch consumer. Items of a page
// run concurrently; failures are logged and accumulated into res.
func eachItem[T any](consume Consumer[T], key func(T) string, concurrency int, log zerolog.Logger, res *Result) BatchConsumer[T] {
	return func(ctx context.Context, batch []T) (bool, error) {
		outcome := fanout.Settle(ctx, batch, concurrency, func(ctx context.Context, item T) (struct{}, error) {
			return struct{}{}, consume(ctx, item)
		})
		for _, f := range outcome.Failures {
			id := key(batch[f.Index])
			log.Error().Err(f.Err).Str("id", id).Msg("consumer failed, continuing scan")
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, id)
		}
		if err := ctx.Err(); err != nil {
			return true, err
		}
		return false, nil
	}
}

func checkSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: page size must be positive, got %d", constants.ErrInvalidArgument, n)
	}
	return nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
