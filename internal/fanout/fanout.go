// Package fanout runs independent units of work concurrently and collects
// their results without letting one failure abort the others.
package fanout

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// All calls fn(ctx, i) for i in [0, n) concurrently and waits for every call
// to return. Failures are joined in index order; a failing call does not
// cancel the others.
func All(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	errs := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Failure is a single failed unit of a Settle call.
type Failure struct {
	Index int
	Err   error
}

// Outcome separates the successes and failures of a Settle call.
// Successes keep the input order of the items that succeeded.
type Outcome[T any] struct {
	Successes []T
	Failures  []Failure
}

// Err joins every failure, or returns nil when all units succeeded.
func (o Outcome[T]) Err() error {
	if len(o.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(o.Failures))
	for i, f := range o.Failures {
		errs[i] = fmt.Errorf("item %d: %w", f.Index, f.Err)
	}
	return errors.Join(errs...)
}

// Settle applies fn to every item with at most limit calls in flight
// (unbounded when limit <= 0) and reports successes and failures separately.
func Settle[In, Out any](ctx context.Context, items []In, limit int, fn func(ctx context.Context, item In) (Out, error)) Outcome[Out] {
	type result struct {
		out Out
		err error
	}
	results := make([]result, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			out, err := fn(ctx, item)
			results[i] = result{out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var o Outcome[Out]
	for i, r := range results {
		if r.err != nil {
			o.Failures = append(o.Failures, Failure{Index: i, Err: r.err})
			continue
		}
		o.Successes = append(o.Successes, r.out)
	}
	return o
}
