package singleresult

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/internal/fanout"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/iterator"
	"github.com/cardvault/dualrepo/pkg/query"
)

// Target is the part of a primary repository a Resolver deletes duplicates
// from.
type Target[T entity.Entity] interface {
	Collection() string
	GetManyByID(ctx context.Context, ids []string) ([]T, error)
	BatchDelete(ctx context.Context, ids []string) error
}

type target struct {
	// fetch returns the ids of the entities that still exist, earliest
	// created first.
	fetch  func(ctx context.Context, ids []string) ([]string, error)
	remove func(ctx context.Context, ids []string) error
}

// Resolver processes duplicate jobs.
type Resolver struct {
	jobs *Jobs
	log  zerolog.Logger

	mu      sync.RWMutex
	targets map[string]target
}

// NewResolver returns a Resolver processing the jobs of jobs. Collections
// are added with Register.
func NewResolver(jobs *Jobs, opts ...Option) *Resolver {
	o := newOptions(opts)
	return &Resolver{jobs: jobs, log: o.log, targets: make(map[string]target)}
}

// Register lets r resolve the duplicates of repo's collection.
func Register[T entity.Entity](r *Resolver, repo Target[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[repo.Collection()] = target{
		fetch: func(ctx context.Context, ids []string) ([]string, error) {
			found, err := repo.GetManyByID(ctx, ids)
			if err != nil {
				return nil, err
			}
			slices.SortStableFunc(found, byCreation[T])
			out := make([]string, len(found))
			for i, v := range found {
				out[i] = v.GetID()
			}
			return out, nil
		},
		remove: repo.BatchDelete,
	}
}

// Summary counts the jobs handled by ProcessPending.
type Summary struct {
	Resolved int
	Failed   int
}

// ProcessPending processes every job that has not been started.
func (r *Resolver) ProcessPending(ctx context.Context) (Summary, error) {
	// Processing deletes jobs, and a cursor needs its last row to exist, so
	// the jobs are collected before any of them is processed.
	var pending []DuplicateResult
	_, err := iterator.NewCursor[DuplicateResult](r.jobs).
		Queries(query.Eq("state", string(StateNotStarted))).
		IterateBatch(ctx, func(_ context.Context, batch []DuplicateResult) (bool, error) {
			pending = append(pending, batch...)
			return false, nil
		})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list pending duplicate jobs: %w", err)
	}

	outcome := fanout.Settle(ctx, pending, iterator.DefaultConcurrency, func(ctx context.Context, job DuplicateResult) (string, error) {
		return job.ID, r.Process(ctx, job)
	})
	sum := Summary{Resolved: len(outcome.Successes), Failed: len(outcome.Failures)}
	r.log.Info().Int("resolved", sum.Resolved).Int("failed", sum.Failed).Msg("processed pending duplicate jobs")
	return sum, nil
}

// Process resolves job: it keeps the earliest created entity, tie-broken by
// id, and deletes the others. On success the job is deleted; on failure it
// is marked failed with the error and the error is returned.
func (r *Resolver) Process(ctx context.Context, job DuplicateResult) error {
	if job.State != StateNotStarted && job.State != StateFailed {
		return fmt.Errorf("%w: duplicate job %s is %s", constants.ErrInvalidArgument, job.ID, job.State)
	}
	log := r.log.With().Str("job", job.ID).Str("collection", job.CollectionName).Logger()

	survivor, losers, err := r.resolve(ctx, job)
	if err != nil {
		r.fail(ctx, log, job, err)
		return err
	}
	log.Info().Str("survivor", survivor).Strs("deleted", losers).Msg("duplicates resolved")

	if _, err := r.jobs.Delete(ctx, job.ID); err != nil {
		// The duplicates are gone; keep the job from being processed again.
		log.Error().Err(err).Msg("failed to delete resolved duplicate job")
		if _, err := r.jobs.UpdateOne(ctx, job.ID, DuplicateResultUpdate{State: statePtr(StateSuccessful)}); err != nil {
			log.Error().Err(err).Msg("failed to mark duplicate job successful")
		}
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, job DuplicateResult) (survivor string, losers []string, err error) {
	r.mu.RLock()
	t, ok := r.targets[job.CollectionName]
	r.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: no repository registered for %q", constants.ErrInvalidArgument, job.CollectionName)
	}

	found, err := t.fetch(ctx, job.DuplicateEntityIDs)
	if err != nil {
		return "", nil, err
	}
	if len(found) == 0 {
		return "", nil, nil
	}
	survivor, losers = found[0], found[1:]

	_, err = r.jobs.UpdateOne(ctx, job.ID, DuplicateResultUpdate{
		State:            statePtr(StateInProgress),
		SurvivorID:       &survivor,
		DeletedEntityIDs: losers,
	})
	if err != nil {
		return "", nil, err
	}
	if len(losers) == 0 {
		return survivor, nil, nil
	}
	if err := t.remove(ctx, losers); err != nil {
		return "", nil, err
	}
	return survivor, losers, nil
}

func (r *Resolver) fail(ctx context.Context, log zerolog.Logger, job DuplicateResult, cause error) {
	log.Error().Err(cause).Msg("failed to resolve duplicates")
	msg := cause.Error()
	_, err := r.jobs.UpdateOne(ctx, job.ID, DuplicateResultUpdate{State: statePtr(StateFailed), Error: &msg})
	if err != nil {
		log.Error().Err(err).Msg("failed to mark duplicate job failed")
	}
}
