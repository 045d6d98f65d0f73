// Package factory builds repositories with shared collaborators and wraps
// them in small named facades for domain code.
//
// The facades accept either a primary repository or a dual-write
// orchestrator, so domain code does not change when writes start being
// mirrored to the secondary store.
package factory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/pkg/entity"
)

// Creator is implemented by primary repositories and dual-write
// orchestrators.
type Creator[T entity.Entity, C any] interface {
	Create(ctx context.Context, value C) (*T, error)
	BatchCreate(ctx context.Context, values []C) ([]string, error)
}

// Updater is implemented by primary repositories and dual-write
// orchestrators.
type Updater[T entity.Entity, U any] interface {
	Update(ctx context.Context, id string, update U) error
	UpdateOne(ctx context.Context, id string, update U) (*T, error)
	UpdateAndReturn(ctx context.Context, id string, update U) (*T, error)
	MergeOne(ctx context.Context, id string, update U) (*T, error)
}

// Deleter is implemented by primary repositories and dual-write
// orchestrators.
type Deleter interface {
	Delete(ctx context.Context, id string) (bool, error)
	BatchDelete(ctx context.Context, ids []string) error
}

// EntityCreator creates entities of one kind.
type EntityCreator[T entity.Entity, C any] struct {
	repo Creator[T, C]
	log  zerolog.Logger
}

// NewEntityCreator returns an EntityCreator logging as name.
func NewEntityCreator[T entity.Entity, C any](name string, repo Creator[T, C], log zerolog.Logger) *EntityCreator[T, C] {
	return &EntityCreator[T, C]{repo: repo, log: log.With().Str("entity", name).Logger()}
}

func (c *EntityCreator[T, C]) Create(ctx context.Context, value C) (*T, error) {
	created, err := c.repo.Create(ctx, value)
	if err != nil {
		c.log.Error().Err(err).Msg("create failed")
		return nil, err
	}
	c.log.Debug().Str("id", (*created).GetID()).Msg("created")
	return created, nil
}

// BatchCreate returns the ids of the created entities in input order. On a
// partial failure the ids that were created come with the error.
func (c *EntityCreator[T, C]) BatchCreate(ctx context.Context, values []C) ([]string, error) {
	ids, err := c.repo.BatchCreate(ctx, values)
	if err != nil {
		c.log.Error().Err(err).Int("requested", len(values)).Int("created", len(ids)).Msg("batch create failed")
		return ids, err
	}
	c.log.Debug().Int("created", len(ids)).Msg("batch created")
	return ids, nil
}

// EntityUpdater updates entities of one kind.
type EntityUpdater[T entity.Entity, U any] struct {
	repo Updater[T, U]
	log  zerolog.Logger
}

// NewEntityUpdater returns an EntityUpdater logging as name.
func NewEntityUpdater[T entity.Entity, U any](name string, repo Updater[T, U], log zerolog.Logger) *EntityUpdater[T, U] {
	return &EntityUpdater[T, U]{repo: repo, log: log.With().Str("entity", name).Logger()}
}

// Update applies update and returns the entity, or nil when it does not
// exist.
func (u *EntityUpdater[T, U]) Update(ctx context.Context, id string, update U) (*T, error) {
	v, err := u.repo.UpdateOne(ctx, id, update)
	return v, u.done(id, "update", err)
}

// UpdateOnly applies update without reading the entity back.
func (u *EntityUpdater[T, U]) UpdateOnly(ctx context.Context, id string, update U) error {
	return u.done(id, "update", u.repo.Update(ctx, id, update))
}

func (u *EntityUpdater[T, U]) UpdateAndReturn(ctx context.Context, id string, update U) (*T, error) {
	v, err := u.repo.UpdateAndReturn(ctx, id, update)
	return v, u.done(id, "update", err)
}

// Merge merges update into the entity, keeping nested fields it does not
// mention.
func (u *EntityUpdater[T, U]) Merge(ctx context.Context, id string, update U) (*T, error) {
	v, err := u.repo.MergeOne(ctx, id, update)
	return v, u.done(id, "merge", err)
}

func (u *EntityUpdater[T, U]) done(id, verb string, err error) error {
	if err != nil {
		u.log.Error().Err(err).Str("id", id).Msg(verb + " failed")
		return err
	}
	u.log.Debug().Str("id", id).Msg(verb + "d")
	return nil
}

// EntityDeleter deletes entities of one kind.
type EntityDeleter struct {
	repo Deleter
	log  zerolog.Logger
}

// NewEntityDeleter returns an EntityDeleter logging as name.
func NewEntityDeleter(name string, repo Deleter, log zerolog.Logger) *EntityDeleter {
	return &EntityDeleter{repo: repo, log: log.With().Str("entity", name).Logger()}
}

func (d *EntityDeleter) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := d.repo.Delete(ctx, id)
	if err != nil {
		d.log.Error().Err(err).Str("id", id).Msg("delete failed")
		return false, err
	}
	if !deleted {
		d.log.Debug().Str("id", id).Msg("nothing to delete")
	}
	return deleted, nil
}

func (d *EntityDeleter) BatchDelete(ctx context.Context, ids []string) error {
	if err := d.repo.BatchDelete(ctx, ids); err != nil {
		d.log.Error().Err(err).Int("size", len(ids)).Msg("batch delete failed")
		return err
	}
	return nil
}
