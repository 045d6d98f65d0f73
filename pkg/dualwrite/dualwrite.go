// Package dualwrite keeps a secondary repository in sync with a primary one
// while data is migrated from the primary store to the secondary store.
//
// The primary repository is the source of truth: every result returned by an
// Orchestrator is the primary result, and primary failures are returned to
// the caller. The secondary repository is a best-effort mirror. Secondary
// records are found through their legacy id, the primary id they mirror.
// A secondary failure is logged and never fails the call, and updates whose
// counterpart has not been backfilled yet are skipped with a warning.
package dualwrite

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/secondary"
)

// Converter maps the primary create and update payloads to the secondary
// payloads. ConvertUpdate may return a payload without fields when none of
// the updated fields exist on the secondary side.
type Converter[C, U, SC, SU any] struct {
	ConvertCreate func(C) SC
	ConvertUpdate func(U) SU
}

// Orchestrator writes to a primary and a secondary repository.
type Orchestrator[T entity.Entity, C, U any, S entity.SecondaryEntity, SC, SU any] struct {
	primary   *primary.Repository[T, C, U]
	secondary *secondary.Repository[S, SC, SU]
	convert   Converter[C, U, SC, SU]
	log       zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*zerolog.Logger)

// WithLogger sets the logger. Defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(log *zerolog.Logger) { *log = l }
}

// New returns an Orchestrator over p and s. Both converter functions are
// required.
func New[T entity.Entity, C, U any, S entity.SecondaryEntity, SC, SU any](
	p *primary.Repository[T, C, U],
	s *secondary.Repository[S, SC, SU],
	convert Converter[C, U, SC, SU],
	opts ...Option,
) (*Orchestrator[T, C, U, S, SC, SU], error) {
	if p == nil || s == nil {
		return nil, fmt.Errorf("%w: both repositories are required", constants.ErrInvalidArgument)
	}
	if convert.ConvertCreate == nil || convert.ConvertUpdate == nil {
		return nil, fmt.Errorf("%w: incomplete converter", constants.ErrInvalidArgument)
	}
	log := zerolog.Nop()
	for _, opt := range opts {
		opt(&log)
	}
	return &Orchestrator[T, C, U, S, SC, SU]{
		primary:   p,
		secondary: s,
		convert:   convert,
		log: log.With().
			Str("collection", p.Collection()).
			Str("mirror", s.Collection()).
			Logger(),
	}, nil
}

// Primary returns the primary repository.
func (o *Orchestrator[T, C, U, S, SC, SU]) Primary() *primary.Repository[T, C, U] {
	return o.primary
}

// Secondary returns the secondary repository.
func (o *Orchestrator[T, C, U, S, SC, SU]) Secondary() *secondary.Repository[S, SC, SU] {
	return o.secondary
}

// GetOne reads from the primary repository.
func (o *Orchestrator[T, C, U, S, SC, SU]) GetOne(ctx context.Context, id string) (*T, error) {
	return o.primary.GetOne(ctx, id)
}

// GetMany reads from the primary repository.
func (o *Orchestrator[T, C, U, S, SC, SU]) GetMany(ctx context.Context, queries []query.Query, opts query.Options) ([]T, error) {
	return o.primary.GetMany(ctx, queries, opts)
}

// GetManyByID reads from the primary repository.
func (o *Orchestrator[T, C, U, S, SC, SU]) GetManyByID(ctx context.Context, ids []string) ([]T, error) {
	return o.primary.GetManyByID(ctx, ids)
}

// Create writes value to both repositories concurrently, then links the new
// secondary record to the new primary id. The secondary key is only known
// once its insert returns, so the link is a second write.
func (o *Orchestrator[T, C, U, S, SC, SU]) Create(ctx context.Context, value C) (*T, error) {
	var (
		created *T
		key     string
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		created, err = o.primary.Create(ctx, value)
		return err
	})
	g.Go(func() error {
		var err error
		key, err = o.secondary.Create(ctx, o.convert.ConvertCreate(value))
		if err != nil {
			o.log.Error().Err(err).Msg("mirror create failed")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if key != "" {
			o.log.Warn().Str("key", key).Msg("mirror record left without a primary counterpart")
		}
		return nil, err
	}

	if key != "" {
		if err := o.secondary.SetLegacyID(ctx, key, (*created).GetID()); err != nil {
			o.log.Error().Err(err).Str("id", (*created).GetID()).Str("key", key).Msg("failed to link mirror record")
		}
	}
	return created, nil
}

// BatchCreate is BatchCreateAndReturn returning only the primary ids. On a
// partial failure the ids that were created come with the error.
func (o *Orchestrator[T, C, U, S, SC, SU]) BatchCreate(ctx context.Context, values []C) ([]string, error) {
	created, err := o.BatchCreateAndReturn(ctx, values)
	ids := make([]string, len(created))
	for i, v := range created {
		ids[i] = v.GetID()
	}
	return ids, err
}

// BatchCreateAndReturn writes the primary batch first and then the secondary
// batch, linking values[i] on the secondary side to the i-th primary id. It
// fails with constants.ErrUnexpected when the primary repository returns a
// different number of entities than it was given. When only part of the
// primary batch is written, the created entities come back with the error and
// are left unmirrored for a backfill to pick up.
func (o *Orchestrator[T, C, U, S, SC, SU]) BatchCreateAndReturn(ctx context.Context, values []C) ([]T, error) {
	created, err := o.primary.BatchCreateAndReturn(ctx, values)
	if err != nil {
		if len(created) > 0 {
			o.log.Warn().Err(err).Int("created", len(created)).Int("requested", len(values)).
				Msg("batch create partially failed, created entities are not mirrored")
		}
		return created, err
	}
	if len(created) != len(values) {
		return nil, fmt.Errorf("%w: batch create of %d %s returned %d entities",
			constants.ErrUnexpected, len(values), o.primary.Collection(), len(created))
	}

	converted := make([]SC, len(values))
	legacyIDs := make([]string, len(values))
	for i, v := range values {
		converted[i] = o.convert.ConvertCreate(v)
		legacyIDs[i] = created[i].GetID()
	}
	if _, err := o.secondary.BatchCreateLinked(ctx, converted, legacyIDs); err != nil {
		o.log.Error().Err(err).Int("size", len(values)).Msg("mirror batch create failed")
	}
	return created, nil
}

// UpdateOne updates the primary entity and its mirror concurrently and
// returns the primary result, nil when the entity does not exist.
func (o *Orchestrator[T, C, U, S, SC, SU]) UpdateOne(ctx context.Context, id string, update U) (*T, error) {
	var updated *T
	err := o.withMirror(ctx, []primary.Change[U]{{ID: id, Update: update}}, func(ctx context.Context) error {
		var err error
		updated, err = o.primary.UpdateOne(ctx, id, update)
		return err
	})
	return updated, err
}

// Update updates the primary entity and its mirror concurrently.
func (o *Orchestrator[T, C, U, S, SC, SU]) Update(ctx context.Context, id string, update U) error {
	return o.withMirror(ctx, []primary.Change[U]{{ID: id, Update: update}}, func(ctx context.Context) error {
		return o.primary.Update(ctx, id, update)
	})
}

// UpdateAndReturn is Update returning the updated primary entity. It fails
// with constants.ErrNotFound when the entity does not exist.
func (o *Orchestrator[T, C, U, S, SC, SU]) UpdateAndReturn(ctx context.Context, id string, update U) (*T, error) {
	var updated *T
	err := o.withMirror(ctx, []primary.Change[U]{{ID: id, Update: update}}, func(ctx context.Context) error {
		var err error
		updated, err = o.primary.UpdateAndReturn(ctx, id, update)
		return err
	})
	return updated, err
}

// MergeOne merges update into the primary entity and its mirror.
func (o *Orchestrator[T, C, U, S, SC, SU]) MergeOne(ctx context.Context, id string, update U) (*T, error) {
	var merged *T
	err := o.withMirror(ctx, []primary.Change[U]{{ID: id, Update: update, Merge: true}}, func(ctx context.Context) error {
		var err error
		merged, err = o.primary.MergeOne(ctx, id, update)
		return err
	})
	return merged, err
}

// BatchUpdate applies changes to the primary repository and mirrors them.
func (o *Orchestrator[T, C, U, S, SC, SU]) BatchUpdate(ctx context.Context, changes []primary.Change[U]) error {
	return o.withMirror(ctx, changes, func(ctx context.Context) error {
		return o.primary.BatchUpdate(ctx, changes)
	})
}

// Delete removes the primary entity and its mirror concurrently and reports
// whether the primary entity existed.
func (o *Orchestrator[T, C, U, S, SC, SU]) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	var g errgroup.Group
	g.Go(func() error {
		o.mirrorDelete(ctx, []string{id})
		return nil
	})
	g.Go(func() error {
		var err error
		deleted, err = o.primary.Delete(ctx, id)
		return err
	})
	return deleted, g.Wait()
}

// BatchDelete removes the primary entities and their mirrors concurrently.
func (o *Orchestrator[T, C, U, S, SC, SU]) BatchDelete(ctx context.Context, ids []string) error {
	var g errgroup.Group
	g.Go(func() error {
		o.mirrorDelete(ctx, ids)
		return nil
	})
	g.Go(func() error {
		return o.primary.BatchDelete(ctx, ids)
	})
	return g.Wait()
}

// withMirror runs write and the mirror of changes concurrently and returns
// the error of write. The mirror looks its records up before writing, so it
// may miss a record whose create is still in flight.
func (o *Orchestrator[T, C, U, S, SC, SU]) withMirror(ctx context.Context, changes []primary.Change[U], write func(ctx context.Context) error) error {
	var g errgroup.Group
	g.Go(func() error {
		o.mirrorUpdates(ctx, changes)
		return nil
	})
	g.Go(func() error {
		return write(ctx)
	})
	return g.Wait()
}

func (o *Orchestrator[T, C, U, S, SC, SU]) mirrorUpdates(ctx context.Context, changes []primary.Change[U]) {
	type pending struct {
		id     string
		update SU
		merge  bool
	}
	var todo []pending
	var ids []string
	for _, c := range changes {
		converted, relinks, empty, err := unlinked(o.convert.ConvertUpdate(c.Update))
		if err != nil {
			o.log.Error().Err(err).Str("id", c.ID).Msg("failed to encode mirror update")
			continue
		}
		if relinks {
			o.log.Warn().Str("id", c.ID).Msg("converted update sets legacyId, dropping it from the mirror update")
		}
		if empty {
			o.log.Warn().Str("id", c.ID).Msg("converted update is empty, skipping mirror update")
			continue
		}
		todo = append(todo, pending{id: c.ID, update: converted, merge: c.Merge})
		ids = append(ids, c.ID)
	}
	if len(todo) == 0 {
		return
	}

	linked, err := o.linkedKeys(ctx, ids)
	if err != nil {
		o.log.Error().Err(err).Int("size", len(ids)).Msg("failed to look up mirror records")
		return
	}

	var updates []secondary.Change[SU]
	for _, p := range todo {
		keys, ok := linked[p.id]
		if !ok {
			o.log.Warn().Str("id", p.id).Msg("mirror record not found, skipping mirror update")
			continue
		}
		for _, key := range keys {
			updates = append(updates, secondary.Change[SU]{Key: key, Update: p.update, Merge: p.merge})
		}
	}
	if len(updates) == 0 {
		return
	}

	if err := o.secondary.BatchUpdate(ctx, updates); err != nil {
		o.log.Error().Err(err).Int("size", len(updates)).Msg("mirror update failed")
	}
}

func (o *Orchestrator[T, C, U, S, SC, SU]) mirrorDelete(ctx context.Context, ids []string) {
	linked, err := o.linkedKeys(ctx, ids)
	if err != nil {
		o.log.Error().Err(err).Int("size", len(ids)).Msg("failed to look up mirror records")
		return
	}
	var keys []string
	for _, id := range ids {
		keys = append(keys, linked[id]...)
	}
	if len(keys) == 0 {
		return
	}
	if err := o.secondary.BatchDelete(ctx, keys); err != nil {
		o.log.Error().Err(err).Int("size", len(keys)).Msg("mirror delete failed")
	}
}

// linkedKeys maps each primary id to the keys of the secondary records linked
// to it. Ids without a linked record are absent from the map.
func (o *Orchestrator[T, C, U, S, SC, SU]) linkedKeys(ctx context.Context, ids []string) (map[string][]string, error) {
	found, err := o.secondary.GetManyByLegacyID(ctx, ids)
	if err != nil {
		return nil, err
	}
	linked := make(map[string][]string, len(found))
	for _, v := range found {
		legacyID := v.GetLegacyID()
		linked[legacyID] = append(linked[legacyID], v.GetKey())
	}
	return linked, nil
}

// unlinked drops legacyId from a converted update, as only SetLegacyID links
// a mirror record. It reports whether the field was present and whether the
// update carries no field once identity and timestamp fields are dropped.
func unlinked[SU any](update SU) (SU, bool, bool, error) {
	doc, err := codec.ToDocument(update)
	if err != nil {
		return update, false, false, err
	}
	_, relinks := doc[entity.FieldLegacyID]
	if relinks {
		delete(doc, entity.FieldLegacyID)
		stripped, err := codec.FromDocument[SU](doc)
		if err != nil {
			return update, false, false, err
		}
		update = *stripped
	}
	for k := range doc {
		if !entity.IsMetaField(k) {
			return update, relinks, false, nil
		}
	}
	return update, relinks, true, nil
}
