package primary

import (
	"context"
	"errors"
	"fmt"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/internal/fanout"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/stats"
)

// Change is one entry of a BatchUpdate.
type Change[U any] struct {
	ID     string
	Update U
	// Merge applies the update with merge semantics instead of replacing
	// top-level fields.
	Merge bool
}

// Create stores a new entity under a generated id and returns it as read
// back from the backend.
func (r *Repository[T, C, U]) Create(ctx context.Context, value C) (*T, error) {
	return r.CreateWithID(ctx, r.newID(), value)
}

// CreateWithID stores a new entity under id. It fails with
// constants.ErrAlreadyExists when the id is taken.
func (r *Repository[T, C, U]) CreateWithID(ctx context.Context, id string, value C) (*T, error) {
	doc, err := r.newDocument(id, value)
	if err != nil {
		return nil, err
	}
	err = r.driver.Create(ctx, r.collection, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s/%s: %w", r.collection, id, err)
	}
	r.record(stats.Event{Writes: 1})

	created, err := r.GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("%w: %s/%s missing right after create", constants.ErrUnexpected, r.collection, id)
	}
	return created, nil
}

// BatchCreate stores every value and returns the generated ids in input
// order. Values are written in atomic chunks of the backend's batch limit,
// concurrently. Chunks are independent: when some fail, the ids of the
// chunks that succeeded are returned together with the joined error.
func (r *Repository[T, C, U]) BatchCreate(ctx context.Context, values []C) ([]string, error) {
	ids := make([]string, len(values))
	ops := make([]Op, len(values))
	for i, v := range values {
		ids[i] = r.newID()
		doc, err := r.newDocument(ids[i], v)
		if err != nil {
			return nil, err
		}
		ops[i] = Op{Kind: OpCreate, ID: ids[i], Doc: doc}
	}

	chunks := fanout.Chunk(ops, r.driver.Limits().MaxBatchWrites)
	written := make([]bool, len(chunks))
	err := fanout.All(ctx, len(chunks), func(ctx context.Context, i int) error {
		if err := r.driver.Batch(ctx, r.collection, chunks[i]); err != nil {
			r.log.Error().Err(err).Int("chunk", i).Int("size", len(chunks[i])).Msg("batch create chunk failed")
			return fmt.Errorf("failed to batch create %d %s: %w", len(chunks[i]), r.collection, err)
		}
		r.record(stats.Event{Writes: len(chunks[i])})
		written[i] = true
		return nil
	})
	if err == nil {
		return ids, nil
	}

	var created []string
	for i, chunk := range chunks {
		if !written[i] {
			continue
		}
		for _, op := range chunk {
			created = append(created, op.ID)
		}
	}
	return created, err
}

// BatchCreateAndReturn is BatchCreate followed by a read of the created
// entities, returned in input order.
func (r *Repository[T, C, U]) BatchCreateAndReturn(ctx context.Context, values []C) ([]T, error) {
	ids, createErr := r.BatchCreate(ctx, values)
	if len(ids) == 0 {
		return nil, createErr
	}

	found, err := r.GetManyByID(ctx, ids)
	if err != nil {
		return nil, errors.Join(createErr, err)
	}
	byID := make(map[string]T, len(found))
	for _, v := range found {
		byID[v.GetID()] = v
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			return nil, errors.Join(createErr, fmt.Errorf("%w: %s/%s missing right after batch create", constants.ErrUnexpected, r.collection, id))
		}
		out = append(out, v)
	}
	return out, createErr
}

// Update replaces the given top-level fields of the entity and bumps its
// modification date. It fails with constants.ErrEmptyUpdate before writing
// when the update carries no field.
func (r *Repository[T, C, U]) Update(ctx context.Context, id string, update U) error {
	return r.write(ctx, id, update, ModeReplace)
}

// UpdateOne is Update followed by a read. It returns nil without error when
// the entity does not exist.
func (r *Repository[T, C, U]) UpdateOne(ctx context.Context, id string, update U) (*T, error) {
	err := r.write(ctx, id, update, ModeReplace)
	if errors.Is(err, constants.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetOne(ctx, id)
}

// UpdateAndReturn is Update followed by a read. Unlike UpdateOne it fails
// with constants.ErrNotFound when the entity does not exist.
func (r *Repository[T, C, U]) UpdateAndReturn(ctx context.Context, id string, update U) (*T, error) {
	if err := r.write(ctx, id, update, ModeReplace); err != nil {
		return nil, err
	}
	return r.mustGet(ctx, id)
}

// MergeOne merges the update into the entity, leaving nested fields absent
// from the payload untouched, and returns the result.
func (r *Repository[T, C, U]) MergeOne(ctx context.Context, id string, update U) (*T, error) {
	if err := r.write(ctx, id, update, ModeMerge); err != nil {
		return nil, err
	}
	return r.mustGet(ctx, id)
}

func (r *Repository[T, C, U]) mustGet(ctx context.Context, id string) (*T, error) {
	v, err := r.GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, r.collection, id)
	}
	return v, nil
}

func (r *Repository[T, C, U]) write(ctx context.Context, id string, update U, mode Mode) error {
	fields, err := r.updateFields(id, update)
	if err != nil {
		return err
	}
	err = r.driver.Update(ctx, r.collection, id, fields, mode)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", r.collection, id, err)
	}
	r.record(stats.Event{Writes: 1})
	return nil
}

// BatchUpdate applies every change in atomic chunks of the backend's batch
// limit, concurrently and unordered across chunks.
func (r *Repository[T, C, U]) BatchUpdate(ctx context.Context, changes []Change[U]) error {
	ops := make([]Op, len(changes))
	for i, c := range changes {
		fields, err := r.updateFields(c.ID, c.Update)
		if err != nil {
			return err
		}
		mode := ModeReplace
		if c.Merge {
			mode = ModeMerge
		}
		ops[i] = Op{Kind: OpUpdate, ID: c.ID, Doc: fields, Mode: mode}
	}
	return r.batch(ctx, ops, "update", func(n int) stats.Event { return stats.Event{Writes: n} })
}

// BatchDelete removes every id in atomic chunks of the backend's batch limit.
// Missing ids are ignored.
func (r *Repository[T, C, U]) BatchDelete(ctx context.Context, ids []string) error {
	ops := make([]Op, 0, len(ids))
	for _, id := range dedupe(ids) {
		ops = append(ops, Op{Kind: OpDelete, ID: id})
	}
	return r.batch(ctx, ops, "delete", func(n int) stats.Event { return stats.Event{Deletes: n} })
}

func (r *Repository[T, C, U]) batch(ctx context.Context, ops []Op, verb string, event func(n int) stats.Event) error {
	chunks := fanout.Chunk(ops, r.driver.Limits().MaxBatchWrites)
	return fanout.All(ctx, len(chunks), func(ctx context.Context, i int) error {
		if err := r.driver.Batch(ctx, r.collection, chunks[i]); err != nil {
			r.log.Error().Err(err).Int("chunk", i).Int("size", len(chunks[i])).Msgf("batch %s chunk failed", verb)
			return fmt.Errorf("failed to batch %s %d %s: %w", verb, len(chunks[i]), r.collection, err)
		}
		r.record(event(len(chunks[i])))
		return nil
	})
}

// Delete removes the entity and reports whether it existed.
func (r *Repository[T, C, U]) Delete(ctx context.Context, id string) (bool, error) {
	existing, err := r.GetOne(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	deleted, err := r.driver.Delete(ctx, r.collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", r.collection, id, err)
	}
	r.record(stats.Event{Deletes: 1})
	return deleted, nil
}

func (r *Repository[T, C, U]) newDocument(id string, value C) (Document, error) {
	doc, err := codec.ToDocument(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s create: %w", r.collection, err)
	}
	stripMeta(doc)
	now := r.timestamp()
	doc[entity.FieldID] = id
	doc[entity.FieldDateCreated] = now
	doc[entity.FieldDateLastModified] = now
	return doc, nil
}

func (r *Repository[T, C, U]) updateFields(id string, update U) (Document, error) {
	fields, err := codec.ToDocument(update)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s update: %w", r.collection, err)
	}
	stripMeta(fields)
	if len(fields) == 0 {
		r.log.Warn().Str("id", id).Msg("refusing update without fields")
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrEmptyUpdate, r.collection, id)
	}
	fields[entity.FieldDateLastModified] = r.timestamp()
	return fields, nil
}

func stripMeta(doc Document) {
	for k := range doc {
		if entity.IsMetaField(k) {
			delete(doc, k)
		}
	}
}
