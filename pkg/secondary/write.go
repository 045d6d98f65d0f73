package secondary

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
	Key    string
	Update U
	Merge  bool
}

// Create inserts a new entity and returns the key the backend assigned.
func (r *Repository[T, C, U]) Create(ctx context.Context, value C) (string, error) {
	return r.CreateLinked(ctx, "", value)
}

// CreateLinked inserts a new entity linked to the primary id legacyID.
// An empty legacyID keeps whatever link the payload carries.
func (r *Repository[T, C, U]) CreateLinked(ctx context.Context, legacyID string, value C) (string, error) {
	doc, err := r.newDocument(value, legacyID)
	if err != nil {
		return "", err
	}
	key, err := r.driver.Insert(ctx, r.collection, doc)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", r.collection, err)
	}
	r.record(stats.Event{Writes: 1})
	return key, nil
}

// CreateAndReturn inserts a new entity and reads it back by its new key.
func (r *Repository[T, C, U]) CreateAndReturn(ctx context.Context, value C) (*T, error) {
	key, err := r.Create(ctx, value)
	if err != nil {
		return nil, err
	}
	return r.mustGet(ctx, key, "right after create")
}

// BatchCreate inserts every value and returns the assigned keys in input
// order. Values are inserted in atomic chunks of the backend's batch limit,
// concurrently. When some chunks fail, the keys of the chunks that succeeded
// are returned together with the joined error.
func (r *Repository[T, C, U]) BatchCreate(ctx context.Context, values []C) ([]string, error) {
	return r.BatchCreateLinked(ctx, values, nil)
}

// BatchCreateLinked is BatchCreate linking values[i] to legacyIDs[i].
// legacyIDs is either nil or as long as values.
func (r *Repository[T, C, U]) BatchCreateLinked(ctx context.Context, values []C, legacyIDs []string) ([]string, error) {
	if legacyIDs != nil && len(legacyIDs) != len(values) {
		return nil, fmt.Errorf("%w: %d legacy ids for %d values", constants.ErrInvalidArgument, len(legacyIDs), len(values))
	}
	docs := make([]Document, len(values))
	for i, v := range values {
		legacyID := ""
		if legacyIDs != nil {
			legacyID = legacyIDs[i]
		}
		doc, err := r.newDocument(v, legacyID)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}

	chunks := fanout.Chunk(docs, r.driver.Limits().MaxBatchWrites)
	keys := make([][]string, len(chunks))
	err := fanout.All(ctx, len(chunks), func(ctx context.Context, i int) error {
		inserted, err := r.driver.InsertMany(ctx, r.collection, chunks[i])
		if err != nil {
			r.log.Error().Err(err).Int("chunk", i).Int("size", len(chunks[i])).Msg("batch create chunk failed")
			return fmt.Errorf("failed to batch create %d %s: %w", len(chunks[i]), r.collection, err)
		}
		if len(inserted) != len(chunks[i]) {
			return fmt.Errorf("%w: inserted %d %s, got %d keys", constants.ErrUnexpected, len(chunks[i]), r.collection, len(inserted))
		}
		r.record(stats.Event{Writes: len(chunks[i])})
		keys[i] = inserted
		return nil
	})

	out := make([]string, 0, len(values))
	for _, k := range keys {
		out = append(out, k...)
	}
	return out, err
}

// BatchCreateAndReturn is BatchCreate followed by a read of the created
// entities, returned in input order.
func (r *Repository[T, C, U]) BatchCreateAndReturn(ctx context.Context, values []C) ([]T, error) {
	keys, createErr := r.BatchCreate(ctx, values)
	if len(keys) == 0 {
		return nil, createErr
	}

	found, err := r.GetManyByKey(ctx, keys)
	if err != nil {
		return nil, errors.Join(createErr, err)
	}
	byKey := make(map[string]T, len(found))
	for _, v := range found {
		byKey[v.GetKey()] = v
	}
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		v, ok := byKey[k]
		if !ok {
			return nil, errors.Join(createErr, fmt.Errorf("%w: %s/%s missing right after batch create", constants.ErrUnexpected, r.collection, k))
		}
		out = append(out, v)
	}
	return out, createErr
}

// Update replaces the given top-level fields and bumps the modification
// date. It fails with constants.ErrEmptyUpdate before writing when the
// update carries no field.
func (r *Repository[T, C, U]) Update(ctx context.Context, key string, update U) error {
	return r.write(ctx, key, update, ModeReplace)
}

// UpdateOne is Update followed by a read. It returns nil without error when
// the entity does not exist.
func (r *Repository[T, C, U]) UpdateOne(ctx context.Context, key string, update U) (*T, error) {
	err := r.write(ctx, key, update, ModeReplace)
	if errors.Is(err, constants.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetOne(ctx, key)
}

// UpdateAndReturn is Update followed by a read and fails with
// constants.ErrNotFound when the entity does not exist.
func (r *Repository[T, C, U]) UpdateAndReturn(ctx context.Context, key string, update U) (*T, error) {
	if err := r.write(ctx, key, update, ModeReplace); err != nil {
		return nil, err
	}
	return r.mustGet(ctx, key, "")
}

// MergeOne merges the update into the entity and returns the result.
func (r *Repository[T, C, U]) MergeOne(ctx context.Context, key string, update U) (*T, error) {
	if err := r.write(ctx, key, update, ModeMerge); err != nil {
		return nil, err
	}
	return r.mustGet(ctx, key, "")
}

// BatchUpdate applies every change concurrently. A failing change does not
// stop the others; failures are logged and joined into the returned error.
func (r *Repository[T, C, U]) BatchUpdate(ctx context.Context, changes []Change[U]) error {
	outcome := fanout.Settle(ctx, changes, r.driver.Limits().MaxBatchWrites, func(ctx context.Context, c Change[U]) (string, error) {
		mode := ModeReplace
		if c.Merge {
			mode = ModeMerge
		}
		return c.Key, r.write(ctx, c.Key, c.Update, mode)
	})
	for _, f := range outcome.Failures {
		r.log.Error().Err(f.Err).Str("key", changes[f.Index].Key).Msg("batch update entry failed")
	}
	return outcome.Err()
}

// SetLegacyID links the entity to the primary id legacyID.
func (r *Repository[T, C, U]) SetLegacyID(ctx context.Context, key, legacyID string) error {
	if legacyID == "" {
		return fmt.Errorf("%w: empty legacy id for %s/%s", constants.ErrInvalidArgument, r.collection, key)
	}
	fields := Document{
		entity.FieldLegacyID:         legacyID,
		entity.FieldDateLastModified: r.timestamp(),
	}
	if err := r.driver.Update(ctx, r.collection, key, fields, ModeMerge); err != nil {
		return fmt.Errorf("failed to link %s/%s to %s: %w", r.collection, key, legacyID, err)
	}
	r.record(stats.Event{Writes: 1})
	return nil
}

func (r *Repository[T, C, U]) write(ctx context.Context, key string, update U, mode Mode) error {
	if !r.driver.LooksLikeKey(key) {
		return fmt.Errorf("%w: %s/%s", constants.ErrNotFound, r.collection, key)
	}
	fields, err := r.updateFields(key, update)
	if err != nil {
		return err
	}
	if err := r.driver.Update(ctx, r.collection, key, fields, mode); err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", r.collection, key, err)
	}
	r.record(stats.Event{Writes: 1})
	return nil
}

// Delete removes the entity and reports whether it existed.
func (r *Repository[T, C, U]) Delete(ctx context.Context, key string) (bool, error) {
	if !r.driver.LooksLikeKey(key) {
		return false, nil
	}
	deleted, err := r.driver.Delete(ctx, r.collection, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", r.collection, key, err)
	}
	if deleted {
		r.record(stats.Event{Deletes: 1})
	}
	return deleted, nil
}

// BatchDelete removes every key in chunks of the backend's batch limit,
// concurrently. Missing keys are ignored.
func (r *Repository[T, C, U]) BatchDelete(ctx context.Context, keys []string) error {
	var valid []string
	for _, k := range dedupe(keys) {
		if r.driver.LooksLikeKey(k) {
			valid = append(valid, k)
		}
	}
	chunks := fanout.Chunk(valid, r.driver.Limits().MaxBatchWrites)
	return fanout.All(ctx, len(chunks), func(ctx context.Context, i int) error {
		n, err := r.driver.DeleteMany(ctx, r.collection, chunks[i])
		if err != nil {
			r.log.Error().Err(err).Int("chunk", i).Int("size", len(chunks[i])).Msg("batch delete chunk failed")
			return fmt.Errorf("failed to batch delete %d %s: %w", len(chunks[i]), r.collection, err)
		}
		r.record(stats.Event{Deletes: n})
		return nil
	})
}

func (r *Repository[T, C, U]) mustGet(ctx context.Context, key, when string) (*T, error) {
	v, err := r.GetOne(ctx, key)
	if err != nil {
		return nil, err
	}
	if v == nil && when != "" {
		return nil, fmt.Errorf("%w: %s/%s missing %s", constants.ErrUnexpected, r.collection, key, when)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, r.collection, key)
	}
	return v, nil
}

func (r *Repository[T, C, U]) newDocument(value C, legacyID string) (Document, error) {
	doc, err := codec.ToDocument(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s create: %w", r.collection, err)
	}
	stripMeta(doc)
	if legacyID != "" {
		doc[entity.FieldLegacyID] = legacyID
	}
	if v, ok := doc[entity.FieldLegacyID]; ok && (v == nil || v == "") {
		delete(doc, entity.FieldLegacyID)
	}
	now := r.timestamp()
	doc[entity.FieldDateCreated] = now
	doc[entity.FieldDateLastModified] = now
	return doc, nil
}

func (r *Repository[T, C, U]) updateFields(key string, update U) (Document, error) {
	fields, err := codec.ToDocument(update)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s update: %w", r.collection, err)
	}
	stripMeta(fields)
	if len(fields) == 0 {
		r.log.Warn().Str("key", key).Msg("refusing update without fields")
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrEmptyUpdate, r.collection, key)
	}
	fields[entity.FieldDateLastModified] = r.timestamp()
	return fields, nil
}

func stripMeta(doc map[string]any) {
	for k := range doc {
		if entity.IsMetaField(k) {
			delete(doc, k)
		}
	}
}
