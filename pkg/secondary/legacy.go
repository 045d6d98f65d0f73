package secondary

import (
	"context"
	"slices"
	"strings"

	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
)

// GetOneByLegacyID returns the entity linked to the primary id legacyID, or
// nil when there is none. When several are linked the earliest created wins.
func (r *Repository[T, C, U]) GetOneByLegacyID(ctx context.Context, legacyID string) (*T, error) {
	found, err := r.GetMany(ctx,
		[]query.Query{query.Eq(entity.FieldLegacyID, legacyID)},
		query.Page{Size: 1},
		query.Asc(entity.FieldDateCreated),
	)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// GetManyByLegacyID returns the entities linked to any of legacyIDs, in no
// particular order. Ids are queried in chunks of the backend's "in" limit,
// concurrently.
func (r *Repository[T, C, U]) GetManyByLegacyID(ctx context.Context, legacyIDs []string) ([]T, error) {
	return r.getManyIn(ctx, entity.FieldLegacyID, dedupe(legacyIDs))
}

// GetOneByMaybeLegacyID resolves id as a backend key first and falls back to
// a legacy id lookup.
func (r *Repository[T, C, U]) GetOneByMaybeLegacyID(ctx context.Context, id string) (*T, error) {
	if r.driver.LooksLikeKey(id) {
		v, err := r.GetOne(ctx, id)
		if err != nil || v != nil {
			return v, err
		}
	}
	return r.GetOneByLegacyID(ctx, id)
}

// GetManyByMaybeLegacyIDs resolves every id as a backend key when it looks
// like one and as a legacy id in any case, and returns the union without
// duplicates, ordered by key.
func (r *Repository[T, C, U]) GetManyByMaybeLegacyIDs(ctx context.Context, ids []string) ([]T, error) {
	ids = dedupe(ids)
	var keys []string
	for _, id := range ids {
		if r.driver.LooksLikeKey(id) {
			keys = append(keys, id)
		}
	}

	byKey, err := r.GetManyByKey(ctx, keys)
	if err != nil {
		return nil, err
	}
	byLegacy, err := r.GetManyByLegacyID(ctx, ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(byKey)+len(byLegacy))
	out := make([]T, 0, len(byKey)+len(byLegacy))
	for _, v := range slices.Concat(byKey, byLegacy) {
		if _, ok := seen[v.GetKey()]; ok {
			continue
		}
		seen[v.GetKey()] = struct{}{}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return strings.Compare(a.GetKey(), b.GetKey()) })
	return out, nil
}
