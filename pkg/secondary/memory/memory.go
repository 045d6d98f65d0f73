// Package memory is an in-memory secondary driver for tests and local runs.
// Keys have the shape of SurrealDB generated record ids.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/internal/rand"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/secondary"
)

// Store keeps collections in maps guarded by a RWMutex. Documents are
// cloned on the way in and out.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]secondary.Document
	keys        *rand.Source
	limits      secondary.Limits
}

var _ secondary.Driver = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKeySource replaces the random key source, typically with a seeded one.
func WithKeySource(src *rand.Source) Option {
	return func(s *Store) { s.keys = src }
}

// WithLimits overrides the default limits of 10 "in" values and 500 writes.
func WithLimits(l secondary.Limits) Option {
	return func(s *Store) { s.limits = l }
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: map[string]map[string]secondary.Document{},
		keys:        rand.NewSource(),
		limits:      secondary.Limits{MaxInValues: constants.MaxInValues, MaxBatchWrites: constants.MaxBatchWrites},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Limits() secondary.Limits { return s.limits }

func (s *Store) LooksLikeKey(k string) bool { return rand.LooksLikeKey(k) }

// Reset drops every collection.
func (s *Store) Reset() {
	s.mu.Lock()
	s.collections = map[string]map[string]secondary.Document{}
	s.mu.Unlock()
}

func (s *Store) Get(_ context.Context, collection, key string) (secondary.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, key)
	}
	return codec.Clone(doc), nil
}

func (s *Store) Find(_ context.Context, collection string, req secondary.FindRequest) ([]secondary.Document, error) {
	s.mu.RLock()
	matched := s.matchLocked(collection, req.Filters)
	s.mu.RUnlock()

	compare := query.CompareDocuments(req.Sorts, entity.FieldKey)
	slices.SortFunc(matched, func(a, b secondary.Document) int { return compare(a, b) })
	if req.Skip >= len(matched) {
		return nil, nil
	}
	matched = matched[req.Skip:]
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}
	return matched, nil
}

func (s *Store) Count(_ context.Context, collection string, filters []query.Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchLocked(collection, filters)), nil
}

func (s *Store) matchLocked(collection string, filters []query.Query) []secondary.Document {
	var out []secondary.Document
	for _, doc := range s.collections[collection] {
		if query.Match(doc, filters) {
			out = append(out, codec.Clone(doc))
		}
	}
	return out
}

func (s *Store) Insert(ctx context.Context, collection string, doc secondary.Document) (string, error) {
	keys, err := s.InsertMany(ctx, collection, []secondary.Document{doc})
	if err != nil {
		return "", err
	}
	return keys[0], nil
}

func (s *Store) InsertMany(_ context.Context, collection string, docs []secondary.Document) ([]string, error) {
	if len(docs) > s.limits.MaxBatchWrites {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d documents", constants.ErrInvalidArgument, len(docs), s.limits.MaxBatchWrites)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		c = map[string]secondary.Document{}
		s.collections[collection] = c
	}

	keys := make([]string, len(docs))
	for i, doc := range docs {
		key := s.keys.Key()
		for _, taken := c[key]; taken; _, taken = c[key] {
			key = s.keys.Key()
		}
		stored := secondary.Document(codec.Clone(doc))
		if stored == nil {
			stored = secondary.Document{}
		}
		stored[entity.FieldKey] = key
		c[key] = stored
		keys[i] = key
	}
	return keys, nil
}

func (s *Store) Update(_ context.Context, collection, key string, fields secondary.Document, mode secondary.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, key)
	}
	for k, v := range codec.Clone(fields) {
		if k == entity.FieldKey {
			continue
		}
		if mode == secondary.ModeMerge {
			codec.Merge(doc, map[string]any{k: v})
			continue
		}
		doc[k] = v
	}
	return nil
}

func (s *Store) Delete(_ context.Context, collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[collection][key]
	delete(s.collections[collection], key)
	return ok, nil
}

func (s *Store) DeleteMany(_ context.Context, collection string, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, key := range keys {
		if _, ok := s.collections[collection][key]; ok {
			delete(s.collections[collection], key)
			n++
		}
	}
	return n, nil
}
