// Package badgerdb is an embedded primary driver backed by BadgerDB.
//
// It mirrors the limits of the reference document store (10 values per "in"
// filter, 500 operations per atomic batch) so that code exercised against it
// chunks exactly like it does in production. Filters and sorts are evaluated
// in-process, which makes it suitable for tests and local runs, not for large
// collections.
package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/internal/retry"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/query"
)

// Options configures the store.
type Options struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger for BadgerDB. If nil, logging is disabled.
	Logger badger.Logger
	// Limits overrides the default backend limits.
	Limits primary.Limits
}

// Store implements primary.Driver and primary.Counter.
type Store struct {
	db      *badger.DB
	limits  primary.Limits
	enc     cbor.EncMode
	dec     cbor.DecMode
	retryer retry.Retryer
}

var _ primary.Driver = (*Store)(nil)
var _ primary.Counter = (*Store)(nil)

// New opens the store.
func New(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	limits := opts.Limits
	if limits.MaxInValues <= 0 {
		limits.MaxInValues = constants.MaxInValues
	}
	if limits.MaxBatchWrites <= 0 {
		limits.MaxBatchWrites = constants.MaxBatchWrites
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	return &Store{
		db:      db,
		limits:  limits,
		enc:     enc,
		dec:     dec,
		retryer: retry.Fixed{Delay: 5 * time.Millisecond, MaxRetries: 20},
	}, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Limits() primary.Limits { return s.limits }

func (s *Store) Get(_ context.Context, collection, id string) (primary.Document, error) {
	var doc primary.Document
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.load(txn, collection, id)
		if err != nil {
			return err
		}
		doc = rec.document()
		return nil
	})
	return doc, err
}

func (s *Store) Query(_ context.Context, collection string, req primary.Request) ([]primary.Document, error) {
	docs, err := s.scan(collection, req.Filters)
	if err != nil {
		return nil, err
	}

	compare := query.CompareDocuments(req.Sorts, entity.FieldID)
	slices.SortFunc(docs, func(a, b primary.Document) int { return compare(a, b) })

	if req.Cursor != nil {
		start := slices.IndexFunc(docs, func(d primary.Document) bool {
			c := compare(d, req.Cursor.Doc)
			return c > 0 || (c == 0 && req.Cursor.Inclusive)
		})
		if start < 0 {
			start = len(docs)
		}
		docs = docs[start:]
	}
	if req.Limit > 0 && len(docs) > req.Limit {
		docs = docs[:req.Limit]
	}
	return docs, nil
}

func (s *Store) Count(_ context.Context, collection string, filters []query.Query) (int, error) {
	docs, err := s.scan(collection, filters)
	return len(docs), err
}

func (s *Store) scan(collection string, filters []query.Query) ([]primary.Document, error) {
	var docs []primary.Document
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix(collection)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec record
			err := it.Item().Value(func(val []byte) error {
				return s.dec.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			doc := rec.document()
			if query.Match(doc, filters) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	return docs, err
}

func (s *Store) Create(ctx context.Context, collection string, doc primary.Document) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return s.create(txn, collection, doc)
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields primary.Document, mode primary.Mode) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return s.modify(txn, collection, id, fields, mode)
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	var existed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key(collection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			existed = false
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(key(collection, id))
	})
	return existed, err
}

func (s *Store) Batch(ctx context.Context, collection string, ops []primary.Op) error {
	if len(ops) > s.limits.MaxBatchWrites {
		return fmt.Errorf("%w: batch of %d exceeds %d operations", constants.ErrInvalidArgument, len(ops), s.limits.MaxBatchWrites)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		for i, op := range ops {
			var err error
			switch op.Kind {
			case primary.OpCreate:
				err = s.create(txn, collection, op.Doc)
			case primary.OpUpdate:
				err = s.modify(txn, collection, op.ID, op.Doc, op.Mode)
			case primary.OpDelete:
				err = txn.Delete(key(collection, op.ID))
			default:
				err = fmt.Errorf("%w: unknown batch operation %d", constants.ErrInvalidArgument, op.Kind)
			}
			if err != nil {
				return fmt.Errorf("batch operation %d: %w", i, err)
			}
		}
		return nil
	})
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return retry.Do(ctx, s.retryer, func(context.Context) error {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			return constants.Transient(err)
		}
		return err
	})
}

func (s *Store) create(txn *badger.Txn, collection string, doc primary.Document) error {
	rec := newRecord(doc)
	k := key(collection, rec.ID)
	_, err := txn.Get(k)
	if err == nil {
		return fmt.Errorf("%w: %s/%s", constants.ErrAlreadyExists, collection, rec.ID)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return s.store(txn, k, rec)
}

func (s *Store) modify(txn *badger.Txn, collection, id string, fields primary.Document, mode primary.Mode) error {
	rec, err := s.load(txn, collection, id)
	if err != nil {
		return err
	}
	for k, v := range fields {
		switch {
		case k == entity.FieldDateLastModified:
			if t, ok := v.(time.Time); ok {
				rec.Modified = t.UnixNano()
			}
		case entity.IsMetaField(k):
		case mode == primary.ModeMerge:
			codec.Merge(rec.Fields, map[string]any{k: normalize(v)})
		default:
			rec.Fields[k] = normalize(v)
		}
	}
	return s.store(txn, key(collection, id), rec)
}

func (s *Store) load(txn *badger.Txn, collection, id string) (*record, error) {
	item, err := txn.Get(key(collection, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, err
	}
	rec := new(record)
	err = item.Value(func(val []byte) error {
		return s.dec.Unmarshal(val, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return rec, nil
}

func (s *Store) store(txn *badger.Txn, k []byte, rec *record) error {
	val, err := s.enc.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	return txn.Set(k, val)
}

func prefix(collection string) []byte {
	return []byte(collection + "\x00")
}

func key(collection, id string) []byte {
	return append(prefix(collection), id...)
}
