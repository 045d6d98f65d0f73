// Package sqlite is a secondary driver storing documents in a single SQLite
// table through GORM.
//
// Every collection shares the secondary_records table. The key, the legacy id
// and both timestamps are real columns; the rest of the document is kept as
// JSON and queried with json_extract and json_each. Keys are the decimal form
// of the autoincrement row id.
//
// Nested time values other than the two timestamps come back as RFC 3339
// strings.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/secondary"
)

type record struct {
	ID               int64   `gorm:"primaryKey;autoIncrement"`
	Collection       string  `gorm:"not null;index:idx_records_created,priority:1;index:idx_records_legacy,priority:1"`
	LegacyID         *string `gorm:"index:idx_records_legacy,priority:2"`
	DateCreated      int64   `gorm:"not null;index:idx_records_created,priority:2"`
	DateLastModified int64   `gorm:"not null"`
	Data             string  `gorm:"type:text;not null"`
}

func (record) TableName() string { return "secondary_records" }

// Store implements secondary.Driver.
type Store struct {
	db     *gorm.DB
	limits secondary.Limits
}

var _ secondary.Driver = (*Store)(nil)

type Option func(*Store)

// WithLimits overrides the default limits of 10 "in" values and 500 writes.
func WithLimits(l secondary.Limits) Option {
	return func(s *Store) { s.limits = l }
}

// Open opens the database at dsn with a single connection, logging through
// log, and migrates the schema. Use "file:name?mode=memory&cache=shared" for
// a private in-memory database.
func Open(ctx context.Context, dsn string, log zerolog.Logger, opts ...Option) (*Store, error) {
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: NewLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)
	return New(ctx, db, opts...)
}

// New wraps an open GORM connection and migrates the schema.
func New(ctx context.Context, db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		limits: secondary.Limits{MaxInValues: constants.MaxInValues, MaxBatchWrites: constants.MaxBatchWrites},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.WithContext(ctx).AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate secondary_records: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Limits() secondary.Limits { return s.limits }

// LooksLikeKey reports whether k is the canonical decimal form of a positive
// row id.
func (s *Store) LooksLikeKey(k string) bool {
	_, ok := parseKey(k)
	return ok
}

func parseKey(k string) (int64, bool) {
	id, err := strconv.ParseInt(k, 10, 64)
	if err != nil || id <= 0 || strconv.FormatInt(id, 10) != k {
		return 0, false
	}
	return id, true
}

func (s *Store) Get(ctx context.Context, collection, key string) (secondary.Document, error) {
	id, ok := parseKey(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, key)
	}
	var rec record
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, key)
	}
	if err != nil {
		return nil, classify(err)
	}
	return fromRecord(rec)
}

func (s *Store) Find(ctx context.Context, collection string, req secondary.FindRequest) ([]secondary.Document, error) {
	tx, err := filter(s.db.WithContext(ctx).Where("collection = ?", collection), req.Filters)
	if err != nil {
		return nil, err
	}
	for _, sort := range req.Sorts {
		expr, err := column(sort.Field)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if sort.Order == query.DESC {
			dir = "DESC"
		}
		tx = tx.Order(expr + " " + dir)
	}
	tx = tx.Order("id ASC")
	switch {
	case req.Limit > 0:
		tx = tx.Limit(req.Limit)
	case req.Skip > 0:
		// OFFSET needs a LIMIT in SQLite.
		tx = tx.Limit(math.MaxInt32)
	}
	if req.Skip > 0 {
		tx = tx.Offset(req.Skip)
	}

	var recs []record
	if err := tx.Find(&recs).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]secondary.Document, 0, len(recs))
	for _, rec := range recs {
		doc, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, collection string, filters []query.Query) (int, error) {
	tx, err := filter(s.db.WithContext(ctx).Model(&record{}).Where("collection = ?", collection), filters)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc secondary.Document) (string, error) {
	keys, err := s.InsertMany(ctx, collection, []secondary.Document{doc})
	if err != nil {
		return "", err
	}
	return keys[0], nil
}

// InsertMany inserts docs in one transaction, one row at a time so that
// every row id is known.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []secondary.Document) ([]string, error) {
	if len(docs) > s.limits.MaxBatchWrites {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d documents", constants.ErrInvalidArgument, len(docs), s.limits.MaxBatchWrites)
	}
	recs := make([]record, len(docs))
	for i, doc := range docs {
		rec, err := toRecord(collection, doc)
		if err != nil {
			return nil, err
		}
		recs[i] = rec
	}

	keys := make([]string, len(recs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range recs {
			if err := tx.Create(&recs[i]).Error; err != nil {
				return err
			}
			keys[i] = strconv.FormatInt(recs[i].ID, 10)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return keys, nil
}

func (s *Store) Update(ctx context.Context, collection, key string, fields secondary.Document, mode secondary.Mode) error {
	id, ok := parseKey(key)
	if !ok {
		return fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, key)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec record
		if err := tx.Where("collection = ? AND id = ?", collection, id).First(&rec).Error; err != nil {
			return err
		}
		doc, err := fromRecord(rec)
		if err != nil {
			return err
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
		updated, err := toRecord(collection, doc)
		if err != nil {
			return err
		}
		updated.ID = rec.ID
		return tx.Save(&updated).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, key)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) (bool, error) {
	n, err := s.DeleteMany(ctx, collection, []string{key})
	return n > 0, err
}

func (s *Store) DeleteMany(ctx context.Context, collection string, keys []string) (int, error) {
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		if id, ok := parseKey(k); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("collection = ? AND id IN ?", collection, ids).Delete(&record{})
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return int(res.RowsAffected), nil
}

func toRecord(collection string, doc secondary.Document) (record, error) {
	data := codec.Clone(doc)
	if data == nil {
		data = map[string]any{}
	}
	rec := record{Collection: collection}

	switch v := data[entity.FieldLegacyID].(type) {
	case nil:
	case string:
		rec.LegacyID = &v
	default:
		return record{}, fmt.Errorf("%w: legacy id must be a string, got %T", constants.ErrInvalidArgument, v)
	}
	rec.DateCreated, _ = nanos(data[entity.FieldDateCreated])
	rec.DateLastModified, _ = nanos(data[entity.FieldDateLastModified])

	for _, k := range []string{entity.FieldKey, entity.FieldLegacyID, entity.FieldDateCreated, entity.FieldDateLastModified} {
		delete(data, k)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return record{}, fmt.Errorf("failed to encode %s document: %w", collection, err)
	}
	rec.Data = string(b)
	return rec, nil
}

func fromRecord(rec record) (secondary.Document, error) {
	doc := secondary.Document{}
	if err := json.Unmarshal([]byte(rec.Data), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%d: %w", rec.Collection, rec.ID, err)
	}
	doc[entity.FieldKey] = strconv.FormatInt(rec.ID, 10)
	if rec.LegacyID != nil {
		doc[entity.FieldLegacyID] = *rec.LegacyID
	}
	doc[entity.FieldDateCreated] = time.Unix(0, rec.DateCreated).UTC()
	doc[entity.FieldDateLastModified] = time.Unix(0, rec.DateLastModified).UTC()
	return doc, nil
}

func nanos(v any) (int64, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixNano(), true
	case *time.Time:
		if t != nil {
			return t.UnixNano(), true
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixNano(), true
		}
	}
	return 0, false
}

// classify marks lock contention as transient.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return constants.Transient(err)
	}
	return err
}
