// Package surrealdb is a secondary driver on SurrealDB, the migration target.
//
// Each collection is a table. Keys are the generated record ids (20 lowercase
// alphanumerics) without the table prefix. Statements are parameterized;
// table and field names, which SurrealQL cannot bind, are validated before
// being written into the statement.
package surrealdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/cardvault/dualrepo/internal/rand"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/secondary"
)

// Store implements secondary.Driver.
type Store struct {
	db     *surrealdb.DB
	limits secondary.Limits
	log    zerolog.Logger
}

var _ secondary.Driver = (*Store)(nil)

type Option func(*Store)

// WithLimits overrides the default limits of 10 "in" values and 500 writes.
func WithLimits(l secondary.Limits) Option {
	return func(s *Store) { s.limits = l }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns a driver on db, which must already have a namespace and
// database selected.
func New(db *surrealdb.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		limits: secondary.Limits{MaxInValues: constants.MaxInValues, MaxBatchWrites: constants.MaxBatchWrites},
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "surrealdb").Logger()
	return s
}

// Config locates and authenticates a SurrealDB database.
type Config struct {
	URL       string `mapstructure:"url" validate:"required,url"`
	Namespace string `mapstructure:"namespace" validate:"required"`
	Database  string `mapstructure:"database" validate:"required"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// Connect opens a connection, signs in when a username is configured and
// selects the namespace and database.
func Connect(ctx context.Context, cfg Config) (*surrealdb.DB, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}
	if cfg.Username != "" {
		token, err := db.SignIn(ctx, &surrealdb.Auth{Username: cfg.Username, Password: cfg.Password})
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
		if err := db.Authenticate(ctx, token); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}
	return db, nil
}

func (s *Store) Limits() secondary.Limits { return s.limits }

func (s *Store) LooksLikeKey(k string) bool { return rand.LooksLikeKey(k) }

// query runs one statement and returns the rows of its result.
func (s *Store) query(ctx context.Context, sql string, vars map[string]any) ([]map[string]any, error) {
	s.log.Trace().Str("sql", sql).Msg("query")
	res, err := surrealdb.Query[[]map[string]any](ctx, s.db, sql, vars)
	if err != nil {
		return nil, classify(err)
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	return (*res)[len(*res)-1].Result, nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (secondary.Document, error) {
	if err := checkTable(collection); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, "SELECT * FROM $rid", map[string]any{"rid": recordID(collection, key)})
	if err != nil {
		return nil, fmt.Errorf("failed to select %s:%s: %w", collection, key, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, key)
	}
	return fromRow(rows[0]), nil
}

func (s *Store) Find(ctx context.Context, collection string, req secondary.FindRequest) ([]secondary.Document, error) {
	sql, vars, err := buildFind(collection, req)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	out := make([]secondary.Document, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, collection string, filters []query.Query) (int, error) {
	sql, vars, err := buildCount(collection, filters)
	if err != nil {
		return 0, err
	}
	rows, err := s.query(ctx, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := toFloat(rows[0]["count"])
	return int(n), nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc secondary.Document) (string, error) {
	keys, err := s.InsertMany(ctx, collection, []secondary.Document{doc})
	if err != nil {
		return "", err
	}
	return keys[0], nil
}

// InsertMany inserts docs with a single INSERT statement, which SurrealDB
// applies atomically, and returns the generated keys in input order.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []secondary.Document) ([]string, error) {
	if len(docs) > s.limits.MaxBatchWrites {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d documents", constants.ErrInvalidArgument, len(docs), s.limits.MaxBatchWrites)
	}
	if err := checkTable(collection); err != nil {
		return nil, err
	}
	data := make([]any, len(docs))
	for i, doc := range docs {
		data[i] = toWire(withoutKey(doc))
	}
	rows, err := s.query(ctx, "INSERT INTO "+collection+" $docs", map[string]any{"docs": data})
	if err != nil {
		return nil, fmt.Errorf("failed to insert %d %s: %w", len(docs), collection, err)
	}
	if len(rows) != len(docs) {
		return nil, fmt.Errorf("%w: inserted %d %s, got %d records back", constants.ErrUnexpected, len(docs), collection, len(rows))
	}
	keys := make([]string, len(rows))
	for i, row := range rows {
		key, ok := recordKey(row["id"])
		if !ok {
			return nil, fmt.Errorf("%w: inserted %s without a record id: %v", constants.ErrUnexpected, collection, row["id"])
		}
		keys[i] = key
	}
	return keys, nil
}

func (s *Store) Update(ctx context.Context, collection, key string, fields secondary.Document, mode secondary.Mode) error {
	if err := checkTable(collection); err != nil {
		return err
	}
	sql, vars, err := buildUpdate(withoutKey(fields), mode)
	if err != nil {
		return err
	}
	vars["rid"] = recordID(collection, key)
	rows, err := s.query(ctx, sql, vars)
	if err != nil {
		return fmt.Errorf("failed to update %s:%s: %w", collection, key, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) (bool, error) {
	if err := checkTable(collection); err != nil {
		return false, err
	}
	rows, err := s.query(ctx, "DELETE $rid RETURN BEFORE", map[string]any{"rid": recordID(collection, key)})
	if err != nil {
		return false, fmt.Errorf("failed to delete %s:%s: %w", collection, key, err)
	}
	return len(rows) > 0, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, keys []string) (int, error) {
	if err := checkTable(collection); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	rids := make([]any, len(keys))
	for i, k := range keys {
		rids[i] = recordID(collection, k)
	}
	rows, err := s.query(ctx, "DELETE "+collection+" WHERE id IN $rids RETURN BEFORE", map[string]any{"rids": rids})
	if err != nil {
		return 0, fmt.Errorf("failed to delete %d %s: %w", len(keys), collection, err)
	}
	return len(rows), nil
}

// classify marks transaction conflicts, which SurrealDB reports as
// retryable, as transient.
func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "can be retried") || strings.Contains(msg, "read or write conflict") {
		return constants.Transient(err)
	}
	return err
}

func recordID(table, key string) *models.RecordID {
	rid := models.NewRecordID(table, key)
	return &rid
}
