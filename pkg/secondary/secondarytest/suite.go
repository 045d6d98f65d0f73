// Package secondarytest provides a conformance suite for secondary.Driver
// implementations.
package secondarytest

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/secondary"
)

// DriverSuite exercises a driver through its raw interface. NewDriver is
// called before every test and must return a driver whose Collection is
// empty.
type DriverSuite struct {
	suite.Suite
	NewDriver  func() secondary.Driver
	Collection string

	ctx    context.Context
	driver secondary.Driver
	base   time.Time
}

func (s *DriverSuite) SetupTest() {
	s.ctx = context.Background()
	s.driver = s.NewDriver()
	s.base = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if s.Collection == "" {
		s.Collection = "conformance"
	}
}

func (s *DriverSuite) doc(n int) secondary.Document {
	created := s.base.Add(time.Duration(n) * time.Second)
	return secondary.Document{
		entity.FieldLegacyID:         fmt.Sprintf("legacy-%03d", n),
		entity.FieldDateCreated:      created,
		entity.FieldDateLastModified: created,
		"rank":                       float64(n),
		"parity":                     []string{"even", "odd"}[n%2],
		"tags":                       []any{fmt.Sprintf("t%d", n%3)},
		"nested":                     map[string]any{"a": float64(n), "b": "keep"},
	}
}

func (s *DriverSuite) seed(n int) []string {
	docs := make([]secondary.Document, n)
	for i := range docs {
		docs[i] = s.doc(i)
	}
	keys, err := s.driver.InsertMany(s.ctx, s.Collection, docs)
	s.Require().NoError(err)
	s.Require().Len(keys, n)
	return keys
}

func ranks(docs []secondary.Document) []float64 {
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i], _ = d["rank"].(float64)
	}
	return out
}

func (s *DriverSuite) TestInsertGetRoundTrip() {
	doc := s.doc(1)
	key, err := s.driver.Insert(s.ctx, s.Collection, doc)
	s.Require().NoError(err)
	s.True(s.driver.LooksLikeKey(key), "generated key %q has the key shape", key)

	got, err := s.driver.Get(s.ctx, s.Collection, key)
	s.Require().NoError(err)
	s.Equal(key, got.Key())
	s.Equal("legacy-001", got[entity.FieldLegacyID])
	s.Equal(float64(1), got["rank"])
	s.Equal(map[string]any{"a": float64(1), "b": "keep"}, got["nested"])
	created, ok := got[entity.FieldDateCreated].(time.Time)
	s.Require().True(ok, "timestamps come back as time.Time")
	s.True(created.Equal(doc[entity.FieldDateCreated].(time.Time)))
}

func (s *DriverSuite) TestGetMissing() {
	keys := s.seed(1)
	_, err := s.driver.Delete(s.ctx, s.Collection, keys[0])
	s.Require().NoError(err)

	_, err = s.driver.Get(s.ctx, s.Collection, keys[0])
	s.ErrorIs(err, constants.ErrNotFound)
}

func (s *DriverSuite) TestInsertManyKeepsOrder() {
	keys := s.seed(5)
	for i, key := range keys {
		got, err := s.driver.Get(s.ctx, s.Collection, key)
		s.Require().NoError(err)
		s.Equal(float64(i), got["rank"])
	}
}

func (s *DriverSuite) TestFindFiltersSortsAndPages() {
	s.seed(12)

	docs, err := s.driver.Find(s.ctx, s.Collection, secondary.FindRequest{
		Filters: []query.Query{query.Eq("parity", "even"), query.Ge("rank", 4)},
		Sorts:   []query.Sort{query.Desc(entity.FieldDateCreated)},
	})
	s.Require().NoError(err)
	s.Equal([]float64{10, 8, 6, 4}, ranks(docs))

	docs, err = s.driver.Find(s.ctx, s.Collection, secondary.FindRequest{
		Sorts: []query.Sort{query.Asc("rank")},
		Limit: 3,
		Skip:  6,
	})
	s.Require().NoError(err)
	s.Equal([]float64{6, 7, 8}, ranks(docs))

	docs, err = s.driver.Find(s.ctx, s.Collection, secondary.FindRequest{
		Sorts: []query.Sort{query.Asc("rank")},
		Skip:  10,
	})
	s.Require().NoError(err)
	s.Equal([]float64{10, 11}, ranks(docs))

	docs, err = s.driver.Find(s.ctx, s.Collection, secondary.FindRequest{
		Filters: []query.Query{query.In(entity.FieldLegacyID, []string{"legacy-003", "legacy-005", "nope"})},
		Sorts:   []query.Sort{query.Asc("rank")},
	})
	s.Require().NoError(err)
	s.Equal([]float64{3, 5}, ranks(docs))

	docs, err = s.driver.Find(s.ctx, s.Collection, secondary.FindRequest{
		Filters: []query.Query{query.ArrayContainsAny("tags", []string{"t1", "t2"}), query.Lt(entity.FieldDateCreated, s.base.Add(6*time.Second))},
		Sorts:   []query.Sort{query.Asc("rank")},
	})
	s.Require().NoError(err)
	s.Equal([]float64{1, 2, 4, 5}, ranks(docs))

	docs, err = s.driver.Find(s.ctx, s.Collection, secondary.FindRequest{
		Filters: []query.Query{query.Ne("parity", "odd"), query.Gt("nested.a", 7)},
		Sorts:   []query.Sort{query.Asc("rank")},
	})
	s.Require().NoError(err)
	s.Equal([]float64{8, 10}, ranks(docs))
}

func (s *DriverSuite) TestFindByKey() {
	keys := s.seed(4)

	docs, err := s.driver.Find(s.ctx, s.Collection, secondary.FindRequest{
		Filters: []query.Query{query.In(entity.FieldKey, []string{keys[1], keys[3]})},
		Sorts:   []query.Sort{query.Asc("rank")},
	})
	s.Require().NoError(err)
	s.Equal([]float64{1, 3}, ranks(docs))

	docs, err = s.driver.Find(s.ctx, s.Collection, secondary.FindRequest{
		Filters: []query.Query{query.Eq(entity.FieldKey, keys[2])},
	})
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal(keys[2], docs[0].Key())
}

func (s *DriverSuite) TestCount() {
	s.seed(7)

	n, err := s.driver.Count(s.ctx, s.Collection, []query.Query{query.Eq("parity", "odd")})
	s.Require().NoError(err)
	s.Equal(3, n)

	n, err = s.driver.Count(s.ctx, s.Collection, nil)
	s.Require().NoError(err)
	s.Equal(7, n)

	n, err = s.driver.Count(s.ctx, s.Collection+"_empty", nil)
	s.Require().NoError(err)
	s.Equal(0, n)
}

func (s *DriverSuite) TestUpdateModes() {
	keys := s.seed(1)
	modified := s.base.Add(time.Hour)

	err := s.driver.Update(s.ctx, s.Collection, keys[0], secondary.Document{
		"nested":                     map[string]any{"a": float64(42)},
		entity.FieldDateLastModified: modified,
	}, secondary.ModeMerge)
	s.Require().NoError(err)

	got, err := s.driver.Get(s.ctx, s.Collection, keys[0])
	s.Require().NoError(err)
	s.Equal(map[string]any{"a": float64(42), "b": "keep"}, got["nested"])
	s.True(modified.Equal(got[entity.FieldDateLastModified].(time.Time)))
	s.Equal(float64(0), got["rank"])

	err = s.driver.Update(s.ctx, s.Collection, keys[0], secondary.Document{
		"nested": map[string]any{"a": float64(7)},
	}, secondary.ModeReplace)
	s.Require().NoError(err)

	got, err = s.driver.Get(s.ctx, s.Collection, keys[0])
	s.Require().NoError(err)
	s.Equal(map[string]any{"a": float64(7)}, got["nested"])
	s.Equal("legacy-000", got[entity.FieldLegacyID])
}

func (s *DriverSuite) TestUpdateMissing() {
	keys := s.seed(1)
	_, err := s.driver.Delete(s.ctx, s.Collection, keys[0])
	s.Require().NoError(err)

	err = s.driver.Update(s.ctx, s.Collection, keys[0], secondary.Document{"rank": float64(1)}, secondary.ModeReplace)
	s.ErrorIs(err, constants.ErrNotFound)
}

func (s *DriverSuite) TestDelete() {
	keys := s.seed(3)

	existed, err := s.driver.Delete(s.ctx, s.Collection, keys[0])
	s.Require().NoError(err)
	s.True(existed)

	existed, err = s.driver.Delete(s.ctx, s.Collection, keys[0])
	s.Require().NoError(err)
	s.False(existed)

	n, err := s.driver.DeleteMany(s.ctx, s.Collection, keys)
	s.Require().NoError(err)
	s.Equal(2, n)

	left, err := s.driver.Count(s.ctx, s.Collection, nil)
	s.Require().NoError(err)
	s.Zero(left)
}
