// Package primarytest provides a conformance suite for primary.Driver
// implementations.
package primarytest

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/query"
)

// DriverSuite exercises a driver through its raw interface. NewDriver is
// called before every test and must return an empty store; Collection names
// the collection the tests write to.
type DriverSuite struct {
	suite.Suite
	NewDriver  func() primary.Driver
	Collection string

	ctx    context.Context
	driver primary.Driver
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

func (s *DriverSuite) doc(id string, n int) primary.Document {
	created := s.base.Add(time.Duration(n) * time.Second)
	return primary.Document{
		entity.FieldID:               id,
		entity.FieldDateCreated:      created,
		entity.FieldDateLastModified: created,
		"rank":                       float64(n),
		"parity":                     []string{"even", "odd"}[n%2],
		"tags":                       []any{fmt.Sprintf("t%d", n%3)},
		"nested":                     map[string]any{"a": float64(n), "b": "keep"},
	}
}

func (s *DriverSuite) seed(n int) []string {
	ids := make([]string, n)
	ops := make([]primary.Op, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%03d", i)
		ops[i] = primary.Op{Kind: primary.OpCreate, ID: ids[i], Doc: s.doc(ids[i], i)}
	}
	s.Require().NoError(s.driver.Batch(s.ctx, s.Collection, ops))
	return ids
}

func docIDs(docs []primary.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func (s *DriverSuite) TestCreateGetRoundTrip() {
	doc := s.doc("one", 1)
	s.Require().NoError(s.driver.Create(s.ctx, s.Collection, doc))

	got, err := s.driver.Get(s.ctx, s.Collection, "one")
	s.Require().NoError(err)
	s.Equal("one", got.ID())
	s.Equal(float64(1), got["rank"])
	created, ok := got[entity.FieldDateCreated].(time.Time)
	s.Require().True(ok, "timestamps come back as time.Time")
	s.True(created.Equal(doc[entity.FieldDateCreated].(time.Time)))

	err = s.driver.Create(s.ctx, s.Collection, doc)
	s.ErrorIs(err, constants.ErrAlreadyExists)

	_, err = s.driver.Get(s.ctx, s.Collection, "missing")
	s.ErrorIs(err, constants.ErrNotFound)
}

func (s *DriverSuite) TestQueryFiltersAndOrder() {
	s.seed(12)

	docs, err := s.driver.Query(s.ctx, s.Collection, primary.Request{
		Filters: []query.Query{query.Eq("parity", "even"), query.Ge("rank", 4)},
		Sorts:   []query.Sort{query.Desc(entity.FieldDateCreated)},
		Limit:   3,
	})
	s.Require().NoError(err)
	s.Equal([]string{"id-010", "id-008", "id-006"}, docIDs(docs))

	docs, err = s.driver.Query(s.ctx, s.Collection, primary.Request{
		Filters: []query.Query{query.ArrayContains("tags", "t1")},
	})
	s.Require().NoError(err)
	s.Equal([]string{"id-001", "id-004", "id-007", "id-010"}, docIDs(docs))

	docs, err = s.driver.Query(s.ctx, s.Collection, primary.Request{
		Filters: []query.Query{query.In(entity.FieldID, []string{"id-003", "id-001", "nope"})},
	})
	s.Require().NoError(err)
	s.Equal([]string{"id-001", "id-003"}, docIDs(docs))

	docs, err = s.driver.Query(s.ctx, s.Collection, primary.Request{
		Filters: []query.Query{query.Ne("parity", "even"), query.Lt(entity.FieldDateCreated, s.base.Add(4*time.Second))},
	})
	s.Require().NoError(err)
	s.Equal([]string{"id-001", "id-003"}, docIDs(docs))
}

func (s *DriverSuite) TestQueryCursor() {
	s.seed(6)
	sorts := []query.Sort{query.Asc(entity.FieldDateCreated)}

	cursorDoc, err := s.driver.Get(s.ctx, s.Collection, "id-002")
	s.Require().NoError(err)

	after, err := s.driver.Query(s.ctx, s.Collection, primary.Request{Sorts: sorts, Limit: 2, Cursor: &primary.Cursor{Doc: cursorDoc}})
	s.Require().NoError(err)
	s.Equal([]string{"id-003", "id-004"}, docIDs(after))

	at, err := s.driver.Query(s.ctx, s.Collection, primary.Request{Sorts: sorts, Limit: 2, Cursor: &primary.Cursor{Doc: cursorDoc, Inclusive: true}})
	s.Require().NoError(err)
	s.Equal([]string{"id-002", "id-003"}, docIDs(at))

	last, err := s.driver.Get(s.ctx, s.Collection, "id-005")
	s.Require().NoError(err)
	rest, err := s.driver.Query(s.ctx, s.Collection, primary.Request{Sorts: sorts, Cursor: &primary.Cursor{Doc: last}})
	s.Require().NoError(err)
	s.Empty(rest)
}

func (s *DriverSuite) TestUpdateModes() {
	s.seed(1)
	modified := s.base.Add(time.Hour)

	err := s.driver.Update(s.ctx, s.Collection, "id-000", primary.Document{
		"nested":                     map[string]any{"a": float64(42)},
		entity.FieldDateLastModified: modified,
	}, primary.ModeMerge)
	s.Require().NoError(err)

	got, err := s.driver.Get(s.ctx, s.Collection, "id-000")
	s.Require().NoError(err)
	s.Equal(map[string]any{"a": float64(42), "b": "keep"}, got["nested"])
	s.True(modified.Equal(got[entity.FieldDateLastModified].(time.Time)))

	err = s.driver.Update(s.ctx, s.Collection, "id-000", primary.Document{
		"nested": map[string]any{"a": float64(7)},
	}, primary.ModeReplace)
	s.Require().NoError(err)

	got, err = s.driver.Get(s.ctx, s.Collection, "id-000")
	s.Require().NoError(err)
	s.Equal(map[string]any{"a": float64(7)}, got["nested"])

	err = s.driver.Update(s.ctx, s.Collection, "missing", primary.Document{"rank": float64(1)}, primary.ModeReplace)
	s.ErrorIs(err, constants.ErrNotFound)
}

func (s *DriverSuite) TestDelete() {
	s.seed(1)

	existed, err := s.driver.Delete(s.ctx, s.Collection, "id-000")
	s.Require().NoError(err)
	s.True(existed)

	existed, err = s.driver.Delete(s.ctx, s.Collection, "id-000")
	s.Require().NoError(err)
	s.False(existed)
}

func (s *DriverSuite) TestBatchIsAtomic() {
	s.seed(2)

	err := s.driver.Batch(s.ctx, s.Collection, []primary.Op{
		{Kind: primary.OpCreate, ID: "fresh", Doc: s.doc("fresh", 9)},
		{Kind: primary.OpUpdate, ID: "missing", Doc: primary.Document{"rank": float64(1)}},
	})
	s.ErrorIs(err, constants.ErrNotFound)

	_, err = s.driver.Get(s.ctx, s.Collection, "fresh")
	s.ErrorIs(err, constants.ErrNotFound, "a failed batch writes nothing")

	err = s.driver.Batch(s.ctx, s.Collection, []primary.Op{
		{Kind: primary.OpUpdate, ID: "id-000", Doc: primary.Document{"rank": float64(100)}},
		{Kind: primary.OpDelete, ID: "id-001"},
		{Kind: primary.OpDelete, ID: "never-existed"},
	})
	s.Require().NoError(err)

	got, err := s.driver.Get(s.ctx, s.Collection, "id-000")
	s.Require().NoError(err)
	s.Equal(float64(100), got["rank"])
	_, err = s.driver.Get(s.ctx, s.Collection, "id-001")
	s.ErrorIs(err, constants.ErrNotFound)

	tooMany := make([]primary.Op, s.driver.Limits().MaxBatchWrites+1)
	for i := range tooMany {
		tooMany[i] = primary.Op{Kind: primary.OpDelete, ID: fmt.Sprintf("x-%d", i)}
	}
	s.ErrorIs(s.driver.Batch(s.ctx, s.Collection, tooMany), constants.ErrInvalidArgument)
}

func (s *DriverSuite) TestCount() {
	s.seed(7)
	counter, ok := s.driver.(primary.Counter)
	if !ok {
		s.T().Skip("driver does not count natively")
	}

	n, err := counter.Count(s.ctx, s.Collection, []query.Query{query.Eq("parity", "odd")})
	s.Require().NoError(err)
	s.Equal(3, n)

	n, err = counter.Count(s.ctx, s.Collection, nil)
	s.Require().NoError(err)
	s.Equal(7, n)
}
