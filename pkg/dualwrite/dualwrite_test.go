package dualwrite_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/cardvault/dualrepo/contrib/testenv"
	"github.com/cardvault/dualrepo/internal/fixtures"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/dualwrite"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/primary/badgerdb"
	"github.com/cardvault/dualrepo/pkg/secondary"
	"github.com/cardvault/dualrepo/pkg/secondary/memory"
)

type (
	cardRepo    = primary.Repository[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate]
	cardDocRepo = secondary.Repository[fixtures.CardDoc, fixtures.CardDocCreate, fixtures.CardDocUpdate]
	cardWriter  = dualwrite.Orchestrator[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate,
		fixtures.CardDoc, fixtures.CardDocCreate, fixtures.CardDocUpdate]
)

var converter = dualwrite.Converter[fixtures.CardCreate, fixtures.CardUpdate, fixtures.CardDocCreate, fixtures.CardDocUpdate]{
	ConvertCreate: fixtures.ToCardDocCreate,
	ConvertUpdate: fixtures.ToCardDocUpdate,
}

// failingDriver rejects every insert.
type failingDriver struct {
	secondary.Driver
}

func (failingDriver) Insert(context.Context, string, secondary.Document) (string, error) {
	return "", errors.New("secondary unavailable")
}

// boomDriver fails every batch that creates a card named "boom".
type boomDriver struct {
	primary.Driver
}

func (d boomDriver) Batch(ctx context.Context, collection string, ops []primary.Op) error {
	for _, op := range ops {
		if op.Doc["name"] == "boom" {
			return errors.New("primary unavailable")
		}
	}
	return d.Driver.Batch(ctx, collection, ops)
}

type DualWriteTestSuite struct {
	suite.Suite
	ctx       context.Context
	store     *badgerdb.Store
	docs      *memory.Store
	logs      *bytes.Buffer
	primary   *cardRepo
	secondary *cardDocRepo
	writer    *cardWriter
}

func TestDualWriteTestSuite(t *testing.T) {
	suite.Run(t, new(DualWriteTestSuite))
}

func (s *DualWriteTestSuite) SetupTest() {
	store, err := badgerdb.New(badgerdb.Options{InMemory: true})
	s.Require().NoError(err)
	clock := fixtures.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	s.ctx = context.Background()
	s.store = store
	s.docs = memory.New()
	s.logs = &bytes.Buffer{}
	s.primary = primary.New[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate](store, "cards",
		primary.WithClock(clock.Now))
	s.secondary = secondary.New[fixtures.CardDoc, fixtures.CardDocCreate, fixtures.CardDocUpdate](s.docs, "cards",
		secondary.WithClock(clock.Now))
	s.writer = s.newWriter(s.secondary)
}

func (s *DualWriteTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *DualWriteTestSuite) newWriter(sec *cardDocRepo) *cardWriter {
	w, err := dualwrite.New(s.primary, sec, converter,
		dualwrite.WithLogger(testenv.NewLogger(testenv.WithOutput(s.logs), testenv.WithIgnoreDebug())))
	s.Require().NoError(err)
	return w
}

func (s *DualWriteTestSuite) mirrorOf(id string) *fixtures.CardDoc {
	doc, err := s.secondary.GetOneByLegacyID(s.ctx, id)
	s.Require().NoError(err)
	return doc
}

func (s *DualWriteTestSuite) TestCreateLinksMirror() {
	card, err := s.writer.Create(s.ctx, fixtures.CardCreate{Name: "pikachu", Price: 12})
	s.Require().NoError(err)
	s.Require().NotNil(card)

	doc := s.mirrorOf(card.ID)
	s.Require().NotNil(doc)
	s.Equal(card.ID, doc.GetLegacyID())
	s.Equal("pikachu", doc.Title)
	s.Equal(12.0, doc.Price)
	s.Empty(s.logs.String())
}

func (s *DualWriteTestSuite) TestBatchCreateAndReturnPairsByPosition() {
	creates := make([]fixtures.CardCreate, 25)
	for i := range creates {
		creates[i] = fixtures.CardCreate{Name: fmt.Sprintf("card-%02d", i), Price: float64(i)}
	}
	cards, err := s.writer.BatchCreateAndReturn(s.ctx, creates)
	s.Require().NoError(err)
	s.Require().Len(cards, 25)

	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
		s.Equal(creates[i].Name, c.Name)
	}
	docs, err := s.secondary.GetManyByLegacyID(s.ctx, ids)
	s.Require().NoError(err)
	s.Require().Len(docs, 25)

	byLegacy := make(map[string]fixtures.CardDoc, len(docs))
	for _, d := range docs {
		byLegacy[d.GetLegacyID()] = d
	}
	for _, c := range cards {
		s.Equal(c.Name, byLegacy[c.ID].Title)
	}
}

func (s *DualWriteTestSuite) TestBatchCreateReturnsIDs() {
	ids, err := s.writer.BatchCreate(s.ctx, []fixtures.CardCreate{{Name: "a"}, {Name: "b"}})
	s.Require().NoError(err)
	s.Len(ids, 2)
	s.NotNil(s.mirrorOf(ids[1]))
}

func (s *DualWriteTestSuite) TestUpdateOneUpdatesMirror() {
	card, err := s.writer.Create(s.ctx, fixtures.CardCreate{Name: "eevee", Price: 5})
	s.Require().NoError(err)

	updated, err := s.writer.UpdateOne(s.ctx, card.ID, fixtures.CardUpdate{Name: fixtures.Ptr("vaporeon")})
	s.Require().NoError(err)
	s.Require().NotNil(updated)
	s.Equal("vaporeon", updated.Name)
	s.Equal("vaporeon", s.mirrorOf(card.ID).Title)
}

func (s *DualWriteTestSuite) TestUpdateWithoutMirrorSucceeds() {
	card, err := s.primary.Create(s.ctx, fixtures.CardCreate{Name: "mew"})
	s.Require().NoError(err)

	updated, err := s.writer.UpdateAndReturn(s.ctx, card.ID, fixtures.CardUpdate{Price: fixtures.Ptr(99.0)})
	s.Require().NoError(err)
	s.Equal(99.0, updated.Price)
	s.Nil(s.mirrorOf(card.ID))
	s.Contains(s.logs.String(), "WARN: mirror record not found, skipping mirror update")
}

func (s *DualWriteTestSuite) TestEmptyConvertedUpdateIsSkipped() {
	card, err := s.writer.Create(s.ctx, fixtures.CardCreate{Name: "ditto", Set: fixtures.SetInfo{Code: "BS"}})
	s.Require().NoError(err)
	before := s.mirrorOf(card.ID)

	merged, err := s.writer.MergeOne(s.ctx, card.ID, fixtures.CardUpdate{Set: &fixtures.SetInfo{Series: "base"}})
	s.Require().NoError(err)
	s.Equal(fixtures.SetInfo{Code: "BS", Series: "base"}, merged.Set)

	after := s.mirrorOf(card.ID)
	s.Equal(before.DateLastModified, after.DateLastModified)
	s.Contains(s.logs.String(), "WARN: converted update is empty, skipping mirror update")
}

func (s *DualWriteTestSuite) TestUpdateMissingPrimary() {
	updated, err := s.writer.UpdateOne(s.ctx, "missing", fixtures.CardUpdate{Name: fixtures.Ptr("x")})
	s.Require().NoError(err)
	s.Nil(updated)

	_, err = s.writer.UpdateAndReturn(s.ctx, "missing", fixtures.CardUpdate{Name: fixtures.Ptr("x")})
	s.ErrorIs(err, constants.ErrNotFound)

	err = s.writer.Update(s.ctx, "missing", fixtures.CardUpdate{})
	s.ErrorIs(err, constants.ErrEmptyUpdate)
}

func (s *DualWriteTestSuite) TestBatchUpdate() {
	ids, err := s.writer.BatchCreate(s.ctx, []fixtures.CardCreate{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	s.Require().NoError(err)

	err = s.writer.BatchUpdate(s.ctx, []primary.Change[fixtures.CardUpdate]{
		{ID: ids[0], Update: fixtures.CardUpdate{Name: fixtures.Ptr("a2")}},
		{ID: ids[2], Update: fixtures.CardUpdate{Price: fixtures.Ptr(3.0)}, Merge: true},
	})
	s.Require().NoError(err)

	cards, err := s.writer.GetManyByID(s.ctx, ids)
	s.Require().NoError(err)
	s.Len(cards, 3)

	s.Equal("a2", s.mirrorOf(ids[0]).Title)
	s.Equal("b", s.mirrorOf(ids[1]).Title)
	s.Equal(3.0, s.mirrorOf(ids[2]).Price)
}

func (s *DualWriteTestSuite) TestDelete() {
	card, err := s.writer.Create(s.ctx, fixtures.CardCreate{Name: "snorlax"})
	s.Require().NoError(err)

	deleted, err := s.writer.Delete(s.ctx, card.ID)
	s.Require().NoError(err)
	s.True(deleted)

	got, err := s.writer.GetOne(s.ctx, card.ID)
	s.Require().NoError(err)
	s.Nil(got)
	s.Nil(s.mirrorOf(card.ID))

	deleted, err = s.writer.Delete(s.ctx, card.ID)
	s.Require().NoError(err)
	s.False(deleted)
}

func (s *DualWriteTestSuite) TestBatchDelete() {
	ids, err := s.writer.BatchCreate(s.ctx, []fixtures.CardCreate{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	s.Require().NoError(err)

	s.Require().NoError(s.writer.BatchDelete(s.ctx, ids[:2]))

	left, err := s.secondary.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(1, left)
	s.NotNil(s.mirrorOf(ids[2]))

	cards, err := s.writer.GetManyByID(s.ctx, ids)
	s.Require().NoError(err)
	s.Len(cards, 1)
}

func (s *DualWriteTestSuite) TestMirrorFailureDoesNotFailCreate() {
	broken := secondary.New[fixtures.CardDoc, fixtures.CardDocCreate, fixtures.CardDocUpdate](failingDriver{s.docs}, "cards")
	writer := s.newWriter(broken)

	card, err := writer.Create(s.ctx, fixtures.CardCreate{Name: "onix"})
	s.Require().NoError(err)
	s.NotEmpty(card.ID)
	s.Nil(s.mirrorOf(card.ID))
	s.Contains(s.logs.String(), "ERROR: mirror create failed")
}

func (s *DualWriteTestSuite) TestBatchCreatePartialFailureReturnsCreatedIDs() {
	store, err := badgerdb.New(badgerdb.Options{InMemory: true, Limits: primary.Limits{MaxInValues: 10, MaxBatchWrites: 2}})
	s.Require().NoError(err)
	defer store.Close()

	cards := primary.New[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate](boomDriver{store}, "cards")
	writer, err := dualwrite.New(cards, s.secondary, converter,
		dualwrite.WithLogger(testenv.NewLogger(testenv.WithOutput(s.logs), testenv.WithIgnoreDebug())))
	s.Require().NoError(err)

	ids, err := writer.BatchCreate(s.ctx, []fixtures.CardCreate{{Name: "a"}, {Name: "b"}, {Name: "boom"}, {Name: "c"}})
	s.Require().Error(err)
	s.Require().Len(ids, 2)

	created, err := cards.GetManyByID(s.ctx, ids)
	s.Require().NoError(err)
	s.Len(created, 2)
	s.Nil(s.mirrorOf(ids[0]))
	s.Contains(s.logs.String(), "WARN: batch create partially failed, created entities are not mirrored")
}

func (s *DualWriteTestSuite) TestConvertedUpdateCannotRelinkMirror() {
	card, err := s.writer.Create(s.ctx, fixtures.CardCreate{Name: "pichu"})
	s.Require().NoError(err)

	relinking := converter
	relinking.ConvertUpdate = func(u fixtures.CardUpdate) fixtures.CardDocUpdate {
		doc := fixtures.ToCardDocUpdate(u)
		doc.LegacyID = fixtures.Ptr("someone-else")
		return doc
	}
	writer, err := dualwrite.New(s.primary, s.secondary, relinking,
		dualwrite.WithLogger(testenv.NewLogger(testenv.WithOutput(s.logs), testenv.WithIgnoreDebug())))
	s.Require().NoError(err)

	_, err = writer.UpdateOne(s.ctx, card.ID, fixtures.CardUpdate{Name: fixtures.Ptr("raichu")})
	s.Require().NoError(err)

	doc := s.mirrorOf(card.ID)
	s.Require().NotNil(doc)
	s.Equal("raichu", doc.Title)
	s.Contains(s.logs.String(), "WARN: converted update sets legacyId, dropping it from the mirror update")

	stray, err := s.secondary.GetOneByLegacyID(s.ctx, "someone-else")
	s.Require().NoError(err)
	s.Nil(stray)
}

func TestNewValidatesArguments(t *testing.T) {
	store, err := badgerdb.New(badgerdb.Options{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	p := primary.New[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate](store, "cards")
	sec := secondary.New[fixtures.CardDoc, fixtures.CardDocCreate, fixtures.CardDocUpdate](memory.New(), "cards")

	_, err = dualwrite.New(p, sec, dualwrite.Converter[fixtures.CardCreate, fixtures.CardUpdate, fixtures.CardDocCreate, fixtures.CardDocUpdate]{
		ConvertCreate: fixtures.ToCardDocCreate,
	})
	assert.ErrorIs(t, err, constants.ErrInvalidArgument)

	_, err = dualwrite.New[fixtures.Card](nil, sec, converter)
	assert.ErrorIs(t, err, constants.ErrInvalidArgument)
}
