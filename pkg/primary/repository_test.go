package primary_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/cardvault/dualrepo/internal/fixtures"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/primary/badgerdb"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/stats"
)

type cardRepo = primary.Repository[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate]

type RepositoryTestSuite struct {
	suite.Suite
	ctx   context.Context
	store *badgerdb.Store
	stats *stats.Recorder
	clock *fixtures.Clock
	repo  *cardRepo
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

func (s *RepositoryTestSuite) SetupTest() {
	store, err := badgerdb.New(badgerdb.Options{InMemory: true})
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.store = store
	s.stats = &stats.Recorder{}
	s.clock = fixtures.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	s.repo = primary.New[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate](
		store, "cards",
		primary.WithStats(s.stats),
		primary.WithClock(s.clock.Now),
	)
}

func (s *RepositoryTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *RepositoryTestSuite) createCards(n int) []string {
	creates := make([]fixtures.CardCreate, n)
	for i := range creates {
		creates[i] = fixtures.CardCreate{Name: fmt.Sprintf("card-%04d", i), Price: float64(i)}
	}
	ids, err := s.repo.BatchCreate(s.ctx, creates)
	s.Require().NoError(err)
	s.Require().Len(ids, n)
	return ids
}

func (s *RepositoryTestSuite) TestCreateAndGetOne() {
	created, err := s.repo.Create(s.ctx, fixtures.CardCreate{Name: "charizard", Price: 350})
	s.Require().NoError(err)
	s.Require().NotNil(created)

	s.NotEmpty(created.ID)
	s.Equal("charizard", created.Name)
	s.True(created.DateCreated.Equal(s.clock.Now()))
	s.True(created.DateCreated.Equal(created.DateLastModified))

	got, err := s.repo.GetOne(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.ID, got.ID)

	missing, err := s.repo.GetOne(s.ctx, "missing")
	s.Require().NoError(err)
	s.Nil(missing)

	s.Equal(stats.Event{Collection: "cards", Writes: 1, Reads: 3}, s.stats.Totals()["cards"])
}

func (s *RepositoryTestSuite) TestCreateWithIDRejectsTakenIDs() {
	_, err := s.repo.CreateWithID(s.ctx, "fixed", fixtures.CardCreate{Name: "a"})
	s.Require().NoError(err)

	_, err = s.repo.CreateWithID(s.ctx, "fixed", fixtures.CardCreate{Name: "b"})
	s.ErrorIs(err, constants.ErrAlreadyExists)
}

func (s *RepositoryTestSuite) TestGetManyCountsAtLeastOneRead() {
	found, err := s.repo.GetMany(s.ctx, []query.Query{query.Eq("name", "nothing")}, query.Options{})
	s.Require().NoError(err)
	s.Empty(found)
	s.Equal([]stats.Event{{Collection: "cards", Reads: 1}}, s.stats.Events())
}

func (s *RepositoryTestSuite) TestGetManyFiltersSortsAndLimits() {
	s.createCards(30)

	found, err := s.repo.GetMany(s.ctx,
		[]query.Query{query.Ge("price", 10), query.Lt("price", 20)},
		query.Options{Sort: []query.Sort{query.Desc("price")}, Limit: 4},
	)
	s.Require().NoError(err)
	s.Require().Len(found, 4)
	s.Equal(19.0, found[0].Price)
	s.Equal(16.0, found[3].Price)
}

func (s *RepositoryTestSuite) TestGetManyCursorMarkers() {
	s.createCards(10)
	sorted := []query.Sort{query.Asc("name")}

	all, err := s.repo.GetMany(s.ctx, nil, query.Options{Sort: sorted})
	s.Require().NoError(err)
	s.Require().Len(all, 10)

	after, err := s.repo.GetMany(s.ctx, nil, query.Options{Sort: sorted, StartAfterID: all[3].ID, Limit: 2})
	s.Require().NoError(err)
	s.Equal([]string{all[4].ID, all[5].ID}, ids(after))

	at, err := s.repo.GetMany(s.ctx, nil, query.Options{Sort: sorted, StartAtID: all[3].ID, Limit: 2})
	s.Require().NoError(err)
	s.Equal([]string{all[3].ID, all[4].ID}, ids(at))

	s.stats.Reset()
	_, err = s.repo.GetMany(s.ctx, nil, query.Options{StartAfterID: "a", StartAtID: "b"})
	s.ErrorIs(err, constants.ErrInvalidArgument)
	s.Empty(s.stats.Events(), "invalid options must not reach the backend")

	_, err = s.repo.GetMany(s.ctx, nil, query.Options{StartAfterID: "missing"})
	s.ErrorIs(err, constants.ErrNotFound)
}

func (s *RepositoryTestSuite) TestGetManyByIDChunksByTen() {
	created := s.createCards(25)
	s.stats.Reset()

	found, err := s.repo.GetManyByID(s.ctx, append(created, "missing-1", "missing-2", created[0]))
	s.Require().NoError(err)
	s.ElementsMatch(created, ids(found))
	s.Len(s.stats.Events(), 3)
}

func (s *RepositoryTestSuite) TestBatchCreateChunksBy500() {
	created := s.createCards(1200)

	writes := []int{}
	for _, e := range s.stats.Events() {
		writes = append(writes, e.Writes)
	}
	s.ElementsMatch([]int{500, 500, 200}, writes)

	s.stats.Reset()
	found, err := s.repo.GetManyByID(s.ctx, created)
	s.Require().NoError(err)
	s.Len(found, 1200)
	s.Len(s.stats.Events(), 120)
}

func (s *RepositoryTestSuite) TestBatchCreateSmallBatchIsOneChunk() {
	created := s.createCards(25)
	s.Len(s.stats.Events(), 1)
	for _, id := range created {
		got, err := s.repo.GetOne(s.ctx, id)
		s.Require().NoError(err)
		s.NotNil(got)
	}
}

func (s *RepositoryTestSuite) TestBatchCreateAndReturnKeepsInputOrder() {
	creates := []fixtures.CardCreate{{Name: "c"}, {Name: "a"}, {Name: "b"}}
	created, err := s.repo.BatchCreateAndReturn(s.ctx, creates)
	s.Require().NoError(err)
	s.Require().Len(created, 3)
	for i, c := range created {
		s.Equal(creates[i].Name, c.Name)
	}
}

func (s *RepositoryTestSuite) TestUpdateVariants() {
	created, err := s.repo.Create(s.ctx, fixtures.CardCreate{Name: "pikachu", Price: 5})
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)

	updated, err := s.repo.UpdateOne(s.ctx, created.ID, fixtures.CardUpdate{Price: fixtures.Ptr(7.5)})
	s.Require().NoError(err)
	s.Equal(7.5, updated.Price)
	s.Equal("pikachu", updated.Name)
	s.True(updated.DateCreated.Equal(created.DateCreated))
	s.True(updated.DateLastModified.After(created.DateLastModified))

	s.Require().NoError(s.repo.Update(s.ctx, created.ID, fixtures.CardUpdate{Name: fixtures.Ptr("raichu")}))
	returned, err := s.repo.UpdateAndReturn(s.ctx, created.ID, fixtures.CardUpdate{Price: fixtures.Ptr(9.0)})
	s.Require().NoError(err)
	s.Equal("raichu", returned.Name)
	s.Equal(9.0, returned.Price)

	missing, err := s.repo.UpdateOne(s.ctx, "missing", fixtures.CardUpdate{Price: fixtures.Ptr(1.0)})
	s.Require().NoError(err)
	s.Nil(missing)

	_, err = s.repo.UpdateAndReturn(s.ctx, "missing", fixtures.CardUpdate{Price: fixtures.Ptr(1.0)})
	s.ErrorIs(err, constants.ErrNotFound)
}

func (s *RepositoryTestSuite) TestEmptyUpdateIsRejectedBeforeWriting() {
	created, err := s.repo.Create(s.ctx, fixtures.CardCreate{Name: "eevee"})
	s.Require().NoError(err)
	s.stats.Reset()

	err = s.repo.Update(s.ctx, created.ID, fixtures.CardUpdate{})
	s.ErrorIs(err, constants.ErrEmptyUpdate)

	err = s.repo.BatchUpdate(s.ctx, []primary.Change[fixtures.CardUpdate]{
		{ID: created.ID, Update: fixtures.CardUpdate{Name: fixtures.Ptr("x")}},
		{ID: created.ID},
	})
	s.ErrorIs(err, constants.ErrEmptyUpdate)
	s.Empty(s.stats.Events())
}

func (s *RepositoryTestSuite) TestMergeOneKeepsNestedFields() {
	created, err := s.repo.Create(s.ctx, fixtures.CardCreate{Name: "onix", Set: fixtures.SetInfo{Code: "BS", Series: "Base"}})
	s.Require().NoError(err)

	merged, err := s.repo.MergeOne(s.ctx, created.ID, fixtures.CardUpdate{Set: &fixtures.SetInfo{Series: "Gym"}})
	s.Require().NoError(err)
	s.Equal(fixtures.SetInfo{Code: "BS", Series: "Gym"}, merged.Set)

	replaced, err := s.repo.UpdateOne(s.ctx, created.ID, fixtures.CardUpdate{Set: &fixtures.SetInfo{Series: "Neo"}})
	s.Require().NoError(err)
	s.Equal(fixtures.SetInfo{Series: "Neo"}, replaced.Set)

	_, err = s.repo.MergeOne(s.ctx, "missing", fixtures.CardUpdate{Name: fixtures.Ptr("x")})
	s.ErrorIs(err, constants.ErrNotFound)
}

func (s *RepositoryTestSuite) TestBatchUpdateAndDelete() {
	created := s.createCards(12)

	changes := make([]primary.Change[fixtures.CardUpdate], len(created))
	for i, id := range created {
		changes[i] = primary.Change[fixtures.CardUpdate]{ID: id, Update: fixtures.CardUpdate{Price: fixtures.Ptr(100.0)}}
	}
	s.Require().NoError(s.repo.BatchUpdate(s.ctx, changes))

	n, err := s.repo.Count(s.ctx, []query.Query{query.Eq("price", 100)})
	s.Require().NoError(err)
	s.Equal(12, n)

	s.Require().NoError(s.repo.BatchDelete(s.ctx, append(created[:5], "missing")))
	n, err = s.repo.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(7, n)
}

func (s *RepositoryTestSuite) TestDelete() {
	created, err := s.repo.Create(s.ctx, fixtures.CardCreate{Name: "mew"})
	s.Require().NoError(err)

	deleted, err := s.repo.Delete(s.ctx, created.ID)
	s.Require().NoError(err)
	s.True(deleted)

	deleted, err = s.repo.Delete(s.ctx, created.ID)
	s.Require().NoError(err)
	s.False(deleted)
}

// poisonDriver fails every batch containing a document named "poison".
type poisonDriver struct {
	primary.Driver
}

func (d poisonDriver) Batch(ctx context.Context, collection string, ops []primary.Op) error {
	for _, op := range ops {
		if op.Doc["name"] == "poison" {
			return errors.New("rejected")
		}
	}
	return d.Driver.Batch(ctx, collection, ops)
}

func TestBatchCreatePartialFailure(t *testing.T) {
	store, err := badgerdb.New(badgerdb.Options{InMemory: true, Limits: primary.Limits{MaxInValues: 10, MaxBatchWrites: 2}})
	require.NoError(t, err)
	defer store.Close()

	repo := primary.New[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate](poisonDriver{store}, "cards")
	ids, err := repo.BatchCreate(context.Background(), []fixtures.CardCreate{
		{Name: "a"}, {Name: "b"}, {Name: "poison"}, {Name: "c"}, {Name: "d"},
	})
	require.Error(t, err)
	assert.Len(t, ids, 3)

	n, err := repo.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func ids[T entity.Entity](items []T) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.GetID()
	}
	return out
}
