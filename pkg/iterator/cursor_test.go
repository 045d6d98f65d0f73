package iterator_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/dualrepo/internal/fixtures"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/iterator"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/primary/badgerdb"
	"github.com/cardvault/dualrepo/pkg/query"
)

type cardRepo = primary.Repository[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate]

func newCards(t *testing.T, n int) (*cardRepo, []string) {
	t.Helper()
	store, err := badgerdb.New(badgerdb.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := fixtures.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	seq := 0
	repo := primary.New[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate](store, "cards",
		primary.WithClock(clock.Now),
		primary.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("card-%04d", seq)
		}),
	)

	creates := make([]fixtures.CardCreate, n)
	for i := range creates {
		creates[i] = fixtures.CardCreate{Name: fmt.Sprintf("card %d", i), Price: float64(i % 7)}
	}
	ids, err := repo.BatchCreate(context.Background(), creates)
	require.NoError(t, err)
	return repo, ids
}

func TestCursorVisitsEveryRowOnce(t *testing.T) {
	repo, ids := newCards(t, 23)

	seen := map[string]int{}
	pages := 0
	res, err := iterator.NewCursor[fixtures.Card](repo).BatchSize(5).
		IterateBatch(context.Background(), func(_ context.Context, batch []fixtures.Card) (bool, error) {
			pages++
			for _, c := range batch {
				seen[c.ID]++
			}
			return false, nil
		})
	require.NoError(t, err)

	assert.True(t, res.Finished)
	assert.Equal(t, 23, res.TotalNumberOfResults)
	assert.Equal(t, ids[len(ids)-1], res.LastProcessedID)
	assert.Equal(t, 5, pages)
	require.Len(t, seen, 23)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestCursorExactMultipleReadsTrailingEmptyPage(t *testing.T) {
	repo, _ := newCards(t, 10)

	pages := 0
	res, err := iterator.NewCursor[fixtures.Card](repo).BatchSize(5).
		IterateBatch(context.Background(), func(_ context.Context, batch []fixtures.Card) (bool, error) {
			pages++
			return false, nil
		})
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, 10, res.TotalNumberOfResults)
	assert.Equal(t, 2, pages)
}

func TestCursorStop(t *testing.T) {
	repo, ids := newCards(t, 20)

	pages := 0
	res, err := iterator.NewCursor[fixtures.Card](repo).BatchSize(4).
		IterateBatch(context.Background(), func(_ context.Context, batch []fixtures.Card) (bool, error) {
			pages++
			return pages == 2, nil
		})
	require.NoError(t, err)

	assert.False(t, res.Finished)
	assert.Equal(t, 2, pages)
	assert.Equal(t, 8, res.TotalNumberOfResults)
	assert.Equal(t, ids[7], res.LastProcessedID)

	// Resuming after the last processed row visits the rest.
	rest, err := iterator.NewCursor[fixtures.Card](repo).BatchSize(4).StartAfter(res.LastProcessedID).
		IterateBatch(context.Background(), func(context.Context, []fixtures.Card) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.True(t, rest.Finished)
	assert.Equal(t, 12, rest.TotalNumberOfResults)
}

func TestCursorFiltersAndSorts(t *testing.T) {
	repo, _ := newCards(t, 30)

	var prices []float64
	res, err := iterator.NewCursor[fixtures.Card](repo).
		BatchSize(3).
		Queries(query.Le("price", 1)).
		Sort(query.Desc("price")).
		IterateBatch(context.Background(), func(_ context.Context, batch []fixtures.Card) (bool, error) {
			for _, c := range batch {
				prices = append(prices, c.Price)
			}
			return false, nil
		})
	require.NoError(t, err)
	assert.True(t, res.Finished)
	// prices 0 and 1 appear for i%7 in {0,1}: 5 and 5 rows.
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 0, 0, 0, 0, 0}, prices)
}

func TestCursorConsumerError(t *testing.T) {
	repo, _ := newCards(t, 10)
	boom := errors.New("boom")

	res, err := iterator.NewCursor[fixtures.Card](repo).BatchSize(4).
		IterateBatch(context.Background(), func(context.Context, []fixtures.Card) (bool, error) {
			return false, boom
		})
	require.ErrorIs(t, err, boom)
	assert.False(t, res.Finished)
	assert.Equal(t, 4, res.TotalNumberOfResults)
}

func TestCursorIterateIsolatesFailures(t *testing.T) {
	repo, ids := newCards(t, 12)
	bad := map[string]bool{ids[2]: true, ids[9]: true}

	var visited atomic.Int32
	res, err := iterator.NewCursor[fixtures.Card](repo).BatchSize(5).
		Iterate(context.Background(), func(_ context.Context, c fixtures.Card) error {
			visited.Add(1)
			if bad[c.ID] {
				return fmt.Errorf("cannot process %s", c.ID)
			}
			return nil
		})
	require.NoError(t, err)

	assert.True(t, res.Finished)
	assert.Equal(t, int32(12), visited.Load())
	assert.Equal(t, 12, res.TotalNumberOfResults)
	assert.Equal(t, 2, res.Failed)
	assert.ElementsMatch(t, []string{ids[2], ids[9]}, res.FailedIDs)
}

func TestCursorInvalidBatchSize(t *testing.T) {
	_, err := iterator.NewCursor[fixtures.Card](&scriptedSource{}).BatchSize(0).
		IterateBatch(context.Background(), func(context.Context, []fixtures.Card) (bool, error) { return false, nil })
	require.Error(t, err)
}

// scriptedSource serves pages of generated cards and records whether two
// reads ever overlapped.
type scriptedSource struct {
	total      int
	inFlight   atomic.Int32
	overlapped atomic.Bool
	cursors    []string
}

func (s *scriptedSource) GetMany(_ context.Context, _ []query.Query, opts query.Options) ([]fixtures.Card, error) {
	if s.inFlight.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	defer s.inFlight.Add(-1)
	time.Sleep(time.Millisecond)

	s.cursors = append(s.cursors, opts.StartAfterID)
	start := 0
	if opts.StartAfterID != "" {
		_, _ = fmt.Sscanf(opts.StartAfterID, "c%d", &start)
		start++
	}
	var out []fixtures.Card
	for i := start; i < s.total && len(out) < opts.Limit; i++ {
		out = append(out, fixtures.Card{Meta: entity.Meta{ID: fmt.Sprintf("c%d", i)}})
	}
	return out, nil
}

func TestCursorPagesAreSequential(t *testing.T) {
	src := &scriptedSource{total: 9}

	res, err := iterator.NewCursor[fixtures.Card](src).BatchSize(2).
		IterateBatch(context.Background(), func(context.Context, []fixtures.Card) (bool, error) { return false, nil })
	require.NoError(t, err)

	assert.False(t, src.overlapped.Load())
	assert.Equal(t, []string{"", "c1", "c3", "c5", "c7"}, src.cursors)
	assert.Equal(t, 9, res.TotalNumberOfResults)
	assert.Equal(t, "c8", res.LastProcessedID)
}

func TestCursorStopsOnCanceledContext(t *testing.T) {
	src := &scriptedSource{total: 100}
	ctx, cancel := context.WithCancel(context.Background())

	res, err := iterator.NewCursor[fixtures.Card](src).BatchSize(10).
		IterateBatch(ctx, func(context.Context, []fixtures.Card) (bool, error) {
			cancel()
			return false, nil
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, res.TotalNumberOfResults)
	assert.False(t, res.Finished)
}
