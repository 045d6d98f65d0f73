package iterator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/dualrepo/internal/fixtures"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/iterator"
	"github.com/cardvault/dualrepo/pkg/query"
)

// pagedSource serves keys k0..k(rows-1) with skip/limit, reporting count as
// the number of matching rows.
type pagedSource struct {
	rows   int
	count  int
	counts int
	pages  []query.Page
}

func (s *pagedSource) Count(context.Context, []query.Query) (int, error) {
	s.counts++
	return s.count, nil
}

func (s *pagedSource) GetMany(_ context.Context, _ []query.Query, page query.Page, _ ...query.Sort) ([]fixtures.CardDoc, error) {
	s.pages = append(s.pages, page)
	var out []fixtures.CardDoc
	for i := page.Skip(); i < s.rows && len(out) < page.Size; i++ {
		out = append(out, fixtures.CardDoc{SecondaryMeta: entity.SecondaryMeta{Key: fmt.Sprintf("k%d", i)}})
	}
	return out, nil
}

func TestOffsetVisitsEveryRow(t *testing.T) {
	src := &pagedSource{rows: 11, count: 11}

	var keys []string
	res, err := iterator.NewOffset[fixtures.CardDoc](src).PageSize(4).
		IterateBatch(context.Background(), func(_ context.Context, batch []fixtures.CardDoc) (bool, error) {
			for _, d := range batch {
				keys = append(keys, d.Key)
			}
			return false, nil
		})
	require.NoError(t, err)

	assert.True(t, res.Finished)
	assert.Equal(t, 11, res.TotalNumberOfResults)
	assert.Equal(t, "k10", res.LastProcessedID)
	assert.Len(t, keys, 11)
	assert.Equal(t, 1, src.counts, "count is taken once")
	assert.Equal(t, []query.Page{{Size: 4, Index: 0}, {Size: 4, Index: 1}, {Size: 4, Index: 2}}, src.pages)
}

func TestOffsetStopsAtCount(t *testing.T) {
	// Rows inserted after the count was taken are not visited.
	src := &pagedSource{rows: 20, count: 8}

	res, err := iterator.NewOffset[fixtures.CardDoc](src).PageSize(4).
		IterateBatch(context.Background(), func(context.Context, []fixtures.CardDoc) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, 8, res.TotalNumberOfResults)
	assert.Len(t, src.pages, 2)
}

func TestOffsetStopsOnEmptyPage(t *testing.T) {
	// Rows deleted after the count was taken end the scan early.
	src := &pagedSource{rows: 5, count: 9}

	res, err := iterator.NewOffset[fixtures.CardDoc](src).PageSize(3).
		IterateBatch(context.Background(), func(context.Context, []fixtures.CardDoc) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, 5, res.TotalNumberOfResults)
	assert.Len(t, src.pages, 3)
}

func TestOffsetEmptyCollection(t *testing.T) {
	src := &pagedSource{}

	res, err := iterator.NewOffset[fixtures.CardDoc](src).
		IterateBatch(context.Background(), func(context.Context, []fixtures.CardDoc) (bool, error) {
			t.Fatal("consumer called on an empty collection")
			return false, nil
		})
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Empty(t, src.pages)
}

func TestOffsetStop(t *testing.T) {
	src := &pagedSource{rows: 10, count: 10}

	res, err := iterator.NewOffset[fixtures.CardDoc](src).PageSize(3).
		IterateBatch(context.Background(), func(context.Context, []fixtures.CardDoc) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.False(t, res.Finished)
	assert.Equal(t, 3, res.TotalNumberOfResults)
}

func TestOffsetIterateIsolatesFailures(t *testing.T) {
	src := &pagedSource{rows: 7, count: 7}

	res, err := iterator.NewOffset[fixtures.CardDoc](src).PageSize(3).
		Iterate(context.Background(), func(_ context.Context, d fixtures.CardDoc) error {
			if d.Key == "k4" {
				return errors.New("bad row")
			}
			return nil
		})
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, 7, res.TotalNumberOfResults)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"k4"}, res.FailedIDs)
}
