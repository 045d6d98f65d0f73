package singleresult

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/dualrepo/pkg/primary/badgerdb"
)

func TestRecordStoresTheKeyedSet(t *testing.T) {
	store, err := badgerdb.New(badgerdb.Options{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	jobs := NewJobs(store)
	q := NewQuerier(jobs)
	require.NoError(t, q.record(ctx, "cards", "by name", []string{"c2", "c1", "c2"}))

	job, err := jobs.GetOne(ctx, JobID(IdempotencyKey("cards", []string{"c1", "c2"})))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "cards:c1,c2", job.IdempotencyKey)
	assert.Equal(t, []string{"c1", "c2"}, job.DuplicateEntityIDs)
}
