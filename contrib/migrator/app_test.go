package migrator

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/cardvault/dualrepo/contrib/testenv"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/primary/badgerdb"
	"github.com/cardvault/dualrepo/pkg/singleresult"
)

type AppTestSuite struct {
	suite.Suite
	ctx  context.Context
	logs *bytes.Buffer
	app  *App
}

func TestAppTestSuite(t *testing.T) {
	suite.Run(t, new(AppTestSuite))
}

func (s *AppTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.logs = &bytes.Buffer{}
	app, err := New(s.ctx, &Config{
		Primary:     PrimaryConfig{Driver: "badger"},
		Secondary:   SecondaryConfig{Driver: "memory"},
		Collections: []string{"cards"},
		BatchSize:   2,
	}, WithLogger(testenv.NewLogger(testenv.WithOutput(s.logs), testenv.WithIgnoreDebug())))
	s.Require().NoError(err)
	s.app = app
}

func (s *AppTestSuite) TearDownTest() {
	s.Require().NoError(s.app.Close())
}

func (s *AppTestSuite) seed(ids ...string) {
	records := s.app.records("cards")
	for _, id := range ids {
		_, err := records.CreateWithID(s.ctx, id, Fields{"name": "card " + id, "price": 1.5})
		s.Require().NoError(err)
	}
}

func (s *AppTestSuite) TestBackfillCopiesMissingRecords() {
	s.seed("a", "b", "c", "d", "e")
	mirrors := s.app.mirrors("cards")
	_, err := mirrors.CreateLinked(s.ctx, "b", Fields{"name": "card b", "price": 1.5})
	s.Require().NoError(err)

	reports, err := s.app.Backfill(s.ctx, &BackfillCommand{})
	s.Require().NoError(err)
	s.Equal([]BackfillReport{{
		Collection:      "cards",
		Scanned:         5,
		Created:         4,
		LastProcessedID: "e",
		Finished:        true,
	}}, reports)

	mirror, err := mirrors.GetOneByLegacyID(s.ctx, "d")
	s.Require().NoError(err)
	s.Require().NotNil(mirror)
	s.Equal("card d", mirror.Fields["name"])
	s.Equal(1.5, mirror.Fields["price"])
	s.Equal("d", mirror.GetLegacyID())

	n, err := mirrors.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(5, n)

	again, err := s.app.Backfill(s.ctx, &BackfillCommand{})
	s.Require().NoError(err)
	s.Zero(again[0].Created)
}

func (s *AppTestSuite) TestBackfillStartAfter() {
	s.seed("a", "b", "c")

	reports, err := s.app.Backfill(s.ctx, &BackfillCommand{StartAfter: "a"})
	s.Require().NoError(err)
	s.Equal(2, reports[0].Scanned)
	s.Equal(2, reports[0].Created)

	missing, err := s.app.mirrors("cards").GetOneByLegacyID(s.ctx, "a")
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *AppTestSuite) TestVerify() {
	s.seed("a", "b")

	reports, err := s.app.Verify(s.ctx, &VerifyCommand{})
	s.ErrorIs(err, ErrOutOfSync)
	s.Equal([]VerifyReport{{Collection: "cards", Primary: 2}}, reports)
	s.Contains(s.logs.String(), "WARN: collection out of sync")

	_, err = s.app.Backfill(s.ctx, &BackfillCommand{})
	s.Require().NoError(err)
	_, err = s.app.mirrors("cards").Create(s.ctx, Fields{"name": "secondary only"})
	s.Require().NoError(err)

	reports, err = s.app.Verify(s.ctx, &VerifyCommand{})
	s.Require().NoError(err)
	s.Equal([]VerifyReport{{Collection: "cards", Primary: 2, Secondary: 3, Linked: 2}}, reports)
}

func (s *AppTestSuite) duplicate(name string, ids ...string) {
	records := s.app.records("cards")
	for _, id := range ids {
		_, err := records.CreateWithID(s.ctx, id, Fields{"name": name})
		s.Require().NoError(err)
	}
	querier := singleresult.NewQuerier(s.app.builder.Jobs(s.app.primary))
	_, err := singleresult.Query[Record](s.ctx, querier, records, map[string]any{"name": name}, "by name")
	s.Require().NoError(err)
	querier.Wait()
}

func (s *AppTestSuite) TestDedupeOnce() {
	s.duplicate("pikachu", "a", "b", "c")

	sum, err := s.app.Dedupe(s.ctx, &DedupeCommand{})
	s.Require().NoError(err)
	s.Equal(singleresult.Summary{Resolved: 1}, sum)

	left, err := s.app.records("cards").Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(1, left)
}

func (s *AppTestSuite) TestDedupeOnSchedule() {
	s.duplicate("eevee", "a", "b")

	ctx, cancel := context.WithTimeout(s.ctx, 2500*time.Millisecond)
	defer cancel()
	sum, err := s.app.Dedupe(ctx, &DedupeCommand{Schedule: "@every 1s"})
	s.Require().NoError(err)
	s.Equal(1, sum.Resolved)
	s.Contains(s.logs.String(), "INFO: dedupe scheduler stopped")
}

func TestMainBackfillThenVerify(t *testing.T) {
	dir := t.TempDir()
	badgerPath := filepath.Join(dir, "primary")
	t.Setenv("DUALREPO_PRIMARY_BADGER_PATH", badgerPath)
	t.Setenv("DUALREPO_SECONDARY_SQLITE_DSN", "file:"+filepath.Join(dir, "secondary.db"))
	t.Setenv("DUALREPO_LOG_LEVEL", "error")

	store, err := badgerdb.New(badgerdb.Options{Path: badgerPath})
	if err != nil {
		t.Fatal(err)
	}
	records := primary.New[Record, Fields, Fields](store, "cards")
	for _, id := range []string{"a", "b", "c"} {
		if _, err := records.CreateWithID(context.Background(), id, Fields{"name": id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := Main(ctx, []string{"-collection", "cards", "verify"}); err == nil {
		t.Fatal("verify passed before backfill")
	}
	if err := Main(ctx, []string{"-collection", "cards", "backfill"}); err != nil {
		t.Fatal(err)
	}
	if err := Main(ctx, []string{"-collection", "cards", "verify"}); err != nil {
		t.Fatal(err)
	}
}
