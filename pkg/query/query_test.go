package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/dualrepo/pkg/constants"
)

func TestOptionsValidate(t *testing.T) {
	t.Run("both cursor markers", func(t *testing.T) {
		err := Options{StartAfterID: "a", StartAtID: "b"}.Validate()
		require.ErrorIs(t, err, constants.ErrInvalidArgument)
	})

	t.Run("negative limit", func(t *testing.T) {
		err := Options{Limit: -1}.Validate()
		require.ErrorIs(t, err, constants.ErrInvalidArgument)
	})

	t.Run("unknown order", func(t *testing.T) {
		err := Options{Sort: []Sort{{Field: "a", Order: "UP"}}}.Validate()
		require.ErrorIs(t, err, constants.ErrInvalidArgument)
	})

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, Options{Limit: 10, Sort: []Sort{Asc("a"), Desc("b")}, StartAtID: "x"}.Validate())
	})
}

func TestCursorID(t *testing.T) {
	id, inclusive := Options{StartAtID: "x"}.CursorID()
	assert.Equal(t, "x", id)
	assert.True(t, inclusive)

	id, inclusive = Options{StartAfterID: "y"}.CursorID()
	assert.Equal(t, "y", id)
	assert.False(t, inclusive)
}

func TestPage(t *testing.T) {
	assert.Equal(t, 40, Page{Size: 20, Index: 2}.Skip())
	assert.Equal(t, 0, Page{}.Skip())
	assert.NoError(t, Page{Size: 5}.Validate())
	assert.ErrorIs(t, Page{Size: -1}.Validate(), constants.ErrInvalidArgument)
	assert.ErrorIs(t, Page{Index: 1}.Validate(), constants.ErrInvalidArgument)
}

func TestQueryValidate(t *testing.T) {
	assert.NoError(t, In("id", []string{"a"}).Validate())
	assert.ErrorIs(t, In("id", "a").Validate(), constants.ErrInvalidArgument)
	assert.ErrorIs(t, Query{Field: "a", Op: "~"}.Validate(), constants.ErrInvalidArgument)
	assert.ErrorIs(t, Eq("", 1).Validate(), constants.ErrInvalidArgument)
	assert.ErrorIs(t, Validate([]Query{Eq("a", 1), ArrayContainsAny("b", 2)}), constants.ErrInvalidArgument)
}

func TestMatch(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	doc := map[string]any{
		"name":        "charizard",
		"price":       float64(120),
		"graded":      true,
		"tags":        []any{"holo", "base"},
		"dateCreated": created,
		"set":         map[string]any{"code": "BS"},
	}

	cases := []struct {
		name  string
		query Query
		want  bool
	}{
		{"eq string", Eq("name", "charizard"), true},
		{"eq int against float", Eq("price", 120), true},
		{"ne", Ne("name", "pikachu"), true},
		{"ne missing field", Ne("missing", "x"), false},
		{"lt", Lt("price", 200), true},
		{"le equal", Le("price", 120), true},
		{"gt", Gt("price", 200), false},
		{"ge mixed kinds", Ge("price", "100"), false},
		{"in", In("name", []string{"pikachu", "charizard"}), true},
		{"in miss", In("name", []string{"pikachu"}), false},
		{"array-contains", ArrayContains("tags", "holo"), true},
		{"array-contains miss", ArrayContains("tags", "promo"), false},
		{"array-contains-any", ArrayContainsAny("tags", []string{"promo", "base"}), true},
		{"nested path", Eq("set.code", "BS"), true},
		{"time against string", Eq("dateCreated", created.Format(time.RFC3339Nano)), true},
		{"time range", Lt("dateCreated", created.Add(time.Second)), true},
		{"bool", Eq("graded", true), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.query.Matches(doc))
		})
	}

	assert.True(t, Match(doc, nil))
	assert.False(t, Match(doc, []Query{Eq("name", "charizard"), Gt("price", 500)}))
}

func TestCompareDocuments(t *testing.T) {
	docs := []map[string]any{
		{"id": "c", "rank": 1},
		{"id": "a", "rank": 2},
		{"id": "b", "rank": 1},
	}
	compare := CompareDocuments([]Sort{Desc("rank")}, "id")
	assert.Negative(t, compare(docs[1], docs[0]))
	assert.Negative(t, compare(docs[2], docs[0]), "ties fall back to id")
	assert.Zero(t, compare(docs[0], docs[0]))

	assert.Negative(t, Compare(nil, false))
	assert.Negative(t, Compare(false, true))
	assert.Negative(t, Compare(3, "a"))
}
