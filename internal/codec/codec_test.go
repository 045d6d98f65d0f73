package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type card struct {
	Name   string            `json:"name"`
	Price  *float64          `json:"price,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
	Seen   time.Time         `json:"seen"`
}

func TestToDocumentDropsOmittedFields(t *testing.T) {
	doc, err := ToDocument(card{Name: "mew"})
	require.NoError(t, err)
	assert.Equal(t, "mew", doc["name"])
	assert.NotContains(t, doc, "price")
	assert.NotContains(t, doc, "labels")

	empty, err := ToDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	var nilCard *card
	empty, err = ToDocument(nilCard)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFromDocumentRestoresTimes(t *testing.T) {
	seen := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	c, err := FromDocument[card](map[string]any{"name": "mew", "seen": seen})
	require.NoError(t, err)
	assert.True(t, seen.Equal(c.Seen))
}

func TestFlattenAndMerge(t *testing.T) {
	flat := Flatten(map[string]any{
		"a": 1,
		"b": map[string]any{"c": 2, "d": map[string]any{"e": 3}},
		"f": map[string]any{},
	})
	assert.Equal(t, map[string]any{"a": 1, "b.c": 2, "b.d.e": 3, "f": map[string]any{}}, flat)

	dst := map[string]any{"b": map[string]any{"c": 0, "keep": true}, "z": "z"}
	Merge(dst, map[string]any{"b": map[string]any{"c": 2}, "n": map[string]any{"x": 1}})
	assert.Equal(t, map[string]any{
		"b": map[string]any{"c": 2, "keep": true},
		"z": "z",
		"n": map[string]any{"x": 1},
	}, dst)
}

func TestCloneIsDeep(t *testing.T) {
	src := map[string]any{"m": map[string]any{"k": "v"}, "s": []any{map[string]any{"x": 1}}}
	dup := Clone(src)
	dup["m"].(map[string]any)["k"] = "changed"
	dup["s"].([]any)[0].(map[string]any)["x"] = 2
	assert.Equal(t, "v", src["m"].(map[string]any)["k"])
	assert.Equal(t, 1, src["s"].([]any)[0].(map[string]any)["x"])
}
