package dualwrite_test

import (
	"context"
	"fmt"

	"github.com/cardvault/dualrepo/contrib/testenv"
	"github.com/cardvault/dualrepo/internal/fixtures"
	"github.com/cardvault/dualrepo/pkg/dualwrite"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/primary/badgerdb"
	"github.com/cardvault/dualrepo/pkg/secondary"
	"github.com/cardvault/dualrepo/pkg/secondary/memory"
)

func ExampleOrchestrator_UpdateOne() {
	ctx := context.Background()
	store, err := badgerdb.New(badgerdb.Options{InMemory: true})
	if err != nil {
		panic(err)
	}
	defer store.Close()

	cards := primary.New[fixtures.Card, fixtures.CardCreate, fixtures.CardUpdate](store, "cards")
	docs := secondary.New[fixtures.CardDoc, fixtures.CardDocCreate, fixtures.CardDocUpdate](memory.New(), "cards")
	writer, err := dualwrite.New(cards, docs,
		dualwrite.Converter[fixtures.CardCreate, fixtures.CardUpdate, fixtures.CardDocCreate, fixtures.CardDocUpdate]{
			ConvertCreate: fixtures.ToCardDocCreate,
			ConvertUpdate: fixtures.ToCardDocUpdate,
		},
		dualwrite.WithLogger(testenv.NewLogger(testenv.WithIgnoreDebug())),
	)
	if err != nil {
		panic(err)
	}

	// Written before dual writes were enabled, so it has no mirror yet.
	if _, err := cards.CreateWithID(ctx, "card-1", fixtures.CardCreate{Name: "mew"}); err != nil {
		panic(err)
	}

	updated, err := writer.UpdateOne(ctx, "card-1", fixtures.CardUpdate{Price: fixtures.Ptr(12.5)})
	if err != nil {
		panic(err)
	}
	fmt.Println(updated.Name, updated.Price)

	// Output:
	// [0] WARN: mirror record not found, skipping mirror update collection=cards, id=card-1, mirror=cards
	// mew 12.5
}
