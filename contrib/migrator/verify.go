package migrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
)

// ErrOutOfSync is returned by Verify when a collection has primary records
// without a mirror, or mirrors without a primary record.
var ErrOutOfSync = errors.New("stores out of sync")

// VerifyReport holds the counts of one collection.
type VerifyReport struct {
	Collection string
	Primary    int
	Secondary  int
	// Linked counts the mirrors carrying a legacy id.
	Linked int
}

// InSync reports whether there are as many linked mirrors as primary
// records. Mirrors without a legacy id are not compared.
func (r VerifyReport) InSync() bool {
	return r.Primary == r.Linked
}

// Verify counts the records of every configured collection in both stores.
// It returns the reports and ErrOutOfSync when any collection differs.
func (a *App) Verify(ctx context.Context, _ *VerifyCommand) ([]VerifyReport, error) {
	reports := make([]VerifyReport, len(a.config.Collections))
	g, ctx := errgroup.WithContext(ctx)
	for i, collection := range a.config.Collections {
		g.Go(func() error {
			r, err := a.verify(ctx, collection)
			reports[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, r := range reports {
		log := a.log.With().Str("collection", r.Collection).
			Int("primary", r.Primary).Int("secondary", r.Secondary).Int("linked", r.Linked).Logger()
		if r.InSync() {
			log.Info().Msg("collection in sync")
			continue
		}
		log.Warn().Msg("collection out of sync")
		out = append(out, r.Collection)
	}
	if len(out) > 0 {
		return reports, fmt.Errorf("%w: %v", ErrOutOfSync, out)
	}
	return reports, nil
}

func (a *App) verify(ctx context.Context, collection string) (VerifyReport, error) {
	r := VerifyReport{Collection: collection}
	mirrors := a.mirrors(collection)
	var err error
	if r.Primary, err = a.records(collection).Count(ctx, nil); err != nil {
		return r, err
	}
	if r.Secondary, err = mirrors.Count(ctx, nil); err != nil {
		return r, err
	}
	if r.Linked, err = mirrors.Count(ctx, []query.Query{query.Ne(entity.FieldLegacyID, "")}); err != nil {
		return r, err
	}
	return r, nil
}
