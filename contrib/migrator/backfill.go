package migrator

import (
	"context"
	"fmt"

	"github.com/cardvault/dualrepo/pkg/iterator"
)

// BackfillReport summarizes the backfill of one collection.
type BackfillReport struct {
	Collection string
	// Scanned counts the primary records read.
	Scanned int
	// Created counts the mirrors written.
	Created int
	// LastProcessedID can be passed to -start-after to resume an
	// interrupted backfill.
	LastProcessedID string
	Finished        bool
}

// Backfill runs the backfill of every configured collection in turn and
// stops at the first failing one.
func (a *App) Backfill(ctx context.Context, c *BackfillCommand) ([]BackfillReport, error) {
	reports := make([]BackfillReport, 0, len(a.config.Collections))
	for _, collection := range a.config.Collections {
		report, err := a.backfill(ctx, collection, c.StartAfter)
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("backfill of %s stopped after %q: %w", collection, report.LastProcessedID, err)
		}
	}
	return reports, nil
}

func (a *App) backfill(ctx context.Context, collection, startAfter string) (BackfillReport, error) {
	log := a.log.With().Str("collection", collection).Logger()
	records := a.records(collection)
	mirrors := a.mirrors(collection)
	report := BackfillReport{Collection: collection}

	res, err := iterator.NewCursor[Record](records).
		BatchSize(a.config.BatchSize).
		StartAfter(startAfter).
		Logger(log).
		IterateBatch(ctx, func(ctx context.Context, batch []Record) (bool, error) {
			ids := make([]string, len(batch))
			for i, r := range batch {
				ids[i] = r.ID
			}
			linked, err := mirrors.GetManyByLegacyID(ctx, ids)
			if err != nil {
				return false, err
			}
			mirrored := make(map[string]struct{}, len(linked))
			for _, m := range linked {
				mirrored[m.GetLegacyID()] = struct{}{}
			}

			var values []Fields
			var legacyIDs []string
			for _, r := range batch {
				if _, ok := mirrored[r.ID]; ok {
					continue
				}
				values = append(values, r.Fields)
				legacyIDs = append(legacyIDs, r.ID)
			}
			if len(values) == 0 {
				return false, nil
			}
			keys, err := mirrors.BatchCreateLinked(ctx, values, legacyIDs)
			report.Created += len(keys)
			if err != nil {
				return false, err
			}
			log.Info().Int("scanned", len(batch)).Int("created", len(keys)).Msg("page backfilled")
			return false, nil
		})
	report.Scanned = res.TotalNumberOfResults
	report.LastProcessedID = res.LastProcessedID
	report.Finished = res.Finished
	if err != nil {
		log.Error().Err(err).Str("last", res.LastProcessedID).Msg("backfill stopped")
		return report, err
	}
	log.Info().Int("scanned", report.Scanned).Int("created", report.Created).Msg("backfill done")
	return report, nil
}
