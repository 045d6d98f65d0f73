// Package migrator is the command line tool that moves a deployment from
// the primary store to the secondary one.
//
// Once every write goes through a dual-write orchestrator, the existing data
// still lives only in the primary store. The tool closes that gap:
//
//	migrator -collection cards backfill   # copy records that have no mirror
//	migrator -collection cards verify     # compare the record counts
//	migrator -collection cards dedupe     # resolve duplicate jobs
//
// Configuration comes from an optional file given with -config and from
// DUALREPO_ environment variables; see [Config].
package migrator

import (
	"context"
	"fmt"
)

// Main parses args, opens the stores and runs the command. It can be called
// from tests without building the binary.
func Main(ctx context.Context, args []string) error {
	cmd, config, err := Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	app, err := New(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	stop, err := app.ServeMetrics()
	if err != nil {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}
	defer stop()

	switch c := cmd.(type) {
	case *BackfillCommand:
		reports, err := app.Backfill(ctx, c)
		for _, r := range reports {
			app.log.Info().Str("collection", r.Collection).
				Int("scanned", r.Scanned).Int("created", r.Created).
				Str("last", r.LastProcessedID).Bool("finished", r.Finished).
				Msg("backfill report")
		}
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}
	case *VerifyCommand:
		if _, err := app.Verify(ctx, c); err != nil {
			return fmt.Errorf("verify failed: %w", err)
		}
	case *DedupeCommand:
		sum, err := app.Dedupe(ctx, c)
		if err != nil {
			return fmt.Errorf("dedupe failed: %w", err)
		}
		app.log.Info().Int("resolved", sum.Resolved).Int("failed", sum.Failed).Msg("dedupe report")
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
	return nil
}
