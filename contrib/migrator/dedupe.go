package migrator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/cardvault/dualrepo/pkg/singleresult"
)

// scheduleParser accepts five field cron expressions and descriptors such
// as "@hourly" or "@every 5m".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (a *App) resolver() *singleresult.Resolver {
	resolver := singleresult.NewResolver(a.builder.Jobs(a.primary), singleresult.WithLogger(a.log))
	for _, collection := range a.config.Collections {
		singleresult.Register[Record](resolver, a.records(collection))
	}
	return resolver
}

// Dedupe processes the pending duplicate jobs of the configured
// collections. Without a schedule it runs once and returns the summary;
// with one it runs on every tick until ctx is done and returns the summary
// of all runs.
func (a *App) Dedupe(ctx context.Context, c *DedupeCommand) (singleresult.Summary, error) {
	resolver := a.resolver()
	if c.Schedule == "" {
		return resolver.ProcessPending(ctx)
	}

	var total singleresult.Summary
	scheduler := cron.New(cron.WithParser(scheduleParser))
	// A tick is dropped while the previous run is still going.
	_, err := scheduler.AddJob(c.Schedule, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		sum, err := resolver.ProcessPending(ctx)
		if err != nil {
			a.log.Error().Err(err).Msg("scheduled dedupe failed")
			return
		}
		total.Resolved += sum.Resolved
		total.Failed += sum.Failed
	})))
	if err != nil {
		return total, fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}

	a.log.Info().Str("schedule", c.Schedule).Msg("dedupe scheduler started")
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	a.log.Info().Int("resolved", total.Resolved).Int("failed", total.Failed).Msg("dedupe scheduler stopped")
	return total, nil
}
