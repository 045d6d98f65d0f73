package migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequiresSubcommand(t *testing.T) {
	_, _, err := Parse([]string{"-collection", "cards"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subcommand required")

	_, _, err = Parse([]string{"migrate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: migrate")
}

func TestParseFlagsOverrideConfig(t *testing.T) {
	t.Setenv("DUALREPO_COLLECTIONS", "users")
	t.Setenv("DUALREPO_SECONDARY_DRIVER", "memory")

	cmd, cfg, err := Parse([]string{
		"-collection", "cards",
		"-collection", "decks",
		"-batch-size", "50",
		"-start-after", "c-10",
		"backfill",
	})
	require.NoError(t, err)
	assert.Equal(t, &BackfillCommand{StartAfter: "c-10"}, cmd)
	assert.Equal(t, "backfill", cmd.Name())
	assert.Equal(t, []string{"cards", "decks"}, cfg.Collections)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, "memory", cfg.Secondary.Driver)
}

func TestParseDedupeSchedule(t *testing.T) {
	t.Setenv("DUALREPO_COLLECTIONS", "cards")
	t.Setenv("DUALREPO_SCHEDULE", "@hourly")

	cmd, _, err := Parse([]string{"dedupe"})
	require.NoError(t, err)
	assert.Equal(t, &DedupeCommand{Schedule: "@hourly"}, cmd)

	cmd, _, err = Parse([]string{"-schedule", "*/5 * * * *", "dedupe"})
	require.NoError(t, err)
	assert.Equal(t, &DedupeCommand{Schedule: "*/5 * * * *"}, cmd)
}

func TestParseValidatesMergedConfig(t *testing.T) {
	t.Setenv("DUALREPO_COLLECTIONS", "")

	_, _, err := Parse([]string{"verify"})
	require.Error(t, err)

	_, _, err = Parse([]string{"-collection", "cards", "-batch-size", "1000", "verify"})
	require.Error(t, err)

	cmd, _, err := Parse([]string{"-collection", "cards", "verify"})
	require.NoError(t, err)
	assert.Equal(t, &VerifyCommand{}, cmd)
}
