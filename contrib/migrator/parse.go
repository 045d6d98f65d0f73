package migrator

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const usage = `subcommand required

Usage: migrator [flags] <command>

Commands:
  backfill  Copy primary records without a mirror to the secondary store
  verify    Compare record counts of both stores
  dedupe    Resolve duplicates found by single result queries

Examples:
  migrator -config migrator.yaml backfill
  migrator -collection cards -collection decks verify
  migrator -start-after 6f1c0b9e-5b1a-4f7e-8d2c-3c0e2a9d8e11 backfill
  migrator -schedule "@every 5m" dedupe

Every setting can also be given as a DUALREPO_ environment variable, for
example DUALREPO_SECONDARY_DRIVER=surrealdb.`

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Parse parses command line arguments into the command to run and the
// configuration. Flags override the configuration file and environment.
func Parse(args []string) (Command, *Config, error) {
	flagSet := flag.NewFlagSet("migrator", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var collections stringList
	var (
		configPath = flagSet.String("config", "", "Configuration file (yaml, json or toml)")
		batchSize  = flagSet.Int("batch-size", 0, "Rows read per page, at most 500")
		startAfter = flagSet.String("start-after", "", "Resume backfill after this primary id")
		schedule   = flagSet.String("schedule", "", "Cron schedule of dedupe, for example \"@every 5m\"")
		metrics    = flagSet.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	)
	flagSet.Var(&collections, "collection", "Collection to process, repeatable")

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}
	remainingArgs := flagSet.Args()
	if len(remainingArgs) == 0 {
		return nil, nil, errors.New(usage)
	}

	var cmd Command
	switch remainingArgs[0] {
	case "backfill":
		cmd = &BackfillCommand{StartAfter: *startAfter}
	case "verify":
		cmd = &VerifyCommand{}
	case "dedupe":
		cmd = &DedupeCommand{}
	default:
		return nil, nil, fmt.Errorf("unknown command: %s\n\nValid commands: backfill, verify, dedupe", remainingArgs[0])
	}

	config, err := readConfig(*configPath)
	if err != nil {
		return nil, nil, err
	}
	if len(collections) > 0 {
		config.Collections = collections
	}
	if *batchSize != 0 {
		config.BatchSize = *batchSize
	}
	if *schedule != "" {
		config.Schedule = *schedule
	}
	if *metrics != "" {
		config.MetricsAddr = *metrics
	}
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}
	if c, ok := cmd.(*DedupeCommand); ok {
		c.Schedule = config.Schedule
	}
	return cmd, config, nil
}
