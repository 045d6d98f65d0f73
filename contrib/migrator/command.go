package migrator

// Command is one migrator operation, carrying the options of that operation.
// Parse returns it and Main dispatches it to the matching App method.
type Command interface {
	// Name returns the sub-command name.
	Name() string
}

// BackfillCommand copies primary records that have no mirror into the
// secondary store, linking each copy to its primary id.
type BackfillCommand struct {
	// StartAfter resumes the scan after this primary id.
	StartAfter string
}

func (c *BackfillCommand) Name() string { return "backfill" }

// VerifyCommand compares the number of records in both stores.
type VerifyCommand struct{}

func (c *VerifyCommand) Name() string { return "verify" }

// DedupeCommand resolves the duplicate jobs recorded by single result
// queries. With a schedule it keeps running until the context is done.
type DedupeCommand struct {
	Schedule string
}

func (c *DedupeCommand) Name() string { return "dedupe" }
