// Package dualrepo is a typed persistence layer over two document stores,
// built for moving live traffic from one store to the other.
//
// The primary store is the system of record. Entities there are addressed by
// client generated UUIDs and read and written through
// [github.com/cardvault/dualrepo/pkg/primary.Repository]. The secondary
// store assigns its own keys; its records keep the primary id in a legacyId
// field, and [github.com/cardvault/dualrepo/pkg/secondary.Repository] can
// look them up by either.
//
// While the migration runs, writes go through
// [github.com/cardvault/dualrepo/pkg/dualwrite.Orchestrator], which applies
// them to both stores. The primary result is returned to the caller; the
// secondary write is best effort and logged when it fails. Existing data is
// copied with the backfill command of the migrator in
// [github.com/cardvault/dualrepo/contrib/migrator].
//
// Drivers:
//
//   - primary: Badger (embedded) and DynamoDB
//   - secondary: SurrealDB, SQLite and an in-memory store for tests
//
// Repository operations report reads, writes and deletes to a
// [github.com/cardvault/dualrepo/pkg/stats.Logger], which can export them as
// Prometheus metrics.
package dualrepo

// Version is the version of the module.
const Version = "0.1.0"
