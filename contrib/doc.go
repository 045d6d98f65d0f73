// Package contrib holds the tools built on top of the repositories.
//
// [github.com/cardvault/dualrepo/contrib/migrator] is the command line tool
// that backfills, verifies and deduplicates collections during a migration.
// [github.com/cardvault/dualrepo/contrib/testenv] provides the integration
// test connections and a deterministic log writer for example tests.
//
// Packages here may change without notice.
package contrib
