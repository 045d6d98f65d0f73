package constants

// Limits of the reference document store. Drivers for other backends derive
// their own values and expose them through their Limits method.
const (
	// MaxInValues is the number of values accepted by a single "in" filter.
	MaxInValues = 10

	// MaxBatchWrites is the number of documents accepted by one atomic batch.
	MaxBatchWrites = 500
)

const (
	// DefaultBatchSize is the page size used by iterators when none is set.
	DefaultBatchSize = 500
)
