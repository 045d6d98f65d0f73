// Package singleresult reads entities that are expected to be unique by a
// set of business fields, and cleans up the duplicates it comes across.
//
// [Query] returns the earliest created match. When it finds more than one
// match it records a [DuplicateResult] job in the background. A [Resolver]
// later processes the job: it keeps the earliest created entity and deletes
// the others.
package singleresult

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
)

// DefaultJobCollection is the collection duplicate jobs are stored in.
const DefaultJobCollection = "duplicateResults"

// State is the processing state of a DuplicateResult.
type State string

// A job moves from StateNotStarted to StateInProgress and then to
// StateSuccessful or StateFailed. Failed jobs stay for inspection and can be
// processed again.
const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateSuccessful State = "SUCCESSFUL"
	StateFailed     State = "FAILED"
)

// DuplicateResult records entities of one collection that share the business
// key a single-result query expected to be unique.
type DuplicateResult struct {
	entity.Meta
	State              State    `json:"state"`
	CollectionName     string   `json:"collectionName"`
	QueryName          string   `json:"queryName,omitempty"`
	DuplicateEntityIDs []string `json:"duplicateEntityIds"`
	IdempotencyKey     string   `json:"idempotencyKey"`
	SurvivorID         string   `json:"survivorId,omitempty"`
	DeletedEntityIDs   []string `json:"deletedEntityIds,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// DuplicateResultCreate is the create payload of DuplicateResult.
type DuplicateResultCreate struct {
	State              State    `json:"state"`
	CollectionName     string   `json:"collectionName"`
	QueryName          string   `json:"queryName,omitempty"`
	DuplicateEntityIDs []string `json:"duplicateEntityIds"`
	IdempotencyKey     string   `json:"idempotencyKey"`
}

// DuplicateResultUpdate is the update payload of DuplicateResult.
type DuplicateResultUpdate struct {
	State            *State   `json:"state,omitempty"`
	SurvivorID       *string  `json:"survivorId,omitempty"`
	DeletedEntityIDs []string `json:"deletedEntityIds,omitempty"`
	Error            *string  `json:"error,omitempty"`
}

// Jobs is the repository duplicate jobs are stored in.
type Jobs = primary.Repository[DuplicateResult, DuplicateResultCreate, DuplicateResultUpdate]

// NewJobs returns the job repository on driver.
func NewJobs(driver primary.Driver, opts ...primary.Option) *Jobs {
	return primary.New[DuplicateResult, DuplicateResultCreate, DuplicateResultUpdate](driver, DefaultJobCollection, opts...)
}

var jobNamespace = uuid.MustParse("7c0b5d4e-3f0a-4b8e-9a57-2f6a4d1c8e90")

// IdempotencyKey identifies a set of duplicates regardless of the order the
// ids were found in.
func IdempotencyKey(collection string, ids []string) string {
	return collection + ":" + strings.Join(duplicateSet(ids), ",")
}

// duplicateSet returns ids sorted and without repeats.
func duplicateSet(ids []string) []string {
	set := slices.Clone(ids)
	slices.Sort(set)
	return slices.Compact(set)
}

// JobID is the id of the job recording the duplicate set with the given
// idempotency key.
func JobID(idempotencyKey string) string {
	return uuid.NewSHA1(jobNamespace, []byte(idempotencyKey)).String()
}

func statePtr(s State) *State { return &s }
