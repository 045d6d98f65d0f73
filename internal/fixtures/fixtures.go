// Package fixtures holds the entity types and helpers shared by the
// repository test suites.
package fixtures

import (
	"sync"
	"time"

	"github.com/cardvault/dualrepo/pkg/entity"
)

// SetInfo is a nested object used to exercise merge semantics.
type SetInfo struct {
	Code   string `json:"code,omitempty"`
	Series string `json:"series,omitempty"`
}

// Card is a primary entity.
type Card struct {
	entity.Meta
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Set   SetInfo  `json:"set"`
	Tags  []string `json:"tags,omitempty"`
}

// CardCreate is the create payload of Card.
type CardCreate struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Set   SetInfo  `json:"set"`
	Tags  []string `json:"tags,omitempty"`
}

// CardUpdate is the partial update payload of Card.
type CardUpdate struct {
	Name  *string  `json:"name,omitempty"`
	Price *float64 `json:"price,omitempty"`
	Set   *SetInfo `json:"set,omitempty"`
}

// CardDoc is the secondary shape of a Card.
type CardDoc struct {
	entity.SecondaryMeta
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

// CardDocCreate is the create payload of CardDoc.
type CardDocCreate struct {
	LegacyID *string `json:"legacyId,omitempty"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
}

// CardDocUpdate is the partial update payload of CardDoc.
type CardDocUpdate struct {
	LegacyID *string  `json:"legacyId,omitempty"`
	Title    *string  `json:"title,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// ToCardDocCreate converts a primary create payload to the secondary shape.
func ToCardDocCreate(c CardCreate) CardDocCreate {
	return CardDocCreate{Title: c.Name, Price: c.Price}
}

// ToCardDocUpdate converts a primary update payload to the secondary shape.
// Set changes have no secondary counterpart.
func ToCardDocUpdate(u CardUpdate) CardDocUpdate {
	return CardDocUpdate{Title: u.Name, Price: u.Price}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current time of the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
