// Package stats defines the callback repositories use to report how many
// documents each logical operation read, wrote or deleted.
package stats

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event describes the documents touched by one logical operation, or by one
// chunk of a chunked batch operation.
type Event struct {
	Collection string
	Reads      int
	Writes     int
	Deletes    int
}

// Logger receives operation counts.
type Logger interface {
	Log(e Event)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(e Event)

func (f LoggerFunc) Log(e Event) { f(e) }

// Noop discards every event.
var Noop Logger = LoggerFunc(func(Event) {})

// Multi forwards each event to every logger in order.
type Multi []Logger

func (m Multi) Log(e Event) {
	for _, l := range m {
		l.Log(e)
	}
}

// Zerolog writes every event as a debug line.
type Zerolog struct {
	logger zerolog.Logger
}

func NewZerolog(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

func (z *Zerolog) Log(e Event) {
	z.logger.Debug().
		Str("collection", e.Collection).
		Int("reads", e.Reads).
		Int("writes", e.Writes).
		Int("deletes", e.Deletes).
		Msg("repository operation")
}

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Totals sums the recorded events per collection.
func (r *Recorder) Totals() map[string]Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]Event{}
	for _, e := range r.events {
		t := out[e.Collection]
		t.Collection = e.Collection
		t.Reads += e.Reads
		t.Writes += e.Writes
		t.Deletes += e.Deletes
		out[e.Collection] = t
	}
	return out
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
