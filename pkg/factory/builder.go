package factory

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/pkg/dualwrite"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/secondary"
	"github.com/cardvault/dualrepo/pkg/singleresult"
	"github.com/cardvault/dualrepo/pkg/stats"
)

// Builder creates repositories sharing one stats logger, logger and clock.
// It is built once at startup together with the drivers and passed to
// whatever needs to create repositories.
type Builder struct {
	stats stats.Logger
	log   zerolog.Logger
	clock func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

func WithStats(l stats.Logger) BuilderOption {
	return func(b *Builder) { b.stats = l }
}

func WithLogger(l zerolog.Logger) BuilderOption {
	return func(b *Builder) { b.log = l }
}

func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.clock = now }
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{stats: stats.Noop, log: zerolog.Nop(), clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Logger returns the builder's logger.
func (b *Builder) Logger() zerolog.Logger { return b.log }

func (b *Builder) logger(collection string) zerolog.Logger {
	return b.log.With().Str("collection", collection).Logger()
}

// Primary returns a primary repository of collection on driver.
func Primary[T entity.Entity, C, U any](b *Builder, driver primary.Driver, collection string) *primary.Repository[T, C, U] {
	return primary.New[T, C, U](driver, collection,
		primary.WithStats(b.stats),
		primary.WithLogger(b.logger(collection)),
		primary.WithClock(b.clock),
	)
}

// Secondary returns a secondary repository of collection on driver.
func Secondary[T entity.SecondaryEntity, C, U any](b *Builder, driver secondary.Driver, collection string) *secondary.Repository[T, C, U] {
	return secondary.New[T, C, U](driver, collection,
		secondary.WithStats(b.stats),
		secondary.WithLogger(b.logger(collection)),
		secondary.WithClock(b.clock),
	)
}

// DualWrite returns an orchestrator over p and s.
func DualWrite[T entity.Entity, C, U any, S entity.SecondaryEntity, SC, SU any](
	b *Builder,
	p *primary.Repository[T, C, U],
	s *secondary.Repository[S, SC, SU],
	convert dualwrite.Converter[C, U, SC, SU],
) (*dualwrite.Orchestrator[T, C, U, S, SC, SU], error) {
	return dualwrite.New(p, s, convert, dualwrite.WithLogger(b.log))
}

// Jobs returns the duplicate job repository on driver.
func (b *Builder) Jobs(driver primary.Driver) *singleresult.Jobs {
	return singleresult.NewJobs(driver,
		primary.WithStats(b.stats),
		primary.WithLogger(b.logger(singleresult.DefaultJobCollection)),
		primary.WithClock(b.clock),
	)
}
