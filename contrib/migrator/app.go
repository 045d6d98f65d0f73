package migrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/cardvault/dualrepo/pkg/factory"
	"github.com/cardvault/dualrepo/pkg/logger"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/primary/badgerdb"
	dynamostore "github.com/cardvault/dualrepo/pkg/primary/dynamodb"
	"github.com/cardvault/dualrepo/pkg/secondary"
	"github.com/cardvault/dualrepo/pkg/secondary/memory"
	"github.com/cardvault/dualrepo/pkg/secondary/sqlite"
	surrealstore "github.com/cardvault/dualrepo/pkg/secondary/surrealdb"
	"github.com/cardvault/dualrepo/pkg/stats"
)

// MetricsNamespace prefixes the repository metrics exported by the migrator.
const MetricsNamespace = "dualrepo"

// App holds the stores and collaborators shared by the commands.
type App struct {
	config    *Config
	log       zerolog.Logger
	registry  *prometheus.Registry
	builder   *factory.Builder
	primary   primary.Driver
	secondary secondary.Driver
	closers   []func() error
}

// Option configures an App.
type Option func(*App)

// WithLogger replaces the logger built from the log configuration.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New opens the configured stores.
func New(ctx context.Context, config *Config, opts ...Option) (*App, error) {
	app := &App{config: config, registry: prometheus.NewRegistry()}
	if err := app.open(ctx, opts); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context, opts []Option) (err error) {
	build := logger.New().
		FromPath(a.config.Log.Path).
		Level(a.config.Log.Level).
		With("app", "migrator")
	if a.config.Log.Console {
		build = build.Console()
	}
	logData, err := build.Make()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, logData.Close)
	a.log = logData.Logger
	for _, opt := range opts {
		opt(a)
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.builder = factory.NewBuilder(
		factory.WithLogger(a.log),
		factory.WithStats(stats.Multi{
			stats.NewPrometheus(a.registry, MetricsNamespace),
			stats.NewZerolog(a.log),
		}),
	)

	if a.primary, err = a.openPrimary(ctx); err != nil {
		return err
	}
	a.secondary, err = a.openSecondary(ctx)
	return err
}

func (a *App) openPrimary(ctx context.Context) (primary.Driver, error) {
	c := a.config.Primary
	switch c.Driver {
	case "badger":
		store, err := badgerdb.New(badgerdb.Options{Path: c.Badger.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.log.Info().Str("path", c.Badger.Path).Msg("primary store: badger")
		return store, nil
	case "dynamodb":
		client, err := newDynamoDBClient(ctx, c.DynamoDB)
		if err != nil {
			return nil, err
		}
		store := dynamostore.New(client, c.DynamoDB.Table)
		if c.DynamoDB.CreateTable {
			if err := store.EnsureTable(ctx); err != nil {
				return nil, fmt.Errorf("failed to create table %s: %w", c.DynamoDB.Table, err)
			}
		}
		a.log.Info().Str("table", c.DynamoDB.Table).Str("region", c.DynamoDB.Region).Msg("primary store: dynamodb")
		return store, nil
	}
	return nil, fmt.Errorf("unknown primary driver %q", c.Driver)
}

func newDynamoDBClient(ctx context.Context, c DynamoDBConfig) (*awsdynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsdynamodb.NewFromConfig(cfg, func(o *awsdynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}

func (a *App) openSecondary(ctx context.Context) (secondary.Driver, error) {
	c := a.config.Secondary
	switch c.Driver {
	case "memory":
		a.log.Warn().Msg("secondary store: memory, nothing is persisted")
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.Open(ctx, c.SQLite.DSN, a.log.With().Str("component", "gorm").Logger())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.log.Info().Str("dsn", c.SQLite.DSN).Msg("secondary store: sqlite")
		return store, nil
	case "surrealdb":
		db, err := surrealstore.Connect(ctx, c.SurrealDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return db.Close(context.Background()) })
		a.log.Info().Str("url", c.SurrealDB.URL).Str("namespace", c.SurrealDB.Namespace).Msg("secondary store: surrealdb")
		return surrealstore.New(db, surrealstore.WithLogger(a.log)), nil
	}
	return nil, fmt.Errorf("unknown secondary driver %q", c.Driver)
}

// Registry returns the registry holding the repository metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

func (a *App) records(collection string) *primary.Repository[Record, Fields, Fields] {
	return factory.Primary[Record, Fields, Fields](a.builder, a.primary, collection)
}

func (a *App) mirrors(collection string) *secondary.Repository[Mirror, Fields, Fields] {
	return factory.Secondary[Mirror, Fields, Fields](a.builder, a.secondary, collection)
}

// Close releases the stores in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
