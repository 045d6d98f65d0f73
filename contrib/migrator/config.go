package migrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	surrealstore "github.com/cardvault/dualrepo/pkg/secondary/surrealdb"
)

// EnvPrefix prefixes every environment variable read by LoadConfig, for
// example DUALREPO_PRIMARY_DRIVER or DUALREPO_SECONDARY_SURREALDB_URL.
const EnvPrefix = "DUALREPO"

// Config holds the migrator configuration.
type Config struct {
	Primary     PrimaryConfig   `mapstructure:"primary" validate:"required"`
	Secondary   SecondaryConfig `mapstructure:"secondary" validate:"required"`
	Collections []string        `mapstructure:"collections" validate:"required,min=1,dive,required"`
	BatchSize   int             `mapstructure:"batch_size" validate:"gt=0,lte=500"`
	// Schedule is the cron schedule of the dedupe command. Empty runs it once.
	Schedule    string    `mapstructure:"schedule"`
	MetricsAddr string    `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	Log         LogConfig `mapstructure:"log"`
}

// PrimaryConfig selects and configures the primary store.
type PrimaryConfig struct {
	Driver   string         `mapstructure:"driver" validate:"required,oneof=badger dynamodb"`
	Badger   BadgerConfig   `mapstructure:"badger"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb" validate:"-"`
}

type BadgerConfig struct {
	// Path is the database directory. Empty keeps the data in memory.
	Path string `mapstructure:"path"`
}

type DynamoDBConfig struct {
	Table    string `mapstructure:"table" validate:"required"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
	// AccessKeyID and SecretAccessKey override the default credential chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// CreateTable creates the table and its index when they are missing.
	CreateTable bool `mapstructure:"create_table"`
}

// SecondaryConfig selects and configures the secondary store.
type SecondaryConfig struct {
	Driver    string              `mapstructure:"driver" validate:"required,oneof=surrealdb sqlite memory"`
	SQLite    SQLiteConfig        `mapstructure:"sqlite"`
	SurrealDB surrealstore.Config `mapstructure:"surrealdb" validate:"-"`
}

type SQLiteConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Path    string `mapstructure:"path"`
	Console bool   `mapstructure:"console"`
}

var defaults = map[string]any{
	"primary.driver":                     "badger",
	"primary.badger.path":                "",
	"primary.dynamodb.table":             "",
	"primary.dynamodb.region":            "us-east-1",
	"primary.dynamodb.endpoint":          "",
	"primary.dynamodb.access_key_id":     "",
	"primary.dynamodb.secret_access_key": "",
	"primary.dynamodb.create_table":      false,
	"secondary.driver":                   "sqlite",
	"secondary.sqlite.dsn":               "file:dualrepo.db",
	"secondary.surrealdb.url":            "ws://localhost:8000/rpc",
	"secondary.surrealdb.namespace":      "dualrepo",
	"secondary.surrealdb.database":       "dualrepo",
	"secondary.surrealdb.username":       "root",
	"secondary.surrealdb.password":       "root",
	"collections":                        []string{},
	"batch_size":                         500,
	"schedule":                           "",
	"metrics_addr":                       "",
	"log.level":                          "info",
	"log.path":                           "",
	"log.console":                        false,
}

// LoadConfig reads the configuration file at path, when path is not empty,
// and overrides it with DUALREPO_ environment variables. Nested keys map to
// variables by replacing dots with underscores; lists are comma separated.
func LoadConfig(path string) (*Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfig(path string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and the settings of the selected
// drivers.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Schedule != "" {
		if _, err := scheduleParser.Parse(c.Schedule); err != nil {
			return fmt.Errorf("invalid config: schedule %q: %w", c.Schedule, err)
		}
	}
	if c.Primary.Driver == "dynamodb" {
		if err := validate.Struct(c.Primary.DynamoDB); err != nil {
			return fmt.Errorf("invalid dynamodb config: %w", err)
		}
	}
	switch c.Secondary.Driver {
	case "surrealdb":
		if err := validate.Struct(c.Secondary.SurrealDB); err != nil {
			return fmt.Errorf("invalid surrealdb config: %w", err)
		}
	case "sqlite":
		if c.Secondary.SQLite.DSN == "" {
			return errors.New("invalid config: secondary.sqlite.dsn is required")
		}
	}
	return nil
}
