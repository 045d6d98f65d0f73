package migrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DUALREPO_COLLECTIONS", "cards,decks")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Primary.Driver)
	assert.Equal(t, "sqlite", cfg.Secondary.Driver)
	assert.Equal(t, "file:dualrepo.db", cfg.Secondary.SQLite.DSN)
	assert.Equal(t, []string{"cards", "decks"}, cfg.Collections)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
primary:
  driver: dynamodb
  dynamodb:
    table: records
    endpoint: http://localhost:8001
secondary:
  driver: surrealdb
  surrealdb:
    url: ws://db:8000/rpc
    namespace: cards
    database: prod
collections: [cards]
batch_size: 100
schedule: "@every 10m"
`), 0o600))
	t.Setenv("DUALREPO_BATCH_SIZE", "250")
	t.Setenv("DUALREPO_SECONDARY_SURREALDB_PASSWORD", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dynamodb", cfg.Primary.Driver)
	assert.Equal(t, "records", cfg.Primary.DynamoDB.Table)
	assert.Equal(t, "us-east-1", cfg.Primary.DynamoDB.Region)
	assert.Equal(t, "ws://db:8000/rpc", cfg.Secondary.SurrealDB.URL)
	assert.Equal(t, "root", cfg.Secondary.SurrealDB.Username)
	assert.Equal(t, "secret", cfg.Secondary.SurrealDB.Password)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, "@every 10m", cfg.Schedule)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Primary:     PrimaryConfig{Driver: "badger"},
			Secondary:   SecondaryConfig{Driver: "memory"},
			Collections: []string{"cards"},
			BatchSize:   500,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"no collections", func(c *Config) { c.Collections = nil }},
		{"empty collection", func(c *Config) { c.Collections = []string{""} }},
		{"batch too large", func(c *Config) { c.BatchSize = 501 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"unknown primary", func(c *Config) { c.Primary.Driver = "mongo" }},
		{"unknown secondary", func(c *Config) { c.Secondary.Driver = "postgres" }},
		{"dynamodb without table", func(c *Config) { c.Primary.Driver = "dynamodb" }},
		{"sqlite without dsn", func(c *Config) { c.Secondary.Driver = "sqlite" }},
		{"bad schedule", func(c *Config) { c.Schedule = "every now and then" }},
		{"bad metrics address", func(c *Config) { c.MetricsAddr = "metrics" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateSurrealDB(t *testing.T) {
	c := &Config{
		Primary:     PrimaryConfig{Driver: "badger"},
		Secondary:   SecondaryConfig{Driver: "surrealdb"},
		Collections: []string{"cards"},
		BatchSize:   10,
	}
	assert.Error(t, c.Validate())

	c.Secondary.SurrealDB.URL = "ws://localhost:8000/rpc"
	c.Secondary.SurrealDB.Namespace = "ns"
	c.Secondary.SurrealDB.Database = "db"
	assert.NoError(t, c.Validate())
}
