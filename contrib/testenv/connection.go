// Package testenv provides connections to the backing services used by the
// integration tests, and a deterministic log writer for example tests.
//
// Integration tests are skipped unless the environment variable naming the
// service endpoint is set.
package testenv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	surrealdb "github.com/surrealdb/surrealdb.go"
)

const (
	// EnvSurrealDBURL is the environment variable that specifies the SurrealDB
	// endpoint, for example ws://localhost:8000 or http://localhost:8000.
	EnvSurrealDBURL = "SURREALDB_URL"

	// EnvSurrealDBUser and EnvSurrealDBPass specify the root credentials.
	// Both default to "root".
	EnvSurrealDBUser = "SURREALDB_USER"
	EnvSurrealDBPass = "SURREALDB_PASS"

	// EnvDynamoDBEndpoint is the environment variable that specifies a
	// DynamoDB compatible endpoint, for example http://localhost:8001 for
	// DynamoDB Local.
	EnvDynamoDBEndpoint = "DYNAMODB_ENDPOINT"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SurrealDB connects to the SurrealDB instance named by SURREALDB_URL, selects
// namespace and database, and removes tables so that the test starts empty.
// The test is skipped when SURREALDB_URL is unset.
func SurrealDB(t testing.TB, namespace, database string, tables ...string) *surrealdb.DB {
	t.Helper()
	endpoint := os.Getenv(EnvSurrealDBURL)
	if endpoint == "" {
		t.Skipf("%s is not set", EnvSurrealDBURL)
	}
	db, err := New(context.Background(), endpoint, namespace, database, tables...)
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

// New connects to endpoint, signs in as root and removes tables from the
// selected database.
func New(ctx context.Context, endpoint, namespace, database string, tables ...string) (*surrealdb.DB, error) {
	if database == "" {
		return nil, fmt.Errorf("database name must be specified")
	}

	db, err := surrealdb.FromEndpointURLString(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if err = db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("failed to use database: %w", err)
	}

	token, err := db.SignIn(ctx, &surrealdb.Auth{
		Username: getenv(EnvSurrealDBUser, "root"),
		Password: getenv(EnvSurrealDBPass, "root"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	if err = db.Authenticate(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	// REMOVE TABLE does not accept a parameter for the table name.
	for _, table := range tables {
		if strings.ContainsFunc(table, func(r rune) bool { return !isIdentRune(r) }) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
		if _, err = surrealdb.Query[any](ctx, db, "REMOVE TABLE IF EXISTS "+table, nil); err != nil {
			return nil, fmt.Errorf("failed to remove table %s: %w", table, err)
		}
	}

	return db, nil
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// DynamoDB returns a client for the endpoint named by DYNAMODB_ENDPOINT with
// static dummy credentials, and a table name unique to the test. The test is
// skipped when DYNAMODB_ENDPOINT is unset.
func DynamoDB(t testing.TB) (*dynamodb.Client, string) {
	t.Helper()
	endpoint := os.Getenv(EnvDynamoDBEndpoint)
	if endpoint == "" {
		t.Skipf("%s is not set", EnvDynamoDBEndpoint)
	}
	client, err := NewDynamoDB(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("configure DynamoDB client: %v", err)
	}
	return client, "test-" + uuid.NewString()
}

// NewDynamoDB returns a client for a local DynamoDB compatible endpoint.
func NewDynamoDB(ctx context.Context, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
	)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}
