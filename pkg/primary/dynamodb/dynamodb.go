// Package dynamodb is the primary driver for Amazon DynamoDB.
//
// All collections share one table. The partition key is the collection name
// and the sort key is the entity id, so a collection is a single partition
// that can be queried in id order. Two local secondary indexes keyed by the
// creation and modification timestamps provide the other supported orders.
// Timestamps are stored as unix nanoseconds.
//
// DynamoDB accepts at most 100 operands in an IN condition and 100 actions
// per transaction, so the driver reports both limits as 100.
//
// Filters are pushed down as filter expressions where DynamoDB can express
// them and are always re-evaluated in-process, which keeps the semantics of
// every operation identical to the embedded driver.
package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cardvault/dualrepo/internal/retry"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
)

const (
	maxInOperands       = 100
	maxTransactItems    = 100
	attrCollection      = "collection"
	indexDateCreated    = "dateCreated-index"
	indexDateLastModify = "dateLastModified-index"
)

// Client is the subset of *dynamodb.Client used by the driver.
type Client interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Store implements primary.Driver and primary.Counter.
type Store struct {
	client  Client
	table   string
	retryer retry.Retryer
}

var _ primary.Driver = (*Store)(nil)
var _ primary.Counter = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithRetryer replaces the backoff used for throttled and conflicting
// requests.
func WithRetryer(r retry.Retryer) Option {
	return func(s *Store) { s.retryer = r }
}

// New returns a driver storing every collection in table.
func New(client Client, table string, opts ...Option) *Store {
	s := &Store{
		client:  client,
		table:   table,
		retryer: retry.NewExponentialBackoff(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Limits() primary.Limits {
	return primary.Limits{MaxInValues: maxInOperands, MaxBatchWrites: maxTransactItems}
}

// EnsureTable creates the table and its indexes when it does not exist yet
// and waits until it is active.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !asError(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", s.table, err)
	}

	lsi := func(name, attr string) types.LocalSecondaryIndex {
		return types.LocalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrCollection), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attr), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrCollection), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(entity.FieldID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(entity.FieldDateCreated), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String(entity.FieldDateLastModified), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrCollection), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(entity.FieldID), KeyType: types.KeyTypeRange},
		},
		LocalSecondaryIndexes: []types.LocalSecondaryIndex{
			lsi(indexDateCreated, entity.FieldDateCreated),
			lsi(indexDateLastModify, entity.FieldDateLastModified),
		},
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", s.table, err)
	}
	return nil
}
