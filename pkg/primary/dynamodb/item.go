package dynamodb

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
)

type item = map[string]types.AttributeValue

func itemKey(collection, id string) item {
	return item{
		attrCollection: &types.AttributeValueMemberS{Value: collection},
		entity.FieldID: &types.AttributeValueMemberS{Value: id},
	}
}

func nanosAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixNano(), 10)}
}

// toItem encodes a document. Timestamps become numbers so that the
// timestamp indexes sort chronologically.
func toItem(collection string, doc primary.Document) (item, error) {
	rest := make(map[string]any, len(doc))
	for k, v := range doc {
		if !entity.IsTimestampField(k) {
			rest[k] = v
		}
	}
	it, err := attributevalue.MarshalMap(rest)
	if err != nil {
		return nil, fmt.Errorf("marshal %s/%s: %w", collection, doc.ID(), err)
	}
	for _, f := range []string{entity.FieldDateCreated, entity.FieldDateLastModified} {
		if t, ok := doc[f].(time.Time); ok {
			it[f] = nanosAttr(t)
		}
	}
	it[attrCollection] = &types.AttributeValueMemberS{Value: collection}
	return it, nil
}

// fromItem decodes an item into a document.
func fromItem(it item) (primary.Document, error) {
	rest := make(item, len(it))
	times := map[string]time.Time{}
	for k, v := range it {
		switch {
		case k == attrCollection:
		case entity.IsTimestampField(k):
			n, ok := v.(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("%w: %s is not a number", constants.ErrUnexpected, k)
			}
			nanos, err := strconv.ParseInt(n.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", k, err)
			}
			times[k] = time.Unix(0, nanos).UTC()
		default:
			rest[k] = v
		}
	}
	doc := primary.Document{}
	if err := attributevalue.UnmarshalMap(rest, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	for k, t := range times {
		doc[k] = t
	}
	return doc, nil
}

// filterValue converts a query value to the stored representation of field.
func filterValue(field string, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if entity.IsTimestampField(field) {
		return t.UnixNano()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func asError[T error](err error, target *T) bool {
	return errors.As(err, target)
}

// classify maps DynamoDB errors onto the repository error taxonomy.
// onCondition builds the error reported when the condition of the request,
// or of transaction item i, failed.
func classify(err error, onCondition func(i int) error) error {
	if err == nil {
		return nil
	}
	var (
		condition  *types.ConditionalCheckFailedException
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		conflict   *types.TransactionConflictException
		inProgress *types.TransactionInProgressException
		canceled   *types.TransactionCanceledException
	)
	switch {
	case asError(err, &condition):
		return onCondition(0)
	case asError(err, &throughput), asError(err, &limit), asError(err, &conflict), asError(err, &inProgress):
		return constants.Transient(err)
	case asError(err, &canceled):
		for i, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed":
				return onCondition(i)
			case "TransactionConflict", "ThrottlingError", "ProvisionedThroughputExceeded":
				return constants.Transient(err)
			}
		}
	}
	return err
}
