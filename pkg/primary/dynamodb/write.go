package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/internal/retry"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
)

func (s *Store) Create(ctx context.Context, collection string, doc primary.Document) error {
	it, err := toItem(collection, doc)
	if err != nil {
		return err
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(entity.FieldID))).
		Build()
	if err != nil {
		return fmt.Errorf("build put condition: %w", err)
	}

	return retry.Do(ctx, s.retryer, func(ctx context.Context) error {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(s.table),
			Item:                     it,
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		})
		return classify(err, alreadyExists(collection, doc.ID()))
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields primary.Document, mode primary.Mode) error {
	if mode == primary.ModeMerge {
		return s.merge(ctx, collection, id, fields)
	}

	expr, err := updateExpression(fields)
	if err != nil {
		return err
	}
	return retry.Do(ctx, s.retryer, func(ctx context.Context) error {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.table),
			Key:                       itemKey(collection, id),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return classify(err, notFound(collection, id))
	})
}

// merge applies fields with a read-modify-write guarded by the previous
// modification date, so nested objects missing from the item are created
// instead of failing the update path.
func (s *Store) merge(ctx context.Context, collection, id string, fields primary.Document) error {
	return retry.Do(ctx, s.retryer, func(ctx context.Context) error {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		put, err := mergedPut(s.table, collection, doc, fields)
		if err != nil {
			return err
		}

		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeNames:  put.ExpressionAttributeNames,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		})
		return classify(err, func(int) error { return modifiedConcurrently(collection, id) })
	})
}

// mergedPut writes current with fields merged into it, on the condition that
// the stored item was not modified since current was read.
func mergedPut(table, collection string, current, fields primary.Document) (*types.Put, error) {
	prev, _ := current[entity.FieldDateLastModified].(time.Time)

	doc := primary.Document(codec.Clone(current))
	for k, v := range fields {
		if entity.IsTimestampField(k) {
			doc[k] = v
			continue
		}
		codec.Merge(doc, map[string]any{k: v})
	}

	it, err := toItem(collection, doc)
	if err != nil {
		return nil, err
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.Name(entity.FieldDateLastModified).Equal(expression.Value(prev.UnixNano()))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build merge condition: %w", err)
	}
	return &types.Put{
		TableName:                 aws.String(table),
		Item:                      it,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

func modifiedConcurrently(collection, id string) error {
	return constants.Transient(fmt.Errorf("%s/%s was modified concurrently", collection, id))
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	var res *dynamodb.DeleteItemOutput
	err := retry.Do(ctx, s.retryer, func(ctx context.Context) error {
		var err error
		res, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    aws.String(s.table),
			Key:          itemKey(collection, id),
			ReturnValues: types.ReturnValueAllOld,
		})
		return classify(err, unexpectedCondition)
	})
	if err != nil {
		return false, fmt.Errorf("delete item %s/%s: %w", collection, id, err)
	}
	return len(res.Attributes) > 0, nil
}

// Batch runs ops in one TransactWriteItems call. A client request token makes
// retries of the same batch idempotent. Merges are written as whole items
// read just before the transaction; when one of them changed in between, the
// batch is read and built again under a new token.
func (s *Store) Batch(ctx context.Context, collection string, ops []primary.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > maxTransactItems {
		return fmt.Errorf("%w: batch of %d exceeds %d operations", constants.ErrInvalidArgument, len(ops), maxTransactItems)
	}

	var (
		items []types.TransactWriteItem
		token string
	)
	return retry.Do(ctx, s.retryer, func(ctx context.Context) error {
		if items == nil {
			built, err := s.transactItems(ctx, collection, ops)
			if err != nil {
				return err
			}
			items, token = built, uuid.NewString()
		}

		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems:      items,
			ClientRequestToken: aws.String(token),
		})
		return classify(err, func(i int) error {
			switch {
			case ops[i].Kind == primary.OpCreate:
				return alreadyExists(collection, ops[i].Doc.ID())(i)
			case isMerge(ops[i]):
				items = nil
				return modifiedConcurrently(collection, ops[i].ID)
			}
			return notFound(collection, ops[i].ID)(i)
		})
	})
}

func isMerge(op primary.Op) bool {
	return op.Kind == primary.OpUpdate && op.Mode == primary.ModeMerge
}

func (s *Store) transactItems(ctx context.Context, collection string, ops []primary.Op) ([]types.TransactWriteItem, error) {
	var merged []string
	for _, op := range ops {
		if isMerge(op) {
			merged = append(merged, op.ID)
		}
	}
	current := make(map[string]primary.Document, len(merged))
	if len(merged) > 0 {
		docs, err := s.batchGet(ctx, collection, merged)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			current[d.ID()] = d
		}
	}

	items := make([]types.TransactWriteItem, len(ops))
	for i, op := range ops {
		if isMerge(op) {
			doc, ok := current[op.ID]
			if !ok {
				return nil, fmt.Errorf("batch operation %d: %w", i, notFound(collection, op.ID)(i))
			}
			put, err := mergedPut(s.table, collection, doc, op.Doc)
			if err != nil {
				return nil, fmt.Errorf("batch operation %d: %w", i, err)
			}
			items[i] = types.TransactWriteItem{Put: put}
			continue
		}

		it, err := s.transactItem(collection, op)
		if err != nil {
			return nil, fmt.Errorf("batch operation %d: %w", i, err)
		}
		items[i] = it
	}
	return items, nil
}

// updateExpression sets every given top-level field on an existing item.
func updateExpression(fields primary.Document) (expression.Expression, error) {
	var update expression.UpdateBuilder
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			v = filterValue(k, t)
		}
		update = update.Set(expression.Name(k), expression.Value(v))
	}
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(entity.FieldID))).
		Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("build update expression: %w", err)
	}
	return expr, nil
}

func alreadyExists(collection, id string) func(int) error {
	return func(int) error {
		return fmt.Errorf("%w: %s/%s", constants.ErrAlreadyExists, collection, id)
	}
}

// wait sleeps for the retryer's delay before attempt, or fails when the
// retryer gives up or ctx is done.
func wait(ctx context.Context, r retry.Retryer, attempt int) error {
	delay, ok := r.NextDelay(attempt, nil)
	if !ok {
		return constants.Transient(fmt.Errorf("gave up after %d attempts", attempt+1))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
