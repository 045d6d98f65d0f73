package dynamodb

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cardvault/dualrepo/internal/fanout"
	"github.com/cardvault/dualrepo/internal/retry"
	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
	"github.com/cardvault/dualrepo/pkg/query"
)

func (s *Store) Get(ctx context.Context, collection, id string) (primary.Document, error) {
	var res *dynamodb.GetItemOutput
	err := retry.Do(ctx, s.retryer, func(ctx context.Context) error {
		var err error
		res, err = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.table),
			Key:            itemKey(collection, id),
			ConsistentRead: aws.Bool(true),
		})
		return classify(err, notFound(collection, id))
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s/%s: %w", collection, id, err)
	}
	if len(res.Item) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, id)
	}
	return fromItem(res.Item)
}

func (s *Store) Query(ctx context.Context, collection string, req primary.Request) ([]primary.Document, error) {
	if ids, ok := idLookup(req); ok {
		docs, err := s.batchGet(ctx, collection, ids)
		if err != nil {
			return nil, err
		}
		docs = slices.DeleteFunc(docs, func(d primary.Document) bool { return !query.Match(d, req.Filters) })
		compare := query.CompareDocuments(nil, entity.FieldID)
		slices.SortFunc(docs, func(a, b primary.Document) int { return compare(a, b) })
		if req.Limit > 0 && len(docs) > req.Limit {
			docs = docs[:req.Limit]
		}
		return docs, nil
	}

	p, err := newPlan(collection, req.Filters, req.Sorts)
	if err != nil {
		return nil, err
	}

	var (
		out   []primary.Document
		start item
	)
	if c := req.Cursor; c != nil {
		if c.Inclusive && query.Match(c.Doc, req.Filters) {
			out = append(out, c.Doc)
		}
		if start, err = p.startKey(collection, c.Doc); err != nil {
			return nil, err
		}
	}

	for req.Limit <= 0 || len(out) < req.Limit {
		input, err := p.input(s.table, start)
		if err != nil {
			return nil, err
		}
		if req.Limit > 0 {
			input.Limit = aws.Int32(int32(req.Limit - len(out)))
		}

		res, err := s.query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		for _, it := range res.Items {
			doc, err := fromItem(it)
			if err != nil {
				return nil, err
			}
			if !query.Match(doc, req.Filters) {
				continue
			}
			out = append(out, doc)
			if req.Limit > 0 && len(out) == req.Limit {
				return out, nil
			}
		}
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		start = res.LastEvaluatedKey
	}
	return out, nil
}

// Count counts natively when every filter could be pushed down, and by
// reading the matching items otherwise.
func (s *Store) Count(ctx context.Context, collection string, filters []query.Query) (int, error) {
	p, err := newPlan(collection, filters, nil)
	if err != nil {
		return 0, err
	}
	if !p.exact {
		docs, err := s.Query(ctx, collection, primary.Request{Filters: filters})
		return len(docs), err
	}

	n := 0
	var start item
	for {
		input, err := p.input(s.table, start)
		if err != nil {
			return 0, err
		}
		input.Select = types.SelectCount
		res, err := s.query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", collection, err)
		}
		n += int(res.Count)
		if len(res.LastEvaluatedKey) == 0 {
			return n, nil
		}
		start = res.LastEvaluatedKey
	}
}

func (s *Store) query(ctx context.Context, input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	var res *dynamodb.QueryOutput
	err := retry.Do(ctx, s.retryer, func(ctx context.Context) error {
		var err error
		res, err = s.client.Query(ctx, input)
		return classify(err, unexpectedCondition)
	})
	return res, err
}

// batchGet reads ids with BatchGetItem, 100 keys per request, retrying
// unprocessed keys with backoff.
func (s *Store) batchGet(ctx context.Context, collection string, ids []string) ([]primary.Document, error) {
	chunks := fanout.Chunk(ids, maxInOperands)
	results := make([][]primary.Document, len(chunks))
	err := fanout.All(ctx, len(chunks), func(ctx context.Context, i int) error {
		keys := make([]item, len(chunks[i]))
		for j, id := range chunks[i] {
			keys[j] = itemKey(collection, id)
		}
		requestItems := map[string]types.KeysAndAttributes{
			s.table: {Keys: keys, ConsistentRead: aws.Bool(true)},
		}

		for attempt := 0; len(requestItems) > 0; attempt++ {
			var res *dynamodb.BatchGetItemOutput
			err := retry.Do(ctx, s.retryer, func(ctx context.Context) error {
				var err error
				res, err = s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: requestItems})
				return classify(err, unexpectedCondition)
			})
			if err != nil {
				return fmt.Errorf("batch get %s: %w", collection, err)
			}
			for _, it := range res.Responses[s.table] {
				doc, err := fromItem(it)
				if err != nil {
					return err
				}
				results[i] = append(results[i], doc)
			}

			requestItems = res.UnprocessedKeys
			if len(requestItems) > 0 {
				if err := wait(ctx, s.retryer, attempt); err != nil {
					return fmt.Errorf("batch get %s: %d keys left unprocessed: %w", collection, len(requestItems[s.table].Keys), err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var out []primary.Document
	for _, docs := range results {
		out = append(out, docs...)
	}
	return out, nil
}

// idLookup reports whether req is answered by point reads: exactly one "in"
// filter on the id, no cursor, and id order.
func idLookup(req primary.Request) ([]string, bool) {
	if req.Cursor != nil {
		return nil, false
	}
	if len(req.Sorts) > 1 || (len(req.Sorts) == 1 && req.Sorts[0] != query.Asc(entity.FieldID)) {
		return nil, false
	}
	var ids []string
	found := 0
	for _, q := range req.Filters {
		if q.Field != entity.FieldID || q.Op != query.OpIn {
			continue
		}
		found++
		values, _ := query.Values(q.Value)
		for _, v := range values {
			id, ok := v.(string)
			if !ok {
				return nil, false
			}
			ids = append(ids, id)
		}
	}
	return ids, found == 1
}

func notFound(collection, id string) func(int) error {
	return func(int) error {
		return fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, id)
	}
}

func unexpectedCondition(int) error {
	return fmt.Errorf("%w: condition failed on a read", constants.ErrUnexpected)
}

// plan is a compiled query: the index to read, the key condition and the
// pushed down filter.
type plan struct {
	index     string
	rangeAttr string
	ascending bool
	key       expression.KeyConditionBuilder
	filter    *expression.ConditionBuilder
	// exact is set when the pushed down filter selects exactly the
	// documents the in-process filter selects.
	exact bool
}

func newPlan(collection string, filters []query.Query, sorts []query.Sort) (*plan, error) {
	p := &plan{rangeAttr: entity.FieldID, ascending: true, exact: true}

	if len(sorts) > 0 {
		first := sorts[0]
		switch first.Field {
		case entity.FieldID:
		case entity.FieldDateCreated:
			p.index, p.rangeAttr = indexDateCreated, entity.FieldDateCreated
		case entity.FieldDateLastModified:
			p.index, p.rangeAttr = indexDateLastModify, entity.FieldDateLastModified
		default:
			return nil, fmt.Errorf("%w: sorting by %q is not indexed", constants.ErrInvalidArgument, first.Field)
		}
		p.ascending = first.Order != query.DESC
		for _, extra := range sorts[1:] {
			if extra.Field != entity.FieldID || extra.Order != first.Order {
				return nil, fmt.Errorf("%w: only a trailing id sort in the same order may follow %q", constants.ErrInvalidArgument, first.Field)
			}
		}
	}

	p.key = expression.Key(attrCollection).Equal(expression.Value(collection))
	var conds []expression.ConditionBuilder
	keyRanged := false
	for _, q := range filters {
		if q.Field == p.rangeAttr && !keyRanged {
			if kc, ok := keyRange(q); ok {
				p.key = expression.KeyAnd(p.key, kc)
				keyRanged = true
				continue
			}
		}
		if q.Field == attrCollection || q.Field == entity.FieldID || q.Field == p.rangeAttr {
			p.exact = false
			continue
		}
		c, ok := condition(q)
		if !ok {
			p.exact = false
			continue
		}
		conds = append(conds, c)
	}
	switch len(conds) {
	case 0:
	case 1:
		p.filter = &conds[0]
	default:
		all := expression.And(conds[0], conds[1], conds[2:]...)
		p.filter = &all
	}
	return p, nil
}

func (p *plan) input(table string, start item) (*dynamodb.QueryInput, error) {
	b := expression.NewBuilder().WithKeyCondition(p.key)
	if p.filter != nil {
		b = b.WithFilter(*p.filter)
	}
	expr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(p.ascending),
		ConsistentRead:            aws.Bool(true),
		ExclusiveStartKey:         start,
	}
	if p.index != "" {
		input.IndexName = aws.String(p.index)
	}
	return input, nil
}

// startKey builds the exclusive start key positioned on doc.
func (p *plan) startKey(collection string, doc primary.Document) (item, error) {
	k := itemKey(collection, doc.ID())
	if p.index != "" {
		full, err := toItem(collection, primary.Document{p.rangeAttr: doc[p.rangeAttr]})
		if err != nil {
			return nil, err
		}
		v, ok := full[p.rangeAttr]
		if !ok {
			return nil, fmt.Errorf("%w: cursor document has no %s", constants.ErrInvalidArgument, p.rangeAttr)
		}
		k[p.rangeAttr] = v
	}
	return k, nil
}

func keyRange(q query.Query) (expression.KeyConditionBuilder, bool) {
	key := expression.Key(q.Field)
	v := expression.Value(filterValue(q.Field, q.Value))
	switch q.Op {
	case query.OpEq:
		return key.Equal(v), true
	case query.OpLt:
		return key.LessThan(v), true
	case query.OpLe:
		return key.LessThanEqual(v), true
	case query.OpGt:
		return key.GreaterThan(v), true
	case query.OpGe:
		return key.GreaterThanEqual(v), true
	}
	return expression.KeyConditionBuilder{}, false
}

// condition translates a filter into a DynamoDB condition when DynamoDB can
// express it.
func condition(q query.Query) (expression.ConditionBuilder, bool) {
	name := expression.Name(q.Field)
	value := func(v any) expression.ValueBuilder { return expression.Value(filterValue(q.Field, v)) }

	switch q.Op {
	case query.OpEq:
		return name.Equal(value(q.Value)), true
	case query.OpNe:
		return expression.And(name.AttributeExists(), name.NotEqual(value(q.Value))), true
	case query.OpLt:
		return name.LessThan(value(q.Value)), true
	case query.OpLe:
		return name.LessThanEqual(value(q.Value)), true
	case query.OpGt:
		return name.GreaterThan(value(q.Value)), true
	case query.OpGe:
		return name.GreaterThanEqual(value(q.Value)), true
	case query.OpIn:
		values, _ := query.Values(q.Value)
		if len(values) == 0 || len(values) > maxInOperands {
			return expression.ConditionBuilder{}, false
		}
		operands := make([]expression.OperandBuilder, len(values))
		for i, v := range values {
			operands[i] = value(v)
		}
		return name.In(operands[0], operands[1:]...), true
	case query.OpArrayContains:
		s, ok := q.Value.(string)
		if !ok {
			return expression.ConditionBuilder{}, false
		}
		return expression.Contains(name, s), true
	case query.OpArrayContainsAny:
		values, _ := query.Values(q.Value)
		var conds []expression.ConditionBuilder
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				return expression.ConditionBuilder{}, false
			}
			conds = append(conds, expression.Contains(name, s))
		}
		switch len(conds) {
		case 0:
			return expression.ConditionBuilder{}, false
		case 1:
			return conds[0], true
		}
		return expression.Or(conds[0], conds[1], conds[2:]...), true
	}
	return expression.ConditionBuilder{}, false
}
