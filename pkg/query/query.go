// Package query defines the backend agnostic filter, sort and pagination
// request objects accepted by the repositories, together with an in-process
// evaluator used by embedded backends.
package query

import (
	"fmt"
	"reflect"

	"github.com/cardvault/dualrepo/pkg/constants"
)

// Op is a filter operation supported by every backend.
type Op string

const (
	OpEq               Op = "=="
	OpNe               Op = "!="
	OpLt               Op = "<"
	OpLe               Op = "<="
	OpGt               Op = ">"
	OpGe               Op = ">="
	OpIn               Op = "in"
	OpArrayContains    Op = "array-contains"
	OpArrayContainsAny Op = "array-contains-any"
)

// Valid reports whether op is one of the supported operations.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpIn, OpArrayContains, OpArrayContainsAny:
		return true
	}
	return false
}

// Query is a single filter. Filters passed together are combined with AND.
type Query struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Query { return Query{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Query { return Query{Field: field, Op: OpNe, Value: v} }
func Lt(field string, v any) Query { return Query{Field: field, Op: OpLt, Value: v} }
func Le(field string, v any) Query { return Query{Field: field, Op: OpLe, Value: v} }
func Gt(field string, v any) Query { return Query{Field: field, Op: OpGt, Value: v} }
func Ge(field string, v any) Query { return Query{Field: field, Op: OpGe, Value: v} }
func In(field string, v any) Query { return Query{Field: field, Op: OpIn, Value: v} }
func ArrayContains(field string, v any) Query {
	return Query{Field: field, Op: OpArrayContains, Value: v}
}
func ArrayContainsAny(field string, v any) Query {
	return Query{Field: field, Op: OpArrayContainsAny, Value: v}
}

func (q Query) String() string {
	return fmt.Sprintf("%s %s %v", q.Field, q.Op, q.Value)
}

// Validate checks that the filter is well formed.
func (q Query) Validate() error {
	if q.Field == "" {
		return fmt.Errorf("%w: query field is empty", constants.ErrInvalidArgument)
	}
	if !q.Op.Valid() {
		return fmt.Errorf("%w: unsupported query operation %q", constants.ErrInvalidArgument, q.Op)
	}
	if q.Op == OpIn || q.Op == OpArrayContainsAny {
		if _, ok := Values(q.Value); !ok {
			return fmt.Errorf("%w: %s on %q needs a slice value, got %T", constants.ErrInvalidArgument, q.Op, q.Field, q.Value)
		}
	}
	return nil
}

// Validate checks every filter in queries.
func Validate(queries []Query) error {
	for _, q := range queries {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Values returns the elements of a slice or array value.
func Values(v any) ([]any, bool) {
	if vs, ok := v.([]any); ok {
		return vs, true
	}
	if vs, ok := v.([]string); ok {
		out := make([]any, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Order is a sort direction.
type Order string

const (
	ASC  Order = "ASC"
	DESC Order = "DESC"
)

// Sort orders results by a single field.
type Sort struct {
	Field string
	Order Order
}

func Asc(field string) Sort  { return Sort{Field: field, Order: ASC} }
func Desc(field string) Sort { return Sort{Field: field, Order: DESC} }

// Validate checks that the sort is well formed.
func (s Sort) Validate() error {
	if s.Field == "" {
		return fmt.Errorf("%w: sort field is empty", constants.ErrInvalidArgument)
	}
	if s.Order != ASC && s.Order != DESC {
		return fmt.Errorf("%w: unknown sort order %q", constants.ErrInvalidArgument, s.Order)
	}
	return nil
}

// Options bundles the result limit, ordering and cursor markers of a read.
//
// StartAfterID and StartAtID are mutually exclusive: the first excludes the
// referenced row from the results, the second includes it.
type Options struct {
	Limit        int
	Sort         []Sort
	StartAfterID string
	StartAtID    string
}

// Validate rejects contradictory or malformed options.
func (o Options) Validate() error {
	if o.StartAfterID != "" && o.StartAtID != "" {
		return fmt.Errorf("%w: startAfterId and startAtId are mutually exclusive", constants.ErrInvalidArgument)
	}
	if o.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", constants.ErrInvalidArgument, o.Limit)
	}
	for _, s := range o.Sort {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CursorID returns the id referenced by the cursor markers and whether the
// referenced row itself is part of the results.
func (o Options) CursorID() (id string, inclusive bool) {
	if o.StartAtID != "" {
		return o.StartAtID, true
	}
	return o.StartAfterID, false
}

// Page selects a window of an offset paginated read. A zero Size reads every
// row from the offset on.
type Page struct {
	Size  int
	Index int
}

// Skip returns the number of rows before the page.
func (p Page) Skip() int {
	return p.Size * p.Index
}

// Validate rejects negative sizes and indexes.
func (p Page) Validate() error {
	if p.Size < 0 || p.Index < 0 {
		return fmt.Errorf("%w: invalid page size %d index %d", constants.ErrInvalidArgument, p.Size, p.Index)
	}
	if p.Size == 0 && p.Index > 0 {
		return fmt.Errorf("%w: page index %d without a page size", constants.ErrInvalidArgument, p.Index)
	}
	return nil
}
