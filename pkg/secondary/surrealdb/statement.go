package surrealdb

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
	"github.com/cardvault/dualrepo/pkg/secondary"
)

var (
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	fieldPath  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

func checkTable(table string) error {
	if !identifier.MatchString(table) {
		return fmt.Errorf("%w: invalid table name %q", constants.ErrInvalidArgument, table)
	}
	return nil
}

// idiom returns the SurrealQL path of a document field.
func idiom(field string) (string, error) {
	if field == entity.FieldKey {
		return "id", nil
	}
	if !fieldPath.MatchString(field) {
		return "", fmt.Errorf("%w: unsupported field name %q", constants.ErrInvalidArgument, field)
	}
	return field, nil
}

// statement collects numbered parameters.
type statement struct {
	table string
	vars  map[string]any
}

func newStatement(table string) *statement {
	return &statement{table: table, vars: map[string]any{}}
}

func (st *statement) bind(v any) string {
	name := "p" + strconv.Itoa(len(st.vars))
	st.vars[name] = v
	return "$" + name
}

// value converts a filter operand for field, turning keys into record ids.
func (st *statement) value(field string, v any) any {
	if field != entity.FieldKey {
		return toWire(v)
	}
	if k, ok := v.(string); ok {
		return recordID(st.table, k)
	}
	return v
}

// where renders the filters. Missing fields never match, so every
// comparison also requires the field to be present.
func (st *statement) where(filters []query.Query) (string, error) {
	conds := make([]string, 0, len(filters))
	for _, q := range filters {
		path, err := idiom(q.Field)
		if err != nil {
			return "", err
		}
		var cond string
		switch q.Op {
		case query.OpEq:
			cond = path + " = " + st.bind(st.value(q.Field, q.Value))
		case query.OpNe, query.OpLt, query.OpLe, query.OpGt, query.OpGe:
			cond = fmt.Sprintf("(%s != NONE AND %s %s %s)", path, path, q.Op, st.bind(st.value(q.Field, q.Value)))
		case query.OpIn:
			cond = path + " IN " + st.bind(st.values(q.Field, q.Value))
		case query.OpArrayContains:
			cond = path + " CONTAINS " + st.bind(st.value(q.Field, q.Value))
		case query.OpArrayContainsAny:
			cond = path + " CONTAINSANY " + st.bind(st.values(q.Field, q.Value))
		default:
			return "", fmt.Errorf("%w: unsupported query operation %q", constants.ErrInvalidArgument, q.Op)
		}
		conds = append(conds, cond)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func (st *statement) values(field string, v any) []any {
	vs, _ := query.Values(v)
	out := make([]any, len(vs))
	for i, e := range vs {
		out[i] = st.value(field, e)
	}
	return out
}

func buildFind(table string, req secondary.FindRequest) (string, map[string]any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	st := newStatement(table)
	where, err := st.where(req.Filters)
	if err != nil {
		return "", nil, err
	}

	order := make([]string, 0, len(req.Sorts)+1)
	for _, s := range req.Sorts {
		path, err := idiom(s.Field)
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if s.Order == query.DESC {
			dir = "DESC"
		}
		order = append(order, path+" "+dir)
	}
	if !slices.ContainsFunc(req.Sorts, func(s query.Sort) bool { return s.Field == entity.FieldKey }) {
		order = append(order, "id ASC")
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM " + table + where + " ORDER BY " + strings.Join(order, ", "))
	if req.Limit > 0 {
		b.WriteString(" LIMIT " + st.bind(req.Limit))
	}
	if req.Skip > 0 {
		b.WriteString(" START " + st.bind(req.Skip))
	}
	return b.String(), st.vars, nil
}

func buildCount(table string, filters []query.Query) (string, map[string]any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	st := newStatement(table)
	where, err := st.where(filters)
	if err != nil {
		return "", nil, err
	}
	return "SELECT count() AS count FROM " + table + where + " GROUP ALL", st.vars, nil
}

// buildUpdate renders an update of $rid. Replace sets each top-level field;
// merge lets SurrealDB merge nested objects.
func buildUpdate(fields map[string]any, mode secondary.Mode) (string, map[string]any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("%w: no fields to write", constants.ErrEmptyUpdate)
	}
	st := newStatement("")
	if mode == secondary.ModeMerge {
		return "UPDATE $rid MERGE " + st.bind(toWire(fields)) + " RETURN AFTER", st.vars, nil
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		if !identifier.MatchString(k) {
			return "", nil, fmt.Errorf("%w: unsupported field name %q", constants.ErrInvalidArgument, k)
		}
		names = append(names, k)
	}
	slices.Sort(names)
	sets := make([]string, len(names))
	for i, k := range names {
		sets[i] = k + " = " + st.bind(toWire(fields[k]))
	}
	return "UPDATE $rid SET " + strings.Join(sets, ", ") + " RETURN AFTER", st.vars, nil
}

func withoutKey(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != entity.FieldKey && k != entity.FieldID {
			out[k] = v
		}
	}
	return out
}

// toWire prepares a value for the CBOR encoder. Times become SurrealDB
// datetimes; the marshalers have pointer receivers.
func toWire(v any) any {
	switch t := v.(type) {
	case time.Time:
		return &models.CustomDateTime{Time: t}
	case *time.Time:
		if t == nil {
			return nil
		}
		return &models.CustomDateTime{Time: *t}
	case secondary.Document:
		return toWire(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toWire(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toWire(e)
		}
		return out
	}
	return v
}

// fromRow turns a returned record into a document keyed by entity.FieldKey.
func fromRow(row map[string]any) secondary.Document {
	doc := secondary.Document{}
	for k, v := range row {
		if k == "id" {
			if key, ok := recordKey(v); ok {
				doc[entity.FieldKey] = key
			}
			continue
		}
		doc[k] = fromWire(v)
	}
	return doc
}

// fromWire normalizes decoded values to the shapes the JSON codec produces:
// float64 numbers, map[string]any objects and UTC times.
func fromWire(v any) any {
	switch t := v.(type) {
	case models.CustomDateTime:
		return t.Time.UTC()
	case *models.CustomDateTime:
		if t == nil {
			return nil
		}
		return t.Time.UTC()
	case time.Time:
		return t.UTC()
	case models.RecordID:
		return t.String()
	case *models.RecordID:
		if t == nil {
			return nil
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromWire(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = fromWire(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromWire(e)
		}
		return out
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// recordKey extracts the key part of a record id.
func recordKey(v any) (string, bool) {
	switch t := v.(type) {
	case models.RecordID:
		return fmt.Sprint(t.ID), true
	case *models.RecordID:
		if t != nil {
			return fmt.Sprint(t.ID), true
		}
	case string:
		if _, key, ok := strings.Cut(t, ":"); ok {
			return strings.Trim(key, "⟨⟩`"), true
		}
	}
	return "", false
}
