package sqlite

import (
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"

	"github.com/cardvault/dualrepo/pkg/constants"
	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/query"
)

// Field paths are inlined into json_extract, so only plain identifiers are
// accepted.
var fieldPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

type kind int

const (
	kindJSON kind = iota
	kindKey
	kindLegacyID
	kindTimestamp
)

func classifyField(field string) kind {
	switch field {
	case entity.FieldKey:
		return kindKey
	case entity.FieldLegacyID:
		return kindLegacyID
	case entity.FieldDateCreated, entity.FieldDateLastModified:
		return kindTimestamp
	}
	return kindJSON
}

// column returns the SQL expression holding field.
func column(field string) (string, error) {
	switch field {
	case entity.FieldKey:
		return "id", nil
	case entity.FieldLegacyID:
		return "legacy_id", nil
	case entity.FieldDateCreated:
		return "date_created", nil
	case entity.FieldDateLastModified:
		return "date_last_modified", nil
	}
	if !fieldPath.MatchString(field) {
		return "", fmt.Errorf("%w: unsupported field name %q", constants.ErrInvalidArgument, field)
	}
	return "json_extract(data, '$." + field + "')", nil
}

// filter adds a WHERE clause per query. A NULL column never satisfies a
// comparison, which matches the in-process rule that missing fields never
// match.
func filter(tx *gorm.DB, queries []query.Query) (*gorm.DB, error) {
	for _, q := range queries {
		expr, err := column(q.Field)
		if err != nil {
			return nil, err
		}
		k := classifyField(q.Field)
		switch q.Op {
		case query.OpEq, query.OpNe, query.OpLt, query.OpLe, query.OpGt, query.OpGe:
			if q.Value == nil {
				if q.Op == query.OpEq {
					tx = tx.Where(expr + " IS NULL")
				} else {
					tx = tx.Where(expr + " IS NOT NULL")
				}
				continue
			}
			op := string(q.Op)
			switch q.Op {
			case query.OpEq:
				op = "="
			case query.OpNe:
				op = "<>"
			}
			tx = tx.Where(expr+" "+op+" ?", bind(k, q.Value))
		case query.OpIn:
			vs, _ := query.Values(q.Value)
			tx = tx.Where(expr+" IN ?", bindAll(k, vs))
		case query.OpArrayContains, query.OpArrayContainsAny:
			if k != kindJSON {
				return nil, fmt.Errorf("%w: %s on scalar field %q", constants.ErrInvalidArgument, q.Op, q.Field)
			}
			vs := []any{q.Value}
			if q.Op == query.OpArrayContainsAny {
				vs, _ = query.Values(q.Value)
			}
			sub := "EXISTS (SELECT 1 FROM json_each(secondary_records.data, '$." + q.Field + "') AS e WHERE e.value IN ?)"
			tx = tx.Where(sub, bindAll(k, vs))
		default:
			return nil, fmt.Errorf("%w: unsupported query operation %q", constants.ErrInvalidArgument, q.Op)
		}
	}
	return tx, nil
}

func bindAll(k kind, vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = bind(k, v)
	}
	if len(out) == 0 {
		// IN () is a syntax error in SQLite.
		out = []any{nil}
	}
	return out
}

// bind converts a filter value to the representation the column holds.
func bind(k kind, v any) any {
	switch k {
	case kindKey:
		if s, ok := v.(string); ok {
			if id, ok := parseKey(s); ok {
				return id
			}
			return int64(-1)
		}
	case kindTimestamp:
		if n, ok := nanos(v); ok {
			return n
		}
	case kindJSON:
		switch t := v.(type) {
		case bool:
			if t {
				return 1
			}
			return 0
		case time.Time:
			return t.Format(time.RFC3339Nano)
		case fmt.Stringer:
			return t.String()
		}
	}
	return v
}
