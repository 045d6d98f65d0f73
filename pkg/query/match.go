package query

import (
	"cmp"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Lookup resolves a dotted field path inside a document.
func Lookup(doc map[string]any, field string) (any, bool) {
	if v, ok := doc[field]; ok {
		return v, true
	}
	var cur any = doc
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Match reports whether doc satisfies every filter.
func Match(doc map[string]any, queries []Query) bool {
	for _, q := range queries {
		if !q.Matches(doc) {
			return false
		}
	}
	return true
}

// Matches evaluates the filter against doc. Missing fields never match,
// including for OpNe.
func (q Query) Matches(doc map[string]any) bool {
	v, ok := Lookup(doc, q.Field)
	if !ok {
		return false
	}
	switch q.Op {
	case OpEq:
		return Equal(v, q.Value)
	case OpNe:
		return !Equal(v, q.Value)
	case OpLt, OpLe, OpGt, OpGe:
		if kindOf(v) != kindOf(q.Value) {
			return false
		}
		c := Compare(v, q.Value)
		switch q.Op {
		case OpLt:
			return c < 0
		case OpLe:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		return containsAny([]any{v}, q.Value)
	case OpArrayContains:
		elems, ok := Values(v)
		return ok && containsAny(elems, []any{q.Value})
	case OpArrayContainsAny:
		elems, ok := Values(v)
		return ok && containsAny(elems, q.Value)
	}
	return false
}

func containsAny(elems []any, candidates any) bool {
	cs, ok := Values(candidates)
	if !ok {
		return false
	}
	for _, e := range elems {
		for _, c := range cs {
			if Equal(e, c) {
				return true
			}
		}
	}
	return false
}

type kind int

const (
	kindNil kind = iota
	kindBool
	kindNumber
	kindString
	kindTime
	kindOther
)

func kindOf(v any) kind {
	switch t := v.(type) {
	case nil:
		return kindNil
	case bool:
		return kindBool
	case string:
		if _, ok := parseTime(t); ok {
			return kindTime
		}
		return kindString
	case time.Time, *time.Time:
		return kindTime
	}
	if _, ok := toFloat(v); ok {
		return kindNumber
	}
	return kindOther
}

// Equal reports whether two document values are equal, treating all numeric
// types alike and timestamps by instant.
func Equal(a, b any) bool {
	ka, kb := kindOf(a), kindOf(b)
	if ka == kindOther || kb == kindOther {
		return reflect.DeepEqual(a, b)
	}
	if ka != kb {
		// a plain string that happens to parse as a time still equals itself
		sa, oka := a.(string)
		sb, okb := b.(string)
		return oka && okb && sa == sb
	}
	return Compare(a, b) == 0
}

// Compare orders two document values: nil, bools, numbers, strings, times,
// then anything else by its formatted form.
func Compare(a, b any) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		return cmp.Compare(ka, kb)
	}
	switch ka {
	case kindNil:
		return 0
	case kindBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case kindNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmp.Compare(fa, fb)
	case kindString:
		return strings.Compare(a.(string), b.(string))
	case kindTime:
		ta, _ := toTime(a)
		tb, _ := toTime(b)
		return ta.Compare(tb)
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return strings.Compare(string(ja), string(jb))
}

// CompareDocuments returns a comparison function ordering documents by the
// given sorts, with ties broken by idField ascending.
func CompareDocuments(sorts []Sort, idField string) func(a, b map[string]any) int {
	return func(a, b map[string]any) int {
		for _, s := range sorts {
			va, _ := Lookup(a, s.Field)
			vb, _ := Lookup(b, s.Field)
			c := Compare(va, vb)
			if s.Order == DESC {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		ia, _ := a[idField].(string)
		ib, _ := b[idField].(string)
		return strings.Compare(ia, ib)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		return parseTime(t)
	}
	return time.Time{}, false
}

func parseTime(s string) (time.Time, bool) {
	// cheap shape check before parsing: 2006-01-02T
	if len(s) < 20 || s[4] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}
