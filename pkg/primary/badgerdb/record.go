package badgerdb

import (
	"time"

	"github.com/cardvault/dualrepo/pkg/entity"
	"github.com/cardvault/dualrepo/pkg/primary"
)

// record is the stored form of a document. Timestamps are kept as unix
// nanoseconds so that they survive encoding with their full precision.
type record struct {
	ID       string         `cbor:"1,keyasint"`
	Created  int64          `cbor:"2,keyasint"`
	Modified int64          `cbor:"3,keyasint"`
	Fields   map[string]any `cbor:"4,keyasint"`
}

func newRecord(doc primary.Document) *record {
	rec := &record{ID: doc.ID(), Fields: map[string]any{}}
	for k, v := range doc {
		switch k {
		case entity.FieldID:
		case entity.FieldDateCreated:
			rec.Created = nanos(v)
		case entity.FieldDateLastModified:
			rec.Modified = nanos(v)
		default:
			rec.Fields[k] = normalize(v)
		}
	}
	return rec
}

func (r *record) document() primary.Document {
	doc := make(primary.Document, len(r.Fields)+3)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc[entity.FieldID] = r.ID
	doc[entity.FieldDateCreated] = time.Unix(0, r.Created).UTC()
	doc[entity.FieldDateLastModified] = time.Unix(0, r.Modified).UTC()
	return doc
}

func nanos(v any) int64 {
	if t, ok := v.(time.Time); ok {
		return t.UnixNano()
	}
	return 0
}

// normalize turns timestamps nested in business fields into RFC 3339
// strings, the form they take after a JSON round trip.
func normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}
