package migrator

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/cardvault/dualrepo/internal/codec"
	"github.com/cardvault/dualrepo/pkg/entity"
)

// Fields holds the user fields of a record. It is both the create and the
// update payload of the migrator's repositories.
type Fields map[string]any

// Record is a primary entity of any collection.
type Record struct {
	entity.Meta
	Fields Fields
}

func (r Record) MarshalJSON() ([]byte, error) {
	doc := document(r.Fields)
	doc[entity.FieldID] = r.ID
	doc[entity.FieldDateCreated] = r.DateCreated
	doc[entity.FieldDateLastModified] = r.DateLastModified
	return json.Marshal(doc)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.Meta); err != nil {
		return fmt.Errorf("failed to decode record metadata: %w", err)
	}
	fields, err := userFields(data)
	if err != nil {
		return err
	}
	r.Fields = fields
	return nil
}

// Mirror is a secondary entity of any collection.
type Mirror struct {
	entity.SecondaryMeta
	Fields Fields
}

func (m Mirror) MarshalJSON() ([]byte, error) {
	doc := document(m.Fields)
	doc[entity.FieldKey] = m.Key
	if m.LegacyID != nil {
		doc[entity.FieldLegacyID] = *m.LegacyID
	}
	doc[entity.FieldDateCreated] = m.DateCreated
	doc[entity.FieldDateLastModified] = m.DateLastModified
	return json.Marshal(doc)
}

func (m *Mirror) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &m.SecondaryMeta); err != nil {
		return fmt.Errorf("failed to decode mirror metadata: %w", err)
	}
	fields, err := userFields(data)
	if err != nil {
		return err
	}
	m.Fields = fields
	return nil
}

func document(f Fields) map[string]any {
	if f == nil {
		return map[string]any{}
	}
	return codec.Clone(f)
}

func userFields(data []byte) (Fields, error) {
	fields := Fields{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	for k := range fields {
		if entity.IsMetaField(k) || k == entity.FieldLegacyID {
			delete(fields, k)
		}
	}
	return fields, nil
}
