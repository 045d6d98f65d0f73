// Package entity defines the identity and timestamp contract shared by every
// record stored through the repositories.
//
// Primary records embed [Meta]; their id is a client generated UUID.
// Secondary records embed [SecondaryMeta]; their key is assigned by the
// backend on insert and they carry an optional back-reference to the primary
// id, the legacy id.
package entity

import "time"

// Field names used in stored documents.
const (
	FieldID               = "id"
	FieldKey              = "_id"
	FieldLegacyID         = "legacyId"
	FieldDateCreated      = "dateCreated"
	FieldDateLastModified = "dateLastModified"
)

// Entity is implemented by every type stored in a primary repository.
type Entity interface {
	GetID() string
	GetDateCreated() time.Time
}

// SecondaryEntity is implemented by every type stored in a secondary repository.
type SecondaryEntity interface {
	GetKey() string
	GetLegacyID() string
	GetDateCreated() time.Time
}

// Meta is embedded in primary entities.
type Meta struct {
	ID               string    `json:"id"`
	DateCreated      time.Time `json:"dateCreated"`
	DateLastModified time.Time `json:"dateLastModified"`
}

func (m Meta) GetID() string                  { return m.ID }
func (m Meta) GetDateCreated() time.Time      { return m.DateCreated }
func (m Meta) GetDateLastModified() time.Time { return m.DateLastModified }

// SecondaryMeta is embedded in secondary entities.
type SecondaryMeta struct {
	Key              string    `json:"_id"`
	LegacyID         *string   `json:"legacyId,omitempty"`
	DateCreated      time.Time `json:"dateCreated"`
	DateLastModified time.Time `json:"dateLastModified"`
}

func (m SecondaryMeta) GetKey() string { return m.Key }

// GetLegacyID returns the linked primary id, or "" when the record has none.
func (m SecondaryMeta) GetLegacyID() string {
	if m.LegacyID == nil {
		return ""
	}
	return *m.LegacyID
}

func (m SecondaryMeta) GetDateCreated() time.Time { return m.DateCreated }

// IsMetaField reports whether name is an identity or timestamp field that
// callers may not write directly.
func IsMetaField(name string) bool {
	switch name {
	case FieldID, FieldKey, FieldDateCreated, FieldDateLastModified:
		return true
	}
	return false
}

// IsTimestampField reports whether name holds a repository managed timestamp.
func IsTimestampField(name string) bool {
	return name == FieldDateCreated || name == FieldDateLastModified
}
