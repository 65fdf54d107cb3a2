package types

import (
	"encoding/json"
	"fmt"
)

// Record is the flattened wire form of an entity or relationship: one JSON
// object with enum fields written as their string values.
type Record = map[string]interface{}

// ToRecord flattens a node into its wire form.
func ToRecord(n Node) (Record, error) {
	return toRecord(n)
}

// ToRecord flattens the relationship into its wire form.
func (r Relationship) ToRecord() (Record, error) {
	return toRecord(r)
}

func toRecord(v interface{}) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("types: encode record: %w", err)
	}
	rec := make(Record)
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("types: encode record: %w", err)
	}
	return rec, nil
}

// FromRecord reconstructs the typed variant named by the record's "type"
// field. Unknown types and invalid nested enum values are rejected.
func FromRecord(rec Record) (Node, error) {
	raw, _ := rec["type"].(string)
	entityType, err := ParseEntityType(raw)
	if err != nil {
		return nil, err
	}

	var n Node
	switch entityType {
	case EntityTypeFeature:
		n = &Feature{}
	case EntityTypeRequirement:
		n = &Requirement{}
	case EntityTypeTechDecision:
		n = &TechDecision{}
	case EntityTypeComponent:
		n = &Component{}
	case EntityTypeTask:
		n = &Task{}
	case EntityTypePattern:
		n = &Pattern{}
	case EntityTypeConvention:
		n = &Convention{}
	}

	if err := decodeRecord(rec, n); err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// RelationshipFromRecord reconstructs a relationship from its wire form.
func RelationshipFromRecord(rec Record) (Relationship, error) {
	var r Relationship
	if err := decodeRecord(rec, &r); err != nil {
		return Relationship{}, err
	}
	if err := r.Validate(); err != nil {
		return Relationship{}, err
	}
	return r, nil
}

func decodeRecord(rec Record, dst interface{}) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("types: decode record: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	return nil
}

// RecordString returns rec[key] when it holds a string, else "".
func RecordString(rec Record, key string) string {
	s, _ := rec[key].(string)
	return s
}
