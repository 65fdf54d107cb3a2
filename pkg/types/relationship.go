package types

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Relationship is a directed, typed edge between two entity IDs.
// Referential integrity is not enforced: either end may name an entity
// that does not exist in the graph.
type Relationship struct {
	SourceID  string                 `json:"source_id"`          // Source entity ID
	TargetID  string                 `json:"target_id"`          // Target entity ID
	Type      RelationshipType       `json:"type"`               // Relationship type (see RelationshipType constants)
	Metadata  map[string]interface{} `json:"metadata,omitempty"` // Arbitrary relationship metadata
	CreatedAt string                 `json:"created_at"`         // ISO-8601
}

// NewRelationship creates a relationship stamped with the current time.
func NewRelationship(sourceID string, relType RelationshipType, targetID string) Relationship {
	return Relationship{
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      relType,
		Metadata:  map[string]interface{}{},
		CreatedAt: Now(),
	}
}

// ID derives the relationship's identity from (source, type, target).
// Metadata and timestamps do not contribute, so two edges with the same
// triple always share an ID.
func (r Relationship) ID() string {
	return RelationshipID(r.SourceID, r.Type, r.TargetID)
}

// RelationshipID hashes a (source, type, target) triple into a 16 hex character ID.
func RelationshipID(sourceID string, relType RelationshipType, targetID string) string {
	sum := blake3.Sum256([]byte(sourceID + ":" + string(relType) + ":" + targetID))
	return hex.EncodeToString(sum[:8])
}

// Validate checks the endpoints are present and the type is known.
func (r Relationship) Validate() error {
	if r.SourceID == "" || r.TargetID == "" {
		return fmt.Errorf("%w: relationship requires source_id and target_id", ErrInvalidEntity)
	}
	if _, err := ParseRelationshipType(string(r.Type)); err != nil {
		return fmt.Errorf("relationship %s->%s: %w", r.SourceID, r.TargetID, err)
	}
	return nil
}

// DedupRelationships collapses relationships sharing a derived ID.
// The last occurrence wins; output order follows each ID's first appearance.
func DedupRelationships(rels []Relationship) []Relationship {
	index := make(map[string]int, len(rels))
	out := make([]Relationship, 0, len(rels))
	for _, r := range rels {
		id := r.ID()
		if i, ok := index[id]; ok {
			out[i] = r
			continue
		}
		index[id] = len(out)
		out = append(out, r)
	}
	return out
}
