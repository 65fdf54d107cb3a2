package storage

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/scrypster/featuregraph/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformed indicates a persisted graph file that cannot be decoded.
	ErrMalformed = errors.New("malformed graph data")

	// ErrNotImplemented indicates an ingestion source that has no parser yet.
	ErrNotImplemented = errors.New("not implemented")
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateSlug reports whether slug is usable as a feature file name:
// ASCII letters, digits, '.', '_' and '-', starting with a letter or digit.
func ValidateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: invalid feature slug %q", ErrInvalidInput, slug)
	}
	return nil
}

// DefaultMaxDepth is the traversal depth used when TraverseOptions.MaxDepth is negative.
const DefaultMaxDepth = 10

// Graph is the in-memory form of one feature's persisted graph.
//
// Entities are keyed by id; when a file repeats an id the last line wins.
// Relationships keep file order and may contain duplicates.
type Graph struct {
	Entities      map[string]types.Record
	Relationships []types.Record
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Entities:      make(map[string]types.Record),
		Relationships: []types.Record{},
	}
}

// EntityQuery selects entities by type and exact attribute equality.
type EntityQuery struct {
	// Type restricts results to one entity type. Empty means any type.
	Type types.EntityType

	// Filters requires each key to be present on the record with an equal value.
	// Values are compared against decoded JSON; Go numbers compare as float64.
	Filters map[string]interface{}
}

// RelationshipQuery selects relationships by endpoint and type.
// Empty fields are unconstrained.
type RelationshipQuery struct {
	SourceID string
	TargetID string
	Type     types.RelationshipType
}

// Matches reports whether the relationship record satisfies every set field.
func (q RelationshipQuery) Matches(rec types.Record) bool {
	if q.SourceID != "" && types.RecordString(rec, "source_id") != q.SourceID {
		return false
	}
	if q.TargetID != "" && types.RecordString(rec, "target_id") != q.TargetID {
		return false
	}
	if q.Type != "" && types.RecordString(rec, "type") != string(q.Type) {
		return false
	}
	return true
}

// Direction selects which end of a relationship traversal follows.
type Direction string

const (
	// DirectionOutbound follows edges from source to target.
	DirectionOutbound Direction = "outbound"

	// DirectionInbound follows edges from target to source.
	DirectionInbound Direction = "inbound"
)

// ParseDirection converts a user supplied direction. Empty means outbound.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionOutbound:
		return DirectionOutbound, nil
	case DirectionInbound:
		return DirectionInbound, nil
	default:
		return "", fmt.Errorf("%w: direction %q must be outbound or inbound", ErrInvalidInput, s)
	}
}

// TraverseOptions bounds a breadth-first traversal.
type TraverseOptions struct {
	// RelType is the only relationship type followed. Required.
	RelType types.RelationshipType

	// Direction defaults to outbound.
	Direction Direction

	// MaxDepth is inclusive: nodes at this depth are reported but not expanded.
	// Zero reaches only the start node, so nothing is reported.
	// Negative means DefaultMaxDepth.
	MaxDepth int
}

// Normalize applies defaults to the TraverseOptions.
func (o *TraverseOptions) Normalize() {
	if o.Direction == "" {
		o.Direction = DirectionOutbound
	}

	if o.MaxDepth < 0 {
		o.MaxDepth = DefaultMaxDepth
	}
}
