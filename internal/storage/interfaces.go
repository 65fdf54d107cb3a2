// Package storage defines the graph store contract for feature knowledge graphs.
//
// A feature graph is identified by its slug. Implementations persist the
// entities and relationships of a feature and answer read-only queries over
// them. Reads may be served from a cache; the returned values are shared and
// must not be mutated by callers.
package storage

import (
	"context"

	"github.com/scrypster/featuregraph/pkg/types"
)

// GraphStore persists and queries per-feature knowledge graphs.
type GraphStore interface {
	// SaveGraph replaces the persisted graph for slug.
	// Entities are written first, then relationships. The previous graph is
	// left intact if the write fails.
	SaveGraph(ctx context.Context, slug string, entities []types.Node, relationships []types.Relationship) error

	// LoadGraph returns the graph for slug.
	// A feature that has never been saved yields an empty graph, not an error.
	LoadGraph(ctx context.Context, slug string) (*Graph, error)

	// QueryEntities returns entities matching the query, ordered by id.
	QueryEntities(ctx context.Context, slug string, q EntityQuery) ([]types.Record, error)

	// QueryRelationships returns relationships matching the query in file order.
	QueryRelationships(ctx context.Context, slug string, q RelationshipQuery) ([]types.Record, error)

	// Traverse returns the ids reachable from startID, in breadth-first
	// discovery order, excluding startID itself.
	Traverse(ctx context.Context, slug, startID string, opts TraverseOptions) ([]string, error)

	// GetEntity returns the entity with id. The bool is false when absent.
	GetEntity(ctx context.Context, slug, id string) (types.Record, bool, error)

	// InvalidateCache drops cached state for slug, or for every slug when empty.
	InvalidateCache(slug string)
}

// GraphIndex mirrors saved graphs for cross-feature lookups.
// It is never the source of truth.
type GraphIndex interface {
	// IndexGraph replaces everything indexed for slug with graph.
	IndexGraph(ctx context.Context, slug string, graph *Graph) error

	// RemoveFeature drops everything indexed for slug.
	RemoveFeature(ctx context.Context, slug string) error

	// Close releases any resources held by the index.
	Close() error
}
