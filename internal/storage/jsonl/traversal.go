package jsonl

import (
	"context"
	"fmt"

	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/pkg/types"
)

// Traverse walks relationships of opts.RelType breadth-first from startID and
// returns every reached id in discovery order, excluding startID.
//
// Each id is reported once even when the graph has cycles. Nodes at depth
// opts.MaxDepth are reported but not expanded. Ids without a matching entity
// are reported like any other.
func (s *Store) Traverse(ctx context.Context, slug, startID string, opts storage.TraverseOptions) ([]string, error) {
	opts.Normalize()
	if opts.RelType == "" {
		return nil, fmt.Errorf("jsonl: traverse: %w: relationship type is required", storage.ErrInvalidInput)
	}
	if opts.Direction != storage.DirectionOutbound && opts.Direction != storage.DirectionInbound {
		return nil, fmt.Errorf("jsonl: traverse: %w: direction %q", storage.ErrInvalidInput, opts.Direction)
	}

	graph, err := s.LoadGraph(ctx, slug)
	if err != nil {
		return nil, err
	}

	adjacency := buildAdjacency(graph.Relationships, opts.RelType, opts.Direction)

	type queueItem struct {
		id    string
		depth int
	}

	queue := []queueItem{{startID, 0}}
	visited := map[string]bool{startID: true}
	results := []string{}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := queue[0]
		queue = queue[1:]

		if current.depth >= opts.MaxDepth {
			continue
		}

		for _, next := range adjacency[current.id] {
			if visited[next] {
				continue
			}
			visited[next] = true
			results = append(results, next)
			queue = append(queue, queueItem{next, current.depth + 1})
		}
	}

	return results, nil
}

// buildAdjacency maps each node to its neighbours along relType in file order.
func buildAdjacency(rels []types.Record, relType types.RelationshipType, dir storage.Direction) map[string][]string {
	from, to := "source_id", "target_id"
	if dir == storage.DirectionInbound {
		from, to = to, from
	}

	adjacency := make(map[string][]string)
	for _, rec := range rels {
		if types.RecordString(rec, "type") != string(relType) {
			continue
		}
		src := types.RecordString(rec, from)
		adjacency[src] = append(adjacency[src], types.RecordString(rec, to))
	}
	return adjacency
}
