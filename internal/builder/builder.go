// Package builder turns planning documents on disk into persisted feature graphs.
//
// A Builder discovers requirements documents, parses them, and saves the
// resulting entities and relationships through a storage.GraphStore. When an
// index is configured every successful save is mirrored into it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sony/gobreaker"

	"github.com/scrypster/featuregraph/internal/parser"
	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/pkg/types"
)

const (
	requirementsPrefix = "requirements-"
	requirementsSuffix = "-requirements"

	// DefaultWorkers is the parse concurrency used when Options.Workers is unset.
	DefaultWorkers = 4
)

// skippedPrefixes mark sample documents that are never synced.
var skippedPrefixes = []string{"EXAMPLE-", "TEMPLATE-"}

// BuildResult summarises one document saved as a feature graph.
type BuildResult struct {
	FeatureID         string `json:"feature_id"`
	FeatureSlug       string `json:"feature_slug"`
	EntityCount       int    `json:"entity_count"`
	RelationshipCount int    `json:"relationship_count"`
	SourceFile        string `json:"source_file"`
}

// RebuildResult summarises a feature rebuilt from every matching document.
type RebuildResult struct {
	FeatureSlug       string   `json:"feature_slug"`
	EntityCount       int      `json:"entity_count"`
	RelationshipCount int      `json:"relationship_count"`
	Sources           []string `json:"sources"`
}

// FeatureSummary counts what a persisted feature graph contains.
type FeatureSummary struct {
	FeatureSlug        string         `json:"feature_slug"`
	TotalEntities      int            `json:"total_entities"`
	TotalRelationships int            `json:"total_relationships"`
	EntityCounts       map[string]int `json:"entity_counts"`
	RelationshipCounts map[string]int `json:"relationship_counts"`
}

// Options configures a Builder.
type Options struct {
	// Index mirrors saved graphs. Nil disables indexing.
	Index storage.GraphIndex

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Recursive makes discovery descend into subdirectories of the search directory.
	Recursive bool

	// Workers bounds concurrent parsing during SyncAll. Defaults to DefaultWorkers.
	Workers int

	// IndexMaxFailures consecutive index failures pause index writes for
	// IndexCooldown. Zero values mean DefaultIndexMaxFailures and DefaultIndexCooldown.
	IndexMaxFailures uint32
	IndexCooldown    time.Duration
}

// Builder orchestrates parsing and persistence of feature graphs.
type Builder struct {
	store     storage.GraphStore
	index     storage.GraphIndex
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
	recursive bool
	workers   int

	// mu protects jobs.
	mu   sync.RWMutex
	jobs map[string]*SyncJob
}

// New creates a Builder that saves graphs into store.
func New(store storage.GraphStore, opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	b := &Builder{
		store:     store,
		index:     opts.Index,
		logger:    logger.With("component", "builder"),
		recursive: opts.Recursive,
		workers:   workers,
		jobs:      make(map[string]*SyncJob),
	}
	if b.index != nil {
		b.breaker = newIndexBreaker(opts.IndexMaxFailures, opts.IndexCooldown, func(from, to string) {
			b.logger.Warn("index breaker state changed", "from", from, "to", to)
		})
	}
	return b
}

// BuildFromRequirements parses the requirements document at path and
// replaces the graph for slug with its contents.
func (b *Builder) BuildFromRequirements(ctx context.Context, path, slug string) (*BuildResult, error) {
	res, err := parser.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("builder: build %s: %w", slug, err)
	}
	return b.save(ctx, path, slug, res)
}

// BuildFromConventions is reserved for coding-convention documents.
func (b *Builder) BuildFromConventions(ctx context.Context, path, slug string) (*BuildResult, error) {
	_, err := parser.ParseConventions(nil, path)
	return nil, fmt.Errorf("builder: build %s: %w", slug, err)
}

// BuildFromTechAnalysis is reserved for technical analysis documents.
func (b *Builder) BuildFromTechAnalysis(ctx context.Context, path, slug string) (*BuildResult, error) {
	_, err := parser.ParseTechAnalysis(nil, path)
	return nil, fmt.Errorf("builder: build %s: %w", slug, err)
}

// save persists one parse result and mirrors it into the index.
func (b *Builder) save(ctx context.Context, path, slug string, res *parser.Result) (*BuildResult, error) {
	rels := types.DedupRelationships(res.Relationships)

	if err := b.store.SaveGraph(ctx, slug, res.Entities, rels); err != nil {
		return nil, fmt.Errorf("builder: build %s: %w", slug, err)
	}
	b.reindex(ctx, slug)

	b.logger.Info("feature graph built",
		"slug", slug,
		"source", path,
		"entities", len(res.Entities),
		"relationships", len(rels))

	return &BuildResult{
		FeatureID:         res.Feature.ID,
		FeatureSlug:       slug,
		EntityCount:       len(res.Entities),
		RelationshipCount: len(rels),
		SourceFile:        path,
	}, nil
}

// reindex mirrors the persisted graph for slug. The graph files are
// authoritative, so failures are logged and the save still succeeds.
func (b *Builder) reindex(ctx context.Context, slug string) {
	if b.index == nil {
		return
	}
	graph, err := b.store.LoadGraph(ctx, slug)
	if err == nil {
		err = b.writeIndex(func() error {
			return b.index.IndexGraph(ctx, slug, graph)
		})
	}
	switch {
	case errors.Is(err, errIndexPaused):
		b.logger.Warn("index update skipped", "slug", slug, "error", err)
	case err != nil:
		b.logger.Error("index update failed", "slug", slug, "error", err)
	}
}

// RebuildFeature parses every "*requirements-<slug>.md" document under
// searchDir in path order and saves their combined contents as the graph for
// slug. When nothing matches the persisted graph is left untouched.
func (b *Builder) RebuildFeature(ctx context.Context, slug, searchDir string) (*RebuildResult, error) {
	if err := storage.ValidateSlug(slug); err != nil {
		return nil, fmt.Errorf("builder: rebuild: %w", err)
	}

	files, err := b.discover(searchDir, "*"+requirementsPrefix+slug+".md")
	if err != nil {
		return nil, fmt.Errorf("builder: rebuild %s: %w", slug, err)
	}

	result := &RebuildResult{FeatureSlug: slug, Sources: []string{}}
	var (
		entities []types.Node
		rels     []types.Relationship
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := parser.ParseFile(file)
		if err != nil {
			return nil, fmt.Errorf("builder: rebuild %s: %w", slug, err)
		}
		entities = append(entities, res.Entities...)
		rels = append(rels, res.Relationships...)
		result.Sources = append(result.Sources, file)
	}
	rels = types.DedupRelationships(rels)

	result.EntityCount = len(entities)
	result.RelationshipCount = len(rels)

	if len(entities) == 0 {
		b.logger.Info("no documents found, graph left unchanged", "slug", slug, "search_dir", searchDir)
		return result, nil
	}

	if err := b.store.SaveGraph(ctx, slug, entities, rels); err != nil {
		return nil, fmt.Errorf("builder: rebuild %s: %w", slug, err)
	}
	b.reindex(ctx, slug)

	b.logger.Info("feature graph rebuilt",
		"slug", slug,
		"sources", len(result.Sources),
		"entities", result.EntityCount,
		"relationships", result.RelationshipCount)

	return result, nil
}

// GetFeatureSummary counts the entities and relationships of slug by type.
func (b *Builder) GetFeatureSummary(ctx context.Context, slug string) (*FeatureSummary, error) {
	entities, err := b.store.QueryEntities(ctx, slug, storage.EntityQuery{})
	if err != nil {
		return nil, fmt.Errorf("builder: summary %s: %w", slug, err)
	}
	rels, err := b.store.QueryRelationships(ctx, slug, storage.RelationshipQuery{})
	if err != nil {
		return nil, fmt.Errorf("builder: summary %s: %w", slug, err)
	}

	summary := &FeatureSummary{
		FeatureSlug:        slug,
		TotalEntities:      len(entities),
		TotalRelationships: len(rels),
		EntityCounts:       make(map[string]int),
		RelationshipCounts: make(map[string]int),
	}
	for _, rec := range entities {
		summary.EntityCounts[types.RecordString(rec, "type")]++
	}
	for _, rec := range rels {
		summary.RelationshipCounts[types.RecordString(rec, "type")]++
	}
	return summary, nil
}

// SlugFromFilename derives the feature slug for a requirements document name.
// "requirements-<slug>.md" and "<slug>-requirements.md" yield <slug>; other
// names yield their stem. ok is false for names that are not synced: anything
// not matching "*requirements-*.md" and the EXAMPLE-/TEMPLATE- samples.
func SlugFromFilename(name string) (slug string, ok bool) {
	base := filepath.Base(name)
	if matched, _ := path.Match("*"+requirementsPrefix+"*.md", base); !matched {
		return "", false
	}
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(base, prefix) {
			return "", false
		}
	}

	stem := strings.TrimSuffix(base, ".md")
	switch {
	case strings.HasPrefix(stem, requirementsPrefix):
		stem = strings.TrimPrefix(stem, requirementsPrefix)
	case strings.HasSuffix(stem, requirementsSuffix):
		stem = strings.TrimSuffix(stem, requirementsSuffix)
	}
	return stem, true
}

// discover returns the sorted paths under searchDir matching pattern.
// Recursive builders also search every subdirectory.
func (b *Builder) discover(searchDir, pattern string) ([]string, error) {
	info, err := os.Stat(searchDir)
	if err != nil {
		return nil, fmt.Errorf("search directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", storage.ErrInvalidInput, searchDir)
	}

	if b.recursive {
		pattern = "**/" + pattern
	}

	matches, err := doublestar.Glob(os.DirFS(searchDir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, filepath.Join(searchDir, filepath.FromSlash(m)))
	}
	sort.Strings(files)
	return files, nil
}
