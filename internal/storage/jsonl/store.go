// Package jsonl implements storage.GraphStore as one JSON Lines file per feature.
//
// Each feature graph lives at <dir>/<slug>.jsonl: one JSON object per line,
// entities first and then relationships. A line is a relationship exactly
// when it carries a "source_id" key. Saves replace the file atomically via a
// temp sibling and rename, so readers never observe a partial graph.
//
// Loaded graphs are cached per slug and revalidated against the file's
// modification time on every read. The store assumes a single writer.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/pkg/types"
)

// Ensure Store implements storage.GraphStore at compile time.
var _ storage.GraphStore = (*Store)(nil)

const (
	fileExt = ".jsonl"

	// maxLineSize bounds a single record. bufio.Scanner's default of 64 KiB is
	// too small for entities carrying long acceptance criteria lists.
	maxLineSize = 1 << 20
)

type cacheEntry struct {
	modTime time.Time
	graph   *storage.Graph
}

// Store persists feature graphs under a single directory.
type Store struct {
	dir string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("jsonl: %w: directory is required", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: create directory %s: %w", dir, err)
	}
	return &Store{
		dir:   dir,
		cache: make(map[string]cacheEntry),
	}, nil
}

// Dir returns the directory holding the graph files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path for slug. The slug is not validated.
func (s *Store) Path(slug string) string {
	return filepath.Join(s.dir, slug+fileExt)
}

// Slugs lists the features that have a graph file, sorted.
func (s *Store) Slugs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("jsonl: list %s: %w", s.dir, err)
	}

	var slugs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		slug := strings.TrimSuffix(name, fileExt)
		if storage.ValidateSlug(slug) != nil {
			continue
		}
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// SaveGraph atomically replaces the graph file for slug.
// An empty entity and relationship list produces a zero-byte file.
// Duplicate relationships are written as given.
func (s *Store) SaveGraph(ctx context.Context, slug string, entities []types.Node, relationships []types.Relationship) error {
	if err := storage.ValidateSlug(slug); err != nil {
		return fmt.Errorf("jsonl: save: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for _, e := range entities {
		rec, err := types.ToRecord(e)
		if err != nil {
			return fmt.Errorf("jsonl: save %s: entity %s: %w", slug, e.Base().ID, err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("jsonl: save %s: entity %s: %w", slug, e.Base().ID, err)
		}
	}
	for _, r := range relationships {
		rec, err := r.ToRecord()
		if err != nil {
			return fmt.Errorf("jsonl: save %s: relationship %s: %w", slug, r.ID(), err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("jsonl: save %s: relationship %s: %w", slug, r.ID(), err)
		}
	}

	if err := writeFileAtomic(s.dir, slug, buf.Bytes()); err != nil {
		return fmt.Errorf("jsonl: save %s: %w", slug, err)
	}

	s.InvalidateCache(slug)
	return nil
}

// writeFileAtomic writes data to a temp sibling of <slug>.jsonl and renames it
// into place. The temp file is removed on any failure.
func writeFileAtomic(dir, slug string, data []byte) error {
	tempFile, err := os.CreateTemp(dir, "."+slug+fileExt+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write graph: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync graph: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close graph: %w", err)
	}

	if err := os.Chmod(tempPath, 0o644); err != nil {
		return fmt.Errorf("chmod graph: %w", err)
	}

	if err := os.Rename(tempPath, filepath.Join(dir, slug+fileExt)); err != nil {
		return fmt.Errorf("rename graph: %w", err)
	}

	success = true
	return nil
}

// LoadGraph returns the graph for slug, reading the file only when the cached
// copy is missing or its modification time no longer matches.
//
// The returned graph is shared with the cache and must not be modified.
func (s *Store) LoadGraph(ctx context.Context, slug string) (*storage.Graph, error) {
	if err := storage.ValidateSlug(slug); err != nil {
		return nil, fmt.Errorf("jsonl: load: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(slug)

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		delete(s.cache, slug)
		return storage.NewGraph(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonl: load %s: %w", slug, err)
	}

	if entry, ok := s.cache[slug]; ok && entry.modTime.Equal(info.ModTime()) {
		return entry.graph, nil
	}

	graph, err := readGraph(path)
	if errors.Is(err, fs.ErrNotExist) {
		// Removed between stat and open.
		delete(s.cache, slug)
		return storage.NewGraph(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonl: load %s: %w", slug, err)
	}

	s.cache[slug] = cacheEntry{modTime: info.ModTime(), graph: graph}
	return graph, nil
}

// readGraph decodes a graph file line by line.
func readGraph(path string) (*storage.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	graph := storage.NewGraph()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec types.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", storage.ErrMalformed, lineNo, err)
		}
		if rec == nil {
			return nil, fmt.Errorf("%w: line %d: not a JSON object", storage.ErrMalformed, lineNo)
		}

		if _, isRel := rec["source_id"]; isRel {
			graph.Relationships = append(graph.Relationships, rec)
			continue
		}

		id, ok := rec["id"].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("%w: line %d: entity without id", storage.ErrMalformed, lineNo)
		}
		graph.Entities[id] = rec
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: line %d exceeds %d bytes", storage.ErrMalformed, lineNo+1, maxLineSize)
		}
		return nil, err
	}

	return graph, nil
}

// QueryEntities returns entities of q.Type (any type when empty) whose
// attributes equal every filter value, ordered by id.
func (s *Store) QueryEntities(ctx context.Context, slug string, q storage.EntityQuery) ([]types.Record, error) {
	graph, err := s.LoadGraph(ctx, slug)
	if err != nil {
		return nil, err
	}

	results := []types.Record{}
	for _, rec := range graph.Entities {
		if q.Type != "" && types.RecordString(rec, "type") != string(q.Type) {
			continue
		}
		if !matchesFilters(rec, q.Filters) {
			continue
		}
		results = append(results, rec)
	}

	sort.Slice(results, func(i, j int) bool {
		return types.RecordString(results[i], "id") < types.RecordString(results[j], "id")
	})
	return results, nil
}

// matchesFilters reports whether rec carries every filter key with an equal value.
func matchesFilters(rec types.Record, filters map[string]interface{}) bool {
	for key, want := range filters {
		got, ok := rec[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a decoded JSON value with a filter value. Typed
// strings compare by their string value and numbers by their float64 value,
// matching what encoding/json produces.
func valuesEqual(got, want interface{}) bool {
	w := reflect.ValueOf(want)
	if !w.IsValid() {
		return got == nil
	}
	switch w.Kind() {
	case reflect.String:
		s, ok := got.(string)
		return ok && s == w.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := got.(float64)
		return ok && f == float64(w.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := got.(float64)
		return ok && f == float64(w.Uint())
	case reflect.Float32, reflect.Float64:
		f, ok := got.(float64)
		return ok && f == w.Float()
	}
	return reflect.DeepEqual(got, want)
}

// QueryRelationships returns relationships matching q in file order.
func (s *Store) QueryRelationships(ctx context.Context, slug string, q storage.RelationshipQuery) ([]types.Record, error) {
	graph, err := s.LoadGraph(ctx, slug)
	if err != nil {
		return nil, err
	}

	results := []types.Record{}
	for _, rec := range graph.Relationships {
		if q.Matches(rec) {
			results = append(results, rec)
		}
	}
	return results, nil
}

// GetEntity returns the entity with id. Absence is reported by the bool.
func (s *Store) GetEntity(ctx context.Context, slug, id string) (types.Record, bool, error) {
	graph, err := s.LoadGraph(ctx, slug)
	if err != nil {
		return nil, false, err
	}
	rec, ok := graph.Entities[id]
	return rec, ok, nil
}

// InvalidateCache drops the cached graph for slug, or all cached graphs when slug is empty.
func (s *Store) InvalidateCache(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slug == "" {
		s.cache = make(map[string]cacheEntry)
		return
	}
	delete(s.cache, slug)
}
