// Package sqlite mirrors feature graphs into a SQLite database for lookups
// that span features. The JSONL graph files remain the source of truth; the
// index can be dropped and rebuilt from them at any time.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/pkg/types"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Ensure Index implements storage.GraphIndex at compile time.
var _ storage.GraphIndex = (*Index)(nil)

// IndexedEntity is one entity row of the index.
type IndexedEntity struct {
	Slug   string           `json:"slug"`
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Type   types.EntityType `json:"type"`
	Record types.Record     `json:"record"`
}

// Index implements storage.GraphIndex using SQLite.
type Index struct {
	db *sql.DB
}

// NewIndex opens (creating if needed) the index database at dsn and applies
// pending migrations. Stale WAL files left by a crashed process are removed
// and the open retried once.
func NewIndex(dsn string) (*Index, error) {
	idx, err := openIndex(dsn)
	if err == nil {
		return idx, nil
	}

	if !walLeftover(err) {
		return nil, err
	}
	dbPath := indexPath(dsn)
	if dbPath == "" {
		return nil, err
	}
	stale := staleSidecars(dbPath)
	if len(stale) == 0 {
		return nil, err
	}
	if rmErr := removeSidecars(stale); rmErr != nil {
		return nil, fmt.Errorf("sqlite: recover %s: %w (open: %v)", dbPath, rmErr, err)
	}

	idx, retryErr := openIndex(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: open after removing stale WAL files: %w (original: %v)", retryErr, err)
	}

	slog.Warn("removed stale WAL files", "component", "index", "path", dbPath, "files", stale)
	return idx, nil
}

// openIndex opens a SQLite database, configures WAL mode, and migrates the schema.
func openIndex(dsn string) (*Index, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	mgr, err := storage.NewMigrationManager(db, migrationFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}
	if err := mgr.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}

	return &Index{db: db}, nil
}

// Close checkpoints the WAL and releases the database connection.
func (x *Index) Close() error {
	if _, err := x.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("WAL checkpoint failed", "component", "index", "error", err)
	}
	return x.db.Close()
}

// IndexGraph replaces every row indexed for slug with the contents of graph
// in a single transaction.
func (x *Index) IndexGraph(ctx context.Context, slug string, graph *storage.Graph) error {
	if slug == "" {
		return fmt.Errorf("sqlite: index: %w: slug is required", storage.ErrInvalidInput)
	}
	if graph == nil {
		graph = storage.NewGraph()
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: index %s: begin: %w", slug, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteFeature(ctx, tx, slug); err != nil {
		return fmt.Errorf("sqlite: index %s: %w", slug, err)
	}

	entityStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO indexed_entities (slug, id, name, type, record) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: index %s: prepare entities: %w", slug, err)
	}
	defer entityStmt.Close()

	// Sorted so the rowid order is stable across rebuilds.
	ids := make([]string, 0, len(graph.Entities))
	for id := range graph.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := graph.Entities[id]
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("sqlite: index %s: encode entity %s: %w", slug, id, err)
		}
		if _, err := entityStmt.ExecContext(ctx, slug, id,
			types.RecordString(rec, "name"), types.RecordString(rec, "type"), string(data)); err != nil {
			return fmt.Errorf("sqlite: index %s: insert entity %s: %w", slug, id, err)
		}
	}

	relStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO indexed_relationships (slug, rel_id, source_id, target_id, type, position) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: index %s: prepare relationships: %w", slug, err)
	}
	defer relStmt.Close()

	for i, rec := range graph.Relationships {
		source := types.RecordString(rec, "source_id")
		target := types.RecordString(rec, "target_id")
		relType := types.RecordString(rec, "type")
		relID := types.RelationshipID(source, types.RelationshipType(relType), target)
		if _, err := relStmt.ExecContext(ctx, slug, relID, source, target, relType, i); err != nil {
			return fmt.Errorf("sqlite: index %s: insert relationship %s: %w", slug, relID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: index %s: commit: %w", slug, err)
	}
	return nil
}

// RemoveFeature drops every row indexed for slug.
func (x *Index) RemoveFeature(ctx context.Context, slug string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: remove %s: begin: %w", slug, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteFeature(ctx, tx, slug); err != nil {
		return fmt.Errorf("sqlite: remove %s: %w", slug, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: remove %s: commit: %w", slug, err)
	}
	return nil
}

func deleteFeature(ctx context.Context, tx *sql.Tx, slug string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM indexed_entities WHERE slug = ?`, slug); err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM indexed_relationships WHERE slug = ?`, slug); err != nil {
		return fmt.Errorf("delete relationships: %w", err)
	}
	return nil
}

// FeaturesForEntity returns the sorted slugs of every feature containing entityID.
func (x *Index) FeaturesForEntity(ctx context.Context, entityID string) ([]string, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT slug FROM indexed_entities WHERE id = ? ORDER BY slug`, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: features for %s: %w", entityID, err)
	}
	defer rows.Close()

	slugs := []string{}
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("sqlite: features for %s: scan: %w", entityID, err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// SearchEntities returns entities whose name contains nameSubstring
// (case-insensitive), optionally restricted to entityType, ordered by slug then id.
func (x *Index) SearchEntities(ctx context.Context, nameSubstring string, entityType types.EntityType) ([]IndexedEntity, error) {
	query := `SELECT slug, id, name, type, record FROM indexed_entities WHERE instr(lower(name), ?) > 0`
	args := []interface{}{strings.ToLower(nameSubstring)}
	if entityType != "" {
		query += ` AND type = ?`
		args = append(args, string(entityType))
	}
	query += ` ORDER BY slug, id`

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search entities: %w", err)
	}
	defer rows.Close()

	results := []IndexedEntity{}
	for rows.Next() {
		var (
			e       IndexedEntity
			rawType string
			raw     string
		)
		if err := rows.Scan(&e.Slug, &e.ID, &e.Name, &rawType, &raw); err != nil {
			return nil, fmt.Errorf("sqlite: search entities: scan: %w", err)
		}
		e.Type = types.EntityType(rawType)
		if err := json.Unmarshal([]byte(raw), &e.Record); err != nil {
			return nil, fmt.Errorf("sqlite: search entities: %w: %v", storage.ErrMalformed, err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// RelationshipCount returns the number of indexed relationships for slug.
func (x *Index) RelationshipCount(ctx context.Context, slug string) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM indexed_relationships WHERE slug = ?`, slug).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count relationships %s: %w", slug, err)
	}
	return n, nil
}
