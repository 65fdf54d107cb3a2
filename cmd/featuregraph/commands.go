package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/featuregraph/internal/backup"
	"github.com/scrypster/featuregraph/internal/builder"
	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/internal/watch"
	"github.com/scrypster/featuregraph/pkg/types"
)

// errIndexDisabled is returned by index-backed commands when index.enabled is false.
var errIndexDisabled = errors.New("index is disabled; set index.enabled or FEATUREGRAPH_INDEX_ENABLED=true")

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "featuregraph",
		Short:        "Build and query feature knowledge graphs from planning documents",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file path (default: ./featuregraph.yaml when present)")

	root.AddCommand(
		c.buildCmd(),
		c.rebuildCmd(),
		c.syncCmd(),
		c.summaryCmd(),
		c.entitiesCmd(),
		c.relationshipsCmd(),
		c.traverseCmd(),
		c.getCmd(),
		c.searchCmd(),
		c.whereCmd(),
		c.watchCmd(),
		c.backupCmd(),
	)
	return root
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <file> <slug>",
		Short: "Build a feature graph from one requirements document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			res, err := a.builder.BuildFromRequirements(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.printJSON(res)
		},
	}
}

func (c *cli) rebuildCmd() *cobra.Command {
	var searchDir string
	cmd := &cobra.Command{
		Use:   "rebuild <slug>",
		Short: "Rebuild a feature graph from every matching requirements document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			if searchDir == "" {
				searchDir = a.cfg.Sync.SearchDir
			}
			res, err := a.builder.RebuildFeature(cmd.Context(), args[0], searchDir)
			if err != nil {
				return err
			}
			return c.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&searchDir, "search-dir", "", "Directory to search (default: sync.search_dir)")
	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	var (
		searchDir  string
		background bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Build a graph for every requirements document in the search directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			if searchDir == "" {
				searchDir = a.cfg.Sync.SearchDir
			}

			if a.cfg.Backup.BeforeSync {
				svc, err := a.backupService()
				if err != nil {
					return err
				}
				snap, err := svc.BackupNow(cmd.Context())
				if err != nil {
					return err
				}
				a.logger.Info("pre-sync backup written", "component", "cli", "path", snap.Path)
			}

			if !background {
				results, err := a.builder.SyncAll(cmd.Context(), searchDir)
				if err != nil {
					return err
				}
				return c.printJSON(results)
			}

			jobID, err := a.builder.StartSync(cmd.Context(), searchDir)
			if err != nil {
				return err
			}
			job, _ := a.builder.SyncJob(jobID)
			ticker := time.NewTicker(250 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-job.Done:
					results, err := job.Result()
					if err != nil {
						return err
					}
					a.logger.Info("sync finished", "component", "cli", "job_id", jobID, "duration", job.Duration())
					return c.printJSON(results)
				case <-ticker.C:
					p := job.Progress()
					a.logger.Info("sync progress", "component", "cli",
						"job_id", jobID, "processed", p.FilesProcessed, "total", p.FilesTotal, "file", p.CurrentFile)
				}
			}
		},
	}
	cmd.Flags().StringVar(&searchDir, "search-dir", "", "Directory to search (default: sync.search_dir)")
	cmd.Flags().BoolVar(&background, "background", false, "Run as a tracked job and log progress while it runs")
	return cmd
}

func (c *cli) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <slug>",
		Short: "Count a feature graph's entities and relationships by type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			summary, err := a.builder.GetFeatureSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJSON(summary)
		},
	}
}

func (c *cli) entitiesCmd() *cobra.Command {
	var (
		entityType string
		filters    []string
	)
	cmd := &cobra.Command{
		Use:   "entities <slug>",
		Short: "List entities, optionally filtered by type and field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := storage.EntityQuery{}
			if entityType != "" {
				t, err := types.ParseEntityType(entityType)
				if err != nil {
					return err
				}
				q.Type = t
			}
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}
			q.Filters = parsed

			a, err := c.open()
			if err != nil {
				return err
			}
			records, err := a.store.QueryEntities(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			return c.printJSON(records)
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "Entity type (feature, requirement, ...)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Field filter as key=value; repeatable, all must match")
	return cmd
}

// parseFilters turns key=value pairs into query filters. Values that parse
// as JSON (numbers, booleans, null) keep their JSON type; anything else is a string.
func parseFilters(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: filter %q must be key=value", storage.ErrInvalidInput, pair)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		filters[key] = value
	}
	return filters, nil
}

func (c *cli) relationshipsCmd() *cobra.Command {
	var source, target, relType string
	cmd := &cobra.Command{
		Use:   "relationships <slug>",
		Short: "List relationships in file order, optionally filtered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := storage.RelationshipQuery{SourceID: source, TargetID: target}
			if relType != "" {
				t, err := types.ParseRelationshipType(relType)
				if err != nil {
					return err
				}
				q.Type = t
			}

			a, err := c.open()
			if err != nil {
				return err
			}
			records, err := a.store.QueryRelationships(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			return c.printJSON(records)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source entity id")
	cmd.Flags().StringVar(&target, "target", "", "Target entity id")
	cmd.Flags().StringVar(&relType, "type", "", "Relationship type (requires, depends_on, ...)")
	return cmd
}

func (c *cli) traverseCmd() *cobra.Command {
	var (
		relType   string
		direction string
		depth     int
	)
	cmd := &cobra.Command{
		Use:   "traverse <slug> <start-id>",
		Short: "List entity ids reachable from a start entity over one relationship type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.ParseRelationshipType(relType)
			if err != nil {
				return err
			}
			dir, err := storage.ParseDirection(direction)
			if err != nil {
				return err
			}

			a, err := c.open()
			if err != nil {
				return err
			}
			ids, err := a.store.Traverse(cmd.Context(), args[0], args[1], storage.TraverseOptions{
				RelType:   t,
				Direction: dir,
				MaxDepth:  depth,
			})
			if err != nil {
				return err
			}
			return c.printJSON(ids)
		},
	}
	cmd.Flags().StringVar(&relType, "type", "", "Relationship type to follow")
	cmd.Flags().StringVar(&direction, "direction", string(storage.DirectionOutbound), "outbound or inbound")
	cmd.Flags().IntVar(&depth, "depth", storage.DefaultMaxDepth, "Maximum hops from the start entity")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <slug> <id>",
		Short: "Print one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			rec, ok, err := a.store.GetEntity(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: entity %s in %s", storage.ErrNotFound, args[1], args[0])
			}
			return c.printJSON(rec)
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "search <name-substring>",
		Short: "Search entity names across every indexed feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t types.EntityType
			if entityType != "" {
				parsed, err := types.ParseEntityType(entityType)
				if err != nil {
					return err
				}
				t = parsed
			}

			a, err := c.open()
			if err != nil {
				return err
			}
			if a.index == nil {
				return errIndexDisabled
			}
			found, err := a.index.SearchEntities(cmd.Context(), args[0], t)
			if err != nil {
				return err
			}
			return c.printJSON(found)
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "Restrict to one entity type")
	return cmd
}

func (c *cli) whereCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "where <entity-id>",
		Short: "List the indexed features that contain an entity id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			if a.index == nil {
				return errIndexDisabled
			}
			slugs, err := a.index.FeaturesForEntity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJSON(slugs)
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var searchDir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild feature graphs as requirements documents change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			if searchDir == "" {
				searchDir = a.cfg.Sync.SearchDir
			}

			w := watch.New(searchDir, a.cfg.Sync.Debounce, buildHandler(a.builder), a.logger)
			w.SetRateLimit(a.cfg.Sync.RateLimit)
			if err := w.Start(); err != nil {
				return err
			}
			a.logger.Info("watching for requirements changes", "component", "cli", "dir", searchDir)

			var scheduled chan error
			if a.cfg.Backup.Interval > 0 {
				svc, err := a.backupService()
				if err != nil {
					w.Stop()
					return err
				}
				scheduled = make(chan error, 1)
				go func() { scheduled <- svc.Start(cmd.Context()) }()
			}

			<-cmd.Context().Done()
			w.Stop()
			if scheduled != nil {
				<-scheduled
			}
			a.logger.Info("watcher stopped", "component", "cli")
			return nil
		},
	}
	cmd.Flags().StringVar(&searchDir, "search-dir", "", "Directory to watch (default: sync.search_dir)")
	return cmd
}

// buildHandler rebuilds the changed document's feature graph.
func buildHandler(b *builder.Builder) watch.Handler {
	return func(ctx context.Context, path, slug string) error {
		_, err := b.BuildFromRequirements(ctx, path, slug)
		return err
	}
}

func (c *cli) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot and restore the graph directory",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Write a snapshot of every feature graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			svc, err := a.backupService()
			if err != nil {
				return err
			}
			res, err := svc.BackupNow(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(res)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first, with backup health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			svc, err := a.backupService()
			if err != nil {
				return err
			}
			health, err := svc.HealthCheck()
			if err != nil {
				return err
			}
			backups, err := svc.ListBackups()
			if err != nil {
				return err
			}
			return c.printJSON(struct {
				Health  *backup.HealthStatus `json:"health"`
				Backups []backup.BackupInfo  `json:"backups"`
			}{health, backups})
		},
	}

	restore := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Replace every feature graph with a snapshot's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			svc, err := a.backupService()
			if err != nil {
				return err
			}
			res, err := svc.RestoreBackup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.refresh(cmd.Context(), res); err != nil {
				return err
			}
			return c.printJSON(res)
		},
	}

	cmd.AddCommand(create, list, restore)
	return cmd
}
