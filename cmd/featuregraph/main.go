// Command featuregraph builds and queries feature knowledge graphs.
//
// Requirements documents under the configured search directory are parsed
// into per-feature JSONL graphs under the memory directory. Every query
// command prints JSON to stdout; logs go to stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/featuregraph/internal/backup"
	"github.com/scrypster/featuregraph/internal/builder"
	"github.com/scrypster/featuregraph/internal/config"
	"github.com/scrypster/featuregraph/internal/storage/jsonl"
	"github.com/scrypster/featuregraph/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes the command line in args and releases whatever the command opened.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := c.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// app holds the components a command works with.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *jsonl.Store
	index   *sqlite.Index
	builder *builder.Builder
	backups *backup.Service
}

// backupService creates the snapshot service on first use so commands that
// never back up do not create the backup directory.
func (a *app) backupService() (*backup.Service, error) {
	if a.backups != nil {
		return a.backups, nil
	}
	r := a.cfg.Backup.Retention
	svc, err := backup.NewService(backup.Config{
		MemoryDir: a.cfg.Storage.MemoryDir,
		BackupDir: a.cfg.Backup.Dir,
		Interval:  a.cfg.Backup.Interval,
		Verify:    a.cfg.Backup.Verify,
		Retention: backup.RetentionPolicy{
			Hourly:  r.Hourly,
			Daily:   r.Daily,
			Weekly:  r.Weekly,
			Monthly: r.Monthly,
		},
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.backups = svc
	return svc, nil
}

// cli carries flag state shared by every command and opens the app lazily,
// so help and usage output never touch the filesystem.
type cli struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	app *app
}

func (c *cli) open() (*app, error) {
	if c.app != nil {
		return c.app, nil
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger(c.stderr)
	for _, warning := range cfg.Validate() {
		logger.Warn("config warning", "component", "cli", "warning", warning)
	}

	store, err := jsonl.NewStore(cfg.Storage.MemoryDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store}
	opts := builder.Options{
		Logger:           logger,
		Recursive:        cfg.Sync.Recursive,
		Workers:          cfg.Sync.Workers,
		IndexMaxFailures: cfg.Index.MaxFailures,
		IndexCooldown:    cfg.Index.Cooldown,
	}
	if cfg.Index.Enabled {
		idx, err := sqlite.NewIndex(cfg.Index.DSN)
		if err != nil {
			return nil, fmt.Errorf("open index %s: %w", cfg.Index.DSN, err)
		}
		a.index = idx
		opts.Index = idx
	}
	a.builder = builder.New(store, opts)

	c.app = a
	return a, nil
}

// refresh drops cached graphs a restore replaced and brings the index in
// line with the restored files.
func (a *app) refresh(ctx context.Context, res *backup.RestoreResult) error {
	for _, slug := range res.Removed {
		a.store.InvalidateCache(slug)
		if a.index != nil {
			if err := a.index.RemoveFeature(ctx, slug); err != nil {
				return err
			}
		}
	}
	for _, slug := range res.Restored {
		a.store.InvalidateCache(slug)
		if a.index == nil {
			continue
		}
		graph, err := a.store.LoadGraph(ctx, slug)
		if err != nil {
			return err
		}
		if err := a.index.IndexGraph(ctx, slug, graph); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	a := c.app
	c.app = nil
	if a.index == nil {
		return nil
	}
	return a.index.Close()
}
