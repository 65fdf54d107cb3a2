package builder

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/featuregraph/internal/parser"
	"github.com/scrypster/featuregraph/internal/storage"
)

// Sync job states.
const (
	JobRunning  = "running"
	JobComplete = "complete"
	JobFailed   = "failed"
)

// SyncProgress carries live progress data for a running sync job.
type SyncProgress struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	FilesTotal     int    `json:"files_total"`
	FilesProcessed int    `json:"files_processed"`
	CurrentFile    string `json:"current_file,omitempty"`
	Message        string `json:"message,omitempty"`
}

// SyncJob tracks the state of an asynchronous SyncAll.
type SyncJob struct {
	mu       sync.RWMutex
	progress SyncProgress
	results  []BuildResult
	err      error
	duration time.Duration

	// Done is closed when the job finishes.
	Done chan struct{}
}

func newSyncJob(jobID string) *SyncJob {
	return &SyncJob{
		progress: SyncProgress{JobID: jobID, Status: JobRunning},
		Done:     make(chan struct{}),
	}
}

// Progress returns a snapshot of the job's progress.
func (j *SyncJob) Progress() SyncProgress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Result returns the per-feature results and the error of a finished job.
// Both are nil while the job is running.
func (j *SyncJob) Result() ([]BuildResult, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.results, j.err
}

// Duration returns how long a finished job ran.
func (j *SyncJob) Duration() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.duration
}

func (j *SyncJob) update(fn func(p *SyncProgress)) {
	j.mu.Lock()
	fn(&j.progress)
	j.mu.Unlock()
}

// syncCandidate is a discovered document and the slug it builds.
type syncCandidate struct {
	path string
	slug string
}

// SyncAll builds a graph for every "*requirements-*.md" document under
// searchDir, skipping EXAMPLE- and TEMPLATE- samples and names that do not
// yield a valid slug. Documents are parsed concurrently and saved one at a
// time in path order, so when two documents map to the same slug the later
// path wins. The first parse or save error aborts the sync.
func (b *Builder) SyncAll(ctx context.Context, searchDir string) ([]BuildResult, error) {
	return b.syncAll(ctx, searchDir, nil)
}

func (b *Builder) syncAll(ctx context.Context, searchDir string, job *SyncJob) ([]BuildResult, error) {
	candidates, err := b.syncCandidates(searchDir)
	if err != nil {
		return nil, fmt.Errorf("builder: sync: %w", err)
	}

	if job != nil {
		job.update(func(p *SyncProgress) { p.FilesTotal = len(candidates) })
	}

	parsed := make([]*parser.Result, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := parser.ParseFile(c.path)
			if err != nil {
				return err
			}
			parsed[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("builder: sync: %w", err)
	}

	results := make([]BuildResult, 0, len(candidates))
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if job != nil {
			job.update(func(p *SyncProgress) {
				p.FilesProcessed = i
				p.CurrentFile = c.path
			})
		}

		res, err := b.save(ctx, c.path, c.slug, parsed[i])
		if err != nil {
			return nil, fmt.Errorf("builder: sync: %w", err)
		}
		results = append(results, *res)
	}

	b.logger.Info("sync complete", "search_dir", searchDir, "features", len(results))
	return results, nil
}

// syncCandidates lists the documents SyncAll would build, in path order.
func (b *Builder) syncCandidates(searchDir string) ([]syncCandidate, error) {
	files, err := b.discover(searchDir, "*"+requirementsPrefix+"*.md")
	if err != nil {
		return nil, err
	}

	var candidates []syncCandidate
	for _, file := range files {
		slug, ok := SlugFromFilename(filepath.Base(file))
		if !ok {
			b.logger.Debug("skipping sample document", "path", file)
			continue
		}
		if err := storage.ValidateSlug(slug); err != nil {
			b.logger.Warn("skipping document with invalid slug", "path", file, "error", err)
			continue
		}
		candidates = append(candidates, syncCandidate{path: file, slug: slug})
	}
	return candidates, nil
}

// StartSync runs SyncAll in the background and returns a job id for
// SyncJob. The search directory is validated before the job starts.
func (b *Builder) StartSync(ctx context.Context, searchDir string) (string, error) {
	if _, err := b.discover(searchDir, "*.md"); err != nil {
		return "", fmt.Errorf("builder: start sync: %w", err)
	}

	jobID := uuid.New().String()
	job := newSyncJob(jobID)

	b.mu.Lock()
	b.jobs[jobID] = job
	b.mu.Unlock()

	go func() {
		start := time.Now()
		results, err := b.syncAll(ctx, searchDir, job)

		job.mu.Lock()
		job.results = results
		job.err = err
		job.duration = time.Since(start)
		job.progress.CurrentFile = ""
		if err != nil {
			job.progress.Status = JobFailed
			job.progress.Message = err.Error()
			b.logger.Error("sync job failed", "job_id", jobID, "error", err)
		} else {
			job.progress.Status = JobComplete
			job.progress.FilesProcessed = len(results)
			job.progress.Message = fmt.Sprintf("Built %d feature graphs", len(results))
		}
		job.mu.Unlock()
		close(job.Done)
	}()

	return jobID, nil
}

// SyncJob returns the job started with jobID, or false if unknown.
func (b *Builder) SyncJob(jobID string) (*SyncJob, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	job, ok := b.jobs[jobID]
	return job, ok
}
