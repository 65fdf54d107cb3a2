package builder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/featuregraph/internal/builder"
	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/internal/storage/jsonl"
	"github.com/scrypster/featuregraph/pkg/types"
)

const authDoc = `# Requirements: User Authentication

**Status**: active

#### FR-001: Login
**Priority**: High

#### FR-002: Logout
**Priority**: Low

### Performance

| ID | Requirement | Target Metric | Priority |
|----|-------------|---------------|----------|
| NFR-001 | Login latency | p95 < 200ms | High |
`

const billingDoc = `# Requirements: Billing

#### FR-001: Invoice
**Priority**: Medium
`

// recordingIndex captures IndexGraph calls.
type recordingIndex struct {
	mu     sync.Mutex
	graphs map[string]*storage.Graph
	calls  int
	err    error
}

func (r *recordingIndex) IndexGraph(_ context.Context, slug string, g *storage.Graph) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.graphs == nil {
		r.graphs = make(map[string]*storage.Graph)
	}
	r.graphs[slug] = g
	return r.err
}

func (r *recordingIndex) RemoveFeature(context.Context, string) error { return nil }
func (r *recordingIndex) Close() error                                { return nil }

type fixture struct {
	store     *jsonl.Store
	searchDir string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	store, err := jsonl.NewStore(filepath.Join(root, "graph"))
	require.NoError(t, err)
	searchDir := filepath.Join(root, "memory")
	require.NoError(t, os.MkdirAll(searchDir, 0o755))
	return fixture{store: store, searchDir: searchDir}
}

func (f fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.searchDir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildFromRequirements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idx := &recordingIndex{}
	b := builder.New(f.store, builder.Options{Index: idx})

	path := f.write(t, "requirements-auth.md", authDoc)

	res, err := b.BuildFromRequirements(ctx, path, "auth")
	require.NoError(t, err)
	assert.Equal(t, &builder.BuildResult{
		FeatureID:         "feature:requirements-auth",
		FeatureSlug:       "auth",
		EntityCount:       4,
		RelationshipCount: 3,
		SourceFile:        path,
	}, res)

	graph, err := f.store.LoadGraph(ctx, "auth")
	require.NoError(t, err)
	assert.Len(t, graph.Entities, 4)
	assert.Len(t, graph.Relationships, 3)

	require.Contains(t, idx.graphs, "auth")
	assert.Len(t, idx.graphs["auth"].Entities, 4)
}

func TestBuildFromRequirements_IndexFailureDoesNotFailBuild(t *testing.T) {
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{Index: &recordingIndex{err: errors.New("disk full")}})
	path := f.write(t, "requirements-auth.md", authDoc)

	_, err := b.BuildFromRequirements(context.Background(), path, "auth")
	assert.NoError(t, err)
}

func TestBuildFromRequirements_IndexBreaker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idx := &recordingIndex{err: errors.New("disk full")}
	b := builder.New(f.store, builder.Options{
		Index:            idx,
		IndexMaxFailures: 2,
		IndexCooldown:    time.Hour,
	})
	path := f.write(t, "requirements-auth.md", authDoc)
	assert.Equal(t, "closed", b.IndexState())

	for i := 0; i < 4; i++ {
		_, err := b.BuildFromRequirements(ctx, path, "auth")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, idx.calls, "writes stop once the breaker opens")
	assert.Equal(t, "open", b.IndexState())
	assert.FileExists(t, f.store.Path("auth"), "graph saves continue while the index is paused")
}

func TestIndexState_Disabled(t *testing.T) {
	b := builder.New(newFixture(t).store, builder.Options{})
	assert.Equal(t, "disabled", b.IndexState())
}

func TestBuildFromRequirements_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	_, err := b.BuildFromRequirements(ctx, filepath.Join(f.searchDir, "missing.md"), "auth")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	path := f.write(t, "requirements-auth.md", authDoc)
	_, err = b.BuildFromRequirements(ctx, path, "../escape")
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestBuildFromStubs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	_, err := b.BuildFromConventions(ctx, "conventions.md", "auth")
	assert.True(t, errors.Is(err, storage.ErrNotImplemented))

	_, err = b.BuildFromTechAnalysis(ctx, "tech-analysis-auth.md", "auth")
	assert.True(t, errors.Is(err, storage.ErrNotImplemented))
}

func TestRebuildFeature_NoMatchesLeavesGraphUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	require.NoError(t, f.store.SaveGraph(ctx, "auth", []types.Node{types.NewFeature("feature:auth", "Auth")}, nil))
	before, err := os.ReadFile(f.store.Path("auth"))
	require.NoError(t, err)
	beforeInfo, err := os.Stat(f.store.Path("auth"))
	require.NoError(t, err)

	f.write(t, "requirements-billing.md", billingDoc)

	res, err := b.RebuildFeature(ctx, "auth", f.searchDir)
	require.NoError(t, err)
	assert.Zero(t, res.EntityCount)
	assert.Empty(t, res.Sources)

	after, err := os.ReadFile(f.store.Path("auth"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	afterInfo, err := os.Stat(f.store.Path("auth"))
	require.NoError(t, err)
	assert.True(t, beforeInfo.ModTime().Equal(afterInfo.ModTime()))
}

func TestRebuildFeature_CombinesSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	first := f.write(t, "requirements-auth.md", authDoc)
	second := f.write(t, "v2-requirements-auth.md", billingDoc)
	f.write(t, "requirements-authz.md", billingDoc)

	res, err := b.RebuildFeature(ctx, "auth", f.searchDir)
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, res.Sources)
	assert.Equal(t, 6, res.EntityCount)
	assert.Equal(t, 4, res.RelationshipCount)

	graph, err := f.store.LoadGraph(ctx, "auth")
	require.NoError(t, err)
	assert.Contains(t, graph.Entities, "feature:requirements-auth")
	assert.Contains(t, graph.Entities, "feature:v2-requirements-auth")
	// Both documents define req:FR-001; the later source wins.
	assert.Equal(t, "Invoice", graph.Entities["req:FR-001"]["name"])
}

func TestRebuildFeature_Recursive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	nested := f.write(t, filepath.Join("features", "auth", "requirements-auth.md"), authDoc)

	flat := builder.New(f.store, builder.Options{})
	res, err := flat.RebuildFeature(ctx, "auth", f.searchDir)
	require.NoError(t, err)
	assert.Empty(t, res.Sources)

	deep := builder.New(f.store, builder.Options{Recursive: true})
	res, err = deep.RebuildFeature(ctx, "auth", f.searchDir)
	require.NoError(t, err)
	assert.Equal(t, []string{nested}, res.Sources)
}

func TestRebuildFeature_MissingSearchDir(t *testing.T) {
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	_, err := b.RebuildFeature(context.Background(), "auth", filepath.Join(f.searchDir, "nope"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSlugFromFilename(t *testing.T) {
	testCases := []struct {
		name     string
		wantSlug string
		wantOK   bool
	}{
		{"requirements-user-auth.md", "user-auth", true},
		{"team-requirements-billing.md", "team-requirements-billing", true},
		{"/abs/path/requirements-search.md", "search", true},
		{"EXAMPLE-requirements-user-auth.md", "", false},
		{"TEMPLATE-requirements-x.md", "", false},
		{"auth-requirements.md", "", false},
		{"requirements-auth.txt", "", false},
		{"notes.md", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			slug, ok := builder.SlugFromFilename(tc.name)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantSlug, slug)
		})
	}
}

func TestSyncAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{Workers: 2})

	f.write(t, "requirements-auth.md", authDoc)
	f.write(t, "requirements-billing.md", billingDoc)
	f.write(t, "EXAMPLE-requirements-demo.md", authDoc)
	f.write(t, "TEMPLATE-requirements-blank.md", authDoc)
	f.write(t, "README.md", "# Readme\n")

	results, err := b.SyncAll(ctx, f.searchDir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "auth", results[0].FeatureSlug)
	assert.Equal(t, 4, results[0].EntityCount)
	assert.Equal(t, "billing", results[1].FeatureSlug)
	assert.Equal(t, 2, results[1].EntityCount)

	slugs, err := f.store.Slugs()
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "billing"}, slugs)
}

func TestSyncAll_SkipsInvalidSlug(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	f.write(t, "requirements-auth.md", authDoc)
	f.write(t, "requirements-user profile.md", billingDoc)

	results, err := b.SyncAll(ctx, f.searchDir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "auth", results[0].FeatureSlug)

	slugs, err := f.store.Slugs()
	require.NoError(t, err)
	assert.Equal(t, []string{"auth"}, slugs)
}

func TestSyncAll_ParseErrorAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	f.write(t, "requirements-auth.md", authDoc)
	f.write(t, "requirements-broken.md", "---\nstatus: [unclosed\n---\n")

	_, err := b.SyncAll(ctx, f.searchDir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrMalformed))

	slugs, err := f.store.Slugs()
	require.NoError(t, err)
	assert.Empty(t, slugs, "nothing is saved when any document fails to parse")
}

func TestGetFeatureSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	path := f.write(t, "requirements-auth.md", authDoc)
	_, err := b.BuildFromRequirements(ctx, path, "auth")
	require.NoError(t, err)

	summary, err := b.GetFeatureSummary(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, &builder.FeatureSummary{
		FeatureSlug:        "auth",
		TotalEntities:      4,
		TotalRelationships: 3,
		EntityCounts:       map[string]int{"feature": 1, "requirement": 3},
		RelationshipCounts: map[string]int{"requires": 3},
	}, summary)

	empty, err := b.GetFeatureSummary(ctx, "never-built")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalEntities)
	assert.Empty(t, empty.EntityCounts)
}

func TestStartSync(t *testing.T) {
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})
	f.write(t, "requirements-auth.md", authDoc)

	jobID, err := b.StartSync(context.Background(), f.searchDir)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, ok := b.SyncJob(jobID)
	require.True(t, ok)

	select {
	case <-job.Done:
	case <-time.After(10 * time.Second):
		t.Fatal("sync job did not finish")
	}

	progress := job.Progress()
	assert.Equal(t, builder.JobComplete, progress.Status)
	assert.Equal(t, 1, progress.FilesTotal)
	assert.Equal(t, 1, progress.FilesProcessed)

	results, err := job.Result()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "auth", results[0].FeatureSlug)

	_, ok = b.SyncJob("unknown")
	assert.False(t, ok)
}

func TestStartSync_InvalidDir(t *testing.T) {
	f := newFixture(t)
	b := builder.New(f.store, builder.Options{})

	_, err := b.StartSync(context.Background(), filepath.Join(f.searchDir, "missing"))
	assert.Error(t, err)
}
