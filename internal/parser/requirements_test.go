package parser_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/featuregraph/internal/parser"
	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/pkg/types"
)

const authDoc = `# Requirements: User Authentication

**Status**: active
**Stakeholders**: Product, Security, , Platform
**Created**: 2024-03-01
**Keywords**: auth, login

## Functional Requirements

#### FR-001: Login
**Description**: Users sign in with email and password
**Priority**: High
**User Story**: As a user I want to log in
**Acceptance Criteria**:
- [ ] Valid credentials create a session
- [ ] Invalid credentials show an error

#### FR-002: Logout
**Priority**: High

---

## Non-Functional Requirements

### Performance

| ID | Requirement | Target Metric | Priority |
|----|-------------|---------------|----------|
| NFR-001 | Login latency | p95 < 200ms | High |
| NFR-002 | Session lookup | p99 < 20ms | Low |

### Security

| ID | Requirement | Target Metric |
|----|-------------|---------------|
| NFR-010 | Password hashing | bcrypt cost 12 |
| broken row |

## Dependencies

Profile management depends on this feature.

## Out of Scope
`

func requirementByID(t *testing.T, res *parser.Result, id string) *types.Requirement {
	t.Helper()
	for _, n := range res.Entities {
		if n.Base().ID == id {
			req, ok := n.(*types.Requirement)
			require.True(t, ok, "%s is %T", id, n)
			return req
		}
	}
	t.Fatalf("requirement %s not found", id)
	return nil
}

func TestParse_Scenario(t *testing.T) {
	doc := `# Requirements: User Authentication

**Status**: active

#### FR-001: Login
**Priority**: High

#### FR-002: Logout
**Priority**: High
`
	res, err := parser.Parse([]byte(doc), "docs/requirements-user-auth.md")
	require.NoError(t, err)

	var features, reqs int
	for _, n := range res.Entities {
		switch n.Kind() {
		case types.EntityTypeFeature:
			features++
		case types.EntityTypeRequirement:
			reqs++
			assert.Equal(t, types.PriorityHigh, n.(*types.Requirement).Priority)
		}
	}
	assert.Equal(t, 1, features)
	assert.Equal(t, 2, reqs)

	assert.Equal(t, "feature:requirements-user-auth", res.Feature.ID)
	assert.Equal(t, "User Authentication", res.Feature.Name)
	assert.Equal(t, "active", res.Feature.Status)
	assert.Same(t, res.Feature, res.Entities[0])

	require.Len(t, res.Relationships, 2)
	for i, target := range []string{"req:FR-001", "req:FR-002"} {
		rel := res.Relationships[i]
		assert.Equal(t, res.Feature.ID, rel.SourceID)
		assert.Equal(t, target, rel.TargetID)
		assert.Equal(t, types.RelRequires, rel.Type)
	}
}

func TestParse_FeatureMetadata(t *testing.T) {
	res, err := parser.Parse([]byte(authDoc), "requirements-auth.md")
	require.NoError(t, err)

	f := res.Feature
	assert.Equal(t, "User Authentication", f.Name)
	assert.Equal(t, "requirements-auth.md", f.SourceFile)
	assert.Equal(t, []string{"auth", "login"}, f.Tags)
	assert.Equal(t, []string{"Product", "Security", "Platform"}, f.Metadata["stakeholders"])
	assert.Equal(t, "2024-03-01", f.Metadata["created"])
	assert.Nil(t, f.Priority)
}

func TestParse_FunctionalRequirements(t *testing.T) {
	res, err := parser.Parse([]byte(authDoc), "requirements-auth.md")
	require.NoError(t, err)

	login := requirementByID(t, res, "req:FR-001")
	assert.Equal(t, "Login", login.Name)
	assert.Equal(t, types.ReqFunctional, login.ReqType)
	assert.Equal(t, types.PriorityHigh, login.Priority)
	assert.Equal(t, "As a user I want to log in", login.UserStory)
	assert.Equal(t, "feature:requirements-auth", login.ParentFeature)
	assert.Equal(t, "Users sign in with email and password", login.Metadata["description"])
	assert.Equal(t, []string{"Valid credentials create a session", "Invalid credentials show an error"}, login.AcceptanceCriteria)

	logout := requirementByID(t, res, "req:FR-002")
	assert.Empty(t, logout.AcceptanceCriteria)
	assert.Empty(t, logout.UserStory)
	assert.NotContains(t, logout.Metadata, "description")
}

func TestParse_NFRTables(t *testing.T) {
	res, err := parser.Parse([]byte(authDoc), "requirements-auth.md")
	require.NoError(t, err)

	latency := requirementByID(t, res, "req:NFR-001")
	assert.Equal(t, types.ReqPerformance, latency.ReqType)
	assert.Equal(t, "Login latency", latency.Name)
	assert.Equal(t, "p95 < 200ms", latency.TargetMetric)
	assert.Equal(t, types.PriorityHigh, latency.Priority)

	assert.Equal(t, types.PriorityLow, requirementByID(t, res, "req:NFR-002").Priority)

	hashing := requirementByID(t, res, "req:NFR-010")
	assert.Equal(t, types.ReqSecurity, hashing.ReqType)
	assert.Equal(t, types.PriorityMedium, hashing.Priority, "missing priority cell defaults to medium")

	// Feature, 2 FRs, 3 NFRs; the short row is skipped.
	assert.Len(t, res.Entities, 6)
	assert.Len(t, res.Relationships, 5)
}

func TestParse_DependenciesProduceNoRelationships(t *testing.T) {
	res, err := parser.Parse([]byte(authDoc), "requirements-auth.md")
	require.NoError(t, err)

	assert.Equal(t, []string{"Profile management depends on this feature."}, res.DependencyNotes)
	for _, rel := range res.Relationships {
		assert.Equal(t, types.RelRequires, rel.Type)
	}
}

func TestParse_PriorityClassification(t *testing.T) {
	testCases := []struct {
		text string
		want types.Priority
	}{
		{"High", types.PriorityHigh},
		{"Very HIGH (P0)", types.PriorityHigh},
		{"low", types.PriorityLow},
		{"Medium", types.PriorityMedium},
		{"P2", types.PriorityMedium},
		{"", types.PriorityMedium},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			doc := "#### FR-100: Thing\n**Priority**: " + tc.text + "\n"
			res, err := parser.Parse([]byte(doc), "requirements-x.md")
			require.NoError(t, err)
			assert.Equal(t, tc.want, requirementByID(t, res, "req:FR-100").Priority)
		})
	}
}

func TestParse_LookaheadStops(t *testing.T) {
	doc := "#### FR-001: First\n" +
		"---\n" +
		"**Priority**: High\n" +
		"#### FR-002: Second\n"
	res, err := parser.Parse([]byte(doc), "requirements-x.md")
	require.NoError(t, err)

	assert.Equal(t, types.PriorityMedium, requirementByID(t, res, "req:FR-001").Priority,
		"a rule ends the block before the priority line")
}

func TestParse_LookaheadWindow(t *testing.T) {
	doc := "#### FR-001: First\n"
	for i := 0; i < 30; i++ {
		doc += "filler\n"
	}
	doc += "**Priority**: High\n"

	res, err := parser.Parse([]byte(doc), "requirements-x.md")
	require.NoError(t, err)
	assert.Equal(t, types.PriorityMedium, requirementByID(t, res, "req:FR-001").Priority)
}

func TestParse_Fallbacks(t *testing.T) {
	res, err := parser.Parse([]byte("no headings here\n"), "/tmp/requirements-bare.md")
	require.NoError(t, err)

	assert.Equal(t, "requirements-bare", res.Feature.Name)
	assert.Equal(t, "unknown", res.Feature.Status)
	assert.Equal(t, []string{}, res.Feature.Metadata["stakeholders"])
	assert.NotContains(t, res.Feature.Metadata, "created")
	assert.Len(t, res.Entities, 1)
	assert.Empty(t, res.Relationships)
	assert.Nil(t, res.DependencyNotes)
}

func TestParse_Frontmatter(t *testing.T) {
	doc := `---
status: draft
stakeholders: [Design, Support]
tags: billing, invoices
owner: team-payments
review:
  cadence: weekly
---
# Requirements: Invoicing

**Status**: approved

#### FR-001: Create invoice
**Priority**: Low
`
	res, err := parser.Parse([]byte(doc), "requirements-invoicing.md")
	require.NoError(t, err)

	f := res.Feature
	assert.Equal(t, "Invoicing", f.Name)
	assert.Equal(t, "approved", f.Status, "bold field wins over frontmatter")
	assert.Equal(t, []string{"Design", "Support"}, f.Metadata["stakeholders"])
	assert.Equal(t, []string{"billing", "invoices"}, f.Tags)
	assert.Equal(t, "team-payments", f.Metadata["fm_owner"])
	assert.Equal(t, map[string]interface{}{"cadence": "weekly"}, f.Metadata["fm_review"])
	assert.Equal(t, types.PriorityLow, requirementByID(t, res, "req:FR-001").Priority)

	_, err = types.ToRecord(f)
	assert.NoError(t, err, "frontmatter metadata must be JSON encodable")

	t.Run("leading horizontal rule is not frontmatter", func(t *testing.T) {
		doc := "---\n# Requirements: Auth\n**Status**: active\n---\n#### FR-001: Login\n**Priority**: High\n"
		res, err := parser.Parse([]byte(doc), "requirements-auth.md")
		require.NoError(t, err)
		assert.Equal(t, "Auth", res.Feature.Name)
		assert.Equal(t, "active", res.Feature.Status)
		assert.Equal(t, types.PriorityHigh, requirementByID(t, res, "req:FR-001").Priority)
	})
}

func TestParse_InvalidFrontmatter(t *testing.T) {
	doc := "---\nstatus: [unclosed\n---\n# Title\n"
	_, err := parser.Parse([]byte(doc), "requirements-x.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrMalformed))
}

func TestParse_RequiresSourcePath(t *testing.T) {
	_, err := parser.Parse([]byte("# Title\n"), "")
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements-auth.md")
	require.NoError(t, os.WriteFile(path, []byte(authDoc), 0o644))

	res, err := parser.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "feature:requirements-auth", res.Feature.ID)
	assert.Equal(t, path, res.Feature.SourceFile)

	_, err = parser.ParseFile(filepath.Join(t.TempDir(), "missing.md"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStubParsers(t *testing.T) {
	_, err := parser.ParseConventions([]byte("x"), "conventions.md")
	assert.True(t, errors.Is(err, storage.ErrNotImplemented))

	_, err = parser.ParseTechAnalysis([]byte("x"), "analysis.md")
	assert.True(t, errors.Is(err, storage.ErrNotImplemented))
}
