// Package parser turns planning documents into graph entities and relationships.
//
// Requirements documents are Markdown files with a title heading, bold
// "**Field**: value" metadata lines, "#### FR-NNN: Title" functional
// requirement blocks, and pipe tables of non-functional requirements under
// "### Performance", "### Security", "### Availability" and "### Compliance".
// Parsing is line based and forgiving: anything that does not match is skipped.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/scrypster/featuregraph/internal/storage"
	"github.com/scrypster/featuregraph/pkg/types"
)

const (
	// frLookahead is how many lines after an FR heading are scanned for its fields.
	frLookahead = 30

	// nfrWindow is how many lines from an NFR section heading are scanned for its table.
	nfrWindow = 50

	// dependencyWindow bounds the Dependencies section scan.
	dependencyWindow = 30
)

var (
	frHeadingRe    = regexp.MustCompile(`^#### (FR-\d+):\s*(.+)`)
	titlePrefixRe  = regexp.MustCompile(`^Requirements:\s*`)
	statusRe       = regexp.MustCompile(`\*\*Status\*\*:\s*(.+)`)
	stakeholdersRe = regexp.MustCompile(`\*\*Stakeholders\*\*:\s*(.+)`)
	createdRe      = regexp.MustCompile(`\*\*Created\*\*:\s*(.+)`)
	keywordsRe     = regexp.MustCompile(`\*\*Keywords\*\*:\s*(.+)`)
	tagsRe         = regexp.MustCompile(`\*\*Tags\*\*:\s*(.+)`)
)

// nfrSections are scanned in this order.
var nfrSections = []struct {
	name    string
	reqType types.RequirementType
}{
	{"Performance", types.ReqPerformance},
	{"Security", types.ReqSecurity},
	{"Availability", types.ReqAvailability},
	{"Compliance", types.ReqCompliance},
}

// Result is everything extracted from one document.
type Result struct {
	// Feature is also Entities[0].
	Feature *types.Feature

	Entities      []types.Node
	Relationships []types.Relationship

	// DependencyNotes holds the non-blank lines of the "## Dependencies"
	// section. They are not turned into relationships.
	DependencyNotes []string
}

// ParseFile reads path and parses it as a requirements document.
func ParseFile(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read %s: %w", path, err)
	}
	return Parse(content, path)
}

// Parse extracts the feature, its requirements, and the feature→requirement
// "requires" relationships from a requirements document. sourcePath names
// the document: its stem becomes the feature id and it is recorded as each
// entity's source file. No file is read.
func Parse(content []byte, sourcePath string) (*Result, error) {
	stem := fileStem(sourcePath)
	if stem == "" {
		return nil, fmt.Errorf("parser: %w: source path is required", storage.ErrInvalidInput)
	}

	fm, lines, err := splitFrontmatter(splitLines(string(content)))
	if err != nil {
		return nil, fmt.Errorf("parser: %s: %w: %v", sourcePath, storage.ErrMalformed, err)
	}

	feature := parseFeature(lines, fm, stem, sourcePath)
	res := &Result{
		Feature:  feature,
		Entities: []types.Node{feature},
	}

	for _, req := range parseFunctional(lines, feature.ID, sourcePath) {
		res.add(req)
	}
	for _, section := range nfrSections {
		for _, req := range parseNFRTable(lines, section.name, section.reqType, feature.ID, sourcePath) {
			res.add(req)
		}
	}
	res.DependencyNotes = dependencyNotes(lines)

	return res, nil
}

// add appends req and the feature→req edge.
func (r *Result) add(req *types.Requirement) {
	r.Entities = append(r.Entities, req)
	r.Relationships = append(r.Relationships,
		types.NewRelationship(r.Feature.ID, types.RelRequires, req.ID))
}

// parseFeature builds the feature from the title heading, bold field lines,
// and frontmatter, in that order of precedence.
func parseFeature(lines []string, fm map[string]interface{}, stem, sourcePath string) *types.Feature {
	name := ""
	for _, line := range lines {
		if strings.HasPrefix(line, "# ") {
			name = titlePrefixRe.ReplaceAllString(strings.TrimSpace(line[2:]), "")
			break
		}
	}
	if name == "" {
		name = stem
	}

	feature := types.NewFeature("feature:"+stem, name)
	feature.SourceFile = sourcePath

	status, ok := extractField(lines, statusRe)
	if !ok {
		status = frontmatterString(fm, "status")
	}
	if status == "" {
		status = "unknown"
	}
	feature.Status = status

	var stakeholders []string
	if raw, ok := extractField(lines, stakeholdersRe); ok {
		stakeholders = splitList(raw)
	} else {
		stakeholders = frontmatterList(fm, "stakeholders")
	}
	if stakeholders == nil {
		stakeholders = []string{}
	}

	created, ok := extractField(lines, createdRe)
	if !ok {
		created = frontmatterString(fm, "created")
	}

	keywords, hasKeywords := extractField(lines, keywordsRe)
	tagField, hasTags := extractField(lines, tagsRe)
	switch {
	case hasKeywords || hasTags:
		feature.Tags = append(splitList(keywords), splitList(tagField)...)
	default:
		feature.Tags = frontmatterList(fm, "tags")
	}

	for k, v := range extraFrontmatter(fm) {
		feature.Metadata[k] = v
	}
	feature.Metadata["stakeholders"] = stakeholders
	if created != "" {
		feature.Metadata["created"] = created
	}

	return feature
}

// parseFunctional extracts every "#### FR-NNN: Title" block.
func parseFunctional(lines []string, featureID, sourcePath string) []*types.Requirement {
	var reqs []*types.Requirement

	for i, line := range lines {
		m := frHeadingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		req := types.NewRequirement("req:"+m[1], strings.TrimSpace(m[2]), types.ReqFunctional)
		req.ParentFeature = featureID
		req.SourceFile = sourcePath

		var (
			description  string
			priority     string
			inAcceptance bool
			criteria     []string
		)

		end := min(i+frLookahead, len(lines))
		for _, next := range lines[i+1 : end] {
			if frHeadingRe.MatchString(next) || strings.HasPrefix(next, "---") {
				break
			}

			switch {
			case strings.HasPrefix(next, "**Description**:"):
				description = fieldValue(next)
			case strings.HasPrefix(next, "**Priority**:"):
				priority = strings.ToLower(fieldValue(next))
			case strings.HasPrefix(next, "**User Story**:"):
				req.UserStory = fieldValue(next)
			case strings.HasPrefix(next, "**Acceptance Criteria**:"):
				inAcceptance = true
			case inAcceptance && strings.HasPrefix(strings.TrimSpace(next), "- [ ]"):
				item := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(next), "- [ ]"))
				criteria = append(criteria, item)
			}
		}

		req.Priority = classifyPriority(priority)
		req.AcceptanceCriteria = criteria
		if description != "" {
			req.Metadata["description"] = description
		}
		reqs = append(reqs, req)
	}

	return reqs
}

// parseNFRTable extracts rows of the "| ID | Requirement | Target | Priority |"
// table following the first "### <section>" heading.
func parseNFRTable(lines []string, section string, reqType types.RequirementType, featureID, sourcePath string) []*types.Requirement {
	start := -1
	for i, line := range lines {
		if strings.Contains(line, "### "+section) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	var reqs []*types.Requirement
	inTable := false

	for _, line := range lines[start:min(start+nfrWindow, len(lines))] {
		switch {
		case strings.HasPrefix(line, "| ID |"):
			inTable = true
			continue
		case !inTable:
			continue
		case strings.HasPrefix(line, "|---"):
			continue
		case !strings.HasPrefix(line, "|"):
			return reqs
		}

		cells := tableCells(line)
		if len(cells) < 3 || cells[0] == "" {
			continue
		}

		priority := "medium"
		if len(cells) >= 4 {
			priority = strings.ToLower(cells[3])
		}

		req := types.NewRequirement("req:"+cells[0], cells[1], reqType)
		req.Priority = classifyPriority(priority)
		req.ParentFeature = featureID
		req.TargetMetric = cells[2]
		req.SourceFile = sourcePath
		reqs = append(reqs, req)
	}

	return reqs
}

// dependencyNotes returns the non-blank lines under "## Dependencies" up to
// the next level-two heading.
func dependencyNotes(lines []string) []string {
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "## Dependencies") {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	var notes []string
	for _, line := range lines[start+1 : min(start+dependencyWindow, len(lines))] {
		if strings.HasPrefix(line, "## ") {
			break
		}
		if s := strings.TrimSpace(line); s != "" {
			notes = append(notes, s)
		}
	}
	return notes
}

// classifyPriority maps free text onto a priority. Anything mentioning
// neither "high" nor "low" is medium.
func classifyPriority(s string) types.Priority {
	switch {
	case strings.Contains(s, "high"):
		return types.PriorityHigh
	case strings.Contains(s, "low"):
		return types.PriorityLow
	default:
		return types.PriorityMedium
	}
}

// extractField returns the trimmed first capture of the first line matching re.
func extractField(lines []string, re *regexp.Regexp) (string, bool) {
	for _, line := range lines {
		if m := re.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

// fieldValue returns the text after the first colon.
func fieldValue(line string) string {
	_, v, _ := strings.Cut(line, ":")
	return strings.TrimSpace(v)
}

// tableCells splits a pipe table row, dropping the text outside the outer pipes.
func tableCells(line string) []string {
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return nil
	}
	cells := parts[1 : len(parts)-1]
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// splitList splits a comma-separated value, trimming items and dropping empties.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func fileStem(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
