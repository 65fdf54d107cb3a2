package types

import (
	"fmt"
	"time"
)

// Node is implemented by Entity and by every typed entity variant.
// Base exposes the shared fields and Validate checks the variant's closed
// enumerations and required fields.
type Node interface {
	Base() *Entity
	Kind() EntityType
	Validate() error
}

// Entity is the shared shape of every graph node.
// IDs are chosen by the caller in the form <kind>:<local-id>
// (e.g. "feature:user-auth", "req:FR-001"); the store never generates them.
type Entity struct {
	ID         string                 `json:"id"`                    // Unique within a feature graph
	Name       string                 `json:"name"`                  // Display name
	Type       EntityType             `json:"type"`                  // Entity type (see EntityType constants)
	Metadata   map[string]interface{} `json:"metadata,omitempty"`    // Extension fields not promoted to attributes
	SourceFile string                 `json:"source_file,omitempty"` // Path of the document the entity came from
	CreatedAt  string                 `json:"created_at"`            // ISO-8601
	UpdatedAt  string                 `json:"updated_at"`            // ISO-8601
}

// Base returns the entity itself. Variants embedding Entity inherit this.
func (e *Entity) Base() *Entity {
	return e
}

// Kind returns the entity type.
func (e *Entity) Kind() EntityType {
	return e.Type
}

// Validate checks the fields every entity must carry.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidEntity)
	}
	if _, err := ParseEntityType(string(e.Type)); err != nil {
		return fmt.Errorf("entity %s: %w", e.ID, err)
	}
	return nil
}

// Feature is a unit of product functionality.
type Feature struct {
	Entity
	Status       string    `json:"status,omitempty"`
	Priority     *Priority `json:"priority,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"` // Ordered entity IDs
	Tags         []string  `json:"tags,omitempty"`
}

// Requirement is a functional or non-functional requirement of a feature.
type Requirement struct {
	Entity
	ReqType            RequirementType `json:"req_type"`
	Priority           Priority        `json:"priority"`
	AcceptanceCriteria []string        `json:"acceptance_criteria,omitempty"`
	ParentFeature      string          `json:"parent_feature,omitempty"`
	UserStory          string          `json:"user_story,omitempty"`
	TargetMetric       string          `json:"target_metric,omitempty"` // NFR table rows only
}

// TechDecision records a technical decision and why it was made.
type TechDecision struct {
	Entity
	Decision     string   `json:"decision,omitempty"`
	Rationale    string   `json:"rationale,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Date         string   `json:"date,omitempty"`
	Stakeholders []string `json:"stakeholders,omitempty"`
}

// Component is a piece of code: class, function, module, service.
type Component struct {
	Entity
	ComponentType string   `json:"component_type"`
	FilePath      string   `json:"file_path,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"`
	LineRange     *[2]int  `json:"line_range,omitempty"`
}

// Task is a unit of implementation work.
type Task struct {
	Entity
	Status       TaskStatus `json:"status"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Blockers     []string   `json:"blockers,omitempty"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	Started      string     `json:"started,omitempty"`
	Completed    string     `json:"completed,omitempty"`
}

// Pattern is a recurring code pattern and how well the codebase conforms to it.
type Pattern struct {
	Entity
	PatternType    string   `json:"pattern_type"`
	Examples       []string `json:"examples,omitempty"`
	ConformancePct *float64 `json:"conformance_pct,omitempty"`
	Violations     []string `json:"violations,omitempty"`
}

// Convention is a coding convention and its recorded deviations.
type Convention struct {
	Entity
	Category       string                   `json:"category"`
	Rule           string                   `json:"rule,omitempty"`
	ConformancePct *float64                 `json:"conformance_pct,omitempty"`
	Deviations     []map[string]interface{} `json:"deviations,omitempty"`
}

func newEntity(id, name string, entityType EntityType) Entity {
	now := Now()
	return Entity{
		ID:        id,
		Name:      name,
		Type:      entityType,
		Metadata:  map[string]interface{}{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Now returns the current time in the timestamp format used on the wire.
func Now() string {
	return time.Now().Format(time.RFC3339Nano)
}

// NewEntity creates an untyped-variant entity of the given type.
func NewEntity(id, name string, entityType EntityType) *Entity {
	e := newEntity(id, name, entityType)
	return &e
}

// NewFeature creates a feature with no priority.
func NewFeature(id, name string) *Feature {
	return &Feature{Entity: newEntity(id, name, EntityTypeFeature)}
}

// NewRequirement creates a requirement with medium priority.
func NewRequirement(id, name string, reqType RequirementType) *Requirement {
	return &Requirement{
		Entity:   newEntity(id, name, EntityTypeRequirement),
		ReqType:  reqType,
		Priority: PriorityMedium,
	}
}

// NewTechDecision creates an empty tech decision.
func NewTechDecision(id, name string) *TechDecision {
	return &TechDecision{Entity: newEntity(id, name, EntityTypeTechDecision)}
}

// NewComponent creates a component of unknown kind.
func NewComponent(id, name string) *Component {
	return &Component{
		Entity:        newEntity(id, name, EntityTypeComponent),
		ComponentType: "unknown",
	}
}

// NewTask creates a task that has not been started.
func NewTask(id, name string) *Task {
	return &Task{
		Entity: newEntity(id, name, EntityTypeTask),
		Status: TaskNotStarted,
	}
}

// NewPattern creates a pattern of unknown kind.
func NewPattern(id, name string) *Pattern {
	return &Pattern{
		Entity:      newEntity(id, name, EntityTypePattern),
		PatternType: "unknown",
	}
}

// NewConvention creates a convention of unknown category.
func NewConvention(id, name string) *Convention {
	return &Convention{
		Entity:   newEntity(id, name, EntityTypeConvention),
		Category: "unknown",
	}
}

// Validate checks the feature's type and optional priority.
func (f *Feature) Validate() error {
	if err := f.checkKind(EntityTypeFeature); err != nil {
		return err
	}
	if f.Priority != nil {
		if _, err := ParsePriority(string(*f.Priority)); err != nil {
			return fmt.Errorf("feature %s: %w", f.ID, err)
		}
	}
	return nil
}

// Validate checks the requirement's kind and priority.
func (r *Requirement) Validate() error {
	if err := r.checkKind(EntityTypeRequirement); err != nil {
		return err
	}
	if _, err := ParseRequirementType(string(r.ReqType)); err != nil {
		return fmt.Errorf("requirement %s: %w", r.ID, err)
	}
	if _, err := ParsePriority(string(r.Priority)); err != nil {
		return fmt.Errorf("requirement %s: %w", r.ID, err)
	}
	return nil
}

// Validate checks the tech decision's type.
func (d *TechDecision) Validate() error {
	return d.checkKind(EntityTypeTechDecision)
}

// Validate checks the component's type.
func (c *Component) Validate() error {
	return c.checkKind(EntityTypeComponent)
}

// Validate checks the task's type and status.
func (t *Task) Validate() error {
	if err := t.checkKind(EntityTypeTask); err != nil {
		return err
	}
	if _, err := ParseTaskStatus(string(t.Status)); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	return nil
}

// Validate checks the pattern's type.
func (p *Pattern) Validate() error {
	return p.checkKind(EntityTypePattern)
}

// Validate checks the convention's type.
func (c *Convention) Validate() error {
	return c.checkKind(EntityTypeConvention)
}

// checkKind validates the shared fields and that Type matches the variant.
func (e *Entity) checkKind(want EntityType) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Type != want {
		return fmt.Errorf("%w: entity %s has type %q, want %q", ErrInvalidEntity, e.ID, e.Type, want)
	}
	return nil
}
