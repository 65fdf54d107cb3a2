// Package types defines the core data structures for the feature knowledge graph.
// These types represent entities (graph nodes), relationships (directed typed
// edges) and the closed enumerations that classify them.
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEnum indicates a string that is not a member of a closed enumeration.
	ErrInvalidEnum = errors.New("invalid enumeration value")

	// ErrInvalidEntity indicates an entity or relationship missing required fields.
	ErrInvalidEntity = errors.New("invalid entity")
)

// EntityType classifies an entity.
type EntityType string

// RelationshipType classifies a relationship.
type RelationshipType string

// RequirementType classifies a requirement.
type RequirementType string

// Priority is the relative importance of a feature or requirement.
type Priority string

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Entity type constants
const (
	EntityTypeFeature      EntityType = "feature"
	EntityTypeRequirement  EntityType = "requirement"
	EntityTypeTechDecision EntityType = "tech_decision"
	EntityTypeComponent    EntityType = "component"
	EntityTypeTask         EntityType = "task"
	EntityTypePattern      EntityType = "pattern"
	EntityTypeConvention   EntityType = "convention"
)

// ValidEntityTypes is a slice of all valid entity types for validation
var ValidEntityTypes = []EntityType{
	EntityTypeFeature,
	EntityTypeRequirement,
	EntityTypeTechDecision,
	EntityTypeComponent,
	EntityTypeTask,
	EntityTypePattern,
	EntityTypeConvention,
}

// Relationship type constants
const (
	RelRequires    RelationshipType = "requires"     // Feature requires a requirement
	RelDependsOn   RelationshipType = "depends_on"   // Dependency between features or tasks
	RelImplements  RelationshipType = "implements"   // Component implements a requirement
	RelFollows     RelationshipType = "follows"      // Component follows a pattern or convention
	RelJustifies   RelationshipType = "justifies"    // Decision justifies a component
	RelBlocks      RelationshipType = "blocks"       // Task blocks another task
	RelDerivedFrom RelationshipType = "derived_from" // Entity derived from another entity
)

// ValidRelationshipTypes is a slice of all valid relationship types for validation
var ValidRelationshipTypes = []RelationshipType{
	RelRequires,
	RelDependsOn,
	RelImplements,
	RelFollows,
	RelJustifies,
	RelBlocks,
	RelDerivedFrom,
}

// Requirement type constants
const (
	ReqFunctional    RequirementType = "functional"
	ReqNonFunctional RequirementType = "non_functional"
	ReqPerformance   RequirementType = "performance"
	ReqSecurity      RequirementType = "security"
	ReqAvailability  RequirementType = "availability"
	ReqCompliance    RequirementType = "compliance"
)

// ValidRequirementTypes is a slice of all valid requirement types for validation
var ValidRequirementTypes = []RequirementType{
	ReqFunctional,
	ReqNonFunctional,
	ReqPerformance,
	ReqSecurity,
	ReqAvailability,
	ReqCompliance,
}

// Priority constants
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ValidPriorities is a slice of all valid priorities for validation
var ValidPriorities = []Priority{
	PriorityHigh,
	PriorityMedium,
	PriorityLow,
}

// Task status constants
const (
	TaskNotStarted TaskStatus = "NOT_STARTED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskBlocked    TaskStatus = "BLOCKED"
)

// ValidTaskStatuses is a slice of all valid task statuses for validation
var ValidTaskStatuses = []TaskStatus{
	TaskNotStarted,
	TaskInProgress,
	TaskCompleted,
	TaskBlocked,
}

// IsValidEntityType checks if the given entity type is valid
func IsValidEntityType(entityType string) bool {
	return isMember(entityType, ValidEntityTypes)
}

// IsValidRelationshipType checks if the given relationship type is valid
func IsValidRelationshipType(relType string) bool {
	return isMember(relType, ValidRelationshipTypes)
}

// IsValidRequirementType checks if the given requirement type is valid
func IsValidRequirementType(reqType string) bool {
	return isMember(reqType, ValidRequirementTypes)
}

// IsValidPriority checks if the given priority is valid
func IsValidPriority(priority string) bool {
	return isMember(priority, ValidPriorities)
}

// IsValidTaskStatus checks if the given task status is valid
func IsValidTaskStatus(status string) bool {
	return isMember(status, ValidTaskStatuses)
}

// ParseEntityType converts a wire value into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	return parseEnum("entity type", s, ValidEntityTypes)
}

// ParseRelationshipType converts a wire value into a RelationshipType.
func ParseRelationshipType(s string) (RelationshipType, error) {
	return parseEnum("relationship type", s, ValidRelationshipTypes)
}

// ParseRequirementType converts a wire value into a RequirementType.
func ParseRequirementType(s string) (RequirementType, error) {
	return parseEnum("requirement type", s, ValidRequirementTypes)
}

// ParsePriority converts a wire value into a Priority.
func ParsePriority(s string) (Priority, error) {
	return parseEnum("priority", s, ValidPriorities)
}

// ParseTaskStatus converts a wire value into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	return parseEnum("task status", s, ValidTaskStatuses)
}

func isMember[T ~string](value string, valid []T) bool {
	for _, v := range valid {
		if string(v) == value {
			return true
		}
	}
	return false
}

func parseEnum[T ~string](kind, value string, valid []T) (T, error) {
	if !isMember(value, valid) {
		return "", fmt.Errorf("%w: %s %q", ErrInvalidEnum, kind, value)
	}
	return T(value), nil
}
