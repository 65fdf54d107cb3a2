package types_test

import (
	"errors"
	"testing"

	"github.com/scrypster/featuregraph/pkg/types"
)

// TestIsValidEntityType_AllValidTypes tests that all 7 entity types are recognized as valid
func TestIsValidEntityType_AllValidTypes(t *testing.T) {
	validEntityTypes := []types.EntityType{
		types.EntityTypeFeature,
		types.EntityTypeRequirement,
		types.EntityTypeTechDecision,
		types.EntityTypeComponent,
		types.EntityTypeTask,
		types.EntityTypePattern,
		types.EntityTypeConvention,
	}

	for _, entityType := range validEntityTypes {
		t.Run("valid_"+string(entityType), func(t *testing.T) {
			if !types.IsValidEntityType(string(entityType)) {
				t.Errorf("IsValidEntityType(%q) = false, want true", entityType)
			}
		})
	}
}

// TestIsValidEntityType_InvalidTypes tests that invalid entity types are rejected
func TestIsValidEntityType_InvalidTypes(t *testing.T) {
	invalidTypes := []string{
		"",              // empty string
		"FEATURE",       // uppercase
		"Feature",       // mixed case
		"unknown",       // unknown type
		" feature",      // leading whitespace
		"feature ",      // trailing whitespace
		"feat",          // prefix of valid type
		"tech-decision", // wrong separator
		"person",        // valid elsewhere, not here
	}

	for _, invalidType := range invalidTypes {
		t.Run("invalid_"+invalidType, func(t *testing.T) {
			if types.IsValidEntityType(invalidType) {
				t.Errorf("IsValidEntityType(%q) = true, want false", invalidType)
			}
		})
	}
}

// TestIsValidRelationshipType_AllValidTypes tests that all valid relationship types are recognized
func TestIsValidRelationshipType_AllValidTypes(t *testing.T) {
	for _, relType := range types.ValidRelationshipTypes {
		t.Run(string(relType), func(t *testing.T) {
			if !types.IsValidRelationshipType(string(relType)) {
				t.Errorf("IsValidRelationshipType(%q) = false, want true", relType)
			}
		})
	}
	if len(types.ValidRelationshipTypes) != 7 {
		t.Errorf("expected 7 relationship types, got %d", len(types.ValidRelationshipTypes))
	}
}

// TestIsValidRelationshipType_InvalidTypes tests rejection of unknown edges
func TestIsValidRelationshipType_InvalidTypes(t *testing.T) {
	for _, relType := range []string{"", "REQUIRES", "depends-on", "relates_to", "works_on"} {
		t.Run("invalid_"+relType, func(t *testing.T) {
			if types.IsValidRelationshipType(relType) {
				t.Errorf("IsValidRelationshipType(%q) = true, want false", relType)
			}
		})
	}
}

// TestParsePriority covers the closed priority set
func TestParsePriority(t *testing.T) {
	testCases := []struct {
		input   string
		wantErr bool
	}{
		{"high", false},
		{"medium", false},
		{"low", false},
		{"High", true},
		{"critical", true},
		{"", true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			p, err := types.ParsePriority(tc.input)
			if tc.wantErr {
				if !errors.Is(err, types.ErrInvalidEnum) {
					t.Errorf("ParsePriority(%q) error = %v, want ErrInvalidEnum", tc.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePriority(%q) unexpected error: %v", tc.input, err)
			}
			if string(p) != tc.input {
				t.Errorf("ParsePriority(%q) = %q", tc.input, p)
			}
		})
	}
}

// TestParseRequirementType covers the closed requirement kind set
func TestParseRequirementType(t *testing.T) {
	for _, rt := range types.ValidRequirementTypes {
		if _, err := types.ParseRequirementType(string(rt)); err != nil {
			t.Errorf("ParseRequirementType(%q) unexpected error: %v", rt, err)
		}
	}
	if _, err := types.ParseRequirementType("nfr"); !errors.Is(err, types.ErrInvalidEnum) {
		t.Errorf("expected ErrInvalidEnum for nfr, got %v", err)
	}
}
