package parser

import (
	"fmt"

	"github.com/scrypster/featuregraph/internal/storage"
)

// ParseConventions is reserved for coding-convention documents.
func ParseConventions(content []byte, sourcePath string) (*Result, error) {
	return nil, fmt.Errorf("parser: conventions %s: %w", sourcePath, storage.ErrNotImplemented)
}

// ParseTechAnalysis is reserved for technical analysis documents.
func ParseTechAnalysis(content []byte, sourcePath string) (*Result, error) {
	return nil, fmt.Errorf("parser: tech analysis %s: %w", sourcePath, storage.ErrNotImplemented)
}
