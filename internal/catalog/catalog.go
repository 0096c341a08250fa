// Package catalog provides read-only access to the classification catalog.
package catalog

import (
	"context"
	"errors"
)

// DefaultLimit caps a single search when the caller does not ask for a limit.
const DefaultLimit = 30

// ErrUnavailable is returned when a backend cannot be reached at all.
var ErrUnavailable = errors.New("catalog unavailable")

// Candidate is one catalog entry proposed for a work description.
type Candidate struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
	// Query is the search query that surfaced the entry.
	Query string `json:"query,omitempty"`
}

// Query describes a catalog search.
type Query struct {
	// Text is matched against entry names.
	Text string
	// CodePrefix restricts results to codes starting with the prefix.
	CodePrefix string
	Limit      int
}

// Catalog is the read interface over the catalog corpus.
type Catalog interface {
	Search(ctx context.Context, q Query) ([]Candidate, error)
	// GetByCode returns nil without an error when the code does not exist.
	GetByCode(ctx context.Context, code string) (*Candidate, error)
	Close() error
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
