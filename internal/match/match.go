package match

import (
	"github.com/spigell/urs-matcher/internal/catalog"
)

// Source records which mechanism produced a RankedMatch.
type Source string

const (
	SourceRule         Source = "rule"
	SourceCache        Source = "cache"
	SourceMemory       Source = "memory"
	SourceRetrievalLLM Source = "retrieval+llm"
	// SourceRetrieval marks a ranking made without an LLM: a local ranking
	// provider or the fallback that keeps retrieval order.
	SourceRetrieval Source = "retrieval"
)

// WorkItem is one line of an estimate.
type WorkItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Row         *int     `json:"row,omitempty"`
}

// SubWork is an atomic unit of work derived from a WorkItem.
type SubWork struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	// Position is the order of appearance inside the parent description.
	Position int `json:"position"`
}

// RankedMatch is a scored catalog candidate.
type RankedMatch struct {
	catalog.Candidate
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
	Source      Source  `json:"source"`
	Provider    string  `json:"provider,omitempty"`
}

// Trusted reports whether a match may be accepted without human review.
func (m RankedMatch) Trusted(threshold float64) bool {
	switch m.Source {
	case SourceRule, SourceMemory:
		return true
	case SourceRetrieval:
		return false
	default:
		return m.Confidence >= threshold
	}
}

// Float returns a pointer to v. It keeps optional quantities readable at call sites.
func Float(v float64) *float64 {
	return &v
}
