package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/spigell/urs-matcher/internal/classify"
	"github.com/spigell/urs-matcher/internal/dedup"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/router"
)

// Status is the terminal state of one item.
type Status string

const (
	StatusMatched   Status = "matched"
	StatusUnmatched Status = "unmatched"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ItemError describes why an item has no result.
type ItemError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ItemResult is the terminal record of one submitted item.
type ItemResult struct {
	Index       int      `json:"index"`
	Row         *int     `json:"row,omitempty"`
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	// Matches holds the best match of every deduplicated line.
	Matches []match.RankedMatch `json:"matches"`
	// Lines keeps every deduplicated line with its ranked alternatives.
	Lines          []dedup.Entry    `json:"lines,omitempty"`
	Classification *classify.Result `json:"classification,omitempty"`
	Status         Status           `json:"status"`
	NeedsReview    bool             `json:"needs_review"`
	Error          *ItemError       `json:"error,omitempty"`
	ElapsedMS      int64            `json:"elapsed_ms"`
}

// Summary counts items per status.
type Summary struct {
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Total     int `json:"total"`
}

func (s *Summary) add(st Status) {
	s.Total++
	switch st {
	case StatusMatched:
		s.Matched++
	case StatusUnmatched:
		s.Unmatched++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// Result is the outcome of one batch. Items are in submission order.
type Result struct {
	ID        uuid.UUID      `json:"id"`
	Items     []ItemResult   `json:"items"`
	Summary   Summary        `json:"summary"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Usage     []router.Usage `json:"usage,omitempty"`
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
