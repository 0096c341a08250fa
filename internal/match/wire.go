package match

import "github.com/spigell/urs-matcher/internal/catalog"

// Payloads and replies exchanged with providers. Every provider sees the same
// shapes regardless of vendor.

// SplitRequest asks whether the segments are separate works.
type SplitRequest struct {
	Description string   `json:"description"`
	Segments    []string `json:"segments"`
}

// SplitReply only confirms or rejects the split; fragments always come from
// the source text.
type SplitReply struct {
	Composite bool `json:"composite"`
}

// RetrieveRequest is one catalog query.
type RetrieveRequest struct {
	Query      string `json:"query"`
	CodePrefix string `json:"code_prefix,omitempty"`
	Limit      int    `json:"limit"`
}

// RerankRequest carries the description and the retrieved candidates.
type RerankRequest struct {
	Description string              `json:"description"`
	Quantity    *float64            `json:"quantity,omitempty"`
	Unit        string              `json:"unit,omitempty"`
	Candidates  []catalog.Candidate `json:"candidates"`
}

// RankEntry is one reranked candidate.
type RankEntry struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// RerankReply orders candidates by code.
type RerankReply struct {
	Ranking []RankEntry `json:"ranking"`
}

// ExplainRequest asks for a one sentence justification of a match.
type ExplainRequest struct {
	Description string `json:"description"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Unit        string `json:"unit,omitempty"`
}
