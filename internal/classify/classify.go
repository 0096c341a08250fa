// Package classify assigns a work description to a section of the catalog
// classification tree by keyword overlap. It makes no network calls.
package classify

import (
	"sort"
	"strings"
	"unicode"

	"github.com/spigell/urs-matcher/internal/llmjson"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
)

const (
	// HintConfidence is the confidence a result needs before Hint proposes its code.
	HintConfidence = 0.5
	// CrossBoost is added to a top match that agrees with the classification.
	CrossBoost = 0.05
	// CrossDamp scales a top match that contradicts a confident classification.
	CrossDamp = 0.85

	minPrefix = 3
)

// Result is the best section path, top level first.
type Result struct {
	Path       []Section `json:"path"`
	Confidence float64   `json:"confidence"`
}

// IsEmpty reports whether no section matched.
func (r Result) IsEmpty() bool { return len(r.Path) == 0 }

// Top returns the top-level section.
func (r Result) Top() Section {
	if r.IsEmpty() {
		return Section{}
	}
	return r.Path[0]
}

// Leaf returns the deepest section.
func (r Result) Leaf() Section {
	if r.IsEmpty() {
		return Section{}
	}
	return r.Path[len(r.Path)-1]
}

// Classifier is safe for concurrent use.
type Classifier struct {
	index *Index
}

// New returns a classifier over index.
func New(index *Index) *Classifier {
	return &Classifier{index: index}
}

// Classify returns the deepest best-scoring section path for text. Empty
// text or no overlap gives an empty Result.
func (c *Classifier) Classify(text normalize.Text) Result {
	terms := terms(text.Key)
	if len(terms) == 0 || c.index == nil {
		return Result{}
	}

	own := make(map[*node][]int, len(c.index.nodes))
	for _, n := range c.index.nodes {
		if hits := hitsOf(terms, n.stems); len(hits) > 0 {
			own[n] = hits
		}
	}

	var (
		best      *node
		bestScore int
	)
	for _, n := range c.index.nodes {
		if _, ok := own[n]; !ok {
			continue
		}
		matched := make(map[int]struct{})
		for p := n; p != nil; p = p.parent {
			for _, h := range own[p] {
				matched[h] = struct{}{}
			}
		}
		score := len(matched)
		if best == nil || score > bestScore ||
			(score == bestScore && (n.depth > best.depth || (n.depth == best.depth && n.Code < best.Code))) {
			best, bestScore = n, score
		}
	}
	if best == nil {
		return Result{}
	}

	var path []Section
	for p := best; p != nil; p = p.parent {
		path = append(path, p.Section)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return Result{Path: path, Confidence: llmjson.Clamp(float64(bestScore) / float64(len(terms)))}
}

// Hint returns the leaf code of a confident classification of key.
func (c *Classifier) Hint(key string) string {
	r := c.Classify(normalize.Normalize(key))
	if r.IsEmpty() || r.Confidence < HintConfidence {
		return ""
	}
	return r.Leaf().Code
}

// CrossCheck adjusts the top retrieval-ranked match against the
// classification: agreement with a section prefix is boosted, a contradiction
// of a confident classification is damped. The result is re-sorted by
// confidence; matches are copied, never modified in place.
func CrossCheck(r Result, matches []match.RankedMatch) []match.RankedMatch {
	out := append([]match.RankedMatch(nil), matches...)
	if r.IsEmpty() || len(out) == 0 {
		return out
	}

	top := &out[0]
	if top.Source != match.SourceRetrievalLLM && top.Source != match.SourceRetrieval {
		return out
	}

	agrees := false
	for _, s := range r.Path {
		if strings.HasPrefix(top.Code, s.Code) {
			agrees = true
			break
		}
	}
	switch {
	case agrees:
		top.Confidence = llmjson.Clamp(top.Confidence + CrossBoost)
	case r.Confidence >= HintConfidence:
		top.Confidence = llmjson.Clamp(top.Confidence * CrossDamp)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// terms returns the distinct keyword stems of key, skipping tokens with digits.
func terms(key string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, kw := range normalize.Keywords(key) {
		if strings.IndexFunc(kw, unicode.IsDigit) >= 0 {
			continue
		}
		stem := normalize.Stem(kw)
		if _, ok := seen[stem]; ok {
			continue
		}
		seen[stem] = struct{}{}
		out = append(out, stem)
	}
	return out
}

// hitsOf returns the indexes of terms matching any stem. A term matches when
// one is a prefix of the other and the shorter has at least minPrefix runes.
func hitsOf(terms, stems []string) []int {
	var hits []int
	for i, t := range terms {
		for _, s := range stems {
			if prefixMatch(t, s) {
				hits = append(hits, i)
				break
			}
		}
	}
	return hits
}

func prefixMatch(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	return len([]rune(a)) >= minPrefix && strings.HasPrefix(b, a)
}
