package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/spigell/urs-matcher/internal/normalize"
)

// Memory is an in-process catalog. It is safe for concurrent reads.
type Memory struct {
	entries []indexed
	byCode  map[string]int
}

type indexed struct {
	Candidate
	tokens []string
}

type scored struct {
	Candidate
	score int
}

// NewMemory indexes items. Later duplicates of a code are ignored.
func NewMemory(items []Candidate) *Memory {
	m := &Memory{
		entries: make([]indexed, 0, len(items)),
		byCode:  make(map[string]int, len(items)),
	}
	for _, item := range items {
		item.Code = strings.TrimSpace(item.Code)
		if item.Code == "" {
			continue
		}
		if _, ok := m.byCode[item.Code]; ok {
			continue
		}
		m.byCode[item.Code] = len(m.entries)
		m.entries = append(m.entries, indexed{
			Candidate: item,
			tokens:    normalize.Tokens(normalize.Normalize(item.Name).Key),
		})
	}
	return m
}

// Len returns the number of indexed entries.
func (m *Memory) Len() int {
	return len(m.entries)
}

func (m *Memory) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := searchTerms(q.Text)
	prefix := strings.TrimSpace(q.CodePrefix)
	if len(terms) == 0 && prefix == "" {
		return nil, nil
	}

	var hits []scored
	for _, e := range m.entries {
		if prefix != "" && !strings.HasPrefix(e.Code, prefix) {
			continue
		}
		s := score(terms, e.tokens)
		if len(terms) > 0 && s == 0 {
			continue
		}
		hits = append(hits, scored{Candidate: e.Candidate, score: s})
	}

	return rank(hits, limitOrDefault(q.Limit)), nil
}

func (m *Memory) GetByCode(ctx context.Context, code string) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, ok := m.byCode[strings.TrimSpace(code)]
	if !ok {
		return nil, nil
	}
	c := m.entries[idx].Candidate
	return &c, nil
}

func (m *Memory) Close() error { return nil }

// searchTerms returns the stems of the query keywords, deduplicated.
func searchTerms(text string) []string {
	key := normalize.Normalize(text).Key
	seen := make(map[string]struct{})
	var terms []string
	for _, kw := range normalize.Keywords(key) {
		stem := normalize.Stem(kw)
		if _, ok := seen[stem]; ok {
			continue
		}
		seen[stem] = struct{}{}
		terms = append(terms, stem)
	}
	return terms
}

// score counts the terms that prefix at least one entry token.
func score(terms, tokens []string) int {
	n := 0
	for _, term := range terms {
		for _, tok := range tokens {
			if strings.HasPrefix(tok, term) {
				n++
				break
			}
		}
	}
	return n
}

func rank(hits []scored, limit int) []Candidate {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].Code < hits[j].Code
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = h.Candidate
	}
	return out
}
