// Package dedup merges near-identical sub-work results of one work item.
package dedup

import (
	"cmp"
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/spigell/urs-matcher/internal/match"
)

// DefaultThreshold is the similarity at or above which two entries merge.
const DefaultThreshold = 0.85

// Entry is the matched outcome of one SubWork.
type Entry struct {
	Description string `json:"description"`
	// Key is the normalized description compared for similarity.
	Key      string              `json:"-"`
	Quantity *float64            `json:"quantity,omitempty"`
	Unit     string              `json:"unit,omitempty"`
	Matches  []match.RankedMatch `json:"matches"`
}

// Best returns the top match or nil.
func (e Entry) Best() *match.RankedMatch {
	if len(e.Matches) == 0 {
		return nil
	}
	return &e.Matches[0]
}

// Similarity is one minus the rune edit distance over the longer length.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Deduplicate unions entries whose keys are at least threshold similar,
// transitively. Each group keeps its best entry, with the known quantities of
// the group summed. Groups are returned in order of their first member.
// A threshold outside (0, 1] falls back to DefaultThreshold.
func Deduplicate(entries []Entry, threshold float64) []Entry {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if len(entries) < 2 {
		return append([]Entry(nil), entries...)
	}

	parent := make([]int, len(entries))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if Similarity(entries[i].Key, entries[j].Key) < threshold {
				continue
			}
			ri, rj := find(i), find(j)
			if ri == rj {
				continue
			}
			// The lower index stays root so groups keep their first appearance.
			if rj < ri {
				ri, rj = rj, ri
			}
			parent[rj] = ri
		}
	}

	groups := make(map[int][]int)
	var roots []int
	for i := range entries {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	out := make([]Entry, 0, len(roots))
	for _, r := range roots {
		out = append(out, merge(entries, groups[r]))
	}
	return out
}

func merge(entries []Entry, members []int) Entry {
	best := entries[members[0]]
	var (
		quantities []float64
		units      []string
	)
	for _, i := range members {
		e := entries[i]
		if better(e, best) {
			best = e
		}
		if e.Quantity != nil {
			quantities = append(quantities, *e.Quantity)
		}
		if e.Unit != "" {
			units = append(units, e.Unit)
		}
	}

	merged := best
	merged.Matches = append([]match.RankedMatch(nil), best.Matches...)
	merged.Quantity = nil
	if len(quantities) > 0 {
		// Summed in sorted order so member order cannot change the float result.
		sort.Float64s(quantities)
		var sum float64
		for _, q := range quantities {
			sum += q
		}
		merged.Quantity = match.Float(sum)
	}
	if merged.Unit == "" && len(units) > 0 {
		sort.Strings(units)
		merged.Unit = units[0]
	}
	return merged
}

// better orders entries by top confidence, then lower code, description,
// unit, quantity and finally the codes of the lower-ranked matches.
func better(a, b Entry) bool {
	ac, acode := score(a)
	bc, bcode := score(b)
	if ac != bc {
		return ac > bc
	}
	if acode != bcode {
		return acode < bcode
	}
	if a.Description != b.Description {
		return a.Description < b.Description
	}
	if a.Unit != b.Unit {
		return a.Unit < b.Unit
	}
	if c := compareQuantity(a.Quantity, b.Quantity); c != 0 {
		return c < 0
	}
	return lessMatches(a.Matches, b.Matches)
}

// compareQuantity orders a missing quantity before any known one.
func compareQuantity(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

func lessMatches(a, b []match.RankedMatch) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].Code != b[i].Code {
			return a[i].Code < b[i].Code
		}
		if a[i].Confidence != b[i].Confidence {
			return a[i].Confidence > b[i].Confidence
		}
	}
	return len(a) < len(b)
}

func score(e Entry) (float64, string) {
	m := e.Best()
	if m == nil {
		return -1, ""
	}
	return m.Confidence, m.Code
}
