// Package lexical is an in-process provider that splits and ranks by keyword
// overlap. It needs no credentials and is the last entry of the default
// routing lists.
package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spigell/urs-matcher/internal/llmjson"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
	"github.com/spigell/urs-matcher/internal/router"
)

// Name is the routing name of the provider.
const Name = "lexical"

const (
	overlapWeight = 0.75
	unitBonus     = 0.1
	// splitOverlap is the stem overlap above which two segments describe the same work.
	splitOverlap = 0.5
	// splitKeywords is the keyword count a segment needs to stand as a work of its own.
	splitKeywords = 2
)

// Provider serves split and rerank locally.
type Provider struct{}

// New returns the lexical provider.
func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return Name }

func (p *Provider) Supports(task router.Task) bool {
	return task == router.TaskSplit || task == router.TaskRerank
}

func (p *Provider) Call(ctx context.Context, req router.Request) (router.Response, error) {
	if err := ctx.Err(); err != nil {
		return router.Response{}, err
	}

	var (
		reply any
		err   error
	)
	switch req.Task {
	case router.TaskSplit:
		reply, err = p.split(req.Payload)
	case router.TaskRerank:
		reply, err = p.rerank(req.Payload)
	default:
		return router.Response{}, fmt.Errorf("lexical provider does not serve %s", req.Task)
	}
	if err != nil {
		return router.Response{}, err
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return router.Response{}, fmt.Errorf("marshal %s reply: %w", req.Task, err)
	}
	return router.Response{Data: data, Local: true}, nil
}

func (p *Provider) split(payload []byte) (match.SplitReply, error) {
	var req match.SplitRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return match.SplitReply{}, fmt.Errorf("decode split payload: %w", err)
	}

	if len(req.Segments) < 2 {
		return match.SplitReply{Composite: false}, nil
	}

	sets := make([]map[string]struct{}, 0, len(req.Segments))
	for _, seg := range req.Segments {
		s := stems(seg)
		if len(s) < splitKeywords {
			return match.SplitReply{Composite: false}, nil
		}
		sets = append(sets, s)
	}
	for i := 1; i < len(sets); i++ {
		if jaccard(sets[i-1], sets[i]) >= splitOverlap {
			return match.SplitReply{Composite: false}, nil
		}
	}
	return match.SplitReply{Composite: true}, nil
}

func (p *Provider) rerank(payload []byte) (match.RerankReply, error) {
	var req match.RerankRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return match.RerankReply{}, fmt.Errorf("decode rerank payload: %w", err)
	}

	desc := stems(req.Description)
	unit := normalize.Normalize(req.Unit).Key

	type entry struct {
		match.RankEntry
		order int
	}
	entries := make([]entry, 0, len(req.Candidates))
	for i, c := range req.Candidates {
		tokens := normalize.Tokens(normalize.Normalize(c.Name).Key)
		hit := 0
		for stem := range desc {
			for _, tok := range tokens {
				if strings.HasPrefix(tok, stem) {
					hit++
					break
				}
			}
		}

		conf := 0.0
		if len(desc) > 0 {
			conf = overlapWeight * float64(hit) / float64(len(desc))
		}
		if unit != "" && unit == normalize.Normalize(c.Unit).Key {
			conf += unitBonus
		}

		entries = append(entries, entry{
			RankEntry: match.RankEntry{
				Code:       c.Code,
				Confidence: llmjson.Clamp(conf),
				Reason:     fmt.Sprintf("keyword overlap %d/%d", hit, len(desc)),
			},
			order: i,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Confidence != entries[j].Confidence {
			return entries[i].Confidence > entries[j].Confidence
		}
		return entries[i].order < entries[j].order
	})

	out := match.RerankReply{Ranking: make([]match.RankEntry, len(entries))}
	for i, e := range entries {
		out.Ranking[i] = e.RankEntry
	}
	return out, nil
}

func stems(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, kw := range normalize.Keywords(normalize.Normalize(text).Key) {
		out[normalize.Stem(kw)] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
