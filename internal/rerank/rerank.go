// Package rerank orders retrieved candidates by confidence.
package rerank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/llmjson"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/router"
)

// DefaultFallbackConfidence is given to the top candidate when no ranking
// provider answered.
const DefaultFallbackConfidence = 0.3

// SystemPrompt is sent with rerank requests.
const SystemPrompt = `You match Czech construction budget lines to catalog items (URS codes).
Rank the candidates by how well they describe the work, considering material, operation and unit.
Use only candidate codes from the input. Confidence is a number between 0 and 1.
Respond with JSON only: {"ranking":[{"code":"...","confidence":0.0,"reason":"..."}]}`

// Config tunes the reranker.
type Config struct {
	FallbackConfidence float64 `mapstructure:"fallback-confidence"`
}

// Reranker is safe for concurrent use.
type Reranker struct {
	router router.Invoker
	cfg    Config
	logger *zap.Logger
}

// New returns a Reranker.
func New(r router.Invoker, cfg Config, log *zap.Logger) *Reranker {
	if cfg.FallbackConfidence <= 0 || cfg.FallbackConfidence > 1 {
		cfg.FallbackConfidence = DefaultFallbackConfidence
	}
	return &Reranker{router: r, cfg: cfg, logger: logger.WithFields(log)}
}

// Rerank scores candidates for sw. Candidate identity is never altered. It
// returns an empty list only for empty input and never calls a provider then.
func (r *Reranker) Rerank(ctx context.Context, sw match.SubWork, candidates []catalog.Candidate) []match.RankedMatch {
	if len(candidates) == 0 {
		return []match.RankedMatch{}
	}

	req, err := router.NewRequest(router.TaskRerank, SystemPrompt, match.RerankRequest{
		Description: sw.Description,
		Quantity:    sw.Quantity,
		Unit:        sw.Unit,
		Candidates:  candidates,
	})
	if err != nil {
		r.logger.Warn("build rerank request", zap.Error(err))
		return r.Fallback(candidates)
	}

	res, err := r.router.Invoke(ctx, router.TaskRerank, req)
	if err != nil {
		r.logger.Debug("ranking unavailable, keeping retrieval order", zap.Error(err))
		return r.Fallback(candidates)
	}

	var reply match.RerankReply
	if err := llmjson.Decode(res.Response.Body(), &reply); err != nil {
		r.logger.Debug("unparsable ranking, keeping retrieval order",
			zap.String(logger.FieldProvider, res.Provider), zap.Error(err))
		return r.Fallback(candidates)
	}

	source := match.SourceRetrievalLLM
	if res.Response.Local {
		source = match.SourceRetrieval
	}

	ranked, ok := apply(candidates, reply, source, res.Provider)
	if !ok {
		r.logger.Debug("ranking named no known candidate, keeping retrieval order",
			zap.String(logger.FieldProvider, res.Provider))
		return r.Fallback(candidates)
	}
	return ranked
}

// apply maps the reply onto candidates. Unknown and repeated codes are
// ignored, omitted candidates follow in retrieval order with confidence 0.
func apply(candidates []catalog.Candidate, reply match.RerankReply, source match.Source, provider string) ([]match.RankedMatch, bool) {
	index := make(map[string]int, len(candidates))
	for i, c := range candidates {
		if _, ok := index[c.Code]; !ok {
			index[c.Code] = i
		}
	}

	used := make([]bool, len(candidates))
	out := make([]match.RankedMatch, 0, len(candidates))
	for _, e := range reply.Ranking {
		i, ok := index[e.Code]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		out = append(out, match.RankedMatch{
			Candidate:   candidates[i],
			Confidence:  llmjson.Clamp(e.Confidence),
			Explanation: e.Reason,
			Source:      source,
			Provider:    provider,
		})
	}
	if len(out) == 0 {
		return nil, false
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })

	for i, c := range candidates {
		if used[i] {
			continue
		}
		out = append(out, match.RankedMatch{Candidate: c, Source: source, Provider: provider})
	}
	return out, true
}

// Fallback keeps retrieval order, gives the top candidate the fallback
// confidence and the rest 0.
func (r *Reranker) Fallback(candidates []catalog.Candidate) []match.RankedMatch {
	out := make([]match.RankedMatch, len(candidates))
	for i, c := range candidates {
		out[i] = match.RankedMatch{Candidate: c, Source: match.SourceRetrieval}
	}
	if len(out) > 0 {
		out[0].Confidence = r.cfg.FallbackConfidence
	}
	return out
}
