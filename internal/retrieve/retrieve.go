// Package retrieve collects catalog candidates for a SubWork by issuing
// several query variants through the router.
package retrieve

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/llmjson"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
	"github.com/spigell/urs-matcher/internal/progress"
	"github.com/spigell/urs-matcher/internal/router"
)

// Hinter proposes a catalog code prefix for a Key. The classifier implements it.
type Hinter interface {
	Hint(key string) string
}

// Config tunes retrieval.
type Config struct {
	// MaxCandidates caps the merged result.
	MaxCandidates int `mapstructure:"max-candidates"`
	// PerQuery is the limit sent with each query.
	PerQuery int `mapstructure:"per-query"`
}

// Retriever is safe for concurrent use.
type Retriever struct {
	router router.Invoker
	hinter Hinter
	cfg    Config
	logger *zap.Logger
}

// New returns a Retriever. hinter may be nil.
func New(r router.Invoker, hinter Hinter, cfg Config, log *zap.Logger) *Retriever {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = catalog.DefaultLimit
	}
	if cfg.PerQuery <= 0 {
		cfg.PerQuery = cfg.MaxCandidates
	}
	return &Retriever{router: r, hinter: hinter, cfg: cfg, logger: logger.WithFields(log)}
}

// Retrieve returns up to MaxCandidates distinct candidates ordered by the
// priority of the query that found them first. A query that fails or finds
// nothing is skipped.
func (r *Retriever) Retrieve(ctx context.Context, sw match.SubWork, depth Depth, sink progress.Sink) []catalog.Candidate {
	key := normalize.Normalize(sw.Description).Key
	if key == "" {
		return nil
	}
	sink = progress.OrDiscard(sink)

	hint := ""
	if r.hinter != nil {
		hint = r.hinter.Hint(key)
	}
	queries := Variants(key, hint, depth.Variants())

	results := make([][]catalog.Candidate, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			results[i] = r.query(ctx, q, sink)
			return nil
		})
	}
	_ = g.Wait()

	sink.Emit(progress.Event{Event: progress.Merging})
	return merge(results, r.cfg.MaxCandidates)
}

func (r *Retriever) query(ctx context.Context, q Query, sink progress.Sink) []catalog.Candidate {
	label := q.Label()
	sink.Emit(progress.Event{Event: progress.QueryStarted, Query: label})
	start := time.Now()

	found, err := r.search(ctx, q)

	sink.Emit(progress.Event{Event: progress.QueryCompleted, Query: label, TimeMS: progress.Elapsed(time.Since(start))})
	if err != nil {
		r.logger.Debug("retrieval query failed", zap.String("query", label), zap.Error(err))
		return nil
	}
	for i := range found {
		found[i].Query = label
	}
	return found
}

func (r *Retriever) search(ctx context.Context, q Query) ([]catalog.Candidate, error) {
	req, err := router.NewRequest(router.TaskRetrieve, "", match.RetrieveRequest{
		Query:      q.Text,
		CodePrefix: q.CodePrefix,
		Limit:      r.cfg.PerQuery,
	})
	if err != nil {
		return nil, err
	}

	res, err := r.router.Invoke(ctx, router.TaskRetrieve, req)
	if err != nil {
		return nil, err
	}

	var found []catalog.Candidate
	if err := llmjson.Decode(res.Response.Body(), &found); err != nil {
		return nil, err
	}
	return found, nil
}

func merge(results [][]catalog.Candidate, limit int) []catalog.Candidate {
	var (
		out  []catalog.Candidate
		seen = make(map[string]struct{})
	)
	for _, batch := range results {
		for _, c := range batch {
			if c.Code == "" {
				continue
			}
			if _, ok := seen[c.Code]; ok {
				continue
			}
			seen[c.Code] = struct{}{}
			out = append(out, c)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}
