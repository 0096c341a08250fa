package pipeline

import (
	"context"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/progress"
	"github.com/spigell/urs-matcher/internal/retrieve"
)

// Retriever gathers catalog candidates for a SubWork.
type Retriever interface {
	Retrieve(ctx context.Context, sw match.SubWork, depth retrieve.Depth, sink progress.Sink) []catalog.Candidate
}

// Ranker scores candidates.
type Ranker interface {
	Rerank(ctx context.Context, sw match.SubWork, candidates []catalog.Candidate) []match.RankedMatch
}

type retrievalResolver struct {
	toggle
	retriever Retriever
	ranker    Ranker
}

// NewRetrieval searches the catalog and reranks what it found. It always
// resolves: no candidates is a valid empty answer.
func NewRetrieval(retriever Retriever, ranker Ranker) Resolver {
	return &retrievalResolver{retriever: retriever, ranker: ranker}
}

func (r *retrievalResolver) Name() string { return "retrieval" }

func (r *retrievalResolver) Resolve(ctx context.Context, w Work) ([]match.RankedMatch, bool, error) {
	candidates := r.retriever.Retrieve(ctx, w.SubWork, w.Depth, w.Sink)
	return r.ranker.Rerank(ctx, w.SubWork, candidates), true, nil
}
