package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/router"
)

type stubInvoker struct {
	reply string
	local bool
	err   error
	calls int
}

func (s *stubInvoker) Invoke(_ context.Context, task router.Task, _ router.Request) (*router.Result, error) {
	s.calls++
	if task != router.TaskRerank {
		return nil, errors.New("unexpected task")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &router.Result{Provider: "stub", Response: router.Response{Text: s.reply, Local: s.local}}, nil
}

var candidates = []catalog.Candidate{
	{Code: "273313611", Name: "Základové desky z betonu tř. C 25/30", Unit: "m3", Query: "beton"},
	{Code: "273351121", Name: "Bednění základových desek zřízení", Unit: "m2", Query: "beton"},
	{Code: "274313611", Name: "Základové pásy z betonu", Unit: "m3", Query: "beton"},
}

func TestRerankEmptySkipsProvider(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{}
	got := New(stub, Config{}, zap.NewNop()).Rerank(context.Background(), match.SubWork{Description: "beton"}, nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
	if stub.calls != 0 {
		t.Fatalf("expected no provider call, got %d", stub.calls)
	}
}

func TestRerankAppliesRanking(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{reply: `{"ranking":[
		{"code":"273351121","confidence":0.4,"reason":"bednění"},
		{"code":"999999999","confidence":0.99},
		{"code":"273313611","confidence":"1.7","reason":"beton desky"},
		{"code":"273351121","confidence":0.1}
	]}`}

	got := New(stub, Config{}, nil).Rerank(context.Background(), match.SubWork{Description: "Základová deska z betonu"}, candidates)

	want := []match.RankedMatch{
		{Candidate: candidates[0], Confidence: 1, Explanation: "beton desky", Source: match.SourceRetrievalLLM, Provider: "stub"},
		{Candidate: candidates[1], Confidence: 0.4, Explanation: "bednění", Source: match.SourceRetrievalLLM, Provider: "stub"},
		{Candidate: candidates[2], Confidence: 0, Source: match.SourceRetrievalLLM, Provider: "stub"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected ranking (-want +got):\n%s", diff)
	}
}

func TestRerankLocalProviderSource(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{reply: `{"ranking":[{"code":"274313611","confidence":0.5}]}`, local: true}
	got := New(stub, Config{}, nil).Rerank(context.Background(), match.SubWork{Description: "pasy"}, candidates)
	if got[0].Code != "274313611" || got[0].Source != match.SourceRetrieval {
		t.Fatalf("unexpected local ranking: %+v", got[0])
	}
}

func TestRerankFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		stub *stubInvoker
	}{
		{name: "router exhausted", stub: &stubInvoker{err: router.ErrAllProvidersExhausted}},
		{name: "unparsable reply", stub: &stubInvoker{reply: "Nejlepší je první položka."}},
		{name: "only unknown codes", stub: &stubInvoker{reply: `{"ranking":[{"code":"1","confidence":0.9}]}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := New(tt.stub, Config{FallbackConfidence: 0.25}, nil).Rerank(context.Background(), match.SubWork{Description: "beton"}, candidates)
			if len(got) != len(candidates) {
				t.Fatalf("expected every candidate to be kept, got %d", len(got))
			}
			for i, m := range got {
				if m.Candidate != candidates[i] {
					t.Fatalf("expected retrieval order, got %+v at %d", m.Candidate, i)
				}
				if m.Source != match.SourceRetrieval {
					t.Fatalf("expected retrieval source, got %q", m.Source)
				}
			}
			if got[0].Confidence != 0.25 || got[1].Confidence != 0 || got[2].Confidence != 0 {
				t.Fatalf("unexpected fallback confidences: %+v", got)
			}
		})
	}
}

func TestNewDefaultsFallbackConfidence(t *testing.T) {
	t.Parallel()

	got := New(nil, Config{FallbackConfidence: 3}, nil).Fallback(candidates[:1])
	if got[0].Confidence != DefaultFallbackConfidence {
		t.Fatalf("expected default fallback confidence, got %v", got[0].Confidence)
	}
}
