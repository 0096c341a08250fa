package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/classify"
	"github.com/spigell/urs-matcher/internal/dedup"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/memory"
	"github.com/spigell/urs-matcher/internal/normalize"
	"github.com/spigell/urs-matcher/internal/pipeline"
	"github.com/spigell/urs-matcher/internal/progress"
	"github.com/spigell/urs-matcher/internal/providers/catalogsearch"
	"github.com/spigell/urs-matcher/internal/providers/lexical"
	"github.com/spigell/urs-matcher/internal/rerank"
	"github.com/spigell/urs-matcher/internal/retrieve"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/split"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubMatcher struct {
	inflight atomic.Int32
	peak     atomic.Int32
	pins     chan string
	delay    time.Duration
	err      error
}

func (s *stubMatcher) Match(ctx context.Context, item match.WorkItem, _ retrieve.Depth, _ progress.Sink) ([]dedup.Entry, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.pins != nil {
		pin, _ := router.PinFrom(ctx)
		s.pins <- pin
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return []dedup.Entry{{
		Description: item.Description,
		Matches: []match.RankedMatch{{
			Candidate:  catalog.Candidate{Code: "311231115"},
			Confidence: 0.9,
			Source:     match.SourceRetrievalLLM,
		}},
	}}, nil
}

type panickyClassifier struct{}

func (panickyClassifier) Classify(text normalize.Text) classify.Result {
	if strings.Contains(text.Key, "polozka 3") {
		panic("section index exploded")
	}
	return classify.Result{Path: []classify.Section{{Code: "3"}}, Confidence: 0.8}
}

func items(n int) []match.WorkItem {
	out := make([]match.WorkItem, 0, n)
	for i := range n {
		row := i + 2
		out = append(out, match.WorkItem{Description: "Zdivo položka " + string(rune('1'+i)), Row: &row})
	}
	return out
}

func TestRunIsolatesItemPanics(t *testing.T) {
	t.Parallel()

	o, err := New(&stubMatcher{}, panickyClassifier{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	res := o.Run(context.Background(), items(5), Options{Concurrency: 3})

	if res.Summary != (Summary{Matched: 4, Failed: 1, Total: 5}) {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	for i, it := range res.Items {
		if it.Index != i || *it.Row != i+2 {
			t.Fatalf("item %d out of order: %+v", i, it)
		}
		if i == 2 {
			if it.Status != StatusFailed || it.Error == nil || it.Error.Kind != "panic" {
				t.Fatalf("expected item 3 to fail with a panic, got %+v", it)
			}
			if !strings.Contains(it.Error.Message, ErrItemFailed.Error()) {
				t.Fatalf("expected wrapped item error, got %q", it.Error.Message)
			}
			continue
		}
		if it.Status != StatusMatched || it.Error != nil || len(it.Matches) != 1 {
			t.Fatalf("expected item %d to be unaffected, got %+v", i, it)
		}
		if it.Classification == nil || it.Classification.Leaf().Code != "3" {
			t.Fatalf("expected classification on item %d", i)
		}
	}
}

func TestRunHonorsConcurrency(t *testing.T) {
	t.Parallel()

	m := &stubMatcher{delay: 10 * time.Millisecond}
	o, _ := New(m, nil, zap.NewNop())
	res := o.Run(context.Background(), items(6), Options{Concurrency: 2})

	if res.Summary.Matched != 6 {
		t.Fatalf("expected all items matched, got %+v", res.Summary)
	}
	if peak := m.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 items in flight, got %d", peak)
	}
}

type blockingMatcher struct{}

func (blockingMatcher) Match(ctx context.Context, _ match.WorkItem, _ retrieve.Depth, _ progress.Sink) ([]dedup.Entry, error) {
	<-ctx.Done()
	return nil, nil
}

func TestRunDeadlineSkipsUnstarted(t *testing.T) {
	t.Parallel()

	o, _ := New(blockingMatcher{}, nil, zap.NewNop())
	res := o.Run(context.Background(), items(3), Options{Concurrency: 1, Timeout: 50 * time.Millisecond})

	if res.Summary != (Summary{Unmatched: 1, Skipped: 2, Total: 3}) {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	for _, it := range res.Items[1:] {
		if it.Status != StatusSkipped || it.Error == nil || it.Error.Kind != "skipped" {
			t.Fatalf("expected skipped item with a reason, got %+v", it)
		}
		if it.Description == "" {
			t.Fatalf("expected skipped item to keep its description")
		}
	}
}

func TestRunPinsProvider(t *testing.T) {
	t.Parallel()

	m := &stubMatcher{pins: make(chan string, 2)}
	o, _ := New(m, nil, zap.NewNop())
	o.Run(context.Background(), items(2), Options{Pin: "anthropic"})
	close(m.pins)

	for pin := range m.pins {
		if pin != "anthropic" {
			t.Fatalf("expected pin to reach the matcher, got %q", pin)
		}
	}
}

func TestRunMatcherError(t *testing.T) {
	t.Parallel()

	o, _ := New(&stubMatcher{err: router.ErrAllProvidersExhausted}, nil, zap.NewNop())
	var rec progress.Recorder
	res := o.Run(context.Background(), items(1), Options{Sink: &rec})

	it := res.Items[0]
	if it.Status != StatusFailed || it.Error.Kind != "providers_exhausted" {
		t.Fatalf("unexpected item %+v", it)
	}
	if rec.Count(progress.Error) != 1 {
		t.Fatalf("expected an item error event")
	}
	events := rec.Events()
	if last := events[len(events)-1]; !last.Terminal() || last.Event != progress.Completed {
		t.Fatalf("expected the stream to end with batch completion, got %+v", last)
	}
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()

	o, _ := New(&stubMatcher{}, nil, zap.NewNop())
	res := o.Run(context.Background(), nil, Options{})
	if res.Summary.Total != 0 || len(res.Items) != 0 || res.ID.String() == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunAttachesUsageBeforeCompletion(t *testing.T) {
	t.Parallel()

	o, _ := New(&stubMatcher{}, nil, zap.NewNop())
	var rec progress.Recorder
	usage := func() []router.Usage {
		return []router.Usage{{Provider: "catalog", Calls: 3}}
	}
	res := o.Run(context.Background(), items(1), Options{Sink: &rec, Usage: usage})

	if len(res.Usage) != 1 || res.Usage[0].Calls != 3 {
		t.Fatalf("unexpected usage %+v", res.Usage)
	}
	events := rec.Events()
	last, ok := events[len(events)-1].Result.(*Result)
	if !ok || len(last.Usage) != 1 {
		t.Fatalf("expected the terminal event to carry usage, got %+v", events[len(events)-1])
	}
}

type linesMatcher []dedup.Entry

func (m linesMatcher) Match(context.Context, match.WorkItem, retrieve.Depth, progress.Sink) ([]dedup.Entry, error) {
	return append([]dedup.Entry(nil), m...), nil
}

type keywordClassifier map[string]classify.Result

func (k keywordClassifier) Classify(text normalize.Text) classify.Result {
	for _, kw := range []string{"zdivo", "bedneni"} {
		if strings.Contains(text.Key, kw) {
			return k[kw]
		}
	}
	return classify.Result{}
}

func TestRunCrossChecksEachLine(t *testing.T) {
	t.Parallel()

	top := func(code string) []match.RankedMatch {
		return []match.RankedMatch{{
			Candidate:  catalog.Candidate{Code: code},
			Confidence: 0.8,
			Source:     match.SourceRetrievalLLM,
		}}
	}
	m := linesMatcher{
		{Description: "Zdivo nosné z cihel", Matches: top("311231115")},
		{Description: "Bednění základové desky", Matches: top("273351121")},
	}
	cls := keywordClassifier{
		"zdivo":   {Path: []classify.Section{{Code: "3"}, {Code: "31"}}, Confidence: 0.9},
		"bedneni": {Path: []classify.Section{{Code: "2"}, {Code: "27"}}, Confidence: 0.9},
	}

	o, err := New(m, cls, zap.NewNop())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	res := o.Run(context.Background(), []match.WorkItem{{Description: "Zdivo a bednění základové desky"}}, Options{})

	it := res.Items[0]
	if it.Classification == nil || it.Classification.Top().Code != "3" {
		t.Fatalf("expected the item to classify as masonry, got %+v", it.Classification)
	}
	if len(it.Matches) != 2 {
		t.Fatalf("expected two line matches, got %+v", it.Matches)
	}
	for _, got := range it.Matches {
		if math.Abs(got.Confidence-(0.8+classify.CrossBoost)) > 1e-9 {
			t.Fatalf("expected %s to agree with its own line section, got %v", got.Code, got.Confidence)
		}
	}
}

func TestRunSingleLineUsesItemClassification(t *testing.T) {
	t.Parallel()

	m := linesMatcher{{Description: "Bednění", Matches: []match.RankedMatch{{
		Candidate:  catalog.Candidate{Code: "311231115"},
		Confidence: 0.8,
		Source:     match.SourceRetrievalLLM,
	}}}}
	cls := keywordClassifier{"zdivo": {Path: []classify.Section{{Code: "3"}}, Confidence: 0.9}}

	o, _ := New(m, cls, zap.NewNop())
	res := o.Run(context.Background(), []match.WorkItem{{Description: "Zdivo"}}, Options{})

	got := res.Items[0].Matches[0].Confidence
	if math.Abs(got-(0.8+classify.CrossBoost)) > 1e-9 {
		t.Fatalf("expected the whole item section to apply, got %v", got)
	}
}

func TestNewRequiresMatcher(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil, zap.NewNop()); err == nil {
		t.Fatalf("expected missing matcher to fail")
	}
}

func localOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	cat := catalog.NewMemory([]catalog.Candidate{
		{Code: "273313611", Name: "Základové desky z betonu tř. C 25/30", Unit: "m3"},
		{Code: "273351121", Name: "Bednění základových desek zřízení", Unit: "m2"},
		{Code: "311231115", Name: "Zdivo nosné z cihel plných", Unit: "m3"},
	})
	r, err := router.New(router.Config{}, zap.NewNop(), catalogsearch.New(cat), lexical.New())
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	ix, err := classify.Default()
	if err != nil {
		t.Fatalf("load sections: %v", err)
	}
	cls := classify.New(ix)

	p, err := pipeline.New(split.New(r, zap.NewNop()), []pipeline.Resolver{
		pipeline.NewRule(cat),
		pipeline.NewCache(memory.NewCache(0), pipeline.NewRetrieval(
			retrieve.New(r, cls, retrieve.Config{}, zap.NewNop()),
			rerank.New(r, rerank.Config{}, zap.NewNop()),
		)),
	}, nil, pipeline.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	o, err := New(p, cls, zap.NewNop())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := progress.NewWriter(&buf)
	res := localOrchestrator(t).Run(context.Background(), []match.WorkItem{
		{Description: "Základová deska z betonu C25/30, 45 m³ a bednění základové desky 120 m²"},
		{Description: ""},
	}, Options{Sink: w})

	composite := res.Items[0]
	if composite.Status != StatusMatched || len(composite.Matches) != 2 {
		t.Fatalf("expected 2 deduplicated matches, got %+v", composite.Matches)
	}
	if composite.Matches[0].Code != "273313611" || composite.Matches[1].Code != "273351121" {
		t.Fatalf("expected concrete then formwork, got %s and %s", composite.Matches[0].Code, composite.Matches[1].Code)
	}
	if composite.Classification == nil || composite.Classification.Top().Code != "2" {
		t.Fatalf("expected foundation classification, got %+v", composite.Classification)
	}
	if !composite.NeedsReview {
		t.Fatalf("expected ranking without an LLM to need review")
	}

	empty := res.Items[1]
	if empty.Status != StatusUnmatched || empty.Error != nil || empty.Matches == nil || len(empty.Matches) != 0 {
		t.Fatalf("expected a valid empty outcome, got %+v", empty)
	}

	if !w.Closed() || w.Err() != nil {
		t.Fatalf("expected a closed stream without errors, got closed=%v err=%v", w.Closed(), w.Err())
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var last struct {
		Event  string          `json:"event"`
		Item   *int            `json:"item"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("decode last event: %v", err)
	}
	if last.Event != "completed" || last.Item != nil || len(last.Result) == 0 {
		t.Fatalf("expected batch completion with the result last, got %s", lines[len(lines)-1])
	}
	var started int
	for _, l := range lines {
		if strings.Contains(l, `"event":"query_started"`) {
			started++
		}
	}
	if started == 0 {
		t.Fatalf("expected query progress in the stream:\n%s", buf.String())
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	if got := errorKind(errors.Join(ErrItemFailed, context.DeadlineExceeded)); got != "canceled" {
		t.Fatalf("expected canceled, got %s", got)
	}
	if got := errorKind(ErrItemFailed); got != "error" {
		t.Fatalf("expected error, got %s", got)
	}
}
