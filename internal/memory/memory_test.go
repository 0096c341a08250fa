package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRememberLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	err := s.Remember(ctx, Pair{
		Description: "Bednění  základových desek",
		Item:        catalog.Candidate{Code: "273351121", Name: "Bednění základových desek zřízení", Unit: "m2"},
		ConfirmedBy: "rozpoctar",
		ConfirmedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}

	got, err := s.Lookup(ctx, normalize.Normalize("bedneni zakladovych desek").Key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil {
		t.Fatalf("expected a remembered match")
	}
	if got.Code != "273351121" || got.Unit != "m2" {
		t.Fatalf("unexpected match: %+v", got)
	}
	if got.Source != match.SourceMemory || got.Confidence != Confidence {
		t.Fatalf("expected memory source with confidence %v, got %s %v", Confidence, got.Source, got.Confidence)
	}
	if got.Explanation != "confirmed by rozpoctar" {
		t.Fatalf("unexpected explanation %q", got.Explanation)
	}
}

func TestStoreRememberReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	for _, code := range []string{"273313611", "273313711"} {
		if err := s.Remember(ctx, Pair{Description: "Beton základové desky", Item: catalog.Candidate{Code: code}}); err != nil {
			t.Fatalf("remember %s: %v", code, err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one pair, got %d", n)
	}
	got, err := s.Lookup(ctx, "beton zakladove desky")
	if err != nil || got == nil || got.Code != "273313711" {
		t.Fatalf("expected the latest code, got %+v (err %v)", got, err)
	}
}

func TestStoreMissesAndErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	got, err := s.Lookup(ctx, "nic takoveho")
	if err != nil || got != nil {
		t.Fatalf("expected a miss, got %+v (err %v)", got, err)
	}
	if got, _ := s.Lookup(ctx, ""); got != nil {
		t.Fatalf("expected empty key to miss")
	}
	if err := s.Remember(ctx, Pair{Description: "  ", Item: catalog.Candidate{Code: "1"}}); !errors.Is(err, ErrEmptyDescription) {
		t.Fatalf("expected ErrEmptyDescription, got %v", err)
	}
	if err := s.Remember(ctx, Pair{Description: "zdivo"}); err == nil {
		t.Fatalf("expected missing code to fail")
	}
}

func TestStoreForget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	if err := s.Remember(ctx, Pair{Description: "Zdivo z tvárnic", Item: catalog.Candidate{Code: "311235111"}}); err != nil {
		t.Fatalf("remember: %v", err)
	}
	removed, err := s.Forget(ctx, "zdivo z tvarnic")
	if err != nil || !removed {
		t.Fatalf("expected pair to be removed, got %v (err %v)", removed, err)
	}
	removed, err = s.Forget(ctx, "zdivo z tvarnic")
	if err != nil || removed {
		t.Fatalf("expected nothing left to remove, got %v (err %v)", removed, err)
	}
}

func matches(codes ...string) []match.RankedMatch {
	out := make([]match.RankedMatch, 0, len(codes))
	for _, c := range codes {
		out = append(out, match.RankedMatch{Candidate: catalog.Candidate{Code: c}, Confidence: 0.8, Source: match.SourceRetrievalLLM})
	}
	return out
}

func TestCacheMarksHits(t *testing.T) {
	t.Parallel()

	c := NewCache(0)
	calls := 0
	fn := func() ([]match.RankedMatch, error) {
		calls++
		return matches("273351121"), nil
	}

	first, err := c.Do("bedneni", fn)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first[0].Source != match.SourceRetrievalLLM {
		t.Fatalf("expected computed result to keep its source, got %s", first[0].Source)
	}

	second, err := c.Do("bedneni", fn)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one computation, got %d", calls)
	}
	if second[0].Source != match.SourceCache {
		t.Fatalf("expected cache source on hit, got %s", second[0].Source)
	}

	second[0].Code = "mutated"
	third, _ := c.Do("bedneni", fn)
	if third[0].Code != "273351121" {
		t.Fatalf("expected cached value to be isolated from callers, got %s", third[0].Code)
	}
}

func TestCacheSkipsErrors(t *testing.T) {
	t.Parallel()

	c := NewCache(4)
	boom := errors.New("boom")
	if _, err := c.Do("k", func() ([]match.RankedMatch, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected error to pass through, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected errors not to be cached")
	}

	got, err := c.Do("k", func() ([]match.RankedMatch, error) { return nil, nil })
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v (err %v)", got, err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected empty result to be cached")
	}
}

func TestCacheEvicts(t *testing.T) {
	t.Parallel()

	c := NewCache(1)
	c.Do("a", func() ([]match.RankedMatch, error) { return matches("1"), nil })
	c.Do("b", func() ([]match.RankedMatch, error) { return matches("2"), nil })

	recomputed := false
	c.Do("a", func() ([]match.RankedMatch, error) {
		recomputed = true
		return matches("1"), nil
	})
	if !recomputed {
		t.Fatalf("expected the oldest key to be evicted")
	}
}

func TestCacheConcurrentComputesOnce(t *testing.T) {
	t.Parallel()

	c := NewCache(8)
	var (
		mu    sync.Mutex
		calls int
		wg    sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Do("zdivo", func() ([]match.RankedMatch, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				return matches("311235111"), nil
			})
			if err != nil || len(got) != 1 {
				t.Errorf("unexpected result %+v (err %v)", got, err)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected one computation, got %d", calls)
	}
}
