package pipeline

import (
	"context"
	"strconv"

	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/memory"
	"github.com/spigell/urs-matcher/internal/retrieve"
	"github.com/spigell/urs-matcher/internal/router"
)

// Lookuper returns a remembered match for a normalized key, or nil.
type Lookuper interface {
	Lookup(ctx context.Context, key string) (*match.RankedMatch, error)
}

type memoryResolver struct {
	toggle
	store Lookuper
}

// NewMemory answers from confirmed description to code pairs.
func NewMemory(store Lookuper) Resolver {
	r := &memoryResolver{store: store}
	if store == nil {
		r.Disable("match memory is not configured")
	}
	return r
}

func (r *memoryResolver) Name() string { return "memory" }

func (r *memoryResolver) Resolve(ctx context.Context, w Work) ([]match.RankedMatch, bool, error) {
	m, err := r.store.Lookup(ctx, w.Text.Key)
	if err != nil || m == nil {
		return nil, false, err
	}
	return []match.RankedMatch{*m}, true, nil
}

func (r *memoryResolver) Status() Status {
	return Status{
		Name:    r.Name(),
		Enabled: r.IsEnabled(),
		Reason:  r.reason,
		Details: map[string]string{"confidence": strconv.FormatFloat(memory.Confidence, 'f', 2, 64)},
	}
}

type cacheResolver struct {
	toggle
	cache *memory.Cache
	next  Resolver
}

// NewCache shares the results of next between identical SubWorks. The key
// also carries the depth, the provider pin and the unit.
func NewCache(cache *memory.Cache, next Resolver) Resolver {
	r := &cacheResolver{cache: cache, next: next}
	if cache == nil {
		r.Disable("cache is disabled")
	}
	return r
}

func (r *cacheResolver) Name() string { return "cache" }

func (r *cacheResolver) Unwrap() Resolver { return r.next }

func (r *cacheResolver) Resolve(ctx context.Context, w Work) ([]match.RankedMatch, bool, error) {
	if !r.next.IsEnabled() {
		return nil, false, nil
	}
	if !r.IsEnabled() || w.Text.IsEmpty() {
		return r.next.Resolve(ctx, w)
	}

	resolved := true
	matches, err := r.cache.Do(cacheKey(ctx, w), func() ([]match.RankedMatch, error) {
		m, ok, err := r.next.Resolve(ctx, w)
		resolved = ok
		return m, err
	})
	if err != nil {
		return nil, false, err
	}
	return matches, resolved, nil
}

func (r *cacheResolver) Status() Status {
	details := map[string]string{}
	if r.cache != nil {
		details["entries"] = strconv.Itoa(r.cache.Len())
	}
	return Status{Name: r.Name(), Enabled: r.IsEnabled(), Reason: r.reason, Details: details}
}

func cacheKey(ctx context.Context, w Work) string {
	depth := w.Depth
	if depth == "" {
		depth = retrieve.Normal
	}
	pin, _ := router.PinFrom(ctx)
	return string(depth) + "|" + pin + "|" + w.SubWork.Unit + "|" + w.Text.Key
}
