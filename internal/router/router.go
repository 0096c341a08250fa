// Package router dispatches logical tasks to ordered provider lists with
// per-call timeouts and immediate fallback.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/utils"
)

// DefaultTimeout applies to tasks without a configured timeout.
const DefaultTimeout = 30 * time.Second

// Route is the static provider order and timeout of one task.
type Route struct {
	Providers []string      `mapstructure:"providers"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Config is the routing table.
type Config struct {
	Routes map[Task]Route `mapstructure:"routes"`
	// Passes is how many times the whole list is walked before giving up.
	Passes int `mapstructure:"passes"`
	// Backoff is the pause before each extra pass, multiplied by the pass number.
	Backoff time.Duration `mapstructure:"backoff"`
}

// Result is a successful routed call.
type Result struct {
	Provider string
	Response Response
	Elapsed  time.Duration
}

// Invoker is the part of Router the pipeline stages depend on.
type Invoker interface {
	Invoke(ctx context.Context, task Task, req Request) (*Result, error)
}

// Router is safe for concurrent use. The routing table is read-only after New.
type Router struct {
	providers map[string]Provider
	order     []string
	routes    map[Task]Route
	passes    int
	backoff   time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	usage map[string]*Usage
}

// New builds a router. Routes may name providers that are not registered
// (for example a vendor without credentials); those entries are skipped.
func New(cfg Config, log *zap.Logger, providers ...Provider) (*Router, error) {
	r := &Router{
		providers: make(map[string]Provider, len(providers)),
		routes:    make(map[Task]Route, len(cfg.Routes)),
		passes:    cfg.Passes,
		backoff:   cfg.Backoff,
		logger:    logger.WithFields(log),
		usage:     make(map[string]*Usage, len(providers)),
	}
	if r.passes <= 0 {
		r.passes = 1
	}

	for _, p := range providers {
		if p == nil {
			return nil, errors.New("nil provider")
		}
		name := p.Name()
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("provider name must not be empty")
		}
		if _, ok := r.providers[name]; ok {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		r.providers[name] = p
		r.order = append(r.order, name)
		r.usage[name] = &Usage{Provider: name}
	}

	for task, route := range cfg.Routes {
		if _, err := ParseTask(string(task)); err != nil {
			return nil, err
		}
		for _, name := range route.Providers {
			if _, ok := r.providers[name]; !ok {
				r.logger.Warn("routing references unregistered provider",
					logger.CallFields(string(task), name)...)
			}
		}
		r.routes[task] = route
	}

	return r, nil
}

// Providers returns registered provider names in registration order.
func (r *Router) Providers() []string {
	return append([]string(nil), r.order...)
}

// Plan returns the providers Invoke would try for task under ctx, in order.
// Without a configured route every registered provider supporting the task is
// used in registration order.
func (r *Router) Plan(ctx context.Context, task Task) []string {
	var (
		plan []string
		seen = make(map[string]struct{})
	)
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		p, ok := r.providers[name]
		if !ok || !supports(p, task) {
			return
		}
		seen[name] = struct{}{}
		plan = append(plan, name)
	}

	if pin, ok := PinFrom(ctx); ok {
		add(pin)
	}

	if route, ok := r.routes[task]; ok && len(route.Providers) > 0 {
		for _, name := range route.Providers {
			add(name)
		}
		return plan
	}

	for _, name := range r.order {
		add(name)
	}
	return plan
}

// Timeout returns the per-call timeout of task.
func (r *Router) Timeout(task Task) time.Duration {
	if route, ok := r.routes[task]; ok && route.Timeout > 0 {
		return route.Timeout
	}
	return DefaultTimeout
}

// Invoke walks the plan for task and returns the first successful reply. A
// failed or timed-out provider is never retried before the others were tried.
func (r *Router) Invoke(ctx context.Context, task Task, req Request) (*Result, error) {
	req.Task = task
	plan := r.Plan(ctx, task)
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: no provider serves task %s", ErrAllProvidersExhausted, task)
	}

	var errs error
	for pass := 0; pass < r.passes; pass++ {
		if pass > 0 {
			if err := utils.WaitFor(ctx, r.backoff*time.Duration(pass)); err != nil {
				errs = multierr.Append(errs, err)
				break
			}
		}

		for _, name := range plan {
			if err := ctx.Err(); err != nil {
				errs = multierr.Append(errs, err)
				return nil, fmt.Errorf("%w: task %s: %w", ErrAllProvidersExhausted, task, errs)
			}

			res, err := r.call(ctx, task, r.providers[name], req)
			if err == nil {
				return res, nil
			}
			errs = multierr.Append(errs, err)
		}
	}

	return nil, fmt.Errorf("%w: task %s: %w", ErrAllProvidersExhausted, task, errs)
}

type callResult struct {
	resp Response
	err  error
}

func (r *Router) call(ctx context.Context, task Task, p Provider, req Request) (*Result, error) {
	name := p.Name()
	log := r.logger.With(logger.CallFields(string(task), name)...)

	callCtx, cancel := context.WithTimeout(ctx, r.Timeout(task))
	defer cancel()

	done := make(chan callResult, 1)
	start := time.Now()
	go func() {
		resp, err := p.Call(callCtx, req)
		done <- callResult{resp: resp, err: err}
	}()

	var out callResult
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = callResult{err: callCtx.Err()}
	}
	elapsed := time.Since(start)

	err := classify(ctx, callCtx, out)
	r.record(name, out.resp.TokensUsed, err != nil)
	if err != nil {
		log.Warn("provider call failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}

	log.Debug("provider call succeeded",
		zap.Duration("elapsed", elapsed),
		zap.Int("tokens", out.resp.TokensUsed),
		zap.String("response_preview", utils.TruncateForLog(out.resp.Body(), 200)),
	)
	return &Result{Provider: name, Response: out.resp, Elapsed: elapsed}, nil
}

// classify maps a call outcome onto the router error taxonomy.
func classify(parent, callCtx context.Context, out callResult) error {
	if out.err == nil {
		if out.resp.IsEmpty() {
			return fmt.Errorf("%w: empty response", ErrProviderRejected)
		}
		return nil
	}
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrProviderTimeout, out.err)
	}
	if errors.Is(out.err, ErrProviderTimeout) || errors.Is(out.err, ErrProviderRejected) {
		return out.err
	}
	return fmt.Errorf("%w: %w", ErrProviderRejected, out.err)
}

// Usage is the per-provider call accounting.
type Usage struct {
	Provider string `json:"provider"`
	Calls    int64  `json:"calls"`
	Failures int64  `json:"failures"`
	Tokens   int64  `json:"tokens"`
}

func (r *Router) record(name string, tokens int, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.usage[name]
	u.Calls++
	u.Tokens += int64(tokens)
	if failed {
		u.Failures++
	}
}

// Stats returns a snapshot of usage, sorted by provider name.
func (r *Router) Stats() []Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Usage, 0, len(r.usage))
	for _, u := range r.usage {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
