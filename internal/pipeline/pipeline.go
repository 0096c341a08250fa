// Package pipeline matches one work item: it splits the description, resolves
// every SubWork through an ordered resolver chain and merges near duplicates.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/urs-matcher/internal/dedup"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
	"github.com/spigell/urs-matcher/internal/progress"
	"github.com/spigell/urs-matcher/internal/retrieve"
	"github.com/spigell/urs-matcher/internal/utils"
)

// DefaultSubWorkConcurrency bounds parallel SubWorks of one item.
const DefaultSubWorkConcurrency = 2

// Config tunes per-item matching.
type Config struct {
	DedupThreshold float64 `mapstructure:"dedup-threshold"`
	Explain        bool    `mapstructure:"explain"`
	// SubWorkConcurrency bounds parallel SubWorks of one item.
	SubWorkConcurrency int `mapstructure:"subwork-concurrency"`
}

// Splitter turns a work item into SubWorks.
type Splitter interface {
	Split(ctx context.Context, item match.WorkItem, text normalize.Text) []match.SubWork
}

// Pipeline is safe for concurrent use once built.
type Pipeline struct {
	splitter  Splitter
	resolvers []Resolver
	explainer *Explainer
	cfg       Config
	logger    *zap.Logger
}

// New returns a Pipeline. A nil explainer or a disabled Config.Explain skips explanations.
func New(splitter Splitter, resolvers []Resolver, explainer *Explainer, cfg Config, log *zap.Logger) (*Pipeline, error) {
	if splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("at least one resolver is required")
	}
	if cfg.SubWorkConcurrency <= 0 {
		cfg.SubWorkConcurrency = DefaultSubWorkConcurrency
	}
	if !cfg.Explain {
		explainer = nil
	}
	return &Pipeline{
		splitter:  splitter,
		resolvers: resolvers,
		explainer: explainer,
		cfg:       cfg,
		logger:    logger.WithFields(log),
	}, nil
}

// Resolvers returns the resolver chain in order.
func (p *Pipeline) Resolvers() []Resolver {
	return p.resolvers
}

// Describe returns the status of every resolver.
func (p *Pipeline) Describe() []Status {
	statuses := Describe(p.resolvers)
	explain := Status{Name: "explain", Enabled: p.explainer != nil}
	if explain.Enabled {
		explain.Details = map[string]string{"task": "explain"}
	} else {
		explain.Reason = "disabled in configuration"
	}
	return append(statuses, explain)
}

// Match resolves item into deduplicated entries in order of first appearance.
// Provider failures degrade inside the stages; an error is returned only when
// a stage panicked.
func (p *Pipeline) Match(ctx context.Context, item match.WorkItem, depth retrieve.Depth, sink progress.Sink) ([]dedup.Entry, error) {
	sink = progress.OrDiscard(sink)
	text := normalize.Normalize(item.Description)
	subs := p.splitter.Split(ctx, item, text)

	entries := make([]dedup.Entry, len(subs))
	var g errgroup.Group
	g.SetLimit(p.cfg.SubWorkConcurrency)
	for i, sw := range subs {
		g.Go(func() error {
			return utils.Safely(func() error {
				entries[i] = p.resolve(ctx, Work{
					SubWork: sw,
					Text:    normalize.Normalize(sw.Description),
					Depth:   depth,
					Sink:    sink,
				})
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := dedup.Deduplicate(entries, p.cfg.DedupThreshold)
	if p.explainer != nil {
		for i := range merged {
			p.explainer.Explain(ctx, merged[i].Description, merged[i].Best())
		}
	}
	return merged, nil
}

func (p *Pipeline) resolve(ctx context.Context, w Work) dedup.Entry {
	entry := dedup.Entry{
		Description: w.SubWork.Description,
		Key:         w.Text.Key,
		Quantity:    w.SubWork.Quantity,
		Unit:        w.SubWork.Unit,
		Matches:     []match.RankedMatch{},
	}

	for _, r := range p.resolvers {
		if !r.IsEnabled() {
			continue
		}
		matches, ok, err := r.Resolve(ctx, w)
		if err != nil {
			p.logger.Warn("resolver failed",
				zap.String(logger.FieldStage, r.Name()),
				zap.String("description", utils.TruncateForLog(w.SubWork.Description, 80)),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		if matches != nil {
			entry.Matches = matches
		}
		p.logger.Debug("subwork resolved",
			zap.String(logger.FieldStage, r.Name()),
			zap.Int("matches", len(entry.Matches)),
		)
		return entry
	}
	return entry
}
