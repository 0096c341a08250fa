// Package batch runs many work items through the matching pipeline with a
// concurrency cap, isolating per-item failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spigell/urs-matcher/internal/classify"
	"github.com/spigell/urs-matcher/internal/dedup"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
	"github.com/spigell/urs-matcher/internal/progress"
	"github.com/spigell/urs-matcher/internal/retrieve"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/utils"
)

const (
	// DefaultConcurrency is the number of items processed at once.
	DefaultConcurrency = 4
	// DefaultReviewThreshold is the confidence below which a match needs review.
	DefaultReviewThreshold = 0.7
)

// ErrItemFailed wraps whatever made a single item fail.
var ErrItemFailed = errors.New("batch item failed")

// Matcher matches one work item.
type Matcher interface {
	Match(ctx context.Context, item match.WorkItem, depth retrieve.Depth, sink progress.Sink) ([]dedup.Entry, error)
}

// Classifier assigns a section to a description.
type Classifier interface {
	Classify(text normalize.Text) classify.Result
}

// Options tune one Run.
type Options struct {
	Concurrency int
	// Timeout is the overall deadline. Items not started when it passes are skipped.
	Timeout time.Duration
	// Pin names a provider tried first for every task of this batch.
	Pin   string
	Depth retrieve.Depth
	Sink  progress.Sink
	// ReviewThreshold marks retrieval matches below it for human review.
	ReviewThreshold float64
	// Usage, when set, fills Result.Usage before the terminal event.
	Usage func() []router.Usage
}

// Orchestrator is safe for concurrent Runs.
type Orchestrator struct {
	matcher    Matcher
	classifier Classifier
	logger     *zap.Logger
}

// New returns an Orchestrator. classifier may be nil.
func New(m Matcher, c Classifier, log *zap.Logger) (*Orchestrator, error) {
	if m == nil {
		return nil, fmt.Errorf("matcher is required")
	}
	return &Orchestrator{matcher: m, classifier: c, logger: logger.WithFields(log)}, nil
}

// Run processes items and returns one ItemResult per item in submission
// order. It never fails as a whole: item problems are recorded per item, and
// the stream on opts.Sink ends with a batch-level completed event.
func (o *Orchestrator) Run(ctx context.Context, items []match.WorkItem, opts Options) *Result {
	start := time.Now()
	opts = withDefaults(opts)
	sink := progress.OrDiscard(opts.Sink)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Pin != "" {
		ctx = router.WithPin(ctx, opts.Pin)
	}

	res := &Result{ID: uuid.New(), Items: make([]ItemResult, len(items))}
	o.logger.Info("batch started",
		zap.String("batch_id", res.ID.String()),
		zap.Int("items", len(items)),
		zap.Int("concurrency", opts.Concurrency),
		zap.String("pin", opts.Pin),
	)
	sink.Emit(progress.Event{Event: progress.Started, Message: res.ID.String()})

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	var g errgroup.Group
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			o.skipFrom(res, items, i, err)
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			o.skipFrom(res, items, i, err)
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := ctx.Err(); err != nil {
				res.Items[i] = skipped(i, item, err)
				return nil
			}
			res.Items[i] = o.process(ctx, i, item, opts, sink)
			return nil
		})
	}
	_ = g.Wait()

	for _, it := range res.Items {
		res.Summary.add(it.Status)
	}
	res.ElapsedMS = elapsedMS(start)
	if opts.Usage != nil {
		res.Usage = opts.Usage()
	}

	o.logger.Info("batch completed",
		zap.String("batch_id", res.ID.String()),
		zap.Int("matched", res.Summary.Matched),
		zap.Int("unmatched", res.Summary.Unmatched),
		zap.Int("failed", res.Summary.Failed),
		zap.Int("skipped", res.Summary.Skipped),
		zap.Int64("elapsed_ms", res.ElapsedMS),
	)
	sink.Emit(progress.Event{Event: progress.Completed, TimeMS: &res.ElapsedMS, Result: res})
	return res
}

func withDefaults(opts Options) Options {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Depth == "" {
		opts.Depth = retrieve.Normal
	}
	if opts.ReviewThreshold <= 0 || opts.ReviewThreshold > 1 {
		opts.ReviewThreshold = DefaultReviewThreshold
	}
	return opts
}

func (o *Orchestrator) skipFrom(res *Result, items []match.WorkItem, from int, cause error) {
	o.logger.Warn("batch deadline reached, skipping remaining items",
		zap.Int("skipped", len(items)-from),
		zap.Error(cause),
	)
	for j := from; j < len(items); j++ {
		res.Items[j] = skipped(j, items[j], cause)
	}
}

func skipped(idx int, item match.WorkItem, cause error) ItemResult {
	return ItemResult{
		Index:       idx,
		Row:         item.Row,
		Description: item.Description,
		Quantity:    item.Quantity,
		Unit:        item.Unit,
		Matches:     []match.RankedMatch{},
		Status:      StatusSkipped,
		Error:       &ItemError{Kind: "skipped", Message: fmt.Sprintf("not started: %v", cause)},
	}
}

// process runs matching and classification side by side. Either branch may
// panic; the item then fails and no other item is affected.
func (o *Orchestrator) process(ctx context.Context, idx int, item match.WorkItem, opts Options, sink progress.Sink) ItemResult {
	start := time.Now()
	isink := progress.ForItem(sink, idx)
	isink.Emit(progress.Event{Event: progress.Started, Message: item.Description})
	log := o.logger.With(zap.Int(logger.FieldItem, idx))

	res := ItemResult{
		Index:       idx,
		Row:         item.Row,
		Description: item.Description,
		Quantity:    item.Quantity,
		Unit:        item.Unit,
		Matches:     []match.RankedMatch{},
	}

	var (
		lines []dedup.Entry
		cls   classify.Result
		g     errgroup.Group
	)
	g.Go(func() error {
		return utils.Safely(func() error {
			var err error
			lines, err = o.matcher.Match(ctx, item, opts.Depth, isink)
			return err
		})
	})
	if o.classifier != nil {
		g.Go(func() error {
			return utils.Safely(func() error {
				cls = o.classifier.Classify(normalize.Normalize(item.Description))
				return nil
			})
		})
	}

	err := g.Wait()
	if err == nil {
		err = utils.Safely(func() error {
			o.crossCheck(cls, lines)
			return nil
		})
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrItemFailed, err)
		log.Warn("item failed", zap.Error(err))

		res.Status = StatusFailed
		res.Error = &ItemError{Kind: errorKind(err), Message: err.Error()}
		res.ElapsedMS = elapsedMS(start)
		isink.Emit(progress.Event{Event: progress.Error, Message: err.Error(), TimeMS: &res.ElapsedMS})
		return res
	}

	if !cls.IsEmpty() {
		res.Classification = &cls
	}
	for _, line := range lines {
		if best := line.Best(); best != nil {
			res.Matches = append(res.Matches, *best)
			if !best.Trusted(opts.ReviewThreshold) {
				res.NeedsReview = true
			}
		}
	}
	res.Lines = lines

	res.Status = StatusUnmatched
	if len(res.Matches) > 0 {
		res.Status = StatusMatched
	}
	res.ElapsedMS = elapsedMS(start)

	log.Debug("item completed",
		zap.String("status", string(res.Status)),
		zap.Int("matches", len(res.Matches)),
		zap.Int64("elapsed_ms", res.ElapsedMS),
	)
	isink.Emit(progress.Event{Event: progress.Completed, TimeMS: &res.ElapsedMS, Result: res})
	return res
}

// crossCheck adjusts each line against the section of its own text. A line
// of a composite item may belong to another section than the whole item.
func (o *Orchestrator) crossCheck(whole classify.Result, lines []dedup.Entry) {
	for i := range lines {
		section := whole
		if len(lines) > 1 && o.classifier != nil {
			section = o.classifier.Classify(normalize.Normalize(lines[i].Description))
		}
		lines[i].Matches = classify.CrossCheck(section, lines[i].Matches)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, utils.ErrPanicked):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, router.ErrAllProvidersExhausted):
		return "providers_exhausted"
	default:
		return "error"
	}
}
