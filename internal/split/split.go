// Package split decides whether a work description names one work or several
// and cuts composite descriptions into SubWorks.
package split

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/llmjson"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
	"github.com/spigell/urs-matcher/internal/router"
)

// SystemPrompt is sent with ambiguous split confirmations.
const SystemPrompt = `You review Czech construction budget lines. The line was cut at conjunctions into segments.
Answer whether the segments are separate works that must be priced as separate catalog items.
Answer "false" when the segments describe one work (for example one material listed twice).
Respond with JSON only: {"composite": true|false}`

// distinctOverlap is the stem overlap at or above which two segments are not distinct works.
const distinctOverlap = 0.5

var separatorRe = regexp.MustCompile(`(?i)\s+(?:a\s+dále|a|i|\+)\s+|\s*;\s*`)

// Splitter is safe for concurrent use.
type Splitter struct {
	router router.Invoker
	logger *zap.Logger
}

// New returns a Splitter. A nil router makes every ambiguous case SINGLE.
func New(r router.Invoker, log *zap.Logger) *Splitter {
	return &Splitter{router: r, logger: logger.WithFields(log)}
}

type segment struct {
	text string
	// first is the stem of the leading keyword.
	first      string
	stems      map[string]struct{}
	quantities []normalize.Quantity
}

// Split returns the SubWorks of item in order of appearance. It never fails:
// provider trouble yields the conservative single SubWork.
func (s *Splitter) Split(ctx context.Context, item match.WorkItem, text normalize.Text) []match.SubWork {
	segments := segmentsOf(text.Display)
	if len(segments) < 2 {
		return single(item, text)
	}

	if !strongSignal(segments) {
		if !s.confirm(ctx, text, segments) {
			return single(item, text)
		}
	}

	out := make([]match.SubWork, len(segments))
	for i, seg := range segments {
		out[i] = subWork(item, seg, i)
	}
	return out
}

func (s *Splitter) confirm(ctx context.Context, text normalize.Text, segments []segment) bool {
	if s.router == nil {
		return false
	}

	payload := match.SplitRequest{Description: text.Display}
	for _, seg := range segments {
		payload.Segments = append(payload.Segments, seg.text)
	}
	req, err := router.NewRequest(router.TaskSplit, SystemPrompt, payload)
	if err != nil {
		s.logger.Warn("build split request", zap.Error(err))
		return false
	}

	res, err := s.router.Invoke(ctx, router.TaskSplit, req)
	if err != nil {
		s.logger.Debug("split confirmation unavailable, keeping single", zap.Error(err))
		return false
	}

	var reply match.SplitReply
	if err := llmjson.Decode(res.Response.Body(), &reply); err != nil {
		s.logger.Debug("unparsable split reply, keeping single",
			zap.String(logger.FieldProvider, res.Provider), zap.Error(err))
		return false
	}
	return reply.Composite
}

// segmentsOf cuts display text at separators and folds segments without
// keywords into their neighbour.
func segmentsOf(display string) []segment {
	if display == "" {
		return nil
	}

	var spans [][2]int
	start := 0
	for _, loc := range separatorRe.FindAllStringIndex(display, -1) {
		if loc[0] == 0 {
			continue
		}
		spans = append(spans, [2]int{start, loc[0]})
		start = loc[1]
	}
	spans = append(spans, [2]int{start, len(display)})

	var merged [][2]int
	for _, sp := range spans {
		if len(merged) > 0 && !hasKeyword(display[sp[0]:sp[1]]) {
			merged[len(merged)-1][1] = sp[1]
			continue
		}
		merged = append(merged, sp)
	}
	// A leading segment without keywords joins the next one.
	if len(merged) > 1 && !hasKeyword(display[merged[0][0]:merged[0][1]]) {
		merged[1][0] = merged[0][0]
		merged = merged[1:]
	}

	out := make([]segment, 0, len(merged))
	for _, sp := range merged {
		out = append(out, newSegment(display[sp[0]:sp[1]]))
	}
	return out
}

func newSegment(fragment string) segment {
	text := strings.TrimSpace(fragment)
	key := normalize.Normalize(text).Key
	seg := segment{
		text:       text,
		stems:      make(map[string]struct{}),
		quantities: normalize.ParseQuantities(key),
	}
	for _, kw := range normalize.Keywords(key) {
		stem := normalize.Stem(kw)
		if seg.first == "" {
			seg.first = stem
		}
		seg.stems[stem] = struct{}{}
	}
	return seg
}

func hasKeyword(fragment string) bool {
	return len(normalize.Keywords(normalize.Normalize(fragment).Key)) > 0
}

// strongSignal reports a split that needs no confirmation: every segment
// carries exactly one quantity, or there are at least three segments (two
// separators) that all describe distinct works.
func strongSignal(segments []segment) bool {
	quantified := true
	for _, seg := range segments {
		if len(seg.quantities) != 1 {
			quantified = false
			break
		}
	}
	if quantified {
		return true
	}

	if len(segments) < 3 {
		return false
	}
	firsts := make(map[string]struct{}, len(segments))
	for i, seg := range segments {
		if _, dup := firsts[seg.first]; dup {
			return false
		}
		firsts[seg.first] = struct{}{}
		if i > 0 && overlap(segments[i-1].stems, seg.stems) >= distinctOverlap {
			return false
		}
	}
	return true
}

func overlap(a, b map[string]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func single(item match.WorkItem, text normalize.Text) []match.SubWork {
	sw := match.SubWork{Description: text.Display, Quantity: item.Quantity, Unit: item.Unit}
	if sw.Quantity == nil {
		if qs := normalize.ParseQuantities(text.Key); len(qs) == 1 {
			sw.Quantity = match.Float(qs[0].Value)
			if sw.Unit == "" {
				sw.Unit = qs[0].Unit
			}
		}
	}
	return []match.SubWork{sw}
}

func subWork(item match.WorkItem, seg segment, position int) match.SubWork {
	sw := match.SubWork{
		Description: seg.text,
		Quantity:    item.Quantity,
		Unit:        item.Unit,
		Position:    position,
	}
	if sw.Quantity == nil && len(seg.quantities) > 0 {
		sw.Quantity = match.Float(seg.quantities[0].Value)
		if sw.Unit == "" {
			sw.Unit = seg.quantities[0].Unit
		}
	}
	return sw
}
