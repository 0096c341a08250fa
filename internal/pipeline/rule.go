package pipeline

import (
	"context"
	"strconv"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
)

const (
	// RuleConfidence is given to a code quoted verbatim in the description.
	RuleConfidence = 0.95

	fullCodeLength = 9
)

// CodeLookup resolves a single catalog code.
type CodeLookup interface {
	GetByCode(ctx context.Context, code string) (*catalog.Candidate, error)
}

type ruleResolver struct {
	toggle
	catalog CodeLookup
}

// NewRule matches descriptions that quote a full catalog code.
func NewRule(c CodeLookup) Resolver {
	r := &ruleResolver{catalog: c}
	if c == nil {
		r.Disable("catalog is not configured")
	}
	return r
}

func (r *ruleResolver) Name() string { return "rule" }

func (r *ruleResolver) Resolve(ctx context.Context, w Work) ([]match.RankedMatch, bool, error) {
	for _, code := range normalize.CodeFragments(w.Text.Key) {
		if len(code) != fullCodeLength {
			continue
		}
		item, err := r.catalog.GetByCode(ctx, code)
		if err != nil {
			return nil, false, err
		}
		if item == nil {
			continue
		}
		return []match.RankedMatch{{
			Candidate:   *item,
			Confidence:  RuleConfidence,
			Explanation: "catalog code quoted in the description",
			Source:      match.SourceRule,
		}}, true, nil
	}
	return nil, false, nil
}

func (r *ruleResolver) Status() Status {
	return Status{
		Name:    r.Name(),
		Enabled: r.IsEnabled(),
		Reason:  r.reason,
		Details: map[string]string{"confidence": strconv.FormatFloat(RuleConfidence, 'f', 2, 64)},
	}
}
