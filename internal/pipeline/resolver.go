package pipeline

import (
	"context"

	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
	"github.com/spigell/urs-matcher/internal/progress"
	"github.com/spigell/urs-matcher/internal/retrieve"
)

// Resolver is one way of matching a SubWork. Enabled resolvers run in order
// and the first one that resolves wins.
type Resolver interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	// Resolve reports false when the resolver has no answer for w.
	Resolve(ctx context.Context, w Work) ([]match.RankedMatch, bool, error)
}

// Work is one SubWork in flight.
type Work struct {
	SubWork match.SubWork
	Text    normalize.Text
	Depth   retrieve.Depth
	Sink    progress.Sink
}

// Status represents runtime information about a resolver.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// statusProvider is implemented by resolvers that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// wrapper is implemented by resolvers that decorate another one.
type wrapper interface {
	Unwrap() Resolver
}

// DisableByName marks a resolver with the provided name as disabled while keeping it in the list.
func DisableByName(resolvers []Resolver, name, reason string) {
	for _, r := range resolvers {
		if r.Name() == name {
			r.Disable(reason)
		}
		if w, ok := r.(wrapper); ok {
			DisableByName([]Resolver{w.Unwrap()}, name, reason)
		}
	}
}

// Describe returns status entries for the provided resolvers. Decorated
// resolvers are listed after their decorator.
func Describe(resolvers []Resolver) []Status {
	statuses := make([]Status, 0, len(resolvers))
	for _, r := range resolvers {
		if reporter, ok := r.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
		} else {
			statuses = append(statuses, Status{Name: r.Name(), Enabled: r.IsEnabled()})
		}
		if w, ok := r.(wrapper); ok {
			statuses = append(statuses, Describe([]Resolver{w.Unwrap()})...)
		}
	}
	return statuses
}

type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }
