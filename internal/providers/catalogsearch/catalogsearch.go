// Package catalogsearch exposes a catalog backend as the retrieval provider.
package catalogsearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/router"
)

// Name is the routing name of the provider.
const Name = "catalog"

// Provider serves the retrieve task from a Catalog.
type Provider struct {
	catalog catalog.Catalog
}

// New wraps c.
func New(c catalog.Catalog) *Provider {
	return &Provider{catalog: c}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Supports(task router.Task) bool {
	return task == router.TaskRetrieve
}

func (p *Provider) Call(ctx context.Context, req router.Request) (router.Response, error) {
	var q match.RetrieveRequest
	if err := json.Unmarshal(req.Payload, &q); err != nil {
		return router.Response{}, fmt.Errorf("decode retrieve payload: %w", err)
	}

	found, err := p.catalog.Search(ctx, catalog.Query{Text: q.Query, CodePrefix: q.CodePrefix, Limit: q.Limit})
	if err != nil {
		return router.Response{}, fmt.Errorf("search catalog: %w", err)
	}
	if found == nil {
		found = []catalog.Candidate{}
	}

	data, err := json.Marshal(found)
	if err != nil {
		return router.Response{}, fmt.Errorf("marshal candidates: %w", err)
	}
	return router.Response{Data: data, Local: true}, nil
}
