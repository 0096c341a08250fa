// Package websearch retrieves catalog candidates by scraping an HTML catalog
// search page.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/router"
)

// Name is the default routing name of the provider.
const Name = "websearch"

// Selectors locate result rows and their fields in the search page.
type Selectors struct {
	Item string `mapstructure:"item"`
	Code string `mapstructure:"code"`
	Name string `mapstructure:"name"`
	Unit string `mapstructure:"unit"`
}

// Config describes the search page.
type Config struct {
	Name string `mapstructure:"name"`
	// URL is the search endpoint; the query goes into QueryParam.
	URL        string `mapstructure:"url"`
	QueryParam string `mapstructure:"query-param"`
	// PrefixParam, when set, carries the code prefix of the query.
	PrefixParam string `mapstructure:"prefix-param"`
	UserAgent   string `mapstructure:"user-agent"`

	Selectors Selectors     `mapstructure:"selectors"`
	RateLimit time.Duration `mapstructure:"rate-limit"`
}

// Provider serves the retrieve task from a remote search page.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var defaultSelectors = Selectors{
	Item: "table.results tr.item",
	Code: ".code",
	Name: ".name",
	Unit: ".unit",
}

// New validates cfg. A nil client means http.DefaultClient.
func New(cfg Config, client *http.Client, log *zap.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("websearch url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse websearch url: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = Name
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "q"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "urs-matcher/1.0"
	}
	cfg.Selectors = withDefaults(cfg.Selectors)
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{cfg: cfg, client: client, logger: logger.WithCommonFields(log, cfg.Name, "")}, nil
}

func withDefaults(s Selectors) Selectors {
	if s.Item == "" {
		s.Item = defaultSelectors.Item
	}
	if s.Code == "" {
		s.Code = defaultSelectors.Code
	}
	if s.Name == "" {
		s.Name = defaultSelectors.Name
	}
	if s.Unit == "" {
		s.Unit = defaultSelectors.Unit
	}
	return s
}

func (p *Provider) Name() string { return p.cfg.Name }

// RateLimit returns the configured minimum interval between requests.
func (p *Provider) RateLimit() time.Duration { return p.cfg.RateLimit }

func (p *Provider) Supports(task router.Task) bool {
	return task == router.TaskRetrieve
}

func (p *Provider) Call(ctx context.Context, req router.Request) (router.Response, error) {
	var q match.RetrieveRequest
	if err := json.Unmarshal(req.Payload, &q); err != nil {
		return router.Response{}, fmt.Errorf("decode retrieve payload: %w", err)
	}

	found, err := p.search(ctx, q)
	if err != nil {
		return router.Response{}, err
	}

	data, err := json.Marshal(found)
	if err != nil {
		return router.Response{}, fmt.Errorf("marshal candidates: %w", err)
	}
	return router.Response{Data: data}, nil
}

func (p *Provider) search(ctx context.Context, q match.RetrieveRequest) ([]catalog.Candidate, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websearch url: %w", err)
	}
	params := u.Query()
	params.Set(p.cfg.QueryParam, q.Query)
	if p.cfg.PrefixParam != "" && q.CodePrefix != "" {
		params.Set(p.cfg.PrefixParam, q.CodePrefix)
	}
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.New("rate limit exceeded: too many requests")
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = catalog.DefaultLimit
	}

	out := []catalog.Candidate{}
	doc.Find(p.cfg.Selectors.Item).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		code := cleanCode(s.Find(p.cfg.Selectors.Code).First().Text())
		name := collapse(s.Find(p.cfg.Selectors.Name).First().Text())
		if code == "" || name == "" {
			return true
		}
		if q.CodePrefix != "" && !strings.HasPrefix(code, q.CodePrefix) {
			return true
		}
		out = append(out, catalog.Candidate{
			Code: code,
			Name: name,
			Unit: collapse(s.Find(p.cfg.Selectors.Unit).First().Text()),
		})
		return len(out) < limit
	})

	p.logger.Debug("websearch results",
		zap.String("query", q.Query),
		zap.Int("results", len(out)),
	)
	return out, nil
}

// cleanCode keeps the digits of a code cell; pages often group them with spaces.
func cleanCode(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
