package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/batch"
	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/classify"
	"github.com/spigell/urs-matcher/internal/memory"
	"github.com/spigell/urs-matcher/internal/pipeline"
	"github.com/spigell/urs-matcher/internal/providers/anthropic"
	"github.com/spigell/urs-matcher/internal/providers/catalogsearch"
	"github.com/spigell/urs-matcher/internal/providers/gemini"
	"github.com/spigell/urs-matcher/internal/providers/lexical"
	"github.com/spigell/urs-matcher/internal/providers/openai"
	"github.com/spigell/urs-matcher/internal/providers/websearch"
	"github.com/spigell/urs-matcher/internal/rerank"
	"github.com/spigell/urs-matcher/internal/retrieve"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/secrets"
	"github.com/spigell/urs-matcher/internal/split"
)

// httpTimeout bounds a single vendor HTTP exchange. The router applies the
// per-task timeout on top of it.
const httpTimeout = 2 * time.Minute

// stack holds everything the matching commands share.
type stack struct {
	catalog      catalog.Catalog
	store        *memory.Store
	router       *router.Router
	classifier   *classify.Classifier
	pipeline     *pipeline.Pipeline
	orchestrator *batch.Orchestrator
}

// newStack opens the catalog and the optional match memory and wires the
// router, the pipeline stages and the orchestrator. Any error here is a
// startup failure.
func newStack(ctx context.Context, config *Config, logger *zap.Logger) (*stack, error) {
	c, err := catalog.Open(ctx, config.Catalog)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	s := &stack{catalog: c}

	if err := s.build(ctx, config, logger); err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	return s, nil
}

func (s *stack) build(ctx context.Context, config *Config, logger *zap.Logger) error {
	providers, err := buildProviders(ctx, config, s.catalog, logger)
	if err != nil {
		return err
	}

	s.router, err = router.New(config.Routing, logger, providers...)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}
	logger.Info("registered providers", zap.Strings("providers", s.router.Providers()))

	s.classifier, err = newClassifier(config.Matching.Sections)
	if err != nil {
		return err
	}

	var lookuper pipeline.Lookuper
	if path := strings.TrimSpace(config.Memory.Path); path != "" {
		s.store, err = memory.OpenStore(ctx, path)
		if err != nil {
			return err
		}
		lookuper = s.store
	}

	var cache *memory.Cache
	if !config.Memory.DisableCache {
		cache = memory.NewCache(config.Memory.CacheSize)
	}

	retriever := retrieve.New(s.router, s.classifier, config.Matching.Retrieve, logger)
	reranker := rerank.New(s.router, config.Matching.Rerank, logger)
	resolvers := []pipeline.Resolver{
		pipeline.NewRule(s.catalog),
		pipeline.NewMemory(lookuper),
		pipeline.NewCache(cache, pipeline.NewRetrieval(retriever, reranker)),
	}

	s.pipeline, err = pipeline.New(
		split.New(s.router, logger),
		resolvers,
		pipeline.NewExplainer(s.router, logger),
		config.Matching.Pipeline,
		logger,
	)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	s.orchestrator, err = batch.New(s.pipeline, s.classifier, logger)
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}
	return nil
}

// Close releases the catalog and the match memory.
func (s *stack) Close() error {
	var err error
	if s.store != nil {
		err = multierr.Append(err, s.store.Close())
	}
	if s.catalog != nil {
		err = multierr.Append(err, s.catalog.Close())
	}
	return err
}

func newClassifier(sections string) (*classify.Classifier, error) {
	var (
		index *classify.Index
		err   error
	)
	if path := strings.TrimSpace(sections); path != "" {
		index, err = classify.LoadFile(path)
	} else {
		index, err = classify.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading section index: %w", err)
	}
	return classify.New(index), nil
}

// buildProviders registers LLM vendors first so that default routes prefer
// them, then the local fallbacks and the search backends.
func buildProviders(ctx context.Context, config *Config, c catalog.Catalog, logger *zap.Logger) ([]router.Provider, error) {
	var (
		providers []router.Provider
		client    = &http.Client{Timeout: httpTimeout}
		cfg       = config.Providers
	)

	key, ok, err := apiKey(cfg.Gemini.Source, gemini.Name, logger)
	if err != nil {
		return nil, err
	}
	if ok {
		p, err := gemini.New(ctx, key, cfg.Gemini.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("building gemini provider: %w", err)
		}
		providers = append(providers, router.RateLimited(p, cfg.Gemini.RateLimit, 1))
	}

	key, ok, err = apiKey(cfg.Anthropic.Source, anthropic.Name, logger)
	if err != nil {
		return nil, err
	}
	if ok {
		p, err := anthropic.New(key, cfg.Anthropic.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("building anthropic provider: %w", err)
		}
		providers = append(providers, router.RateLimited(p, cfg.Anthropic.RateLimit, 1))
	}

	key, ok, err = apiKey(cfg.OpenRouter.Source, cfg.OpenRouter.Config.Name, logger)
	if err != nil {
		return nil, err
	}
	if ok {
		p, err := openai.New(cfg.OpenRouter.Config, key, client, logger)
		if err != nil {
			return nil, fmt.Errorf("building openai compatible provider: %w", err)
		}
		providers = append(providers, router.RateLimited(p, cfg.OpenRouter.RateLimit, 1))
	}

	if !cfg.DisableLexical {
		providers = append(providers, lexical.New())
	}

	providers = append(providers, catalogsearch.New(c))

	if strings.TrimSpace(cfg.Websearch.URL) != "" {
		p, err := websearch.New(cfg.Websearch, client, logger)
		if err != nil {
			return nil, fmt.Errorf("building websearch provider: %w", err)
		}
		providers = append(providers, router.RateLimited(p, p.RateLimit(), 1))
	}

	return providers, nil
}

// apiKey loads a vendor key. A vendor without any configured key is skipped,
// a key that is configured but unreadable is an error.
func apiKey(src secrets.Source, provider string, logger *zap.Logger) (string, bool, error) {
	if strings.TrimSpace(provider) == "" {
		provider = "provider"
	}
	src.Name = provider + " api key"

	key, err := secrets.Load(src)
	if errors.Is(err, secrets.ErrNotConfigured) {
		reason := "no api key configured"
		if src.Configured() {
			reason = "api key source is empty"
		}
		logger.Info("skipping provider",
			zap.String("provider", provider),
			zap.String("reason", reason),
		)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}
