// Package gemini serves routed tasks with Google Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/utils"
)

const (
	// Name is the routing name of the provider.
	Name = "gemini"

	defaultModel        = "gemini-2.5-flash"
	defaultMaxLogLength = 200
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider wraps the Google GenAI client.
type Provider struct {
	models    contentGenerator
	modelName string
	logger    *zap.Logger
	maxLogLen int
}

// New creates a provider configured for the Gemini API backend.
func New(ctx context.Context, apiKey, model string, log *zap.Logger) (*Provider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newProvider(client.Models, model, log), nil
}

func newProvider(models contentGenerator, model string, log *zap.Logger) *Provider {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Provider{
		models:    models,
		modelName: model,
		logger:    logger.WithCommonFields(log, Name, model),
		maxLogLen: defaultMaxLogLength,
	}
}

func (p *Provider) Name() string { return Name }

// Model returns the configured model identifier.
func (p *Provider) Model() string {
	if p == nil {
		return ""
	}
	return p.modelName
}

// Supports reports the tasks a language model can serve. Retrieval needs a
// catalog and is left to search providers.
func (p *Provider) Supports(task router.Task) bool {
	return task != router.TaskRetrieve
}

func (p *Provider) Call(ctx context.Context, req router.Request) (router.Response, error) {
	if p == nil || p.models == nil {
		return router.Response{}, errors.New("gemini provider is not initialized")
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	if sp := strings.TrimSpace(req.SystemPrompt); sp != "" {
		config.SystemInstruction = genai.NewContentFromText(sp, genai.RoleUser)
	}
	if req.Task != router.TaskExplain {
		config.ResponseMIMEType = "application/json"
	}

	prompt := "Input (JSON):\n" + string(req.Payload)
	p.logger.Debug("gemini generate content request",
		zap.String(logger.FieldTask, string(req.Task)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, p.maxLogLen)),
	)

	resp, err := p.models.GenerateContent(ctx, p.modelName, genai.Text(prompt), config)
	if err != nil {
		return router.Response{}, fmt.Errorf("generate content: %w", err)
	}

	output := responseText(resp)
	if output == "" {
		return router.Response{}, errors.New("gemini api returned empty response")
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	p.logger.Debug("gemini generate content response",
		zap.String(logger.FieldTask, string(req.Task)),
		zap.Int("response_length", utf8.RuneCountInString(output)),
		zap.String("response_preview", utils.TruncateForLog(output, p.maxLogLen)),
	)

	return router.Response{Text: output, TokensUsed: tokens}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	return strings.TrimSpace(builder.String())
}
