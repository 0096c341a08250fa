// Package anthropic serves routed tasks with Anthropic Claude models.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/utils"
)

const (
	// Name is the routing name of the provider.
	Name = "anthropic"

	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 2048
)

// Provider calls the Anthropic messages API.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// New creates a provider. Extra request options (base URL, HTTP client) are
// passed to the SDK client.
func New(apiKey, model string, log *zap.Logger, opts ...option.RequestOption) (*Provider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Provider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
		logger:    logger.WithCommonFields(log, Name, model),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Supports(task router.Task) bool {
	return task != router.TaskRetrieve
}

func (p *Provider) Call(ctx context.Context, req router.Request) (router.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Input (JSON):\n" + string(req.Payload))),
		},
	}
	if sp := strings.TrimSpace(req.SystemPrompt); sp != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: sp, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return router.Response{}, fmt.Errorf("anthropic messages: %w", err)
	}

	tokens := int(message.Usage.InputTokens + message.Usage.OutputTokens)
	for _, block := range message.Content {
		if block.Type != "text" || strings.TrimSpace(block.Text) == "" {
			continue
		}
		p.logger.Debug("anthropic response",
			zap.String(logger.FieldTask, string(req.Task)),
			zap.Int64("tokens_in", message.Usage.InputTokens),
			zap.Int64("tokens_out", message.Usage.OutputTokens),
			zap.String("response_preview", utils.TruncateForLog(block.Text, 200)),
		)
		return router.Response{Text: strings.TrimSpace(block.Text), TokensUsed: tokens}, nil
	}

	return router.Response{TokensUsed: tokens}, errors.New("no text content in anthropic response")
}
