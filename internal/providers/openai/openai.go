// Package openai serves routed tasks through an OpenAI compatible chat
// completions endpoint such as OpenRouter.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/utils"
)

// DefaultBaseURL points at OpenRouter.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Config configures one chat completions backend.
type Config struct {
	// Name is the routing name, "openrouter" when empty.
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base-url"`
	Model   string `mapstructure:"model"`
}

// Provider calls POST {base}/chat/completions.
type Provider struct {
	name    string
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// New creates a provider. A nil client means http.DefaultClient.
func New(cfg Config, apiKey string, client *http.Client, log *zap.Logger) (*Provider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai compatible api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai compatible model is required")
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openrouter"
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Provider{
		name:    name,
		baseURL: base,
		model:   strings.TrimSpace(cfg.Model),
		apiKey:  apiKey,
		client:  client,
		logger:  logger.WithCommonFields(log, name, cfg.Model),
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Supports(task router.Task) bool {
	return task != router.TaskRetrieve
}

func (p *Provider) Call(ctx context.Context, req router.Request) (router.Response, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "user", Content: "Input (JSON):\n" + string(req.Payload)},
		},
	}
	if sp := strings.TrimSpace(req.SystemPrompt); sp != "" {
		body.Messages = append([]chatMessage{{Role: "system", Content: sp}}, body.Messages...)
	}
	if req.Task != router.TaskExplain {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return router.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return router.Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return router.Response{}, fmt.Errorf("chat completions: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return router.Response{}, fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return router.Response{}, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return router.Response{}, fmt.Errorf("api error (status %d): %s", resp.StatusCode, parsed.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return router.Response{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return router.Response{}, errors.New("no choices in response")
	}

	tokens := 0
	if parsed.Usage != nil {
		tokens = parsed.Usage.TotalTokens
		if tokens == 0 {
			tokens = parsed.Usage.PromptTokens + parsed.Usage.CompletionTokens
		}
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	p.logger.Debug("chat completion response",
		zap.String(logger.FieldTask, string(req.Task)),
		zap.Int("tokens", tokens),
		zap.String("response_preview", utils.TruncateForLog(text, 200)),
	)

	return router.Response{Text: text, TokensUsed: tokens}, nil
}
