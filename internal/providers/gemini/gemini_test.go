package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/urs-matcher/internal/router"
)

type stubModels struct {
	resp *genai.GenerateContentResponse
	err  error

	model  string
	prompt string
	config *genai.GenerateContentConfig
}

func (s *stubModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.model = model
	s.config = config
	for _, c := range contents {
		for _, part := range c.Parts {
			s.prompt += part.Text
		}
	}
	return s.resp, s.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: genai.RoleModel}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates:    []*genai.Candidate{{Content: content}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 57},
	}
}

func TestCall(t *testing.T) {
	t.Parallel()

	stub := &stubModels{resp: textResponse(` {"composite": true} `, "")}
	p := newProvider(stub, "", zap.NewNop())

	req, err := router.NewRequest(router.TaskSplit, "Rozhodni, zda jde o více prací.", map[string]string{"text": "beton a bednění"})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	resp, err := p.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Text != `{"composite": true}` {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if resp.TokensUsed != 57 {
		t.Fatalf("expected token usage to be reported, got %d", resp.TokensUsed)
	}
	if stub.model != defaultModel {
		t.Fatalf("expected default model, got %q", stub.model)
	}
	if !strings.Contains(stub.prompt, "beton a bednění") {
		t.Fatalf("expected payload in prompt, got %q", stub.prompt)
	}
	if stub.config.SystemInstruction == nil || stub.config.ResponseMIMEType != "application/json" {
		t.Fatalf("unexpected config: %+v", stub.config)
	}
}

func TestCallExplainIsPlainText(t *testing.T) {
	t.Parallel()

	stub := &stubModels{resp: textResponse("Betonáž odpovídá položce.")}
	p := newProvider(stub, "gemini-custom", zap.NewNop())

	if _, err := p.Call(context.Background(), router.Request{Task: router.TaskExplain, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.config.ResponseMIMEType != "" || stub.config.SystemInstruction != nil {
		t.Fatalf("expected plain text config, got %+v", stub.config)
	}
	if p.Model() != "gemini-custom" {
		t.Fatalf("unexpected model %q", p.Model())
	}
}

func TestCallErrors(t *testing.T) {
	t.Parallel()

	failing := newProvider(&stubModels{err: errors.New("quota")}, "", zap.NewNop())
	if _, err := failing.Call(context.Background(), router.Request{}); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected wrapped vendor error, got %v", err)
	}

	empty := newProvider(&stubModels{resp: textResponse("  ")}, "", zap.NewNop())
	if _, err := empty.Call(context.Background(), router.Request{}); err == nil {
		t.Fatalf("expected empty response error")
	}

	if _, err := New(context.Background(), " ", "", nil); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestSupports(t *testing.T) {
	t.Parallel()

	p := newProvider(&stubModels{}, "", nil)
	if p.Supports(router.TaskRetrieve) || !p.Supports(router.TaskRerank) {
		t.Fatalf("unexpected task support")
	}
}
