package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/urs-matcher/internal/llmjson"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/utils"
)

// ExplainPrompt is sent with explain requests.
const ExplainPrompt = `You justify the choice of a catalog item for a Czech construction budget line.
Answer with one short sentence in Czech, plain text, no markdown.`

const maxExplanation = 300

// Explainer attaches a one sentence justification to a match.
type Explainer struct {
	router router.Invoker
	logger *zap.Logger
}

// NewExplainer returns an Explainer, or nil when r is nil.
func NewExplainer(r router.Invoker, log *zap.Logger) *Explainer {
	if r == nil {
		return nil
	}
	return &Explainer{router: r, logger: logger.WithFields(log)}
}

// Explain replaces m.Explanation when a provider answers. Failures leave m untouched.
func (e *Explainer) Explain(ctx context.Context, description string, m *match.RankedMatch) {
	if e == nil || m == nil {
		return
	}

	req, err := router.NewRequest(router.TaskExplain, ExplainPrompt, match.ExplainRequest{
		Description: description,
		Code:        m.Code,
		Name:        m.Name,
		Unit:        m.Unit,
	})
	if err != nil {
		e.logger.Warn("build explain request", zap.Error(err))
		return
	}

	res, err := e.router.Invoke(ctx, router.TaskExplain, req)
	if err != nil {
		e.logger.Debug("explanation unavailable", zap.String("code", m.Code), zap.Error(err))
		return
	}

	if text := explanationOf(res.Response.Body()); text != "" {
		m.Explanation = text
	}
}

// explanationOf accepts plain text or a JSON object with an explanation field.
func explanationOf(body string) string {
	var reply struct {
		Explanation any `json:"explanation"`
	}
	text := body
	if strings.Contains(body, "{") {
		if err := llmjson.Decode(body, &reply); err == nil {
			if s := llmjson.String(reply.Explanation); s != "" {
				text = s
			}
		}
	}

	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return utils.TruncateForLog(text, maxExplanation)
}
