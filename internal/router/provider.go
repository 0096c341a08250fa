package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider is one backend capable of serving routed tasks. Implementations
// convert vendor replies into Response before returning.
type Provider interface {
	Name() string
	Call(ctx context.Context, req Request) (Response, error)
}

// TaskSupporter is implemented by providers that serve only some tasks.
// Providers without it are assumed to support every task.
type TaskSupporter interface {
	Supports(task Task) bool
}

// Request is the vendor-neutral call payload.
type Request struct {
	Task         Task
	SystemPrompt string
	// Payload is the task input as JSON.
	Payload json.RawMessage
}

// NewRequest marshals payload into a Request.
func NewRequest(task Task, systemPrompt string, payload any) (Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s payload: %w", task, err)
	}
	return Request{Task: task, SystemPrompt: systemPrompt, Payload: data}, nil
}

// Response is the vendor-neutral reply.
type Response struct {
	// Text is the raw textual reply, if any.
	Text string
	// Data is a structured reply, set by providers that produce JSON directly.
	Data json.RawMessage
	// TokensUsed is the total tokens billed for the call, 0 when unknown.
	TokensUsed int
	// Local is true for providers that do not leave the process.
	Local bool
}

// Body returns Data when present, Text otherwise.
func (r Response) Body() string {
	if len(r.Data) > 0 {
		return string(r.Data)
	}
	return r.Text
}

// IsEmpty reports whether the reply carries nothing.
func (r Response) IsEmpty() bool {
	return len(r.Data) == 0 && strings.TrimSpace(r.Text) == ""
}

func supports(p Provider, task Task) bool {
	if s, ok := p.(TaskSupporter); ok {
		return s.Supports(task)
	}
	return true
}

// Prompt renders a request as a single prompt for chat-style backends that
// take one user message.
func Prompt(req Request) string {
	var b strings.Builder
	if sp := strings.TrimSpace(req.SystemPrompt); sp != "" {
		b.WriteString(sp)
		b.WriteString("\n\n")
	}
	b.WriteString("Input (JSON):\n")
	b.Write(req.Payload)
	return b.String()
}
