// Package ai provides the external AI responder capability consumed by
// the inbound pipeline. An empty reply (or any error) means "no answer"
// and the caller falls back to rule evaluation.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/zapdesk/zapdesk/internal/agent"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Responder generates a reply for inbound text using an agent's AI
// settings.
type Responder interface {
	GenerateResponse(ctx context.Context, text string, settings *agent.AISettings) (string, error)
}

// Gemini is a Responder backed by the Gemini API.
type Gemini struct {
	apiKey string
	model  string
	logger *zap.Logger
}

// NewGemini creates a Gemini responder. apiKey is the daemon-level
// default; per-agent settings may override it.
func NewGemini(apiKey, model string, logger *zap.Logger) *Gemini {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{apiKey: apiKey, model: model, logger: logger}
}

// GenerateResponse calls the model with the agent's system prompt and
// the inbound text. Returns "" with nil error when no key is
// configured, so the pipeline treats it as a declined answer rather
// than a failure.
func (g *Gemini) GenerateResponse(ctx context.Context, text string, settings *agent.AISettings) (string, error) {
	key := g.apiKey
	if settings != nil && settings.APIKey != "" {
		key = settings.APIKey
	}
	if key == "" {
		g.logger.Warn("no AI API key configured, declining to answer")
		return "", nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key})
	if err != nil {
		return "", fmt.Errorf("create genai client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	systemPrompt := "You are a helpful WhatsApp assistant."
	maxLen := 500
	if settings != nil {
		if settings.SystemPrompt != "" {
			systemPrompt = settings.SystemPrompt
		}
		if settings.MaxLen > 0 {
			maxLen = settings.MaxLen
		}
		cfg.Temperature = genai.Ptr(float32(settings.Temperature))
	}
	cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	cfg.MaxOutputTokens = int32(maxLen)

	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(text), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
