// Package llm provides the text generator behind reply composition.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiConfig holds configuration for the Gemini generator.
type GeminiConfig struct {
	APIKey string
	Model  string

	// SystemInstruction is sent with every request, typically the persona.
	SystemInstruction string

	Temperature     float32
	TopP            float32
	MaxOutputTokens int32
}

// DefaultGeminiConfig returns sampling settings suited to short replies.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:           DefaultModel,
		Temperature:     0.8,
		TopP:            0.9,
		MaxOutputTokens: 120,
	}
}

// Gemini generates text with Google GenAI Gemini.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGemini creates a Gemini generator. The API key is required.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
	if cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(cfg.Temperature)
	}
	if cfg.TopP > 0 {
		gc.TopP = genai.Ptr(cfg.TopP)
	}
	if cfg.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}

	return &Gemini{client: client, model: model, config: gc}, nil
}

// Generate produces one completion for prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response from gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// Model returns the model name.
func (g *Gemini) Model() string {
	return g.model
}
