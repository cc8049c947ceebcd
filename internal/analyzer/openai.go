package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/personaforge/personaforge/internal/models"
)

const traitSchemaInstruction = `Respond with a single JSON object:
{"traits": [{"name": "...", "description": "...", "category": "...", "confidence": 0.0, "evidence_locator": "..."}], "concepts": ["..."]}
Categories: LinguisticStyle, EmotionalPattern, KnowledgeDomain, Stance, CommunicationStyle, BehavioralPattern, Interest, Skill, Other.
Confidence is a number in [0,1]. evidence_locator points at the supporting segment. No prose outside the JSON.`

// stagePrompts maps stage IDs to their analysis instruction
var stagePrompts = map[string]string{
	"text-sentiment": "Identify emotional patterns and dispositions evident in the text.",
	"text-topics":    "Identify knowledge domains, interests, and stances evident in the text.",
	"text-style":     "Identify linguistic and communication style traits evident in the text.",
}

// OpenAIAdapter runs text analysis stages through the OpenAI chat API
type OpenAIAdapter struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIAdapter creates an adapter for the given model
func NewOpenAIAdapter(apiKey, model string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIAdapter{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: slog.Default().With("component", "analyzer-openai", "model", model),
	}, nil
}

// ID identifies this analyzer in feature records and provenance
func (a *OpenAIAdapter) ID() string {
	return "openai:" + a.model
}

// Analyze sends the stage prompt plus package content and returns the raw
// JSON payload. Payload validity is the derivation function's concern.
func (a *OpenAIAdapter) Analyze(ctx context.Context, req Request) (*Result, error) {
	prompt, ok := stagePrompts[req.StageID]
	if !ok {
		prompt = "Identify personality and communication traits evident in the content."
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt + "\n\n" + traitSchemaInstruction},
			{Role: openai.ChatMessageRoleUser, Content: string(req.Content)},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		a.logger.Warn("analyzer returned invalid JSON", "stage", req.StageID)
		return &Result{
			AnalyzerID: a.ID(),
			Payload:    json.RawMessage(`{"traits":[],"concepts":[]}`),
			Outcome:    models.FeaturePartial,
		}, nil
	}

	return &Result{
		AnalyzerID: a.ID(),
		Payload:    json.RawMessage(content),
		Outcome:    models.FeatureSuccess,
	}, nil
}
