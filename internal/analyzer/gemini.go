package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/personaforge/personaforge/internal/models"
)

// mimeTypes maps package modality to the inline-data MIME type sent to Gemini
var mimeTypes = map[models.Modality]string{
	models.ModalityAudio: "audio/mpeg",
	models.ModalityVideo: "video/mp4",
	models.ModalityImage: "image/jpeg",
}

// GeminiAdapter runs audio, video, and image stages through the Gemini API,
// which accepts media content inline.
type GeminiAdapter struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiAdapter creates an adapter for the given model
func NewGeminiAdapter(ctx context.Context, apiKey, model string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiAdapter{
		client: client,
		model:  model,
		logger: slog.Default().With("component", "analyzer-gemini", "model", model),
	}, nil
}

// ID identifies this analyzer in feature records and provenance
func (a *GeminiAdapter) ID() string {
	return "gemini:" + a.model
}

// Analyze sends the media content with the stage instruction and returns the
// raw JSON payload.
func (a *GeminiAdapter) Analyze(ctx context.Context, req Request) (*Result, error) {
	instruction := "Identify personality and communication traits evident in the content.\n\n" + traitSchemaInstruction

	parts := []*genai.Part{genai.NewPartFromText(instruction)}
	if mime, ok := mimeTypes[req.Modality]; ok {
		parts = append(parts, genai.NewPartFromBytes(req.Content, mime))
	} else {
		parts = append(parts, genai.NewPartFromText(string(req.Content)))
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  2000,
		ResponseMIMEType: "application/json",
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, genConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty response")
	}
	if !json.Valid([]byte(text)) {
		a.logger.Warn("analyzer returned invalid JSON", "stage", req.StageID)
		return &Result{
			AnalyzerID: a.ID(),
			Payload:    json.RawMessage(`{"traits":[],"concepts":[]}`),
			Outcome:    models.FeaturePartial,
		}, nil
	}

	return &Result{
		AnalyzerID: a.ID(),
		Payload:    json.RawMessage(text),
		Outcome:    models.FeatureSuccess,
	}, nil
}
