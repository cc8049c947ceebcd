package analyzer

import (
	"encoding/json"
	"fmt"

	"github.com/personaforge/personaforge/internal/models"
)

// Draft is a candidate trait proposed by one stage, before aggregation
type Draft struct {
	Name        string
	Description string
	Category    models.TraitCategory
	Confidence  float64
	Evidence    []models.EvidenceRef
	AnalyzerID  string
}

// StageOutput is what derivation yields from one stage's raw payload
type StageOutput struct {
	Drafts   []Draft
	Concepts []string
}

// DeriveFunc turns a raw analyzer payload into candidate drafts. Derivation
// is a pure function of its inputs: no I/O, no clock, no randomness.
type DeriveFunc func(pkg models.DataPackageRef, analyzerID string, payload json.RawMessage) (StageOutput, error)

// traitPayload is the JSON contract every LLM analyzer prompt requests
type traitPayload struct {
	Traits []struct {
		Name            string  `json:"name"`
		Description     string  `json:"description"`
		Category        string  `json:"category"`
		Confidence      float64 `json:"confidence"`
		EvidenceLocator string  `json:"evidence_locator"`
	} `json:"traits"`
	Concepts []string `json:"concepts"`
}

// deriveTraits is the shared derivation core. Stage-specific functions pin a
// fallback category for payload entries with a missing or invalid one.
func deriveTraits(fallback models.TraitCategory) DeriveFunc {
	return func(pkg models.DataPackageRef, analyzerID string, payload json.RawMessage) (StageOutput, error) {
		var parsed traitPayload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return StageOutput{}, fmt.Errorf("malformed analyzer payload: %w", err)
		}

		out := StageOutput{Concepts: parsed.Concepts}
		for _, t := range parsed.Traits {
			if t.Name == "" {
				continue
			}
			category := models.TraitCategory(t.Category)
			if !models.ValidCategory(category) {
				category = fallback
			}
			confidence := t.Confidence
			if confidence < 0 {
				confidence = 0
			}
			if confidence > 1 {
				confidence = 1
			}
			locator := t.EvidenceLocator
			if locator == "" {
				locator = "package"
			}
			out.Drafts = append(out.Drafts, Draft{
				Name:        t.Name,
				Description: t.Description,
				Category:    category,
				Confidence:  confidence,
				Evidence:    []models.EvidenceRef{{PackageID: pkg.PackageID, Locator: locator}},
				AnalyzerID:  analyzerID,
			})
		}
		return out, nil
	}
}

// derivation functions per stage
var deriveFuncs = map[string]DeriveFunc{
	"text-sentiment":      deriveTraits(models.CategoryEmotionalPattern),
	"text-topics":         deriveTraits(models.CategoryKnowledgeDomain),
	"text-style":          deriveTraits(models.CategoryLinguisticStyle),
	"audio-transcription": deriveTraits(models.CategoryCommunicationStyle),
	"audio-emotion":       deriveTraits(models.CategoryEmotionalPattern),
	"video-multimodal":    deriveTraits(models.CategoryBehavioralPattern),
	"image-interests":     deriveTraits(models.CategoryInterest),
}

// DeriveForStage returns the derivation function for a stage.
// Unknown stages get the generic derivation with category Other, so custom
// YAML-defined stages work without code changes.
func DeriveForStage(stageID string) DeriveFunc {
	if fn, ok := deriveFuncs[stageID]; ok {
		return fn
	}
	return deriveTraits(models.CategoryOther)
}
