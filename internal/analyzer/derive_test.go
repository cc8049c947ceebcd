package analyzer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personaforge/personaforge/internal/models"
)

func testPkg() models.DataPackageRef {
	return models.DataPackageRef{PackageID: "pkg-1", OwnerID: "owner-1", Modality: models.ModalityText}
}

func TestDeriveTraits_ParsesPayload(t *testing.T) {
	payload := json.RawMessage(`{
		"traits": [
			{"name": "Empathetic", "description": "Responds with care", "category": "EmotionalPattern", "confidence": 0.8, "evidence_locator": "msg:12"}
		],
		"concepts": ["jazz", "rock climbing"]
	}`)

	derive := DeriveForStage("text-sentiment")
	out, err := derive(testPkg(), "text-sentiment-v1", payload)
	require.NoError(t, err)

	require.Len(t, out.Drafts, 1)
	d := out.Drafts[0]
	assert.Equal(t, "Empathetic", d.Name)
	assert.Equal(t, models.CategoryEmotionalPattern, d.Category)
	assert.Equal(t, 0.8, d.Confidence)
	assert.Equal(t, "text-sentiment-v1", d.AnalyzerID)
	require.Len(t, d.Evidence, 1)
	assert.Equal(t, "pkg-1", d.Evidence[0].PackageID)
	assert.Equal(t, "msg:12", d.Evidence[0].Locator)
	assert.Equal(t, []string{"jazz", "rock climbing"}, out.Concepts)
}

func TestDeriveTraits_FallbackCategory(t *testing.T) {
	payload := json.RawMessage(`{"traits": [{"name": "Jazz fan", "category": "NotARealCategory", "confidence": 0.5}]}`)

	out, err := DeriveForStage("image-interests")(testPkg(), "a", payload)
	require.NoError(t, err)
	require.Len(t, out.Drafts, 1)
	assert.Equal(t, models.CategoryInterest, out.Drafts[0].Category, "invalid categories fall back to the stage default")

	out, err = DeriveForStage("some-custom-stage")(testPkg(), "a", payload)
	require.NoError(t, err)
	require.Len(t, out.Drafts, 1)
	assert.Equal(t, models.CategoryOther, out.Drafts[0].Category, "unknown stages fall back to Other")
}

func TestDeriveTraits_ClampsConfidence(t *testing.T) {
	payload := json.RawMessage(`{"traits": [
		{"name": "A", "category": "Skill", "confidence": 1.7},
		{"name": "B", "category": "Skill", "confidence": -0.3}
	]}`)

	out, err := DeriveForStage("text-topics")(testPkg(), "a", payload)
	require.NoError(t, err)
	require.Len(t, out.Drafts, 2)
	assert.Equal(t, 1.0, out.Drafts[0].Confidence)
	assert.Equal(t, 0.0, out.Drafts[1].Confidence)
}

func TestDeriveTraits_SkipsNamelessAndDefaultsLocator(t *testing.T) {
	payload := json.RawMessage(`{"traits": [
		{"name": "", "category": "Skill", "confidence": 0.9},
		{"name": "Go", "category": "Skill", "confidence": 0.9}
	]}`)

	out, err := DeriveForStage("text-topics")(testPkg(), "a", payload)
	require.NoError(t, err)
	require.Len(t, out.Drafts, 1)
	assert.Equal(t, "package", out.Drafts[0].Evidence[0].Locator)
}

func TestDeriveTraits_MalformedPayload(t *testing.T) {
	_, err := DeriveForStage("text-sentiment")(testPkg(), "a", json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestDeriveTraits_IsPure(t *testing.T) {
	payload := json.RawMessage(`{"traits": [{"name": "Go", "category": "Skill", "confidence": 0.9}], "concepts": ["go"]}`)
	derive := DeriveForStage("text-topics")

	first, err := derive(testPkg(), "a", payload)
	require.NoError(t, err)
	second, err := derive(testPkg(), "a", payload)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same inputs must produce identical drafts")
}
