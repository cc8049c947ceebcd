package orchestrator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personaforge/personaforge/internal/analyzer"
	"github.com/personaforge/personaforge/internal/models"
)

func TestAggregateDrafts_MergesEquivalentNames(t *testing.T) {
	now := time.Now().UTC()
	drafts := []analyzer.Draft{
		{
			Name:       "Empathetic",
			Category:   models.CategoryEmotionalPattern,
			Confidence: 0.6,
			Evidence:   []models.EvidenceRef{{PackageID: "pkg-1", Locator: "msg:12"}},
			AnalyzerID: "text-sentiment-v1",
		},
		{
			Name:       "empathetic",
			Category:   models.CategoryEmotionalPattern,
			Confidence: 0.8,
			Evidence:   []models.EvidenceRef{{PackageID: "pkg-1", Locator: "msg:40"}},
			AnalyzerID: "text-style-v1",
		},
	}

	candidates := aggregateDrafts("owner-1", "pkg-1", drafts, now)

	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, 0.8, c.Confidence, "confidence should be the max of contributing drafts")
	assert.Len(t, c.Evidence, 2, "evidence should be unioned")
	assert.ElementsMatch(t, []string{"text-sentiment-v1", "text-style-v1"}, c.OriginAnalyzers)
	assert.Equal(t, models.StatusCandidate, c.Status)
}

func TestAggregateDrafts_DifferentCategoriesStayDistinct(t *testing.T) {
	now := time.Now().UTC()
	drafts := []analyzer.Draft{
		{Name: "Python", Category: models.CategorySkill, Confidence: 0.9, AnalyzerID: "a"},
		{Name: "Python", Category: models.CategoryInterest, Confidence: 0.7, AnalyzerID: "a"},
	}

	candidates := aggregateDrafts("owner-1", "pkg-1", drafts, now)
	assert.Len(t, candidates, 2)
}

func TestAggregateDrafts_OrderIndependent(t *testing.T) {
	now := time.Now().UTC()
	drafts := []analyzer.Draft{
		{Name: "Curious", Category: models.CategoryBehavioralPattern, Confidence: 0.5, AnalyzerID: "b", Evidence: []models.EvidenceRef{{PackageID: "p", Locator: "1"}}},
		{Name: "curious", Category: models.CategoryBehavioralPattern, Confidence: 0.9, AnalyzerID: "a", Evidence: []models.EvidenceRef{{PackageID: "p", Locator: "2"}}},
		{Name: "Dry humor", Category: models.CategoryLinguisticStyle, Confidence: 0.4, AnalyzerID: "c"},
		{Name: "dry  humor", Category: models.CategoryLinguisticStyle, Confidence: 0.6, AnalyzerID: "a"},
		{Name: "Skeptical", Category: models.CategoryStance, Confidence: 0.7, AnalyzerID: "b"},
	}

	baseline := aggregateDrafts("owner-1", "pkg-1", drafts, now)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]analyzer.Draft, len(drafts))
		copy(shuffled, drafts)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := aggregateDrafts("owner-1", "pkg-1", shuffled, now)
		require.Equal(t, len(baseline), len(got))
		for j := range baseline {
			assert.Equal(t, baseline[j].CandidateID, got[j].CandidateID)
			assert.Equal(t, baseline[j].Confidence, got[j].Confidence)
			assert.Equal(t, baseline[j].Evidence, got[j].Evidence)
			assert.Equal(t, baseline[j].OriginAnalyzers, got[j].OriginAnalyzers)
		}
	}
}

func TestMintCandidateID_Stable(t *testing.T) {
	key := aggregationKey{name: "empathetic", category: models.CategoryEmotionalPattern}
	first := mintCandidateID("owner-1", "pkg-1", key)
	second := mintCandidateID("owner-1", "pkg-1", key)
	assert.Equal(t, first, second, "re-delivered notifications must mint identical ids")

	other := mintCandidateID("owner-2", "pkg-1", key)
	assert.NotEqual(t, first, other, "ids must differ across owners")
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Empathetic", "empathetic"},
		{"  Dry   Humor ", "dry humor"},
		{"ALL CAPS", "all caps"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeName(tt.in))
	}
}

func TestAggregateConcepts_CountsMentions(t *testing.T) {
	outputs := []analyzer.StageOutput{
		{Concepts: []string{"Rock Climbing", "jazz"}},
		{Concepts: []string{"rock climbing", "", "Jazz", "cooking"}},
	}

	counts := aggregateConcepts(outputs)
	assert.Equal(t, int64(2), counts["rock climbing"])
	assert.Equal(t, int64(2), counts["jazz"])
	assert.Equal(t, int64(1), counts["cooking"])
	assert.NotContains(t, counts, "")
}
