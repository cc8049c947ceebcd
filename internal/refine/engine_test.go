package refine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personaforge/personaforge/internal/errors"
	"github.com/personaforge/personaforge/internal/graph"
	"github.com/personaforge/personaforge/internal/models"
	"github.com/personaforge/personaforge/internal/storage"
)

type refineHarness struct {
	engine *Engine
	store  *storage.MemoryStore
	graph  *graph.MemoryStore
}

func newRefineHarness(t *testing.T) *refineHarness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := storage.NewMemoryStore()
	backend := graph.NewMemoryStore()
	return &refineHarness{
		engine: New(store, backend, nil, logger),
		store:  store,
		graph:  backend,
	}
}

// seedCandidate plants a candidate in both the store and the graph, the way
// the orchestrator leaves it after initial population.
func (h *refineHarness) seedCandidate(t *testing.T, ownerID, candidateID, name string) *models.TraitCandidate {
	t.Helper()
	now := time.Now().UTC()
	candidate := &models.TraitCandidate{
		CandidateID:     candidateID,
		OwnerID:         ownerID,
		Name:            name,
		Description:     "seeded",
		Category:        models.CategoryCommunicationStyle,
		Confidence:      0.7,
		OriginAnalyzers: []string{"text-style-v1"},
		Status:          models.StatusCandidate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, h.store.SaveCandidates(context.Background(), []*models.TraitCandidate{candidate}))

	_, err := h.graph.ApplyBatch(context.Background(), ownerID, graph.Batch{
		Nodes: []graph.MergeNode{
			{Key: ownerNodeKey(ownerID), Props: map[string]any{"owner_id": ownerID}},
			{Key: traitNodeKey(candidateID), Props: map[string]any{
				"name":   name,
				"status": graph.TraitStatusCandidate,
			}},
		},
		Edges: []graph.MergeEdge{{
			Type:  graph.EdgeHasCandidateTrait,
			From:  ownerNodeKey(ownerID),
			To:    traitNodeKey(candidateID),
			Props: map[string]any{"source": "analyzer"},
		}},
	})
	require.NoError(t, err)
	return candidate
}

func TestReviewCandidate_ConfirmAsIs(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Empathetic")

	candidate, err := h.engine.ReviewCandidate(context.Background(), ReviewRequest{
		OwnerID:        "owner-1",
		CandidateID:    "cand-1",
		Decision:       models.DecisionConfirmedAsIs,
		ExpectedStatus: models.StatusCandidate,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, candidate.Status)

	props, err := h.graph.GetNodeProps(context.Background(), "owner-1", traitNodeKey("cand-1"))
	require.NoError(t, err)
	assert.Equal(t, graph.TraitStatusActive, props["status"])

	hasTrait := h.graph.GetEdgeProps("owner-1", graph.EdgeHasTrait, ownerNodeKey("owner-1"), traitNodeKey("cand-1"))
	require.NotNil(t, hasTrait, "confirmation must add a HAS_TRAIT edge")

	hasCandidate := h.graph.GetEdgeProps("owner-1", graph.EdgeHasCandidateTrait, ownerNodeKey("owner-1"), traitNodeKey("cand-1"))
	require.NotNil(t, hasCandidate, "the candidate edge is flagged, never deleted")
	assert.NotEmpty(t, hasCandidate["promoted_at"])

	entries, err := h.store.ListLogEntries(context.Background(), "owner-1", "cand-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DecisionConfirmedAsIs, entries[0].Decision)
	assert.Equal(t, models.StatusCandidate, entries[0].PriorState)
	assert.Equal(t, models.StatusConfirmed, entries[0].NewState)
}

func TestReviewCandidate_ModifyAppliesEdits(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Blunt")

	candidate, err := h.engine.ReviewCandidate(context.Background(), ReviewRequest{
		OwnerID:     "owner-1",
		CandidateID: "cand-1",
		Decision:    models.DecisionConfirmedModified,
		Edits:       models.TraitEdits{Name: "Direct"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusModified, candidate.Status)
	assert.Equal(t, "Direct", candidate.Name)
	assert.Equal(t, "seeded", candidate.Description, "unedited fields keep their original values")

	props, err := h.graph.GetNodeProps(context.Background(), "owner-1", traitNodeKey("cand-1"))
	require.NoError(t, err)
	assert.Equal(t, "Direct", props["name"])
	assert.Equal(t, graph.TraitStatusActive, props["status"])

	entries, err := h.store.ListLogEntries(context.Background(), "owner-1", "cand-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DecisionConfirmedModified, entries[0].Decision)
}

func TestReviewCandidate_RejectThenConfirm(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Sarcastic")

	_, err := h.engine.ReviewCandidate(context.Background(), ReviewRequest{
		OwnerID:     "owner-1",
		CandidateID: "cand-1",
		Decision:    models.DecisionRejected,
	})
	require.NoError(t, err)

	props, err := h.graph.GetNodeProps(context.Background(), "owner-1", traitNodeKey("cand-1"))
	require.NoError(t, err)
	assert.Equal(t, graph.TraitStatusRejected, props["status"])

	// rejected -> confirmed re-enters the triangle
	candidate, err := h.engine.ReviewCandidate(context.Background(), ReviewRequest{
		OwnerID:     "owner-1",
		CandidateID: "cand-1",
		Decision:    models.DecisionConfirmedAsIs,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, candidate.Status)

	props, err = h.graph.GetNodeProps(context.Background(), "owner-1", traitNodeKey("cand-1"))
	require.NoError(t, err)
	assert.Equal(t, graph.TraitStatusActive, props["status"], "final graph status must be active")

	entries, err := h.store.ListLogEntries(context.Background(), "owner-1", "cand-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReviewCandidate_RejectNeverConfirmedAddsNoTraitEdge(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Sarcastic")

	_, err := h.engine.ReviewCandidate(context.Background(), ReviewRequest{
		OwnerID:     "owner-1",
		CandidateID: "cand-1",
		Decision:    models.DecisionRejected,
	})
	require.NoError(t, err)

	edge := h.graph.GetEdgeProps("owner-1", graph.EdgeHasTrait, ownerNodeKey("owner-1"), traitNodeKey("cand-1"))
	assert.Nil(t, edge, "rejecting a never-confirmed candidate must not create a HAS_TRAIT edge")
}

func TestReviewCandidate_StaleExpectedStatus(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Empathetic")

	_, err := h.engine.ReviewCandidate(context.Background(), ReviewRequest{
		OwnerID:        "owner-1",
		CandidateID:    "cand-1",
		Decision:       models.DecisionConfirmedAsIs,
		ExpectedStatus: models.StatusCandidate,
	})
	require.NoError(t, err)

	// A second reviewer saw the original status; their decision must not clobber
	_, err = h.engine.ReviewCandidate(context.Background(), ReviewRequest{
		OwnerID:        "owner-1",
		CandidateID:    "cand-1",
		Decision:       models.DecisionRejected,
		ExpectedStatus: models.StatusCandidate,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindStaleStateConflict))
}

func TestReviewCandidate_ConcurrentReviewsExactlyOneWins(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Empathetic")

	decisions := []models.RefinementDecision{models.DecisionConfirmedAsIs, models.DecisionRejected}
	errs := make([]error, len(decisions))
	var wg sync.WaitGroup
	for i, decision := range decisions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.engine.ReviewCandidate(context.Background(), ReviewRequest{
				OwnerID:        "owner-1",
				CandidateID:    "cand-1",
				Decision:       decision,
				ExpectedStatus: models.StatusCandidate,
			})
		}()
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.IsKind(err, errors.KindStaleStateConflict), "loser must see a stale-state conflict, got %v", err)
		conflicts++
	}
	assert.Equal(t, 1, wins, "exactly one concurrent review may win")
	assert.Equal(t, 1, conflicts)

	entries, err := h.store.ListLogEntries(context.Background(), "owner-1", "cand-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the winning review is logged")
}

func TestReviewCandidate_ValidationErrors(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Empathetic")

	tests := []struct {
		name string
		req  ReviewRequest
		kind errors.Kind
	}{
		{
			name: "unknown candidate",
			req:  ReviewRequest{OwnerID: "owner-1", CandidateID: "missing", Decision: models.DecisionConfirmedAsIs},
			kind: errors.KindNotFound,
		},
		{
			name: "ownership mismatch",
			req:  ReviewRequest{OwnerID: "owner-2", CandidateID: "cand-1", Decision: models.DecisionConfirmedAsIs},
			kind: errors.KindForbidden,
		},
		{
			name: "modify without edits",
			req:  ReviewRequest{OwnerID: "owner-1", CandidateID: "cand-1", Decision: models.DecisionConfirmedModified},
			kind: errors.KindInvalidInput,
		},
		{
			name: "edits with confirm",
			req: ReviewRequest{
				OwnerID: "owner-1", CandidateID: "cand-1",
				Decision: models.DecisionConfirmedAsIs,
				Edits:    models.TraitEdits{Name: "Other"},
			},
			kind: errors.KindInvalidInput,
		},
		{
			name: "invalid category edit",
			req: ReviewRequest{
				OwnerID: "owner-1", CandidateID: "cand-1",
				Decision: models.DecisionConfirmedModified,
				Edits:    models.TraitEdits{Category: "NotACategory"},
			},
			kind: errors.KindInvalidInput,
		},
		{
			name: "non-review decision",
			req:  ReviewRequest{OwnerID: "owner-1", CandidateID: "cand-1", Decision: models.DecisionUserAdded},
			kind: errors.KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.ReviewCandidate(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestAddCustomTrait(t *testing.T) {
	h := newRefineHarness(t)

	trait, err := h.engine.AddCustomTrait(context.Background(), "owner-1", models.TraitDraft{
		Name:        "Marathon runner",
		Description: "Runs long distance weekly",
		Category:    models.CategoryInterest,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, trait.Status, "user-added traits start confirmed")

	props, err := h.graph.GetNodeProps(context.Background(), "owner-1", traitNodeKey(trait.CandidateID))
	require.NoError(t, err)
	require.NotNil(t, props)
	assert.Equal(t, graph.TraitStatusActive, props["status"])

	edge := h.graph.GetEdgeProps("owner-1", graph.EdgeHasTrait, ownerNodeKey("owner-1"), traitNodeKey(trait.CandidateID))
	require.NotNil(t, edge)
	assert.Equal(t, "user", edge["source"])

	entries, err := h.store.ListLogEntries(context.Background(), "owner-1", trait.CandidateID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DecisionUserAdded, entries[0].Decision)
	assert.Empty(t, entries[0].OriginCandidateID)
}

func TestAddCustomTrait_Validation(t *testing.T) {
	h := newRefineHarness(t)

	_, err := h.engine.AddCustomTrait(context.Background(), "owner-1", models.TraitDraft{Category: models.CategorySkill})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	_, err = h.engine.AddCustomTrait(context.Background(), "owner-1", models.TraitDraft{Name: "Swimming"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	_, err = h.engine.AddCustomTrait(context.Background(), "owner-1", models.TraitDraft{Name: "Swimming", Category: "Bogus"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestSetCommunicationStyle_LatestValueWins(t *testing.T) {
	h := newRefineHarness(t)

	err := h.engine.SetCommunicationStyle(context.Background(), "owner-1", map[string]string{
		"tone":      "warm",
		"formality": "casual",
	})
	require.NoError(t, err)

	err = h.engine.SetCommunicationStyle(context.Background(), "owner-1", map[string]string{
		"tone": "dry",
	})
	require.NoError(t, err)

	toneKey := graph.NodeKey{Label: graph.LabelStyleElement, KeyField: "element", KeyValue: "tone"}
	props, err := h.graph.GetNodeProps(context.Background(), "owner-1", toneKey)
	require.NoError(t, err)
	require.NotNil(t, props)
	assert.Equal(t, "dry", props["value"])

	formalityKey := graph.NodeKey{Label: graph.LabelStyleElement, KeyField: "element", KeyValue: "formality"}
	props, err = h.graph.GetNodeProps(context.Background(), "owner-1", formalityKey)
	require.NoError(t, err)
	require.NotNil(t, props)
	assert.Equal(t, "casual", props["value"])
}

func TestSupersedeCandidate(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Curt")

	replacement, err := h.engine.SupersedeCandidate(context.Background(), "owner-1", "cand-1", models.TraitDraft{Name: "Concise"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCandidate, replacement.Status, "the replacement starts the lifecycle over")
	assert.Equal(t, "Concise", replacement.Name)

	old, err := h.store.GetCandidate(context.Background(), "cand-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuperseded, old.Status)
	assert.Equal(t, replacement.CandidateID, old.SupersededBy)

	// superseded is terminal
	_, err = h.engine.ReviewCandidate(context.Background(), ReviewRequest{
		OwnerID:     "owner-1",
		CandidateID: "cand-1",
		Decision:    models.DecisionConfirmedAsIs,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	_, err = h.engine.SupersedeCandidate(context.Background(), "owner-1", "cand-1", models.TraitDraft{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestRepairCandidate(t *testing.T) {
	h := newRefineHarness(t)
	h.seedCandidate(t, "owner-1", "cand-1", "Empathetic")

	// Simulate a lost candidate-store write: graph and log reflect a
	// confirmation the store never saw.
	now := time.Now().UTC()
	require.NoError(t, h.store.AppendLogEntry(context.Background(), &models.RefinementLogEntry{
		EntryID:           "entry-1",
		OwnerID:           "owner-1",
		TargetTraitID:     "cand-1",
		OriginCandidateID: "cand-1",
		Decision:          models.DecisionConfirmedAsIs,
		PriorState:        models.StatusCandidate,
		NewState:          models.StatusConfirmed,
		Timestamp:         now,
	}))

	repaired, err := h.engine.RepairCandidate(context.Background(), "owner-1", "cand-1")
	require.NoError(t, err)
	assert.True(t, repaired)

	candidate, err := h.store.GetCandidate(context.Background(), "cand-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, candidate.Status)

	// Second repair is a no-op
	repaired, err = h.engine.RepairCandidate(context.Background(), "owner-1", "cand-1")
	require.NoError(t, err)
	assert.False(t, repaired)
}
