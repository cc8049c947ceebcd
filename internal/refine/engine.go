package refine

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/personaforge/personaforge/internal/audit"
	"github.com/personaforge/personaforge/internal/errors"
	"github.com/personaforge/personaforge/internal/graph"
	"github.com/personaforge/personaforge/internal/models"
	"github.com/personaforge/personaforge/internal/storage"
)

// Engine translates reviewer decisions into graph mutations, candidate-store
// transitions, and append-only log entries. Writes are ordered: graph first
// (source of truth for behavior-facing trait state), then candidate store,
// then log. A lost middle write is recoverable via RepairCandidate.
type Engine struct {
	store  storage.Store
	graph  graph.Backend
	mirror *audit.Mirror
	logger *logrus.Logger
}

// New creates an engine. mirror may be nil to disable the JSONL decision
// mirror.
func New(store storage.Store, graphBackend graph.Backend, mirror *audit.Mirror, logger *logrus.Logger) *Engine {
	return &Engine{store: store, graph: graphBackend, mirror: mirror, logger: logger}
}

// ReviewRequest is one reviewer decision on a candidate
type ReviewRequest struct {
	OwnerID     string
	CandidateID string
	Decision    models.RefinementDecision
	Edits       models.TraitEdits
	// ExpectedStatus is the status the caller last observed. The operation
	// fails with a stale-state conflict if the stored status has moved on.
	ExpectedStatus models.CandidateStatus
}

// decisionStatus maps a review decision to the candidate-store status
func decisionStatus(d models.RefinementDecision) (models.CandidateStatus, bool) {
	switch d {
	case models.DecisionConfirmedAsIs:
		return models.StatusConfirmed, true
	case models.DecisionConfirmedModified:
		return models.StatusModified, true
	case models.DecisionRejected:
		return models.StatusRejected, true
	}
	return "", false
}

// reviewable states: the initial pair plus the re-enterable triangle
func reviewable(s models.CandidateStatus) bool {
	switch s {
	case models.StatusCandidate, models.StatusAwaitingRefinement,
		models.StatusConfirmed, models.StatusModified, models.StatusRejected:
		return true
	}
	return false
}

func ownerNodeKey(ownerID string) graph.NodeKey {
	return graph.NodeKey{Label: graph.LabelOwner, KeyField: "owner_id", KeyValue: ownerID}
}

func traitNodeKey(traitID string) graph.NodeKey {
	return graph.NodeKey{Label: graph.LabelTrait, KeyField: "trait_id", KeyValue: traitID}
}

// ReviewCandidate applies one confirm/modify/reject decision.
func (e *Engine) ReviewCandidate(ctx context.Context, req ReviewRequest) (*models.TraitCandidate, error) {
	newStatus, ok := decisionStatus(req.Decision)
	if !ok {
		return nil, errors.Newf(errors.KindInvalidInput, "decision %q is not a review decision", req.Decision)
	}
	if err := validateEdits(req.Decision, req.Edits); err != nil {
		return nil, err
	}

	candidate, err := e.loadOwned(ctx, req.OwnerID, req.CandidateID)
	if err != nil {
		return nil, err
	}
	if candidate.Status == models.StatusSuperseded {
		return nil, errors.Newf(errors.KindInvalidInput, "candidate %s is superseded and can no longer be reviewed", req.CandidateID)
	}
	if !reviewable(candidate.Status) {
		return nil, errors.Newf(errors.KindInvalidInput, "candidate %s is in unreviewable state %q", req.CandidateID, candidate.Status)
	}
	if req.ExpectedStatus != "" && candidate.Status != req.ExpectedStatus {
		return nil, errors.StaleStateConflict(req.CandidateID, string(req.ExpectedStatus), string(candidate.Status))
	}

	// Final trait properties: edited value if present, else original
	name := candidate.Name
	description := candidate.Description
	category := candidate.Category
	if req.Decision == models.DecisionConfirmedModified {
		if req.Edits.Name != "" {
			name = req.Edits.Name
		}
		if req.Edits.Description != "" {
			description = req.Edits.Description
		}
		if req.Edits.Category != "" {
			category = req.Edits.Category
		}
	}

	now := time.Now().UTC()
	batch := reviewBatch(req.OwnerID, candidate, name, description, category, newStatus, now)
	if err := e.applyGraph(ctx, req.OwnerID, batch); err != nil {
		return nil, err
	}

	priorStatus := candidate.Status
	if err := e.store.CompareAndSwapStatus(ctx, req.CandidateID, priorStatus, newStatus); err != nil {
		return nil, e.mapStoreErr(err, req.CandidateID, priorStatus)
	}

	entry := &models.RefinementLogEntry{
		EntryID:           uuid.New().String(),
		OwnerID:           req.OwnerID,
		TargetTraitID:     req.CandidateID,
		OriginCandidateID: req.CandidateID,
		Decision:          req.Decision,
		PriorState:        priorStatus,
		NewState:          newStatus,
		Timestamp:         now,
	}
	e.appendLog(ctx, entry)

	candidate.Name = name
	candidate.Description = description
	candidate.Category = category
	candidate.Status = newStatus
	candidate.UpdatedAt = now
	return candidate, nil
}

// reviewBatch builds the graph mutation for one review decision. Edges are
// flagged, never deleted: on first confirmation the HAS_CANDIDATE_TRAIT edge
// gains a promoted_at marker and a HAS_TRAIT edge is merged alongside it.
func reviewBatch(ownerID string, candidate *models.TraitCandidate, name, description string, category models.TraitCategory, newStatus models.CandidateStatus, now time.Time) graph.Batch {
	owner := ownerNodeKey(ownerID)
	trait := traitNodeKey(candidate.CandidateID)
	ts := now.Format(time.RFC3339)

	graphStatus := graph.TraitStatusActive
	if newStatus == models.StatusRejected {
		graphStatus = graph.TraitStatusRejected
	}

	batch := graph.Batch{
		Nodes: []graph.MergeNode{{
			Key: trait,
			Props: map[string]any{
				"name":        name,
				"description": description,
				"category":    string(category),
				"status":      graphStatus,
				"reviewed_at": ts,
			},
		}},
	}

	switch newStatus {
	case models.StatusConfirmed, models.StatusModified:
		batch.Edges = append(batch.Edges,
			graph.MergeEdge{
				Type:  graph.EdgeHasCandidateTrait,
				From:  owner,
				To:    trait,
				Props: map[string]any{"promoted_at": ts},
			},
			graph.MergeEdge{
				Type:  graph.EdgeHasTrait,
				From:  owner,
				To:    trait,
				Props: map[string]any{"source": "review", "updated_at": ts},
			},
		)
	case models.StatusRejected:
		// Re-rejection of a previously confirmed trait flags the HAS_TRAIT
		// edge instead of removing it; a never-confirmed candidate has no
		// such edge and must not gain one here.
		if candidate.Status == models.StatusConfirmed || candidate.Status == models.StatusModified {
			batch.Edges = append(batch.Edges, graph.MergeEdge{
				Type:  graph.EdgeHasTrait,
				From:  owner,
				To:    trait,
				Props: map[string]any{"source": "review", "updated_at": ts, "rejected": true},
			})
		}
	}
	return batch
}

// AddCustomTrait records an owner-authored trait, which starts directly in
// confirmed state.
func (e *Engine) AddCustomTrait(ctx context.Context, ownerID string, draft models.TraitDraft) (*models.TraitCandidate, error) {
	if draft.Name == "" {
		return nil, errors.InvalidInput("trait name is required")
	}
	if draft.Category == "" {
		return nil, errors.InvalidInput("trait category is required")
	}
	if !models.ValidCategory(draft.Category) {
		return nil, errors.Newf(errors.KindInvalidInput, "unknown trait category %q", draft.Category)
	}

	now := time.Now().UTC()
	trait := &models.TraitCandidate{
		CandidateID:     uuid.New().String(),
		OwnerID:         ownerID,
		Name:            draft.Name,
		Description:     draft.Description,
		Category:        draft.Category,
		Confidence:      1.0,
		OriginAnalyzers: []string{"user"},
		Status:          models.StatusConfirmed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	owner := ownerNodeKey(ownerID)
	key := traitNodeKey(trait.CandidateID)
	ts := now.Format(time.RFC3339)
	batch := graph.Batch{
		Nodes: []graph.MergeNode{
			{Key: owner, Props: map[string]any{"last_refined_at": ts}},
			{Key: key, Props: map[string]any{
				"name":        trait.Name,
				"description": trait.Description,
				"category":    string(trait.Category),
				"confidence":  trait.Confidence,
				"status":      graph.TraitStatusActive,
			}},
		},
		Edges: []graph.MergeEdge{{
			Type:  graph.EdgeHasTrait,
			From:  owner,
			To:    key,
			Props: map[string]any{"source": "user", "updated_at": ts},
		}},
	}
	if err := e.applyGraph(ctx, ownerID, batch); err != nil {
		return nil, err
	}

	if err := e.store.SaveCandidates(ctx, []*models.TraitCandidate{trait}); err != nil {
		return nil, errors.DependencyFailure(err, "candidate store")
	}

	entry := &models.RefinementLogEntry{
		EntryID:       uuid.New().String(),
		OwnerID:       ownerID,
		TargetTraitID: trait.CandidateID,
		Decision:      models.DecisionUserAdded,
		NewState:      models.StatusConfirmed,
		Timestamp:     now,
	}
	e.appendLog(ctx, entry)
	return trait, nil
}

// SetCommunicationStyle merges one StyleElement node and Owner edge per
// entry. Latest value wins; this operation keeps no history.
func (e *Engine) SetCommunicationStyle(ctx context.Context, ownerID string, style map[string]string) error {
	if len(style) == 0 {
		return errors.InvalidInput("style map is empty")
	}
	for element, value := range style {
		if element == "" || value == "" {
			return errors.InvalidInput("style elements and values must be non-empty")
		}
	}

	owner := ownerNodeKey(ownerID)
	ts := time.Now().UTC().Format(time.RFC3339)
	batch := graph.Batch{
		Nodes: []graph.MergeNode{{Key: owner, Props: map[string]any{"last_refined_at": ts}}},
	}
	for _, element := range sortedKeys(style) {
		key := graph.NodeKey{Label: graph.LabelStyleElement, KeyField: "element", KeyValue: element}
		batch.Nodes = append(batch.Nodes, graph.MergeNode{
			Key:   key,
			Props: map[string]any{"value": style[element], "updated_at": ts},
		})
		batch.Edges = append(batch.Edges, graph.MergeEdge{
			Type:  graph.EdgeHasStyle,
			From:  owner,
			To:    key,
			Props: map[string]any{"updated_at": ts},
		})
	}
	return e.applyGraph(ctx, ownerID, batch)
}

// SupersedeCandidate retires a candidate and mints a replacement that starts
// the review lifecycle over. The old candidate enters its terminal state.
func (e *Engine) SupersedeCandidate(ctx context.Context, ownerID, candidateID string, draft models.TraitDraft) (*models.TraitCandidate, error) {
	old, err := e.loadOwned(ctx, ownerID, candidateID)
	if err != nil {
		return nil, err
	}
	if old.Status == models.StatusSuperseded {
		return nil, errors.Newf(errors.KindInvalidInput, "candidate %s is already superseded", candidateID)
	}

	now := time.Now().UTC()
	replacement := &models.TraitCandidate{
		CandidateID:     uuid.New().String(),
		OwnerID:         ownerID,
		Name:            old.Name,
		Description:     old.Description,
		Category:        old.Category,
		Evidence:        old.Evidence,
		Confidence:      old.Confidence,
		OriginAnalyzers: old.OriginAnalyzers,
		Status:          models.StatusCandidate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if draft.Name != "" {
		replacement.Name = draft.Name
	}
	if draft.Description != "" {
		replacement.Description = draft.Description
	}
	if draft.Category != "" {
		if !models.ValidCategory(draft.Category) {
			return nil, errors.Newf(errors.KindInvalidInput, "unknown trait category %q", draft.Category)
		}
		replacement.Category = draft.Category
	}

	owner := ownerNodeKey(ownerID)
	oldKey := traitNodeKey(old.CandidateID)
	newKey := traitNodeKey(replacement.CandidateID)
	ts := now.Format(time.RFC3339)
	batch := graph.Batch{
		Nodes: []graph.MergeNode{
			{Key: oldKey, Props: map[string]any{"superseded_by": replacement.CandidateID, "superseded_at": ts}},
			{Key: newKey, Props: map[string]any{
				"name":        replacement.Name,
				"description": replacement.Description,
				"category":    string(replacement.Category),
				"confidence":  replacement.Confidence,
				"status":      graph.TraitStatusCandidate,
				"supersedes":  old.CandidateID,
			}},
		},
		Edges: []graph.MergeEdge{{
			Type:  graph.EdgeHasCandidateTrait,
			From:  owner,
			To:    newKey,
			Props: map[string]any{"source": "supersede", "strength": replacement.Confidence, "updated_at": ts},
		}},
	}
	if err := e.applyGraph(ctx, ownerID, batch); err != nil {
		return nil, err
	}

	if err := e.store.SaveCandidates(ctx, []*models.TraitCandidate{replacement}); err != nil {
		return nil, errors.DependencyFailure(err, "candidate store")
	}
	if err := e.store.MarkSuperseded(ctx, old.CandidateID, replacement.CandidateID); err != nil {
		return nil, e.mapStoreErr(err, old.CandidateID, old.Status)
	}

	entry := &models.RefinementLogEntry{
		EntryID:           uuid.New().String(),
		OwnerID:           ownerID,
		TargetTraitID:     replacement.CandidateID,
		OriginCandidateID: old.CandidateID,
		Decision:          models.DecisionSuperseded,
		PriorState:        old.Status,
		NewState:          models.StatusSuperseded,
		Timestamp:         now,
	}
	e.appendLog(ctx, entry)
	return replacement, nil
}

// RepairCandidate re-derives the candidate-store status from the refinement
// log. It heals the case where the graph and log writes landed but the
// candidate-store transition between them was lost.
func (e *Engine) RepairCandidate(ctx context.Context, ownerID, candidateID string) (bool, error) {
	candidate, err := e.loadOwned(ctx, ownerID, candidateID)
	if err != nil {
		return false, err
	}

	entries, err := e.store.ListLogEntries(ctx, ownerID, candidateID)
	if err != nil {
		return false, errors.DependencyFailure(err, "refinement log")
	}
	if len(entries) == 0 {
		return false, nil
	}

	latest := entries[0]
	for _, entry := range entries[1:] {
		if entry.Timestamp.After(latest.Timestamp) {
			latest = entry
		}
	}
	if candidate.Status == latest.NewState {
		return false, nil
	}

	if err := e.store.CompareAndSwapStatus(ctx, candidateID, candidate.Status, latest.NewState); err != nil {
		return false, e.mapStoreErr(err, candidateID, candidate.Status)
	}
	e.logger.WithFields(logrus.Fields{
		"candidate_id": candidateID,
		"from":         candidate.Status,
		"to":           latest.NewState,
	}).Warn("Candidate status repaired from refinement log")
	return true, nil
}

func validateEdits(decision models.RefinementDecision, edits models.TraitEdits) error {
	if decision == models.DecisionConfirmedModified {
		if edits.Empty() {
			return errors.InvalidInput("modified confirmation requires at least one edit")
		}
		if edits.Category != "" && !models.ValidCategory(edits.Category) {
			return errors.Newf(errors.KindInvalidInput, "unknown trait category %q", edits.Category)
		}
		return nil
	}
	if !edits.Empty() {
		return errors.Newf(errors.KindInvalidInput, "edits are only accepted with decision %q", models.DecisionConfirmedModified)
	}
	return nil
}

// loadOwned fetches a candidate and enforces ownership
func (e *Engine) loadOwned(ctx context.Context, ownerID, candidateID string) (*models.TraitCandidate, error) {
	candidate, err := e.store.GetCandidate(ctx, candidateID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("candidate", candidateID)
		}
		return nil, errors.DependencyFailure(err, "candidate store")
	}
	if candidate.OwnerID != ownerID {
		return nil, errors.Forbidden(ownerID)
	}
	return candidate, nil
}

// applyGraph applies one batch synchronously. Failures surface to the caller
// unretried: these are user-synchronous operations.
func (e *Engine) applyGraph(ctx context.Context, ownerID string, batch graph.Batch) error {
	result, err := e.graph.ApplyBatch(ctx, ownerID, batch)
	if err != nil {
		return errors.DependencyFailure(err, "graph store")
	}
	if len(result.FailedOps) > 0 {
		return errors.Newf(errors.KindDependencyFailure, "graph store applied %d of %d operations", result.Applied, batch.Size())
	}
	return nil
}

// appendLog writes the authoritative log entry and mirrors it. The graph and
// store writes have already landed when this runs, so a log failure is
// reported loudly but does not roll the operation back.
func (e *Engine) appendLog(ctx context.Context, entry *models.RefinementLogEntry) {
	if err := e.store.AppendLogEntry(ctx, entry); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"entry_id":  entry.EntryID,
			"trait_id":  entry.TargetTraitID,
			"decision":  entry.Decision,
			"new_state": entry.NewState,
		}).Error("ALERT: refinement log append failed")
	}
	if e.mirror != nil {
		if err := e.mirror.Record(entry); err != nil {
			e.logger.WithError(err).Warn("Decision mirror write failed")
		}
	}
}

func (e *Engine) mapStoreErr(err error, candidateID string, expected models.CandidateStatus) error {
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return errors.NotFound("candidate", candidateID)
	case stderrors.Is(err, storage.ErrConflict):
		return errors.StaleStateConflict(candidateID, string(expected), "concurrently changed")
	}
	return errors.DependencyFailure(err, "candidate store")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
