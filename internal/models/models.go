package models

import (
	"time"
)

// Modality identifies the kind of source material in a data package
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
	ModalityImage Modality = "image"
)

// PackageStatus tracks the orchestration lifecycle of a data package
type PackageStatus string

const (
	PackagePending    PackageStatus = "pending"
	PackageProcessing PackageStatus = "processing"
	PackageProcessed  PackageStatus = "processed"
	PackageErrored    PackageStatus = "errored"
)

// DataPackageRef is the immutable descriptor of one consented data unit.
// Created by the ingestion collaborator; only the status field is mutated,
// and only by the orchestrator.
type DataPackageRef struct {
	PackageID   string        `json:"package_id" db:"package_id"`
	OwnerID     string        `json:"owner_id" db:"owner_id"`
	ConsentRef  string        `json:"consent_ref" db:"consent_ref"`
	LocationRef string        `json:"location_ref" db:"location_ref"`
	Modality    Modality      `json:"modality" db:"modality"`
	Status      PackageStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// FeatureOutcome describes how an analyzer run ended
type FeatureOutcome string

const (
	FeatureSuccess FeatureOutcome = "success"
	FeaturePartial FeatureOutcome = "partial"
	FeatureFailure FeatureOutcome = "failure"
)

// RawFeatureRecord is the write-once output of one analyzer run
type RawFeatureRecord struct {
	FeatureSetID string         `json:"feature_set_id" db:"feature_set_id"`
	OwnerID      string         `json:"owner_id" db:"owner_id"`
	PackageID    string         `json:"package_id" db:"package_id"`
	Modality     Modality       `json:"modality" db:"modality"`
	AnalyzerID   string         `json:"analyzer_id" db:"analyzer_id"`
	Payload      []byte         `json:"payload" db:"payload"`
	ProducedAt   time.Time      `json:"produced_at" db:"produced_at"`
	Outcome      FeatureOutcome `json:"outcome" db:"outcome"`
}

// TraitCategory is the closed set of trait classifications
type TraitCategory string

const (
	CategoryLinguisticStyle    TraitCategory = "LinguisticStyle"
	CategoryEmotionalPattern   TraitCategory = "EmotionalPattern"
	CategoryKnowledgeDomain    TraitCategory = "KnowledgeDomain"
	CategoryStance             TraitCategory = "Stance"
	CategoryCommunicationStyle TraitCategory = "CommunicationStyle"
	CategoryBehavioralPattern  TraitCategory = "BehavioralPattern"
	CategoryInterest           TraitCategory = "Interest"
	CategorySkill              TraitCategory = "Skill"
	CategoryOther              TraitCategory = "Other"
)

// ValidCategory reports whether c belongs to the closed category set
func ValidCategory(c TraitCategory) bool {
	switch c {
	case CategoryLinguisticStyle, CategoryEmotionalPattern, CategoryKnowledgeDomain,
		CategoryStance, CategoryCommunicationStyle, CategoryBehavioralPattern,
		CategoryInterest, CategorySkill, CategoryOther:
		return true
	}
	return false
}

// CandidateStatus tracks the review lifecycle of a trait candidate.
// Transitions are monotonic: candidate is initial-only, superseded is final.
// confirmed/modified/rejected form a re-enterable triangle.
type CandidateStatus string

const (
	StatusCandidate          CandidateStatus = "candidate"
	StatusAwaitingRefinement CandidateStatus = "awaiting_refinement"
	StatusConfirmed          CandidateStatus = "confirmed"
	StatusModified           CandidateStatus = "modified"
	StatusRejected           CandidateStatus = "rejected"
	StatusSuperseded         CandidateStatus = "superseded"
)

// EvidenceRef points at the source data segment supporting a trait
type EvidenceRef struct {
	PackageID string `json:"package_id"`
	Locator   string `json:"locator"`
}

// Key returns the natural key used for idempotent Evidence node merges
func (e EvidenceRef) Key() string {
	return e.PackageID + "#" + e.Locator
}

// TraitCandidate is an AI-proposed trait pending human review
type TraitCandidate struct {
	CandidateID     string          `json:"candidate_id" db:"candidate_id"`
	OwnerID         string          `json:"owner_id" db:"owner_id"`
	Name            string          `json:"name" db:"name"`
	Description     string          `json:"description" db:"description"`
	Category        TraitCategory   `json:"category" db:"category"`
	Evidence        []EvidenceRef   `json:"evidence"`
	Confidence      float64         `json:"confidence" db:"confidence"`
	OriginAnalyzers []string        `json:"origin_analyzers"`
	Status          CandidateStatus `json:"status" db:"status"`
	SupersededBy    string          `json:"superseded_by,omitempty" db:"superseded_by"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// RefinementDecision is the reviewer action recorded in the log
type RefinementDecision string

const (
	DecisionConfirmedAsIs     RefinementDecision = "confirmed_asis"
	DecisionConfirmedModified RefinementDecision = "confirmed_modified"
	DecisionRejected          RefinementDecision = "rejected"
	DecisionUserAdded         RefinementDecision = "user_added"
	DecisionSuperseded        RefinementDecision = "superseded"
)

// RefinementLogEntry is the append-only audit record of one reviewer decision.
// Never mutated or deleted.
type RefinementLogEntry struct {
	EntryID           string             `json:"entry_id" db:"entry_id"`
	OwnerID           string             `json:"owner_id" db:"owner_id"`
	TargetTraitID     string             `json:"target_trait_id" db:"target_trait_id"`
	OriginCandidateID string             `json:"origin_candidate_id,omitempty" db:"origin_candidate_id"`
	Decision          RefinementDecision `json:"decision" db:"decision"`
	PriorState        CandidateStatus    `json:"prior_state" db:"prior_state"`
	NewState          CandidateStatus    `json:"new_state" db:"new_state"`
	Timestamp         time.Time          `json:"timestamp" db:"timestamp"`
}

// TraitEdits carries reviewer-supplied overrides for a modified confirmation
type TraitEdits struct {
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Category    TraitCategory `json:"category,omitempty"`
}

// Empty reports whether no field is set
func (e TraitEdits) Empty() bool {
	return e.Name == "" && e.Description == "" && e.Category == ""
}

// TraitDraft is the input for an owner-authored trait
type TraitDraft struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    TraitCategory `json:"category"`
}
