package storage

import (
	"context"
	"errors"

	"github.com/personaforge/personaforge/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store persists the three logical stores owned by the engine: the
// append-only Feature Store, the Candidate Store (mutable status, immutable
// otherwise), and the append-only refinement log. Package descriptors are
// tracked alongside for the orchestrator's idempotency short-circuit.
type Store interface {
	// Package operations
	SavePackage(ctx context.Context, pkg *models.DataPackageRef) error
	GetPackage(ctx context.Context, packageID string) (*models.DataPackageRef, error)
	UpdatePackageStatus(ctx context.Context, packageID string, status models.PackageStatus) error

	// Feature operations (append-only)
	SaveFeatures(ctx context.Context, features []*models.RawFeatureRecord) error
	GetFeatures(ctx context.Context, packageID string) ([]*models.RawFeatureRecord, error)

	// Candidate operations
	SaveCandidates(ctx context.Context, candidates []*models.TraitCandidate) error
	GetCandidate(ctx context.Context, candidateID string) (*models.TraitCandidate, error)
	ListCandidates(ctx context.Context, ownerID string) ([]*models.TraitCandidate, error)

	// CompareAndSwapStatus transitions a candidate's status only when the
	// stored status equals expected; returns ErrConflict otherwise. This is
	// the optimistic concurrency primitive behind ReviewCandidate.
	CompareAndSwapStatus(ctx context.Context, candidateID string, expected, next models.CandidateStatus) error

	// MarkSuperseded sets status=superseded and records the successor id
	MarkSuperseded(ctx context.Context, candidateID, supersededBy string) error

	// Refinement log operations (append-only)
	AppendLogEntry(ctx context.Context, entry *models.RefinementLogEntry) error
	ListLogEntries(ctx context.Context, ownerID, targetTraitID string) ([]*models.RefinementLogEntry, error)

	Close() error
}
