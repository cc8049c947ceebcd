package storage

import (
	"context"
	"sync"
	"time"

	"github.com/personaforge/personaforge/internal/models"
)

// MemoryStore implements Store in memory, used in tests
type MemoryStore struct {
	mu         sync.RWMutex
	packages   map[string]*models.DataPackageRef
	features   map[string]*models.RawFeatureRecord
	candidates map[string]*models.TraitCandidate
	log        []*models.RefinementLogEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages:   make(map[string]*models.DataPackageRef),
		features:   make(map[string]*models.RawFeatureRecord),
		candidates: make(map[string]*models.TraitCandidate),
	}
}

func (s *MemoryStore) SavePackage(_ context.Context, pkg *models.DataPackageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.packages[pkg.PackageID]; exists {
		return nil
	}
	cp := *pkg
	s.packages[pkg.PackageID] = &cp
	return nil
}

func (s *MemoryStore) GetPackage(_ context.Context, packageID string) (*models.DataPackageRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packages[packageID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pkg
	return &cp, nil
}

func (s *MemoryStore) UpdatePackageStatus(_ context.Context, packageID string, status models.PackageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg, ok := s.packages[packageID]
	if !ok {
		return ErrNotFound
	}
	pkg.Status = status
	pkg.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveFeatures(_ context.Context, features []*models.RawFeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range features {
		if _, exists := s.features[f.FeatureSetID]; exists {
			continue
		}
		cp := *f
		s.features[f.FeatureSetID] = &cp
	}
	return nil
}

func (s *MemoryStore) GetFeatures(_ context.Context, packageID string) ([]*models.RawFeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RawFeatureRecord
	for _, f := range s.features {
		if f.PackageID == packageID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveCandidates(_ context.Context, candidates []*models.TraitCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candidates {
		if _, exists := s.candidates[c.CandidateID]; exists {
			continue
		}
		cp := *c
		s.candidates[c.CandidateID] = &cp
	}
	return nil
}

func (s *MemoryStore) GetCandidate(_ context.Context, candidateID string) (*models.TraitCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCandidates(_ context.Context, ownerID string) ([]*models.TraitCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TraitCandidate
	for _, c := range s.candidates {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CompareAndSwapStatus(_ context.Context, candidateID string, expected, next models.CandidateStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != expected {
		return ErrConflict
	}
	c.Status = next
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkSuperseded(_ context.Context, candidateID, supersededBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return ErrNotFound
	}
	c.Status = models.StatusSuperseded
	c.SupersededBy = supersededBy
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendLogEntry(_ context.Context, entry *models.RefinementLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.log = append(s.log, &cp)
	return nil
}

func (s *MemoryStore) ListLogEntries(_ context.Context, ownerID, targetTraitID string) ([]*models.RefinementLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RefinementLogEntry
	for _, e := range s.log {
		if e.OwnerID != ownerID {
			continue
		}
		if targetTraitID != "" && e.TargetTraitID != targetTraitID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
