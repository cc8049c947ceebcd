package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/personaforge/personaforge/internal/models"
)

// Mirror appends every refinement decision to a local JSONL file, one file
// per day. The relational refinement log is authoritative; the mirror exists
// for operational forensics when the store itself is the thing under
// investigation.
type Mirror struct {
	dir string
	mu  sync.Mutex
}

// NewMirror creates a mirror writing under dir
func NewMirror(dir string) *Mirror {
	return &Mirror{dir: dir}
}

// decisionEvent is the JSONL record shape
type decisionEvent struct {
	Timestamp         time.Time                 `json:"timestamp"`
	OwnerID           string                    `json:"owner_id"`
	TargetTraitID     string                    `json:"target_trait_id"`
	OriginCandidateID string                    `json:"origin_candidate_id,omitempty"`
	Decision          models.RefinementDecision `json:"decision"`
	PriorState        models.CandidateStatus    `json:"prior_state"`
	NewState          models.CandidateStatus    `json:"new_state"`
	EntryID           string                    `json:"entry_id"`
}

// Record appends one decision. Failures here never abort the refinement
// operation; the caller logs and moves on.
func (m *Mirror) Record(entry *models.RefinementLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}

	name := fmt.Sprintf("decisions_%s.jsonl", entry.Timestamp.UTC().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(m.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	event := decisionEvent{
		Timestamp:         entry.Timestamp,
		OwnerID:           entry.OwnerID,
		TargetTraitID:     entry.TargetTraitID,
		OriginCandidateID: entry.OriginCandidateID,
		Decision:          entry.Decision,
		PriorState:        entry.PriorState,
		NewState:          entry.NewState,
		EntryID:           entry.EntryID,
	}
	return json.NewEncoder(f).Encode(event)
}
