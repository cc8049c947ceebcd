package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/personaforge/personaforge/internal/models"
)

// Request carries one stage's input to an analyzer
type Request struct {
	OwnerID   string
	PackageID string
	Modality  models.Modality
	StageID   string
	Content   []byte
	Config    map[string]string
}

// Result is the raw output of one analyzer run. Payload is an opaque
// structured blob persisted verbatim to the feature store; derivation
// functions interpret it.
type Result struct {
	AnalyzerID string
	Payload    json.RawMessage
	Outcome    models.FeatureOutcome
}

// Adapter is the analyzer capability: one concrete implementation per
// (modality, stage) pair, registered in a Registry.
type Adapter interface {
	// ID identifies the concrete analyzer (e.g. "openai:gpt-4o-mini")
	ID() string

	Analyze(ctx context.Context, req Request) (*Result, error)
}

// registryKey identifies one stage slot
type registryKey struct {
	Modality models.Modality
	StageID  string
}

// Registry maps (modality, stageID) to a concrete Adapter. Polymorphism over
// analyzers is a lookup table, not an inheritance hierarchy.
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Adapter)}
}

// Register binds an adapter to a stage slot, replacing any previous binding
func (r *Registry) Register(modality models.Modality, stageID string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey{Modality: modality, StageID: stageID}] = adapter
}

// Lookup returns the adapter for a stage slot
func (r *Registry) Lookup(modality models.Modality, stageID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[registryKey{Modality: modality, StageID: stageID}]
	if !ok {
		return nil, fmt.Errorf("no analyzer registered for %s/%s", modality, stageID)
	}
	return adapter, nil
}

// StaticAdapter returns a canned payload, used in tests
type StaticAdapter struct {
	AnalyzerID string
	Response   json.RawMessage
	Err        error
}

func (a *StaticAdapter) ID() string { return a.AnalyzerID }

func (a *StaticAdapter) Analyze(ctx context.Context, _ Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.Err != nil {
		return nil, a.Err
	}
	return &Result{
		AnalyzerID: a.AnalyzerID,
		Payload:    a.Response,
		Outcome:    models.FeatureSuccess,
	}, nil
}
