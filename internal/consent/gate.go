package consent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Decision is the outcome of a capability check
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// Gate checks whether an owner has granted a capability scope.
// Scopes are strings like "analyze:text:sentiment".
type Gate interface {
	Check(ctx context.Context, ownerID, scope string) (Decision, error)
}

// HTTPGate calls an external consent service
type HTTPGate struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGate creates a gate backed by the consent service at endpoint
func NewHTTPGate(endpoint string) *HTTPGate {
	return &HTTPGate{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type checkRequest struct {
	OwnerID string `json:"owner_id"`
	Scope   string `json:"scope"`
}

// Check posts a scope check to the consent service
func (g *HTTPGate) Check(ctx context.Context, ownerID, scope string) (Decision, error) {
	body, err := json.Marshal(checkRequest{OwnerID: ownerID, Scope: scope})
	if err != nil {
		return Decision{}, fmt.Errorf("marshal consent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("build consent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("consent service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("consent service returned %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("decode consent response: %w", err)
	}
	return decision, nil
}

// StaticGate is an in-memory gate keyed by owner and scope, used for tests
// and single-tenant local runs where consent is configured up front.
type StaticGate struct {
	mu     sync.RWMutex
	grants map[string]map[string]bool // ownerID -> scope -> granted
}

// NewStaticGate creates an empty static gate; all checks are denied until granted
func NewStaticGate() *StaticGate {
	return &StaticGate{grants: make(map[string]map[string]bool)}
}

// Grant allows a scope for an owner
func (g *StaticGate) Grant(ownerID string, scopes ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grants[ownerID] == nil {
		g.grants[ownerID] = make(map[string]bool)
	}
	for _, s := range scopes {
		g.grants[ownerID][s] = true
	}
}

// Revoke removes a previously granted scope
func (g *StaticGate) Revoke(ownerID, scope string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grants[ownerID] != nil {
		delete(g.grants[ownerID], scope)
	}
}

// Check reports the configured grant state
func (g *StaticGate) Check(_ context.Context, ownerID, scope string) (Decision, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.grants[ownerID][scope] {
		return Decision{Granted: true}, nil
	}
	return Decision{Granted: false, Reason: "scope not granted"}, nil
}
