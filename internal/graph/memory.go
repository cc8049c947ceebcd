package graph

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements Backend in memory with the same merge semantics as
// the Neo4j backend. Used in tests and single-process local runs.
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[string]map[string]any // scopedNodeKey -> props
	edges map[string]map[string]any // scopedEdgeKey -> props
}

// NewMemoryStore creates an empty in-memory graph
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]map[string]any),
		edges: make(map[string]map[string]any),
	}
}

func scopedNodeKey(ownerScope string, key NodeKey) string {
	return fmt.Sprintf("%s|%s|%s|%s", ownerScope, key.Label, key.KeyField, key.KeyValue)
}

func scopedEdgeKey(ownerScope string, e MergeEdge) string {
	return fmt.Sprintf("%s|%s|%s|%s", ownerScope, e.Type, scopedNodeKey(ownerScope, e.From), scopedNodeKey(ownerScope, e.To))
}

// ApplyBatch merges all operations; in-memory application is atomic
func (s *MemoryStore) ApplyBatch(_ context.Context, ownerScope string, batch Batch) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range batch.Nodes {
		key := scopedNodeKey(ownerScope, op.Key)
		props, ok := s.nodes[key]
		if !ok {
			props = map[string]any{
				op.Key.KeyField: op.Key.KeyValue,
				"owner_scope":   ownerScope,
			}
			s.nodes[key] = props
		}
		for _, k := range sortedPropKeys(op.Props) {
			props[k] = op.Props[k]
		}
		for _, k := range sortedPropKeys(op.Increments) {
			prev, _ := props[k].(int64)
			props[k] = prev + op.Increments[k]
		}
	}

	for _, op := range batch.Edges {
		// Endpoints are merged like the Cypher backend does
		for _, nk := range []NodeKey{op.From, op.To} {
			key := scopedNodeKey(ownerScope, nk)
			if _, ok := s.nodes[key]; !ok {
				s.nodes[key] = map[string]any{
					nk.KeyField:   nk.KeyValue,
					"owner_scope": ownerScope,
				}
			}
		}
		key := scopedEdgeKey(ownerScope, op)
		props, ok := s.edges[key]
		if !ok {
			props = make(map[string]any)
			s.edges[key] = props
		}
		for _, k := range sortedPropKeys(op.Props) {
			props[k] = op.Props[k]
		}
	}

	return Result{Applied: batch.Size()}, nil
}

// GetNodeProps returns a copy of the node's properties, or nil when absent
func (s *MemoryStore) GetNodeProps(_ context.Context, ownerScope string, key NodeKey) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, ok := s.nodes[scopedNodeKey(ownerScope, key)]
	if !ok {
		return nil, nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, nil
}

// GetEdgeProps returns a copy of an edge's properties, or nil when absent
func (s *MemoryStore) GetEdgeProps(ownerScope string, edgeType string, from, to NodeKey) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, ok := s.edges[scopedEdgeKey(ownerScope, MergeEdge{Type: edgeType, From: from, To: to})]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// NodeCount reports how many nodes exist (all scopes)
func (s *MemoryStore) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// EdgeCount reports how many edges exist (all scopes)
func (s *MemoryStore) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges)
}

// Close is a no-op for the memory backend
func (s *MemoryStore) Close(context.Context) error {
	return nil
}
