package graph

import (
	"context"
	"fmt"
	"sort"
)

// Node labels in the persona knowledge graph
const (
	LabelOwner        = "Owner"
	LabelTrait        = "Trait"
	LabelConcept      = "Concept"
	LabelEmotion      = "Emotion"
	LabelEvidence     = "Evidence"
	LabelStyleElement = "StyleElement"
)

// Edge types in the persona knowledge graph
const (
	EdgeHasCandidateTrait = "HAS_CANDIDATE_TRAIT"
	EdgeHasTrait          = "HAS_TRAIT"
	EdgeEvidencedBy       = "EVIDENCED_BY"
	EdgeMentionsConcept   = "MENTIONS_CONCEPT"
	EdgeHasStyle          = "HAS_STYLE"
)

// Graph-side trait status values, distinct from candidate-store status
const (
	TraitStatusCandidate = "candidate"
	TraitStatusActive    = "active"
	TraitStatusRejected  = "rejected_by_user"
)

// NodeKey is the natural key of a node: exactly one node exists per
// (label, key field, key value) within an owner scope.
type NodeKey struct {
	Label    string
	KeyField string
	KeyValue string
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%s{%s=%s}", k.Label, k.KeyField, k.KeyValue)
}

// MergeNode creates the node if absent, else updates the supplied
// properties. Increments are applied additively on every merge, which is
// how counters like concept frequency accumulate across packages.
type MergeNode struct {
	Key        NodeKey
	Props      map[string]any
	Increments map[string]int64
}

// MergeEdge creates the edge if absent, else updates its properties.
// At most one edge of a given type exists between an ordered node pair.
type MergeEdge struct {
	Type  string
	From  NodeKey
	To    NodeKey
	Props map[string]any
}

// Batch is an ordered set of merge operations applied in one owner scope
type Batch struct {
	Nodes []MergeNode
	Edges []MergeEdge
}

// Empty reports whether the batch has no operations
func (b Batch) Empty() bool {
	return len(b.Nodes) == 0 && len(b.Edges) == 0
}

// Size returns the total operation count
func (b Batch) Size() int {
	return len(b.Nodes) + len(b.Edges)
}

// FailedOp records one operation that could not be applied. Exactly one of
// Node and Edge is set, so the retry layer can rebuild a batch holding only
// the operations that still need to run.
type FailedOp struct {
	Description string
	Node        *MergeNode
	Edge        *MergeEdge
	Err         error
}

// Result reports the outcome of an ApplyBatch call
type Result struct {
	Applied   int
	FailedOps []FailedOp
}

// FailedBatch rebuilds a batch containing only the failed operations
func (r Result) FailedBatch() Batch {
	var b Batch
	for _, op := range r.FailedOps {
		if op.Node != nil {
			b.Nodes = append(b.Nodes, *op.Node)
		}
		if op.Edge != nil {
			b.Edges = append(b.Edges, *op.Edge)
		}
	}
	return b
}

// Backend is the single mutation surface for the persona knowledge graph.
// Property merges are idempotent and commutative, so re-applying them after
// partial failure is safe. Increments are not: re-running an already applied
// increment inflates the counter, which is why retries must re-submit only
// the failed operations (see ApplyBatchWithRetry).
type Backend interface {
	ApplyBatch(ctx context.Context, ownerScope string, batch Batch) (Result, error)

	// GetNodeProps reads a node's properties by natural key; returns
	// (nil, nil) when the node does not exist.
	GetNodeProps(ctx context.Context, ownerScope string, key NodeKey) (map[string]any, error)

	Close(ctx context.Context) error
}

// sortedPropKeys returns map keys in stable order, so generated queries and
// memory-backend application are deterministic.
func sortedPropKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
