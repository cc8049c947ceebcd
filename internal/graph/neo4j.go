package graph

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// mutexStripes bounds the number of per-owner merge locks
const mutexStripes = 64

// Neo4jStore implements Backend against Neo4j using parameterized Cypher
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	locks    [mutexStripes]sync.Mutex
	logger   *slog.Logger
}

// NewNeo4jStore connects to Neo4j and verifies connectivity
func NewNeo4jStore(ctx context.Context, uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	return &Neo4jStore{
		driver:   driver,
		database: database,
		logger:   slog.Default().With("component", "graph"),
	}, nil
}

// EnsureConstraints creates uniqueness constraints for the natural keys
func (s *Neo4jStore) EnsureConstraints(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT owner_unique IF NOT EXISTS
FOR (n:Owner) REQUIRE (n.owner_id, n.owner_scope) IS UNIQUE`,
		`CREATE CONSTRAINT trait_unique IF NOT EXISTS
FOR (n:Trait) REQUIRE (n.trait_id, n.owner_scope) IS UNIQUE`,
		`CREATE CONSTRAINT concept_unique IF NOT EXISTS
FOR (n:Concept) REQUIRE (n.name_normalized, n.owner_scope) IS UNIQUE`,
		`CREATE CONSTRAINT evidence_unique IF NOT EXISTS
FOR (n:Evidence) REQUIRE (n.evidence_key, n.owner_scope) IS UNIQUE`,
		`CREATE CONSTRAINT style_unique IF NOT EXISTS
FOR (n:StyleElement) REQUIRE (n.element, n.owner_scope) IS UNIQUE`,
	}

	for _, stmt := range statements {
		if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		}); err != nil {
			return fmt.Errorf("ensuring constraints: %w", err)
		}
	}
	return nil
}

func (s *Neo4jStore) ownerLock(ownerScope string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(ownerScope))
	return &s.locks[h.Sum32()%mutexStripes]
}

// ApplyBatch applies all operations inside one write transaction. If the
// transaction fails it falls back to per-operation application so the caller
// learns exactly which merges are missing; merges are idempotent, so the
// partial state left behind is safe to re-apply.
func (s *Neo4jStore) ApplyBatch(ctx context.Context, ownerScope string, batch Batch) (Result, error) {
	if batch.Empty() {
		return Result{}, nil
	}

	// Increment merges are not commutative with themselves; serialize
	// batches for the same owner so concurrent stages cannot lose counter
	// updates.
	lock := s.ownerLock(ownerScope)
	lock.Lock()
	defer lock.Unlock()

	queries, err := s.renderBatch(ownerScope, batch)
	if err != nil {
		return Result{}, err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, txErr := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i, q := range queries {
			if _, err := tx.Run(ctx, q.query, q.params); err != nil {
				return nil, fmt.Errorf("batch operation %d (%s): %w", i, q.desc, err)
			}
		}
		return nil, nil
	})
	if txErr == nil {
		return Result{Applied: len(queries)}, nil
	}

	s.logger.Warn("graph batch transaction failed, applying operations individually",
		"owner_scope", ownerScope, "ops", len(queries), "error", txErr)

	result := Result{}
	for _, q := range queries {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, q.query, q.params)
			return nil, err
		})
		if err != nil {
			result.FailedOps = append(result.FailedOps, FailedOp{
				Description: q.desc,
				Node:        q.node,
				Edge:        q.edge,
				Err:         err,
			})
			continue
		}
		result.Applied++
	}

	if len(result.FailedOps) == len(queries) {
		return result, fmt.Errorf("graph batch failed entirely: %w", txErr)
	}
	return result, nil
}

type renderedQuery struct {
	query  string
	params map[string]any
	desc   string
	node   *MergeNode
	edge   *MergeEdge
}

func (s *Neo4jStore) renderBatch(ownerScope string, batch Batch) ([]renderedQuery, error) {
	queries := make([]renderedQuery, 0, batch.Size())

	for _, node := range batch.Nodes {
		b := newCypherBuilder()
		q, err := b.buildMergeNode(ownerScope, node)
		if err != nil {
			return nil, err
		}
		queries = append(queries, renderedQuery{
			query:  q,
			params: b.params,
			desc:   "merge node " + node.Key.String(),
			node:   &node,
		})
	}
	for _, edge := range batch.Edges {
		b := newCypherBuilder()
		q, err := b.buildMergeEdge(ownerScope, edge)
		if err != nil {
			return nil, err
		}
		queries = append(queries, renderedQuery{
			query:  q,
			params: b.params,
			desc:   fmt.Sprintf("merge edge %s %s->%s", edge.Type, edge.From, edge.To),
			edge:   &edge,
		})
	}
	return queries, nil
}

// GetNodeProps reads one node's properties by natural key
func (s *Neo4jStore) GetNodeProps(ctx context.Context, ownerScope string, key NodeKey) (map[string]any, error) {
	if !isValidIdentifier(key.Label) || !isValidIdentifier(key.KeyField) {
		return nil, fmt.Errorf("invalid node key: %s", key)
	}

	query := fmt.Sprintf("MATCH (n:%s {%s: $key, owner_scope: $owner}) RETURN properties(n) AS props",
		key.Label, key.KeyField)

	result, err := neo4j.ExecuteQuery(ctx, s.driver, query,
		map[string]any{"key": key.KeyValue, "owner": ownerScope},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("node lookup failed: %w", err)
	}

	if len(result.Records) == 0 {
		return nil, nil
	}
	props, ok := result.Records[0].Get("props")
	if !ok {
		return nil, nil
	}
	m, ok := props.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected props type %T", props)
	}
	return m, nil
}

// Close closes the driver connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
