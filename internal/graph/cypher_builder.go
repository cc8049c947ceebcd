package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// cypherBuilder builds parameterized Cypher for merge operations.
// All values travel as parameters; labels, edge types, and property keys are
// validated against an identifier allow-list to prevent Cypher injection.
type cypherBuilder struct {
	params  map[string]any
	counter int
}

func newCypherBuilder() *cypherBuilder {
	return &cypherBuilder{params: make(map[string]any)}
}

func (b *cypherBuilder) addParam(value any) string {
	name := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[name] = value
	return "$" + name
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// buildMergeNode renders one MergeNode into a MERGE statement.
// The owner scope is part of the merge key, so natural keys are unique per
// owner. Increments use coalesce so first-merge and re-merge both work.
func (b *cypherBuilder) buildMergeNode(ownerScope string, op MergeNode) (string, error) {
	if !isValidIdentifier(op.Key.Label) {
		return "", fmt.Errorf("invalid node label: %s", op.Key.Label)
	}
	if !isValidIdentifier(op.Key.KeyField) {
		return "", fmt.Errorf("invalid key field: %s", op.Key.KeyField)
	}

	keyParam := b.addParam(op.Key.KeyValue)
	ownerParam := b.addParam(ownerScope)

	var setClauses []string
	for _, key := range sortedPropKeys(op.Props) {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid property key: %s", key)
		}
		setClauses = append(setClauses, fmt.Sprintf("n.%s = %s", key, b.addParam(op.Props[key])))
	}
	for _, key := range sortedPropKeys(op.Increments) {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid increment key: %s", key)
		}
		setClauses = append(setClauses, fmt.Sprintf("n.%s = coalesce(n.%s, 0) + %s", key, key, b.addParam(op.Increments[key])))
	}

	query := fmt.Sprintf("MERGE (n:%s {%s: %s, owner_scope: %s})",
		op.Key.Label, op.Key.KeyField, keyParam, ownerParam)
	if len(setClauses) > 0 {
		query += " SET " + strings.Join(setClauses, ", ")
	}
	return query, nil
}

// buildMergeEdge renders one MergeEdge. Endpoints are merged too, so a batch
// replayed out of order still converges; MERGE on the relationship guarantees
// at most one edge of a type per ordered pair.
func (b *cypherBuilder) buildMergeEdge(ownerScope string, op MergeEdge) (string, error) {
	for _, id := range []string{op.Type, op.From.Label, op.From.KeyField, op.To.Label, op.To.KeyField} {
		if !isValidIdentifier(id) {
			return "", fmt.Errorf("invalid identifier: %s", id)
		}
	}

	fromParam := b.addParam(op.From.KeyValue)
	toParam := b.addParam(op.To.KeyValue)
	ownerParam := b.addParam(ownerScope)

	var setClauses []string
	for _, key := range sortedPropKeys(op.Props) {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid edge property key: %s", key)
		}
		setClauses = append(setClauses, fmt.Sprintf("r.%s = %s", key, b.addParam(op.Props[key])))
	}

	query := fmt.Sprintf(
		"MERGE (from:%s {%s: %s, owner_scope: %s}) MERGE (to:%s {%s: %s, owner_scope: %s}) MERGE (from)-[r:%s]->(to)",
		op.From.Label, op.From.KeyField, fromParam, ownerParam,
		op.To.Label, op.To.KeyField, toParam, ownerParam,
		op.Type,
	)
	if len(setClauses) > 0 {
		query += " SET " + strings.Join(setClauses, ", ")
	}
	return query, nil
}
