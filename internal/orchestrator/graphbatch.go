package orchestrator

import (
	"sort"
	"time"

	"github.com/personaforge/personaforge/internal/graph"
	"github.com/personaforge/personaforge/internal/models"
)

// ownerKey returns the Owner node's natural key
func ownerKey(ownerID string) graph.NodeKey {
	return graph.NodeKey{Label: graph.LabelOwner, KeyField: "owner_id", KeyValue: ownerID}
}

// traitKey returns a Trait node's natural key
func traitKey(traitID string) graph.NodeKey {
	return graph.NodeKey{Label: graph.LabelTrait, KeyField: "trait_id", KeyValue: traitID}
}

// buildGraphBatch assembles the initial-population batch for one package run:
// the Owner node, a Trait node per candidate with HAS_CANDIDATE_TRAIT and
// EVIDENCED_BY edges, and Concept nodes whose frequency counters increment on
// every repeat merge.
func buildGraphBatch(pkg models.DataPackageRef, candidates []*models.TraitCandidate, concepts map[string]int64, now time.Time) graph.Batch {
	batch := graph.Batch{}

	owner := ownerKey(pkg.OwnerID)
	batch.Nodes = append(batch.Nodes, graph.MergeNode{
		Key:   owner,
		Props: map[string]any{"last_analyzed_at": now.UTC().Format(time.RFC3339)},
	})

	seenEvidence := make(map[string]bool)
	for _, c := range candidates {
		trait := traitKey(c.CandidateID)
		batch.Nodes = append(batch.Nodes, graph.MergeNode{
			Key: trait,
			Props: map[string]any{
				"name":        c.Name,
				"description": c.Description,
				"category":    string(c.Category),
				"confidence":  c.Confidence,
				"status":      graph.TraitStatusCandidate,
			},
		})
		batch.Edges = append(batch.Edges, graph.MergeEdge{
			Type: graph.EdgeHasCandidateTrait,
			From: owner,
			To:   trait,
			Props: map[string]any{
				"source":     "analyzer",
				"strength":   c.Confidence,
				"updated_at": now.UTC().Format(time.RFC3339),
			},
		})

		for _, ev := range c.Evidence {
			evidence := graph.NodeKey{Label: graph.LabelEvidence, KeyField: "evidence_key", KeyValue: ev.Key()}
			if !seenEvidence[ev.Key()] {
				seenEvidence[ev.Key()] = true
				batch.Nodes = append(batch.Nodes, graph.MergeNode{
					Key: evidence,
					Props: map[string]any{
						"package_id": ev.PackageID,
						"locator":    ev.Locator,
						"modality":   string(pkg.Modality),
					},
				})
			}
			batch.Edges = append(batch.Edges, graph.MergeEdge{
				Type:  graph.EdgeEvidencedBy,
				From:  trait,
				To:    evidence,
				Props: map[string]any{"source": "analyzer"},
			})
		}
	}

	// Stable concept order keeps batches reproducible
	names := make([]string, 0, len(concepts))
	for name := range concepts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		concept := graph.NodeKey{Label: graph.LabelConcept, KeyField: "name_normalized", KeyValue: name}
		batch.Nodes = append(batch.Nodes, graph.MergeNode{
			Key:        concept,
			Props:      map[string]any{"name": name},
			Increments: map[string]int64{"frequency": concepts[name]},
		})
		batch.Edges = append(batch.Edges, graph.MergeEdge{
			Type:  graph.EdgeMentionsConcept,
			From:  owner,
			To:    concept,
			Props: map[string]any{"source": "analyzer"},
		})
	}

	return batch
}
