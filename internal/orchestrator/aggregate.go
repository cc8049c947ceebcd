package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/personaforge/personaforge/internal/analyzer"
	"github.com/personaforge/personaforge/internal/models"
)

// normalizeName canonicalizes a trait or concept name for deduplication
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// aggregationKey dedupes drafts: equivalent normalized name + category for
// the same owner merge into one candidate.
type aggregationKey struct {
	name     string
	category models.TraitCategory
}

// aggregateDrafts folds stage drafts into trait candidates. The fold is
// deterministic for any permutation of the input: drafts are sorted by a
// stable key first, and all unioned sets are sorted before use.
// Confidence is the max of contributing drafts; evidence and origin
// analyzers are unioned.
func aggregateDrafts(ownerID, packageID string, drafts []analyzer.Draft, now time.Time) []*models.TraitCandidate {
	sorted := make([]analyzer.Draft, len(drafts))
	copy(sorted, drafts)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if normalizeName(a.Name) != normalizeName(b.Name) {
			return normalizeName(a.Name) < normalizeName(b.Name)
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.AnalyzerID != b.AnalyzerID {
			return a.AnalyzerID < b.AnalyzerID
		}
		return a.Confidence < b.Confidence
	})

	merged := make(map[aggregationKey]*models.TraitCandidate)
	var order []aggregationKey

	for _, d := range sorted {
		key := aggregationKey{name: normalizeName(d.Name), category: d.Category}
		c, ok := merged[key]
		if !ok {
			c = &models.TraitCandidate{
				CandidateID: mintCandidateID(ownerID, packageID, key),
				OwnerID:     ownerID,
				Name:        d.Name,
				Description: d.Description,
				Category:    d.Category,
				Status:      models.StatusCandidate,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			merged[key] = c
			order = append(order, key)
		}
		if d.Confidence > c.Confidence {
			c.Confidence = d.Confidence
		}
		if c.Description == "" {
			c.Description = d.Description
		}
		c.Evidence = unionEvidence(c.Evidence, d.Evidence)
		c.OriginAnalyzers = unionStrings(c.OriginAnalyzers, d.AnalyzerID)
	}

	candidates := make([]*models.TraitCandidate, 0, len(order))
	for _, key := range order {
		candidates = append(candidates, merged[key])
	}
	return candidates
}

// mintCandidateID derives a stable id from the owner, package, and
// aggregation key, so re-delivered notifications mint the same candidates.
func mintCandidateID(ownerID, packageID string, key aggregationKey) string {
	seed := strings.Join([]string{ownerID, packageID, key.name, string(key.category)}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func unionEvidence(existing, add []models.EvidenceRef) []models.EvidenceRef {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e.Key()] = true
	}
	out := existing
	for _, e := range add {
		if !seen[e.Key()] {
			seen[e.Key()] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func unionStrings(existing []string, add string) []string {
	for _, s := range existing {
		if s == add {
			return existing
		}
	}
	out := append(existing, add)
	sort.Strings(out)
	return out
}

// aggregateConcepts counts named concept mentions across stage outputs,
// keyed by normalized name. The count feeds the graph-side frequency
// increment, so repeat packages accumulate rather than overwrite.
func aggregateConcepts(outputs []analyzer.StageOutput) map[string]int64 {
	counts := make(map[string]int64)
	for _, out := range outputs {
		for _, concept := range out.Concepts {
			norm := normalizeName(concept)
			if norm == "" {
				continue
			}
			counts[norm]++
		}
	}
	return counts
}
