package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personaforge/personaforge/internal/analyzer"
	"github.com/personaforge/personaforge/internal/config"
	"github.com/personaforge/personaforge/internal/consent"
	"github.com/personaforge/personaforge/internal/errors"
	"github.com/personaforge/personaforge/internal/graph"
	"github.com/personaforge/personaforge/internal/models"
	"github.com/personaforge/personaforge/internal/retrieval"
	"github.com/personaforge/personaforge/internal/storage"
)

var allTextScopes = []string{"analyze:text:sentiment", "analyze:text:topics", "analyze:text:style"}

type testHarness struct {
	orch      *Orchestrator
	gate      *consent.StaticGate
	retriever *retrieval.StaticRetriever
	store     *storage.MemoryStore
	graph     *graph.MemoryStore
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	gate := consent.NewStaticGate()
	retriever := retrieval.NewStaticRetriever()
	store := storage.NewMemoryStore()
	backend := graph.NewMemoryStore()

	payload := []byte(`{"traits":[{"name":"Empathetic","description":"Responds with care","category":"EmotionalPattern","confidence":0.6,"evidence_locator":"msg:12"}],"concepts":["jazz"]}`)

	registry := analyzer.NewRegistry()
	for _, stage := range analyzer.DefaultPipelines().ForModality(models.ModalityText).Stages {
		registry.Register(models.ModalityText, stage.ID, &analyzer.StaticAdapter{
			AnalyzerID: stage.ID + "-v1",
			Response:   payload,
		})
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := config.OrchestratorConfig{
		StageWorkers: 2,
		StageTimeout: 5 * time.Second,
		GraphRetries: 2,
		GraphBackoff: time.Millisecond,
	}

	return &testHarness{
		orch:      New(gate, retriever, registry, analyzer.DefaultPipelines(), store, backend, cfg, logger),
		gate:      gate,
		retriever: retriever,
		store:     store,
		graph:     backend,
	}
}

func textPackage(packageID, ownerID string) models.DataPackageRef {
	return models.DataPackageRef{
		PackageID:   packageID,
		OwnerID:     ownerID,
		ConsentRef:  "consent-1",
		LocationRef: "vault://" + packageID,
		Modality:    models.ModalityText,
		Status:      models.PackagePending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestNotify_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.gate.Grant("owner-1", allTextScopes...)
	h.retriever.Put("pkg-1", []byte("hello"))

	result, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.NoError(t, err)

	assert.False(t, result.AlreadyProcessed)
	assert.Len(t, result.StagesRun, 3)
	assert.Empty(t, result.StagesSkipped)
	assert.Equal(t, 1, result.CandidateCount, "identical drafts from all stages merge to one candidate")

	pkg, err := h.store.GetPackage(context.Background(), "pkg-1")
	require.NoError(t, err)
	assert.Equal(t, models.PackageProcessed, pkg.Status)

	candidates, err := h.store.ListCandidates(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "Empathetic", c.Name)
	assert.Len(t, c.OriginAnalyzers, 3)

	ownerProps, err := h.graph.GetNodeProps(context.Background(), "owner-1", ownerKey("owner-1"))
	require.NoError(t, err)
	require.NotNil(t, ownerProps, "Owner node must exist after processing")

	traitProps, err := h.graph.GetNodeProps(context.Background(), "owner-1", traitKey(c.CandidateID))
	require.NoError(t, err)
	require.NotNil(t, traitProps)
	assert.Equal(t, graph.TraitStatusCandidate, traitProps["status"])

	edge := h.graph.GetEdgeProps("owner-1", graph.EdgeHasCandidateTrait, ownerKey("owner-1"), traitKey(c.CandidateID))
	require.NotNil(t, edge)
	assert.Equal(t, "analyzer", edge["source"])
}

func TestNotify_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.gate.Grant("owner-1", allTextScopes...)
	h.retriever.Put("pkg-1", []byte("hello"))

	first, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.NoError(t, err)
	require.False(t, first.AlreadyProcessed)

	nodesBefore := h.graph.NodeCount()
	edgesBefore := h.graph.EdgeCount()

	second, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)

	assert.Equal(t, nodesBefore, h.graph.NodeCount(), "re-delivery must not add nodes")
	assert.Equal(t, edgesBefore, h.graph.EdgeCount(), "re-delivery must not add edges")

	candidates, err := h.store.ListCandidates(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestNotify_ConsentDeniedStagesAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.gate.Grant("owner-1", "analyze:text:sentiment")
	h.retriever.Put("pkg-1", []byte("hello"))

	result, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.NoError(t, err, "denied stages skip, they do not fail the run")

	assert.Len(t, result.StagesRun, 1)
	assert.Len(t, result.StagesSkipped, 2)

	pkg, err := h.store.GetPackage(context.Background(), "pkg-1")
	require.NoError(t, err)
	assert.Equal(t, models.PackageProcessed, pkg.Status)
}

func TestNotify_AllStagesDenied(t *testing.T) {
	h := newHarness(t)
	h.retriever.Put("pkg-1", []byte("hello"))

	_, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindStageFailure))

	pkg, getErr := h.store.GetPackage(context.Background(), "pkg-1")
	require.NoError(t, getErr)
	assert.Equal(t, models.PackageErrored, pkg.Status)
}

func TestNotify_RetrievalFailure(t *testing.T) {
	h := newHarness(t)
	h.gate.Grant("owner-1", allTextScopes...)
	h.retriever.FailNext("pkg-1")

	_, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRetrievalFailure))

	pkg, getErr := h.store.GetPackage(context.Background(), "pkg-1")
	require.NoError(t, getErr)
	assert.Equal(t, models.PackageErrored, pkg.Status)
}

func TestNotify_ConceptFrequencyAccumulates(t *testing.T) {
	h := newHarness(t)
	h.gate.Grant("owner-1", allTextScopes...)
	h.retriever.Put("pkg-1", []byte("hello"))
	h.retriever.Put("pkg-2", []byte("world"))

	_, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.NoError(t, err)
	_, err = h.orch.Notify(context.Background(), textPackage("pkg-2", "owner-1"))
	require.NoError(t, err)

	conceptNode := graph.NodeKey{Label: graph.LabelConcept, KeyField: "name_normalized", KeyValue: "jazz"}
	props, err := h.graph.GetNodeProps(context.Background(), "owner-1", conceptNode)
	require.NoError(t, err)
	require.NotNil(t, props)

	// Three stages mention jazz once per package
	assert.Equal(t, int64(6), props["frequency"], "frequency must accumulate across packages, not overwrite")
}

func TestNotify_OwnerIsolation(t *testing.T) {
	h := newHarness(t)
	h.gate.Grant("owner-1", allTextScopes...)
	h.gate.Grant("owner-2", allTextScopes...)
	h.retriever.Put("pkg-1", []byte("hello"))
	h.retriever.Put("pkg-2", []byte("world"))

	_, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.NoError(t, err)
	_, err = h.orch.Notify(context.Background(), textPackage("pkg-2", "owner-2"))
	require.NoError(t, err)

	one, err := h.store.ListCandidates(context.Background(), "owner-1")
	require.NoError(t, err)
	two, err := h.store.ListCandidates(context.Background(), "owner-2")
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Len(t, two, 1)
	assert.NotEqual(t, one[0].CandidateID, two[0].CandidateID, "same trait for different owners must not share an id")

	conceptNode := graph.NodeKey{Label: graph.LabelConcept, KeyField: "name_normalized", KeyValue: "jazz"}
	props, err := h.graph.GetNodeProps(context.Background(), "owner-1", conceptNode)
	require.NoError(t, err)
	require.NotNil(t, props)
	assert.Equal(t, int64(3), props["frequency"], "owner scopes must not share concept counters")
}

// failingBackend rejects every batch, simulating a graph outage
type failingBackend struct{}

func (f *failingBackend) ApplyBatch(context.Context, string, graph.Batch) (graph.Result, error) {
	return graph.Result{}, fmt.Errorf("connection refused")
}

func (f *failingBackend) GetNodeProps(context.Context, string, graph.NodeKey) (map[string]any, error) {
	return nil, nil
}

func (f *failingBackend) Close(context.Context) error { return nil }

func TestNotify_GraphOutageErrorsPackage(t *testing.T) {
	h := newHarness(t)
	h.gate.Grant("owner-1", allTextScopes...)
	h.retriever.Put("pkg-1", []byte("hello"))

	h.orch.graph = &failingBackend{}

	_, err := h.orch.Notify(context.Background(), textPackage("pkg-1", "owner-1"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDependencyFailure))

	pkg, getErr := h.store.GetPackage(context.Background(), "pkg-1")
	require.NoError(t, getErr)
	assert.Equal(t, models.PackageErrored, pkg.Status)

	// Candidates were persisted before the graph write; re-delivery re-applies
	candidates, listErr := h.store.ListCandidates(context.Background(), "owner-1")
	require.NoError(t, listErr)
	assert.Len(t, candidates, 1)
}
