package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/personaforge/personaforge/internal/analyzer"
	"github.com/personaforge/personaforge/internal/config"
	"github.com/personaforge/personaforge/internal/consent"
	"github.com/personaforge/personaforge/internal/errors"
	"github.com/personaforge/personaforge/internal/graph"
	"github.com/personaforge/personaforge/internal/models"
	"github.com/personaforge/personaforge/internal/retrieval"
	"github.com/personaforge/personaforge/internal/storage"
)

// Orchestrator coordinates one package's trait extraction: consent-gated
// stage fan-out, feature persistence, candidate derivation and aggregation,
// and the initial graph population batch.
type Orchestrator struct {
	gate      consent.Gate
	retriever retrieval.Retriever
	registry  *analyzer.Registry
	pipelines *analyzer.PipelineSet
	store     storage.Store
	graph     graph.Backend
	cfg       config.OrchestratorConfig
	logger    *logrus.Logger
}

// New creates an orchestrator
func New(
	gate consent.Gate,
	retriever retrieval.Retriever,
	registry *analyzer.Registry,
	pipelines *analyzer.PipelineSet,
	store storage.Store,
	graphBackend graph.Backend,
	cfg config.OrchestratorConfig,
	logger *logrus.Logger,
) *Orchestrator {
	if cfg.StageWorkers < 1 {
		cfg.StageWorkers = 4
	}
	return &Orchestrator{
		gate:      gate,
		retriever: retriever,
		registry:  registry,
		pipelines: pipelines,
		store:     store,
		graph:     graphBackend,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunResult summarizes one notification run
type RunResult struct {
	PackageID        string
	AlreadyProcessed bool
	StagesRun        []string
	StagesSkipped    []string
	StagesFailed     []string
	FeatureCount     int
	CandidateCount   int
	GraphApplied     int
	GraphFailed      int
	Duration         time.Duration
}

// stageResult carries one stage's derived output back to the run
type stageResult struct {
	stageID string
	output  analyzer.StageOutput
}

// Notify processes one data package. Delivery is at-least-once upstream, so
// the whole run is idempotent: an already processed package short-circuits,
// candidate ids are stable, and graph merges never duplicate.
func (o *Orchestrator) Notify(ctx context.Context, pkg models.DataPackageRef) (*RunResult, error) {
	start := time.Now()
	log := o.logger.WithFields(logrus.Fields{
		"package_id": pkg.PackageID,
		"owner_id":   pkg.OwnerID,
		"modality":   pkg.Modality,
	})
	log.Info("Notification received")

	result := &RunResult{PackageID: pkg.PackageID}

	// Step 1: resolve package metadata; idempotency short-circuit
	if err := o.store.SavePackage(ctx, &pkg); err != nil {
		return nil, errors.DependencyFailure(err, "package store")
	}
	stored, err := o.store.GetPackage(ctx, pkg.PackageID)
	if err != nil {
		return nil, errors.DependencyFailure(err, "package store")
	}
	if stored.Status == models.PackageProcessed {
		log.Info("Package already processed, skipping")
		result.AlreadyProcessed = true
		return result, nil
	}

	if err := o.store.UpdatePackageStatus(ctx, pkg.PackageID, models.PackageProcessing); err != nil {
		return nil, errors.DependencyFailure(err, "package store")
	}

	// Step 2: retrieval failure is fatal for the package; retry is an
	// operational decision upstream, not ours
	content, err := o.retriever.Retrieve(ctx, pkg)
	if err != nil {
		log.WithError(err).Error("Package retrieval failed")
		if statusErr := o.store.UpdatePackageStatus(ctx, pkg.PackageID, models.PackageErrored); statusErr != nil {
			log.WithError(statusErr).Error("Failed to mark package errored")
		}
		return nil, errors.RetrievalFailure(err, pkg.PackageID)
	}

	pipeline := o.pipelines.ForModality(pkg.Modality)
	if pipeline == nil || len(pipeline.Stages) == 0 {
		if statusErr := o.store.UpdatePackageStatus(ctx, pkg.PackageID, models.PackageErrored); statusErr != nil {
			log.WithError(statusErr).Error("Failed to mark package errored")
		}
		return nil, errors.Newf(errors.KindInvalidInput, "no pipeline for modality %s", pkg.Modality)
	}

	// Steps 3-4: consent-gated stage fan-out
	outputs := o.runStages(ctx, pkg, pipeline, content, result, log)

	if len(result.StagesRun) == 0 && len(outputs) == 0 {
		// Nothing analyzable at all
		if statusErr := o.store.UpdatePackageStatus(ctx, pkg.PackageID, models.PackageErrored); statusErr != nil {
			log.WithError(statusErr).Error("Failed to mark package errored")
		}
		log.Warn("All stages skipped or failed, package errored")
		return result, errors.Newf(errors.KindStageFailure, "package %s produced no analyzable output", pkg.PackageID)
	}

	// Step 5: deterministic aggregation
	var drafts []analyzer.Draft
	stageOutputs := make([]analyzer.StageOutput, 0, len(outputs))
	for _, sr := range outputs {
		drafts = append(drafts, sr.output.Drafts...)
		stageOutputs = append(stageOutputs, sr.output)
	}
	now := time.Now().UTC()
	candidates := aggregateDrafts(pkg.OwnerID, pkg.PackageID, drafts, now)
	concepts := aggregateConcepts(stageOutputs)
	result.CandidateCount = len(candidates)

	// Step 6: persist candidates
	if err := o.store.SaveCandidates(ctx, candidates); err != nil {
		if statusErr := o.store.UpdatePackageStatus(ctx, pkg.PackageID, models.PackageErrored); statusErr != nil {
			log.WithError(statusErr).Error("Failed to mark package errored")
		}
		return result, errors.DependencyFailure(err, "candidate store")
	}

	// Steps 7-8: graph batch, retried with bounded backoff
	batch := buildGraphBatch(pkg, candidates, concepts, now)
	graphResult, graphErr := graph.ApplyBatchWithRetry(ctx, o.graph, pkg.OwnerID, batch, o.cfg.GraphRetries, o.cfg.GraphBackoff)
	result.GraphApplied = graphResult.Applied
	result.GraphFailed = len(graphResult.FailedOps)

	ownerExists := graphResult.Applied > 0
	if !ownerExists {
		if props, propErr := o.graph.GetNodeProps(ctx, pkg.OwnerID, ownerKey(pkg.OwnerID)); propErr == nil && props != nil {
			ownerExists = true
		}
	}

	if graphErr != nil || len(graphResult.FailedOps) > 0 {
		// Candidate store and graph have diverged; this must surface as
		// an operational alert, never be dropped
		log.WithFields(logrus.Fields{
			"applied": graphResult.Applied,
			"failed":  len(graphResult.FailedOps),
			"error":   graphErr,
		}).Error("ALERT: graph update incomplete, candidate store and graph have diverged")
	}

	// Step 9: final status. Partial candidate loss is reported, not fatal;
	// total graph loss without an Owner node is.
	if !ownerExists && graphErr != nil {
		if statusErr := o.store.UpdatePackageStatus(ctx, pkg.PackageID, models.PackageErrored); statusErr != nil {
			log.WithError(statusErr).Error("Failed to mark package errored")
		}
		return result, errors.DependencyFailure(graphErr, "graph store")
	}

	if err := o.store.UpdatePackageStatus(ctx, pkg.PackageID, models.PackageProcessed); err != nil {
		return result, errors.DependencyFailure(err, "package store")
	}

	result.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"stages_run":     len(result.StagesRun),
		"stages_skipped": len(result.StagesSkipped),
		"stages_failed":  len(result.StagesFailed),
		"candidates":     result.CandidateCount,
		"graph_applied":  result.GraphApplied,
		"duration":       result.Duration.String(),
	}).Info("Package processed")

	return result, nil
}

// runStages executes the pipeline with bounded concurrency. Consent denials
// and stage failures are absorbed here: they skip the stage and never fail
// the run. Cancellation is honored at stage boundaries.
func (o *Orchestrator) runStages(
	ctx context.Context,
	pkg models.DataPackageRef,
	pipeline *analyzer.Pipeline,
	content []byte,
	result *RunResult,
	log *logrus.Entry,
) []stageResult {
	var (
		mu      sync.Mutex
		outputs []stageResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.StageWorkers)

	for _, stage := range pipeline.Stages {
		stage := stage
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			// Each stage is independently consent-gated
			decision, err := o.gate.Check(gctx, pkg.OwnerID, stage.Scope)
			if err != nil {
				log.WithError(err).WithField("stage", stage.ID).Warn("Consent check failed, skipping stage")
				mu.Lock()
				result.StagesSkipped = append(result.StagesSkipped, stage.ID)
				mu.Unlock()
				return nil
			}
			if !decision.Granted {
				log.WithFields(logrus.Fields{
					"stage":  stage.ID,
					"scope":  stage.Scope,
					"reason": decision.Reason,
				}).Info("Consent denied, stage skipped")
				mu.Lock()
				result.StagesSkipped = append(result.StagesSkipped, stage.ID)
				mu.Unlock()
				return nil
			}

			output, runErr := o.runStage(gctx, pkg, stage, content)
			mu.Lock()
			defer mu.Unlock()
			if runErr != nil {
				log.WithError(runErr).WithField("stage", stage.ID).Warn("Stage failed, skipped")
				result.StagesFailed = append(result.StagesFailed, stage.ID)
				return nil
			}
			result.StagesRun = append(result.StagesRun, stage.ID)
			result.FeatureCount++
			outputs = append(outputs, stageResult{stageID: stage.ID, output: output})
			return nil
		})
	}

	g.Wait()
	return outputs
}

// runStage invokes one analyzer with its timeout, persists the raw feature
// record, and derives candidate drafts from the payload.
func (o *Orchestrator) runStage(ctx context.Context, pkg models.DataPackageRef, stage analyzer.Stage, content []byte) (analyzer.StageOutput, error) {
	adapter, err := o.registry.Lookup(stage.Modality, stage.ID)
	if err != nil {
		return analyzer.StageOutput{}, errors.StageFailure(err, stage.ID)
	}

	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = o.cfg.StageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := adapter.Analyze(stageCtx, analyzer.Request{
		OwnerID:   pkg.OwnerID,
		PackageID: pkg.PackageID,
		Modality:  pkg.Modality,
		StageID:   stage.ID,
		Content:   content,
		Config:    stage.Config,
	})
	if err != nil {
		return analyzer.StageOutput{}, errors.StageFailure(err, stage.ID)
	}

	// Persist the raw feature immediately; the feature set id is stable per
	// (package, stage) so re-delivery appends nothing new
	record := &models.RawFeatureRecord{
		FeatureSetID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(pkg.PackageID+"|"+stage.ID)).String(),
		OwnerID:      pkg.OwnerID,
		PackageID:    pkg.PackageID,
		Modality:     pkg.Modality,
		AnalyzerID:   res.AnalyzerID,
		Payload:      res.Payload,
		ProducedAt:   time.Now().UTC(),
		Outcome:      res.Outcome,
	}
	if err := o.store.SaveFeatures(ctx, []*models.RawFeatureRecord{record}); err != nil {
		return analyzer.StageOutput{}, errors.DependencyFailure(err, "feature store")
	}

	derive := analyzer.DeriveForStage(stage.ID)
	output, err := derive(pkg, res.AnalyzerID, res.Payload)
	if err != nil {
		return analyzer.StageOutput{}, errors.StageFailure(err, stage.ID)
	}
	return output, nil
}
