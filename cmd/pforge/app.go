package main

import (
	"context"
	"fmt"

	"github.com/personaforge/personaforge/internal/analyzer"
	"github.com/personaforge/personaforge/internal/audit"
	"github.com/personaforge/personaforge/internal/config"
	"github.com/personaforge/personaforge/internal/consent"
	"github.com/personaforge/personaforge/internal/graph"
	"github.com/personaforge/personaforge/internal/orchestrator"
	"github.com/personaforge/personaforge/internal/refine"
	"github.com/personaforge/personaforge/internal/retrieval"
	"github.com/personaforge/personaforge/internal/storage"
)

// app holds the wired components behind every command
type app struct {
	store     storage.Store
	graph     graph.Backend
	gate      consent.Gate
	retriever retrieval.Retriever
	pipelines *analyzer.PipelineSet
	orch      *orchestrator.Orchestrator
	engine    *refine.Engine

	closers []func(context.Context) error
}

// buildApp wires storage, graph, consent, retrieval, and analyzers from the
// loaded configuration.
func buildApp(ctx context.Context) (*app, error) {
	a := &app{}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	backend, err := graph.NewNeo4jStore(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("connect graph store: %w", err)
	}
	if err := backend.EnsureConstraints(ctx); err != nil {
		logger.WithError(err).Warn("Failed to ensure graph constraints")
	}
	a.graph = backend
	a.closers = append(a.closers, backend.Close)

	gate, err := buildGate(cfg, a)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.gate = gate

	retriever, err := buildRetriever(cfg, a)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.retriever = retriever

	pipelines := analyzer.DefaultPipelines()
	if cfg.Analyzer.PipelineFile != "" {
		pipelines, err = analyzer.LoadPipelines(cfg.Analyzer.PipelineFile)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("load pipelines: %w", err)
		}
	}
	a.pipelines = pipelines

	registry, err := buildRegistry(ctx, cfg, pipelines)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	mirror := audit.NewMirror(cfg.Audit.Directory)
	a.orch = orchestrator.New(a.gate, a.retriever, registry, pipelines, a.store, a.graph, cfg.Orchestrator, logger)
	a.engine = refine.New(a.store, a.graph, mirror, logger)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.WithError(err).Warn("Close failed")
		}
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.PostgresDSN, logger)
	case "sqlite", "":
		return storage.NewSQLiteStore(cfg.Storage.LocalPath, logger)
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
}

func buildGate(cfg *config.Config, a *app) (consent.Gate, error) {
	if cfg.Consent.Endpoint == "" {
		return nil, fmt.Errorf("consent endpoint is not configured (set CONSENT_ENDPOINT or consent.endpoint)")
	}
	var gate consent.Gate = consent.NewHTTPGate(cfg.Consent.Endpoint)
	if cfg.Consent.RedisURL != "" {
		cached, err := consent.NewCachedGate(gate, cfg.Consent.RedisURL, cfg.Consent.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("consent cache: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return cached.Close() })
		gate = cached
	}
	return gate, nil
}

func buildRetriever(cfg *config.Config, a *app) (retrieval.Retriever, error) {
	var retriever retrieval.Retriever = retrieval.NewFileRetriever()
	if cfg.Retrieval.CachePath != "" {
		cached, err := retrieval.NewCachedRetriever(retriever, cfg.Retrieval.CachePath)
		if err != nil {
			return nil, fmt.Errorf("retrieval cache: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return cached.Close() })
		retriever = cached
	}
	return retriever, nil
}

// buildRegistry registers the configured provider adapter, wrapped in the
// rate limiter, for every stage the pipelines define.
func buildRegistry(ctx context.Context, cfg *config.Config, pipelines *analyzer.PipelineSet) (*analyzer.Registry, error) {
	var adapter analyzer.Adapter
	var err error
	switch cfg.Analyzer.Provider {
	case "openai", "":
		adapter, err = analyzer.NewOpenAIAdapter(cfg.Analyzer.OpenAIKey, cfg.Analyzer.OpenAIModel)
	case "gemini":
		adapter, err = analyzer.NewGeminiAdapter(ctx, cfg.Analyzer.GeminiKey, cfg.Analyzer.GeminiModel)
	default:
		err = fmt.Errorf("unknown analyzer provider %q", cfg.Analyzer.Provider)
	}
	if err != nil {
		return nil, err
	}

	limited := analyzer.NewRateLimitedAdapter(adapter, cfg.Analyzer.RatePerSec, cfg.Analyzer.RateBurst)
	registry := analyzer.NewRegistry()
	for _, pipeline := range pipelines.Pipelines {
		for _, stage := range pipeline.Stages {
			registry.Register(stage.Modality, stage.ID, limited)
		}
	}
	return registry, nil
}
