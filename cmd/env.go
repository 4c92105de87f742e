package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborintel/port-research/internal/approval"
	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/internal/quality"
	"github.com/harborintel/port-research/internal/research"
	"github.com/harborintel/port-research/internal/store"
	"github.com/harborintel/port-research/internal/validate"
	"github.com/harborintel/port-research/pkg/anthropic"
	"github.com/harborintel/port-research/pkg/geocode"
	"github.com/harborintel/port-research/pkg/openai"
	"github.com/harborintel/port-research/pkg/perplexity"
)

// env holds the wired service components shared by the commands.
type env struct {
	Store    store.Store
	Orch     *research.Orchestrator
	Approval *approval.Service
	Quality  *quality.Checker
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var pplx perplexity.Client
	if cfg.Perplexity.Key != "" {
		var opts []perplexity.Option
		if cfg.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
		}
		if cfg.Perplexity.Model != "" {
			opts = append(opts, perplexity.WithModel(cfg.Perplexity.Model))
		}
		pplx = perplexity.NewClient(cfg.Perplexity.Key, opts...)
	}

	var oai openai.Client
	if cfg.OpenAI.Key != "" {
		var opts []openai.Option
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.OpenAI.Model != "" {
			opts = append(opts, openai.WithModel(cfg.OpenAI.Model))
		}
		oai = openai.NewClient(cfg.OpenAI.Key, opts...)
	}

	provider := research.NewProvider(research.ProviderConfig{
		Backend:                 cfg.Research.Provider,
		FallbackModels:          cfg.Research.FallbackModels,
		QueryTimeout:            cfg.Research.QueryTimeout(),
		SlowQueryTimeout:        cfg.Research.SlowQueryTimeout(),
		CircuitFailureThreshold: cfg.Research.CircuitFailureThreshold,
		CircuitReset:            time.Duration(cfg.Research.CircuitResetSecs) * time.Second,
	}, pplx, oai)

	var llm anthropic.Client
	if cfg.Anthropic.Key != "" {
		llm = anthropic.NewClient(cfg.Anthropic.Key)
	}

	orch := research.NewOrchestrator(provider, llm, cfg.Anthropic.SonnetModel, st,
		validate.DefaultVocabulary(), research.OrchestratorConfig{
			RetryDelay:       time.Duration(cfg.Research.RetryDelaySecs) * time.Second,
			MaxResearchChars: cfg.Research.MaxResearchChars,
		})

	var geocoder geocode.Client
	if cfg.Geocode.BaseURL != "" {
		geocoder = geocode.NewClient(
			geocode.WithBaseURL(cfg.Geocode.BaseURL),
			geocode.WithRateLimit(cfg.Geocode.RatePerSecond),
		)
	} else {
		geocoder = geocode.NewClient(geocode.WithRateLimit(cfg.Geocode.RatePerSecond))
	}

	defaultPoint := model.Coordinates{Latitude: cfg.Geocode.DefaultLat, Longitude: cfg.Geocode.DefaultLon}
	ap := approval.NewService(st, geocoder, defaultPoint)
	qc := quality.NewChecker(st)

	return &env{Store: st, Orch: orch, Approval: ap, Quality: qc}, nil
}
