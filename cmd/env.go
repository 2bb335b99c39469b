package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-engine/internal/adapter"
	"github.com/sells-group/catalog-engine/internal/job"
	"github.com/sells-group/catalog-engine/internal/ocr"
	"github.com/sells-group/catalog-engine/internal/pattern"
	"github.com/sells-group/catalog-engine/internal/recognize"
	"github.com/sells-group/catalog-engine/internal/resilience"
	"github.com/sells-group/catalog-engine/internal/store"
	"github.com/sells-group/catalog-engine/pkg/reader"
	"github.com/sells-group/catalog-engine/pkg/recognizer"
)

// env bundles the wired engine for one command invocation.
type env struct {
	Store        store.Store
	Orchestrator *job.Orchestrator
}

func (e *env) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "catalog.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRecognizer() (recognizer.Client, error) {
	switch cfg.Recognizer.Provider {
	case "anthropic":
		if cfg.Recognizer.Key == "" {
			return nil, eris.New("recognizer key is required (CATALOG_RECOGNIZER_KEY)")
		}
		return recognizer.NewClient(cfg.Recognizer.Key, cfg.Recognizer.Model), nil
	default:
		return nil, eris.Errorf("unsupported recognizer provider: %s", cfg.Recognizer.Provider)
	}
}

// initEnv wires the full engine: store, source adapters, pattern store,
// recognition pipeline and orchestrator.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	if err := pattern.InstallSeeds(ctx, st); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "install seed patterns")
	}

	rec, err := initRecognizer()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	readerClient := reader.NewClient(cfg.Reader.Key,
		reader.WithBaseURL(cfg.Reader.BaseURL),
		reader.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Reader.TimeoutSecs) * time.Second,
		}),
	)

	retry := resilience.DefaultRetryConfig()
	if cfg.Extraction.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.Extraction.RetryMaxAttempts
	}

	limiters := adapter.NewLimiters(cfg.Tenants)
	registry := adapter.NewRegistry(
		adapter.NewWebAdapter(readerClient, limiters),
		adapter.NewDocumentAdapter(extractor),
		adapter.NewFeedAdapter(retry),
	)

	repo := pattern.NewRepository(st, cfg.Patterns, cfg.Tenants)
	learner := pattern.NewLearner(repo, rec, cfg.Patterns)
	pipeline := recognize.NewPipeline(rec, repo, learner, cfg.Recognizer)

	return &env{
		Store:        st,
		Orchestrator: job.NewOrchestrator(st, registry, pipeline, cfg),
	}, nil
}
