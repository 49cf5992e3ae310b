package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-abstraction/internal/adjudicate"
	"github.com/sells-group/clinical-abstraction/internal/catalog"
	"github.com/sells-group/clinical-abstraction/internal/config"
	"github.com/sells-group/clinical-abstraction/internal/extraction"
	"github.com/sells-group/clinical-abstraction/internal/ledger"
	"github.com/sells-group/clinical-abstraction/internal/resilience"
	"github.com/sells-group/clinical-abstraction/internal/store"
	"github.com/sells-group/clinical-abstraction/pkg/anthropic"
	"github.com/sells-group/clinical-abstraction/pkg/notion"
)

// appEnv holds the wired components shared by the commands.
type appEnv struct {
	Catalog   *catalog.Catalog
	Store     store.Store
	Ledger    *ledger.Ledger
	Processor *adjudicate.Processor
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initEnv validates the config for mode, loads the catalog, opens and
// migrates the store, and wires the ledger and processor.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	cat, err := initCatalog(ctx)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return newAppEnv(cat, st), nil
}

// newAppEnv wires the ledger and processor over a catalog and store.
func newAppEnv(cat *catalog.Catalog, st store.Store) *appEnv {
	retry := resilience.FromRetryConfig(cfg.Store.Retry.MaxAttempts, cfg.Store.Retry.InitialBackoffMs, cfg.Store.Retry.MaxBackoffMs)
	l := ledger.New(st, cat, ledger.WithRetry(retry))
	engine := adjudicate.New(cat, adjudicate.WithMaxConcurrency(cfg.Adjudication.MaxConcurrentFields))
	return &appEnv{
		Catalog:   cat,
		Store:     st,
		Ledger:    l,
		Processor: adjudicate.NewProcessor(engine, l),
	}
}

func initCatalog(ctx context.Context) (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	switch cfg.Catalog.Source {
	case "", "embedded":
		cat, err = catalog.Default()
	case "file":
		cat, err = catalog.LoadFile(cfg.Catalog.Path)
	case "notion":
		client := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
		cat, err = catalog.LoadNotion(ctx, client, cfg.Notion.RuleDB)
	default:
		return nil, eris.Errorf("unsupported catalog source: %s", cfg.Catalog.Source)
	}
	if err != nil {
		return nil, eris.Wrap(err, "load catalog")
	}
	zap.L().Info("catalog loaded", zap.String("source", cfg.Catalog.Source), zap.Int("rules", cat.Len()))
	return cat, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// caseSource is an extraction source that can also enumerate its cases.
type caseSource interface {
	extraction.Source
	extraction.Lister
}

func initSource() (caseSource, error) {
	switch cfg.Extraction.Source {
	case "", "file":
		return extraction.NewFileSource(cfg.Extraction.Dir), nil
	case "claude":
		client := anthropic.NewClient(cfg.Anthropic.Key)
		return extraction.NewClaudeSource(cfg.Extraction.Dir, client, claudeConfig(cfg)), nil
	default:
		return nil, eris.Errorf("unsupported extraction source: %s", cfg.Extraction.Source)
	}
}

func claudeConfig(c *config.Config) extraction.ClaudeConfig {
	return extraction.ClaudeConfig{
		Model:             c.Anthropic.Model,
		MaxTokens:         c.Anthropic.MaxTokens,
		MaxDocumentChars:  c.Extraction.MaxDocumentChars,
		CacheTTL:          c.Anthropic.CacheTTL,
		RequestsPerSecond: c.Anthropic.RequestsPerSecond,
		Burst:             c.Anthropic.Burst,
		Retry: resilience.FromRetryConfig(
			c.Anthropic.Retry.MaxAttempts,
			c.Anthropic.Retry.InitialBackoffMs,
			c.Anthropic.Retry.MaxBackoffMs,
		),
	}
}
