package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veridoc/kyc-engine/internal/engine"
	"github.com/veridoc/kyc-engine/internal/resilience"
	"github.com/veridoc/kyc-engine/internal/rules"
	"github.com/veridoc/kyc-engine/internal/store"
	"github.com/veridoc/kyc-engine/pkg/signal"
)

// engineEnv holds the initialized store, catalog, and engine needed by the
// assess/decide/serve commands.
type engineEnv struct {
	Store   store.Store
	Catalog *rules.Catalog
	Engine  *engine.Engine
}

// Close releases resources held by the environment.
func (env *engineEnv) Close() {
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

// initEngine sets up the store, loads the rule catalog, builds the signal
// client, and wires the engine. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
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

	catalog, err := loadCatalog()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var signalClient signal.Client
	if cfg.Signal.Enabled && cfg.Signal.APIKey != "" {
		opts := []signal.Option{
			signal.WithTimeout(time.Duration(cfg.Signal.TimeoutSecs) * time.Second),
			signal.WithRateLimit(cfg.Signal.RPS),
			signal.WithBreaker(resilience.NewBreaker(5, 30*time.Second)),
		}
		if cfg.Signal.BaseURL != "" {
			opts = append(opts, signal.WithBaseURL(cfg.Signal.BaseURL))
		}
		signalClient = signal.NewClient(cfg.Signal.APIKey, opts...)
	} else {
		zap.L().Info("signal client not configured, assessments run rule-only")
	}

	return &engineEnv{
		Store:   st,
		Catalog: catalog,
		Engine:  engine.New(cfg, catalog, st, signalClient),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "", "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// loadCatalog returns the embedded catalog unless an override path is set.
func loadCatalog() (*rules.Catalog, error) {
	if cfg.Rules.CatalogPath != "" {
		return rules.LoadFile(cfg.Rules.CatalogPath)
	}
	return rules.Load()
}
