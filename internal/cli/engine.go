package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/soyeahso/veil/internal/agent"
	"github.com/soyeahso/veil/internal/cache"
	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/hooks"
	"github.com/soyeahso/veil/internal/llm"
	"github.com/soyeahso/veil/internal/store"
	"github.com/soyeahso/veil/internal/store/postgres"
)

// engine is the fully wired chat engine plus the resources it holds open.
type engine struct {
	cfg      config.Config
	orch     *agent.Orchestrator
	history  agent.HistoryStore
	passages *store.PassageStore
	hooks    *hooks.Manager
	cache    *cache.Guard

	closers []io.Closer
}

// loadConfig loads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openDB opens the SQLite data file that holds knowledge passages and, with
// the sqlite backend, conversation history.
func openDB(cfg config.Config) (*store.DB, error) {
	if cfg.History.Path == "" {
		if err := paths.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := store.Open(paths.HistoryDB(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// openHistory returns the configured history store. db backs the sqlite
// backend; closers collects anything else that must be released.
func openHistory(ctx context.Context, cfg config.Config, db *store.DB) (agent.HistoryStore, io.Closer, error) {
	switch cfg.History.Backend {
	case "sqlite":
		log.Info().Str("path", paths.HistoryDB(cfg)).Msg("using SQLite history store")
		return store.NewSQLiteHistoryStore(db), nil, nil
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.History.DSN,
			MigrateOnStart: true,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres history: %w", err)
		}
		log.Info().Msg("using PostgreSQL history store")
		return pg, pg, nil
	default:
		log.Info().Msg("using in-memory history store")
		return agent.NewMemoryHistoryStore(), nil, nil
	}
}

// openEngine wires cache, history, retrieval, tools, hooks and the model
// registry into an orchestrator.
func openEngine(ctx context.Context, cfg config.Config) (_ *engine, err error) {
	e := &engine{cfg: cfg, hooks: hooks.NewManager(log)}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if cfg.Hooks.LogEvents {
		e.hooks.LogEvents()
	}

	models, err := llm.NewRegistryFromConfig(cfg.Models, log)
	if err != nil {
		return nil, err
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, db)
	e.passages = store.NewPassageStore(db)

	history, closer, err := openHistory(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	e.history = history
	if closer != nil {
		e.closers = append(e.closers, closer)
	}

	e.cache = cache.Open(ctx, cfg.Cache.Backend, cfg.Cache.RedisURL, log)
	e.closers = append(e.closers, e.cache)

	tools := agent.NewToolRegistry(cfg.ToolTimeout(), log)
	if err := agent.RegisterBuiltinTools(tools, e.passages, time.Now); err != nil {
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	e.orch = agent.New(agent.Deps{
		Models:    models,
		Cache:     e.cache,
		History:   e.history,
		Retriever: e.passages,
		Tools:     tools,
		Hooks:     e.hooks,
	}, agent.ConfigFrom(&cfg), log)

	log.Debug().
		Strs("providers", models.List()).
		Str("cache", cfg.Cache.Backend).
		Str("history", cfg.History.Backend).
		Int("tools", tools.Len()).
		Msg("engine ready")
	return e, nil
}

// Close releases stores in reverse order of opening.
func (e *engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
