package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/config"
	"github.com/Veraticus/the-spice-must-recur/internal/engine"
	"github.com/Veraticus/the-spice-must-recur/internal/lifecycle"
	"github.com/Veraticus/the-spice-must-recur/internal/normalize"
	"github.com/Veraticus/the-spice-must-recur/internal/prefilter"
	"github.com/Veraticus/the-spice-must-recur/internal/renewal"
	"github.com/Veraticus/the-spice-must-recur/internal/scoring"
	"github.com/Veraticus/the-spice-must-recur/internal/storage"
	"github.com/spf13/viper"
)

// app bundles the configured components one command needs.
type app struct {
	cfg     *config.Config
	store   *storage.SQLiteStorage
	scorer  *scoring.Scorer
	filter  *prefilter.Filter
	manager *lifecycle.Manager
	tracker *renewal.Tracker
}

// loadConfig decodes the global viper state.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens and migrates the configured database.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// openApp loads configuration, opens storage and wires the detection core.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	filterCfg, err := cfg.FilterConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	filter, err := prefilter.New(filterCfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build prefilter: %w", err)
	}

	scorer := scoring.NewScorer(cfg.ScorerConfig())
	return &app{
		cfg:     cfg,
		store:   store,
		scorer:  scorer,
		filter:  filter,
		manager: lifecycle.NewManager(store, scorer),
		tracker: renewal.NewTracker(store),
	}, nil
}

func (a *app) userID() string {
	return a.cfg.User.ID
}

func (a *app) engine(opts ...engine.Option) *engine.Engine {
	return engine.New(a.store,
		normalize.New(normalize.Config{DefaultCurrency: a.cfg.Normalize.DefaultCurrency}),
		a.filter,
		a.scorer,
		a.manager,
		engine.Config{Workers: a.cfg.Engine.Workers},
		opts...,
	)
}

func (a *app) Close() error {
	return a.store.Close()
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}
