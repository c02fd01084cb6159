package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rms81/fintrack-sub001/internal/domain/categorization"
	"github.com/rms81/fintrack-sub001/internal/domain/finance"
	importrepo "github.com/rms81/fintrack-sub001/internal/domain/import/repository"
	importservice "github.com/rms81/fintrack-sub001/internal/domain/import/service"
	"github.com/rms81/fintrack-sub001/pkg/config"
	"github.com/rms81/fintrack-sub001/pkg/db"
	"github.com/rms81/fintrack-sub001/pkg/metrics"
)

// app wires the services the CLI commands share.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *db.DB
	metrics *metrics.Metrics

	finance *finance.Repository
	imports *importservice.Service
	rules   *categorization.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	database, err := db.New(ctx, db.Config{
		DSN:             cfg.Database.DSN(),
		MaxConns:        8,
		MaxConnLifetime: time.Hour,
	})
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Observability.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	financeRepo := finance.NewRepository(database.Pool)
	ruleRepo := categorization.NewRepository(database.Pool)
	sessionRepo := importrepo.NewSessionRepository(database.Pool)
	locker := importrepo.NewPGAccountLocker(database.Pool)

	rules := categorization.NewService(ruleRepo, financeRepo, m, logger)
	imports := importservice.NewService(sessionRepo, financeRepo, rules, locker, m, logger,
		importservice.Options{
			MaxErrorFraction: cfg.Import.MaxErrorFraction,
			DedupWindowDays:  cfg.Import.DedupWindowDays,
			SessionTTL:       time.Duration(cfg.Import.SessionTTLHours) * time.Hour,
		})

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      database,
		metrics: m,
		finance: financeRepo,
		imports: imports,
		rules:   rules,
	}, nil
}

func (a *app) close() {
	a.db.Close()
}
