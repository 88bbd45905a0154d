package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"BookmarkEnricher/internal/api"
	"BookmarkEnricher/internal/config"
	"BookmarkEnricher/internal/infrastructure/llm"
	"BookmarkEnricher/internal/infrastructure/ner"
	"BookmarkEnricher/internal/infrastructure/pagefetch"
	"BookmarkEnricher/internal/infrastructure/scheduler"
	"BookmarkEnricher/internal/infrastructure/storage"
	"BookmarkEnricher/internal/infrastructure/telegram"
	"BookmarkEnricher/internal/logging"
	"BookmarkEnricher/internal/ports"
	"BookmarkEnricher/internal/usecase"
	"BookmarkEnricher/pkg/logger"
)

const (
	poolWorkers = 4
	poolQueue   = 64
)

// Application wires configuration to adapters, use cases and the HTTP
// surface, and owns the process lifecycle.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	pool     *usecase.WorkerPool
	enricher *usecase.Enricher
	reaper   *usecase.Reaper
	server   *api.Server
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	repo := storage.NewPostgresRepository(db)
	generator := llm.NewClient(cfg.Generation, baseLogger.With("component", "llm"))
	fetcher := pagefetch.NewFetcher(baseLogger.With("component", "fetcher"))

	var recognizer ports.EntityRecognizer
	if cfg.NER.Endpoint != "" {
		recognizer = ner.NewClient(cfg.NER)
	}

	var alerts ports.AlertNotifier
	if cfg.Notifications.Telegram.BotToken != "" {
		alerts = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	pool := usecase.NewWorkerPool(poolWorkers, poolQueue, logger.New("worker"))

	enricher := usecase.NewEnricher(usecase.EnricherDeps{
		Documents:  repo,
		Bookmarks:  repo,
		Generator:  generator,
		Fetcher:    fetcher,
		Recognizer: recognizer,
		Alerts:     alerts,
		Leases:     usecase.NewLeaseTable(cfg.Lease.TTL()),
		Pool:       pool,
		Logger:     baseLogger.With("component", "enricher"),
	})

	reaper := usecase.NewReaper(repo,
		scheduler.NewIntervalScheduler(cfg.Reaper.Interval()),
		enricher, cfg.Reaper.StaleAfter(),
		baseLogger.With("component", "reaper"))

	server := api.NewServer(cfg.HTTP.Addr, enricher, baseLogger.With("component", "api"))

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		pool:     pool,
		enricher: enricher,
		reaper:   reaper,
		server:   server,
	}, nil
}

// Run starts the workers, the stale sweep and the HTTP listener, then
// blocks until ctx is cancelled and everything has drained.
func (a *Application) Run(ctx context.Context) error {
	if err := storage.EnsureSchema(ctx, a.db); err != nil {
		return err
	}

	a.pool.Start(ctx)
	if err := a.reaper.Start(ctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTP.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}
	if err := a.reaper.Stop(shutdownCtx); err != nil {
		a.logger.Error("reaper stop failed", "error", err)
	}
	a.pool.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", "error", err)
	}

	return serveErr
}
