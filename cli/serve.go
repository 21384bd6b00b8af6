package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"token-proxy/auth"
	"token-proxy/config"
	"token-proxy/logging"
	"token-proxy/metrics"
	"token-proxy/server"
	"token-proxy/service"
	"token-proxy/storage"
	"token-proxy/tokens"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /api/token, /api/health and the static client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFileFlag(cmd))
			if err != nil {
				return withCode(ExitConfigError, fmt.Errorf("config load failed: %w", err))
			}

			logger := logging.New(cmd.ErrOrStderr(), bool(cfg.Debug))
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := serve(ctx, cfg, logger); err != nil {
				return withCode(ExitRuntimeError, err)
			}
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var journal *storage.Batcher
	if cfg.Postgres.Enabled() {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("pgxpool.New: %w", err)
		}
		defer pool.Close()

		if err := storage.EnsureSchema(ctx, pool, cfg.Journal.FlushTimeout); err != nil {
			return err
		}

		// журналом владеет Service: он останавливается после HTTP сервера
		journal = storage.NewBatcher(context.WithoutCancel(ctx), pool, storage.BatchConfig{
			MaxBatch:      cfg.Journal.MaxBatch,
			FlushEvery:    cfg.Journal.FlushEvery,
			ChanBuffer:    cfg.Journal.ChanBuffer,
			StatsLogEvery: cfg.Journal.StatsLogEvery,
			FlushTimeout:  cfg.Journal.FlushTimeout,
		}, logger)
		defer journal.Stop()
		logger.Info("journal: запись запросов токена в PostgreSQL включена", "host", cfg.Postgres.Host, "db", cfg.Postgres.DB)
	}

	handler := service.NewHandler(journal, m, logger)
	client := auth.NewClient(cfg.OAuth, nil)
	manager := tokens.NewManager(&tokens.MemoryStore{}, client.RequestToken,
		tokens.WithFetchHook(handler.HandleFetch),
		tokens.WithLogger(logger),
	)

	httpHandler, err := server.NewHandler(manager, server.Options{
		StaticDir: cfg.Server.StaticDir,
		Metrics:   m,
		Gatherer:  reg,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Debug("token provider", "url", cfg.OAuth.TokenURL, "client_id", cfg.OAuth.ClientID, "username", cfg.OAuth.Username)

	srv := server.New(cfg.Server.Addr(), httpHandler, cfg.Server.ShutdownTimeout, logger)
	if err := service.New(srv, journal).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("service run failed: %w", err)
	}

	logger.Info("shutting down...")
	return nil
}
