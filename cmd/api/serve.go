package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tapreward/server/internal/auth"
	"github.com/tapreward/server/internal/config"
	"github.com/tapreward/server/internal/db"
	"github.com/tapreward/server/internal/events"
	httphandler "github.com/tapreward/server/internal/http"
	"github.com/tapreward/server/internal/http/handlers"
	"github.com/tapreward/server/internal/metrics"
	"github.com/tapreward/server/internal/replay"
	"github.com/tapreward/server/internal/repo"
	"github.com/tapreward/server/internal/reward"
	"github.com/tapreward/server/internal/siwe"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), configFromContext(cmd.Context()))
		},
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, db.Dialect, error) {
	dialect, err := db.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, "", err
	}
	database, err := db.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	return database, dialect, nil
}

func newAuthority(cfg *config.Config) auth.TapAuthority {
	if cfg.TapDevMode {
		slog.Warn("TAP_DEV_MODE enabled, using in-memory tap authority")
		return auth.NewOtpStub(auth.StubConfig{
			Salt:    cfg.TapStubSalt,
			TTL:     cfg.SessionTTL,
			DevMode: true,
		})
	}
	return auth.NewIYKClient(cfg.TapAPIURL, cfg.TapAPITimeout)
}

func newNonceGuard(ctx context.Context, cfg *config.Config) (replay.Guard, func(), error) {
	if cfg.RedisAddr == "" {
		return replay.NewMemoryGuard(nil), func() {}, nil
	}
	rdb, err := replay.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("nonce replay guard backed by redis", "addr", cfg.RedisAddr)
	return replay.NewRedisGuard(rdb, nil), func() { _ = rdb.Close() }, nil
}

func newPublisher(cfg *config.Config) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.Noop{}
	}
	slog.Info("claim events published over AMQP", "queue", cfg.AMQPQueue)
	return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
}

func serveRun(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("no configuration loaded")
	}

	database, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(ctx, database, dialect); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	nonces, closeNonces, err := newNonceGuard(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeNonces()

	publisher := newPublisher(cfg)
	defer publisher.Close()

	periods := reward.NewPeriodService(repo.NewPeriodRepo(database, dialect), reward.PeriodConfig{
		Duration:     cfg.RewardPeriodDuration,
		StoreTimeout: cfg.StoreTimeout,
		Metrics:      m,
	})
	svc := reward.NewService(reward.Deps{
		Authority: newAuthority(cfg),
		Chips:     repo.NewChipRepo(database, dialect),
		Claims:    repo.NewClaimRepo(database, dialect),
		Periods:   periods,
		Verifier:  siwe.NewVerifier(siwe.WithDomain(cfg.SIWEDomain), siwe.WithMaxValidity(cfg.SIWEMaxValidity)),
		Nonces:    nonces,
		Events:    publisher,
		Metrics:   m,
	}, reward.Config{
		UpstreamTimeout:     cfg.TapAPITimeout,
		StoreTimeout:        cfg.StoreTimeout,
		RequireWallet:       cfg.RequireWallet,
		AllowUnsignedWallet: cfg.AllowUnsignedWallet,
		SIWEDomain:          cfg.SIWEDomain,
		SIWEURI:             cfg.SIWEURI,
		SIWEChainID:         cfg.SIWEChainID,
		ChallengeTTL:        cfg.SIWEMaxValidity,
	})

	router := httphandler.NewRouter(httphandler.RouterConfig{
		Service:    svc,
		Periods:    periods,
		JWTService: auth.NewJWTService(cfg.AdminJWTSecret),
		Cookie: handlers.SessionCookie{
			Name:   cfg.SessionCookieName,
			TTL:    cfg.SessionTTL,
			Secure: cfg.IsProduction(),
		},
		DB:             database,
		Gatherer:       registry,
		RateLimit:      cfg.RateLimitPerMinute,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.AppEnv, "driver", dialect)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server exited")
	return nil
}
