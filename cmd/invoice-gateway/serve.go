package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcmexdev/invoice-gateway/internal/coordinator"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/app"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/audit"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/auth"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/guard"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/adapters/events"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/adapters/identity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/adapters/square"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/adapters/storage"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/httpx"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/cache"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/config"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/telemetry"
)

func serveCmd(load loader) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func serve(cfg *config.Config) error {
	telemetry.InitLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initialise tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	var roleCache cache.Cache
	if cfg.Redis.Addr != "" {
		roleCache, err = cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "invoice-gateway")
		if err != nil {
			return err
		}
		defer roleCache.Close()
	}

	var publisher ports.AuditPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := kp.Close(); err != nil {
				slog.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = kp
	}

	platform := square.NewClient(square.Config{
		BaseURL:     cfg.Square.BaseURL,
		AccessToken: cfg.Square.AccessToken,
		LocationID:  cfg.Square.LocationID,
		APIVersion:  cfg.Square.APIVersion,
		Currency:    cfg.Square.Currency,
		Timeout:     cfg.Square.Timeout,
	}, nil)
	verifier := identity.NewGoTrueVerifier(cfg.Identity.BaseURL, cfg.Identity.APIKey, cfg.Identity.Timeout, nil)

	saga := coordinator.NewOrchestrator(coordinator.InvoiceSteps(platform, nil), store, cfg.Database.Timeout, nil)

	svc := app.NewService(
		auth.NewGate(verifier),
		auth.NewAuthorizer(store, roleCache, cfg.Limits.RoleCacheTTL),
		guard.NewValidator(cfg.Limits.MaxAmountCents),
		guard.NewReplayGuard(cfg.Limits.ReplayMaxAge, cfg.Limits.ReplayMaxSkew, nil),
		guard.NewRateLimiter(store, cfg.Limits.UserPerHour, cfg.Limits.GlobalPerHour, nil),
		store,
		saga,
		audit.NewRecorder(store, publisher, cfg.Database.Timeout, nil),
		app.Options{StoreTimeout: cfg.Database.Timeout, StaleAfter: cfg.Limits.StaleAfter},
	)

	router := httpx.NewRouter(httpx.NewHandler(svc, store), httpx.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustProxy:     cfg.HTTP.TrustProxy,
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("invoice gateway running", "addr", cfg.HTTP.Addr, "database", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
