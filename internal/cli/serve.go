package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bizmesh/beckn-gateway/internal/callback"
	"github.com/bizmesh/beckn-gateway/internal/config"
	"github.com/bizmesh/beckn-gateway/internal/gate"
	"github.com/bizmesh/beckn-gateway/internal/handlers"
	"github.com/bizmesh/beckn-gateway/internal/idempotency"
	"github.com/bizmesh/beckn-gateway/internal/logging"
	"github.com/bizmesh/beckn-gateway/internal/registry"
	"github.com/bizmesh/beckn-gateway/internal/server"
	"github.com/bizmesh/beckn-gateway/internal/signing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("gateway"))
	logging.SetDefault(logger)

	slog.Info("starting gateway",
		slog.Int("port", cfg.Server.Port),
		slog.String("subscriber_id", cfg.Subscriber.ID),
		slog.String("registry_url", cfg.Registry.URL),
		slog.String("log_level", cfg.Logging.Level),
	)

	signer, err := signing.NewSigner(cfg.Subscriber.SigningPrivateKey, cfg.Subscriber.ID, cfg.Subscriber.UKID)
	if err != nil {
		return fmt.Errorf("initialize signer: %w", err)
	}

	registryClient := registry.New(registry.Config{
		URL:           cfg.Registry.URL,
		LookupTimeout: cfg.Registry.LookupTimeout,
		CacheTTL:      cfg.Registry.CacheTTL,
		SweepInterval: cfg.Registry.SweepInterval,
		Filter: registry.LookupFilter{
			Domain:  cfg.Subscriber.Domain,
			Country: cfg.Subscriber.Country,
			City:    cfg.Subscriber.City,
			Type:    cfg.Subscriber.Type,
		},
	}, signer)
	defer registryClient.Close()

	var store idempotency.Store
	switch cfg.Idempotency.Backend {
	case "redis":
		store, err = idempotency.NewRedisStore(cfg.Idempotency.RedisURL)
		if err != nil {
			return fmt.Errorf("initialize redis idempotency store: %w", err)
		}
		slog.Info("idempotency store enabled", slog.String("backend", "redis"))
	default:
		store = idempotency.NewMemoryStore(cfg.Idempotency.SweepInterval)
		slog.Info("idempotency store enabled", slog.String("backend", "memory"))
	}
	defer store.Close()

	dispatcher := callback.New(signer, callback.Config{
		MaxAttempts:               cfg.Callback.MaxAttempts,
		BaseDelay:                 cfg.Callback.BaseDelay,
		Timeout:                   cfg.Callback.Timeout,
		DuplicateSignatureHeaders: cfg.Callback.DuplicateSignatureHeaders,
	}, logger)

	verifier := signing.NewVerifier(registryClient)

	g := gate.New(verifier, store, dispatcher, logger, gate.Options{
		Workers:             cfg.Processing.Workers,
		QueueSize:           cfg.Processing.QueueSize,
		ResultTTL:           cfg.Idempotency.TTL,
		CacheFailureActions: cfg.Idempotency.CacheFailureActions,
	})
	defer g.Close()

	for _, action := range handlers.Actions {
		g.Register(action, &handlers.LoggingProcessor{Logger: logger})
	}

	handler := handlers.NewProtocolHandler(g, logger)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	slog.Info("gateway stopped")
	return nil
}
