package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carrierlink/internal/api"
	"carrierlink/internal/auth"
	"carrierlink/internal/buildinfo"
	"carrierlink/internal/config"
	"carrierlink/internal/events"
	"carrierlink/internal/integration"
	"carrierlink/internal/integration/carriers"
	"carrierlink/internal/logging"
	"carrierlink/internal/metrics"
	"carrierlink/internal/service"
	"carrierlink/internal/store"
	"carrierlink/internal/telemetry"
	"carrierlink/internal/webhooks"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()
	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()
	if cfg.Observability.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Observability.ServiceName, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, closeBus := openBus(ctx, cfg, logger)
	defer closeBus()

	var pub events.Publisher = bus
	if cfg.Forward.URL != "" {
		fwd := webhooks.NewPublisher([]webhooks.Target{{
			URL:    cfg.Forward.URL,
			Secret: cfg.Forward.Secret,
			Types:  cfg.Forward.Types,
		}}, logger)
		worker := webhooks.NewWorker(fwd, cfg.Forward.MaxAttempts, logger)
		worker.Start()
		defer worker.Close()
		pub = events.Multi(bus, fwd)
		logger.Info("forwarding events", zap.String("url", cfg.Forward.URL), zap.Strings("types", cfg.Forward.Types))
	}

	reg := integration.NewRegistry()
	carriers.Register(reg)
	svc := service.New(reg,
		service.WithLogger(logger),
		service.WithBus(pub),
		service.WithStore(st),
	)
	defer svc.Shutdown(context.Background())

	if err := initializeCarriers(ctx, svc, cfg.CarriersFile, logger); err != nil {
		return err
	}

	verifier := auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.APIKeys, cfg.Auth.HMACSecret, cfg.Auth.JWKSURL)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewServer(svc, verifier, bus, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening",
			zap.String("addr", srv.Addr),
			zap.String("version", buildinfo.Version),
			zap.String("auth", verifier.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore uses Postgres when DATABASE_URL is set and memory otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory event log")
		return store.NewMemory(0), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("using postgres event log")
	return pg, func() { _ = pg.Close() }, nil
}

// openBus uses Redis when REDIS_URL is set and reachable, falling back to the
// in-process broker.
func openBus(ctx context.Context, cfg config.Config, logger *zap.Logger) (events.Bus, func()) {
	if cfg.RedisURL == "" {
		return events.NewBroker(), func() {}
	}
	rb, err := events.NewRedisBus(cfg.RedisURL, logger)
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = rb.Ping(pingCtx)
		cancel()
		if err == nil {
			logger.Info("using redis event bus")
			return rb, func() { _ = rb.Close() }
		}
		_ = rb.Close()
	}
	logger.Warn("redis unavailable, using in-process event bus", zap.Error(err))
	return events.NewBroker(), func() {}
}

// initializeCarriers connects every configured carrier concurrently. A
// carrier that fails stays registered and can be retried over the API.
func initializeCarriers(ctx context.Context, svc *service.Service, path string, logger *zap.Logger) error {
	entries, err := config.LoadCarriers(path)
	if err != nil {
		return fmt.Errorf("load carriers: %w", err)
	}
	if len(entries) == 0 {
		logger.Info("no carriers configured", zap.String("file", path))
		return nil
	}
	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			if err := svc.InitializeCarrier(ctx, e.CarrierID, e.Config); err != nil {
				logger.Warn("carrier initialization failed", zap.String("carrier", e.CarrierID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("carriers initialized", zap.Int("configured", len(entries)), zap.Int("active", len(svc.ActiveIntegrations())))
	return nil
}
