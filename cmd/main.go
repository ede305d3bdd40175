package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/amendment"
	"github.com/ph0en1x29/FT-sub001/internal/auth"
	"github.com/ph0en1x29/FT-sub001/internal/checkrun"
	"github.com/ph0en1x29/FT-sub001/internal/config"
	"github.com/ph0en1x29/FT-sub001/internal/db"
	"github.com/ph0en1x29/FT-sub001/internal/handlers"
	"github.com/ph0en1x29/FT-sub001/internal/intents"
	"github.com/ph0en1x29/FT-sub001/internal/metrics"
	"github.com/ph0en1x29/FT-sub001/internal/middleware"
	"github.com/ph0en1x29/FT-sub001/internal/readings"
	"github.com/ph0en1x29/FT-sub001/internal/schedule"
	"github.com/ph0en1x29/FT-sub001/internal/upgrade"
	"github.com/ph0en1x29/FT-sub001/internal/usage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// app is the wired service: HTTP server plus the scheduled service check.
// /metrics is served outside authentication for the scraper.
type app struct {
	server  *http.Server
	runner  *checkrun.Runner
	limiter *middleware.RateLimiter
}

func newApp(cfg *config.Config, store db.Store, sink intents.Sink) (*app, error) {
	logger := log.StandardLogger()
	e := cfg.Engine

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	estimator := usage.NewEstimator(e.UsageLookback(), e.TrendThresholdPercent)
	planner := schedule.NewPlanner(store, schedule.NewCalculator(e), estimator, e.StalenessThreshold(), logger)
	runner := checkrun.NewRunner(store, planner, sink, cfg.CheckWorkers, logger).WithMetrics(recorder)

	api := handlers.NewAPI(handlers.Deps{
		Store:      store,
		Readings:   readings.NewService(store, readings.NewValidator(readings.ThresholdsFrom(e), estimator), logger).WithMetrics(recorder),
		Amendments: amendment.NewWorkflow(store, logger).WithMetrics(recorder),
		Advisor:    upgrade.NewAdvisor(store, planner, logger),
		Planner:    planner,
		Runner:     runner,
		Logger:     logger,
	})

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}
	var limiter *middleware.RateLimiter
	if cfg.ReadingRateLimit > 0 {
		limiter, err = middleware.NewRateLimiter(middleware.RateLimitConfig{
			PerMinute:      cfg.ReadingRateLimit,
			TrustedProxies: cfg.TrustedProxies,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/", api.Routes(middleware.NewAuthMiddleware(authService), limiter))

	return &app{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		runner:  runner,
		limiter: limiter,
	}, nil
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config) (db.Store, func(), error) {
	if cfg.Store == "memory" {
		log.Warn("Using in-memory store; data is lost on exit")
		return db.NewMemoryStore(), func() {}, nil
	}

	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.WithError(err).Warn("MongoDB disconnect failed")
		}
	}

	if err := db.CheckTransactions(ctx, client); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("%w: start mongod with --replSet (a single-node replica set is enough) or set STORE=memory", err)
	}

	store := db.NewMongoStore(client, cfg.MongoDB)
	if err := store.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
	return store, closeFn, nil
}

// openSink publishes intents over MQTT when a broker is configured and logs
// them otherwise.
func openSink(cfg *config.Config) (intents.Sink, func(), error) {
	if cfg.MQTTBroker == "" {
		log.Info("MQTT_BROKER not set; intents are logged only")
		return intents.NewLogSink(log.StandardLogger()), func() {}, nil
	}
	sink, err := intents.NewMQTTSink(intents.MQTTConfig{
		Broker:      cfg.MQTTBroker,
		ClientID:    cfg.MQTTClientID,
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
		TopicPrefix: cfg.MQTTTopicPrefix,
		QoS:         1,
	})
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	a, err := newApp(cfg, store, sink)
	if err != nil {
		return err
	}

	go a.runner.Schedule(ctx, cfg.CheckInterval)
	if a.limiter != nil {
		go a.limiter.Run(ctx, time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
