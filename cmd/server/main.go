package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/setpoint/internal/advisor"
	"github.com/copyleftdev/setpoint/internal/bounds"
	"github.com/copyleftdev/setpoint/internal/config"
	"github.com/copyleftdev/setpoint/internal/economics"
	apperrors "github.com/copyleftdev/setpoint/internal/errors"
	"github.com/copyleftdev/setpoint/internal/history"
	"github.com/copyleftdev/setpoint/internal/logging"
	"github.com/copyleftdev/setpoint/internal/metrics"
	"github.com/copyleftdev/setpoint/internal/plant"
	"github.com/copyleftdev/setpoint/internal/redisstore"
	"github.com/copyleftdev/setpoint/internal/server"
)

const version = "0.3.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Create a service logger with additional fields
	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "setpoint-advisor",
		"version": version,
	})
	zapLogger := logging.NewZapLogger(serviceLogger)
	defer func() { _ = zapLogger.Sync() }()

	limits, pricing, err := loadPlantFile(cfg.Advisor.PlantFile)
	if err != nil {
		serviceLogger.Fatal("Failed to load plant file", map[string]interface{}{
			"path":  cfg.Advisor.PlantFile,
			"error": err.Error(),
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	results := advisor.NewResultLog(cfg.Advisor.ResultLogSize)
	opts := advisor.Options{
		HybridWeight:    cfg.Advisor.HybridWeight,
		TrialBudget:     cfg.Advisor.TrialBudget,
		WarmupTrials:    cfg.Advisor.WarmupTrials,
		DefaultNData:    cfg.Advisor.DefaultNData,
		MinSnapshots:    cfg.Advisor.MinSnapshots,
		RandomSeed:      cfg.Advisor.RandomSeed,
		Segment:         cfg.Advisor.Segment,
		Kernel:          cfg.Advisor.Kernel,
		ExplorationXi:   cfg.Advisor.ExplorationXi,
		GPNoise:         cfg.Advisor.GPNoise,
		Limits:          bounds.Static(limits),
		Pricing:         economics.Static(pricing),
		FallbackLimits:  limits,
		FallbackPricing: &pricing,
		Sinks:           []advisor.ResultSink{results},
		Metrics:         m,
		Logger:          zapLogger,
	}

	var store *redisstore.Store
	if cfg.Redis.Addr != "" {
		store, err = redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redisstore.WithBasePricing(pricing))
		if err != nil {
			serviceLogger.Fatal("Failed to connect to redis", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
		}
		opts.Limits = store
		opts.Pricing = store
		opts.Sinks = append(opts.Sinks, store)
		serviceLogger.Info("Using redis for limits, pricing and results", map[string]interface{}{
			"addr": cfg.Redis.Addr,
			"db":   cfg.Redis.DB,
		})
	}

	engine, err := advisor.New(history.New(cfg.Advisor.HistoryCapacity), opts)
	if err != nil {
		serviceLogger.Fatal("Failed to create advisor", map[string]interface{}{"error": err.Error()})
	}

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(apperrors.RecoveryMiddleware(serviceLogger))
	r.Use(apperrors.ErrorHandler(serviceLogger))

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	srv := server.NewServer(engine, results, serviceLogger)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Advisor.ScheduleInterval > 0 {
		scheduler := advisor.NewScheduler(engine, cfg.Advisor.ScheduleInterval,
			advisor.Request{Segment: cfg.Advisor.Segment}, zapLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	// Start HTTP server
	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address":           httpServer.Addr,
			"hybrid_weight":     cfg.Advisor.HybridWeight,
			"trial_budget":      cfg.Advisor.TrialBudget,
			"kernel":            cfg.Advisor.Kernel,
			"schedule_interval": cfg.Advisor.ScheduleInterval.String(),
		})

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	<-ctx.Done()
	serviceLogger.Info("Shutting down server...", map[string]interface{}{
		"in_flight": srv.InFlight(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// Cancel running optimizations first so handlers return promptly.
	if err := srv.Close(); err != nil {
		serviceLogger.Error("error closing server resources", map[string]interface{}{"error": err.Error()})
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	wg.Wait()

	if store != nil {
		if err := store.Close(); err != nil {
			serviceLogger.Error("error closing redis", map[string]interface{}{"error": err.Error()})
		}
	}

	serviceLogger.Info("server exited properly", map[string]interface{}{
		"uptime": time.Since(startedAt).String(),
	})
}

var startedAt = time.Now()

// loadPlantFile returns the operating limits and base pricing. Without a
// plant file the limits are empty and pricing is the built-in default.
func loadPlantFile(path string) ([]plant.Limit, economics.Pricing, error) {
	pricing := economics.DefaultPricing()
	if path == "" {
		return nil, pricing, nil
	}
	profile, err := plant.LoadProfile(path)
	if err != nil {
		return nil, pricing, err
	}
	pricing, err = pricing.With(profile.Pricing)
	if err != nil {
		return nil, pricing, fmt.Errorf("plant file pricing: %w", err)
	}
	return profile.OperatingLimits, pricing, nil
}
