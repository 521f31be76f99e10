// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/parityqa/parity/services/analysis"
	"github.com/parityqa/parity/services/behavioral"
	"github.com/parityqa/parity/services/comparator"
	"github.com/parityqa/parity/services/fingerprint"
	"github.com/parityqa/parity/services/llm"
	"github.com/parityqa/parity/services/orchestrator/handlers"
	"github.com/parityqa/parity/services/orchestrator/observability"
	"github.com/parityqa/parity/services/orchestrator/routes"
	"github.com/parityqa/parity/services/progress"
	"github.com/parityqa/parity/services/report"
	"github.com/parityqa/parity/services/scheduler"
	"github.com/parityqa/parity/services/session"
	badgerstorage "github.com/parityqa/parity/services/storage/badger"
)

// Config holds the deployment knobs, all settable from the environment.
type Config struct {
	// Host and Port form the listen address.
	Host string
	Port string

	// DataDir roots the BadgerDB databases (sessions and cache).
	DataDir string

	// JWTSecret enables bearer auth when non-empty.
	JWTSecret []byte

	// MaxUploadBytes caps the in-memory share of a multipart upload.
	MaxUploadBytes int64

	// Concurrency is the worker pool size and global admission cap.
	Concurrency int

	// SessionDeadline is the hard per-session wall clock budget.
	SessionDeadline time.Duration

	// RateRPS/RateBurst bound per-tenant API request rates. Zero RPS
	// disables the limiter.
	RateRPS   float64
	RateBurst int
}

// ConfigFromEnv builds the configuration from environment variables,
// falling back to production defaults.
func ConfigFromEnv() Config {
	deadline := time.Duration(getEnvInt("SESSION_DEADLINE_SECONDS", 1800)) * time.Second
	return Config{
		Host:            getEnvString("ORCHESTRATOR_HOST", "0.0.0.0"),
		Port:            getEnvString("ORCHESTRATOR_PORT", "12210"),
		DataDir:         getEnvString("UPLOAD_DIR", "/var/lib/parity"),
		JWTSecret:       []byte(os.Getenv("JWT_SECRET_KEY")),
		MaxUploadBytes:  int64(getEnvInt("MAX_FILE_SIZE", 10<<20)),
		Concurrency:     getEnvInt("ASYNC_CONCURRENCY_LIMIT", 32),
		SessionDeadline: deadline,
		RateRPS:         float64(getEnvInt("RATE_LIMIT_RPS", 10)),
		RateBurst:       getEnvInt("RATE_LIMIT_BURST", 20),
	}
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric environment variable", "key", key, "value", v)
		return fallback
	}
	return n
}

// InitTracer configures the OTLP gRPC exporter from
// OTEL_EXPORTER_OTLP_ENDPOINT and installs the global tracer provider.
// The returned cleanup flushes and shuts the exporter down.
func InitTracer(serviceName string) (func(context.Context), error) {
	ctx := context.Background()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "parity-otel-collector:4317"
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// Server is the assembled validation service.
type Server struct {
	cfg    Config
	logger *slog.Logger

	router    *gin.Engine
	sessionDB *badger.DB
	cacheDB   *badger.DB
	gcRunners []*badgerstorage.GCRunner

	store     *session.Store
	scheduler *scheduler.Scheduler
	broker    *progress.Broker
	vault     *behavioral.Vault
	metrics   *observability.ValidationMetrics
}

// NewServer wires every subsystem. LLM providers are optional: a
// deployment with no API keys runs with structural comparison only.
func NewServer(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sessionCfg := badgerstorage.DefaultConfig()
	sessionCfg.Path = filepath.Join(cfg.DataDir, "sessions")
	sessionCfg.Logger = logger
	sessionDB, err := badgerstorage.Open(sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	cacheCfg := badgerstorage.CacheConfig()
	cacheCfg.Path = filepath.Join(cfg.DataDir, "cache")
	cacheCfg.Logger = logger
	cacheDB, err := badgerstorage.Open(cacheCfg)
	if err != nil {
		sessionDB.Close()
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	var gcRunners []*badgerstorage.GCRunner
	for _, pair := range []struct {
		db  *badger.DB
		cfg badgerstorage.Config
	}{{sessionDB, sessionCfg}, {cacheDB, cacheCfg}} {
		gc, err := badgerstorage.NewGCRunner(pair.db, pair.cfg, logger)
		if err != nil {
			sessionDB.Close()
			cacheDB.Close()
			return nil, fmt.Errorf("badger gc runner: %w", err)
		}
		gcRunners = append(gcRunners, gc)
	}

	fpStore, err := fingerprint.NewBadgerStore(cacheDB)
	if err != nil {
		sessionDB.Close()
		cacheDB.Close()
		return nil, fmt.Errorf("fingerprint store: %w", err)
	}
	cache := fingerprint.NewCache(fpStore, logger)

	dispatcher := buildDispatcher(cache, logger)

	registry := analysis.NewRegistry(analysis.NewRegexAnalyzer())
	registry.Register(analysis.NewPythonAnalyzer())
	registry.Register(analysis.NewJavaScriptAnalyzer())
	registry.Register(analysis.NewHTMLAnalyzer())

	var (
		visual     *analysis.VisualAnalyzer
		summarizer *analysis.Summarizer
		matcher    *comparator.SemanticMatcher
	)
	if dispatcher != nil {
		visual = analysis.NewVisualAnalyzer(dispatcher)
		summarizer = analysis.NewSummarizer(dispatcher, logger)
		matcher = comparator.NewSemanticMatcher(dispatcher)
	}
	stageRunner := analysis.NewStageRunner(analysis.DefaultConfig(), registry, cache, visual, summarizer, logger)
	cmp := comparator.NewComparator(matcher, logger)

	prober := behavioral.NewRodProber(behavioral.DefaultProberConfig())
	runner := behavioral.NewRunner(behavioral.DefaultRunnerConfig(), prober, logger)
	vault := behavioral.NewVault()

	broker := progress.NewBroker(progress.Config{Logger: logger})
	store := session.NewStore(sessionDB, broker, logger)
	metrics := observability.InitMetrics()

	var budget *llm.Budget
	if dispatcher != nil {
		budget = dispatcher.Budget()
	}
	pipeline := NewPipeline(store, stageRunner, cmp, runner, vault, budget, metrics, logger)

	schedCfg := scheduler.DefaultConfig()
	if cfg.Concurrency > 0 {
		schedCfg.Workers = cfg.Concurrency
		schedCfg.MaxGlobal = cfg.Concurrency
	}
	if cfg.SessionDeadline > 0 {
		schedCfg.SessionDeadline = cfg.SessionDeadline
	}
	sched := scheduler.New(schedCfg, store, pipeline, logger)

	deps := handlers.Deps{
		Store:     store,
		Scheduler: sched,
		Broker:    broker,
		Renderer:  report.NewRenderer(logger),
		Vault:     vault,
		Logger:    logger,
		Metrics:   metrics,
		Checks: map[string]handlers.HealthCheck{
			"storage": func(context.Context) error {
				if sessionDB.IsClosed() {
					return errors.New("session database closed")
				}
				return nil
			},
			"scheduler": func(context.Context) error {
				if sched.Stats().Refusing {
					return errors.New("refusing admissions")
				}
				return nil
			},
			"llm": func(context.Context) error {
				if dispatcher == nil {
					return errors.New("no providers configured")
				}
				return nil
			},
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.MaxUploadBytes > 0 {
		router.MaxMultipartMemory = cfg.MaxUploadBytes
	}

	routes.SetupRoutes(router, deps, routes.Options{
		JWTSecret: cfg.JWTSecret,
		RateRPS:   rate.Limit(cfg.RateRPS),
		RateBurst: cfg.RateBurst,
		Metrics:   metrics,
	})

	return &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		sessionDB: sessionDB,
		cacheDB:   cacheDB,
		gcRunners: gcRunners,
		store:     store,
		scheduler: sched,
		broker:    broker,
		vault:     vault,
		metrics:   metrics,
	}, nil
}

// buildDispatcher assembles the provider chain from whatever API keys
// the environment carries. Nil means no provider is reachable and the
// LLM-dependent features degrade to structural comparison.
func buildDispatcher(cache *fingerprint.Cache, logger *slog.Logger) *llm.Dispatcher {
	prices := llm.DefaultPriceTable()
	var providers []llm.Provider

	if p, err := llm.NewOpenAIProvider(prices); err == nil {
		providers = append(providers, p)
	} else {
		logger.Info("OpenAI provider disabled", "reason", err)
	}
	if p, err := llm.NewAnthropicProvider(prices); err == nil {
		providers = append(providers, p)
	} else {
		logger.Info("Anthropic provider disabled", "reason", err)
	}
	if p, err := llm.NewOllamaProvider(); err == nil {
		providers = append(providers, p)
	} else {
		logger.Info("Ollama provider disabled", "reason", err)
	}

	if len(providers) == 0 {
		logger.Warn("no LLM providers configured; semantic matching disabled")
		return nil
	}

	budget := llm.NewBudget(llm.DefaultBudgetConfig())
	dispatcher, err := llm.NewDispatcher(llm.DefaultConfig(), providers, cache, budget, logger)
	if err != nil {
		logger.Error("LLM dispatcher init failed; semantic matching disabled", "error", err)
		return nil
	}
	return dispatcher
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the workers and serves HTTP until ctx is cancelled, then
// shuts everything down in reverse order.
func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, gc := range s.gcRunners {
		gc.Start()
	}
	go s.pollStats(ctx)

	addr := s.cfg.Host + ":" + s.cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("validation API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.shutdown()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown failed", "error", err)
	}
	s.shutdown()
	return nil
}

// shutdown stops background work and closes storage.
func (s *Server) shutdown() {
	s.scheduler.Stop()
	s.broker.Close()
	for _, gc := range s.gcRunners {
		gc.Stop()
	}
	if err := s.cacheDB.Close(); err != nil {
		s.logger.Error("cache database close failed", "error", err)
	}
	if err := s.sessionDB.Close(); err != nil {
		s.logger.Error("session database close failed", "error", err)
	}
	s.logger.Info("orchestrator stopped")
}

// pollStats mirrors scheduler occupancy into the gauges.
func (s *Server) pollStats(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := s.scheduler.Stats()
			s.metrics.SetQueueDepth(stats.Interactive, stats.Batch)
			s.metrics.ActiveSessions.Set(float64(stats.Admitted - stats.QueueDepth))
		case <-ctx.Done():
			return
		}
	}
}
