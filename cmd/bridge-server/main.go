package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ayushbridge/ayushbridge/internal/config"
	"github.com/ayushbridge/ayushbridge/internal/domain/admin"
	"github.com/ayushbridge/ayushbridge/internal/domain/audit"
	"github.com/ayushbridge/ayushbridge/internal/domain/batch"
	"github.com/ayushbridge/ayushbridge/internal/domain/mapping"
	"github.com/ayushbridge/ayushbridge/internal/domain/terminology"
	"github.com/ayushbridge/ayushbridge/internal/platform/cache"
	"github.com/ayushbridge/ayushbridge/internal/platform/db"
	"github.com/ayushbridge/ayushbridge/internal/platform/embedding"
	"github.com/ayushbridge/ayushbridge/internal/platform/icd"
	"github.com/ayushbridge/ayushbridge/internal/platform/llm"
	"github.com/ayushbridge/ayushbridge/internal/platform/middleware"
	"github.com/ayushbridge/ayushbridge/internal/platform/telemetry"
	"github.com/ayushbridge/ayushbridge/internal/platform/webhook"
)

const (
	serverName    = "AyushBridge"
	serverVersion = "0.1.0"

	migrationsDir = "migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "bridge-server",
		Short:        "NAMASTE to ICD-11 TM2 terminology bridge",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}

	migrateUpCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(func(ctx context.Context, m *db.Migrator) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", applied)
				return nil
			})
		},
	}

	migrateStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status := "pending"
					appliedAt := "-"
					if s.Applied {
						status = "applied"
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}

	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMigrate connects a small pool, runs fn against the migrator and tears
// the pool down again.
func runMigrate(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, 2, 1)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationsDir))
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().
		Str("service", "ayushbridge").Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("database pool established")

	metrics := telemetry.NewMetrics("ayushbridge")

	caches := cache.NewRegistry(cache.Sizes{
		Mappings:   cfg.CacheMappingsSize,
		Embeddings: cfg.CacheEmbeddingsSize,
		Search:     cfg.CacheSearchSize,
		FHIR:       cfg.CacheFHIRSize,
	})
	caches.StartSweeper(ctx, time.Minute)

	limiter := middleware.NewLimiter(cfg.RateLimitEnabled)
	limiter.OnReject(metrics.RecordRateLimited)
	limiter.StartSweeper(ctx, 5*time.Minute, 10*time.Minute)

	// External model clients are optional: without them the pipeline degrades
	// to lexical retrieval and the heuristic adjudicator fallback.
	var queryEmbedder mapping.Embedder
	var docEmbedder terminology.DocumentEmbedder
	if cfg.GeminiAPIKey != "" {
		embedClient, eerr := embedding.NewClient(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel,
			cfg.EmbeddingDim, cfg.EmbedTimeout(), metrics, logger)
		if eerr != nil {
			return fmt.Errorf("create embedding client: %w", eerr)
		}
		queryEmbedder = embedClient
		docEmbedder = embedClient
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set, semantic retrieval disabled")
	}

	var adjudicator mapping.Adjudicator
	if cfg.AnthropicAPIKey != "" {
		adj, aerr := llm.NewAdjudicator(cfg.AnthropicAPIKey, cfg.LLMModel,
			cfg.LLMTimeout(), metrics, logger)
		if aerr != nil {
			return fmt.Errorf("create adjudicator: %w", aerr)
		}
		adjudicator = adj
	} else {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set, LLM adjudication disabled")
	}

	icdClient := icd.NewClient(cfg.WHOICDBaseURL, "", cfg.WHOClientID, cfg.WHOClientSecret, logger)
	if !icdClient.Configured() {
		logger.Warn().Msg("WHO ICD credentials not set, upstream probe disabled")
	}

	// Repositories and services.
	sourceRepo := terminology.NewSourceRepoPG(pool)
	targetRepo := terminology.NewTargetRepoPG(pool)
	mappingRepo := mapping.NewRepoPG(pool)
	auditRepo := audit.NewRepoPG(pool)

	termSvc := terminology.NewService(sourceRepo, targetRepo, docEmbedder, logger)

	retriever := mapping.NewRetriever(targetRepo, logger)
	pipeline := mapping.NewPipeline(retriever, queryEmbedder, adjudicator,
		caches.Embeddings, metrics, logger)
	mappingSvc := mapping.NewService(sourceRepo, mappingRepo, pipeline,
		caches.Mappings, metrics, logger)

	sender := webhook.NewSender(cfg.WebhookSecret, logger)
	queue := batch.NewQueue(mappingSvc, sender, batch.Options{
		MaxConcurrent: cfg.JobMaxConcurrent,
		ItemDelay:     cfg.JobItemDelay(),
		Retention:     cfg.JobRetention(),
	}, metrics, logger)
	queue.StartReaper(ctx, time.Hour)

	recorder := audit.NewRecorder(auditRepo, 0, logger)

	// HTTP surface.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1MB", "5MB"))
	e.Use(metrics.HTTPMiddleware())
	e.Use(middleware.Identity(cfg.JWTSecret))
	e.Use(middleware.Audit(logger, recorder))

	// Autocomplete: search limiter class plus short-lived response cache.
	searchAPI := e.Group("/api/v1",
		limiter.Middleware(middleware.ClassSearch),
		middleware.ResponseCache(caches.Search))
	// FHIR reads: cached; the terminology operations are all GET-safe.
	fhirRead := e.Group("/fhir",
		limiter.Middleware(middleware.ClassStandard),
		middleware.ResponseCache(caches.FHIR))
	terminology.NewHandler(termSvc, serverName, serverVersion).RegisterRoutes(searchAPI, fhirRead)

	// Interactive translation carries the hard request deadline; listings
	// and batch submissions ride their own limiter classes.
	mappingAPI := e.Group("/api/v1",
		limiter.Middleware(middleware.ClassMapping),
		middleware.RequestTimeout(cfg.RequestDeadline()))
	fhirTranslate := e.Group("/fhir",
		limiter.Middleware(middleware.ClassMapping),
		middleware.RequestTimeout(cfg.RequestDeadline()))
	standardAPI := e.Group("/api/v1", limiter.Middleware(middleware.ClassStandard))
	batchEnqueue := e.Group("/api/v1", limiter.Middleware(middleware.ClassBatch))
	mapping.NewHandler(mappingSvc).RegisterRoutes(mappingAPI, standardAPI, batchEnqueue, fhirTranslate)

	batch.NewHandler(queue).RegisterRoutes(batchEnqueue, standardAPI)

	adminGroup := e.Group("/admin", limiter.Middleware(middleware.ClassStandard))
	admin.NewHandler(caches, limiter, queue, termSvc).RegisterRoutes(adminGroup)
	audit.NewHandler(auditRepo).RegisterRoutes(adminGroup)

	healthLimit := limiter.Middleware(middleware.ClassHealth)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": serverName,
			"version": serverVersion,
		})
	}, healthLimit)

	readinessChecks := []db.ReadinessCheck{db.PoolCheck(pool)}
	if icdClient.Configured() {
		readinessChecks = append(readinessChecks, db.ReadinessCheck{
			Name:  "who_icd",
			Check: icdClient.Ping,
		})
	}
	e.GET("/health/ready", db.ReadinessHandler(readinessChecks...), healthLimit)

	e.GET("/metrics", metrics.Handler(), healthLimit)

	go reportPoolStats(ctx, pool, metrics)

	addr := cfg.Host + ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if serr := e.Start(addr); serr != nil && serr != http.ErrServerClosed {
			errCh <- serr
		}
	}()

	select {
	case err = <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("batch queue shutdown")
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("audit recorder shutdown")
	}

	logger.Info().Msg("server stopped")
	return nil
}

// reportPoolStats mirrors connection pool gauges into Prometheus every 15s.
func reportPoolStats(ctx context.Context, pool *pgxpool.Pool, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.GetPoolStats(pool)
			metrics.SetDBPoolStats(stats.AcquiredConns, stats.IdleConns)
		}
	}
}
