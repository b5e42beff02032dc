package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/agrisage-cloud/knowd/internal/config"
	"github.com/agrisage-cloud/knowd/internal/db"
	dbMemory "github.com/agrisage-cloud/knowd/internal/db/memory"
	dbRedis "github.com/agrisage-cloud/knowd/internal/db/redis"
	"github.com/agrisage-cloud/knowd/internal/domain"
	domchunk "github.com/agrisage-cloud/knowd/internal/domain/chunk"
	logpkg "github.com/agrisage-cloud/knowd/internal/logger"
	"github.com/agrisage-cloud/knowd/internal/metrics"
	chunkrepo "github.com/agrisage-cloud/knowd/internal/repository/chunk"
	"github.com/agrisage-cloud/knowd/internal/repository/content"
	dirrepo "github.com/agrisage-cloud/knowd/internal/repository/directory"
	docrepo "github.com/agrisage-cloud/knowd/internal/repository/document"
	"github.com/agrisage-cloud/knowd/internal/repository/embcache"
	usagerepo "github.com/agrisage-cloud/knowd/internal/repository/usage"
	chiTransport "github.com/agrisage-cloud/knowd/internal/transport/chi"
	openaiEmb "github.com/agrisage-cloud/knowd/internal/transport/openai"
	accessuc "github.com/agrisage-cloud/knowd/internal/usecase/access"
	directoryuc "github.com/agrisage-cloud/knowd/internal/usecase/directory"
	embeddinguc "github.com/agrisage-cloud/knowd/internal/usecase/embedding"
	healthuc "github.com/agrisage-cloud/knowd/internal/usecase/health"
	ingestuc "github.com/agrisage-cloud/knowd/internal/usecase/ingest"
	retrievaluc "github.com/agrisage-cloud/knowd/internal/usecase/retrieval"
	usageuc "github.com/agrisage-cloud/knowd/internal/usecase/usage"
	"github.com/agrisage-cloud/knowd/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting knowd API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Create database store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
	case "memory":
		store = dbMemory.NewStore()
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	// Repositories
	docRepo := docrepo.New(store)
	chunkRepo := chunkrepo.New(store)
	dirRepo := dirrepo.New(store)
	usageRepo := usagerepo.New(store, time.Duration(cfg.Usage.RetentionDays)*24*time.Hour)

	if err := docRepo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure document index", zap.Error(err))
	}
	if err := chunkRepo.EnsureIndex(ctx, cfg.Embedding.Dimensions); err != nil {
		logger.Fatal("Failed to ensure chunk index", zap.Error(err))
	}

	// Embedder chain: OpenAI -> Cached -> Instrumented
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	var embedder domain.Embedder = embcache.New(
		base, store,
		time.Duration(cfg.Embedding.CacheTTLHours)*time.Hour,
		metrics.EmbeddingCacheTotal, logger,
	)
	instrumented := embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Embedding.Provider, cfg.Embedding.Model, logger,
	).WithMaxBatchSize(cfg.Embedding.MaxBatchSize)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Content source serving ingestion fetches
	source := content.NewFileSource(cfg.Ingest.ContentRoot)

	splitter, err := domchunk.NewSplitter(cfg.Ingest.ChunkWindow, cfg.Ingest.ChunkOverlap)
	if err != nil {
		logger.Fatal("Invalid chunking settings", zap.Error(err))
	}

	// Use case services
	dirSvc := directoryuc.New(dirRepo)
	accessSvc := accessuc.New(dirRepo, docRepo)
	usageSvc := usageuc.New(docRepo, usageRepo, cfg.Usage.RelevanceThreshold, logger)
	ingestSvc := ingestuc.New(docRepo, chunkRepo, dirRepo, source, instrumented, splitter,
		ingestuc.Options{
			Workers:        cfg.Ingest.Workers,
			QueueSize:      cfg.Ingest.QueueSize,
			BackoffBase:    time.Duration(cfg.Ingest.BackoffBaseMS) * time.Millisecond,
			ProcessedTotal: metrics.IngestionProcessedTotal,
			Duration:       metrics.IngestionDuration,
		}, logger)
	retrievalSvc := retrievaluc.New(accessSvc, chunkRepo, docRepo, instrumented, usageSvc,
		retrievaluc.Options{
			LeakDropped: metrics.RetrievalLeakDroppedTotal,
			Queries:     metrics.RetrievalQueriesTotal,
		}, logger)

	var embChecker healthuc.EmbeddingChecker
	if cfg.Embedding.APIKey != "" {
		embChecker = base
	}
	healthSvc := healthuc.New(store, embChecker)

	// Ingestion worker pool
	workerCtx, stopWorkers := context.WithCancel(ctx)
	ingestSvc.Start(workerCtx)

	server := chiTransport.NewServer(
		docRepo, ingestSvc, retrievalSvc, usageSvc, accessSvc, dirSvc, healthSvc, logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(chiTransport.IdentityMiddleware())
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Let in-flight ingestion attempts finish their rollback paths.
	stopWorkers()
	ingestSvc.Wait()

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
