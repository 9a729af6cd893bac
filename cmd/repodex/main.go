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

	"github.com/kailas-cloud/repodex/internal/config"
	dbRedis "github.com/kailas-cloud/repodex/internal/db/redis"
	"github.com/kailas-cloud/repodex/internal/domain"
	logpkg "github.com/kailas-cloud/repodex/internal/logger"
	"github.com/kailas-cloud/repodex/internal/metrics"
	"github.com/kailas-cloud/repodex/internal/parser"
	"github.com/kailas-cloud/repodex/internal/repository/embcache"
	indexrepo "github.com/kailas-cloud/repodex/internal/repository/index"
	"github.com/kailas-cloud/repodex/internal/repository/jobstore"
	searchrepo "github.com/kailas-cloud/repodex/internal/repository/search"
	chiTransport "github.com/kailas-cloud/repodex/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/repodex/internal/transport/openai"
	"github.com/kailas-cloud/repodex/internal/usecase/credential"
	healthuc "github.com/kailas-cloud/repodex/internal/usecase/health"
	"github.com/kailas-cloud/repodex/internal/usecase/orchestrator"
	"github.com/kailas-cloud/repodex/internal/usecase/process"
	searchuc "github.com/kailas-cloud/repodex/internal/usecase/search"
	usageuc "github.com/kailas-cloud/repodex/internal/usecase/usage"
	"github.com/kailas-cloud/repodex/internal/version"
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

	logger.Info("Starting repodex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("index_addrs", cfg.Index.Addrs),
		zap.String("jobstore_path", cfg.JobStore.Path),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Index.Addrs,
		Username: cfg.Index.Username,
		Password: cfg.Index.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create index store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Index.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Index store not ready", zap.Error(err))
	}
	logger.Info("Connected to index store")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterIndexingMetrics()

	backend, err := jobstore.OpenBackend(cfg.JobStore.Path, cfg.JobStore.InMemory, logger)
	if err != nil {
		logger.Fatal("Failed to open job store", zap.Error(err))
	}
	defer backend.Close()

	jobRepo := jobstore.NewJobRepository(backend)
	outcomeRepo := jobstore.NewOutcomeRepository(backend)
	checkpointRepo := jobstore.NewCheckpointRepository(backend)
	chunkQueue := jobstore.NewChunkQueue(backend)

	supervisor := credential.NewSupervisor(
		buildCredentialSources(cfg.Credential),
		credential.Options{
			RefreshThreshold: cfg.Credential.RefreshThreshold(),
			FetchTimeout:     cfg.Credential.FetchTimeout(),
			BreakerFailures:  cfg.Credential.BreakerFailures,
			BreakerCooldown:  cfg.Credential.BreakerCooldown(),
		},
		metrics.CredentialRefreshTotal,
		metrics.CredentialState,
		logger,
	)

	// Embedder chain: OpenAI provider -> cache -> instruction prefix.
	// The instruction sits outside the cache so document and query vectors
	// never collide on the same cache entry.
	base := openaiEmb.NewEmbedder(supervisor, &openaiEmb.Config{
		BaseURL:     cfg.Embedding.BaseURL,
		Model:       cfg.Embedding.Model,
		Dimensions:  cfg.Embedding.Dimensions,
		MaxBatch:    cfg.Indexing.EmbedMaxBatchSize,
		MaxRetries:  cfg.Indexing.EmbedRetries,
		CallTimeout: cfg.Indexing.EmbedTimeout(),
		Logger:      logger,
	})
	cached := embcache.New(base, store, cfg.Embedding.Model, metrics.EmbeddingCacheTotal, logger)
	docEmbedder := wrapInstruction(cached, cfg.Embedding.DocumentInstruction)
	queryEmbedder := wrapInstruction(cached, cfg.Embedding.QueryInstruction)
	logger.Info("Embedders created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	indexRepo := indexrepo.New(store, logger)
	if err := indexRepo.EnsureIndex(ctx, cfg.Embedding.Dimensions, cfg.Index.HNSWM, cfg.Index.HNSWEFConstruct); err != nil {
		logger.Fatal("Failed to ensure search index", zap.Error(err))
	}

	usageTracker := usageuc.NewTracker(store, logger)

	processor := process.New(
		parser.NewLineChunker(cfg.Indexing.UnitTargetBytes, cfg.Indexing.UnitOverlapLines),
		docEmbedder,
		indexRepo,
		usageTracker,
		cfg.Indexing.FileTimeout(),
		logger,
	)

	broker := orchestrator.NewBroker()
	orch, err := orchestrator.New(
		jobRepo, outcomeRepo, checkpointRepo, chunkQueue,
		processor,
		parser.NewWalker(cfg.Indexing.MaxFileSizeKB),
		broker,
		orchestrator.Options{
			ChunkSize: cfg.Indexing.ChunkSize,
			Workers:   cfg.Indexing.Workers,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to create orchestrator", zap.Error(err))
	}

	searchEngine := searchuc.New(
		searchrepo.New(store, logger),
		queryEmbedder,
		searchuc.Options{
			KConst: cfg.Search.KConst,
			Weights: searchuc.Weights{
				Lexical: cfg.Search.LexicalWeight,
				Vector:  cfg.Search.VectorWeight,
			},
			FetchFactor: cfg.Search.FetchFactor,
			MaxTopN:     cfg.Search.MaxTopN,
		},
		logger,
	)

	healthSvc := healthuc.New(store, base, supervisor)

	server := chiTransport.NewServer(
		orch,
		&timeoutSearch{engine: searchEngine, timeout: cfg.Search.Timeout()},
		usageTracker,
		healthSvc,
		logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

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
		logger.Error("Error during HTTP shutdown", zap.Error(err))
	}
	// Running jobs pause at the current chunk and resume on next start.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during orchestrator shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildCredentialSources assembles the refresh priority order: static key,
// environment, credentials file, then the AWS default chain.
func buildCredentialSources(cfg config.CredentialConfig) []credential.Source {
	ttl := cfg.TokenTTL()
	var sources []credential.Source
	if cfg.APIKey != "" {
		sources = append(sources, credential.NewStaticSource(cfg.APIKey, ttl))
	}
	sources = append(sources, credential.NewEnvSource(cfg.EnvVar, ttl))
	if cfg.ProfilePath != "" {
		sources = append(sources, credential.NewProfileSource(cfg.ProfilePath, cfg.ProfileName, ttl))
	}
	if cfg.AWSEnabled {
		sources = append(sources, credential.NewChainSource(ttl))
	}
	return sources
}

// batchEmbedder joins the two embedding contracts the pipeline consumes.
type batchEmbedder interface {
	domain.Embedder
	domain.BatchEmbedder
}

func wrapInstruction(inner batchEmbedder, instruction string) batchEmbedder {
	if instruction == "" {
		return inner
	}
	return domain.NewInstructionEmbedder(inner, instruction)
}

// timeoutSearch bounds every query with the configured budget.
type timeoutSearch struct {
	engine  *searchuc.Engine
	timeout time.Duration
}

func (t *timeoutSearch) Search(ctx context.Context, req searchuc.Request) (*searchuc.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.engine.Search(ctx, req)
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

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
