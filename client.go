package repodex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/db"
	dbRedis "github.com/kailas-cloud/repodex/internal/db/redis"
	"github.com/kailas-cloud/repodex/internal/domain"
	indexrepo "github.com/kailas-cloud/repodex/internal/repository/index"
	searchrepo "github.com/kailas-cloud/repodex/internal/repository/search"
	healthuc "github.com/kailas-cloud/repodex/internal/usecase/health"
	searchuc "github.com/kailas-cloud/repodex/internal/usecase/search"
	usageuc "github.com/kailas-cloud/repodex/internal/usecase/usage"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultDimensions       = 1024
	defaultHNSWM            = 32
	defaultHNSWEFConstruct  = 400
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	addrs    []string
	username string
	password string

	embedder Embedder

	vectorDimensions int
	hnswM            int
	hnswEFConstruct  int

	lexicalWeight float64
	vectorWeight  float64

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithRedis configures the client to connect to a Redis-compatible
// instance with search modules.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithUsername sets the ACL username for authenticated instances.
func WithUsername(username string) Option {
	return optionFunc(func(c *clientConfig) {
		c.username = username
	})
}

// WithEmbedder sets the query embedding provider. Without it hybrid
// search degrades to the lexical branch only.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithVectorDimensions sets the vector dimension used by Ensure.
// Defaults to 1024 and must match the dimension the server indexes with.
func WithVectorDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.vectorDimensions = dim
	})
}

// WithHNSW configures HNSW parameters for Ensure (M and EF construction).
// Defaults: M=32, EFConstruct=400.
func WithHNSW(m, efConstruct int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	})
}

// WithFusionWeights sets the branch weights for rank fusion.
func WithFusionWeights(lexical, vector float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.lexicalWeight = lexical
		c.vectorWeight = vector
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and
// durations) on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}

// Internal interfaces kept narrow so tests can substitute them.
type searchUseCase interface {
	Search(ctx context.Context, req searchuc.Request) (*searchuc.Response, error)
}

type usageUseCase interface {
	GetReport(ctx context.Context, jobID string) (*usageuc.Report, error)
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

type indexEnsurer interface {
	EnsureIndex(ctx context.Context, dims, hnswM, hnswEFConstruct int) error
}

// Client is the repodex query client.
type Client struct {
	store     db.Store
	searchSvc searchUseCase
	usageSvc  usageUseCase
	healthSvc healthUseCase
	ensurer   indexEnsurer
	cfg       *clientConfig
	obs       *observer
}

// New creates a Client and connects to the store. The provided context
// bounds the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		vectorDimensions: defaultDimensions,
		hnswM:            defaultHNSWM,
		hnswEFConstruct:  defaultHNSWEFConstruct,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("repodex: store address required (use WithRedis)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Username: cfg.username,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("repodex: create store: %w", err)
	}

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("repodex: store not ready: %w", err)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return wireClient(store, cfg, obs), nil
}

func wireClient(store db.Store, cfg *clientConfig, obs *observer) *Client {
	// Internal packages log through zap; the client surface stays on slog
	// and keeps its own observer instead.
	internalLog := zap.NewNop()

	var queryEmb searchuc.Embedder = noopEmbedder{}
	if cfg.embedder != nil {
		queryEmb = &embedderAdapter{inner: cfg.embedder}
	}

	engine := searchuc.New(
		searchrepo.New(store, internalLog),
		queryEmb,
		searchuc.Options{
			Weights: searchuc.Weights{
				Lexical: cfg.lexicalWeight,
				Vector:  cfg.vectorWeight,
			},
		},
		internalLog,
	)

	return &Client{
		store:     store,
		searchSvc: engine,
		usageSvc:  usageuc.NewTracker(store, internalLog),
		healthSvc: healthuc.New(store, nil, nil),
		ensurer:   indexrepo.New(store, internalLog),
		cfg:       cfg,
		obs:       obs,
	}
}

// Close releases the store connection.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks store connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Ensure creates the code unit search index if it does not exist yet.
// The server normally does this on startup; Ensure covers setups where
// the client reaches the store first.
func (c *Client) Ensure(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ensure", start, err) }()

	err = c.ensurer.EnsureIndex(ctx, c.cfg.vectorDimensions, c.cfg.hnswM, c.cfg.hnswEFConstruct)
	if err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult carries a vector and its token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// embedderAdapter wraps the public Embedder to satisfy the internal contract.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// noopEmbedder fails every call so the vector branch degrades and the
// lexical branch serves alone.
type noopEmbedder struct{}

func (noopEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, errors.New(
		"repodex: embedder not configured (use WithEmbedder for hybrid search)",
	)
}
