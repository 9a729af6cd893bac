// Package search implements the hybrid retrieval engine: concurrent lexical
// and vector branches fused by RRF into one ranked, cited answer set.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/domain/search/filter"
	"github.com/kailas-cloud/repodex/internal/domain/search/result"
	"github.com/kailas-cloud/repodex/internal/metrics"
)

// Mode reports how a response was produced.
type Mode string

const (
	// ModeHybrid means both branches contributed and results are RRF-fused.
	ModeHybrid Mode = "hybrid"
	// ModeDegraded means one branch failed and the other served alone.
	ModeDegraded Mode = "degraded"
)

// Request is a retrieval query scoped to one indexed repository snapshot.
type Request struct {
	Query  string
	RepoID string
	Commit string
	TopN   int
}

// Diagnostics reports how the fused ranking was assembled.
type Diagnostics struct {
	LexicalCount int // candidates the lexical branch contributed
	VectorCount  int // candidates the vector branch contributed
	KConst       int
	Degraded     bool // one branch failed and the other served alone
	Dropped      int  // hits discarded for lacking a resolvable citation
}

// Response carries the fused ranking plus how it was produced.
type Response struct {
	Results     []result.Result
	Mode        Mode
	Tokens      int // embedding tokens spent on the query
	Diagnostics Diagnostics
}

// Options tune the engine.
type Options struct {
	KConst      int
	Weights     Weights
	FetchFactor int // candidate list depth = TopN * FetchFactor
	DefaultTopN int
	MaxTopN     int
}

// Engine executes hybrid retrieval.
type Engine struct {
	repo   Repository
	embed  Embedder
	opts   Options
	logger *zap.Logger
}

// New creates a retrieval engine.
func New(repo Repository, embed Embedder, opts Options, logger *zap.Logger) *Engine {
	if opts.KConst <= 0 {
		opts.KConst = DefaultKConst
	}
	if opts.Weights.Lexical <= 0 && opts.Weights.Vector <= 0 {
		opts.Weights = DefaultWeights()
	}
	if opts.FetchFactor < 2 {
		opts.FetchFactor = 5
	}
	if opts.DefaultTopN <= 0 {
		opts.DefaultTopN = 10
	}
	if opts.MaxTopN <= 0 {
		opts.MaxTopN = 100
	}
	return &Engine{repo: repo, embed: embed, opts: opts, logger: logger}
}

// Search runs both retrieval branches concurrently and fuses their rankings.
// When one branch fails the other still answers, flagged as degraded; the
// call fails only when no branch produces a ranking.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", domain.ErrInvalidRequest)
	}
	if req.RepoID == "" {
		return nil, fmt.Errorf("repo id is required: %w", domain.ErrInvalidRequest)
	}

	topN := req.TopN
	if topN <= 0 {
		topN = e.opts.DefaultTopN
	}
	if topN > e.opts.MaxTopN {
		topN = e.opts.MaxTopN
	}
	fetchK := topN * e.opts.FetchFactor
	filters, err := filter.ForRepo(req.RepoID, req.Commit)
	if err != nil {
		return nil, fmt.Errorf("build filters: %v: %w", err, domain.ErrInvalidRequest)
	}

	start := time.Now()

	var (
		lexResults []result.Result
		vecResults []result.Result
		lexDropped int
		vecDropped int
		lexErr     error
		vecErr     error
		tokens     int
	)

	// Branches run concurrently; errors are collected, not propagated, so a
	// single branch failure degrades the response instead of aborting it.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		branchStart := time.Now()
		if !e.repo.SupportsTextSearch(gctx) {
			lexErr = fmt.Errorf("text search unsupported by index backend: %w", domain.ErrSearchUnavailable)
			return nil
		}
		lexResults, lexDropped, lexErr = e.repo.SearchBM25(gctx, query, filters, fetchK)
		metrics.SearchDuration.WithLabelValues("lexical").Observe(time.Since(branchStart).Seconds())
		return nil
	})

	g.Go(func() error {
		branchStart := time.Now()
		emb, err := e.embed.Embed(gctx, query)
		if err != nil {
			vecErr = fmt.Errorf("vectorize query: %w", err)
			return nil
		}
		tokens = emb.TotalTokens
		vecResults, vecDropped, vecErr = e.repo.SearchKNN(gctx, emb.Embedding, filters, fetchK)
		metrics.SearchDuration.WithLabelValues("vector").Observe(time.Since(branchStart).Seconds())
		return nil
	})

	_ = g.Wait()
	metrics.SearchDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	diag := Diagnostics{
		LexicalCount: len(lexResults),
		VectorCount:  len(vecResults),
		KConst:       e.opts.KConst,
		Dropped:      lexDropped + vecDropped,
	}

	switch {
	case lexErr == nil && vecErr == nil:
		fused := fuseRRF(lexResults, vecResults, e.opts.KConst, e.opts.Weights, topN)
		metrics.SearchRequestsTotal.WithLabelValues(string(ModeHybrid), "success").Inc()
		return &Response{Results: fused, Mode: ModeHybrid, Tokens: tokens, Diagnostics: diag}, nil

	case lexErr == nil:
		e.logger.Warn("Vector branch failed, serving lexical only", zap.Error(vecErr))
		metrics.SearchRequestsTotal.WithLabelValues(string(ModeDegraded), "success").Inc()
		diag.VectorCount = 0
		diag.Degraded = true
		diag.Dropped = lexDropped
		return &Response{Results: capResults(lexResults, topN), Mode: ModeDegraded, Tokens: tokens, Diagnostics: diag}, nil

	case vecErr == nil:
		e.logger.Warn("Lexical branch failed, serving vector only", zap.Error(lexErr))
		metrics.SearchRequestsTotal.WithLabelValues(string(ModeDegraded), "success").Inc()
		diag.LexicalCount = 0
		diag.Degraded = true
		diag.Dropped = vecDropped
		return &Response{Results: capResults(vecResults, topN), Mode: ModeDegraded, Tokens: tokens, Diagnostics: diag}, nil

	default:
		metrics.SearchRequestsTotal.WithLabelValues(string(ModeHybrid), "error").Inc()
		return nil, fmt.Errorf("both branches failed (lexical: %v, vector: %v): %w",
			lexErr, vecErr, domain.ErrSearchUnavailable)
	}
}

func capResults(results []result.Result, topN int) []result.Result {
	if len(results) > topN {
		return results[:topN]
	}
	return results
}
