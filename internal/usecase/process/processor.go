// Package process implements the per-file pipeline: parse into semantic
// units, embed (through the cache), and write to the index. Failures stay at
// file granularity and never touch sibling files.
package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/metrics"
	"github.com/kailas-cloud/repodex/internal/repository/index"
)

// FileSpec identifies one file of one job snapshot.
type FileSpec struct {
	JobID  string
	Root   string // absolute repository root
	RepoID string
	Commit string
	Path   string // relative slash path from discovery
}

// Processor turns one file into indexed units.
type Processor struct {
	parser      Parser
	embedder    Embedder
	writer      IndexWriter
	usage       UsageRecorder
	fileTimeout time.Duration
	logger      *zap.Logger
}

// New creates a file processor.
func New(
	p Parser,
	e Embedder,
	w IndexWriter,
	u UsageRecorder,
	fileTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	if fileTimeout <= 0 {
		fileTimeout = 2 * time.Minute
	}
	return &Processor{
		parser:      p,
		embedder:    e,
		writer:      w,
		usage:       u,
		fileTimeout: fileTimeout,
		logger:      logger,
	}
}

// ProcessFile runs the pipeline for one file and returns the number of units
// written. A zero count with nil error means the file held nothing worth
// indexing (the caller records it as skipped).
func (p *Processor) ProcessFile(ctx context.Context, spec FileSpec) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fileTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.IndexFileDuration.Observe(time.Since(start).Seconds())
	}()

	content, err := os.ReadFile(filepath.Join(spec.Root, filepath.FromSlash(spec.Path)))
	if err != nil {
		return 0, domain.NewFileError(spec.Path, fmt.Errorf("read: %w", err))
	}

	units, err := p.parser.Parse(ctx, spec.Path, content)
	if err != nil {
		return 0, domain.NewFileError(spec.Path, fmt.Errorf("parse: %w", err))
	}
	if len(units) == 0 {
		// A prior version of this file may still have units in the index.
		if err := p.writer.DeleteUnits(ctx, spec.RepoID, spec.Path); err != nil {
			return 0, domain.NewFileError(spec.Path, fmt.Errorf("delete stale units: %w", err))
		}
		return 0, nil
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Content
	}

	batch, err := p.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return 0, domain.NewFileError(spec.Path, fmt.Errorf("embed: %w", err))
	}
	if len(batch.Embeddings) != len(units) {
		return 0, domain.NewFileError(spec.Path, fmt.Errorf(
			"embedder returned %d vectors for %d units: %w",
			len(batch.Embeddings), len(units), domain.ErrEmbeddingProviderError))
	}
	if p.usage != nil {
		p.usage.RecordTokens(ctx, spec.JobID, batch.PromptTokens, batch.TotalTokens)
		p.usage.RecordCache(ctx, spec.JobID, batch.CacheHits, batch.CacheMisses)
	}

	entries := make([]index.Entry, len(units))
	for i, u := range units {
		entries[i] = index.Entry{
			RepoID:      spec.RepoID,
			Commit:      spec.Commit,
			Path:        spec.Path,
			UnitIndex:   u.Index,
			StartLine:   u.StartLine,
			EndLine:     u.EndLine,
			Content:     u.Content,
			ContentHash: domain.ContentHash([]byte(u.Content)),
			Vector:      batch.Embeddings[i],
		}
	}

	if err := p.writer.WriteUnits(ctx, entries); err != nil {
		return 0, domain.NewFileError(spec.Path, fmt.Errorf("write index: %w", err))
	}

	metrics.IndexUnitsTotal.Add(float64(len(entries)))
	p.logger.Debug("Processed file",
		zap.String("job_id", spec.JobID),
		zap.String("path", spec.Path),
		zap.Int("units", len(entries)))
	return len(entries), nil
}
