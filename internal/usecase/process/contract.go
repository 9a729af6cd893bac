package process

import (
	"context"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/parser"
	"github.com/kailas-cloud/repodex/internal/repository/index"
)

// Parser splits file content into semantic units.
type Parser interface {
	Parse(ctx context.Context, path string, content []byte) ([]parser.Unit, error)
}

// Embedder vectorizes unit contents in batches.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// IndexWriter persists embedded units.
type IndexWriter interface {
	WriteUnits(ctx context.Context, entries []index.Entry) error
	DeleteUnits(ctx context.Context, repoID, path string) error
}

// UsageRecorder accounts embedding spend per job. May be a no-op.
type UsageRecorder interface {
	RecordTokens(ctx context.Context, jobID string, prompt, total int)
	RecordCache(ctx context.Context, jobID string, hits, misses int)
}
