// Package index writes embedded semantic units into the shared FT index.
package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/db"
	"github.com/kailas-cloud/repodex/internal/domain"
)

const (
	indexName   = domain.KeyPrefix + "chunks:idx"
	chunkPrefix = domain.KeyPrefix + "chunk:"
)

// Entry is one semantic unit ready for indexing.
type Entry struct {
	RepoID      string
	Commit      string
	Path        string
	UnitIndex   int
	StartLine   int
	EndLine     int
	Content     string
	ContentHash string
	Vector      []float32
}

// store is the consumer interface for index writes (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Repo implements the index writer for the processing pipeline.
type Repo struct {
	store  store
	logger *zap.Logger
}

// New creates an index repository.
func New(s store, logger *zap.Logger) *Repo {
	return &Repo{store: s, logger: logger}
}

// IndexName returns the FT index the service searches against.
func IndexName() string {
	return indexName
}

// ChunkKey derives the deterministic document key for a unit. The same
// repo, path and unit index always map to the same key, making writes
// idempotent under redispatch.
func ChunkKey(repoID, path string, unitIndex int) string {
	return chunkPrefix + repoID + ":" + domain.PathFingerprint(path) + ":" + strconv.Itoa(unitIndex)
}

// EnsureIndex creates the FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context, dims, hnswM, hnswEFConstruct int) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", indexName, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(indexName).
		Prefix(chunkPrefix).
		Tag("repo_id").
		Tag("commit").
		Text("__content").
		VectorHNSW("__vector", dims, db.DistanceCosine, hnswM, hnswEFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		return fmt.Errorf("create index %s: %w", indexName, err)
	}
	r.logger.Info("Created FT index", zap.String("index", indexName), zap.Int("dims", dims))
	return nil
}

// WriteUnits persists a batch of embedded units in one pipelined write.
// Writing the same unit twice overwrites the hash with identical fields, so
// at-least-once processing never duplicates documents.
func (r *Repo) WriteUnits(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		items = append(items, db.HashSetItem{
			Key: ChunkKey(e.RepoID, e.Path, e.UnitIndex),
			Fields: map[string]string{
				"__content":    e.Content,
				"__vector":     string(vectorToBytes(e.Vector)),
				"repo_id":      e.RepoID,
				"commit":       e.Commit,
				"path":         e.Path,
				"start_line":   strconv.Itoa(e.StartLine),
				"end_line":     strconv.Itoa(e.EndLine),
				"content_hash": e.ContentHash,
			},
		})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("write %d units: %w", len(items), err)
	}

	first := &entries[0]
	if err := r.pruneStale(ctx, first.RepoID, first.Path, len(entries)); err != nil {
		return fmt.Errorf("prune stale units after %d: %w", len(entries), err)
	}
	return nil
}

// DeleteUnits removes every indexed unit of a file. Used when a re-indexed
// file parses to nothing, so a prior version's units must not linger.
func (r *Repo) DeleteUnits(ctx context.Context, repoID, path string) error {
	if err := r.pruneStale(ctx, repoID, path, 0); err != nil {
		return fmt.Errorf("delete units of %s: %w", path, err)
	}
	return nil
}

// pruneStale removes trailing units left over from a longer prior
// version of the same file. Unit keys are contiguous per path, so the
// scan stops at the first missing index.
func (r *Repo) pruneStale(ctx context.Context, repoID, path string, fromIndex int) error {
	for i := fromIndex; ; i++ {
		key := ChunkKey(repoID, path, i)
		exists, err := r.store.Exists(ctx, key)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if err := r.store.Del(ctx, key); err != nil {
			return err
		}
	}
}

// vectorToBytes serializes []float32 to the binary format FT expects.
func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
