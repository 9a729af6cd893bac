package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kailas-cloud/repodex/internal/domain/job"
)

// ChunkQueue is the durable dispatch queue. A chunk stays enqueued until the
// orchestrator acknowledges it after every file in it has a terminal outcome,
// so a crash mid-chunk leaves the record in place for redispatch.
type ChunkQueue struct {
	backend *Backend
}

// NewChunkQueue creates a ChunkQueue.
func NewChunkQueue(backend *Backend) *ChunkQueue {
	return &ChunkQueue{backend: backend}
}

// Enqueue persists the full chunk plan of a job in one transaction.
func (q *ChunkQueue) Enqueue(_ context.Context, chunks []job.FileChunk) error {
	return q.backend.WithTx(func(tx *badger.Txn) error {
		for i := range chunks {
			value, err := json.Marshal(&chunks[i])
			if err != nil {
				return fmt.Errorf("marshal chunk %d of job %s: %w", chunks[i].Index, chunks[i].JobID, err)
			}
			if err := tx.Set(makeChunkKey(chunks[i].JobID, chunks[i].Index), value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Pending returns the not-yet-acknowledged chunks of a job in dispatch order.
func (q *ChunkQueue) Pending(_ context.Context, jobID string) ([]job.FileChunk, error) {
	var chunks []job.FileChunk
	err := q.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkScanPrefix(jobID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var c job.FileChunk
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// Ack removes a completed chunk from the queue. Acknowledging an already
// removed chunk is a no-op.
func (q *ChunkQueue) Ack(_ context.Context, jobID string, index int) error {
	return q.backend.WithTx(func(tx *badger.Txn) error {
		err := tx.Delete(makeChunkKey(jobID, index))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return tx.Commit()
	}, true)
}
