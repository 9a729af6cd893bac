package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kailas-cloud/repodex/internal/domain/job"
)

// CheckpointRepository persists the durable cursor of each job.
type CheckpointRepository struct {
	backend *Backend
}

// NewCheckpointRepository creates a CheckpointRepository.
func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{backend: backend}
}

// Save persists a checkpoint. The cursor never moves backwards: a save with
// a lower NextIndex than the stored checkpoint is rejected.
func (r *CheckpointRepository) Save(_ context.Context, cp *job.Checkpoint) error {
	cp.Version = job.CheckpointVersion
	value, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint for job %s: %w", cp.JobID, err)
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeCheckpointKey(cp.JobID)

		item, err := tx.Get(key)
		if err == nil {
			var existing job.Checkpoint
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if cp.NextIndex < existing.NextIndex {
				return fmt.Errorf("checkpoint for job %s would move cursor from %d back to %d",
					cp.JobID, existing.NextIndex, cp.NextIndex)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Load retrieves the checkpoint for a job.
// Returns nil, nil if no checkpoint exists.
func (r *CheckpointRepository) Load(_ context.Context, jobID string) (*job.Checkpoint, error) {
	var cp *job.Checkpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCheckpointKey(jobID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded job.Checkpoint
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			if decoded.Version != job.CheckpointVersion {
				return fmt.Errorf("unsupported checkpoint version %d for job %s", decoded.Version, jobID)
			}
			cp = &decoded
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return cp, nil
}
