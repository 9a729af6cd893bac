package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kailas-cloud/repodex/internal/domain/job"
)

// OutcomeRepository persists per-file terminal outcomes. Records are
// append-only: the first terminal outcome for a file wins, except that an
// error outcome may be superseded by a later success (a retried file).
type OutcomeRepository struct {
	backend *Backend
}

// NewOutcomeRepository creates an OutcomeRepository.
func NewOutcomeRepository(backend *Backend) *OutcomeRepository {
	return &OutcomeRepository{backend: backend}
}

// Record persists a file outcome. A stored success is never overwritten.
func (r *OutcomeRepository) Record(_ context.Context, o *job.FileOutcome) error {
	if o.ProcessedAt.IsZero() {
		o.ProcessedAt = time.Now().UTC()
	}
	value, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome %s/%s: %w", o.JobID, o.FilePath, err)
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeOutcomeKey(o.JobID, o.FilePath)

		item, err := tx.Get(key)
		if err == nil {
			var existing job.FileOutcome
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if existing.Status == job.OutcomeSuccess {
				return nil
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

// Get retrieves the outcome for a single file, or nil if none is recorded.
func (r *OutcomeRepository) Get(_ context.Context, jobID, filePath string) (*job.FileOutcome, error) {
	var o *job.FileOutcome
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeOutcomeKey(jobID, filePath))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded job.FileOutcome
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			o = &decoded
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// List returns all outcomes recorded for a job.
func (r *OutcomeRepository) List(_ context.Context, jobID string) ([]*job.FileOutcome, error) {
	var outcomes []*job.FileOutcome
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeOutcomeScanPrefix(jobID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var o job.FileOutcome
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &o)
			})
			if err != nil {
				return err
			}
			outcomes = append(outcomes, &o)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// SucceededPaths returns the set of file paths already recorded with a
// success outcome. Used for resume decisions.
func (r *OutcomeRepository) SucceededPaths(ctx context.Context, jobID string) (map[string]struct{}, error) {
	outcomes, err := r.List(ctx, jobID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		if o.Status == job.OutcomeSuccess {
			done[o.FilePath] = struct{}{}
		}
	}
	return done, nil
}

// Tally counts outcomes per status for a job.
func (r *OutcomeRepository) Tally(ctx context.Context, jobID string) (succeeded, errored, skipped int, err error) {
	outcomes, err := r.List(ctx, jobID)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, o := range outcomes {
		switch o.Status {
		case job.OutcomeSuccess:
			succeeded++
		case job.OutcomeError:
			errored++
		case job.OutcomeSkipped:
			skipped++
		}
	}
	return succeeded, errored, skipped, nil
}
