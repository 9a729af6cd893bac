package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/domain/job"
)

// JobRepository persists IndexJob records.
type JobRepository struct {
	backend *Backend
}

// NewJobRepository creates a JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// Save persists a job record, overwriting any previous version.
func (r *JobRepository) Save(_ context.Context, j *job.IndexJob) error {
	value, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeJobKey(j.ID), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Get retrieves a job by ID. Returns domain.ErrJobNotFound if absent.
func (r *JobRepository) Get(_ context.Context, jobID string) (*job.IndexJob, error) {
	var j job.IndexJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeJobKey(jobID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("job %s: %w", jobID, domain.ErrJobNotFound)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &j)
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// List returns all known jobs ordered by creation time, newest first.
func (r *JobRepository) List(_ context.Context) ([]*job.IndexJob, error) {
	var jobs []*job.IndexJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var j job.IndexJob
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &j)
			})
			if err != nil {
				return err
			}
			jobs = append(jobs, &j)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs, nil
}
