package jobstore

import "go.uber.org/zap"

// NewMemoryStore creates in-memory repositories for testing.
// Caller must close the backend when done.
func NewMemoryStore() (*JobRepository, *OutcomeRepository, *CheckpointRepository, *ChunkQueue, *Backend, error) {
	backend, err := OpenBackend("", true, zap.NewNop())
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	return NewJobRepository(backend),
		NewOutcomeRepository(backend),
		NewCheckpointRepository(backend),
		NewChunkQueue(backend),
		backend,
		nil
}
