package jobstore

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for different record types
const (
	jobPrefix        = "job"
	checkpointPrefix = "ckpt"
	outcomePrefix    = "outc"
	chunkPrefix      = "chnk"
)

// makeJobKey generates a key for a job record by ID.
func makeJobKey(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", jobPrefix, jobID))
}

// makeCheckpointKey generates a key for a job's checkpoint.
func makeCheckpointKey(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", checkpointPrefix, jobID))
}

// makeOutcomeKey generates a composite key for a file outcome.
// Format: prefix:jobID:filePath
func makeOutcomeKey(jobID, filePath string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", outcomePrefix, jobID, filePath))
}

// makeOutcomeScanPrefix generates the prefix covering all outcomes of a job.
func makeOutcomeScanPrefix(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", outcomePrefix, jobID))
}

// makeChunkKey generates a composite key for a pending dispatch chunk.
// The index is encoded BigEndian so lexicographic iteration preserves
// dispatch order.
func makeChunkKey(jobID string, index int) []byte {
	prefix := []byte(fmt.Sprintf("%s:%s:", chunkPrefix, jobID))
	buf := make([]byte, len(prefix)+4)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint32(buf[offset:], uint32(index))
	return buf
}

// makeChunkScanPrefix generates the prefix covering all pending chunks of a job.
func makeChunkScanPrefix(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", chunkPrefix, jobID))
}
