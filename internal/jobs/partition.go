package jobs

import "github.com/erdilatifi/chunkd/internal/models"

// EffectiveChunks returns the chunk count actually used for a range of n
// values: the requested count, bounded by n so no chunk is empty.
func EffectiveChunks(n int64, requested int) int {
	if int64(requested) > n {
		return int(n)
	}
	return requested
}

// Partition splits the range [1, n] into contiguous chunks of near-equal
// size. Chunk sizes use ceiling division, so the final chunk may be shorter
// and fewer chunks than requested may be produced when the range is
// exhausted early. The union of all chunks covers [1, n] exactly once.
func Partition(jobID string, n int64, requested int) []models.Chunk {
	chunks := int64(EffectiveChunks(n, requested))
	size := (n + chunks - 1) / chunks

	out := make([]models.Chunk, 0, chunks)
	for i := int64(0); i < chunks; i++ {
		start := i*size + 1
		if start > n {
			break
		}
		end := (i + 1) * size
		if end > n {
			end = n
		}
		out = append(out, models.Chunk{
			JobID:  jobID,
			Index:  int(i),
			Start:  start,
			End:    end,
			Status: models.ChunkStatusPending,
		})
	}
	return out
}
