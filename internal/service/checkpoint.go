package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/MimeLyc/srt-translator/internal/persistence"
	"github.com/MimeLyc/srt-translator/internal/subtitle"
)

// chunkCheckpoints caches the checkpoints of one job in memory.
type chunkCheckpoints struct {
	store CheckpointStore
	jobID string

	mu     sync.RWMutex
	cached map[int]persistence.ChunkCheckpoint
}

func loadChunkCheckpoints(ctx context.Context, store CheckpointStore, jobID string) (*chunkCheckpoints, error) {
	if store == nil || jobID == "" {
		return nil, nil
	}

	checkpoints, err := store.LoadChunkCheckpoints(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load chunk checkpoints: %w", err)
	}

	cached := make(map[int]persistence.ChunkCheckpoint, len(checkpoints))
	for _, cp := range checkpoints {
		cached[cp.Ordinal] = cp
	}
	return &chunkCheckpoints{
		store:  store,
		jobID:  jobID,
		cached: cached,
	}, nil
}

// Load returns the saved entries of chunk when they cover the same entries.
func (c *chunkCheckpoints) Load(chunk subtitle.Chunk) ([]subtitle.Entry, bool) {
	if c == nil || len(chunk.Entries) == 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.cached[chunk.Ordinal]
	if !ok || cp.FirstIndex != chunk.Entries[0].Index || cp.Count != len(chunk.Entries) || len(cp.Entries) != cp.Count {
		return nil, false
	}
	return append([]subtitle.Entry(nil), cp.Entries...), true
}

func (c *chunkCheckpoints) Save(ctx context.Context, chunk subtitle.Chunk, translated []subtitle.Entry) error {
	if c == nil || len(chunk.Entries) == 0 {
		return nil
	}
	cp := persistence.ChunkCheckpoint{
		JobID:      c.jobID,
		Ordinal:    chunk.Ordinal,
		FirstIndex: chunk.Entries[0].Index,
		Count:      len(chunk.Entries),
		Entries:    append([]subtitle.Entry(nil), translated...),
	}
	if err := c.store.SaveChunkCheckpoint(ctx, cp); err != nil {
		return err
	}
	c.mu.Lock()
	c.cached[chunk.Ordinal] = cp
	c.mu.Unlock()
	return nil
}
