package persistence

import (
	"time"

	"github.com/MimeLyc/srt-translator/internal/subtitle"
)

// ChunkCheckpoint is one translated chunk of an unfinished job.
// FirstIndex and Count identify the source entries it covers so a checkpoint
// written with a different block size is not reused.
type ChunkCheckpoint struct {
	JobID      string
	Ordinal    int
	FirstIndex int
	Count      int
	Entries    []subtitle.Entry
	UpdatedAt  time.Time
}
