package service

import (
	"context"

	"golang.org/x/text/language"

	"github.com/MimeLyc/srt-translator/internal/persistence"
	"github.com/MimeLyc/srt-translator/internal/subtitle"
)

// JobSpec is the input of one file translation.
type JobSpec struct {
	ID             string
	SourcePath     string
	TargetLanguage string
}

// Result is the outcome of a successful run.
type Result struct {
	Text           string
	Document       subtitle.Document
	Chunks         int
	SourceLanguage language.Tag
}

// ProgressFunc receives a percentage in [0,100] and a preview of the chunk in flight.
type ProgressFunc func(percent int, preview string)

// ChunkTranslator turns one chunk into translated entries with the original index and timing.
type ChunkTranslator interface {
	Available() bool
	TranslateChunk(ctx context.Context, chunk subtitle.Chunk, targetCode string, source language.Tag) ([]subtitle.Entry, error)
}

// SourceReader loads the source document of a job.
type SourceReader interface {
	Read(ctx context.Context, path string) (*subtitle.Document, error)
}

// CheckpointStore persists translated chunks so an interrupted job can resume.
type CheckpointStore interface {
	LoadChunkCheckpoints(ctx context.Context, jobID string) ([]persistence.ChunkCheckpoint, error)
	SaveChunkCheckpoint(ctx context.Context, cp persistence.ChunkCheckpoint) error
}

// Saver stores the translated text of a finished job and returns where it went.
type Saver interface {
	Save(ctx context.Context, sourcePath, name, targetCode, text string) (string, error)
}
