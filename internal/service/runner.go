package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/language"
	"github.com/MimeLyc/srt-translator/internal/subtitle"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

const previewEntries = 2

// RunnerConfig configures a Runner. Reader and Checkpoints are optional.
type RunnerConfig struct {
	BlockSize   int
	Reader      SourceReader
	Checkpoints CheckpointStore
}

// Runner executes one file translation: read, parse, chunk, translate each
// chunk in order, reassemble.
type Runner struct {
	translator  ChunkTranslator
	reader      SourceReader
	checkpoints CheckpointStore
	blockSize   int
}

func NewRunner(translator ChunkTranslator, cfg RunnerConfig) *Runner {
	r := &Runner{
		translator:  translator,
		reader:      cfg.Reader,
		checkpoints: cfg.Checkpoints,
		blockSize:   cfg.BlockSize,
	}
	if r.reader == nil {
		r.reader = DiskReader{}
	}
	if r.blockSize == 0 {
		r.blockSize = subtitle.DefaultBlockSize
	}
	return r
}

// Run translates spec. No partial result is returned on failure.
func (r *Runner) Run(ctx context.Context, spec JobSpec, progress ProgressFunc) (Result, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	started := time.Now()

	target, err := language.Resolve(spec.TargetLanguage)
	if err != nil {
		return Result{}, err
	}
	if r.blockSize < 1 {
		return Result{}, errs.Newf(errs.KindConfiguration, "block size must be at least 1, got %d", r.blockSize)
	}
	if r.translator == nil || !r.translator.Available() {
		return Result{}, errs.New(errs.KindConfiguration, "translation backend unavailable: API key not configured")
	}

	doc, err := r.reader.Read(ctx, spec.SourcePath)
	if err != nil {
		return Result{}, err
	}
	if doc.Len() == 0 {
		return Result{}, errs.New(errs.KindParse, "no translatable content found").
			WithContext("path", spec.SourcePath)
	}

	chunks, err := subtitle.Split(doc.Entries, r.blockSize)
	if err != nil {
		return Result{}, err
	}
	log.Info("Job %s: %d entries in %d chunk(s), source language %s, target %s",
		spec.ID, doc.Len(), len(chunks), doc.Language, spec.TargetLanguage)

	saved, err := loadChunkCheckpoints(ctx, r.checkpoints, spec.ID)
	if err != nil {
		log.Warn("Job %s: ignoring checkpoints: %v", spec.ID, err)
		saved = nil
	}

	translated := make([]subtitle.Chunk, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return Result{}, errs.Wrap(err, errs.KindCancelled, "translation cancelled")
		}
		preview := chunk.Preview(previewEntries)
		progress(percent(i, len(chunks)), preview)

		entries, ok := saved.Load(chunk)
		if ok {
			log.Info("Job %s: chunk %d/%d restored from checkpoint", spec.ID, i+1, len(chunks))
		} else {
			entries, err = r.translator.TranslateChunk(ctx, chunk, spec.TargetLanguage, doc.Language)
			if err != nil {
				log.Error("Job %s: chunk %d/%d failed: %v", spec.ID, i+1, len(chunks), err)
				return Result{}, err
			}
			if err := saved.Save(ctx, chunk, entries); err != nil {
				log.Warn("Job %s: failed to save checkpoint for chunk %d: %v", spec.ID, i+1, err)
			}
			log.Debug("Job %s: chunk %d/%d translated", spec.ID, i+1, len(chunks))
		}

		translated = append(translated, subtitle.Chunk{Ordinal: chunk.Ordinal, Entries: entries})
		progress(percent(i+1, len(chunks)), preview)
	}

	out := subtitle.Join(translated)
	log.Info("Job %s: translated %d entries in %s", spec.ID, len(out), time.Since(started).Round(time.Millisecond))
	return Result{
		Text: subtitle.Serialize(out),
		Document: subtitle.Document{
			Entries:  out,
			Language: target.Tag(),
			Path:     spec.SourcePath,
		},
		Chunks:         len(chunks),
		SourceLanguage: doc.Language,
	}, nil
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// DiskReader reads .srt files from the local filesystem.
type DiskReader struct{}

func (DiskReader) Read(_ context.Context, path string) (*subtitle.Document, error) {
	if !strings.EqualFold(filepath.Ext(path), ".srt") {
		return nil, errs.Newf(errs.KindConfiguration, "only SRT subtitle files are supported: %s", filepath.Base(path))
	}
	doc, err := subtitle.ReadFile(path)
	if err != nil {
		kind := errs.KindFileIO
		if errors.Is(err, os.ErrNotExist) {
			kind = errs.KindNotFound
		}
		return nil, errs.Wrap(err, kind, fmt.Sprintf("cannot read %s", filepath.Base(path)))
	}
	return doc, nil
}
