package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/jobs"
	"github.com/MimeLyc/srt-translator/internal/llm"
	"github.com/MimeLyc/srt-translator/internal/persistence"
	"github.com/MimeLyc/srt-translator/internal/subtitle"
	"github.com/MimeLyc/srt-translator/internal/translator"
)

const twoBlocks = "1\n00:00:01,000 --> 00:00:02,000\nHello\n\n2\n00:00:03,000 --> 00:00:04,000\nWorld"

type mockTranslator struct {
	mock.Mock
}

func (m *mockTranslator) Available() bool {
	return m.Called().Bool(0)
}

func (m *mockTranslator) TranslateChunk(ctx context.Context, chunk subtitle.Chunk, targetCode string, source language.Tag) ([]subtitle.Entry, error) {
	args := m.Called(ctx, chunk, targetCode, source)
	entries, _ := args.Get(0).([]subtitle.Entry)
	return entries, args.Error(1)
}

// upper mirrors the entries of a chunk with upper-cased text.
func upper(chunk subtitle.Chunk) []subtitle.Entry {
	ret := make([]subtitle.Entry, len(chunk.Entries))
	for i, e := range chunk.Entries {
		lines := make([]string, len(e.Lines))
		for j, l := range e.Lines {
			lines[j] = strings.ToUpper(l)
		}
		ret[i] = e.WithLines(lines)
	}
	return ret
}

func writeSRT(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func numberedSRT(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "%d\n00:00:%02d,000 --> 00:00:%02d,500\nline %d\n\n", i, i%60, i%60, i)
	}
	return sb.String()
}

type progressLog struct {
	mu      sync.Mutex
	percent []int
}

func (p *progressLog) record(percent int, _ string) {
	p.mu.Lock()
	p.percent = append(p.percent, percent)
	p.mu.Unlock()
}

// dictionaryBackend translates the text lines of the chunk in the prompt word by word.
type dictionaryBackend struct {
	mu    sync.Mutex
	calls int
	words map[string]string
}

func (b *dictionaryBackend) Name() string    { return "dictionary" }
func (b *dictionaryBackend) Available() bool { return true }

func (b *dictionaryBackend) Generate(_ context.Context, req llm.Request) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	chunk := strings.TrimPrefix(req.Prompt, "Original subtitle block:\n")
	entries := subtitle.Parse(chunk)
	for i, e := range entries {
		lines := make([]string, len(e.Lines))
		for j, l := range e.Lines {
			if w, ok := b.words[l]; ok {
				l = w
			}
			lines[j] = l
		}
		entries[i] = e.WithLines(lines)
	}
	return "```srt\n" + subtitle.Serialize(entries) + "```", nil
}

func TestRunner_TwoBlockExample(t *testing.T) {
	path := writeSRT(t, t.TempDir(), "hello.srt", twoBlocks)
	backend := &dictionaryBackend{words: map[string]string{"Hello": "Hola", "World": "Mundo"}}
	client := translator.NewClient(backend, translator.Options{CallDelay: -1})

	res, err := NewRunner(client, RunnerConfig{BlockSize: 180}).Run(context.Background(), JobSpec{
		ID: "job-1", SourcePath: path, TargetLanguage: "es",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, "1\n00:00:01,000 --> 00:00:02,000\nHola\n\n2\n00:00:03,000 --> 00:00:04,000\nMundo\n", res.Text)
	require.Len(t, res.Document.Entries, 2)
	assert.Equal(t, 2, res.Document.Entries[1].Index)
}

func TestRunner_ProgressIsMonotonicAndEndsAt100(t *testing.T) {
	path := writeSRT(t, t.TempDir(), "long.srt", numberedSRT(7))
	tr2 := &funcTranslator{fn: func(c subtitle.Chunk) ([]subtitle.Entry, error) { return upper(c), nil }}
	progress := &progressLog{}
	res, err := NewRunner(tr2, RunnerConfig{BlockSize: 3}).Run(context.Background(), JobSpec{
		ID: "job-2", SourcePath: path, TargetLanguage: "fr",
	}, progress.record)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, tr2.calls)

	require.NotEmpty(t, progress.percent)
	for i := 1; i < len(progress.percent); i++ {
		assert.GreaterOrEqual(t, progress.percent[i], progress.percent[i-1])
	}
	assert.Equal(t, 100, progress.percent[len(progress.percent)-1])
	assert.Equal(t, []int{0, 33, 33, 67, 67, 100}, progress.percent)
	assert.Contains(t, res.Text, "LINE 7")
}

func TestRunner_ConfigurationErrorsSkipBackend(t *testing.T) {
	path := writeSRT(t, t.TempDir(), "a.srt", twoBlocks)

	t.Run("unavailable backend", func(t *testing.T) {
		tr := &mockTranslator{}
		tr.On("Available").Return(false)
		_, err := NewRunner(tr, RunnerConfig{}).Run(context.Background(), JobSpec{SourcePath: path, TargetLanguage: "es"}, nil)
		require.Error(t, err)
		assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
		tr.AssertNotCalled(t, "TranslateChunk", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown target", func(t *testing.T) {
		tr := &mockTranslator{}
		_, err := NewRunner(tr, RunnerConfig{}).Run(context.Background(), JobSpec{SourcePath: path, TargetLanguage: "xx-YY"}, nil)
		assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
		tr.AssertNotCalled(t, "Available")
	})

	t.Run("invalid block size", func(t *testing.T) {
		tr := &mockTranslator{}
		_, err := NewRunner(tr, RunnerConfig{BlockSize: -1}).Run(context.Background(), JobSpec{SourcePath: path, TargetLanguage: "es"}, nil)
		assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
	})
}

func TestRunner_EmptyDocumentIsParseError(t *testing.T) {
	path := writeSRT(t, t.TempDir(), "empty.srt", "not a subtitle\n\n\n")
	tr := &mockTranslator{}
	tr.On("Available").Return(true)

	_, err := NewRunner(tr, RunnerConfig{}).Run(context.Background(), JobSpec{SourcePath: path, TargetLanguage: "es"}, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindParse, errs.KindOf(err))
	assert.Contains(t, err.Error(), "no translatable content found")
	tr.AssertNotCalled(t, "TranslateChunk", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_ReadErrors(t *testing.T) {
	tr := &mockTranslator{}
	tr.On("Available").Return(true)
	runner := NewRunner(tr, RunnerConfig{})

	_, err := runner.Run(context.Background(), JobSpec{SourcePath: filepath.Join(t.TempDir(), "missing.srt"), TargetLanguage: "es"}, nil)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = runner.Run(context.Background(), JobSpec{SourcePath: "movie.ass", TargetLanguage: "es"}, nil)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestRunner_BackendFailureFailsWholeJob(t *testing.T) {
	path := writeSRT(t, t.TempDir(), "long.srt", numberedSRT(4))
	structural := errs.New(errs.KindBackendStructural, "block count mismatch")
	tr := &funcTranslator{fn: func(c subtitle.Chunk) ([]subtitle.Entry, error) {
		if c.Ordinal == 1 {
			return nil, structural
		}
		return upper(c), nil
	}}

	res, err := NewRunner(tr, RunnerConfig{BlockSize: 2}).Run(context.Background(), JobSpec{SourcePath: path, TargetLanguage: "de"}, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindBackendStructural, errs.KindOf(err))
	assert.Empty(t, res.Text)
}

func TestRunner_ResumesFromCheckpoints(t *testing.T) {
	dir := t.TempDir()
	path := writeSRT(t, dir, "long.srt", numberedSRT(4))
	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	defer store.Close()

	failing := &funcTranslator{fn: func(c subtitle.Chunk) ([]subtitle.Entry, error) {
		if c.Ordinal == 1 {
			return nil, errs.New(errs.KindBackendTransient, "quota")
		}
		return upper(c), nil
	}}
	cfg := RunnerConfig{BlockSize: 2, Checkpoints: store}
	spec := JobSpec{ID: "resume", SourcePath: path, TargetLanguage: "it"}

	_, err = NewRunner(failing, cfg).Run(context.Background(), spec, nil)
	require.Error(t, err)

	cps, err := store.LoadChunkCheckpoints(context.Background(), "resume")
	require.NoError(t, err)
	require.Len(t, cps, 1)

	ok := &funcTranslator{fn: func(c subtitle.Chunk) ([]subtitle.Entry, error) { return upper(c), nil }}
	res, err := NewRunner(ok, cfg).Run(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ok.calls, "first chunk must come from its checkpoint")
	assert.Contains(t, res.Text, "LINE 1")
	assert.Contains(t, res.Text, "LINE 4")
}

func TestRunner_Cancelled(t *testing.T) {
	path := writeSRT(t, t.TempDir(), "long.srt", numberedSRT(4))
	ctx, cancel := context.WithCancel(context.Background())
	tr := &funcTranslator{fn: func(c subtitle.Chunk) ([]subtitle.Entry, error) {
		cancel()
		return upper(c), nil
	}}

	_, err := NewRunner(tr, RunnerConfig{BlockSize: 1}).Run(ctx, JobSpec{SourcePath: path, TargetLanguage: "es"}, nil)
	assert.Equal(t, errs.KindCancelled, errs.KindOf(err))
	assert.Equal(t, 1, tr.calls)
}

func TestQueueWithRunner_StructuralFailureWritesNoFile(t *testing.T) {
	dir := t.TempDir()
	good := writeSRT(t, dir, "good.srt", twoBlocks)
	bad := writeSRT(t, dir, "bad.srt", numberedSRT(2))

	tr := &funcTranslator{fn: func(c subtitle.Chunk) ([]subtitle.Entry, error) {
		if strings.HasPrefix(c.Entries[0].Text(), "line") {
			return nil, errs.New(errs.KindBackendStructural, "block count mismatch")
		}
		return upper(c), nil
	}}
	saver := FileSaver{}
	q := jobs.NewQueue(NewRunner(tr, RunnerConfig{}).Executor(), jobs.WithCompletionSink(SaveSink(saver)))
	q.Start(context.Background())
	defer q.Stop()

	badJob, _ := q.Enqueue(jobs.EnqueueRequest{Name: "bad.srt", SourcePath: bad, TargetLanguage: "es"})
	goodJob, _ := q.Enqueue(jobs.EnqueueRequest{Name: "good.srt", SourcePath: good, TargetLanguage: "es"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))

	gotBad, _ := q.Get(badJob.ID)
	assert.Equal(t, jobs.StatusFailed, gotBad.Status)
	assert.Equal(t, errs.KindBackendStructural.String(), gotBad.ErrorKind)
	assert.NoFileExists(t, filepath.Join(dir, "bad_es.srt"))

	gotGood, _ := q.Get(goodJob.ID)
	assert.Equal(t, jobs.StatusCompleted, gotGood.Status)
	assert.Equal(t, filepath.Join(dir, "good_es.srt"), gotGood.OutputPath)
	data, err := os.ReadFile(gotGood.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HELLO")
}

type funcTranslator struct {
	mu    sync.Mutex
	calls int
	fn    func(subtitle.Chunk) ([]subtitle.Entry, error)
}

func (f *funcTranslator) Available() bool { return true }

func (f *funcTranslator) TranslateChunk(_ context.Context, chunk subtitle.Chunk, _ string, _ language.Tag) ([]subtitle.Entry, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(chunk)
}
