package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

type recorder struct {
	mu       sync.Mutex
	progress map[string][]int
	states   map[string][]Status
	errs     map[string]error
}

func newRecorder() *recorder {
	return &recorder{
		progress: make(map[string][]int),
		states:   make(map[string][]Status),
		errs:     make(map[string]error),
	}
}

func (r *recorder) OnProgress(jobID string, percent int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[jobID] = append(r.progress[jobID], percent)
}

func (r *recorder) OnJobStateChange(jobID string, state Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[jobID] = append(r.states[jobID], state)
	if err != nil {
		r.errs[jobID] = err
	}
}

func (r *recorder) statesOf(id string) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.states[id]...)
}

func (r *recorder) errOf(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[id]
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
}

func enqueue(t *testing.T, q *Queue, name string) *TranslationJob {
	t.Helper()
	job, created := q.Enqueue(EnqueueRequest{Name: name, SourcePath: "/tmp/" + name, TargetLanguage: "es", Origin: "test"})
	require.True(t, created)
	return job
}

func TestQueue_FailureIsolation(t *testing.T) {
	var mu sync.Mutex
	var order []string
	exec := func(_ context.Context, job *TranslationJob, progress ProgressFunc) (Outcome, error) {
		mu.Lock()
		order = append(order, job.Name)
		mu.Unlock()
		if job.Name == "two.srt" {
			return Outcome{}, errs.New(errs.KindBackendTransient, "backend down")
		}
		progress(100, "")
		return Outcome{Result: "translated " + job.Name, Chunks: 1}, nil
	}

	rec := newRecorder()
	q := NewQueue(exec, WithObserver(rec))
	one := enqueue(t, q, "one.srt")
	two := enqueue(t, q, "two.srt")
	three := enqueue(t, q, "three.srt")

	q.Start(context.Background())
	defer q.Stop()
	waitIdle(t, q)

	snapshot := q.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, []string{one.ID, two.ID, three.ID}, []string{snapshot[0].ID, snapshot[1].ID, snapshot[2].ID})
	assert.Equal(t, StatusCompleted, snapshot[0].Status)
	assert.Equal(t, StatusFailed, snapshot[1].Status)
	assert.Equal(t, StatusCompleted, snapshot[2].Status)
	assert.Equal(t, 100, snapshot[2].Progress)

	mu.Lock()
	assert.Equal(t, []string{"one.srt", "two.srt", "three.srt"}, order)
	mu.Unlock()

	failed, ok := q.Get(two.ID)
	require.True(t, ok)
	assert.Equal(t, "BackendTransient", failed.ErrorKind)
	assert.Contains(t, failed.Error, "backend down")

	done, _ := q.Get(three.ID)
	assert.Equal(t, "translated three.srt", done.Result)
	assert.Equal(t, []Status{StatusPending, StatusActive, StatusFailed}, rec.statesOf(two.ID))
}

func TestQueue_AtMostOneActiveByDefault(t *testing.T) {
	var running, peak atomic.Int32
	exec := func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return Outcome{}, nil
	}

	q := NewQueue(exec)
	q.Start(context.Background())
	defer q.Stop()
	for i := 0; i < 5; i++ {
		enqueue(t, q, fmt.Sprintf("%d.srt", i))
	}
	waitIdle(t, q)
	assert.Equal(t, int32(1), peak.Load())
}

func TestQueue_MaxActiveAllowsParallelJobs(t *testing.T) {
	release := make(chan struct{})
	var running atomic.Int32
	exec := func(ctx context.Context, _ *TranslationJob, _ ProgressFunc) (Outcome, error) {
		running.Add(1)
		<-release
		return Outcome{}, nil
	}

	q := NewQueue(exec, WithMaxActive(2))
	for i := 0; i < 3; i++ {
		enqueue(t, q, fmt.Sprintf("%d.srt", i))
	}
	q.Start(context.Background())
	defer q.Stop()

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	snapshot := q.Snapshot()
	assert.Equal(t, StatusActive, snapshot[0].Status)
	assert.Equal(t, StatusActive, snapshot[1].Status)
	assert.Equal(t, StatusPending, snapshot[2].Status)

	close(release)
	waitIdle(t, q)
	assert.Equal(t, int32(3), running.Load())
}

func TestQueue_StartNextIsNoopWhileActive(t *testing.T) {
	release := make(chan struct{})
	exec := func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		<-release
		return Outcome{}, nil
	}

	q := NewQueue(exec)
	first := enqueue(t, q, "a.srt")
	enqueue(t, q, "b.srt")

	assert.Equal(t, []string{first.ID}, q.StartNext())
	assert.Empty(t, q.StartNext())

	close(release)
	require.Eventually(t, func() bool {
		job, _ := q.Get(first.ID)
		return job.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)
	q.Stop()
}

func TestQueue_DequeueRules(t *testing.T) {
	release := make(chan struct{})
	exec := func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		<-release
		return Outcome{}, nil
	}

	q := NewQueue(exec)
	active := enqueue(t, q, "a.srt")
	pending := enqueue(t, q, "b.srt")
	q.StartNext()

	err := q.Dequeue(active.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidState))

	require.NoError(t, q.Dequeue(pending.ID))
	_, ok := q.Get(pending.ID)
	assert.False(t, ok)

	assert.True(t, errs.Is(q.Dequeue("missing"), errs.KindNotFound))

	close(release)
	require.Eventually(t, func() bool {
		job, _ := q.Get(active.ID)
		return job.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Dequeue(active.ID))
	assert.Empty(t, q.Snapshot())
	q.Stop()
}

func TestQueue_CancelActiveDiscardsResult(t *testing.T) {
	entered := make(chan string, 4)
	sinkCalls := atomic.Int32{}
	exec := func(ctx context.Context, job *TranslationJob, _ ProgressFunc) (Outcome, error) {
		entered <- job.Name
		if job.Name == "slow.srt" {
			<-ctx.Done()
			// an in-flight call that still returns a result
			return Outcome{Result: "late"}, nil
		}
		return Outcome{Result: "ok"}, nil
	}
	sink := func(context.Context, *TranslationJob, *Outcome) error {
		sinkCalls.Add(1)
		return nil
	}

	rec := newRecorder()
	q := NewQueue(exec, WithObserver(rec), WithCompletionSink(sink))
	slow := enqueue(t, q, "slow.srt")
	next := enqueue(t, q, "next.srt")
	q.Start(context.Background())
	defer q.Stop()

	assert.Equal(t, "slow.srt", <-entered)
	require.NoError(t, q.Cancel(slow.ID))
	waitIdle(t, q)

	got, _ := q.Get(slow.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "Cancelled", got.ErrorKind)
	assert.Empty(t, got.Result)
	assert.True(t, errs.Is(rec.errOf(slow.ID), errs.KindCancelled))

	done, _ := q.Get(next.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, int32(1), sinkCalls.Load())

	assert.True(t, errs.Is(q.Cancel(slow.ID), errs.KindInvalidState))
}

func TestQueue_CancelPendingNeverRuns(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		calls.Add(1)
		return Outcome{}, nil
	})
	job := enqueue(t, q, "a.srt")
	require.NoError(t, q.Cancel(job.ID))

	q.Start(context.Background())
	defer q.Stop()
	waitIdle(t, q)

	got, _ := q.Get(job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Zero(t, calls.Load())
}

func TestQueue_ProgressIsMonotonic(t *testing.T) {
	exec := func(_ context.Context, _ *TranslationJob, progress ProgressFunc) (Outcome, error) {
		for _, p := range []int{0, 50, 30, 75, 150} {
			progress(p, "preview")
		}
		return Outcome{}, nil
	}
	rec := newRecorder()
	q := NewQueue(exec, WithObserver(rec))
	job := enqueue(t, q, "a.srt")
	q.Start(context.Background())
	defer q.Stop()
	waitIdle(t, q)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int{0, 50, 50, 75, 100}, rec.progress[job.ID])
}

func TestQueue_CompletionSinkRunsBeforeCompleted(t *testing.T) {
	var q *Queue
	var statusDuringSink Status
	sink := func(_ context.Context, job *TranslationJob, out *Outcome) error {
		got, _ := q.Get(job.ID)
		statusDuringSink = got.Status
		if job.Name == "bad.srt" {
			return errs.New(errs.KindFileIO, "disk full")
		}
		out.OutputPath = "/out/" + job.Name
		return nil
	}
	q = NewQueue(func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		return Outcome{Result: "x"}, nil
	}, WithCompletionSink(sink))

	good := enqueue(t, q, "good.srt")
	bad := enqueue(t, q, "bad.srt")
	q.Start(context.Background())
	defer q.Stop()
	waitIdle(t, q)

	assert.Equal(t, StatusActive, statusDuringSink)
	g, _ := q.Get(good.ID)
	assert.Equal(t, StatusCompleted, g.Status)
	assert.Equal(t, "/out/good.srt", g.OutputPath)
	b, _ := q.Get(bad.ID)
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, "FileIO", b.ErrorKind)
}

func TestQueue_RetryAndClearFinished(t *testing.T) {
	var attempts atomic.Int32
	q := NewQueue(func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		if attempts.Add(1) == 1 {
			return Outcome{}, assert.AnError
		}
		return Outcome{}, nil
	})
	q.Start(context.Background())
	defer q.Stop()

	first := enqueue(t, q, "a.srt")
	waitIdle(t, q)

	retried, err := q.Retry(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, retried.RetryOf)
	assert.NotEqual(t, first.ID, retried.ID)
	waitIdle(t, q)

	got, _ := q.Get(retried.ID)
	assert.Equal(t, StatusCompleted, got.Status)

	_, err = q.Retry(retried.ID)
	assert.True(t, errs.Is(err, errs.KindInvalidState))

	assert.Equal(t, 2, q.ClearFinished())
	assert.Empty(t, q.List())
}

func TestQueue_Enqueue_DeduplicatesUnfinished(t *testing.T) {
	q := NewQueue(nil)

	jobA, createdA := q.Enqueue(EnqueueRequest{Name: "a.srt", DedupeKey: "/media/a.srt|es"})
	jobB, createdB := q.Enqueue(EnqueueRequest{Name: "a.srt", DedupeKey: "/media/a.srt|es"})

	require.True(t, createdA)
	require.False(t, createdB)
	assert.Equal(t, jobA.ID, jobB.ID)
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusActive))
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.False(t, StatusPending.CanTransition(StatusCompleted))
	assert.True(t, StatusActive.CanTransition(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransition(StatusFailed))
	assert.False(t, StatusFailed.CanTransition(StatusPending))

	for s := range statusNames {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("running")
	assert.Error(t, err)
}

func TestQueue_CancelWhileSavingIsRejected(t *testing.T) {
	saving := make(chan struct{})
	release := make(chan struct{})
	var sinkCalls atomic.Int32
	sink := func(_ context.Context, _ *TranslationJob, out *Outcome) error {
		sinkCalls.Add(1)
		close(saving)
		<-release
		out.OutputPath = "/out/a_es.srt"
		return nil
	}
	q := NewQueue(func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		return Outcome{Result: "x"}, nil
	}, WithCompletionSink(sink))
	job := enqueue(t, q, "a.srt")
	q.Start(context.Background())
	defer q.Stop()

	<-saving
	err := q.Cancel(job.ID)
	assert.True(t, errs.Is(err, errs.KindInvalidState))
	close(release)
	waitIdle(t, q)

	got, _ := q.Get(job.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "/out/a_es.srt", got.OutputPath)
	assert.Equal(t, int32(1), sinkCalls.Load())
}

func TestQueue_ConcurrentEnqueueKeepsStateOrder(t *testing.T) {
	const workers, perWorker = 8, 100

	rec := newRecorder()
	store := newMemoryStore()
	q := NewQueue(func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		return Outcome{Result: "x"}, nil
	}, WithMaxActive(4), WithObserver(rec), WithStore(store), WithMaxJobs(0))
	q.Start(context.Background())
	defer q.Stop()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q.Enqueue(EnqueueRequest{Name: fmt.Sprintf("%d-%d.srt", w, i), TargetLanguage: "es"})
			}
		}(w)
	}
	wg.Wait()
	waitIdle(t, q)

	all := q.List()
	require.Len(t, all, workers*perWorker)
	for _, job := range all {
		require.Equal(t, StatusCompleted, job.Status)
		assert.Equal(t, []Status{StatusPending, StatusActive, StatusCompleted}, rec.statesOf(job.ID), job.Name)
		stored := store.get(job.ID)
		require.NotNil(t, stored)
		assert.Equal(t, StatusCompleted, stored.Status, job.Name)
	}
}

func TestQueue_OnRemovedSeesDroppedJobs(t *testing.T) {
	q := NewQueue(func(context.Context, *TranslationJob, ProgressFunc) (Outcome, error) {
		return Outcome{}, nil
	})
	var mu sync.Mutex
	var removed []string
	q.OnRemoved(func(job *TranslationJob) {
		mu.Lock()
		removed = append(removed, job.Name)
		mu.Unlock()
	})

	pending := enqueue(t, q, "pending.srt")
	require.NoError(t, q.Dequeue(pending.ID))

	enqueue(t, q, "done.srt")
	q.Start(context.Background())
	defer q.Stop()
	waitIdle(t, q)
	assert.Equal(t, 1, q.ClearFinished())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pending.srt", "done.srt"}, removed)
}
