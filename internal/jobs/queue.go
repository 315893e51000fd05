package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

var (
	// ErrCancelled is the failure cause of a cancelled job.
	ErrCancelled = errs.New(errs.KindCancelled, "job cancelled")

	errShutdown = errors.New("queue shutting down")
)

type Option func(*Queue)

func WithStore(store Store) Option {
	return func(q *Queue) { q.store = store }
}

// WithMaxActive sets how many jobs may be active at once (default 1).
func WithMaxActive(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxActive = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.observers = append(q.observers, o)
		}
	}
}

func WithCompletionSink(sink CompletionSink) Option {
	return func(q *Queue) { q.sink = sink }
}

// WithMaxJobs bounds how many jobs are kept; the oldest finished jobs are
// pruned first.
func WithMaxJobs(n int) Option {
	return func(q *Queue) { q.maxJobs = n }
}

type activeRun struct {
	cancel context.CancelCauseFunc
	// finishing is set once the executor has returned and the completion
	// sink is running; the job can no longer be cancelled.
	finishing bool
}

// Queue owns the ordered job list. Pending jobs are dispatched in FIFO
// order, at most maxActive at a time, and the queue advances on its own
// whenever a job finishes.
type Queue struct {
	exec      Executor
	maxActive int
	maxJobs   int
	store     Store
	observers []Observer
	sink      CompletionSink

	mu       sync.RWMutex
	jobs     map[string]*TranslationJob
	order    []string
	dedupe   map[string]string
	active   map[string]*activeRun
	baseCtx  context.Context
	started  bool
	stopping bool
	changed  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// outbox holds store writes and observer calls in the order their state
	// changes happened under mu. flush drains it under flushMu.
	outbox  []func()
	flushMu sync.Mutex
	removed []func(*TranslationJob)
}

func NewQueue(exec Executor, opts ...Option) *Queue {
	q := &Queue{
		exec:      exec,
		maxActive: 1,
		maxJobs:   1000,
		jobs:      make(map[string]*TranslationJob),
		dedupe:    make(map[string]string),
		active:    make(map[string]*activeRun),
		baseCtx:   context.Background(),
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Enqueue appends a pending job. A request whose DedupeKey matches an
// unfinished job returns that job and false.
func (q *Queue) Enqueue(req EnqueueRequest) (*TranslationJob, bool) {
	return q.enqueue(req, "")
}

func (q *Queue) enqueue(req EnqueueRequest, retryOf string) (*TranslationJob, bool) {
	now := time.Now()

	q.mu.Lock()
	if id, ok := q.dedupe[req.DedupeKey]; ok && req.DedupeKey != "" {
		if existing, exists := q.jobs[id]; exists {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, req.DedupeKey)
	}

	job := &TranslationJob{
		ID:             uuid.NewString(),
		Name:           req.Name,
		SourcePath:     req.SourcePath,
		TargetLanguage: req.TargetLanguage,
		Origin:         req.Origin,
		DedupeKey:      req.DedupeKey,
		RetryOf:        retryOf,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	if req.DedupeKey != "" {
		q.dedupe[req.DedupeKey] = job.ID
	}
	q.persistLocked(job)
	q.emitLocked(job.ID, StatusPending, nil)
	q.pruneTerminalJobsLocked()
	advance := q.started && !q.stopping
	snapshot := cloneJob(job)
	q.notifyLocked()
	q.mu.Unlock()

	log.Info("Enqueued job %s (%s -> %s)", snapshot.ID, snapshot.Name, snapshot.TargetLanguage)
	q.flush()
	if advance {
		q.StartNext()
	}
	return snapshot, true
}

// Dequeue removes a job that is not active.
func (q *Queue) Dequeue(id string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return errs.New(errs.KindNotFound, "job not found").WithContext("job", id)
	}
	if job.Status == StatusActive {
		q.mu.Unlock()
		return errs.New(errs.KindInvalidState, "cannot remove an active job; cancel it first").WithContext("job", id)
	}
	q.releaseDedupeLocked(job)
	q.removeLocked(id)
	q.notifyLocked()
	q.mu.Unlock()

	log.Info("Removed job %s", id)
	q.flush()
	return nil
}

// StartNext dispatches the earliest pending jobs while fewer than maxActive
// jobs are active and returns the dispatched IDs.
func (q *Queue) StartNext() []string {
	type dispatch struct {
		ctx context.Context
		job *TranslationJob
		run *activeRun
	}

	q.mu.Lock()
	if q.stopping || q.exec == nil {
		q.mu.Unlock()
		return nil
	}
	var started []dispatch
	for _, id := range q.order {
		if len(q.active) >= q.maxActive {
			break
		}
		job := q.jobs[id]
		if job.Status != StatusPending {
			continue
		}

		now := time.Now()
		job.Status = StatusActive
		job.Progress = 0
		job.Preview = ""
		job.Error = ""
		job.ErrorKind = ""
		job.StartedAt = &now
		job.UpdatedAt = now

		ctx, cancel := context.WithCancelCause(q.baseCtx)
		run := &activeRun{cancel: cancel}
		q.active[id] = run
		q.wg.Add(1)
		q.persistLocked(job)
		q.emitLocked(id, StatusActive, nil)
		started = append(started, dispatch{ctx: ctx, job: cloneJob(job), run: run})
	}
	if len(started) > 0 {
		q.notifyLocked()
	}
	q.mu.Unlock()

	q.flush()
	ids := make([]string, 0, len(started))
	for _, d := range started {
		ids = append(ids, d.job.ID)
		log.Info("Dispatching job %s (%s)", d.job.ID, d.job.Name)
		go q.run(d.ctx, d.job, d.run)
	}
	return ids
}

func (q *Queue) run(ctx context.Context, job *TranslationJob, run *activeRun) {
	defer q.wg.Done()
	defer run.cancel(nil)

	out, err := q.execute(ctx, job, run)
	if err == nil && q.sink != nil && q.beginFinishing(job.ID, run) {
		err = q.sink(context.WithoutCancel(ctx), job, &out)
	}
	q.finish(job.ID, run, out, err, context.Cause(ctx))
}

// beginFinishing moves a run whose executor succeeded into its finishing
// phase. It reports false when the job was cancelled meanwhile.
func (q *Queue) beginFinishing(id string, run *activeRun) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[id] != run {
		return false
	}
	run.finishing = true
	return true
}

func (q *Queue) execute(ctx context.Context, job *TranslationJob, run *activeRun) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf(errs.KindUnknown, "job panicked: %v", r)
		}
	}()
	return q.exec(ctx, job, func(percent int, preview string) {
		q.setProgress(job.ID, run, percent, preview)
	})
}

func (q *Queue) finish(id string, run *activeRun, out Outcome, err error, cause error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || q.active[id] != run {
		q.mu.Unlock()
		log.Info("Discarding result of job %s: no longer active", id)
		return
	}
	delete(q.active, id)

	now := time.Now()
	var next Status
	switch {
	case err != nil && errors.Is(cause, errShutdown):
		next = StatusPending
		job.Progress = 0
		job.Preview = ""
		job.StartedAt = nil
	case err != nil:
		next = StatusFailed
		job.Error = err.Error()
		job.ErrorKind = errs.KindOf(err).String()
		job.FinishedAt = &now
	default:
		next = StatusCompleted
		job.Progress = 100
		job.Preview = ""
		job.Result = out.Result
		job.Chunks = out.Chunks
		job.SourceLanguage = out.SourceLanguage
		job.OutputPath = out.OutputPath
		job.FinishedAt = &now
	}
	job.Status = next
	job.UpdatedAt = now
	stateErr := err
	if next == StatusPending {
		stateErr = nil
	}
	q.persistLocked(job)
	if next.Terminal() {
		q.releaseDedupeLocked(job)
		q.deferLocked(func() { q.deleteJobData(id) })
	}
	q.emitLocked(id, next, stateErr)
	q.pruneTerminalJobsLocked()
	advance := q.started && !q.stopping
	q.notifyLocked()
	q.mu.Unlock()

	switch next {
	case StatusCompleted:
		log.Info("Job %s completed (%d chunks)", id, out.Chunks)
	case StatusFailed:
		log.Error("Job %s failed: %v", id, err)
	case StatusPending:
		log.Info("Job %s interrupted by shutdown, will resume", id)
	}

	q.flush()
	if advance {
		q.StartNext()
	}
}

func (q *Queue) setProgress(id string, run *activeRun, percent int, preview string) {
	percent = max(0, min(100, percent))

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || q.active[id] != run || job.Status != StatusActive {
		q.mu.Unlock()
		return
	}
	if percent < job.Progress {
		percent = job.Progress
	}
	job.Progress = percent
	job.Preview = preview
	job.UpdatedAt = time.Now()
	q.persistLocked(job)
	q.deferLocked(func() {
		for _, o := range q.observers {
			o.OnProgress(id, percent, preview)
		}
	})
	q.notifyLocked()
	q.mu.Unlock()

	q.flush()
}

// Cancel fails a pending or active job with ErrCancelled. An active job's
// context is cancelled and whatever it returns afterwards is discarded.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return errs.New(errs.KindNotFound, "job not found").WithContext("job", id)
	}
	if !job.Status.CanTransition(StatusFailed) {
		q.mu.Unlock()
		return errs.New(errs.KindInvalidState, "job already finished").
			WithContext("job", id).
			WithContext("status", job.Status)
	}

	run := q.active[id]
	if run != nil && run.finishing {
		q.mu.Unlock()
		return errs.New(errs.KindInvalidState, "job is saving its result and can no longer be cancelled").
			WithContext("job", id)
	}
	delete(q.active, id)

	now := time.Now()
	job.Status = StatusFailed
	job.Error = ErrCancelled.Error()
	job.ErrorKind = errs.KindCancelled.String()
	job.FinishedAt = &now
	job.UpdatedAt = now
	q.releaseDedupeLocked(job)
	q.persistLocked(job)
	q.deferLocked(func() { q.deleteJobData(id) })
	q.emitLocked(id, StatusFailed, ErrCancelled)
	advance := q.started && !q.stopping
	q.notifyLocked()
	q.mu.Unlock()

	if run != nil {
		run.cancel(ErrCancelled)
	}
	log.Info("Cancelled job %s", id)
	q.flush()
	if advance {
		q.StartNext()
	}
	return nil
}

// Retry enqueues a failed job again as a new pending job.
func (q *Queue) Retry(id string) (*TranslationJob, error) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	var req EnqueueRequest
	var status Status
	if ok {
		status = job.Status
		req = EnqueueRequest{
			Name:           job.Name,
			SourcePath:     job.SourcePath,
			TargetLanguage: job.TargetLanguage,
			Origin:         "retry",
			DedupeKey:      job.DedupeKey,
		}
	}
	q.mu.RUnlock()

	if !ok {
		return nil, errs.New(errs.KindNotFound, "job not found").WithContext("job", id)
	}
	if status != StatusFailed {
		return nil, errs.New(errs.KindInvalidState, "only failed jobs can be retried").
			WithContext("job", id).
			WithContext("status", status)
	}
	retried, _ := q.enqueue(req, id)
	return retried, nil
}

// ClearFinished removes completed and failed jobs and returns how many.
func (q *Queue) ClearFinished() int {
	q.mu.Lock()
	removed := 0
	for _, id := range slices.Clone(q.order) {
		if job := q.jobs[id]; job.Status.Terminal() {
			q.releaseDedupeLocked(job)
			q.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		q.notifyLocked()
	}
	q.mu.Unlock()

	q.flush()
	return removed
}

func (q *Queue) Get(id string) (*TranslationJob, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns copies of all jobs in queue order.
func (q *Queue) List() []*TranslationJob {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ret := make([]*TranslationJob, 0, len(q.order))
	for _, id := range q.order {
		ret = append(ret, cloneJob(q.jobs[id]))
	}
	return ret
}

// Snapshot returns a consistent view of the queue in order.
func (q *Queue) Snapshot() []Summary {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ret := make([]Summary, 0, len(q.order))
	for _, id := range q.order {
		job := q.jobs[id]
		ret = append(ret, Summary{ID: job.ID, Name: job.Name, Status: job.Status, Progress: job.Progress})
	}
	return ret
}

// Start enables dispatching. Jobs inherit ctx; cancelling it stops the queue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.stopping {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.baseCtx = ctx
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		q.Stop()
	}()
	q.StartNext()
}

// Stop interrupts active jobs, returning them to pending so a later process
// resumes them, and waits for their executors to return.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopping = true
		runs := make([]*activeRun, 0, len(q.active))
		for _, run := range q.active {
			runs = append(runs, run)
		}
		q.mu.Unlock()

		for _, run := range runs {
			run.cancel(errShutdown)
		}
		q.wg.Wait()
	})
}

// WaitIdle blocks until no job is pending or active.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.RLock()
		idle := true
		for _, job := range q.jobs {
			if !job.Status.Terminal() {
				idle = false
				break
			}
		}
		changed := q.changed
		q.mu.RUnlock()

		if idle {
			q.flush()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// OnRemoved registers fn to be called with each job dropped from the queue
// by Dequeue, ClearFinished or pruning.
func (q *Queue) OnRemoved(fn func(*TranslationJob)) {
	q.flushMu.Lock()
	q.removed = append(q.removed, fn)
	q.flushMu.Unlock()
}

func (q *Queue) deferLocked(fn func()) {
	q.outbox = append(q.outbox, fn)
}

func (q *Queue) persistLocked(job *TranslationJob) {
	snapshot := cloneJob(job)
	q.deferLocked(func() { q.persistJob(snapshot) })
}

func (q *Queue) emitLocked(id string, state Status, err error) {
	q.deferLocked(func() {
		for _, o := range q.observers {
			o.OnJobStateChange(id, state, err)
		}
	})
}

// flush runs queued side effects in order. Observers and removal hooks run
// inside flush and must not call queue methods that change state.
func (q *Queue) flush() {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()
	for {
		q.mu.Lock()
		batch := q.outbox
		q.outbox = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

func (q *Queue) removeLocked(id string) {
	job := cloneJob(q.jobs[id])
	delete(q.jobs, id)
	if i := slices.Index(q.order, id); i >= 0 {
		q.order = slices.Delete(q.order, i, i+1)
	}
	q.deferLocked(func() {
		q.deleteJobsFromStore([]string{id})
		if job == nil {
			return
		}
		for _, fn := range q.removed {
			fn(job)
		}
	})
}

func (q *Queue) releaseDedupeLocked(job *TranslationJob) {
	if job == nil || job.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[job.DedupeKey]; ok && id == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

func (q *Queue) pruneTerminalJobsLocked() {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job.Status.Terminal() {
			terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
		}
	}
	if len(terminal) == 0 {
		return
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		q.releaseDedupeLocked(q.jobs[id])
		q.removeLocked(id)
	}
}

func (q *Queue) deleteJobData(id string) {
	if q.store == nil {
		return
	}
	if err := q.store.DeleteJobData(context.Background(), id); err != nil {
		log.Error("Failed to delete data for job %s: %v", id, err)
	}
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		q.deleteJobData(id)
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete job %s from store: %v", id, err)
		}
	}
}

func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i] != nil && loaded[j] != nil && loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
	})

	now := time.Now()
	toPersist := make([]*TranslationJob, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		if _, dup := q.jobs[raw.ID]; dup {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusActive {
			job.Status = StatusPending
			job.Progress = 0
			job.Preview = ""
			job.StartedAt = nil
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
		q.order = append(q.order, job.ID)
		if job.Status == StatusPending && job.DedupeKey != "" {
			q.dedupe[job.DedupeKey] = job.ID
		}
	}
	q.mu.Unlock()

	if len(loaded) > 0 {
		log.Info("Restored %d jobs from store (%d resumed)", len(loaded), len(toPersist))
	}
	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func (q *Queue) persistJob(job *TranslationJob) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *TranslationJob) *TranslationJob {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}

func (s Summary) String() string {
	return fmt.Sprintf("%s %s %s %d%%", s.ID, s.Name, s.Status, s.Progress)
}
