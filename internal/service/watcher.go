package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/srt-translator/internal/jobs"
	"github.com/MimeLyc/srt-translator/pkg/file"
	"github.com/MimeLyc/srt-translator/pkg/icron"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

const defaultLookback = 7 * 24 * time.Hour

// Enqueuer accepts translation requests.
type Enqueuer interface {
	Enqueue(req jobs.EnqueueRequest) (*jobs.TranslationJob, bool)
}

type WatcherConfig struct {
	Dir            string
	CronExpr       string
	TargetLanguage string
	// Saver decides where outputs go; a source whose output already exists is skipped.
	Saver FileSaver
}

// Watcher periodically scans a directory for new .srt files and enqueues them.
type Watcher struct {
	cfg   WatcherConfig
	queue Enqueuer
	cron  *cron.Cron
	group singleflight.Group

	mu       sync.Mutex
	lastScan time.Time
	now      func() time.Time
}

func NewWatcher(cfg WatcherConfig, queue Enqueuer) (*Watcher, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if err := icron.Validate(cfg.CronExpr); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:   cfg,
		queue: queue,
		cron:  cron.New(cron.WithParser(icron.Parser)),
		now:   time.Now,
	}, nil
}

// Start schedules scans until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	log.Info("Watching %s (%s) for subtitles to translate into %s", w.cfg.Dir, w.cfg.CronExpr, w.cfg.TargetLanguage)
	if _, err := w.cron.AddFunc(w.cfg.CronExpr, func() {
		if _, err := w.Scan(ctx); err != nil {
			log.Error("Failed to scan %s: %v", w.cfg.Dir, err)
		}
	}); err != nil {
		return err
	}
	w.cron.Start()
	go func() {
		<-ctx.Done()
		<-w.cron.Stop().Done()
	}()
	return nil
}

// Scan enqueues every eligible file changed since the previous scan. Concurrent
// calls share one scan.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	v, err, _ := w.group.Do("scan", func() (any, error) {
		return w.scan(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (w *Watcher) scan(ctx context.Context) (int, error) {
	if _, err := os.Stat(w.cfg.Dir); err != nil {
		return 0, fmt.Errorf("directory %s: %w", w.cfg.Dir, err)
	}

	scanStart := w.now()
	since, err := w.startTime(scanStart)
	if err != nil {
		return 0, err
	}
	log.Debug("Scanning %s for files modified after %v", w.cfg.Dir, since)

	recent, err := file.FindRecentAfter(w.cfg.Dir, since)
	if err != nil {
		return 0, fmt.Errorf("failed to find recent files: %w", err)
	}

	enqueued := 0
	for _, path := range recent {
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}
		if !w.eligible(path) {
			continue
		}
		job, created := w.queue.Enqueue(jobs.EnqueueRequest{
			Name:           filepath.Base(path),
			SourcePath:     path,
			TargetLanguage: w.cfg.TargetLanguage,
			Origin:         "watch",
			DedupeKey:      path + "|" + w.cfg.TargetLanguage,
		})
		if created {
			enqueued++
			log.Info("Queued %s as job %s", path, job.ID)
		}
	}

	w.mu.Lock()
	w.lastScan = scanStart
	w.mu.Unlock()
	log.Info("Scan of %s found %d new file(s)", w.cfg.Dir, enqueued)
	return enqueued, nil
}

func (w *Watcher) eligible(path string) bool {
	if !strings.EqualFold(filepath.Ext(path), ".srt") || IsOutputOf(path) {
		return false
	}
	out := w.cfg.Saver.OutputPath(path, filepath.Base(path), w.cfg.TargetLanguage)
	if _, err := os.Stat(out); err == nil {
		log.Debug("Skipping %s: %s already exists", path, out)
		return false
	}
	return true
}

// startTime is the previous scan, or on the first scan the previous cron
// trigger, looking back at least defaultLookback.
func (w *Watcher) startTime(now time.Time) (time.Time, error) {
	w.mu.Lock()
	last := w.lastScan
	w.mu.Unlock()
	if !last.IsZero() {
		return last, nil
	}

	info, err := icron.GetTriggerInfo(w.cfg.CronExpr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get cron schedule: %w", err)
	}
	floor := now.Add(-defaultLookback)
	if info.Last.IsZero() || info.Last.After(floor) {
		return floor, nil
	}
	return info.Last, nil
}
