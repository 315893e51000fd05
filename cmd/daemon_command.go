package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/srt-translator/internal/config"
	"github.com/MimeLyc/srt-translator/internal/httpapi"
	"github.com/MimeLyc/srt-translator/internal/jobs"
	"github.com/MimeLyc/srt-translator/internal/persistence"
	"github.com/MimeLyc/srt-translator/internal/service"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var watchDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job queue (and the directory watcher when WATCH_DIR is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if watchDir != "" {
				cfg.Watch.Dir = watchDir
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(runCtx, cfg, daemonOptions{http: true, watch: cfg.Watch.Dir != ""})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: HTTP_ADDR)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Directory to watch for new .srt files (default: WATCH_DIR)")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Scan a directory on a cron schedule and translate new .srt files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Watch.Dir = args[0]
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(runCtx, cfg, daemonOptions{watch: true, once: once})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Scan once, translate what was found and exit")
	return cmd
}

type daemonOptions struct {
	http  bool
	watch bool
	once  bool
}

// runDaemon runs the persistent queue with the HTTP API and/or the watcher
// until ctx is done.
func runDaemon(ctx context.Context, cfg *config.Config, opts daemonOptions) error {
	lock, err := acquireLock(cfg.LockPath())
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	bus := jobs.NewEventBus(1000)
	p, err := newPipeline(cfg, pipelineOptions{
		checkpoints: store,
		store:       store,
		observers:   []jobs.Observer{bus},
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	p.queue.Start(gctx)
	defer p.queue.Stop()

	if opts.watch {
		watcher, err := service.NewWatcher(service.WatcherConfig{
			Dir:            cfg.Watch.Dir,
			CronExpr:       cfg.Watch.CronExpr,
			TargetLanguage: cfg.TargetCode(),
			Saver:          p.saver,
		}, p.queue)
		if err != nil {
			return err
		}
		if opts.once {
			if _, err := watcher.Scan(gctx); err != nil {
				return err
			}
			return p.queue.WaitIdle(gctx)
		}
		if err := watcher.Start(gctx); err != nil {
			return err
		}
	}

	if opts.http {
		settings, err := config.NewRuntimeSettingsStore(cfg.SettingsPath(), cfg.RuntimeSettings())
		if err != nil {
			return err
		}
		server := httpapi.NewServer(p.queue, cfg.UploadDir(),
			httpapi.WithEventBus(bus),
			httpapi.WithBackend(p.client),
			httpapi.WithRuntimeSettingsStore(settings),
			httpapi.WithDefaultTarget(cfg.TargetCode()),
			httpapi.WithAllowedRoots(cfg.PathRoots()...),
		)
		g.Go(func() error {
			log.Info("Listening on %s", cfg.HTTP.Addr)
			if err := server.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
