package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/jobs"
	"github.com/MimeLyc/srt-translator/internal/language"
)

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var target string
	var outDir string
	var blockSize int

	cmd := &cobra.Command{
		Use:   "translate <file.srt>...",
		Short: "Translate subtitle files and write {name}_{code}.srt next to them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if target == "" {
				target = cfg.TargetCode()
			}
			t, err := language.Resolve(target)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("block-size") && blockSize < 1 {
				return errs.Newf(errs.KindConfiguration, "--block-size must be at least 1, got %d", blockSize)
			}

			out := cmd.OutOrStdout()
			interactive := false
			if f, ok := out.(*os.File); ok {
				interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
			}
			view := newProgressView(out, interactive)

			p, err := newPipeline(cfg, pipelineOptions{
				blockSize: blockSize,
				outputDir: outDir,
				observers: []jobs.Observer{view},
			})
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(args))
			for _, abs := range uniquePaths(args) {
				job, created := p.queue.Enqueue(jobs.EnqueueRequest{
					Name:           filepath.Base(abs),
					SourcePath:     abs,
					TargetLanguage: t.Code,
					Origin:         "cli",
					DedupeKey:      abs + "|" + t.Code,
				})
				if !created {
					continue
				}
				view.track(job.ID, job.Name)
				ids = append(ids, job.ID)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p.queue.Start(runCtx)
			waitErr := p.queue.WaitIdle(runCtx)
			p.queue.Stop()

			failed := 0
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				job, ok := p.queue.Get(id)
				if !ok {
					continue
				}
				if job.Status != jobs.StatusCompleted {
					failed++
				}
				rows = append(rows, summaryRow(job))
			}
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Target", "Status", "Chunks", "Output", "Size", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
			))

			if waitErr != nil {
				return waitErr
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "to", "t", "", "Target language code (default: TARGET_LANGUAGE)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: OUTPUT_DIR or next to each file)")
	cmd.Flags().IntVar(&blockSize, "block-size", 0, "Subtitle blocks per backend call (default: BLOCK_SIZE)")
	return cmd
}

func summaryRow(job *jobs.TranslationJob) []string {
	size := ""
	if job.OutputPath != "" {
		if info, err := os.Stat(job.OutputPath); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
	}
	chunks := ""
	if job.Chunks > 0 {
		chunks = strconv.Itoa(job.Chunks)
	}
	return []string{job.Name, job.TargetLanguage, job.Status.String(), chunks, job.OutputPath, size, job.Error}
}

// uniquePaths makes args absolute and drops repeats, keeping the first
// occurrence of each file.
func uniquePaths(args []string) []string {
	seen := make(map[string]bool, len(args))
	ret := make([]string, 0, len(args))
	for _, path := range args {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		abs = filepath.Clean(abs)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		ret = append(ret, abs)
	}
	return ret
}
