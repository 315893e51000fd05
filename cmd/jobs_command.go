package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/srt-translator/internal/jobs"
	"github.com/MimeLyc/srt-translator/internal/persistence"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List persisted translation jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var want jobs.Status
			if statusFilter != "" {
				if want, err = jobs.ParseStatus(statusFilter); err != nil {
					return err
				}
			}

			store, err := persistence.NewSQLiteStore(cfg.DBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.LoadJobs(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(all))
			for _, job := range all {
				if want != 0 && job.Status != want {
					continue
				}
				rows = append(rows, []string{
					shortID(job.ID),
					job.Name,
					job.TargetLanguage,
					job.Status.String(),
					strconv.Itoa(job.Progress) + "%",
					humanize.Time(job.UpdatedAt),
					job.Error,
				})
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No jobs.")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "File", "Target", "Status", "Progress", "Updated", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show jobs in this status (pending, active, completed, failed)")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
