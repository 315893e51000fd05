package service

import (
	"context"

	"github.com/MimeLyc/srt-translator/internal/jobs"
)

// Executor adapts r to the queue's executor signature.
func (r *Runner) Executor() jobs.Executor {
	return func(ctx context.Context, job *jobs.TranslationJob, progress jobs.ProgressFunc) (jobs.Outcome, error) {
		res, err := r.Run(ctx, JobSpec{
			ID:             job.ID,
			SourcePath:     job.SourcePath,
			TargetLanguage: job.TargetLanguage,
		}, ProgressFunc(progress))
		if err != nil {
			return jobs.Outcome{}, err
		}
		return jobs.Outcome{
			Result:         res.Text,
			Chunks:         res.Chunks,
			SourceLanguage: res.SourceLanguage.String(),
		}, nil
	}
}

// SaveSink returns a completion sink that writes every successful result
// through saver and records the output path on the job.
func SaveSink(saver Saver) jobs.CompletionSink {
	return func(ctx context.Context, job *jobs.TranslationJob, out *jobs.Outcome) error {
		path, err := saver.Save(ctx, job.SourcePath, job.Name, job.TargetLanguage, out.Result)
		if err != nil {
			return err
		}
		out.OutputPath = path
		return nil
	}
}
