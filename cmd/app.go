package main

import (
	"github.com/MimeLyc/srt-translator/internal/config"
	"github.com/MimeLyc/srt-translator/internal/jobs"
	"github.com/MimeLyc/srt-translator/internal/llm"
	"github.com/MimeLyc/srt-translator/internal/service"
	"github.com/MimeLyc/srt-translator/internal/translator"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

// pipeline wires backend, client, runner and queue for one process.
type pipeline struct {
	client *translator.Client
	runner *service.Runner
	saver  service.FileSaver
	queue  *jobs.Queue
}

type pipelineOptions struct {
	blockSize   int
	outputDir   string
	checkpoints service.CheckpointStore
	store       jobs.Store
	observers   []jobs.Observer
}

func newPipeline(cfg *config.Config, opts pipelineOptions) (*pipeline, error) {
	backend, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	client := translator.NewClient(backend, translator.Options{
		CallDelay:      cfg.CallDelay(),
		MaxRetries:     cfg.Translate.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay(),
		RetryMaxDelay:  cfg.RetryMaxDelay(),
	})
	if !client.Available() {
		log.Warn("No API key configured for %s; jobs will fail until LLM_API_KEY is set", client.BackendName())
	}

	blockSize := opts.blockSize
	if blockSize == 0 {
		blockSize = cfg.Translate.BlockSize
	}
	runner := service.NewRunner(client, service.RunnerConfig{
		BlockSize:   blockSize,
		Checkpoints: opts.checkpoints,
	})

	outputDir := opts.outputDir
	if outputDir == "" {
		outputDir = cfg.System.OutputDir
	}
	saver := service.FileSaver{Dir: outputDir}

	queueOpts := []jobs.Option{
		jobs.WithMaxActive(cfg.Translate.MaxActiveJobs),
		jobs.WithCompletionSink(service.SaveSink(saver)),
	}
	if opts.store != nil {
		queueOpts = append(queueOpts, jobs.WithStore(opts.store))
	}
	for _, o := range opts.observers {
		queueOpts = append(queueOpts, jobs.WithObserver(o))
	}

	return &pipeline{
		client: client,
		runner: runner,
		saver:  saver,
		queue:  jobs.NewQueue(runner.Executor(), queueOpts...),
	}, nil
}
