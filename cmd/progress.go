package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/MimeLyc/srt-translator/internal/jobs"
)

// progressView renders job progress as bars on a terminal and as plain
// lines otherwise. It implements jobs.Observer.
type progressView struct {
	out         io.Writer
	interactive bool

	mu    sync.Mutex
	names map[string]string
	bars  map[string]*progressbar.ProgressBar
	last  map[string]int
}

func newProgressView(out io.Writer, interactive bool) *progressView {
	return &progressView{
		out:         out,
		interactive: interactive,
		names:       make(map[string]string),
		bars:        make(map[string]*progressbar.ProgressBar),
		last:        make(map[string]int),
	}
}

func (p *progressView) track(jobID, name string) {
	p.mu.Lock()
	p.names[jobID] = name
	p.mu.Unlock()
}

func (p *progressView) OnProgress(jobID string, percent int, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.interactive {
		// plain output only on 25% steps
		if percent/25 > p.last[jobID]/25 || (percent == 100 && p.last[jobID] != 100) {
			fmt.Fprintf(p.out, "%s: %d%%\n", p.names[jobID], percent)
		}
		p.last[jobID] = percent
		return
	}
	bar := p.barLocked(jobID)
	_ = bar.Set(percent)
}

func (p *progressView) OnJobStateChange(jobID string, state jobs.Status, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := p.names[jobID]
	switch state {
	case jobs.StatusActive:
		if p.interactive {
			p.barLocked(jobID)
		} else {
			fmt.Fprintf(p.out, "%s: started\n", name)
		}
	case jobs.StatusCompleted:
		if bar, ok := p.bars[jobID]; ok {
			_ = bar.Finish()
			delete(p.bars, jobID)
		}
		if !p.interactive {
			fmt.Fprintf(p.out, "%s: completed\n", name)
		}
	case jobs.StatusFailed:
		if bar, ok := p.bars[jobID]; ok {
			_ = bar.Exit()
			delete(p.bars, jobID)
		}
		fmt.Fprintf(p.out, "%s: failed: %v\n", name, err)
	}
}

func (p *progressView) barLocked(jobID string) *progressbar.ProgressBar {
	if bar, ok := p.bars[jobID]; ok {
		return bar
	}
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(p.names[jobID]),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.out) }),
	)
	p.bars[jobID] = bar
	return bar
}
