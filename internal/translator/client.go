package translator

import (
	"context"
	"time"

	textlang "golang.org/x/text/language"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/language"
	"github.com/MimeLyc/srt-translator/internal/llm"
	"github.com/MimeLyc/srt-translator/internal/subtitle"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

const (
	DefaultCallDelay      = time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
)

// Options configures a Client. Zero durations keep the defaults except
// CallDelay, where a negative value disables pacing.
type Options struct {
	CallDelay      time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Sleep overrides backoff sleeps, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client translates SRT chunks through a backend, pacing calls and retrying
// transient failures. It is safe for concurrent use.
type Client struct {
	backend llm.Backend
	pacer   *Pacer

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewClient(backend llm.Backend, opts Options) *Client {
	delay := opts.CallDelay
	if delay == 0 {
		delay = DefaultCallDelay
	}
	c := &Client{
		backend:    backend,
		pacer:      NewPacer(delay),
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.RetryBaseDelay,
		maxDelay:   opts.RetryMaxDelay,
		sleep:      opts.Sleep,
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultRetryBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = DefaultRetryMaxDelay
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// Available reports whether the backend has credentials.
func (c *Client) Available() bool {
	return c.backend != nil && c.backend.Available()
}

func (c *Client) BackendName() string {
	if c.backend == nil {
		return ""
	}
	return c.backend.Name()
}

// Translate sends one verbatim SRT chunk and returns the backend's text with
// code fences removed. The response is not validated.
func (c *Client) Translate(ctx context.Context, chunkText, targetCode string) (string, error) {
	target, err := language.Resolve(targetCode)
	if err != nil {
		return "", err
	}
	return c.translate(ctx, chunkText, target, textlang.Und)
}

// TranslateChunk translates chunk and returns its entries with the
// translated text and the original index and timing.
func (c *Client) TranslateChunk(ctx context.Context, chunk subtitle.Chunk, targetCode string, source textlang.Tag) ([]subtitle.Entry, error) {
	target, err := language.Resolve(targetCode)
	if err != nil {
		return nil, err
	}
	text, err := c.translate(ctx, chunk.Text(), target, source)
	if err != nil {
		return nil, err
	}
	entries, err := Validate(chunk.Entries, text)
	if err != nil {
		if e, ok := err.(*errs.Error); ok {
			e.WithContext("chunk", chunk.Ordinal)
		}
		return nil, err
	}
	return entries, nil
}

func (c *Client) translate(ctx context.Context, chunkText string, target language.Target, source textlang.Tag) (string, error) {
	if !c.Available() {
		return "", errs.New(errs.KindConfiguration, "translation backend unavailable: API key not configured")
	}

	req := llm.Request{
		SystemPrompt: buildSystemPrompt(target.Name, source),
		Prompt:       buildUserPrompt(chunkText),
	}

	attempts := c.maxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return "", errs.Wrap(err, errs.KindCancelled, "translation cancelled")
		}

		start := time.Now()
		text, err := c.backend.Generate(ctx, req)
		if err == nil {
			text = stripFences(text)
			log.Debug("%s call finished in %s (%d bytes)", c.backend.Name(), time.Since(start).Round(time.Millisecond), len(text))
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", errs.Wrap(ctx.Err(), errs.KindCancelled, "translation cancelled")
		}
		if !errs.Retryable(err) || attempt == attempts {
			break
		}

		delay := c.retryDelay(err, attempt)
		log.Warn("%s call failed (attempt %d/%d), retrying in %s: %v", c.backend.Name(), attempt, attempts, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return "", errs.Wrap(err, errs.KindCancelled, "translation cancelled")
		}
	}

	if errs.Retryable(lastErr) && attempts > 1 {
		return "", errs.Wrap(lastErr, errs.KindBackendTransient, "translation failed after retries").
			WithContext("attempts", attempts)
	}
	return "", lastErr
}

func (c *Client) retryDelay(err error, attempt int) time.Duration {
	if d, ok := llm.RetryAfter(err); ok {
		return c.capDelay(d)
	}
	return c.backoffDelay(attempt)
}

// backoffDelay doubles from the base delay: attempt 1 -> base, 2 -> 2*base.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		if delay > c.maxDelay/2 {
			return c.maxDelay
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
