package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

const maxErrorBody = 512

// StatusError is a non-2xx backend response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request: http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter, true
	}
	return 0, false
}

func classifyStatus(provider string, resp *http.Response, body []byte) error {
	retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
	statusErr := &StatusError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       truncate(strings.TrimSpace(string(body)), maxErrorBody),
		RetryAfter: retryAfter,
	}

	kind := errs.KindBackendRefused
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		kind = errs.KindBackendTransient
	}
	return errs.Wrap(statusErr, kind, "backend returned an error status").
		WithContext("provider", provider).
		WithContext("status", resp.StatusCode)
}

func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(err, errs.KindCancelled, "backend request cancelled").WithContext("provider", provider)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(err, errs.KindBackendTransient, "backend request timed out").WithContext("provider", provider)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(err, errs.KindBackendTransient, "backend request timed out").WithContext("provider", provider)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errs.Wrap(err, errs.KindBackendTransient, "backend unreachable").WithContext("provider", provider)
	}
	return errs.Wrap(err, errs.KindBackendTransient, "backend request failed").WithContext("provider", provider)
}

func emptyContent(provider, finishReason string) error {
	return errs.New(errs.KindBackendTransient, "backend returned empty content").
		WithContext("provider", provider).
		WithContext("finish_reason", finishReason)
}

func refused(provider, reason string) error {
	return errs.New(errs.KindBackendRefused, "backend refused the request").
		WithContext("provider", provider).
		WithContext("reason", reason)
}

func unavailable(provider string) error {
	return errs.New(errs.KindConfiguration, "translation backend has no API key").
		WithContext("provider", provider)
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
