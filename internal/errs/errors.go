package errs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindParse
	KindBackendTransient
	KindBackendRefused
	KindBackendStructural
	KindCancelled
	KindInvalidState
	KindNotFound
	KindFileIO
)

// Error is the error type shared by every stage of the translation pipeline.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "Configuration"
	case KindParse:
		return "Parse"
	case KindBackendTransient:
		return "BackendTransient"
	case KindBackendRefused:
		return "BackendRefused"
	case KindBackendStructural:
		return "BackendStructural"
	case KindCancelled:
		return "Cancelled"
	case KindInvalidState:
		return "InvalidState"
	case KindNotFound:
		return "NotFound"
	case KindFileIO:
		return "FileIO"
	default:
		return "Unknown"
	}
}

// KindOf returns the kind of the outermost *Error in the chain. Context
// cancellation that was never classified reports KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether another attempt of the same backend call may succeed.
func Retryable(err error) bool {
	return Is(err, KindBackendTransient)
}

// Advice returns a short hint for the operator of a failed job.
func Advice(err error) string {
	switch KindOf(err) {
	case KindConfiguration:
		return "Check LLM_API_KEY, TARGET_LANGUAGE and BLOCK_SIZE in the environment or config file"
	case KindParse:
		return "The file has no valid SubRip blocks; verify it is an .srt file with index and timestamp lines"
	case KindBackendTransient:
		return "The translation backend is unreachable or rate limited; retry later or raise CALL_DELAY_MS"
	case KindBackendRefused:
		return "The backend rejected the request; verify the API key, model name and account quota"
	case KindBackendStructural:
		return "The backend changed the subtitle structure; retry the job or lower BLOCK_SIZE"
	case KindCancelled:
		return "The job was cancelled"
	case KindInvalidState:
		return "The job is in a state that does not allow this operation"
	case KindNotFound:
		return "No job with this id exists"
	case KindFileIO:
		return "Check that the source file is readable and the output directory is writable"
	default:
		return "Review the detailed error and the log output"
	}
}
