package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status int

const (
	StatusPending Status = iota + 1
	StatusActive
	StatusCompleted
	StatusFailed
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusActive:    "active",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
}

// transitions lists the allowed moves. Active -> Pending only happens when
// the queue shuts down with a job in flight, so it is resumed on restart.
var transitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusFailed},
	StatusActive:    {StatusCompleted, StatusFailed, StatusPending},
	StatusCompleted: nil,
	StatusFailed:    nil,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of String.
func ParseStatus(value string) (Status, error) {
	for s, name := range statusNames {
		if name == value {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", value)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// EnqueueRequest describes one file to translate.
type EnqueueRequest struct {
	Name           string
	SourcePath     string
	TargetLanguage string
	// Origin tells where the request came from: cli, http, watch or retry.
	Origin    string
	DedupeKey string
}

// TranslationJob is one file's translation task.
type TranslationJob struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SourcePath     string     `json:"source_path"`
	TargetLanguage string     `json:"target_language"`
	Origin         string     `json:"origin"`
	DedupeKey      string     `json:"dedupe_key,omitempty"`
	RetryOf        string     `json:"retry_of,omitempty"`
	Status         Status     `json:"status"`
	Progress       int        `json:"progress"`
	Preview        string     `json:"preview,omitempty"`
	Error          string     `json:"error,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	Chunks         int        `json:"chunks,omitempty"`
	SourceLanguage string     `json:"source_language,omitempty"`
	OutputPath     string     `json:"output_path,omitempty"`
	Result         string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Summary is the read-only view presentation layers render.
type Summary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
}

// Outcome is what an executor produces for a successful job.
type Outcome struct {
	Result         string
	Chunks         int
	SourceLanguage string
	OutputPath     string
}

// ProgressFunc receives a percentage in [0,100] and a short text preview.
type ProgressFunc func(percent int, preview string)

// Executor runs one job. It must return promptly once ctx is cancelled.
type Executor func(ctx context.Context, job *TranslationJob, progress ProgressFunc) (Outcome, error)

// CompletionSink receives a successful outcome before the job is marked
// completed. An error fails the job instead.
type CompletionSink func(ctx context.Context, job *TranslationJob, out *Outcome) error
