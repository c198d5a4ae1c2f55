// Package bulk runs long multi-target operations as asynchronous, pollable
// jobs. Each job is processed by its own worker goroutine; readers only
// ever see immutable snapshots of the job.
package bulk

import (
	"context"
	"time"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Target is one unit of work: an application and locale, or a single file.
type Target struct {
	ID     string `json:"id,omitempty"`
	App    string `json:"app,omitempty"`
	Locale string `json:"locale,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

// Key identifies the target in results. An explicit ID wins, then the file,
// then app/locale.
func (t Target) Key() string {
	switch {
	case t.ID != "":
		return t.ID
	case t.FileID != "":
		return t.FileID
	case t.Locale == "":
		return t.App
	default:
		return t.App + "/" + t.Locale
	}
}

// RunFunc performs one target and returns how many entries it processed.
// ctx carries the per-target timeout.
type RunFunc func(ctx context.Context, t Target) (int, error)

// EnumerateFunc lists the targets of a job from inside the worker.
type EnumerateFunc func(ctx context.Context) ([]Target, error)

// TargetResult is the outcome of one target.
type TargetResult struct {
	TargetID     string `json:"target_id"`
	Success      bool   `json:"success"`
	EntriesCount int    `json:"entries_count"`
	Error        string `json:"error,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// Job is a snapshot of a bulk job.
type Job struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind,omitempty"`
	Status         Status         `json:"status"`
	Progress       float64        `json:"progress"`
	CurrentTarget  string         `json:"current_target,omitempty"`
	ProcessedCount int            `json:"processed_count"`
	TotalCount     int            `json:"total_count"`
	Results        []TargetResult `json:"results"`
	ErrorLog       []string       `json:"error_log"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// Failed counts unsuccessful, non-skipped results.
func (j Job) Failed() int {
	n := 0
	for _, r := range j.Results {
		if !r.Success && !r.Skipped {
			n++
		}
	}
	return n
}

func (j *Job) clone() *Job {
	c := *j
	c.Results = append([]TargetResult(nil), j.Results...)
	c.ErrorLog = append([]string(nil), j.ErrorLog...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (j *Job) setProgress() {
	if j.TotalCount == 0 {
		j.Progress = 0
		return
	}
	if j.ProcessedCount >= j.TotalCount {
		j.Progress = 100
		return
	}
	j.Progress = float64(j.ProcessedCount) / float64(j.TotalCount) * 100
}
