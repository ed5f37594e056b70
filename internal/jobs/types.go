package jobs

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether a job in this status will not run again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

type EnqueueRequest struct {
	SessionID string
	Source    string
	Payload   JobPayload
}

// JobPayload is what a translate action asked for. Provider credentials are
// resolved when the job runs, never stored with it.
type JobPayload struct {
	TargetLanguage string `json:"target_language"`
	Prompt         string `json:"prompt,omitempty"`
	Provider       string `json:"provider,omitempty"`
}

type TranslationJob struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Source    string     `json:"source"`
	DedupeKey string     `json:"dedupe_key"`
	Payload   JobPayload `json:"payload"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
