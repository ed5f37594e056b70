package persistence

import (
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
)

// SessionRecord is the stored header of a loaded subtitle set. Its items are
// stored separately.
type SessionRecord struct {
	ID             string
	FileName       string
	Format         subtitle.Format
	TargetLanguage string
	Prompt         string
	Provider       string
	SourceLanguage string
	Message        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobEvent is one control or lifecycle event of a job.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
