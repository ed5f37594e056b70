package service

import (
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
)

// SessionInfo is the list view of a session.
type SessionInfo struct {
	ID             string                `json:"id"`
	FileName       string                `json:"file_name"`
	Format         subtitle.Format       `json:"format"`
	ItemCount      int                   `json:"item_count"`
	Counts         map[engine.Status]int `json:"counts"`
	Running        bool                  `json:"running"`
	Paused         bool                  `json:"paused"`
	TargetLanguage string                `json:"target_language,omitempty"`
	SourceLanguage string                `json:"source_language,omitempty"`
	ActiveJobID    string                `json:"active_job_id,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// SessionView is a session with its full observable state.
type SessionView struct {
	SessionInfo
	State engine.State `json:"state"`
}

// TranslateRequest starts a job. Empty fields fall back to the runtime settings.
type TranslateRequest struct {
	TargetLanguage string `json:"target_language"`
	Prompt         string `json:"prompt"`
	Provider       string `json:"provider"`
	Source         string `json:"-"`
}

// EstimateRequest prices a translation run. Empty fields fall back to the
// last run of the session, then to the runtime settings.
type EstimateRequest struct {
	TargetLanguage string `json:"target_language"`
	Prompt         string `json:"prompt"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

// RetryRequest re-translates items. Empty fields reuse the last run.
type RetryRequest struct {
	TargetLanguage string `json:"target_language"`
	Prompt         string `json:"prompt"`
	Provider       string `json:"provider"`
}

// Export is a rendered subtitle file.
type Export struct {
	FileName string
	Format   subtitle.Format
	Content  string
}
