package engine

import (
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
)

// Status is the lifecycle state of one subtitle item.
//
//	pending ──► translating ──► translated
//	               │  ▲
//	               ▼  │
//	              error
type Status string

const (
	StatusPending     Status = "pending"
	StatusTranslating Status = "translating"
	StatusTranslated  Status = "translated"
	StatusError       Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTranslating, StatusTranslated, StatusError:
		return true
	}
	return false
}

// eligible reports whether an item in this status is picked up by a run or a retry.
func (s Status) eligible() bool {
	return s == StatusPending || s == StatusError
}

// Item is one subtitle line with its translation state.
type Item struct {
	ID             int                `json:"id"`
	StartTime      subtitle.Timestamp `json:"start_time"`
	EndTime        subtitle.Timestamp `json:"end_time"`
	SourceText     string             `json:"source_text"`
	TranslatedText string             `json:"translated_text"`
	Status         Status             `json:"status"`
	Error          string             `json:"error,omitempty"`
}

// NewItems converts parsed cues into pending items with ids 1..N.
func NewItems(cues []subtitle.Cue) []Item {
	items := make([]Item, len(cues))
	for i, c := range cues {
		items[i] = Item{
			ID:         i + 1,
			StartTime:  c.Start,
			EndTime:    c.End,
			SourceText: c.Text,
			Status:     StatusPending,
		}
	}
	return items
}

// Progress counts settled items of the current run.
type Progress struct {
	Done    int     `json:"done"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

func newProgress(done, total int) Progress {
	p := Progress{Done: done, Total: total}
	if total > 0 {
		p.Percent = float64(done) * 100 / float64(total)
	}
	return p
}

// FailedBatch groups the error items of one base-size batch.
type FailedBatch struct {
	Index int    `json:"index"`
	Items []Item `json:"items"`
}

// Job is one "translate" action. Its Control is the single source of truth
// for pause and abort.
type Job struct {
	ID             string
	TargetLanguage string
	Prompt         string
	Provider       string
	Translator     translator.Translator
	Control        *Control
	StartedAt      time.Time
}

// JobRequest starts a translation run.
type JobRequest struct {
	ID             string
	TargetLanguage string
	Prompt         string
	Provider       string
	Translator     translator.Translator
}

// RetryRequest drives a single item or single batch retry. Empty
// TargetLanguage and Prompt reuse the values of the last run.
type RetryRequest struct {
	TargetLanguage string
	Prompt         string
	Translator     translator.Translator
}

// State is an observable snapshot of a session.
type State struct {
	Items          []Item         `json:"items"`
	Counts         map[Status]int `json:"counts"`
	Progress       Progress       `json:"progress"`
	FailedBatches  []FailedBatch  `json:"failed_batches"`
	Running        bool           `json:"running"`
	Paused         bool           `json:"paused"`
	TargetLanguage string         `json:"target_language,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
	SourceLanguage string         `json:"source_language,omitempty"`
	Message        string         `json:"message,omitempty"`
	Version        uint64         `json:"version"`
}
