package engine

import "time"

const (
	DefaultBatchSize          = 10
	DefaultMaxBatchSize       = 30
	DefaultLargeFileThreshold = 100
	DefaultContextWindow      = 3
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultContextLabel       = "Previous translations for context:"
)

// Options tune batching. Zero values take the defaults; a negative
// ContextWindow disables context.
type Options struct {
	// BatchSize is the base batch size. Batch indexes and retries always use it.
	BatchSize int
	// MaxBatchSize is used instead of BatchSize for runs over LargeFileThreshold items.
	MaxBatchSize       int
	LargeFileThreshold int
	ContextWindow      int
	ContextLabel       string
	PollInterval       time.Duration
}

func DefaultOptions() Options {
	return Options{
		BatchSize:          DefaultBatchSize,
		MaxBatchSize:       DefaultMaxBatchSize,
		LargeFileThreshold: DefaultLargeFileThreshold,
		ContextWindow:      DefaultContextWindow,
		ContextLabel:       DefaultContextLabel,
		PollInterval:       DefaultPollInterval,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxBatchSize < o.BatchSize {
		o.MaxBatchSize = max(d.MaxBatchSize, o.BatchSize)
	}
	if o.LargeFileThreshold <= 0 {
		o.LargeFileThreshold = d.LargeFileThreshold
	}
	if o.ContextWindow == 0 {
		o.ContextWindow = d.ContextWindow
	}
	if o.ContextLabel == "" {
		o.ContextLabel = d.ContextLabel
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}
