package jobs

import "context"

// Store keeps translation jobs across restarts. Jobs that were running when
// the process stopped come back as pending.
type Store interface {
	LoadJobs(ctx context.Context) ([]*TranslationJob, error)
	UpsertJob(ctx context.Context, job *TranslationJob) error
	DeleteJob(ctx context.Context, jobID string) error
	// DeleteJobData drops the event log of a pruned job.
	DeleteJobData(ctx context.Context, jobID string) error
}
