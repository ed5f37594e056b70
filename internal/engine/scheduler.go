package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// Scheduler walks the eligible items in id order and dispatches them batch by
// batch, one provider call at a time.
type Scheduler struct {
	store *Store
	opts  Options

	mu       sync.RWMutex
	progress Progress
}

func NewScheduler(store *Store, opts Options) *Scheduler {
	return &Scheduler{store: store, opts: opts.withDefaults()}
}

// Progress reports settled items of the latest run.
func (s *Scheduler) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *Scheduler) setProgress(done, total int) {
	s.mu.Lock()
	s.progress = newProgress(done, total)
	s.mu.Unlock()
}

// Run translates every pending or error item. Batch failures are recorded on
// the items and never stop the loop. It returns an Aborted error when the
// job is aborted or ctx is cancelled, nil otherwise.
func (s *Scheduler) Run(ctx context.Context, job *Job) error {
	ids := s.store.Eligible()
	total := len(ids)
	s.setProgress(0, total)
	if total == 0 {
		return nil
	}

	size := ChooseBatchSize(total, s.opts)
	log.Info("Translating %d items to %s in batches of %d", total, job.TargetLanguage, size)

	done := 0
	for _, slice := range chunk(ids, size) {
		if err := job.Control.Checkpoint(ctx); err != nil {
			return err
		}

		claimed := s.store.Claim(slice)
		settled, err := s.settle(ctx, job, claimed, len(claimed) > s.opts.BatchSize)
		done += settled
		s.setProgress(done, total)
		if err != nil {
			return err
		}
	}

	log.Info("Translation to %s finished: %d/%d items settled", job.TargetLanguage, done, total)
	return nil
}

// settle dispatches claimed ids and returns how many of them reached
// translated or error. A failing oversized slice is retried as base-size
// sub-batches; a failing base-size batch marks all its items as errors.
func (s *Scheduler) settle(ctx context.Context, job *Job, ids []int, splittable bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	err := s.dispatch(ctx, job, ids)
	switch {
	case err == nil:
		return len(ids), nil
	case IsAborted(err):
		return 0, err
	case !splittable:
		log.Warn("Batch %d-%d failed: %v", ids[0], ids[len(ids)-1], err)
		s.store.Fail(ids, reason(err))
		return len(ids), nil
	}

	log.Warn("Batch of %d items failed, retrying in batches of %d: %v", len(ids), s.opts.BatchSize, err)
	settled := 0
	for _, sub := range chunk(ids, s.opts.BatchSize) {
		if err := job.Control.Checkpoint(ctx); err != nil {
			return settled, err
		}
		n, err := s.settle(ctx, job, sub, false)
		settled += n
		if err != nil {
			return settled, err
		}
	}
	return settled, nil
}

// dispatch sends one batch to the provider and applies its results. Results
// that arrive after an abort are discarded.
func (s *Scheduler) dispatch(ctx context.Context, job *Job, ids []int) error {
	var results []translator.Result
	err := SafeExecute(func() error {
		items := s.store.Snapshot()
		texts := make([]string, 0, len(ids))
		for _, id := range ids {
			it, ok := s.store.Get(id)
			if !ok {
				return NewError(ErrNotFound, "item vanished during translation").WithContext("id", id)
			}
			texts = append(texts, it.SourceText)
		}
		batchContext := BuildContext(ids[0], items, s.opts.ContextWindow, s.opts.ContextLabel)

		var err error
		results, err = job.Translator.TranslateBatch(ctx, texts, job.TargetLanguage, job.Prompt, batchContext)
		return err
	})

	if job.Control.Aborted() {
		log.Debug("Discarding results of batch %d-%d after abort", ids[0], ids[len(ids)-1])
		return errAborted(nil)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errAborted(ctxErr)
	}
	if err != nil {
		var engineErr *Error
		if errors.As(err, &engineErr) {
			return err
		}
		return NewErrorWithCause(ErrTranslation, "batch translation failed", err)
	}

	s.store.ApplyResults(ids, results)
	return nil
}
