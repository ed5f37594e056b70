package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

type Executor func(ctx context.Context, job *TranslationJob) error

// Queue runs translation jobs on a fixed worker pool. At most one job per
// session is pending or running at a time.
type Queue struct {
	workerCount int
	maxJobs     int
	store       Store

	mu         sync.RWMutex
	jobs       map[string]*TranslationJob
	dedupe     map[string]string
	idCounter  uint64
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewQueue(workerCount int, store Store) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount: workerCount,
		maxJobs:     1000,
		store:       store,
		jobs:        make(map[string]*TranslationJob),
		dedupe:      make(map[string]string),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	q.hydrateFromStore(ctx)
	return q
}

// Enqueue adds a job for req.SessionID. When that session already has an
// active job, the existing job is returned with created=false.
func (q *Queue) Enqueue(req EnqueueRequest) (*TranslationJob, bool) {
	now := time.Now()
	key := req.SessionID

	q.mu.Lock()
	if id, ok := q.dedupe[key]; ok && key != "" {
		if existing, exists := q.jobs[id]; exists {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, key)
	}

	id := fmt.Sprintf("job-%d", atomic.AddUint64(&q.idCounter, 1))
	job := &TranslationJob{
		ID:        id,
		SessionID: req.SessionID,
		Source:    req.Source,
		DedupeKey: key,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.jobs[id] = job
	if key != "" {
		q.dedupe[key] = id
	}
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(id)
	}
	return snapshot, true
}

func (q *Queue) Get(id string) (*TranslationJob, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns every job, oldest first.
func (q *Queue) List() []*TranslationJob {
	return q.filter(func(*TranslationJob) bool { return true })
}

// ListBySession returns the jobs of one session, oldest first.
func (q *Queue) ListBySession(sessionID string) []*TranslationJob {
	return q.filter(func(j *TranslationJob) bool { return j.SessionID == sessionID })
}

// Active returns the pending or running job of a session.
func (q *Queue) Active(sessionID string) (*TranslationJob, bool) {
	q.mu.RLock()
	id, ok := q.dedupe[sessionID]
	job := q.jobs[id]
	q.mu.RUnlock()
	if !ok || job == nil {
		return nil, false
	}
	return cloneJob(job), true
}

func (q *Queue) filter(keep func(*TranslationJob) bool) []*TranslationJob {
	q.mu.RLock()
	ret := make([]*TranslationJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if keep(job) {
			ret = append(ret, cloneJob(job))
		}
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return jobSeq(ret[i].ID) < jobSeq(ret[j].ID)
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Cancel marks a pending job canceled. Running jobs are stopped through
// their session instead; Cancel reports false for them.
func (q *Queue) Cancel(id string) (*TranslationJob, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return nil, false
	}
	job.Status = StatusCanceled
	job.UpdatedAt = time.Now()
	q.releaseDedupeLocked(job)
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, true
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]*TranslationJob, 0)
	for _, job := range q.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	q.mu.Unlock()

	for _, job := range pending {
		q.enqueuePendingID(job.ID)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels running jobs and waits for the workers to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.cancel()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			job, ok := q.markRunning(id)
			if !ok {
				continue
			}

			err := q.execute(exec, job)
			q.markDone(id, err)
		}
	}
}

func (q *Queue) execute(exec Executor, job *TranslationJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return exec(q.ctx, job)
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

func (q *Queue) markRunning(id string) (*TranslationJob, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return nil, false
	}
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, true
}

// markDone records the outcome of a run. An error that unwraps to
// context.Canceled is an abort, not a failure.
func (q *Queue) markDone(id string, err error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	switch {
	case err == nil:
		job.Status = StatusSuccess
		job.Error = ""
	case errors.Is(err, context.Canceled):
		job.Status = StatusCanceled
		job.Error = ""
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
	}
	job.UpdatedAt = time.Now()
	q.releaseDedupeLocked(job)
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	if snapshot.Status == StatusFailed {
		log.Error("Job %s for session %s failed: %s", snapshot.ID, snapshot.SessionID, snapshot.Error)
	} else {
		log.Info("Job %s for session %s ended: %s", snapshot.ID, snapshot.SessionID, snapshot.Status)
	}

	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
}

func (q *Queue) releaseDedupeLocked(job *TranslationJob) {
	if job == nil || job.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[job.DedupeKey]; ok && id == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	terminal := q.terminalLocked(func(*TranslationJob) bool { return true })
	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	return q.removeLocked(terminal[:toRemove])
}

// PruneFinished drops terminal jobs last updated before cutoff.
func (q *Queue) PruneFinished(cutoff time.Time) []string {
	q.mu.Lock()
	pruned := q.removeLocked(q.terminalLocked(func(j *TranslationJob) bool {
		return j.UpdatedAt.Before(cutoff)
	}))
	q.mu.Unlock()

	q.deleteJobsFromStore(pruned)
	return pruned
}

// ForgetSession drops the terminal jobs of a deleted session.
func (q *Queue) ForgetSession(sessionID string) []string {
	q.mu.Lock()
	pruned := q.removeLocked(q.terminalLocked(func(j *TranslationJob) bool {
		return j.SessionID == sessionID
	}))
	q.mu.Unlock()

	q.deleteJobsFromStore(pruned)
	return pruned
}

// terminalLocked returns the ids of matching terminal jobs, least recently
// updated first.
func (q *Queue) terminalLocked(match func(*TranslationJob) bool) []string {
	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job == nil || !job.Status.Terminal() || !match(job) {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	ids := make([]string, len(terminal))
	for i, c := range terminal {
		ids[i] = c.id
	}
	return ids
}

func (q *Queue) removeLocked(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if job := q.jobs[id]; job != nil {
			q.releaseDedupeLocked(job)
		}
		delete(q.jobs, id)
	}
	return ids
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJobData(context.Background(), id); err != nil {
			log.Error("Failed to delete data for pruned job %s: %v", id, err)
		}
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*TranslationJob, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
		if job.Status == StatusPending && job.DedupeKey != "" {
			q.dedupe[job.DedupeKey] = job.ID
		}
		if n := jobSeq(job.ID); n > q.idCounter {
			q.idCounter = n
		}
	}
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func jobSeq(jobID string) uint64 {
	if !strings.HasPrefix(jobID, "job-") {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(jobID, "job-"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) persistJob(job *TranslationJob) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *TranslationJob) *TranslationJob {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
