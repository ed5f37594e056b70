package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

// SessionMeta is the part of a session that outlives a process restart
// besides its items.
type SessionMeta struct {
	TargetLanguage string `json:"target_language"`
	Prompt         string `json:"prompt"`
	SourceLanguage string `json:"source_language"`
	Message        string `json:"message"`
}

// Session is one loaded subtitle set with at most one active job.
type Session struct {
	opts      Options
	store     *Store
	ledger    *Ledger
	scheduler *Scheduler
	retries   singleflight.Group

	// retryJoined is called once a RetryBatch caller has joined the shared call.
	retryJoined func(index int)

	mu             sync.Mutex
	job            *Job
	lastTarget     string
	lastPrompt     string
	sourceLanguage string
	message        string
}

func NewSession(cues []subtitle.Cue, opts Options) *Session {
	s := newSession(NewItems(cues), opts)
	s.sourceLanguage = detectSourceLanguage(cues)
	return s
}

// RestoreSession rebuilds a session from persisted items. Items left
// translating are reset when the next job starts.
func RestoreSession(items []Item, meta SessionMeta, opts Options) *Session {
	s := newSession(items, opts)
	s.lastTarget = meta.TargetLanguage
	s.lastPrompt = meta.Prompt
	s.sourceLanguage = meta.SourceLanguage
	s.message = meta.Message
	return s
}

func newSession(items []Item, opts Options) *Session {
	opts = opts.withDefaults()
	store := NewStore(items)
	return &Session{
		opts:      opts,
		store:     store,
		ledger:    NewLedger(opts.BatchSize),
		scheduler: NewScheduler(store, opts),
	}
}

func detectSourceLanguage(cues []subtitle.Cue) string {
	tag := subtitle.DetectLanguage(cues)
	if tag == language.Und {
		return ""
	}
	return tag.String()
}

func (s *Session) Options() Options {
	return s.opts
}

// Load replaces every item with cues. It fails while a job is running.
func (s *Session) Load(cues []subtitle.Cue) error {
	if len(cues) == 0 {
		return NewError(ErrValidation, "no subtitles to load")
	}

	s.mu.Lock()
	if s.job != nil {
		s.mu.Unlock()
		return NewError(ErrConflict, "cannot load subtitles while a translation is running")
	}
	s.store.Load(NewItems(cues))
	s.sourceLanguage = detectSourceLanguage(cues)
	s.message = ""
	s.mu.Unlock()

	s.ledger.Refresh(nil)
	return nil
}

// StartTranslation runs a job to completion, abort or cancellation of ctx.
// It blocks; callers run it in their own goroutine.
func (s *Session) StartTranslation(ctx context.Context, req JobRequest) error {
	target := strings.TrimSpace(req.TargetLanguage)
	switch {
	case s.store.Len() == 0:
		return NewError(ErrValidation, "no subtitles loaded")
	case target == "":
		return NewError(ErrValidation, "target language is required")
	case req.Translator == nil:
		return NewError(ErrValidation, "translation provider is not configured")
	}

	job := &Job{
		ID:             req.ID,
		TargetLanguage: target,
		Prompt:         req.Prompt,
		Provider:       req.Provider,
		Translator:     req.Translator,
		Control:        NewControl(s.opts.PollInterval),
		StartedAt:      time.Now(),
	}

	s.mu.Lock()
	if s.job != nil {
		s.mu.Unlock()
		return NewError(ErrConflict, "a translation is already running").WithContext("job", s.job.ID)
	}
	s.job = job
	changed := s.lastTarget != "" && !strings.EqualFold(s.lastTarget, target)
	s.lastTarget = target
	s.lastPrompt = req.Prompt
	s.message = ""
	s.mu.Unlock()

	if changed {
		n := s.store.ResetAll()
		log.Info("Target language changed to %s, reset %d items", target, n)
	} else if n := s.store.ResetStale(); n > 0 {
		log.Info("Reset %d items left translating by a previous run", n)
	}
	s.store.Touch()

	err := s.scheduler.Run(ctx, job)

	s.mu.Lock()
	s.job = nil
	switch {
	case err == nil, IsAborted(err):
		s.message = ""
	default:
		s.message = fmt.Sprintf("Translation stopped unexpectedly: %v", err)
	}
	s.mu.Unlock()

	s.ledger.Refresh(s.store.Snapshot())
	s.store.Touch()
	return err
}

func (s *Session) activeControl() (*Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return nil, NewError(ErrConflict, "no translation is running")
	}
	return s.job.Control, nil
}

func (s *Session) Pause() error {
	c, err := s.activeControl()
	if err != nil {
		return err
	}
	c.Pause()
	s.store.Touch()
	return nil
}

func (s *Session) Resume() error {
	c, err := s.activeControl()
	if err != nil {
		return err
	}
	c.Resume()
	s.store.Touch()
	return nil
}

// Abort stops the active job at its next checkpoint, including while paused.
func (s *Session) Abort() error {
	c, err := s.activeControl()
	if err != nil {
		return err
	}
	c.Abort()
	s.store.Touch()
	return nil
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job != nil
}

// retryJob builds the job used by single item and batch retries.
func (s *Session) retryJob(req RetryRequest) (*Job, error) {
	if req.Translator == nil {
		return nil, NewError(ErrValidation, "translation provider is not configured")
	}

	s.mu.Lock()
	target, prompt := s.lastTarget, s.lastPrompt
	s.mu.Unlock()

	if t := strings.TrimSpace(req.TargetLanguage); t != "" {
		target = t
	}
	if req.Prompt != "" {
		prompt = req.Prompt
	}
	if target == "" {
		return nil, NewError(ErrValidation, "target language is required")
	}

	return &Job{
		ID:             "retry",
		TargetLanguage: target,
		Prompt:         prompt,
		Translator:     req.Translator,
		Control:        NewControl(s.opts.PollInterval),
		StartedAt:      time.Now(),
	}, nil
}

// RetrySingleItem re-translates one error item. Items in any other status
// are left alone.
func (s *Session) RetrySingleItem(ctx context.Context, id int, req RetryRequest) error {
	it, ok := s.store.Get(id)
	if !ok {
		return NewError(ErrNotFound, fmt.Sprintf("item %d not found", id))
	}
	if it.Status != StatusError {
		return nil
	}

	job, err := s.retryJob(req)
	if err != nil {
		return err
	}

	claimed := s.store.Claim([]int{id})
	err = s.settleRetry(ctx, job, claimed)
	s.ledger.Refresh(s.store.Snapshot())
	return err
}

// settleRetry sends claimed items of a retry. When ctx ends before the
// results are applied the items go back to error so they stay retryable.
func (s *Session) settleRetry(ctx context.Context, job *Job, claimed []int) error {
	_, err := s.scheduler.settle(ctx, job, claimed, false)
	if IsAborted(err) {
		if n := s.store.Fail(claimed, "retry canceled: "+reason(err)); n > 0 {
			log.Debug("Retry of %d item(s) canceled before results arrived", n)
		}
	}
	return err
}

// RetryBatch re-translates the current error items of batch index. Nothing
// is sent when the batch has already been healed. Concurrent retries of the
// same batch share one call, which runs to completion even when ctx is
// canceled. Provider timeouts bound it.
func (s *Session) RetryBatch(ctx context.Context, index int, req RetryRequest) error {
	if index < 0 {
		return NewError(ErrValidation, fmt.Sprintf("invalid batch index %d", index))
	}
	first, _ := BatchRange(index, s.opts.BatchSize)
	if first > s.store.Len() {
		return NewError(ErrNotFound, fmt.Sprintf("batch %d not found", index))
	}

	job, err := s.retryJob(req)
	if err != nil {
		return err
	}

	// A caller that goes away does not cancel the shared call.
	shared := context.WithoutCancel(ctx)
	ch := s.retries.DoChan(strconv.Itoa(index), func() (any, error) {
		var ids []int
		for _, b := range s.ledger.Refresh(s.store.Snapshot()) {
			if b.Index != index {
				continue
			}
			for _, it := range b.Items {
				ids = append(ids, it.ID)
			}
		}
		if len(ids) == 0 {
			return nil, nil
		}

		claimed := s.store.Claim(ids)
		err := s.settleRetry(shared, job, claimed)
		s.ledger.Refresh(s.store.Snapshot())
		return nil, err
	})
	if s.retryJoined != nil {
		s.retryJoined(index)
	}

	res := <-ch
	return res.Err
}

// UpdateItemManually sets the translation of one item directly.
func (s *Session) UpdateItemManually(id int, text string) error {
	if err := s.store.SetTranslation(id, text); err != nil {
		return err
	}
	s.ledger.Refresh(s.store.Snapshot())
	return nil
}

// ExportAs renders the items in format.
func (s *Session) ExportAs(format subtitle.Format, mode Mode) (string, error) {
	out, err := subtitle.Stringify(format, Project(s.store.Snapshot(), mode))
	if err != nil {
		return "", NewErrorWithCause(ErrValidation, "export failed", err)
	}
	return out, nil
}

func (s *Session) FailedBatches() []FailedBatch {
	return s.ledger.Refresh(s.store.Snapshot())
}

func (s *Session) Items() []Item {
	return s.store.Snapshot()
}

func (s *Session) Item(id int) (Item, bool) {
	return s.store.Get(id)
}

// State returns a snapshot where items, counts and failed batches agree.
func (s *Session) State() State {
	items, version := s.store.snapshot()

	counts := map[Status]int{
		StatusPending:     0,
		StatusTranslating: 0,
		StatusTranslated:  0,
		StatusError:       0,
	}
	for _, it := range items {
		counts[it.Status]++
	}

	st := State{
		Items:         items,
		Counts:        counts,
		Progress:      s.scheduler.Progress(),
		FailedBatches: s.ledger.Refresh(items),
		Version:       version,
	}

	s.mu.Lock()
	if s.job != nil {
		st.Running = true
		st.Paused = s.job.Control.Paused()
	}
	st.TargetLanguage = s.lastTarget
	st.Prompt = s.lastPrompt
	st.SourceLanguage = s.sourceLanguage
	st.Message = s.message
	s.mu.Unlock()

	return st
}

func (s *Session) Meta() SessionMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionMeta{
		TargetLanguage: s.lastTarget,
		Prompt:         s.lastPrompt,
		SourceLanguage: s.sourceLanguage,
		Message:        s.message,
	}
}

// Subscribe delivers a signal after every change. See Store.Subscribe.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	return s.store.Subscribe()
}

func (s *Session) SetSourceLanguage(lang string) {
	s.mu.Lock()
	s.sourceLanguage = lang
	s.mu.Unlock()
	s.store.Touch()
}
