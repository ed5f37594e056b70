package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/file"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// Store is the persistence port of the manager.
type Store interface {
	SaveSession(ctx context.Context, rec persistence.SessionRecord) error
	SaveItems(ctx context.Context, sessionID string, items []engine.Item) error
	LoadSessions(ctx context.Context) ([]persistence.SessionRecord, error)
	LoadItems(ctx context.Context, sessionID string) ([]engine.Item, error)
	DeleteSession(ctx context.Context, id string) error
	ListIdleSessions(ctx context.Context, before time.Time) ([]persistence.SessionRecord, error)
	AppendJobEvent(ctx context.Context, event persistence.JobEvent) error
	ListJobEvents(ctx context.Context, jobID string) ([]persistence.JobEvent, error)
}

// SettingsSource holds the provider settings editable at runtime.
type SettingsSource interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

// TranslatorFactory builds the provider adapter for one run or retry.
type TranslatorFactory func(ctx context.Context, cfg translator.ProviderConfig) (translator.Translator, error)

type Option func(*Manager)

func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

func WithSettings(settings SettingsSource) Option {
	return func(m *Manager) { m.settings = settings }
}

func WithTranslatorFactory(f TranslatorFactory) Option {
	return func(m *Manager) { m.newTranslator = f }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns every loaded subtitle session and runs their translation
// jobs through the job queue.
type Manager struct {
	cfg           config.Config
	opts          engine.Options
	queue         *jobs.Queue
	store         Store
	settings      SettingsSource
	newTranslator TranslatorFactory
	errHandler    ErrorHandler
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
	watchers sync.WaitGroup

	models modelCache
	prune  pruneState
}

type entry struct {
	session *engine.Session

	mu      sync.Mutex
	rec     persistence.SessionRecord
	deleted bool
	stop    func()
}

func (e *entry) record() persistence.SessionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

func NewManager(cfg config.Config, queue *jobs.Queue, opts ...Option) *Manager {
	m := &Manager{
		cfg: cfg,
		opts: engine.Options{
			BatchSize:          cfg.Batch.BatchSize,
			MaxBatchSize:       cfg.Batch.MaxBatchSize,
			LargeFileThreshold: cfg.Batch.LargeFileThreshold,
			ContextWindow:      cfg.Batch.ContextWindow,
			PollInterval:       cfg.Batch.PollInterval,
		},
		queue:         queue,
		newTranslator: translator.New,
		errHandler:    NewDefaultErrorHandler(),
		now:           time.Now,
		sessions:      make(map[string]*entry),
	}
	if cfg.Batch.ContextWindow == 0 {
		// zero in the config means no context, not the engine default
		m.opts.ContextWindow = -1
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads every stored session. Items left translating by a crash are
// picked up by the next run of their session.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	recs, err := m.store.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	for _, rec := range recs {
		items, err := m.store.LoadItems(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("load items of session %s: %w", rec.ID, err)
		}
		session := engine.RestoreSession(items, engine.SessionMeta{
			TargetLanguage: rec.TargetLanguage,
			Prompt:         rec.Prompt,
			SourceLanguage: rec.SourceLanguage,
			Message:        rec.Message,
		}, m.opts)
		m.add(&entry{session: session, rec: rec})
	}
	log.Info("Restored %d sessions", len(recs))
	return nil
}

// Close stops persisting session changes after writing a final snapshot.
func (m *Manager) Close() {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		stop := e.stop
		e.stop = nil
		e.mu.Unlock()
		if stop != nil {
			stop()
		}
	}
	m.watchers.Wait()

	for _, e := range entries {
		m.persist(context.Background(), e)
	}
}

func (m *Manager) add(e *entry) {
	ch, cancel := e.session.Subscribe()
	e.stop = cancel

	m.mu.Lock()
	m.sessions[e.rec.ID] = e
	m.mu.Unlock()

	m.watchers.Add(1)
	go func() {
		defer m.watchers.Done()
		for range ch {
			m.persist(context.Background(), e)
		}
	}()
}

// persist writes the current snapshot of a session.
func (m *Manager) persist(ctx context.Context, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return
	}

	meta := e.session.Meta()
	e.rec.TargetLanguage = meta.TargetLanguage
	e.rec.Prompt = meta.Prompt
	e.rec.SourceLanguage = meta.SourceLanguage
	e.rec.Message = meta.Message
	e.rec.UpdatedAt = m.now().UTC()

	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(ctx, e.rec); err != nil {
		log.Error("Failed to save session %s: %v", e.rec.ID, err)
		return
	}
	if err := m.store.SaveItems(ctx, e.rec.ID, e.session.Items()); err != nil {
		log.Error("Failed to save items of session %s: %v", e.rec.ID, err)
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, engine.NewError(engine.ErrNotFound, "session not found").WithContext("session", id)
	}
	return e, nil
}

// CreateSession parses an uploaded subtitle file into a new session.
func (m *Manager) CreateSession(ctx context.Context, fileName, content string) (SessionView, error) {
	format, err := subtitle.DetectFormat(fileName)
	if err != nil {
		return SessionView{}, engine.NewErrorWithCause(engine.ErrValidation, "unsupported subtitle file", err)
	}
	cues, err := subtitle.Parse(format, content)
	if err != nil {
		return SessionView{}, engine.NewErrorWithCause(engine.ErrValidation, "cannot parse subtitle file", err)
	}

	session := engine.NewSession(cues, m.opts)
	now := m.now().UTC()
	e := &entry{
		session: session,
		rec: persistence.SessionRecord{
			ID:             uuid.NewString(),
			FileName:       filepath.Base(fileName),
			Format:         format,
			SourceLanguage: session.Meta().SourceLanguage,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
	m.persist(ctx, e)
	m.add(e)

	log.Info("Created session %s from %s with %d cues", e.rec.ID, e.rec.FileName, len(cues))
	return m.view(e), nil
}

func (m *Manager) Session(id string) (SessionView, error) {
	e, err := m.lookup(id)
	if err != nil {
		return SessionView{}, err
	}
	return m.view(e), nil
}

// ListSessions returns every session, oldest first.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, m.view(e).SessionInfo)
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

func (m *Manager) view(e *entry) SessionView {
	rec := e.record()
	state := e.session.State()
	info := SessionInfo{
		ID:             rec.ID,
		FileName:       rec.FileName,
		Format:         rec.Format,
		ItemCount:      len(state.Items),
		Counts:         state.Counts,
		Running:        state.Running,
		Paused:         state.Paused,
		TargetLanguage: state.TargetLanguage,
		SourceLanguage: state.SourceLanguage,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if job, ok := m.queue.Active(rec.ID); ok {
		info.ActiveJobID = job.ID
	}
	return SessionView{SessionInfo: info, State: state}
}

// DeleteSession removes an idle session and its finished jobs.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if e.session.Running() {
		return engine.NewError(engine.ErrConflict, "cannot delete a session while it is translating").WithContext("session", id)
	}
	if job, ok := m.queue.Active(id); ok {
		m.queue.Cancel(job.ID)
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	e.mu.Lock()
	e.deleted = true
	stop := e.stop
	e.stop = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}

	if m.store != nil {
		if err := m.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, persistence.ErrSessionNotFound) {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	m.queue.ForgetSession(id)
	log.Info("Deleted session %s", id)
	return nil
}

// StartTranslation queues a translation job for a session.
func (m *Manager) StartTranslation(ctx context.Context, id string, req TranslateRequest) (*jobs.TranslationJob, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if e.session.Running() {
		return nil, engine.NewError(engine.ErrConflict, "a translation is already running").WithContext("session", id)
	}

	settings := m.runtimeSettings()
	target := firstNonEmpty(req.TargetLanguage, settings.TargetLanguage)
	if target == "" {
		return nil, engine.NewError(engine.ErrValidation, "target language is required")
	}
	if _, err := translator.ResolveLanguage(target); err != nil {
		return nil, engine.NewErrorWithCause(engine.ErrValidation, "unknown target language", err)
	}
	provider := firstNonEmpty(req.Provider, settings.Provider)
	if !translator.IsKnownProvider(provider) {
		return nil, engine.NewError(engine.ErrValidation, fmt.Sprintf("unknown provider %q", provider))
	}

	job, created := m.queue.Enqueue(jobs.EnqueueRequest{
		SessionID: id,
		Source:    firstNonEmpty(req.Source, "api"),
		Payload: jobs.JobPayload{
			TargetLanguage: target,
			Prompt:         firstNonEmpty(req.Prompt, settings.Prompt),
			Provider:       provider,
		},
	})
	if !created {
		return job, engine.NewError(engine.ErrConflict, "a translation job is already queued").WithContext("job", job.ID)
	}

	m.event(ctx, job.ID, "queued", target)
	return job, nil
}

// Execute runs one queued job. It is the executor of the job queue.
func (m *Manager) Execute(ctx context.Context, job *jobs.TranslationJob) error {
	e, err := m.lookup(job.SessionID)
	if err != nil {
		return err
	}

	tr, err := m.translatorFor(ctx, job.Payload.Provider)
	if err != nil {
		m.event(ctx, job.ID, "failed", err.Error())
		return err
	}
	defer func() {
		if err := translator.Close(tr); err != nil {
			log.Warn("Failed to close translator of job %s: %v", job.ID, err)
		}
	}()

	e.mu.Lock()
	e.rec.Provider = job.Payload.Provider
	e.mu.Unlock()

	m.event(ctx, job.ID, "started", "")
	runErr := e.session.StartTranslation(ctx, engine.JobRequest{
		ID:             job.ID,
		TargetLanguage: job.Payload.TargetLanguage,
		Prompt:         job.Payload.Prompt,
		Provider:       job.Payload.Provider,
		Translator:     tr,
	})
	m.persist(context.Background(), e)

	switch {
	case runErr == nil:
		counts := e.session.State().Counts
		m.event(ctx, job.ID, "finished", fmt.Sprintf("%d translated, %d failed",
			counts[engine.StatusTranslated], counts[engine.StatusError]))
	case engine.IsAborted(runErr):
		m.event(context.Background(), job.ID, "aborted", "")
	default:
		m.errHandler.Handle(runErr)
		m.event(ctx, job.ID, "failed", runErr.Error())
	}
	return runErr
}

func (m *Manager) Pause(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := e.session.Pause(); err != nil {
		return err
	}
	m.activeEvent(ctx, id, "paused")
	return nil
}

func (m *Manager) Resume(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := e.session.Resume(); err != nil {
		return err
	}
	m.activeEvent(ctx, id, "resumed")
	return nil
}

// Abort cancels a queued job or stops the running one at its next checkpoint.
func (m *Manager) Abort(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if job, ok := m.queue.Active(id); ok && job.Status == jobs.StatusPending {
		if _, canceled := m.queue.Cancel(job.ID); canceled {
			m.event(ctx, job.ID, "canceled", "")
			return nil
		}
	}
	if err := e.session.Abort(); err != nil {
		return err
	}
	m.activeEvent(ctx, id, "abort requested")
	return nil
}

func (m *Manager) RetryItem(ctx context.Context, id string, itemID int, req RetryRequest) (engine.Item, error) {
	e, err := m.lookup(id)
	if err != nil {
		return engine.Item{}, err
	}
	if _, ok := e.session.Item(itemID); !ok {
		return engine.Item{}, engine.NewError(engine.ErrNotFound, fmt.Sprintf("item %d not found", itemID))
	}

	tr, err := m.translatorFor(ctx, firstNonEmpty(req.Provider, e.record().Provider))
	if err != nil {
		return engine.Item{}, err
	}
	defer func() { _ = translator.Close(tr) }()

	if err := e.session.RetrySingleItem(ctx, itemID, engine.RetryRequest{
		TargetLanguage: req.TargetLanguage,
		Prompt:         req.Prompt,
		Translator:     tr,
	}); err != nil {
		return engine.Item{}, err
	}
	item, _ := e.session.Item(itemID)
	return item, nil
}

// RetryBatch re-translates the error items of one base-size batch and
// returns the failed batches left afterwards.
func (m *Manager) RetryBatch(ctx context.Context, id string, index int, req RetryRequest) ([]engine.FailedBatch, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	tr, err := m.translatorFor(ctx, firstNonEmpty(req.Provider, e.record().Provider))
	if err != nil {
		return nil, err
	}
	defer func() { _ = translator.Close(tr) }()

	if err := e.session.RetryBatch(ctx, index, engine.RetryRequest{
		TargetLanguage: req.TargetLanguage,
		Prompt:         req.Prompt,
		Translator:     tr,
	}); err != nil {
		return nil, err
	}
	return e.session.FailedBatches(), nil
}

func (m *Manager) UpdateItem(id string, itemID int, text string) (engine.Item, error) {
	e, err := m.lookup(id)
	if err != nil {
		return engine.Item{}, err
	}
	if err := e.session.UpdateItemManually(itemID, text); err != nil {
		return engine.Item{}, err
	}
	item, _ := e.session.Item(itemID)
	return item, nil
}

func (m *Manager) FailedBatches(id string) ([]engine.FailedBatch, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.session.FailedBatches(), nil
}

// Export renders a session. An empty format keeps the uploaded one.
func (m *Manager) Export(id, format, mode string) (Export, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Export{}, err
	}
	rec := e.record()

	f := rec.Format
	if strings.TrimSpace(format) != "" {
		if f, err = subtitle.ParseFormat(format); err != nil {
			return Export{}, engine.NewErrorWithCause(engine.ErrValidation, "unsupported export format", err)
		}
	}
	md, err := engine.ParseMode(mode)
	if err != nil {
		return Export{}, err
	}

	content, err := e.session.ExportAs(f, md)
	if err != nil {
		return Export{}, err
	}
	target := e.session.Meta().TargetLanguage
	return Export{
		FileName: file.ExportName(rec.FileName, target, f.Extension(), md == engine.ModeBilingual),
		Format:   f,
		Content:  content,
	}, nil
}

// Subscribe signals every change of a session.
func (m *Manager) Subscribe(id string) (<-chan struct{}, func(), error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := e.session.Subscribe()
	return ch, cancel, nil
}

func (m *Manager) Jobs() []*jobs.TranslationJob {
	return m.queue.List()
}

func (m *Manager) Job(id string) (*jobs.TranslationJob, error) {
	job, ok := m.queue.Get(id)
	if !ok {
		return nil, engine.NewError(engine.ErrNotFound, "job not found").WithContext("job", id)
	}
	return job, nil
}

func (m *Manager) JobEvents(ctx context.Context, id string) ([]persistence.JobEvent, error) {
	if _, err := m.Job(id); err != nil {
		return nil, err
	}
	if m.store == nil {
		return []persistence.JobEvent{}, nil
	}
	return m.store.ListJobEvents(ctx, id)
}

func (m *Manager) translatorFor(ctx context.Context, provider string) (translator.Translator, error) {
	pc := m.providerConfig(provider)

	tr, err := m.newTranslator(ctx, pc)
	if err != nil {
		return nil, engine.NewErrorWithCause(engine.ErrValidation, "translation provider is not configured", err).
			WithContext("provider", pc.Provider)
	}
	return tr, nil
}

func (m *Manager) event(ctx context.Context, jobID, kind, detail string) {
	log.Debug("Job %s: %s %s", jobID, kind, detail)
	if m.store == nil {
		return
	}
	if err := m.store.AppendJobEvent(ctx, persistence.JobEvent{
		JobID:     jobID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: m.now().UTC(),
	}); err != nil {
		log.Error("Failed to record event %s of job %s: %v", kind, jobID, err)
	}
}

func (m *Manager) activeEvent(ctx context.Context, sessionID, kind string) {
	if job, ok := m.queue.Active(sessionID); ok {
		m.event(ctx, job.ID, kind, "")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
