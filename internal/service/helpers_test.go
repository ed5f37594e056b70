package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]persistence.SessionRecord
	items    map[string][]engine.Item
	events   []persistence.JobEvent
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]persistence.SessionRecord),
		items:    make(map[string][]engine.Item),
	}
}

func (s *memoryStore) SaveSession(_ context.Context, rec persistence.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

func (s *memoryStore) SaveItems(_ context.Context, sessionID string, items []engine.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[sessionID] = slices.Clone(items)
	return nil
}

func (s *memoryStore) LoadSessions(_ context.Context) ([]persistence.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]persistence.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	return out, nil
}

func (s *memoryStore) LoadItems(_ context.Context, sessionID string) ([]engine.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items[sessionID]), nil
}

func (s *memoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return persistence.ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.items, id)
	return nil
}

func (s *memoryStore) ListIdleSessions(_ context.Context, before time.Time) ([]persistence.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.SessionRecord
	for _, rec := range s.sessions {
		if rec.UpdatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memoryStore) AppendJobEvent(_ context.Context, event persistence.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memoryStore) ListJobEvents(_ context.Context, jobID string) ([]persistence.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []persistence.JobEvent{}
	for _, e := range s.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) storedItems(id string) []engine.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items[id])
}

func (s *memoryStore) hasSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

type memorySettings struct {
	mu      sync.Mutex
	current config.RuntimeSettings
}

func (s *memorySettings) GetRuntimeSettings() (config.RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *memorySettings) UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next
	return next, nil
}

// echoTranslator answers "{target}:{text}" unless fn is set.
type echoTranslator struct {
	fn func(texts []string) ([]translator.Result, error)

	mu    sync.Mutex
	calls int
}

func (e *echoTranslator) TranslateBatch(_ context.Context, texts []string, target, _ string, _ string) ([]translator.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fn != nil {
		return e.fn(texts)
	}
	out := make([]translator.Result, len(texts))
	for i, t := range texts {
		out[i] = translator.Result{Text: target + ":" + t}
	}
	return out, nil
}

func (e *echoTranslator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testConfig() config.Config {
	return config.Config{
		Translate: config.TranslateConfig{Provider: translator.ProviderOpenAI},
		Batch: config.BatchConfig{
			BatchSize:          2,
			MaxBatchSize:       4,
			LargeFileThreshold: 100,
			ContextWindow:      3,
			PollInterval:       5 * time.Millisecond,
		},
		Maintenance: config.MaintenanceConfig{
			PruneCron:  "0 * * * *",
			SessionTTL: time.Hour,
		},
	}
}

type fixture struct {
	manager    *Manager
	queue      *jobs.Queue
	store      *memoryStore
	settings   *memorySettings
	translator *echoTranslator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		queue:      jobs.NewQueue(1, nil),
		store:      newMemoryStore(),
		settings:   &memorySettings{},
		translator: &echoTranslator{},
	}
	base := []Option{
		WithStore(f.store),
		WithSettings(f.settings),
		WithTranslatorFactory(func(context.Context, translator.ProviderConfig) (translator.Translator, error) {
			return f.translator, nil
		}),
	}
	f.manager = NewManager(testConfig(), f.queue, append(base, opts...)...)
	t.Cleanup(func() {
		f.queue.Stop()
		f.manager.Close()
	})
	return f
}

func (f *fixture) start() {
	f.queue.Start(f.manager.Execute)
}

func srtDocument(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d\n00:00:%02d,000 --> 00:00:%02d,500\nline %d\n\n", i, i, i, i)
	}
	return b.String()
}

func waitForJob(t *testing.T, m *Manager, id string, status jobs.Status) *jobs.TranslationJob {
	t.Helper()
	var job *jobs.TranslationJob
	require.Eventually(t, func() bool {
		j, err := m.Job(id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return job
}
