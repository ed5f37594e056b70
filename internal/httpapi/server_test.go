package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
)

type fakeSettingsStore struct {
	current config.RuntimeSettings
}

func (f *fakeSettingsStore) GetRuntimeSettings() (config.RuntimeSettings, error) {
	return f.current, nil
}

func (f *fakeSettingsStore) UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	f.current = next
	return f.current, nil
}

type upperTranslator struct{}

func (upperTranslator) TranslateBatch(_ context.Context, texts []string, _, _ string, _ string) ([]translator.Result, error) {
	out := make([]translator.Result, len(texts))
	for i, t := range texts {
		out[i] = translator.Result{Text: strings.ToUpper(t)}
	}
	return out, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *service.Manager) {
	t.Helper()

	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	cfg := config.Config{
		Translate: config.TranslateConfig{Provider: translator.ProviderOpenAI},
		Batch: config.BatchConfig{
			BatchSize:    2,
			MaxBatchSize: 4,
			PollInterval: 5 * time.Millisecond,
		},
		Maintenance: config.MaintenanceConfig{PruneCron: "@hourly", SessionTTL: time.Hour},
	}
	queue := jobs.NewQueue(1, store)
	manager := service.NewManager(cfg, queue,
		service.WithStore(store),
		service.WithSettings(&fakeSettingsStore{current: config.RuntimeSettings{
			Provider:  translator.ProviderOpenAI,
			LLMAPIURL: "https://api.example.com/v1",
			LLMAPIKey: "sk-test-secret",
			LLMModel:  "gpt-4o-mini",
		}}),
		service.WithTranslatorFactory(func(context.Context, translator.ProviderConfig) (translator.Translator, error) {
			return upperTranslator{}, nil
		}),
	)
	queue.Start(manager.Execute)
	t.Cleanup(func() {
		queue.Stop()
		manager.Close()
		_ = store.Close()
	})
	return NewServer(manager, opts...), manager
}

func srt(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d\n00:00:%02d,000 --> 00:00:%02d,500\nline %d\n\n", i, i, i, i)
	}
	return b.String()
}

func do(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, srv *Server, n int) service.SessionView {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/sessions", map[string]string{
		"file_name": "movie.srt",
		"content":   srt(n),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view service.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestServer_CreateSession_JSON(t *testing.T) {
	srv, _ := newTestServer(t)

	view := createSession(t, srv, 3)
	assert.Equal(t, 3, view.ItemCount)
	assert.Equal(t, "movie.srt", view.FileName)

	rec := do(t, srv, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []service.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, view.ID, list[0].ID)
}

func TestServer_CreateSession_Multipart(t *testing.T) {
	srv, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "episode.vtt")
	require.NoError(t, err)
	_, err = part.Write([]byte("WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHello\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view service.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "episode.vtt", view.FileName)
	assert.Equal(t, 1, view.ItemCount)
}

func TestServer_CreateSession_RejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, WithMaxUploadBytes(128))

	rec := do(t, srv, http.MethodPost, "/api/sessions", map[string]string{"content": srt(1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/sessions", map[string]string{"file_name": "a.doc", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Validation", resp.Type)
	assert.NotEmpty(t, resp.Advice)

	rec = do(t, srv, http.MethodPost, "/api/sessions", map[string]string{"file_name": "a.srt", "content": srt(10)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_TranslateAndExport(t *testing.T) {
	srv, manager := newTestServer(t)
	view := createSession(t, srv, 3)

	rec := do(t, srv, http.MethodPost, "/api/sessions/"+view.ID+"/translate", map[string]string{"target_language": "fr"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job jobs.TranslationJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, view.ID, job.SessionID)

	require.Eventually(t, func() bool {
		j, err := manager.Job(job.ID)
		return err == nil && j.Status == jobs.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	rec = do(t, srv, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail jobDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, jobs.StatusSuccess, detail.Job.Status)
	require.NotEmpty(t, detail.Events)
	assert.Equal(t, "queued", detail.Events[0].Kind)

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+view.ID+"/export?mode=bilingual", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "movie_bilingual_fr.srt")
	assert.Contains(t, rec.Body.String(), "line 1\nLINE 1")

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+view.ID+"/export?format=vtt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/vtt; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "WEBVTT"))

	rec = do(t, srv, http.MethodGet, "/api/jobs?session="+view.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobs.TranslationJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestServer_TranslateRequiresTarget(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createSession(t, srv, 1)

	rec := do(t, srv, http.MethodPost, "/api/sessions/"+view.ID+"/translate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ControlWithoutJob(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createSession(t, srv, 1)

	for _, action := range []string{"pause", "resume", "abort"} {
		rec := do(t, srv, http.MethodPost, "/api/sessions/"+view.ID+"/"+action, nil)
		assert.Equal(t, http.StatusConflict, rec.Code, action)
	}
}

func TestServer_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, target := range []string{
		"/api/sessions/nope",
		"/api/sessions/nope/failed-batches",
		"/api/sessions/nope/export",
		"/api/sessions/nope/estimate?target=fr",
		"/api/sessions/nope/stream",
		"/api/jobs/job-9",
	} {
		rec := do(t, srv, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestServer_UpdateItem(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createSession(t, srv, 2)

	rec := do(t, srv, http.MethodPut, "/api/sessions/"+view.ID+"/items/2", map[string]string{"translated_text": "deux"})
	require.Equal(t, http.StatusOK, rec.Code)
	var item engine.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, engine.StatusTranslated, item.Status)
	assert.Equal(t, "deux", item.TranslatedText)

	rec = do(t, srv, http.MethodPut, "/api/sessions/"+view.ID+"/items/9", map[string]string{"translated_text": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/sessions/"+view.ID+"/items/abc", map[string]string{"translated_text": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/sessions/"+view.ID+"/items/1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_FailedBatchesEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createSession(t, srv, 2)

	rec := do(t, srv, http.MethodGet, "/api/sessions/"+view.ID+"/failed-batches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_Estimate(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createSession(t, srv, 4)

	rec := do(t, srv, http.MethodGet, "/api/sessions/"+view.ID+"/estimate?target=fr&provider=google", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var est translator.Estimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	assert.Equal(t, 4, est.Items)
	assert.Positive(t, est.TotalTokens)
	assert.Equal(t, translator.PricingNone, est.PricingSource)

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+view.ID+"/estimate?provider=google", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DeleteSession(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createSession(t, srv, 1)

	rec := do(t, srv, http.MethodDelete, "/api/sessions/"+view.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+view.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Settings(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got config.RuntimeSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotContains(t, got.LLMAPIKey, "test")

	got.LLMModel = "gpt-4o"
	rec = do(t, srv, http.MethodPut, "/api/settings", got)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPut, "/api/settings", config.RuntimeSettings{Provider: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PruneSchedule(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/maintenance/prune", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"expression":"@hourly"`)

	rec = do(t, srv, http.MethodPost, "/api/maintenance/prune", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[],"jobs":[]}`, rec.Body.String())
}

func TestServer_SessionStream(t *testing.T) {
	srv, manager := newTestServer(t, WithHeartbeat(time.Hour))
	view := createSession(t, srv, 1)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+view.ID+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan service.SessionView, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var v service.SessionView
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &v) == nil {
				events <- v
			}
		}
	}()

	first := <-events
	assert.Equal(t, engine.StatusPending, first.State.Items[0].Status)

	_, err = manager.UpdateItem(view.ID, 1, "uno")
	require.NoError(t, err)

	select {
	case next := <-events:
		assert.Equal(t, "uno", next.State.Items[0].TranslatedText)
	case <-time.After(2 * time.Second):
		t.Fatal("no update event")
	}
}
