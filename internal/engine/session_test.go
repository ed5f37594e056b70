package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_StartTranslationValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	empty := RestoreSession(nil, SessionMeta{}, DefaultOptions())
	err := empty.StartTranslation(ctx, JobRequest{TargetLanguage: "fr", Translator: &fakeTranslator{}})
	assert.True(t, IsErrorType(err, ErrValidation))

	s := NewSession(makeCues(3), DefaultOptions())
	err = s.StartTranslation(ctx, JobRequest{TargetLanguage: " ", Translator: &fakeTranslator{}})
	assert.True(t, IsErrorType(err, ErrValidation))

	err = s.StartTranslation(ctx, JobRequest{TargetLanguage: "fr"})
	assert.True(t, IsErrorType(err, ErrValidation))

	assert.Equal(t, 3, s.State().Counts[StatusPending], "validation failures never start a job")
	assert.True(t, IsErrorType(s.Pause(), ErrConflict))
}

func TestSession_SingleActiveJob(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	tr := &fakeTranslator{fn: func(call int, texts []string) ([]translator.Result, error) {
		if call == 0 {
			close(started)
			<-release
		}
		return echo("fr", texts), nil
	}}

	s := NewSession(makeCues(3), DefaultOptions())
	done := make(chan error, 1)
	go func() { done <- s.StartTranslation(context.Background(), JobRequest{ID: "a", TargetLanguage: "fr", Translator: tr}) }()
	<-started

	err := s.StartTranslation(context.Background(), JobRequest{ID: "b", TargetLanguage: "fr", Translator: tr})
	assert.True(t, IsErrorType(err, ErrConflict))
	assert.True(t, IsErrorType(s.Load(makeCues(2)), ErrConflict))

	st := s.State()
	assert.True(t, st.Running)
	assert.Equal(t, 3, st.Counts[StatusTranslating])

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Running())
	assert.Equal(t, 3, s.State().Counts[StatusTranslated])
	assert.Empty(t, s.State().Message)
}

func TestSession_AbortMidSecondBatch(t *testing.T) {
	t.Parallel()

	inFlight := make(chan struct{})
	release := make(chan struct{})
	tr := &fakeTranslator{fn: func(call int, texts []string) ([]translator.Result, error) {
		if call == 1 {
			close(inFlight)
			<-release
		}
		return echo("Vietnamese", texts), nil
	}}

	s := NewSession(makeCues(5), testOptions(2))
	done := make(chan error, 1)
	go func() {
		done <- s.StartTranslation(context.Background(), JobRequest{TargetLanguage: "Vietnamese", Translator: tr})
	}()

	<-inFlight
	require.NoError(t, s.Abort())
	close(release)

	err := <-done
	require.Error(t, err)
	assert.True(t, IsAborted(err))

	assert.Equal(t, []Status{
		StatusTranslated, StatusTranslated,
		StatusTranslating, StatusTranslating,
		StatusPending,
	}, statuses(s.Items()))
	assert.Empty(t, s.State().Message, "abort is not reported as a failure")

	// the next run picks the stale items up again
	require.NoError(t, s.StartTranslation(context.Background(), JobRequest{TargetLanguage: "Vietnamese", Translator: &fakeTranslator{}}))
	assert.Equal(t, 5, s.State().Counts[StatusTranslated])
}

func TestSession_AbortWhilePaused(t *testing.T) {
	t.Parallel()

	var s *Session
	tr := &fakeTranslator{fn: func(call int, texts []string) ([]translator.Result, error) {
		if call == 0 {
			assert.NoError(t, s.Pause())
		}
		return echo("fr", texts), nil
	}}
	s = NewSession(makeCues(6), testOptions(2))

	done := make(chan error, 1)
	go func() { done <- s.StartTranslation(context.Background(), JobRequest{TargetLanguage: "fr", Translator: tr}) }()

	require.Eventually(t, func() bool {
		st := s.State()
		return st.Running && st.Paused && st.Counts[StatusTranslated] == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, tr.Calls(), 1, "no batch is dispatched while paused")

	require.NoError(t, s.Abort())
	select {
	case err := <-done:
		assert.True(t, IsAborted(err))
	case <-time.After(time.Second):
		t.Fatal("abort while paused did not end the job")
	}
	assert.Equal(t, 4, s.State().Counts[StatusPending])
}

func TestSession_PauseResume(t *testing.T) {
	t.Parallel()

	var s *Session
	tr := &fakeTranslator{fn: func(call int, texts []string) ([]translator.Result, error) {
		if call == 0 {
			assert.NoError(t, s.Pause())
		}
		return echo("fr", texts), nil
	}}
	s = NewSession(makeCues(4), testOptions(2))

	done := make(chan error, 1)
	go func() { done <- s.StartTranslation(context.Background(), JobRequest{TargetLanguage: "fr", Translator: tr}) }()

	require.Eventually(t, func() bool { return s.State().Paused }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Resume())
	require.NoError(t, <-done)
	assert.Equal(t, 4, s.State().Counts[StatusTranslated])
}

func TestSession_TargetLanguageChangeResetsAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(makeCues(3), DefaultOptions())
	tr := &fakeTranslator{}

	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "French", Translator: tr}))
	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "french", Translator: tr}))
	assert.Len(t, tr.Calls(), 1, "same language resumes with nothing left to do")

	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "German", Translator: tr}))
	assert.Len(t, tr.Calls(), 2)
	for _, it := range s.Items() {
		assert.Equal(t, "German:"+it.SourceText, it.TranslatedText)
	}
	assert.Equal(t, "German", s.State().TargetLanguage)
}

func TestSession_RestoreResetsStaleItems(t *testing.T) {
	t.Parallel()

	items := makeItems(3)
	items[0].Status = StatusTranslated
	items[0].TranslatedText = "fr:line 1"
	items[1].Status = StatusTranslating

	s := RestoreSession(items, SessionMeta{TargetLanguage: "fr"}, DefaultOptions())
	tr := &fakeTranslator{}
	require.NoError(t, s.StartTranslation(context.Background(), JobRequest{TargetLanguage: "fr", Translator: tr}))

	assert.Equal(t, [][]string{{"line 2", "line 3"}}, tr.Calls())
	assert.Equal(t, 3, s.State().Counts[StatusTranslated])
}

func failingOn(bad string) *fakeTranslator {
	return &fakeTranslator{fn: func(_ int, texts []string) ([]translator.Result, error) {
		out := echo("fr", texts)
		for i, t := range texts {
			if t == bad {
				out[i] = translator.Result{Error: "refused"}
			}
		}
		return out, nil
	}}
}

func TestSession_RetrySingleItemHealsLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(makeCues(4), testOptions(2))
	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "fr", Translator: failingOn("line 3")}))

	failed := s.FailedBatches()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)

	tr := &fakeTranslator{}
	require.NoError(t, s.RetrySingleItem(ctx, 3, RetryRequest{Translator: tr}))
	assert.Equal(t, [][]string{{"line 3"}}, tr.Calls())
	assert.Empty(t, s.FailedBatches())
	assert.Empty(t, s.State().FailedBatches)

	item, _ := s.Item(3)
	assert.Equal(t, "fr:line 3", item.TranslatedText, "retry reuses the last target language")

	// not in error: nothing is sent
	require.NoError(t, s.RetrySingleItem(ctx, 3, RetryRequest{Translator: tr}))
	assert.Len(t, tr.Calls(), 1)
	assert.True(t, IsErrorType(s.RetrySingleItem(ctx, 42, RetryRequest{Translator: tr}), ErrNotFound))
}

func TestSession_RetryBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(makeCues(6), testOptions(2))
	broken := &fakeTranslator{fn: func(_ int, texts []string) ([]translator.Result, error) {
		if texts[0] == "line 3" {
			return nil, errors.New("timeout")
		}
		return echo("fr", texts), nil
	}}
	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "fr", Translator: broken}))

	failed := s.FailedBatches()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)
	assert.Equal(t, "timeout", failed[0].Items[0].Error)

	// still failing keeps the batch with the new error text
	still := &fakeTranslator{fn: func(int, []string) ([]translator.Result, error) { return nil, errors.New("rate limited") }}
	require.NoError(t, s.RetryBatch(ctx, 1, RetryRequest{Translator: still}))
	failed = s.FailedBatches()
	require.Len(t, failed, 1)
	assert.Equal(t, "rate limited", failed[0].Items[0].Error)

	tr := &fakeTranslator{}
	require.NoError(t, s.RetryBatch(ctx, 1, RetryRequest{Translator: tr}))
	assert.Equal(t, [][]string{{"line 3", "line 4"}}, tr.Calls())
	for _, it := range s.Items() {
		if BatchIndex(it.ID, 2) == 1 {
			assert.NotEqual(t, StatusError, it.Status)
		}
	}
	assert.Empty(t, s.FailedBatches())

	// healed batch: no-op
	require.NoError(t, s.RetryBatch(ctx, 1, RetryRequest{Translator: tr}))
	assert.Len(t, tr.Calls(), 1)

	assert.True(t, IsErrorType(s.RetryBatch(ctx, 9, RetryRequest{Translator: tr}), ErrNotFound))
	assert.True(t, IsErrorType(s.RetryBatch(ctx, 0, RetryRequest{}), ErrValidation))
}

func TestSession_RetryBatchPartiallyHealed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(makeCues(4), testOptions(2))
	broken := &fakeTranslator{fn: func(_ int, texts []string) ([]translator.Result, error) {
		if texts[0] == "line 3" {
			return nil, errors.New("timeout")
		}
		return echo("fr", texts), nil
	}}
	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "fr", Translator: broken}))
	require.NoError(t, s.UpdateItemManually(3, "fixed by hand"))

	tr := &fakeTranslator{}
	require.NoError(t, s.RetryBatch(ctx, 1, RetryRequest{Translator: tr}))
	assert.Equal(t, [][]string{{"line 4"}}, tr.Calls())

	item, _ := s.Item(3)
	assert.Equal(t, "fixed by hand", item.TranslatedText)
}

func TestSession_ConcurrentRetryBatchCoalesces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(makeCues(2), testOptions(2))
	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "fr", Translator: failingOn("line 1")}))

	var joined atomic.Int32
	s.retryJoined = func(int) { joined.Add(1) }

	var calls atomic.Int32
	release := make(chan struct{})
	tr := &fakeTranslator{fn: func(_ int, texts []string) ([]translator.Result, error) {
		calls.Add(1)
		<-release
		return echo("fr", texts), nil
	}}

	errs := make(chan error, 2)
	for range 2 {
		go func() { errs <- s.RetryBatch(ctx, 0, RetryRequest{Translator: tr}) }()
	}
	// both callers are attached to the call that is still blocked on release
	require.Eventually(t, func() bool { return calls.Load() == 1 && joined.Load() == 2 }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, s.FailedBatches())
}

func TestSession_RetrySingleItemCanceledStaysRetryable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(makeCues(2), testOptions(2))
	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "fr", Translator: failingOn("line 2")}))

	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	gone := &fakeTranslator{fn: func(_ int, texts []string) ([]translator.Result, error) {
		cancel()
		return echo("fr", texts), nil
	}}
	err := s.RetrySingleItem(retryCtx, 2, RetryRequest{Translator: gone})
	assert.True(t, IsAborted(err))

	item, _ := s.Item(2)
	assert.Equal(t, StatusError, item.Status)
	assert.Contains(t, item.Error, "retry canceled")
	require.Len(t, s.FailedBatches(), 1)

	tr := &fakeTranslator{}
	require.NoError(t, s.RetrySingleItem(ctx, 2, RetryRequest{Translator: tr}))
	assert.Len(t, tr.Calls(), 1)
	item, _ = s.Item(2)
	assert.Equal(t, StatusTranslated, item.Status)
	assert.Equal(t, "fr:line 2", item.TranslatedText)
	assert.Empty(t, s.FailedBatches())
}

func TestSession_RetryBatchOutlivesCanceledCaller(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(makeCues(2), testOptions(2))
	require.NoError(t, s.StartTranslation(ctx, JobRequest{TargetLanguage: "fr", Translator: failingOn("line 1")}))

	var calls atomic.Int32
	release := make(chan struct{})
	tr := &fakeTranslator{fn: func(_ int, texts []string) ([]translator.Result, error) {
		calls.Add(1)
		<-release
		return echo("fr", texts), nil
	}}

	callerCtx, cancel := context.WithCancel(ctx)
	errs := make(chan error, 1)
	go func() { errs <- s.RetryBatch(callerCtx, 0, RetryRequest{Translator: tr}) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	close(release)
	require.NoError(t, <-errs)

	item, _ := s.Item(1)
	assert.Equal(t, StatusTranslated, item.Status)
	assert.Equal(t, "fr:line 1", item.TranslatedText)
	assert.Empty(t, s.FailedBatches())
}

func TestSession_ManualEditDuringFlight(t *testing.T) {
	t.Parallel()

	var s *Session
	tr := &fakeTranslator{fn: func(call int, texts []string) ([]translator.Result, error) {
		assert.NoError(t, s.UpdateItemManually(2, "mine"))
		return echo("fr", texts), nil
	}}
	s = NewSession(makeCues(3), DefaultOptions())

	require.NoError(t, s.StartTranslation(context.Background(), JobRequest{TargetLanguage: "fr", Translator: tr}))

	items := s.Items()
	assert.Equal(t, "fr:line 1", items[0].TranslatedText)
	assert.Equal(t, "mine", items[1].TranslatedText)
	assert.Equal(t, "fr:line 3", items[2].TranslatedText)
}

func TestSession_ManualEditIsolation(t *testing.T) {
	t.Parallel()

	s := NewSession(makeCues(5), testOptions(2))
	require.NoError(t, s.StartTranslation(context.Background(), JobRequest{TargetLanguage: "fr", Translator: failingOn("line 2")}))
	before := statuses(s.Items())

	require.NoError(t, s.UpdateItemManually(4, "edited"))
	after := statuses(s.Items())

	for i := range before {
		if i == 3 {
			continue
		}
		assert.Equal(t, before[i], after[i], "item %d", i+1)
	}
	assert.True(t, IsErrorType(s.UpdateItemManually(77, "x"), ErrNotFound))
}

func TestSession_ExportBilingual(t *testing.T) {
	t.Parallel()

	s := NewSession(makeCues(5), DefaultOptions())
	for _, id := range []int{1, 3, 5} {
		require.NoError(t, s.UpdateItemManually(id, "tr "+strings.Repeat("x", id)))
	}

	out, err := s.ExportAs(subtitle.FormatSRT, ModeBilingual)
	require.NoError(t, err)

	assert.Contains(t, out, "00:00:00,000 --> 00:00:00,900\nline 1\ntr x\n\n")
	assert.Contains(t, out, "00:00:01,000 --> 00:00:01,900\nline 2\n\n3\n")
	assert.Contains(t, out, "line 4\n\n5\n")
	assert.Contains(t, out, "line 5\ntr xxxxx\n")
	assert.NotContains(t, out, "\n\n\n")

	out, err = s.ExportAs(subtitle.FormatSRT, ModeTranslated)
	require.NoError(t, err)
	assert.Contains(t, out, "\ntr xxx\n")
	assert.Contains(t, out, "\nline 2\n")
	assert.NotContains(t, out, "line 1")

	_, err = s.ExportAs(subtitle.Format("txt"), ModeTranslated)
	assert.True(t, IsErrorType(err, ErrValidation))
}

func TestSession_LoadReplacesItems(t *testing.T) {
	t.Parallel()

	s := NewSession(makeCues(3), DefaultOptions())
	require.NoError(t, s.UpdateItemManually(1, "x"))

	require.NoError(t, s.Load(makeCues(2)))
	st := s.State()
	assert.Len(t, st.Items, 2)
	assert.Equal(t, 2, st.Counts[StatusPending])
	assert.True(t, IsErrorType(s.Load(nil), ErrValidation))
}

func TestSession_SubscribeSeesProgress(t *testing.T) {
	t.Parallel()

	s := NewSession(makeCues(3), DefaultOptions())
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.StartTranslation(context.Background(), JobRequest{TargetLanguage: "fr", Translator: &fakeTranslator{}}))

	select {
	case <-ch:
	default:
		t.Fatal("expected a notification")
	}
	assert.Equal(t, Progress{Done: 3, Total: 3, Percent: 100}, s.State().Progress)
}
