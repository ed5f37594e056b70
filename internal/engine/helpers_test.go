package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
)

type translateFunc func(call int, texts []string) ([]translator.Result, error)

// fakeTranslator records every call and answers through fn, or with
// "{target}:{text}" when fn is nil.
type fakeTranslator struct {
	fn translateFunc

	mu       sync.Mutex
	calls    [][]string
	contexts []string
}

func (f *fakeTranslator) TranslateBatch(_ context.Context, texts []string, target, _ string, batchContext string) ([]translator.Result, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.contexts = append(f.contexts, batchContext)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(call, texts)
	}
	return echo(target, texts), nil
}

func (f *fakeTranslator) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func (f *fakeTranslator) CallSizes() []int {
	var sizes []int
	for _, c := range f.Calls() {
		sizes = append(sizes, len(c))
	}
	return sizes
}

func echo(target string, texts []string) []translator.Result {
	out := make([]translator.Result, len(texts))
	for i, t := range texts {
		out[i] = translator.Result{Text: target + ":" + t}
	}
	return out
}

func makeCues(n int) []subtitle.Cue {
	cues := make([]subtitle.Cue, n)
	for i := range cues {
		cues[i] = subtitle.Cue{
			ID:    i + 1,
			Start: subtitle.Timestamp(time.Duration(i) * time.Second),
			End:   subtitle.Timestamp(time.Duration(i)*time.Second + 900*time.Millisecond),
			Text:  fmt.Sprintf("line %d", i+1),
		}
	}
	return cues
}

func makeItems(n int) []Item {
	return NewItems(makeCues(n))
}

func statuses(items []Item) []Status {
	out := make([]Status, len(items))
	for i, it := range items {
		out[i] = it.Status
	}
	return out
}

func testOptions(batchSize int) Options {
	return Options{
		BatchSize:    batchSize,
		MaxBatchSize: batchSize * 3,
		PollInterval: 5 * time.Millisecond,
	}
}
