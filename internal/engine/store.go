package engine

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
)

// Store owns the item list. It is the only writer of status, translation
// and error fields. Every mutation of a set of ids is applied under one lock,
// so observers never see a half-applied slice.
type Store struct {
	mu      sync.RWMutex
	items   []Item
	index   map[int]int
	version uint64

	subMu   sync.Mutex
	subs    map[uint64]chan struct{}
	nextSub uint64
}

func NewStore(items []Item) *Store {
	s := &Store{subs: make(map[uint64]chan struct{})}
	s.replace(items)
	return s
}

// Load replaces every item.
func (s *Store) Load(items []Item) {
	s.mu.Lock()
	s.replace(items)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) replace(items []Item) {
	s.items = slices.Clone(items)
	s.index = make(map[int]int, len(items))
	for i, it := range s.items {
		s.index[it.ID] = i
	}
	s.version++
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Version increases on every change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Get(id int) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Item{}, false
	}
	return s.items[i], true
}

// Snapshot returns a consistent copy of all items in id order.
func (s *Store) Snapshot() []Item {
	items, _ := s.snapshot()
	return items
}

func (s *Store) snapshot() ([]Item, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items), s.version
}

// Eligible returns the ids of pending and error items in order.
func (s *Store) Eligible() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int
	for _, it := range s.items {
		if it.Status.eligible() {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Counts tallies items per status.
func (s *Store) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[Status]int{
		StatusPending:     0,
		StatusTranslating: 0,
		StatusTranslated:  0,
		StatusError:       0,
	}
	for _, it := range s.items {
		counts[it.Status]++
	}
	return counts
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusTranslating
	case StatusError:
		return to == StatusTranslating
	case StatusTranslating:
		return to == StatusTranslated || to == StatusError
	case StatusTranslated:
		return to == StatusTranslated
	}
	return false
}

// SetStatus moves ids to status. reason is recorded for StatusError and
// cleared otherwise. Nothing is applied when any id is unknown or any
// transition is not allowed.
func (s *Store) SetStatus(ids []int, status Status, reason string) error {
	if !status.Valid() {
		return NewError(ErrValidation, fmt.Sprintf("invalid status %q", status))
	}

	s.mu.Lock()
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok {
			s.mu.Unlock()
			return NewError(ErrNotFound, fmt.Sprintf("item %d not found", id))
		}
		if from := s.items[i].Status; !canTransition(from, status) {
			s.mu.Unlock()
			return NewError(ErrValidation, fmt.Sprintf("item %d cannot move from %s to %s", id, from, status)).
				WithContext("id", id)
		}
	}
	for _, id := range ids {
		it := &s.items[s.index[id]]
		it.Status = status
		it.Error = ""
		if status == StatusError {
			it.Error = reason
		}
	}
	s.version++
	s.mu.Unlock()

	s.notify()
	return nil
}

// Claim moves the still eligible ids to translating and returns them in
// order. Ids already healed or claimed elsewhere are skipped.
func (s *Store) Claim(ids []int) []int {
	s.mu.Lock()
	var claimed []int
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok || !s.items[i].Status.eligible() {
			continue
		}
		s.items[i].Status = StatusTranslating
		s.items[i].Error = ""
		claimed = append(claimed, id)
	}
	if len(claimed) > 0 {
		s.version++
	}
	s.mu.Unlock()

	if len(claimed) > 0 {
		s.notify()
	}
	return claimed
}

// ApplyResults records positionally aligned results for ids. Ids without a
// result become errors. Items that are no longer translating, for example
// edited by hand meanwhile, are left alone. It returns the number of items written.
func (s *Store) ApplyResults(ids []int, results []translator.Result) int {
	s.mu.Lock()
	applied := 0
	for pos, id := range ids {
		i, ok := s.index[id]
		if !ok || s.items[i].Status != StatusTranslating {
			continue
		}
		it := &s.items[i]
		switch {
		case pos >= len(results):
			it.Status = StatusError
			it.Error = translator.MissingTranslation(pos, len(ids))
		case results[pos].Failed():
			it.Status = StatusError
			it.Error = results[pos].Error
		default:
			it.Status = StatusTranslated
			it.TranslatedText = results[pos].Text
			it.Error = ""
		}
		applied++
	}
	if applied > 0 {
		s.version++
	}
	s.mu.Unlock()

	if applied > 0 {
		s.notify()
	}
	return applied
}

// Fail marks the translating ids as errors with reason.
func (s *Store) Fail(ids []int, reason string) int {
	s.mu.Lock()
	failed := 0
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok || s.items[i].Status != StatusTranslating {
			continue
		}
		s.items[i].Status = StatusError
		s.items[i].Error = reason
		failed++
	}
	if failed > 0 {
		s.version++
	}
	s.mu.Unlock()

	if failed > 0 {
		s.notify()
	}
	return failed
}

// SetTranslation stores a manual translation. It is allowed from any status
// and affects only that item.
func (s *Store) SetTranslation(id int, text string) error {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return NewError(ErrNotFound, fmt.Sprintf("item %d not found", id))
	}
	s.items[i].TranslatedText = text
	s.items[i].Status = StatusTranslated
	s.items[i].Error = ""
	s.version++
	s.mu.Unlock()

	s.notify()
	return nil
}

// ResetStale returns items left translating by an aborted or interrupted run to pending.
func (s *Store) ResetStale() int {
	return s.reset(func(it Item) bool { return it.Status == StatusTranslating }, false)
}

// ResetAll returns every item to pending and drops translations.
func (s *Store) ResetAll() int {
	return s.reset(func(Item) bool { return true }, true)
}

func (s *Store) reset(match func(Item) bool, clearText bool) int {
	s.mu.Lock()
	n := 0
	for i := range s.items {
		if !match(s.items[i]) {
			continue
		}
		s.items[i].Status = StatusPending
		s.items[i].Error = ""
		if clearText {
			s.items[i].TranslatedText = ""
		}
		n++
	}
	if n > 0 {
		s.version++
	}
	s.mu.Unlock()

	if n > 0 {
		s.notify()
	}
	return n
}

// Touch signals subscribers about a change outside the items, such as a job
// starting or pausing.
func (s *Store) Touch() {
	s.mu.Lock()
	s.version++
	s.mu.Unlock()
	s.notify()
}

// Subscribe returns a channel that receives a value after changes.
// Notifications coalesce: a slow reader sees at least one signal after the
// latest change. Call cancel to release the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
