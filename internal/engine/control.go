package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Control holds the pause and abort flags of one job. The scheduler polls
// it at every checkpoint; it never preempts a provider call in flight.
type Control struct {
	paused  atomic.Bool
	aborted atomic.Bool
	poll    time.Duration
}

func NewControl(poll time.Duration) *Control {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Control{poll: poll}
}

func (c *Control) Pause()  { c.paused.Store(true) }
func (c *Control) Resume() { c.paused.Store(false) }

// Abort is terminal. It also ends a pause.
func (c *Control) Abort() { c.aborted.Store(true) }

func (c *Control) Paused() bool  { return c.paused.Load() }
func (c *Control) Aborted() bool { return c.aborted.Load() }

// Checkpoint returns nil when work may continue. While paused it waits,
// re-checking every poll interval, until resumed, aborted or ctx is done.
func (c *Control) Checkpoint(ctx context.Context) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if c.Aborted() {
			return errAborted(nil)
		}
		if err := ctx.Err(); err != nil {
			return errAborted(err)
		}
		if !c.Paused() {
			return nil
		}

		if timer == nil {
			timer = time.NewTimer(c.poll)
		} else {
			timer.Reset(c.poll)
		}
		select {
		case <-ctx.Done():
			return errAborted(ctx.Err())
		case <-timer.C:
		}
	}
}
