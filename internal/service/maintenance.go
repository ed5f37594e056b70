package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/subtitle-batch-translator/pkg/icron"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

type pruneState struct {
	group singleflight.Group

	mu      sync.Mutex
	entryID cron.EntryID
	lastRun time.Time
}

// PruneReport summarises one maintenance run.
type PruneReport struct {
	Sessions []string `json:"sessions"`
	Jobs     []string `json:"jobs"`
}

// Prune drops idle sessions older than the session TTL together with
// finished jobs of the same age. Running sessions are never pruned.
func (m *Manager) Prune(ctx context.Context) (PruneReport, error) {
	v, err, _ := m.prune.group.Do("prune", func() (interface{}, error) {
		return m.pruneOnce(ctx)
	})
	if err != nil {
		return PruneReport{}, err
	}
	return v.(PruneReport), nil
}

func (m *Manager) pruneOnce(ctx context.Context) (PruneReport, error) {
	cutoff := m.now().Add(-m.cfg.Maintenance.SessionTTL)
	report := PruneReport{Sessions: []string{}}

	for _, id := range m.idleSessions(ctx, cutoff) {
		if err := m.DeleteSession(ctx, id); err != nil {
			// a session that started translating since it was listed is kept
			log.Debug("Skipping prune of session %s: %v", id, err)
			continue
		}
		report.Sessions = append(report.Sessions, id)
	}
	report.Jobs = m.queue.PruneFinished(cutoff)
	if report.Jobs == nil {
		report.Jobs = []string{}
	}

	m.prune.mu.Lock()
	m.prune.lastRun = m.now()
	m.prune.mu.Unlock()

	if len(report.Sessions) > 0 || len(report.Jobs) > 0 {
		log.Info("Pruned %d sessions and %d jobs idle since %s",
			len(report.Sessions), len(report.Jobs), cutoff.Format(time.RFC3339))
	}
	return report, nil
}

func (m *Manager) idleSessions(ctx context.Context, cutoff time.Time) []string {
	var ids []string
	if m.store != nil {
		recs, err := m.store.ListIdleSessions(ctx, cutoff)
		if err == nil {
			for _, rec := range recs {
				ids = append(ids, rec.ID)
			}
			return m.idleFilter(ids)
		}
		log.Warn("Failed to list idle sessions, using memory: %v", err)
	}

	m.mu.RLock()
	for id, e := range m.sessions {
		if e.record().UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	return m.idleFilter(ids)
}

// idleFilter keeps loaded sessions with no active job.
func (m *Manager) idleFilter(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		e, err := m.lookup(id)
		if err != nil || e.session.Running() {
			continue
		}
		if _, active := m.queue.Active(id); active {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Schedule registers the prune job on c using the configured cron expression.
func (m *Manager) Schedule(ctx context.Context, c *cron.Cron) error {
	expr := m.cfg.Maintenance.PruneCron
	sched, err := icron.Parse(expr)
	if err != nil {
		return err
	}

	id := c.Schedule(sched, cron.FuncJob(func() {
		if _, err := m.Prune(ctx); err != nil {
			log.Error("Prune failed: %v", err)
		}
	}))

	m.prune.mu.Lock()
	m.prune.entryID = id
	m.prune.mu.Unlock()

	if info, err := icron.GetTriggerInfo(expr, m.now()); err == nil {
		log.Info("Prune scheduled with %q, next run at %s", expr, info.Next.Format(time.RFC3339))
	}
	return nil
}

// PruneSchedule reports the next firing of the prune job. Last is the
// previous run once one happened in this process.
func (m *Manager) PruneSchedule() (*icron.TriggerInfo, error) {
	info, err := icron.GetTriggerInfo(m.cfg.Maintenance.PruneCron, m.now())
	if err != nil {
		return nil, fmt.Errorf("prune schedule: %w", err)
	}

	m.prune.mu.Lock()
	last := m.prune.lastRun
	m.prune.mu.Unlock()
	if !last.IsZero() {
		info.Last = last
		info.TimeSinceLast = m.now().Sub(last)
	}
	return info, nil
}
