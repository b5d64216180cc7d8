package plugin

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/lithium-sequencer/sequencer/internal/logger"
)

// Scheduler runs cron-scheduled callbacks on behalf of loaded plugins over a
// single shared *cron.Cron instance, adapted from
// streamspace-dev-streamspace's internal/plugins/scheduler.go. Plugins never
// see the cron.Cron directly; they schedule through AddJob and the
// Scheduler remembers which entries belong to which plugin so UnloadPlugin
// can cleanly retract every job a plugin registered.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	byOwner map[string][]cron.EntryID
}

// NewScheduler starts the shared cron loop.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		byOwner: make(map[string][]cron.EntryID),
	}
	s.cron.Start()
	return s
}

// AddJob schedules fn under spec (standard 6-field cron with seconds,
// per cron.WithSeconds) attributed to owner, returning the job's id.
func (s *Scheduler) AddJob(owner, spec string, fn func()) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Plugin().Error().Str("plugin", owner).Interface("panic", r).Msg("scheduled job panicked")
			}
		}()
		fn()
	})
	if err != nil {
		return 0, err
	}
	s.byOwner[owner] = append(s.byOwner[owner], id)
	return id, nil
}

// RemoveJob retracts a single job by id.
func (s *Scheduler) RemoveJob(owner string, id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Remove(id)
	ids := s.byOwner[owner]
	for i, existing := range ids {
		if existing == id {
			s.byOwner[owner] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// RemoveAll retracts every job owned by owner, called from UnloadPlugin so a
// reloaded or removed plugin never leaves a stale cron entry behind.
func (s *Scheduler) RemoveAll(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byOwner[owner] {
		s.cron.Remove(id)
	}
	delete(s.byOwner, owner)
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
