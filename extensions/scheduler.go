package extensions

import (
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	runner "github.com/module-dev/runner"
)

// ScheduledEventHook ticks an event on a cron schedule, supplementing
// the event bus with the recurring-emission pattern the corpus uses
// for job scheduling (spec.md §7; grounded on the automation
// Scheduler's Start/Stop lifecycle in
// internal/app/services/automation/scheduler.go, generalised from a
// ticker-driven poll loop to cron/v3's schedule parser since that's the
// library actually being exercised here).
type ScheduledEventHook struct {
	rr     *runner.RunResult
	logger *zap.Logger

	mu  sync.Mutex
	cr  *cron.Cron
	ids []cron.EntryID
}

// NewScheduledEventHook builds a hook bound to rr, ready to have
// schedules added via Schedule before Start.
func NewScheduledEventHook(rr *runner.RunResult, logger *zap.Logger) *ScheduledEventHook {
	return &ScheduledEventHook{rr: rr, logger: logger, cr: cron.New()}
}

// Schedule registers eventId to be emitted with payload each time spec
// (a standard five-field cron expression) matches. Returns an error if
// spec cannot be parsed.
func (s *ScheduledEventHook) Schedule(spec string, eventId runner.Id, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cr.AddFunc(spec, func() {
		if err := s.rr.EmitEventById(eventId, payload, "scheduler"); err != nil {
			s.logger.Error("scheduled event emission failed",
				zap.String("event", eventId), zap.String("spec", spec), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.ids = append(s.ids, id)
	return nil
}

// Start begins running scheduled emissions in the background.
func (s *ScheduledEventHook) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cr.Start()
	s.logger.Info("scheduler started", zap.Int("schedules", len(s.ids)))
}

// Stop halts the scheduler, waiting for any in-flight emission to
// finish before returning.
func (s *ScheduledEventHook) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.cr.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
