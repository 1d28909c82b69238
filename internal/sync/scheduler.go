package sync

import (
	"context"
	"fmt"
	"log"

	rcron "github.com/robfig/cron/v3"
)

// Scheduler runs the syncer on a cron schedule (6-field, with
// seconds). A run is also kicked off immediately at start so a fresh
// deployment has data before the first tick.
type Scheduler struct {
	syncer   *Syncer
	schedule string
	cron     *rcron.Cron
}

func NewScheduler(syncer *Syncer, schedule string) *Scheduler {
	return &Scheduler{syncer: syncer, schedule: schedule}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = rcron.New(rcron.WithSeconds())

	run := func() {
		if err := s.syncer.Run(ctx); err != nil {
			log.Printf("[sync] run error: %v", err)
		}
	}

	if _, err := s.cron.AddFunc(s.schedule, run); err != nil {
		return fmt.Errorf("register sync schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	log.Printf("[sync] scheduled with %q", s.schedule)

	go run()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	log.Printf("[sync] scheduler stopped")
}
