package orchestrator

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rmachado/financedw/utils"
)

// Scheduler feeds schedule triggers into the orchestrator: per-domain poll
// schedules start full pipeline runs, retrain schedules start forecast-only
// runs. Triggers are explicit timer events; a trigger that fires while its
// domain is still running is skipped by gocron's singleton mode rather than
// piling up.
type Scheduler struct {
	orchestrator *Orchestrator
	scheduler    *gocron.Scheduler
	logger       *utils.PipelineLogger
}

// NewScheduler creates a scheduler over the orchestrator's domains.
func NewScheduler(o *Orchestrator, logger *utils.PipelineLogger) *Scheduler {
	return &Scheduler{
		orchestrator: o,
		scheduler:    gocron.NewScheduler(time.UTC),
		logger:       logger,
	}
}

// Start registers every configured schedule and runs until the context is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, domain := range s.orchestrator.cfg.Domains {
		domain := domain

		if domain.PollSchedule != "" {
			_, err := s.scheduler.Cron(domain.PollSchedule).
				Tag(domain.Name).
				SingletonMode().
				Do(func() {
					s.logger.Info("[%s] Scheduled pipeline run triggered", domain.Name)
					report := s.orchestrator.RunDomain(ctx, domain.Name)
					if report.Outcome != OutcomeSucceeded {
						s.logger.Error("[%s] Scheduled run finished with outcome %s: %s",
							domain.Name, report.Outcome, report.Error)
					}
				})
			if err != nil {
				return err
			}
			s.logger.Info("Scheduled domain %q with poll schedule %q", domain.Name, domain.PollSchedule)
		}

		if domain.RetrainSchedule != "" {
			_, err := s.scheduler.Cron(domain.RetrainSchedule).
				Tag(domain.Name + ":retrain").
				SingletonMode().
				Do(func() {
					s.logger.Info("[%s] Scheduled retrain triggered", domain.Name)
					if err := s.orchestrator.Retrain(ctx, domain.Name); err != nil {
						s.logger.Error("[%s] Scheduled retrain failed: %v", domain.Name, err)
					}
				})
			if err != nil {
				return err
			}
			s.logger.Info("Scheduled domain %q with retrain schedule %q", domain.Name, domain.RetrainSchedule)
		}
	}

	s.scheduler.StartAsync()

	<-ctx.Done()

	s.scheduler.Stop()
	s.logger.Info("Scheduler stopped")
	return nil
}
