package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// InterruptedMessage is recorded on executions a previous process left running.
const InterruptedMessage = "interrupted by restart"

// RecoveryReport summarises startup recovery.
type RecoveryReport struct {
	Interrupted int64
	Rescheduled int
	Flagged     int
}

// Recover repairs state left by a previous process. Running executions are
// failed, and active schedules whose next_run passed more than one tick ago
// are moved to their next slot after now. Missed runs are not replayed.
func (s *Scheduler) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	now := s.now()

	interrupted, err := s.executions.FailRunning(ctx, InterruptedMessage, now)
	if err != nil {
		return rep, err
	}
	rep.Interrupted = interrupted

	stale, err := s.store.ListStale(ctx, now.Add(-s.cfg.TickInterval))
	if err != nil {
		return rep, fmt.Errorf("loading stale schedules: %w", err)
	}

	for _, schedule := range stale {
		next, err := CalculateNextRun(schedule, now)
		if err != nil {
			log.Error().
				Err(err).
				Str("schedule_id", schedule.ID).
				Str("schedule_name", schedule.Name).
				Msg("Cannot compute next run during recovery")
			if flagErr := s.store.FlagSchedulingError(ctx, schedule.ID, nil, err.Error()); flagErr != nil {
				log.Error().Err(flagErr).Str("schedule_id", schedule.ID).Msg("Failed to flag schedule")
			}
			rep.Flagged++
			continue
		}

		if err := s.store.SetNextRun(ctx, schedule.ID, next); err != nil {
			log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to update next_run during recovery")
			continue
		}

		log.Info().
			Str("schedule_id", schedule.ID).
			Str("schedule_name", schedule.Name).
			Time("next_run", next).
			Msg("Skipped runs missed during downtime")
		rep.Rescheduled++
	}

	log.Info().
		Int64("interrupted", rep.Interrupted).
		Int("rescheduled", rep.Rescheduled).
		Int("flagged", rep.Flagged).
		Msg("Scheduler recovery complete")
	return rep, nil
}
