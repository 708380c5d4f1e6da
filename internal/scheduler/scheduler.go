package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ticketdesk/reportd/internal/config"
	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/metrics"
)

// State is the scheduler loop's current phase.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateDispatching State = "dispatching"
)

// Scheduler owns the tick loop, the per-schedule locks and the worker pool,
// and is the entry point for schedule writes that must respect running
// executions.
type Scheduler struct {
	cfg        config.SchedulerConfig
	store      *Store
	executions *executions.Store
	runner     *Runner
	locks      *LockArena
	pool       *Pool

	state atomic.Value

	ctx      context.Context
	cancel   context.CancelFunc
	loopWG   sync.WaitGroup
	triggers sync.WaitGroup
	started  atomic.Bool
	now      func() time.Time
}

// New creates a scheduler. Call Start to begin ticking.
func New(cfg config.SchedulerConfig, store *Store, execs *executions.Store, runner *Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = config.DefaultTickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}

	s := &Scheduler{
		cfg:        cfg,
		store:      store,
		executions: execs,
		runner:     runner,
		locks:      NewLockArena(),
		pool:       NewPool(cfg.Workers, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.setState(StateIdle)
	return s
}

// Store returns the schedule store.
func (s *Scheduler) Store() *Store {
	return s.store
}

// State returns the loop's current phase.
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

// Stats is a point-in-time view of the scheduler for health checks.
type Stats struct {
	State       State `json:"state"`
	LoopEnabled bool  `json:"loop_enabled"`
	Started     bool  `json:"started"`
	QueueDepth  int   `json:"queue_depth"`
	Locked      int   `json:"locked_schedules"`
}

// Stats reports the loop state, queue depth and number of tracked locks.
func (s *Scheduler) Stats() Stats {
	return Stats{
		State:       s.State(),
		LoopEnabled: s.cfg.Enabled,
		Started:     s.started.Load() && s.ctx.Err() == nil,
		QueueDepth:  s.pool.QueueDepth(),
		Locked:      s.locks.Len(),
	}
}

func (s *Scheduler) setState(state State) {
	s.state.Store(state)
	metrics.SetSchedulerState(string(state))
}

// Start runs startup recovery, starts the workers and, when enabled, the tick
// loop. Manual triggers work even with the loop disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	if _, err := s.Recover(ctx); err != nil {
		return fmt.Errorf("recovering schedules: %w", err)
	}

	s.pool.Start()

	if !s.cfg.Enabled {
		log.Info().Msg("Scheduler loop disabled, manual triggers only")
		return nil
	}

	s.loopWG.Add(1)
	go s.loop()

	log.Info().
		Dur("tick_interval", s.cfg.TickInterval).
		Int("workers", s.cfg.Workers).
		Int("queue_size", s.cfg.QueueSize).
		Msg("Scheduler started")
	return nil
}

// Stop halts the loop, abandons triggers still waiting for a lock, and
// waits for queued and running executions until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	s.loopWG.Wait()
	s.triggers.Wait()

	err := s.pool.Stop(ctx)
	s.setState(StateIdle)
	log.Info().Msg("Scheduler stopped")
	return err
}

func (s *Scheduler) loop() {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(s.ctx, s.now()); err != nil {
				log.Error().Err(err).Msg("Failed to process due schedules")
			}
		}
	}
}

// Tick dispatches every schedule due at now and returns how many were
// handed to the pool. Locked schedules and those that do not fit in the
// queue stay due for the next tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	metrics.RecordTick()
	s.setState(StateScanning)
	defer s.setState(StateIdle)

	due, err := s.store.GetDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("getting due schedules: %w", err)
	}

	s.setState(StateDispatching)

	dispatched := 0
	for _, schedule := range due {
		if !s.locks.TryAcquire(schedule.ID) {
			metrics.RecordSkip("locked")
			log.Debug().
				Str("schedule_id", schedule.ID).
				Str("schedule_name", schedule.Name).
				Msg("Schedule already running, skipping tick")
			continue
		}

		if err := s.pool.TrySubmit(s.timerJob(schedule.ID, now)); err != nil {
			s.locks.Release(schedule.ID)
			metrics.RecordSkip("queue_full")
			log.Warn().
				Err(err).
				Str("schedule_id", schedule.ID).
				Msg("Deferring schedule to next tick")
			continue
		}

		metrics.RecordDispatch(string(executions.TriggerTimer))
		dispatched++
	}

	metrics.SetQueueDepth(s.pool.QueueDepth())

	if dispatched > 0 {
		log.Debug().
			Int("due", len(due)).
			Int("dispatched", dispatched).
			Msg("Dispatched due schedules")
	}
	return dispatched, nil
}

// timerJob runs id if it is still due at the tick instant and releases the
// schedule's lock afterwards.
func (s *Scheduler) timerJob(id string, tickAt time.Time) Job {
	return s.job(id, executions.TriggerTimer, func(ctx context.Context) (*executions.Execution, error) {
		return s.runner.RunDue(ctx, id, tickAt)
	})
}

// manualJob runs id unconditionally and releases the schedule's lock afterwards.
func (s *Scheduler) manualJob(id string) Job {
	return s.job(id, executions.TriggerManual, func(ctx context.Context) (*executions.Execution, error) {
		return s.runner.Run(ctx, id, executions.TriggerManual)
	})
}

func (s *Scheduler) job(id string, trigger executions.Trigger, run func(context.Context) (*executions.Execution, error)) Job {
	return func(ctx context.Context) {
		defer s.locks.Release(id)

		if _, err := run(ctx); err != nil {
			log.Error().
				Err(err).
				Str("schedule_id", id).
				Str("trigger", string(trigger)).
				Msg("Execution could not start")
		}
	}
}

// Trigger queues a manual run of id and returns without waiting. The run
// starts once any in-flight execution of the same schedule has finished.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrPoolStopped
	}

	s.triggers.Add(1)
	go func() {
		defer s.triggers.Done()

		if err := s.locks.Acquire(s.ctx, id); err != nil {
			log.Warn().Err(err).Str("schedule_id", id).Msg("Manual trigger abandoned")
			return
		}
		if err := s.pool.Submit(s.ctx, s.manualJob(id)); err != nil {
			s.locks.Release(id)
			log.Warn().Err(err).Str("schedule_id", id).Msg("Manual trigger abandoned")
			return
		}
		metrics.RecordDispatch(string(executions.TriggerManual))
	}()

	log.Info().Str("schedule_id", id).Msg("Manual run requested")
	return nil
}

// RunNow executes id synchronously on the caller's goroutine, waiting for
// the schedule's lock.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*executions.Execution, error) {
	if err := s.locks.Acquire(ctx, id); err != nil {
		return nil, err
	}
	defer s.locks.Release(id)

	return s.runner.Run(ctx, id, executions.TriggerManual)
}

// Create validates and stores a new schedule.
func (s *Scheduler) Create(ctx context.Context, in *ScheduleInput) (*Schedule, error) {
	schedule, err := s.store.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("schedule_name", schedule.Name).
		Time("next_run", *schedule.NextRun).
		Msg("Schedule created")
	return schedule, nil
}

// Get retrieves a schedule by ID.
func (s *Scheduler) Get(ctx context.Context, id string) (*Schedule, error) {
	return s.store.Get(ctx, id)
}

// List returns schedules matching filter.
func (s *Scheduler) List(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	return s.store.List(ctx, filter)
}

// Update modifies a schedule that is not currently executing.
func (s *Scheduler) Update(ctx context.Context, id string, in *ScheduleInput) (*Schedule, error) {
	if err := s.exclusive(ctx, id); err != nil {
		return nil, err
	}
	defer s.locks.Release(id)

	return s.store.Update(ctx, id, in)
}

// Delete removes a schedule that is not currently executing.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.exclusive(ctx, id); err != nil {
		return err
	}
	defer s.locks.Release(id)

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	log.Info().Str("schedule_id", id).Msg("Schedule deleted")
	return nil
}

// Toggle flips is_active. An in-flight run is not cancelled.
func (s *Scheduler) Toggle(ctx context.Context, id string) (*Schedule, error) {
	schedule, err := s.store.Toggle(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("schedule_id", id).
		Bool("is_active", schedule.IsActive).
		Msg("Schedule toggled")
	return schedule, nil
}

// exclusive takes id's lock without waiting and confirms no execution is
// recorded as running. On success the caller must release the lock.
func (s *Scheduler) exclusive(ctx context.Context, id string) error {
	if !s.locks.TryAcquire(id) {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}

	running, err := s.executions.HasRunning(ctx, id)
	if err != nil {
		s.locks.Release(id)
		return err
	}
	if running {
		s.locks.Release(id)
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}
	return nil
}
