package scheduler

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/notification"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/orchestrator"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/repository"
	resourcesync "github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/sync"
)

// Runner executes one sync to completion. Satisfied by the orchestrator.
type Runner interface {
	RunBlocking(ctx context.Context, connectionID, syncType string) (*orchestrator.RunResult, error)
}

type entry struct {
	timer      *time.Timer
	generation uint64
	nextRunAt  time.Time
}

// Scheduler owns one timer per connection with an enabled schedule. The
// registry is mutated only by Init, Reload, Remove and the rearm after a
// firing, never from inside a running sync.
type Scheduler struct {
	schedules   repository.ScheduleRepository
	connections repository.ConnectionRepository
	runner      Runner
	notifier    notification.Service
	logger      zerolog.Logger
	now         func() time.Time

	mu      stdsync.Mutex
	entries map[string]*entry
	started bool
}

func New(
	schedules repository.ScheduleRepository,
	connections repository.ConnectionRepository,
	runner Runner,
	notifier notification.Service,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		schedules:   schedules,
		connections: connections,
		runner:      runner,
		notifier:    notifier,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		now:         time.Now,
		entries:     make(map[string]*entry),
	}
}

// Init loads every enabled schedule and arms its timer. Calling it again is
// a no-op for the process lifetime.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	schedules, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		return errors.Wrap(err, "load enabled schedules")
	}
	for _, sched := range schedules {
		s.register(ctx, sched)
	}
	s.logger.Info().Int("count", len(schedules)).Msg("schedules armed")
	return nil
}

// Reload re-reads one connection's schedule from storage and replaces its
// timer. A disabled or deleted schedule just stops the timer.
func (s *Scheduler) Reload(ctx context.Context, connectionID string) error {
	sched, err := s.schedules.GetByConnection(ctx, connectionID)
	if err != nil {
		return errors.Wrap(err, "load schedule")
	}

	s.mu.Lock()
	s.stopLocked(connectionID)
	s.mu.Unlock()

	if sched == nil || !sched.Enabled {
		return nil
	}
	s.register(ctx, sched)
	return nil
}

// Remove stops and forgets the connection's timer.
func (s *Scheduler) Remove(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(connectionID)
}

// ErrNoSchedule is returned by RunNow when the connection has no schedule
// to fire.
var ErrNoSchedule = errors.New("no schedule for connection")

// RunNow fires the connection's schedule out of band. The batch runs on its
// own goroutine; next_run_at is recomputed from the moment it finishes.
func (s *Scheduler) RunNow(ctx context.Context, connectionID string) error {
	sched, err := s.schedules.GetByConnection(ctx, connectionID)
	if err != nil {
		return errors.Wrap(err, "load schedule")
	}
	if sched == nil {
		return errors.Wrapf(ErrNoSchedule, "connection %s", connectionID)
	}
	go s.fireAndReschedule(sched)
	return nil
}

// NextRunAt reports the armed firing time, if the connection is registered.
func (s *Scheduler) NextRunAt(connectionID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[connectionID]
	if !ok {
		return time.Time{}, false
	}
	return e.nextRunAt, true
}

func (s *Scheduler) register(ctx context.Context, sched *models.SyncSchedule) {
	next := ComputeNextRunAt(sched, s.now())
	if err := s.schedules.UpdateNextRunAt(ctx, sched.ConnectionID, next); err != nil {
		s.logger.Warn().Err(err).Str("connection_id", sched.ConnectionID).Msg("failed to persist next_run_at")
	}
	s.arm(sched.ConnectionID, next, true)
	s.logger.Info().
		Str("connection_id", sched.ConnectionID).
		Str("frequency", sched.Frequency).
		Time("next_run_at", next).
		Msg("schedule registered")
}

// arm replaces the connection's timer. With create=false a connection that
// was removed while its batch ran stays removed.
func (s *Scheduler) arm(connectionID string, next time.Time, create bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[connectionID]
	if !ok {
		if !create {
			return
		}
		e = &entry{}
		s.entries[connectionID] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.generation++
	gen := e.generation
	e.nextRunAt = next

	d := next.Sub(s.now())
	if d < 0 {
		d = 0
	}
	e.timer = time.AfterFunc(d, func() { s.onTimer(connectionID, gen) })
}

func (s *Scheduler) stopLocked(connectionID string) {
	if e, ok := s.entries[connectionID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, connectionID)
	}
}

// onTimer is the firing path. Stale generations (a Reload raced the timer)
// are dropped.
func (s *Scheduler) onTimer(connectionID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[connectionID]
	if !ok || e.generation != gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sched, err := s.schedules.GetByConnection(ctx, connectionID)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to load schedule at fire time")
		s.arm(connectionID, s.now().Add(time.Minute), false)
		return
	}
	if sched == nil || !sched.Enabled {
		s.Remove(connectionID)
		return
	}
	s.fireAndReschedule(sched)
}

func (s *Scheduler) fireAndReschedule(sched *models.SyncSchedule) {
	runAt := s.now()
	status, summary := s.runBatch(sched)
	next := ComputeNextRunAt(sched, s.now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.schedules.UpdateRunOutcome(ctx, sched.ConnectionID, runAt, status, summary, next); err != nil {
		s.logger.Error().Err(err).Str("connection_id", sched.ConnectionID).Msg("failed to persist schedule run outcome")
	}
	s.arm(sched.ConnectionID, next, false)
}

// batchOutcome is what lands in last_run_summary.
type batchOutcome struct {
	Statuses map[string]string `json:"statuses,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// runBatch executes the schedule's sync types strictly in order. A failing
// type does not stop the ones after it.
func (s *Scheduler) runBatch(sched *models.SyncSchedule) (string, []byte) {
	connectionID := sched.ConnectionID
	logger := s.logger.With().Str("connection_id", connectionID).Logger()
	ctx := context.Background()

	fail := func(reason string) (string, []byte) {
		logger.Error().Str("reason", reason).Msg("scheduled run could not start")
		if err := s.notifier.NotifyScheduleRunFailed(ctx, connectionID, reason); err != nil {
			logger.Warn().Err(err).Msg("failed to publish schedule-run-failed notification")
		}
		summary, _ := json.Marshal(batchOutcome{Errors: []string{reason}})
		return models.SyncStatusFailed, summary
	}

	conn, err := s.connections.Get(connectionID)
	if err != nil {
		return fail("connection lookup failed: " + err.Error())
	}
	if conn == nil {
		return fail("connection no longer exists")
	}
	if !conn.Active {
		return fail("connection is inactive")
	}

	types := sched.SyncTypes
	if len(types) == 0 {
		types = resourcesync.DefaultOrder
	}

	outcome := batchOutcome{Statuses: make(map[string]string, len(types))}
	succeeded, failed := 0, 0
	for _, syncType := range types {
		res, err := s.runner.RunBlocking(ctx, connectionID, syncType)
		if err != nil {
			outcome.Statuses[syncType] = models.SyncStatusFailed
			outcome.Errors = append(outcome.Errors, syncType+": "+err.Error())
			failed++
			continue
		}
		outcome.Statuses[syncType] = res.Status
		switch res.Status {
		case models.SyncStatusSuccess:
			succeeded++
		case models.SyncStatusFailed:
			outcome.Errors = append(outcome.Errors, syncType+" finished as failed")
			failed++
		default:
			failed++
		}
	}

	status := models.SyncStatusSuccess
	switch {
	case failed == 0:
		status = models.SyncStatusSuccess
	case succeeded > 0:
		status = models.SyncStatusPartial
	default:
		status = models.SyncStatusFailed
	}

	if status != models.SyncStatusSuccess {
		reason := "one or more resource syncs did not succeed"
		if len(outcome.Errors) > 0 {
			reason = outcome.Errors[0]
		}
		if err := s.notifier.NotifyScheduleRunFailed(ctx, connectionID, reason); err != nil {
			logger.Warn().Err(err).Msg("failed to publish schedule-run-failed notification")
		}
	}

	summary, err := json.Marshal(outcome)
	if err != nil {
		summary = []byte(`{}`)
	}
	logger.Info().Str("status", status).Int("types", len(types)).Msg("scheduled run finished")
	return status, summary
}
