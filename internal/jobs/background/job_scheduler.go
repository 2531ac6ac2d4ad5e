package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tallysync/internal/caching"
	"tallysync/internal/config"
	"tallysync/internal/jobs"
	"tallysync/internal/models"
	"tallysync/internal/observability"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSyncAlreadyRunning is returned when a run of the same class is active
var ErrSyncAlreadyRunning = errors.New("sync already in progress")

const (
	classFull    = "full"
	classPartial = "partial"
)

// Runner performs the work of one run
type Runner interface {
	Execute(ctx context.Context, run *models.SyncRun)
}

type Dependencies struct {
	Runner     Runner
	Dispatcher jobs.SyncDispatcher
	State      caching.SyncStateStore
	Locker     caching.Locker
	Metrics    *observability.Metrics
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

type guard struct {
	runID      string
	acquiredAt time.Time
	started    bool
	release    func(context.Context) error
}

// SyncScheduler owns the two run guards, the daily trigger and the run history
type SyncScheduler struct {
	scheduler  gocron.Scheduler
	job        gocron.Job
	cfg        config.SchedulerConfig
	location   *time.Location
	hour       uint
	minute     uint
	lockTTL    time.Duration
	runner     Runner
	dispatcher jobs.SyncDispatcher
	state      caching.SyncStateStore
	locker     caching.Locker
	metrics    *observability.Metrics
	logger     logrus.FieldLogger
	now        func() time.Time
	mu         sync.RWMutex
	guards     map[string]*guard
	history    []models.SyncRun
	inline     sync.WaitGroup
}

// NewSyncScheduler creates the scheduler. Nothing runs until Start.
func NewSyncScheduler(cfg *config.TallyConfig, deps Dependencies) (*SyncScheduler, error) {
	hour, minute, err := cfg.DailyTime()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &SyncScheduler{
		scheduler:  scheduler,
		cfg:        cfg.Scheduler,
		location:   loc,
		hour:       hour,
		minute:     minute,
		lockTTL:    cfg.LockTTL(),
		runner:     deps.Runner,
		dispatcher: deps.Dispatcher,
		state:      deps.State,
		locker:     deps.Locker,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Now,
		guards:     map[string]*guard{},
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cfg.HistorySize <= 0 {
		s.cfg.HistorySize = 20
	}
	return s, nil
}

// SetDispatcher routes accepted runs through a queue instead of a goroutine
func (s *SyncScheduler) SetDispatcher(d jobs.SyncDispatcher) {
	s.dispatcher = d
}

// Start restores history, registers the daily job and fires a catch-up run
// when today's scheduled run was missed
func (s *SyncScheduler) Start(ctx context.Context) error {
	if s.state != nil {
		runs, err := s.state.History(ctx, s.cfg.HistorySize)
		if err != nil {
			s.logger.WithError(err).Warn("failed to restore sync history")
		} else {
			s.mu.Lock()
			s.history = runs
			s.mu.Unlock()
		}
	}

	if !s.cfg.Enabled {
		s.logger.Info("Daily tally sync disabled")
		return nil
	}

	job, err := s.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(s.hour, s.minute, 0))),
		gocron.NewTask(s.scheduledRun),
		gocron.WithName("tally-full-sync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create daily sync job: %w", err)
	}
	s.job = job
	s.logger.WithFields(logrus.Fields{"daily_at": s.cfg.DailyAt, "timezone": s.location.String()}).Info("Starting tally sync scheduler")
	s.scheduler.Start()

	if s.cfg.CatchUp && s.catchUpDue(ctx) {
		if _, err := s.Trigger(ctx, models.SyncRequest{Kind: models.SyncFull, Trigger: models.TriggerCatchUp}); err != nil {
			s.logger.WithError(err).Warn("catch-up sync not started")
		}
	}
	return nil
}

// Stop stops the daily trigger and waits for in-process runs
func (s *SyncScheduler) Stop() error {
	s.logger.Info("Stopping tally sync scheduler")
	err := s.scheduler.Shutdown()
	s.inline.Wait()
	return err
}

// Wait blocks until every run started in-process has finished
func (s *SyncScheduler) Wait() {
	s.inline.Wait()
}

func (s *SyncScheduler) scheduledRun() {
	_, err := s.Trigger(context.Background(), models.SyncRequest{Kind: models.SyncFull, Trigger: models.TriggerSchedule})
	if errors.Is(err, ErrSyncAlreadyRunning) {
		s.logger.Warn("Skipping scheduled full sync: previous run still in progress")
	} else if err != nil {
		s.logger.WithError(err).Error("Scheduled full sync failed to start")
	}
}

// ScheduledAt returns today's trigger time in the configured location
func (s *SyncScheduler) ScheduledAt(day time.Time) time.Time {
	d := day.In(s.location)
	return time.Date(d.Year(), d.Month(), d.Day(), int(s.hour), int(s.minute), 0, 0, s.location)
}

func (s *SyncScheduler) catchUpDue(ctx context.Context) bool {
	if s.state == nil {
		return false
	}
	now := s.now()
	scheduled := s.ScheduledAt(now)
	if now.Before(scheduled) {
		return false
	}
	last, ok, err := s.state.Watermark(ctx, models.SyncFull)
	if err != nil {
		s.logger.WithError(err).Warn("failed to read sync watermark")
		return false
	}
	return !ok || last.Before(scheduled)
}

func classFor(kind models.SyncKind) string {
	if kind.IsFull() {
		return classFull
	}
	return classPartial
}

// Trigger validates and accepts a run, then hands it off. It returns
// ErrSyncAlreadyRunning without queuing when the run's class is busy.
func (s *SyncScheduler) Trigger(ctx context.Context, req models.SyncRequest) (models.SyncRun, error) {
	if err := jobs.ValidateRequest(req); err != nil {
		return models.SyncRun{}, err
	}
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}
	class := classFor(req.Kind)
	run := models.SyncRun{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Trigger:   req.Trigger,
		Entity:    req.Entity,
		FromDate:  req.FromDate,
		ToDate:    req.ToDate,
		Status:    models.SyncStatusRunning,
		StartedAt: s.now(),
	}

	if err := s.acquire(ctx, class, run.ID); err != nil {
		if errors.Is(err, ErrSyncAlreadyRunning) {
			s.metrics.Rejected(req.Kind)
		}
		return models.SyncRun{}, err
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, run); err != nil {
			s.releaseGuard(class, run.ID)
			return models.SyncRun{}, err
		}
	} else {
		s.inline.Add(1)
		go func() {
			defer s.inline.Done()
			s.ExecuteRun(context.Background(), run)
		}()
	}

	s.logger.WithFields(logrus.Fields{"run_id": run.ID, "kind": run.Kind, "trigger": run.Trigger}).Info("Sync run accepted")
	return run, nil
}

func (s *SyncScheduler) acquire(ctx context.Context, class, runID string) error {
	s.mu.Lock()
	held := s.guards[class]
	if held != nil && !s.stale(held) {
		s.mu.Unlock()
		return ErrSyncAlreadyRunning
	}
	g := &guard{runID: runID, acquiredAt: s.now()}
	s.guards[class] = g
	s.mu.Unlock()

	if held != nil {
		s.logger.WithFields(logrus.Fields{"run_id": held.runID, "class": class, "queued_at": held.acquiredAt}).
			Warn("Releasing guard of a queued sync run that never started")
		if held.release != nil {
			if err := held.release(ctx); err != nil {
				s.logger.WithError(err).Warn("failed to release redis lock")
			}
		}
	}

	if s.locker == nil || !s.cfg.DistributedLock {
		return nil
	}
	release, err := s.locker.Acquire(ctx, class, s.lockTTL)
	if errors.Is(err, caching.ErrLockNotObtained) {
		s.releaseGuard(class, runID)
		return ErrSyncAlreadyRunning
	}
	if err != nil {
		s.logger.WithError(err).Warn("error obtaining redis lock; proceeding without redis lock")
		return nil
	}
	s.mu.Lock()
	g.release = release
	s.mu.Unlock()
	return nil
}

// stale reports a guard whose queued run has not started within the lock TTL.
// The caller holds s.mu.
func (s *SyncScheduler) stale(g *guard) bool {
	return !g.started && s.lockTTL > 0 && s.now().Sub(g.acquiredAt) > s.lockTTL
}

func (s *SyncScheduler) releaseGuard(class, runID string) {
	s.mu.Lock()
	g := s.guards[class]
	if g == nil || g.runID != runID {
		s.mu.Unlock()
		return
	}
	delete(s.guards, class)
	s.mu.Unlock()

	if g.release != nil {
		if err := g.release(context.Background()); err != nil {
			s.logger.WithError(err).Warn("failed to release redis lock")
		}
	}
}

// ExecuteRun performs an accepted run and returns its guard to idle. A run
// whose guard is no longer held is skipped. A queued run that has not started
// within the lock TTL loses its guard to the next trigger.
func (s *SyncScheduler) ExecuteRun(ctx context.Context, run models.SyncRun) {
	class := classFor(run.Kind)
	s.mu.Lock()
	g := s.guards[class]
	if g == nil || g.runID != run.ID {
		s.mu.Unlock()
		s.logger.WithField("run_id", run.ID).Warn("Dropping sync run that no longer holds its guard")
		return
	}
	g.started = true
	s.mu.Unlock()
	defer s.releaseGuard(class, run.ID)

	logger := s.logger.WithFields(logrus.Fields{"run_id": run.ID, "kind": run.Kind})
	tracker := s.metrics.Track(run.Kind, class)
	logger.Info("Sync run started")

	func() {
		defer func() {
			if r := recover(); r != nil {
				run.Errors = append(run.Errors, fmt.Sprintf("panic: %v", r))
			}
		}()
		s.runner.Execute(ctx, &run)
	}()
	run.Finish(s.now())
	tracker.End(run.Status)
	s.record(ctx, run)

	logger.WithFields(logrus.Fields{
		"status":   run.Status,
		"errors":   len(run.Errors),
		"duration": run.FinishedAt.Sub(run.StartedAt).String(),
	}).Info("Sync run finished")
}

func (s *SyncScheduler) record(ctx context.Context, run models.SyncRun) {
	s.mu.Lock()
	s.history = append([]models.SyncRun{run}, s.history...)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[:s.cfg.HistorySize]
	}
	s.mu.Unlock()

	if s.state == nil {
		return
	}
	if err := s.state.PushRun(ctx, run, s.cfg.HistorySize); err != nil {
		s.logger.WithError(err).Warn("failed to persist sync history")
	}
	if run.Status != models.SyncStatusFailed && run.FinishedAt != nil {
		if err := s.state.SetWatermark(ctx, run.Kind, *run.FinishedAt); err != nil {
			s.logger.WithError(err).Warn("failed to persist sync watermark")
		}
	}
}

// History returns up to limit runs, most recent first
func (s *SyncScheduler) History(limit int) []models.SyncRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.SyncRun, n)
	copy(out, s.history[:n])
	return out
}

func (s *SyncScheduler) Status() models.SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := models.SchedulerStatus{
		Full:        models.GuardIdle,
		Partial:     models.GuardIdle,
		Enabled:     s.cfg.Enabled,
		DailyAt:     s.cfg.DailyAt,
		Timezone:    s.location.String(),
		HistorySize: len(s.history),
	}
	if s.guards[classFull] != nil {
		status.Full = models.GuardRunning
	}
	if s.guards[classPartial] != nil {
		status.Partial = models.GuardRunning
	}
	if s.job != nil {
		if next, err := s.job.NextRun(); err == nil && !next.IsZero() {
			status.NextRun = &next
		}
	}
	if len(s.history) > 0 {
		last := s.history[0]
		status.LastRun = &last
	}
	return status
}
