// Package cron fires the timer events and the audit archive on schedule.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/missiond/internal/archive"
	"github.com/kalambet/missiond/internal/config"
	"github.com/kalambet/missiond/internal/router"
)

// jobTimeout bounds one firing across all users.
const jobTimeout = 5 * time.Minute

// Router routes envelopes.
type Router interface {
	Route(ctx context.Context, env router.Envelope) router.Result
}

// Users lists the users timer events are fired for.
type Users interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Archiver exports the audit log.
type Archiver interface {
	Export(ctx context.Context) (archive.Result, error)
}

// Scheduler owns the cron entries. A firing that is still running when its
// next tick arrives is skipped, so firings of one entry never overlap.
type Scheduler struct {
	cron     *cron.Cron
	router   Router
	users    Users
	archiver Archiver
	now      func() time.Time
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. archiver may be nil when archiving is
// disabled.
func NewScheduler(r Router, users Users, archiver Archiver) *Scheduler {
	logger := slog.Default()
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		router:   r,
		users:    users,
		archiver: archiver,
		now:      time.Now,
		logger:   logger,
	}
}

// Configure registers an entry for every non-empty schedule. Specs use the
// standard five fields or descriptors such as @daily.
func (s *Scheduler) Configure(cfg config.ScheduleConfig) error {
	timers := []struct {
		spec  string
		event router.Event
	}{
		{cfg.Digest, router.EventTimerDailyDigest},
		{cfg.Milestones, router.EventTimerMilestoneReminder},
		{cfg.Status, router.EventTimerProjectStatusCheck},
	}
	for _, t := range timers {
		if t.spec == "" {
			continue
		}
		event := t.event
		if _, err := s.cron.AddFunc(t.spec, func() { s.fire(event) }); err != nil {
			return fmt.Errorf("schedule for %s %q: %w", event, t.spec, err)
		}
	}
	if cfg.Archive != "" && s.archiver != nil {
		if _, err := s.cron.AddFunc(cfg.Archive, s.runArchive); err != nil {
			return fmt.Errorf("archive schedule %q: %w", cfg.Archive, err)
		}
	}
	return nil
}

// Start begins firing entries in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running firings to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) fire(event router.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.FireTimer(ctx, event, s.now())
}

// FireTimer routes one timer envelope per known user and returns how many
// were dispatched.
func (s *Scheduler) FireTimer(ctx context.Context, event router.Event, at time.Time) int {
	users, err := s.users.ListUserIDs(ctx)
	if err != nil {
		s.logger.Error("listing users for timer", "event", event, "error", err)
		return 0
	}

	dispatched := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			s.logger.Warn("timer firing cut short", "event", event, "error", ctx.Err())
			break
		}
		res := s.router.Route(ctx, router.Envelope{
			Event:      string(event),
			ResourceID: userID,
			UserID:     userID,
			Timestamp:  at.UTC(),
		})
		if res.Dispatched {
			dispatched++
		}
	}
	s.logger.Info("timer fired", "event", event, "users", len(users), "dispatched", dispatched)
	return dispatched
}

func (s *Scheduler) runArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.archiver.Export(ctx); err != nil {
		s.logger.Error("archiving mission logs", "error", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
