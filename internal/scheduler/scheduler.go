// Package scheduler runs the periodic retry sweep. Several schedulers may
// run at once; per-event locks keep them from delivering the same event twice.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	whredis "github.com/marcelsud/webhook-dispatch/webhook/redis"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	StatusIdle     = "idle"
	StatusSweeping = "sweeping"
)

// Sweeper delivers every event whose retry time has passed
type Sweeper interface {
	DeliverDueRetries(ctx context.Context) (int, error)
}

// HeartbeatWriter publishes scheduler liveness
type HeartbeatWriter interface {
	SetSchedulerHeartbeat(ctx context.Context, hb whredis.SchedulerHeartbeat) error
	RemoveSchedulerHeartbeat(ctx context.Context, schedulerID string) error
}

type Config struct {
	// Spec is a cron expression or descriptor, e.g. "@every 10s"
	Spec          string
	HeartbeatSpec string
}

type Scheduler struct {
	id        string
	hostname  string
	sweeper   Sweeper
	beats     HeartbeatWriter
	logger    zerolog.Logger
	cron      *cron.Cron
	sweep     cron.Schedule
	heartbeat cron.Schedule

	mu            sync.Mutex
	status        string
	lastSweepAt   time.Time
	lastAttempted int
}

// New validates the schedules. beats may be nil when Redis is disabled.
func New(sweeper Sweeper, beats HeartbeatWriter, logger zerolog.Logger, cfg Config) (*Scheduler, error) {
	sweep, err := cron.ParseStandard(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", cfg.Spec, err)
	}

	s := &Scheduler{
		id:      uuid.New().String(),
		sweeper: sweeper,
		beats:   beats,
		sweep:   sweep,
		status:  StatusIdle,
	}
	s.hostname, _ = os.Hostname()
	s.logger = logger.With().Str("component", "scheduler").Str("scheduler_id", s.id).Logger()

	if beats != nil {
		spec := cfg.HeartbeatSpec
		if spec == "" {
			spec = "@every 15s"
		}
		if s.heartbeat, err = cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("parsing heartbeat schedule %q: %w", spec, err)
		}
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	return s, nil
}

// ID identifies this scheduler in heartbeats and logs
func (s *Scheduler) ID() string {
	return s.id
}

// Run blocks until ctx is done, then waits for a running sweep to finish
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Schedule(s.sweep, cron.FuncJob(func() { s.Sweep(ctx) }))
	if s.beats != nil {
		s.cron.Schedule(s.heartbeat, cron.FuncJob(func() { s.beat(ctx) }))
		s.beat(ctx)
	}

	s.cron.Start()
	s.logger.Info().Msg("scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()

	if s.beats != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.beats.RemoveSchedulerHeartbeat(stopCtx, s.id); err != nil {
			s.logger.Warn().Err(err).Msg("removing heartbeat")
		}
	}
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// Sweep runs one retry pass and returns how many attempts it made
func (s *Scheduler) Sweep(ctx context.Context) int {
	s.mu.Lock()
	s.status = StatusSweeping
	s.mu.Unlock()
	if s.beats != nil {
		s.beat(ctx)
	}
	start := time.Now()

	n, err := s.sweeper.DeliverDueRetries(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("retry sweep failed")
	} else if n > 0 {
		s.logger.Info().Int("attempted", n).Dur("duration", time.Since(start)).Msg("retry sweep finished")
	}

	s.mu.Lock()
	s.status = StatusIdle
	s.lastSweepAt = time.Now().UTC()
	s.lastAttempted = n
	s.mu.Unlock()

	if s.beats != nil {
		s.beat(ctx)
	}
	return n
}

// Heartbeat is the current liveness record of this scheduler
func (s *Scheduler) Heartbeat() whredis.SchedulerHeartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return whredis.SchedulerHeartbeat{
		SchedulerID:   s.id,
		Hostname:      s.hostname,
		Status:        s.status,
		LastSweepAt:   s.lastSweepAt,
		LastAttempted: s.lastAttempted,
		LastHeartbeat: time.Now().UTC(),
	}
}

func (s *Scheduler) beat(ctx context.Context) {
	if err := s.beats.SetSchedulerHeartbeat(ctx, s.Heartbeat()); err != nil {
		s.logger.Warn().Err(err).Msg("publishing heartbeat")
	}
}

// cronLogger routes cron's own messages through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
