package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/pkg/cache"
	"github.com/noah-isme/coachdesk-api/pkg/config"
)

// ErrSweepInProgress is returned when another process holds the sweep lease.
var ErrSweepInProgress = errors.New("expiration sweep already running")

// Sweeper runs one expiration pass.
type Sweeper interface {
	Sweep(ctx context.Context) (*dto.SweepReport, error)
}

// Locker hands out a cross-process lease.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// ExpirationScheduler triggers the sweep on an interval. Runs inside one
// process are collapsed by singleflight; runs across replicas are serialised
// by the lease.
type ExpirationScheduler struct {
	sweeper  Sweeper
	locker   Locker
	interval time.Duration
	lockTTL  time.Duration
	lockKey  string
	logger   *zap.Logger

	group    singleflight.Group
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds the scheduler. A nil locker disables the cross-process lease.
func New(sweeper Sweeper, locker Locker, cfg config.SchedulerConfig, logger *zap.Logger) *ExpirationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	lockKey := cfg.LockKey
	if lockKey == "" {
		lockKey = "coachdesk:scheduler:expiration"
	}
	return &ExpirationScheduler{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		lockTTL:  lockTTL,
		lockKey:  lockKey,
		logger:   logger.With(zap.String("component", "expiration_scheduler")),
		stopChan: make(chan struct{}),
	}
}

// Start runs a sweep immediately and then once per interval until Stop or
// ctx is cancelled.
func (s *ExpirationScheduler) Start(ctx context.Context) {
	s.logger.Info("starting expiration scheduler", zap.Duration("interval", s.interval))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ctx)
	}()
}

// Stop waits for the loop and any in-flight sweep to finish.
func (s *ExpirationScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.logger.Info("expiration scheduler stopped")
	})
}

func (s *ExpirationScheduler) runLoop(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *ExpirationScheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Debug("sweep skipped, lease held elsewhere")
			return
		}
		s.logger.Error("expiration sweep failed", zap.Error(err))
	}
}

// RunOnce performs a single sweep. Concurrent callers share the result of
// the sweep already in flight.
func (s *ExpirationScheduler) RunOnce(ctx context.Context) (*dto.SweepReport, error) {
	v, err, _ := s.group.Do(s.lockKey, func() (interface{}, error) {
		return s.sweepWithLease(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dto.SweepReport), nil
}

func (s *ExpirationScheduler) sweepWithLease(ctx context.Context) (*dto.SweepReport, error) {
	release := func(context.Context) error { return nil }
	if s.locker != nil {
		r, err := s.locker.Acquire(ctx, s.lockKey, s.lockTTL)
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				return nil, ErrSweepInProgress
			}
			return nil, fmt.Errorf("acquire sweep lease: %w", err)
		}
		release = r
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn("failed to release sweep lease", zap.Error(err))
		}
	}()

	start := time.Now()
	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("expiration sweep completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("students_deactivated", report.StudentsDeactivated),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}
