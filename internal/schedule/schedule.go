// Package schedule runs the planner's periodic background jobs: the
// pattern scan, calendar reconciliation, the flow trigger sweep, and
// threshold calibration.
//
// Each job runs on its own ticker until Stop is called. A failing or
// panicking run is logged and the schedule continues; per-user work
// holds that user's lock so jobs never interleave with API writes for
// the same user.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/engine/userlock"
	"github.com/fyrsmithlabs/plannerd/internal/flow"
	"github.com/fyrsmithlabs/plannerd/internal/learning"
	"github.com/fyrsmithlabs/plannerd/internal/model"
	"github.com/fyrsmithlabs/plannerd/internal/pattern"
	"github.com/fyrsmithlabs/plannerd/internal/store"
	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
)

const (
	// DefaultScanInterval is how often the pattern scan runs.
	DefaultScanInterval = 6 * time.Hour

	// DefaultSyncInterval is how often every user's calendar links are
	// reconciled.
	DefaultSyncInterval = 4 * time.Hour

	// DefaultTriggerInterval is how often active flows are swept for
	// upcoming occurrences.
	DefaultTriggerInterval = time.Hour

	// DefaultCalibrateInterval is how often suggestion thresholds are
	// recalibrated.
	DefaultCalibrateInterval = 24 * time.Hour

	// DefaultJobTimeout bounds a single job run.
	DefaultJobTimeout = 10 * time.Minute

	// ScanLookback bounds how much scheduling history one pattern scan
	// considers. It matches the correction calibration window so both
	// learners see the same horizon.
	ScanLookback = learning.CalibrationWindow
)

// UserSource is the slice of the store the scheduler iterates.
type UserSource interface {
	ListActiveUsers(ctx context.Context) ([]model.User, error)
	ListOccurrences(ctx context.Context, userID string, since time.Time) ([]pattern.Occurrence, error)
}

// SyncHistory records reconcile outcomes. Optional; nil disables
// history.
type SyncHistory interface {
	AppendSyncLog(ctx context.Context, e store.SyncLogEntry) error
}

// Options carries the scheduler's dependencies.
type Options struct {
	Users    UserSource
	Patterns *pattern.Detector
	Flows    flow.Service
	Recon    syncrec.Service
	Learner  *learning.Service
	Locks    *userlock.Locker
	History  SyncHistory
	Logger   *zap.Logger
}

// Option tunes scheduler intervals.
type Option func(*Scheduler)

// WithScanInterval sets the pattern scan interval.
func WithScanInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.scanEvery = d }
}

// WithSyncInterval sets the reconcile interval.
func WithSyncInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.syncEvery = d }
}

// WithTriggerInterval sets the flow trigger sweep interval.
func WithTriggerInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.triggerEvery = d }
}

// WithCalibrateInterval sets the calibration interval.
func WithCalibrateInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.calibrateEvery = d }
}

// WithJobTimeout bounds a single job run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.jobTimeout = d }
}

// Scheduler owns the background job loops. Start and Stop are
// idempotent and safe to call concurrently.
type Scheduler struct {
	users    UserSource
	patterns *pattern.Detector
	flows    flow.Service
	recon    syncrec.Service
	learner  *learning.Service
	locks    *userlock.Locker
	history  SyncHistory
	logger   *zap.Logger

	scanEvery      time.Duration
	syncEvery      time.Duration
	triggerEvery   time.Duration
	calibrateEvery time.Duration
	jobTimeout     time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler. It does not start automatically;
// call Start.
func NewScheduler(opts Options, tune ...Option) (*Scheduler, error) {
	if opts.Users == nil {
		return nil, fmt.Errorf("user source is required")
	}
	if opts.Patterns == nil {
		return nil, fmt.Errorf("pattern detector is required")
	}
	if opts.Flows == nil {
		return nil, fmt.Errorf("flow service is required")
	}
	if opts.Recon == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if opts.Learner == nil {
		return nil, fmt.Errorf("learner is required")
	}
	if opts.Locks == nil {
		opts.Locks = &userlock.Locker{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Scheduler{
		users:    opts.Users,
		patterns: opts.Patterns,
		flows:    opts.Flows,
		recon:    opts.Recon,
		learner:  opts.Learner,
		locks:    opts.Locks,
		history:  opts.History,
		logger:   opts.Logger,

		scanEvery:      DefaultScanInterval,
		syncEvery:      DefaultSyncInterval,
		triggerEvery:   DefaultTriggerInterval,
		calibrateEvery: DefaultCalibrateInterval,
		jobTimeout:     DefaultJobTimeout,
	}
	for _, opt := range tune {
		opt(s)
	}
	return s, nil
}

// Start launches the job loops. Returns an error if already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("scheduler started",
		zap.Duration("pattern_scan", s.scanEvery),
		zap.Duration("periodic_sync", s.syncEvery),
		zap.Duration("flow_triggers", s.triggerEvery),
		zap.Duration("calibration", s.calibrateEvery),
	)

	stopCh := s.stopCh
	s.launch("run_pattern_scan", s.scanEvery, stopCh, s.runPatternScan)
	s.launch("run_periodic_sync", s.syncEvery, stopCh, s.runPeriodicSync)
	s.launch("run_flow_triggers", s.triggerEvery, stopCh, s.runFlowTriggers)
	s.launch("run_calibration", s.calibrateEvery, stopCh, s.runCalibration)
	return nil
}

// Stop signals every job loop and waits for them to finish. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) launch(name string, every time.Duration, stopCh <-chan struct{}, job func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.safeRun(name, job)
			case <-stopCh:
				return
			}
		}
	}()
}

// safeRun keeps one panicking job run from taking the loop down.
func (s *Scheduler) safeRun(name string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked, continuing",
				zap.String("job", name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	job()
}

func (s *Scheduler) runPatternScan() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	start := time.Now()

	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		s.logger.Error("pattern scan: listing users failed", zap.Error(err))
		return
	}

	var scanned, suggested, reinforced int
	for _, u := range users {
		err := s.locks.Do(u.ID, func() error {
			now := time.Now().UTC()
			history, err := s.users.ListOccurrences(ctx, u.ID, now.Add(-ScanLookback))
			if err != nil {
				return err
			}
			// Dominant completion hours are preference evidence even
			// when no flow candidate comes out of the same history.
			if hist := pattern.HourHistogram(history); len(hist) > 0 {
				keys, err := s.learner.ReinforceRoutine(ctx, u.ID, hist)
				if err != nil {
					return err
				}
				reinforced += len(keys)
			}
			candidates, err := s.patterns.Scan(ctx, u.ID, history, now)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return nil
			}
			touched, err := s.flows.Ingest(ctx, u.ID, candidates)
			if err != nil {
				return err
			}
			for _, f := range touched {
				if f.State == flow.StateSuggested {
					suggested++
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("pattern scan failed for user",
				zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		scanned++
	}

	s.logger.Info("pattern scan completed",
		zap.Int("users", scanned),
		zap.Int("suggested", suggested),
		zap.Int("reinforced", reinforced),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) runPeriodicSync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	start := time.Now()

	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		s.logger.Error("periodic sync: listing users failed", zap.Error(err))
		return
	}

	var reconciled int
	for _, u := range users {
		now := time.Now().UTC()
		// The remote fetch and its retries run before the user lock is
		// taken, so a slow calendar never stalls API writes.
		events, err := s.recon.EventWindow(ctx, u.ID, now)
		if err != nil {
			s.logger.Warn("calendar fetch failed for user",
				zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		err = s.locks.Do(u.ID, func() error {
			report, err := s.recon.ReconcileEvents(ctx, u.ID, now, events)
			if err != nil {
				return err
			}
			if s.history != nil {
				entry := store.SyncLogEntry{
					UserID: u.ID,
					Kind:   "reconcile",
					Detail: fmt.Sprintf("linked=%d drifted=%d orphaned=%d actions=%d",
						report.Counts[syncrec.LinkLinked],
						report.Counts[syncrec.LinkDrifted],
						report.Counts[syncrec.LinkOrphaned],
						len(report.Actions)),
				}
				if err := s.history.AppendSyncLog(ctx, entry); err != nil {
					s.logger.Warn("recording sync history failed",
						zap.String("user_id", u.ID), zap.Error(err))
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("reconcile failed for user",
				zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		reconciled++
	}

	s.logger.Info("periodic sync completed",
		zap.Int("users", reconciled),
		zap.Duration("duration", time.Since(start)),
	)
}

// runFlowTriggers sweeps all users in one pass. The sweep only reads
// flow state, registers proposals, and stamps last-triggered times, so
// it deliberately skips per-user locks; creating an item still
// requires an explicit confirmation.
func (s *Scheduler) runFlowTriggers() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	start := time.Now()

	proposed, err := s.flows.Trigger(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("flow trigger sweep failed", zap.Error(err))
		return
	}

	s.logger.Info("flow trigger sweep completed",
		zap.Int("proposed", proposed),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) runCalibration() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	start := time.Now()

	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		s.logger.Error("calibration: listing users failed", zap.Error(err))
		return
	}

	var calibrated int
	for _, u := range users {
		err := s.locks.Do(u.ID, func() error {
			report, err := s.learner.Calibrate(ctx, u.ID)
			if err != nil {
				return err
			}
			s.logger.Debug("calibrated user",
				zap.String("user_id", u.ID),
				zap.Int("corrections", report.Corrections),
				zap.Int("adjusted", len(report.Adjusted)),
				zap.Int("decayed", len(report.DecayedKeys)),
			)
			return nil
		})
		if err != nil {
			s.logger.Warn("calibration failed for user",
				zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		calibrated++
	}

	s.logger.Info("calibration completed",
		zap.Int("users", calibrated),
		zap.Duration("duration", time.Since(start)),
	)
}
