package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/larkvale/pulsenote/internal/models"
	"github.com/larkvale/pulsenote/pkg/logger"
)

const (
	defaultReadRetentionDays = 90
	defaultMaxAgeDays        = 180
	defaultSweepSchedule     = "@daily"
)

// Sweeper prunes delivered notifications so the store does not grow without
// bound: read notifications past their retention window and anything older
// than the hard age cap, read or not.
type Sweeper struct {
	db   *gorm.DB
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	readRetentionDays int
	maxAgeDays        int
	schedule          string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(sweeper *Sweeper) {
		if c != nil {
			sweeper.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(sweeper *Sweeper) {
		if now != nil {
			sweeper.now = now
		}
	}
}

// WithReadRetentionDays adjusts how long read notifications are kept.
func WithReadRetentionDays(days int) Option {
	return func(sweeper *Sweeper) {
		if days > 0 {
			sweeper.readRetentionDays = days
		}
	}
}

// WithMaxAgeDays adjusts the hard cap on notification age.
func WithMaxAgeDays(days int) Option {
	return func(sweeper *Sweeper) {
		if days > 0 {
			sweeper.maxAgeDays = days
		}
	}
}

// WithSchedule overrides the cron specification for the sweep.
func WithSchedule(spec string) Option {
	return func(sweeper *Sweeper) {
		if spec != "" {
			sweeper.schedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:                db,
		now:               time.Now,
		readRetentionDays: defaultReadRetentionDays,
		maxAgeDays:        defaultMaxAgeDays,
		schedule:          defaultSweepSchedule,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the sweep with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("notification sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// SweepStats captures the number of records removed per rule.
type SweepStats struct {
	ReadExpired int64
	AgedOut     int64
}

// RunOnce executes one sweep. Used by the scheduled job, tests, and graceful
// shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep deletes expired notifications and reports what was removed.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	stats := SweepStats{}
	if s.db == nil {
		return stats, nil
	}

	now := s.now()
	var errs error

	if s.readRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.readRetentionDays)
		result := s.db.WithContext(ctx).
			Where("is_read = ? AND read_at < ?", true, cutoff).
			Delete(&models.Notification{})
		if result.Error != nil {
			errs = multierr.Append(errs, result.Error)
		} else {
			stats.ReadExpired = result.RowsAffected
		}
	}

	if s.maxAgeDays > 0 {
		cutoff := now.AddDate(0, 0, -s.maxAgeDays)
		result := s.db.WithContext(ctx).
			Where("created_at < ?", cutoff).
			Delete(&models.Notification{})
		if result.Error != nil {
			errs = multierr.Append(errs, result.Error)
		} else {
			stats.AgedOut = result.RowsAffected
		}
	}

	if stats.ReadExpired > 0 || stats.AgedOut > 0 {
		s.log.Info("notification sweep completed",
			zap.Int64("read_expired", stats.ReadExpired),
			zap.Int64("aged_out", stats.AgedOut),
		)
	}

	return stats, errs
}
