package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/maelcorre/fleetdesk/internal/realtime"
	"github.com/maelcorre/fleetdesk/internal/services"
	"github.com/maelcorre/fleetdesk/pkg/logger"
	"github.com/maelcorre/fleetdesk/pkg/metrics"
)

const (
	defaultInactivityTimeout = 5 * time.Minute
	defaultPresenceSpec      = "@every 1m"
	defaultExpirySpec        = "@hourly"
)

// ConnectionCloser closes the transport-side connection for a swept presence
// entry. Satisfied by *realtime.Hub.
type ConnectionCloser interface {
	Disconnect(connectionID string)
}

// Sweeper coordinates the two timeout-driven jobs of the notification core:
// removing stale presence entries and deleting notifications past their expiry
// date. Both run independently of any specific connection's lifecycle.
type Sweeper struct {
	registry      *realtime.Registry
	notifications *services.NotificationService
	connections   ConnectionCloser
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger

	inactivityTimeout time.Duration
	presenceSchedule  string
	expirySchedule    string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInactivityTimeout adjusts how long a silent connection survives.
func WithInactivityTimeout(timeout time.Duration) Option {
	return func(s *Sweeper) {
		if timeout > 0 {
			s.inactivityTimeout = timeout
		}
	}
}

// WithPresenceSchedule overrides the cron specification for the presence sweep.
func WithPresenceSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.presenceSchedule = spec
		}
	}
}

// WithConnectionCloser wires the transport layer so swept presence entries get
// their sockets closed instead of lingering until the client gives up.
func WithConnectionCloser(closer ConnectionCloser) Option {
	return func(s *Sweeper) {
		if closer != nil {
			s.connections = closer
		}
	}
}

// WithExpirySchedule overrides the cron specification for the expiry sweep.
func WithExpirySchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.expirySchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. A nil dependency
// results in the corresponding job being skipped.
func NewSweeper(registry *realtime.Registry, notifications *services.NotificationService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		registry:          registry,
		notifications:     notifications,
		now:               time.Now,
		inactivityTimeout: defaultInactivityTimeout,
		presenceSchedule:  defaultPresenceSpec,
		expirySchedule:    defaultExpirySpec,
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

// Start registers the sweep jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.registry != nil {
		if _, err := s.cron.AddFunc(s.presenceSchedule, s.sweepPresence); err != nil {
			return err
		}
	}

	if s.notifications != nil {
		if _, err := s.cron.AddFunc(s.expirySchedule, func() {
			if _, err := s.sweepExpired(context.Background()); err != nil {
				s.log.Warn("expiry sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
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

// RunOnce executes both sweeps sequentially. Used in tests and during graceful
// shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.registry != nil {
		s.sweepPresence()
	}

	if s.notifications != nil {
		if _, err := s.sweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (s *Sweeper) sweepPresence() {
	removed := s.registry.Sweep(s.inactivityTimeout)
	if len(removed) == 0 {
		return
	}

	if s.connections != nil {
		for _, id := range removed {
			s.connections.Disconnect(id)
		}
	}

	metrics.SweptConnections.Add(float64(len(removed)))
	s.log.Info("presence sweep removed stale connections", zap.Int("removed", len(removed)))
}

func (s *Sweeper) sweepExpired(ctx context.Context) (int64, error) {
	removed, err := s.notifications.CleanupExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("expiry sweep removed notifications", zap.Int64("removed", removed))
	}
	return removed, nil
}
