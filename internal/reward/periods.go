package reward

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tapreward/server/internal/metrics"
	"github.com/tapreward/server/internal/model"
	"github.com/tapreward/server/internal/repo"
)

// DefaultPeriodDuration is how long a started period accepts claims.
const DefaultPeriodDuration = 10 * time.Minute

// PeriodService opens and closes reward periods. At most one period is active at a time.
type PeriodService struct {
	periods  repo.PeriodRepo
	now      func() time.Time
	duration time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// PeriodConfig configures a PeriodService. A zero Duration opens open-ended periods
// that run until stopped; a negative one uses DefaultPeriodDuration.
type PeriodConfig struct {
	Duration     time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

func NewPeriodService(periods repo.PeriodRepo, cfg PeriodConfig) *PeriodService {
	if cfg.Duration < 0 {
		cfg.Duration = DefaultPeriodDuration
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PeriodService{
		periods:  periods,
		now:      cfg.Now,
		duration: cfg.Duration,
		timeout:  cfg.StoreTimeout,
		metrics:  cfg.Metrics,
	}
}

// Duration reports the configured period length. Zero means open-ended.
func (s *PeriodService) Duration() time.Duration { return s.duration }

// Start ends any open period and opens a new one attributed to openedBy.
func (s *PeriodService) Start(ctx context.Context, openedBy string) (model.RewardPeriod, error) {
	openedBy = strings.TrimSpace(openedBy)
	if openedBy == "" {
		return model.RewardPeriod{}, ErrOpenedByRequired
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	period, err := s.periods.Start(ctx, openedBy, s.now(), s.duration)
	if err != nil {
		return model.RewardPeriod{}, fmt.Errorf("%w: start period: %w", ErrInternal, err)
	}
	s.metrics.PeriodStarted()
	slog.Info("reward period started", "period_id", period.ID, "opened_by", openedBy, "ends_at", period.EndedAt)
	return period, nil
}

// Stop closes the active period. It reports false when none was open.
func (s *PeriodService) Stop(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stopped, err := s.periods.Stop(ctx, s.now())
	if err != nil {
		return false, fmt.Errorf("%w: stop period: %w", ErrInternal, err)
	}
	if stopped {
		s.metrics.PeriodStopped()
		slog.Info("reward period stopped")
	}
	return stopped, nil
}

// Active returns the period accepting claims now, or nil.
func (s *PeriodService) Active(ctx context.Context) (*model.RewardPeriod, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	period, err := s.periods.GetActive(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: active period: %w", ErrInternal, err)
	}
	return period, nil
}

// Latest returns the most recently started period regardless of state, or nil.
func (s *PeriodService) Latest(ctx context.Context) (*model.RewardPeriod, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	recent, err := s.periods.ListRecent(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: latest period: %w", ErrInternal, err)
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}
