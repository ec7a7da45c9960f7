package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
)

// flowSweeper drops aged login flows.
type flowSweeper interface {
	SweepStale() int
}

// SweeperConfig holds the maintenance schedule.
type SweeperConfig struct {
	SweepInterval time.Duration
	CleanupEvery  time.Duration
	TempMaxAge    time.Duration
}

// Sweeper runs the periodic maintenance jobs: registry and login flow
// sweeps, auto-cancel of stuck verifications and temp session cleanup.
type Sweeper struct {
	verification domain.VerificationUseCase
	registry     *Registry
	flows        flowSweeper
	sessions     domain.SessionStore
	cfg          SweeperConfig
	logger       zerolog.Logger

	cron           *cron.Cron
	cleanupEnabled atomic.Bool
}

// NewSweeper creates the maintenance scheduler
func NewSweeper(
	verification domain.VerificationUseCase,
	registry *Registry,
	flows flowSweeper,
	sessions domain.SessionStore,
	cfg SweeperConfig,
	logger zerolog.Logger,
) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = 4 * time.Hour
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = 24 * time.Hour
	}

	s := &Sweeper{
		verification: verification,
		registry:     registry,
		flows:        flows,
		sessions:     sessions,
		cfg:          cfg,
		logger:       logger.With().Str("component", "sweeper").Logger(),
		cron:         cron.New(),
	}
	s.cleanupEnabled.Store(true)
	return s
}

// Start schedules and starts the maintenance jobs.
func (s *Sweeper) Start() error {
	every := fmt.Sprintf("@every %s", s.cfg.SweepInterval)

	if _, err := s.cron.AddFunc(every, s.sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(every, s.autoCancel); err != nil {
		return fmt.Errorf("schedule auto-cancel: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.CleanupEvery), s.cleanup); err != nil {
		return fmt.Errorf("schedule session cleanup: %w", err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("sweep_interval", s.cfg.SweepInterval.String()).
		Str("cleanup_every", s.cfg.CleanupEvery.String()).
		Msg("Maintenance jobs started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish or the
// context to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Timeout waiting for maintenance jobs to finish")
	}
}

// SetCleanupEnabled toggles the periodic temp session cleanup.
func (s *Sweeper) SetCleanupEnabled(enabled bool) {
	s.cleanupEnabled.Store(enabled)
	s.logger.Info().Bool("enabled", enabled).Msg("Session cleanup toggled")
}

// CleanupEnabled reports whether temp session cleanup is active.
func (s *Sweeper) CleanupEnabled() bool {
	return s.cleanupEnabled.Load()
}

func (s *Sweeper) sweep() {
	if n := s.registry.Sweep(); n > 0 {
		s.logger.Info().Int("count", n).Msg("Removed aged background tasks")
	}
	if n := s.flows.SweepStale(); n > 0 {
		s.logger.Info().Int("count", n).Msg("Removed aged login flows")
	}
}

func (s *Sweeper) autoCancel() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.verification.AutoCancelStale(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Auto-cancel sweep failed")
	}
}

func (s *Sweeper) cleanup() {
	if !s.cleanupEnabled.Load() {
		return
	}

	removed, err := s.sessions.CleanupTemp(s.cfg.TempMaxAge)
	if err != nil {
		s.logger.Error().Err(err).Msg("Session cleanup failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Cleaned up stale temp sessions")
	}
}
