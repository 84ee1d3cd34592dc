package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/veldtlabs/doorman/internal/doorman/store"
)

// HousekeepingService periodically deletes expired invites and session
// records nobody has touched in a long time, keeping both tables bounded.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// SessionRetention is how long an untouched session record survives.
	SessionRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the service. Zero interval defaults to one
// hour, zero retention to thirty days.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &HousekeepingService{
		Store:            st,
		Logger:           logger,
		Interval:         interval,
		SessionRetention: retention,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts the worker down, blocking until any in-progress cleanup ends.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run once immediately on startup.
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup runs each deletion independently so one failure does not stop the
// others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()

	if err := s.Store.Invites().DeleteExpired(ctx); err != nil {
		s.Logger.Error("failed to delete expired invites", "error", err)
	} else {
		s.Logger.Debug("deleted expired invites")
	}

	cutoff := time.Now().Add(-s.SessionRetention)
	if err := s.Store.Sessions().DeleteIdleSince(ctx, cutoff); err != nil {
		s.Logger.Error("failed to delete idle session records", "error", err)
	} else {
		s.Logger.Debug("deleted idle session records", "cutoff", cutoff)
	}
}
