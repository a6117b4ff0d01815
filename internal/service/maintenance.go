package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dekuworks/runner-alerts/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultSubscriptionRetention = 90 * 24 * time.Hour
	defaultExpirySweepSpec       = "*/10 * * * *"
	defaultSubscriptionGCSpec    = "@daily"
)

// MaintenanceService runs the scheduled housekeeping jobs: sweeping
// overdue delivery records into EXPIRED state and purging long-dead
// unsubscribed rows.
type MaintenanceService struct {
	deliveries    repository.DeliveryRepository
	subscriptions repository.SubscriptionRepository
	cron          *cron.Cron
	logger        *zap.Logger

	subscriptionRetention time.Duration
	expirySweepSpec       string
	subscriptionGCSpec    string
	now                   func() time.Time
}

func NewMaintenanceService(
	deliveries repository.DeliveryRepository,
	subscriptions repository.SubscriptionRepository,
	subscriptionRetention time.Duration,
	logger *zap.Logger,
) (*MaintenanceService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if subscriptionRetention <= 0 {
		subscriptionRetention = defaultSubscriptionRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MaintenanceService{
		deliveries:            deliveries,
		subscriptions:         subscriptions,
		cron:                  cron.New(cron.WithLogger(cron.DiscardLogger)),
		logger:                logger,
		subscriptionRetention: subscriptionRetention,
		expirySweepSpec:       defaultExpirySweepSpec,
		subscriptionGCSpec:    defaultSubscriptionGCSpec,
		now:                   time.Now,
	}, nil
}

// Start registers the jobs and launches the scheduler.
func (s *MaintenanceService) Start() error {
	if _, err := s.cron.AddFunc(s.expirySweepSpec, func() {
		if err := s.SweepExpired(context.Background()); err != nil {
			s.logger.Warn("delivery expiry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	if _, err := s.cron.AddFunc(s.subscriptionGCSpec, func() {
		if err := s.PurgeUnsubscribed(context.Background()); err != nil {
			s.logger.Warn("subscription purge failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule subscription purge: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for running jobs to complete.
func (s *MaintenanceService) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// SweepExpired marks overdue non-terminal delivery records as EXPIRED.
func (s *MaintenanceService) SweepExpired(ctx context.Context) error {
	expired, err := s.deliveries.MarkExpiredBefore(ctx, s.now().UTC())
	if err != nil {
		return err
	}
	if expired > 0 {
		s.logger.Info("expired overdue deliveries", zap.Int64("count", expired))
	}
	return nil
}

// PurgeUnsubscribed deletes rows that have been unsubscribed longer than
// the retention window. Their reactivation history is no longer needed.
func (s *MaintenanceService) PurgeUnsubscribed(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.subscriptionRetention)
	purged, err := s.subscriptions.DeleteUnsubscribedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if purged > 0 {
		s.logger.Info("purged unsubscribed rows", zap.Int64("count", purged))
	}
	return nil
}
