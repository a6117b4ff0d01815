package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dekuworks/runner-alerts/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 15 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically redelivers due RETRYING records.
type RetryScanner struct {
	deliveries repository.DeliveryRepository
	fanout     *FanoutService
	logger     *zap.Logger
	interval   time.Duration
	limit      int
	maxRetries int
	now        func() time.Time
}

func NewRetryScanner(
	deliveries repository.DeliveryRepository,
	fanout *FanoutService,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if fanout == nil {
		return nil, fmt.Errorf("fanout service is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		deliveries: deliveries,
		fanout:     fanout,
		logger:     logger,
		interval:   interval,
		limit:      limit,
		maxRetries: fanout.maxRetries,
		now:        time.Now,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	due, err := s.deliveries.FindRetryable(ctx, s.now().UTC(), s.maxRetries, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range due {
		record := due[i]
		if err := s.fanout.Redeliver(ctx, &record); err != nil {
			s.logger.Error("failed to redeliver record",
				zap.String("deliveryId", record.ID),
				zap.String("channel", record.Channel.String()),
				zap.Error(err),
			)
		}

		if ctx.Err() != nil {
			return nil
		}
	}

	return nil
}
