package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/queue"
	"go.uber.org/zap"
)

// IntakeWorker drains the asynchronous alert queue into the fanout
// dispatcher.
type IntakeWorker struct {
	consumer queue.Consumer
	fanout   *FanoutService
	logger   *zap.Logger
}

func NewIntakeWorker(
	consumer queue.Consumer,
	fanout *FanoutService,
	logger *zap.Logger,
) (*IntakeWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if fanout == nil {
		return nil, fmt.Errorf("fanout service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IntakeWorker{
		consumer: consumer,
		fanout:   fanout,
		logger:   logger,
	}, nil
}

// Start consumes the intake queue until context cancellation.
func (w *IntakeWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return w.consumer.Consume(ctx, queue.AlertQueueName, w.processMessage)
}

func (w *IntakeWorker) processMessage(ctx context.Context, msg queue.AlertMessage) error {
	result, err := w.fanout.Dispatch(ctx, msg.Event())
	if err != nil {
		// Undispatchable events are acked; requeueing cannot fix them.
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("dropping undispatchable alert",
				zap.String("eventId", msg.EventID),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	w.logger.Debug("queued alert dispatched",
		zap.String("eventId", result.EventID),
		zap.Int("audience", result.AudienceSize),
	)
	return nil
}
