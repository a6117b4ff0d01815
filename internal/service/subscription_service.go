package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionService owns the user-to-topic mapping: subscribe,
// unsubscribe, listing, and role-based default provisioning.
type SubscriptionService struct {
	subscriptions repository.SubscriptionRepository
	logger        *zap.Logger
	now           func() time.Time
}

func NewSubscriptionService(
	subscriptions repository.SubscriptionRepository,
	logger *zap.Logger,
) (*SubscriptionService, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubscriptionService{
		subscriptions: subscriptions,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Subscribe creates or reactivates a subscription. Re-subscribing an
// already active pair is a no-op that refreshes the reason.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID, topic, reason string) (*domain.Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	userID = strings.TrimSpace(userID)
	topic = strings.TrimSpace(topic)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = domain.SubscriptionReasonUserRequested
	}

	sub := &domain.Subscription{
		ID:           uuid.NewString(),
		UserID:       userID,
		Topic:        topic,
		IsSubscribed: true,
		Reason:       reason,
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := s.subscriptions.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return sub, nil
}

// Unsubscribe soft-deactivates the pair. Unsubscribing a missing pair
// succeeds; the caller only cares that the user no longer receives the
// topic.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, userID, topic string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if err := domain.ValidateTopic(topic); err != nil {
		return err
	}

	if err := s.subscriptions.Deactivate(ctx, userID, topic); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return nil
}

// IsSubscribed reports whether the user holds an active subscription to
// the topic.
func (s *SubscriptionService) IsSubscribed(ctx context.Context, userID, topic string) (bool, error) {
	sub, err := s.subscriptions.Get(ctx, strings.TrimSpace(userID), strings.TrimSpace(topic))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sub.IsSubscribed, nil
}

// Topics lists the user's active subscriptions.
func (s *SubscriptionService) Topics(ctx context.Context, userID string) ([]domain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.subscriptions.TopicsOf(ctx, userID)
}

// Subscribers lists the active subscribers of a topic.
func (s *SubscriptionService) Subscribers(ctx context.Context, topic string) ([]string, error) {
	if err := domain.ValidateTopic(topic); err != nil {
		return nil, err
	}
	return s.subscriptions.SubscribersOf(ctx, topic)
}

// SubscribeDefaults provisions the role-default topics for a user, for
// onboarding and role changes. Failures on individual topics do not
// abort the rest.
func (s *SubscriptionService) SubscribeDefaults(ctx context.Context, userID, role string) ([]domain.Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	topics := domain.DefaultTopicsForRole(role)
	created := make([]domain.Subscription, 0, len(topics))
	var firstErr error

	for _, topic := range topics {
		sub, err := s.Subscribe(ctx, userID, topic, domain.SubscriptionReasonRoleDefault)
		if err != nil {
			s.logger.Warn("failed to provision default subscription",
				zap.String("userId", userID),
				zap.String("topic", topic),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		created = append(created, *sub)
	}

	if len(created) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return created, nil
}
