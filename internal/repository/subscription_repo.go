package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dekuworks/runner-alerts/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	Upsert(ctx context.Context, s *domain.Subscription) error
	Get(ctx context.Context, userID, topic string) (*domain.Subscription, error)
	Deactivate(ctx context.Context, userID, topic string) error
	SubscribersOf(ctx context.Context, topic string) ([]string, error)
	TopicsOf(ctx context.Context, userID string) ([]domain.Subscription, error)
	RecordNotified(ctx context.Context, userID, topic string, at time.Time) error
	DeleteUnsubscribedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

// Upsert inserts a subscription row or reactivates the existing
// (user, topic) row. Subscribing twice is idempotent: the original row
// is reused and only is_subscribed, reason, and updated_at change.
func (r *GormSubscriptionRepo) Upsert(ctx context.Context, s *domain.Subscription) error {
	model := subscriptionModelFromDomain(s)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "topic"}},
			DoUpdates: clause.Assignments(map[string]any{
				"is_subscribed": model.IsSubscribed,
				"reason":        model.Reason,
				"updated_at":    time.Now().UTC(),
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	// Re-read so callers observe the surviving row, not the candidate.
	stored, getErr := r.Get(ctx, model.UserID, model.Topic)
	if getErr != nil {
		return getErr
	}
	if s != nil {
		*s = *stored
	}
	return nil
}

func (r *GormSubscriptionRepo) Get(ctx context.Context, userID, topic string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND topic = ?", userID, topic).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}

// Deactivate soft-unsubscribes: the row stays so a later re-subscribe
// reuses it and keeps its notification history.
func (r *GormSubscriptionRepo) Deactivate(ctx context.Context, userID, topic string) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("user_id = ? AND topic = ?", userID, topic).
		Updates(map[string]any{
			"is_subscribed": false,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) SubscribersOf(ctx context.Context, topic string) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("topic = ? AND is_subscribed = ?", topic, true).
		Distinct().
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

func (r *GormSubscriptionRepo) TopicsOf(ctx context.Context, userID string) ([]domain.Subscription, error) {
	var models []SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("topic ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(models))
	for i := range models {
		subs = append(subs, *subscriptionModelToDomain(&models[i]))
	}
	return subs, nil
}

// RecordNotified bumps delivery bookkeeping on the (user, topic) row.
// A missing row is not an error: explicit and role recipients may have
// no subscription backing the delivery.
func (r *GormSubscriptionRepo) RecordNotified(ctx context.Context, userID, topic string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("user_id = ? AND topic = ?", userID, topic).
		Updates(map[string]any{
			"notification_count":        gorm.Expr("notification_count + 1"),
			"last_notification_sent_at": at,
			"updated_at":                at,
		}).Error
}

// DeleteUnsubscribedBefore garbage-collects rows that have been
// unsubscribed since before the cutoff.
func (r *GormSubscriptionRepo) DeleteUnsubscribedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("is_subscribed = ? AND updated_at < ?", false, cutoff).
		Delete(&SubscriptionModel{})
	return result.RowsAffected, result.Error
}
