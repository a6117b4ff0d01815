package service

import (
	"context"
	"time"

	"github.com/dekuworks/runner-alerts/internal/audience"
	"github.com/dekuworks/runner-alerts/internal/channel"
	"github.com/dekuworks/runner-alerts/internal/domain"
	"github.com/dekuworks/runner-alerts/internal/escalation"
	"github.com/dekuworks/runner-alerts/internal/queue"
	"github.com/dekuworks/runner-alerts/internal/repository"
)

type fakeDeliveryRepo struct {
	createFn               func(ctx context.Context, r *domain.DeliveryRecord) error
	createBatchFn          func(ctx context.Context, records []*domain.DeliveryRecord) error
	getByIDFn              func(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	findByIdempotencyKeyFn func(ctx context.Context, key string) ([]domain.DeliveryRecord, error)
	findByEventIDFn        func(ctx context.Context, eventID string) ([]domain.DeliveryRecord, error)
	listFn                 func(ctx context.Context, params repository.DeliveryListParams) ([]domain.DeliveryRecord, int64, error)
	markSentFn             func(ctx context.Context, id, providerMsgID string, at time.Time) error
	markDeliveredFn        func(ctx context.Context, id string, at time.Time) error
	markOpenedFn           func(ctx context.Context, id string, at time.Time) error
	markErroredFn          func(ctx context.Context, id string, kind domain.ErrorKind, message string, nextRetryAt *time.Time) error
	claimForDispatchFn     func(ctx context.Context, id string) (bool, error)
	findRetryableFn        func(ctx context.Context, olderThan time.Time, maxRetry, limit int) ([]domain.DeliveryRecord, error)
	markExpiredBeforeFn    func(ctx context.Context, now time.Time) (int64, error)
	countByEventChannelFn  func(ctx context.Context, eventID string) ([]repository.ChannelStatusCount, error)
}

func (f *fakeDeliveryRepo) Create(ctx context.Context, r *domain.DeliveryRecord) error {
	if f.createFn != nil {
		return f.createFn(ctx, r)
	}
	return nil
}

func (f *fakeDeliveryRepo) CreateBatch(ctx context.Context, records []*domain.DeliveryRecord) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, records)
	}
	return nil
}

func (f *fakeDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDeliveryRepo) FindByIdempotencyKey(ctx context.Context, key string) ([]domain.DeliveryRecord, error) {
	if f.findByIdempotencyKeyFn != nil {
		return f.findByIdempotencyKeyFn(ctx, key)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) FindByEventID(ctx context.Context, eventID string) ([]domain.DeliveryRecord, error) {
	if f.findByEventIDFn != nil {
		return f.findByEventIDFn(ctx, eventID)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) List(ctx context.Context, params repository.DeliveryListParams) ([]domain.DeliveryRecord, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeDeliveryRepo) MarkSent(ctx context.Context, id, providerMsgID string, at time.Time) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, providerMsgID, at)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	if f.markDeliveredFn != nil {
		return f.markDeliveredFn(ctx, id, at)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkOpened(ctx context.Context, id string, at time.Time) error {
	if f.markOpenedFn != nil {
		return f.markOpenedFn(ctx, id, at)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkErrored(ctx context.Context, id string, kind domain.ErrorKind, message string, nextRetryAt *time.Time) error {
	if f.markErroredFn != nil {
		return f.markErroredFn(ctx, id, kind, message, nextRetryAt)
	}
	return nil
}

func (f *fakeDeliveryRepo) ClaimForDispatch(ctx context.Context, id string) (bool, error) {
	if f.claimForDispatchFn != nil {
		return f.claimForDispatchFn(ctx, id)
	}
	return true, nil
}

func (f *fakeDeliveryRepo) FindRetryable(ctx context.Context, olderThan time.Time, maxRetry, limit int) ([]domain.DeliveryRecord, error) {
	if f.findRetryableFn != nil {
		return f.findRetryableFn(ctx, olderThan, maxRetry, limit)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) MarkExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	if f.markExpiredBeforeFn != nil {
		return f.markExpiredBeforeFn(ctx, now)
	}
	return 0, nil
}

func (f *fakeDeliveryRepo) CountByEventChannel(ctx context.Context, eventID string) ([]repository.ChannelStatusCount, error) {
	if f.countByEventChannelFn != nil {
		return f.countByEventChannelFn(ctx, eventID)
	}
	return nil, nil
}

type fakeSubscriptionRepo struct {
	upsertFn                   func(ctx context.Context, s *domain.Subscription) error
	getFn                      func(ctx context.Context, userID, topic string) (*domain.Subscription, error)
	deactivateFn               func(ctx context.Context, userID, topic string) error
	subscribersOfFn            func(ctx context.Context, topic string) ([]string, error)
	topicsOfFn                 func(ctx context.Context, userID string) ([]domain.Subscription, error)
	recordNotifiedFn           func(ctx context.Context, userID, topic string, at time.Time) error
	deleteUnsubscribedBeforeFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (f *fakeSubscriptionRepo) Upsert(ctx context.Context, s *domain.Subscription) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, s)
	}
	return nil
}

func (f *fakeSubscriptionRepo) Get(ctx context.Context, userID, topic string) (*domain.Subscription, error) {
	if f.getFn != nil {
		return f.getFn(ctx, userID, topic)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSubscriptionRepo) Deactivate(ctx context.Context, userID, topic string) error {
	if f.deactivateFn != nil {
		return f.deactivateFn(ctx, userID, topic)
	}
	return nil
}

func (f *fakeSubscriptionRepo) SubscribersOf(ctx context.Context, topic string) ([]string, error) {
	if f.subscribersOfFn != nil {
		return f.subscribersOfFn(ctx, topic)
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) TopicsOf(ctx context.Context, userID string) ([]domain.Subscription, error) {
	if f.topicsOfFn != nil {
		return f.topicsOfFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) RecordNotified(ctx context.Context, userID, topic string, at time.Time) error {
	if f.recordNotifiedFn != nil {
		return f.recordNotifiedFn(ctx, userID, topic, at)
	}
	return nil
}

func (f *fakeSubscriptionRepo) DeleteUnsubscribedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteUnsubscribedBeforeFn != nil {
		return f.deleteUnsubscribedBeforeFn(ctx, cutoff)
	}
	return 0, nil
}

type fakeEndpointRepo struct {
	upsertFn              func(ctx context.Context, e *domain.Endpoint) error
	getActiveFn           func(ctx context.Context, userID string, channel domain.Channel) ([]domain.Endpoint, error)
	deactivateFn          func(ctx context.Context, id string) error
	deactivateByAddressFn func(ctx context.Context, channel domain.Channel, address string) error
	touchLastSeenFn       func(ctx context.Context, id string, at time.Time) error
}

func (f *fakeEndpointRepo) Upsert(ctx context.Context, e *domain.Endpoint) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, e)
	}
	return nil
}

func (f *fakeEndpointRepo) GetActive(ctx context.Context, userID string, ch domain.Channel) ([]domain.Endpoint, error) {
	if f.getActiveFn != nil {
		return f.getActiveFn(ctx, userID, ch)
	}
	return nil, nil
}

func (f *fakeEndpointRepo) Deactivate(ctx context.Context, id string) error {
	if f.deactivateFn != nil {
		return f.deactivateFn(ctx, id)
	}
	return nil
}

func (f *fakeEndpointRepo) DeactivateByAddress(ctx context.Context, ch domain.Channel, address string) error {
	if f.deactivateByAddressFn != nil {
		return f.deactivateByAddressFn(ctx, ch, address)
	}
	return nil
}

func (f *fakeEndpointRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	if f.touchLastSeenFn != nil {
		return f.touchLastSeenFn(ctx, id, at)
	}
	return nil
}

type fakeAdapter struct {
	channel   domain.Channel
	deliverFn func(ctx context.Context, endpoint domain.Endpoint, payload channel.Payload) channel.DeliveryOutcome
}

func (f *fakeAdapter) Channel() domain.Channel {
	return f.channel
}

func (f *fakeAdapter) Deliver(ctx context.Context, endpoint domain.Endpoint, payload channel.Payload) channel.DeliveryOutcome {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, endpoint, payload)
	}
	return channel.DeliveryOutcome{Success: true}
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, sources []escalation.AudienceSource, event *domain.AlertEvent) *audience.Audience
}

func (f *fakeResolver) Resolve(ctx context.Context, sources []escalation.AudienceSource, event *domain.AlertEvent) *audience.Audience {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, sources, event)
	}
	return audience.NewAudience()
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel string) (bool, error)
	waitFn  func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.AlertMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.AlertMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}
